// Package processor is the composition root for the experience replay
// processor: it wires the moment estimator, the ReF-ER controller, and
// the eviction planner together in the ordering the design requires,
// and renders the textual metrics report.
package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cartridge/replayproc/internal/estimator"
	"github.com/cartridge/replayproc/internal/eviction"
	"github.com/cartridge/replayproc/internal/refer"
	"github.com/cartridge/replayproc/internal/replaymemory"
)

// Config collects the per-step inputs the processor's sub-components
// need; cmd/processor builds one for each Step call.
type Config struct {
	RewardWeight  float64
	StateWeight   float64
	BTrain        bool

	NSeenEpisodesLocal   int64
	NSeenTransitionsLocal int64

	NFarPolicyLocal      int64
	NTransitionsLocal    int64
}

// Processor sequences one training step's worth of updates across the
// moment estimator, the ReF-ER controller, and the eviction planner,
// and exposes the aggregates metrics readers need.
type Processor struct {
	Estimator *estimator.Estimator
	Refer     *refer.Controller
	Eviction  *eviction.Planner

	RM     replaymemory.ReplayMemory
	logger zerolog.Logger

	stepCount int
	bInit     bool
}

// New wires a Processor from its already-constructed sub-components.
func New(est *estimator.Estimator, ref *refer.Controller, evp *eviction.Planner, rm replaymemory.ReplayMemory, logger zerolog.Logger) *Processor {
	return &Processor{Estimator: est, Refer: ref, Eviction: evp, RM: rm, logger: logger}
}

// Step runs one full training-step sequence: moment update -> far-pol
// estimate / ReF-ER update -> eviction selection -> removal -> sampler
// prepare. The sequence is externally observable and must not be
// reordered, since the reducer's one-step lag assumes this exact call
// order from one step to the next.
func (p *Processor) Step(ctx context.Context, cfg Config) error {
	bInit := !p.bInit
	p.bInit = true

	if err := p.Estimator.Update(ctx, p.RM, cfg.RewardWeight, cfg.StateWeight, cfg.BTrain, bInit,
		cfg.NSeenEpisodesLocal, cfg.NSeenTransitionsLocal); err != nil {
		return fmt.Errorf("processor: moment update: %w", err)
	}

	if _, err := p.Refer.Update(ctx, cfg.NFarPolicyLocal, cfg.NTransitionsLocal); err != nil {
		return fmt.Errorf("processor: refer update: %w", err)
	}

	if err := p.Eviction.Plan(ctx, p.RM); err != nil {
		return fmt.Errorf("processor: eviction plan: %w", err)
	}

	if err := p.Eviction.Commit(p.RM); err != nil {
		return fmt.Errorf("processor: eviction commit: %w", err)
	}

	p.stepCount++
	return nil
}

// Header renders the column header row matching Report's column
// order, including the trailing beta column only when ReF-ER is active
// (CMax > 1).
func (p *Processor) Header() string {
	h := "|  avgR  | avgr | stdr | DKL | nEp |  nObs | totEp | totObs | oldEp |nDel|nFarP "
	if p.Eviction.CMax > 1 {
		h += "| beta "
	}
	return h
}

// Report renders the single-line metrics report: avgR, avgr, stdr,
// DKL, nEp, nObs, totEp, totObs, oldEp, nDel, nFarP, and (when ReF-ER
// is active) beta. nDel (NPruned) resets after each call.
func (p *Processor) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%9.6f", p.RM.AvgCumulativeReward())
	fmt.Fprintf(&sb, " %6.3f", p.Estimator.M.MeanR)
	fmt.Fprintf(&sb, " %6.1f", 1/p.Estimator.M.InvStdR)
	fmt.Fprintf(&sb, " %5.1f", p.Eviction.AvgKLDivergence)
	fmt.Fprintf(&sb, " %5d", p.RM.ReadNSeq())
	fmt.Fprintf(&sb, " %7d", p.RM.ReadNData())
	fmt.Fprintf(&sb, " %7d", p.Estimator.NSeenEpisodes)
	fmt.Fprintf(&sb, " %8d", p.Estimator.NSeenTransitions)
	fmt.Fprintf(&sb, " %7d", p.Eviction.OldestTimestamp)
	fmt.Fprintf(&sb, " %4d", p.Eviction.NPruned)
	fmt.Fprintf(&sb, " %6d", p.Eviction.NFarPolicySteps)
	if p.Eviction.CMax > 1 {
		fmt.Fprintf(&sb, " %6.1f", p.Refer.Beta)
	}
	p.Eviction.NPruned = 0
	return sb.String()
}
