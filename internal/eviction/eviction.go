// Package eviction implements the episode-eviction policy: it
// recomputes per-episode scores, selects an episode to delete under
// one of four interchangeable strategies, guards against deleting
// newest data, and instructs the replay memory to remove the episode
// and the sampler to re-prepare.
package eviction

import (
	"context"
	"errors"
	"fmt"

	"github.com/cartridge/replayproc/internal/fold"
	"github.com/cartridge/replayproc/internal/replaymemory"
)

// Algorithm selects which extremum drives deletion.
type Algorithm int

const (
	Oldest Algorithm = iota
	FarPolFrac
	MaxKLDiv
	BatchRL
)

// ErrClipScheduleInvalid is a fatal configuration error: the clip
// schedule produced CMax <= 1 while the configured clip bound implies
// ReF-ER should be active.
var ErrClipScheduleInvalid = errors.New("eviction: clip schedule produced CMax <= 1 with C > 0")

// Config holds the planner's static configuration.
type Config struct {
	Algorithm        Algorithm
	ClipImpWeight    float64 // C
	PenalTol         float64 // D
	EpsAnneal        float64 // E
	MaxTotObsNumLocal float64 // N_max_local
	RecomputeEvery   int     // amortize per-episode recompute; 0 is replaced by 100 in New
}

// Planner holds the mutable state carried across Plan calls: the clip
// bounds, the invocation counter driving the recompute cadence, the
// derived bookkeeping fields mirrored into metrics, and the pending
// deletion candidate.
type Planner struct {
	cfg Config

	CMax float64
	CInv float64

	gradSteps int

	AvgKLDivergence    float64
	NFarPolicySteps    int
	OldestTimestamp    int64
	NPruned            int

	candidate int // slot index of the pending deletion candidate, -1 if none
}

// New constructs a Planner. RecomputeEvery defaults to 100 (the
// design's amortization cadence) if left at zero.
func New(cfg Config) *Planner {
	if cfg.RecomputeEvery == 0 {
		cfg.RecomputeEvery = 100
	}
	return &Planner{cfg: cfg, candidate: -1}
}

// annealRate is a monotone schedule from 0 to c as g -> infinity.
func annealRate(c float64, g int, e float64) float64 {
	if e <= 0 {
		return c
	}
	return c * (1 - 1/(1+float64(g)*e))
}

// updateClipSchedule recomputes CMax/CInv for the current grad-step
// count and transition total, per Algorithm.
func (p *Planner) updateClipSchedule(nTransitions int) error {
	c := p.cfg.ClipImpWeight
	if p.cfg.Algorithm == BatchRL {
		maxObsNum := p.cfg.MaxTotObsNumLocal
		factorUp := 1.0
		if maxObsNum > 0 {
			f := float64(nTransitions) / maxObsNum
			if f > factorUp {
				factorUp = f
			}
		}
		p.CMax = 1 + annealRate(c, p.gradSteps+1, p.cfg.EpsAnneal)*factorUp
	} else {
		p.CMax = 1 + c
	}
	p.CInv = 1 / p.CMax

	if p.CMax <= 1 && c > 0 {
		return ErrClipScheduleInvalid
	}
	return nil
}

// assertMonotonicIDs panics if episode IDs are not strictly increasing
// by slot order. The race guard's staleness check (oldest ID plus set
// size against the candidate ID) is only sound when insertion order
// and ID order agree; a violation means a caller assigned IDs out of
// order or removal corrupted slot ordering, both programming errors.
func assertMonotonicIDs(rm replaymemory.ReplayMemory, setSize int) {
	var prev int64
	for i := 0; i < setSize; i++ {
		ep, err := rm.Get(i)
		if err != nil {
			panic(fmt.Sprintf("eviction: episode %d unreachable during monotonicity check: %v", i, err))
		}
		if i > 0 && ep.ID <= prev {
			panic(fmt.Sprintf("eviction: episode IDs not monotonically increasing at slot %d: %d <= %d", i, ep.ID, prev))
		}
		prev = ep.ID
	}
}

// Plan runs one eviction-planning step: the clip schedule, the
// amortized per-episode recompute, the four-selector fold, the
// bookkeeping fields, the chosen algorithm's candidate, and the race
// guard. It does not perform removal — see Commit.
func (p *Planner) Plan(ctx context.Context, rm replaymemory.ReplayMemory) error {
	p.gradSteps++
	nData := rm.ReadNData()
	if err := p.updateClipSchedule(nData); err != nil {
		return err
	}

	setSize := rm.ReadNSeq()
	if setSize == 0 {
		p.candidate = -1
		return nil
	}

	assertMonotonicIDs(rm, setSize)

	recompute := p.gradSteps%p.cfg.RecomputeEvery == 0
	sel, err := fold.Select(ctx, rm, p.CMax, p.CInv, p.cfg.PenalTol, recompute)
	if err != nil {
		return err
	}

	if p.CMax <= 1 {
		p.NFarPolicySteps = 0
	} else {
		p.NFarPolicySteps = sel.Scalars.NFarPolicy
	}
	p.AvgKLDivergence = sel.Scalars.TotalDKL / float64(nData)
	rm.SetAvgCumulativeReward(sel.Scalars.TotalR / float64(setSize))
	p.OldestTimestamp = sel.Oldest.ID

	// Selector index out of range is a programming-error invariant, not
	// an expected runtime condition: every non-empty collection folds
	// to a valid candidate on every selector unless a selector's
	// combine logic is broken.
	if sel.Oldest.Index < 0 || sel.Oldest.Index >= setSize ||
		sel.MostFar.Index < 0 || sel.MostFar.Index >= setSize ||
		sel.HighKL.Index < 0 || sel.HighKL.Index >= setSize ||
		sel.MostOff.Index < 0 || sel.MostOff.Index >= setSize {
		panic(fmt.Sprintf("eviction: selector index out of range over %d episodes: oldest=%d mostFar=%d highKL=%d mostOff=%d",
			setSize, sel.Oldest.Index, sel.MostFar.Index, sel.HighKL.Index, sel.MostOff.Index))
	}

	var chosen fold.Candidate
	switch p.cfg.Algorithm {
	case Oldest:
		chosen = sel.Oldest
	case FarPolFrac:
		chosen = sel.MostFar
	case MaxKLDiv:
		chosen = sel.HighKL
	case BatchRL:
		chosen = sel.MostOff
	default:
		return fmt.Errorf("eviction: unknown algorithm %d", p.cfg.Algorithm)
	}

	// Race guard: if the chosen candidate is far newer than the oldest
	// episode by more than the current collection size, the collection
	// shifted mid-selection; fall back to the oldest episode rather
	// than risk erasing in-flight data.
	if sel.Oldest.ID+int64(setSize) < chosen.ID {
		chosen = sel.Oldest
	}

	p.candidate = chosen.Index
	return nil
}

// Commit clears the previous sampler markers, performs the deferred
// removal guarded by the two-sided cap comparison, and notifies the
// sampler to rebuild its distribution.
func (p *Planner) Commit(rm replaymemory.ReplayMemory) error {
	for _, i := range rm.LastSampledEpisodes() {
		ep, err := rm.Get(i)
		if err != nil {
			return err
		}
		ep.JustSampled = -1
	}
	for i := 0; i < rm.ReadNSeq(); i++ {
		ep, err := rm.Get(i)
		if err != nil {
			return err
		}
		if ep.JustSampled >= 0 {
			panic(fmt.Sprintf("eviction: episode %d still marked sampled after clear", i))
		}
	}

	if p.candidate >= 0 {
		ep, err := rm.Get(p.candidate)
		if err != nil {
			return err
		}
		// Two-sided guard: compare post-deletion size against the cap,
		// not the pre-deletion size. Using "Nobs > cap" would delete a
		// single episode longer than the cap on arrival and collapse
		// the buffer.
		if float64(rm.ReadNData()-ep.Ndata()) > p.cfg.MaxTotObsNumLocal {
			if err := rm.RemoveEpisode(p.candidate); err != nil {
				return err
			}
			p.NPruned++
		}
		p.candidate = -1
	}

	rm.Sampler().Prepare(true)
	return nil
}
