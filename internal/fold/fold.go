// Package fold implements the parallel reduction over the episode
// collection shared by the moment estimator and the eviction planner:
// a sharded worker pool that produces moment sums in one pass
// (Moments) and the extremum selectors with the scalar reductions in
// another (Select), combined without any shared mutable state inside
// the fan-out.
package fold

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/cartridge/replayproc/internal/replaymemory"
)

// MomentAccum carries the centered moment sums for rewards and each
// observed-state coordinate, plus the transition count they were
// computed over. Sums are centered on the mean passed to Moments so
// cancellation stays bounded regardless of how large the running mean
// has grown.
type MomentAccum struct {
	Count     float64
	SumR      float64
	SumSqR    float64
	SumS      []float64
	SumSqS    []float64
}

func newMomentAccum(dimS int) MomentAccum {
	return MomentAccum{SumS: make([]float64, dimS), SumSqS: make([]float64, dimS)}
}

func (a *MomentAccum) add(b MomentAccum) {
	a.Count += b.Count
	a.SumR += b.SumR
	a.SumSqR += b.SumSqR
	for i := range a.SumS {
		a.SumS[i] += b.SumS[i]
		a.SumSqS[i] += b.SumSqS[i]
	}
}

// Moments computes centered reward and per-coordinate state moment
// sums over every transition in rm, centered on meanR and meanS. WS<=0
// skips the (more expensive) per-coordinate state accumulation.
func Moments(ctx context.Context, rm replaymemory.ReplayMemory, dimS int, meanR float64, meanS []float64, ws bool) (MomentAccum, error) {
	n := rm.ReadNSeq()
	shards := shardCount(n)
	partials := make([]MomentAccum, shards)

	g, _ := errgroup.WithContext(ctx)
	for s := 0; s < shards; s++ {
		s := s
		g.Go(func() error {
			acc := newMomentAccum(dimS)
			lo, hi := shardRange(n, shards, s)
			for i := lo; i < hi; i++ {
				ep, err := rm.Get(i)
				if err != nil {
					return err
				}
				nd := ep.Ndata()
				acc.Count += float64(nd)
				for j := 0; j < nd; j++ {
					dr := ep.Rewards[j] - meanR
					acc.SumR += dr
					acc.SumSqR += dr * dr
					if ws {
						for k := 0; k < dimS; k++ {
							ds := ep.States[j][k] - meanS[k]
							acc.SumS[k] += ds
							acc.SumSqS[k] += ds * ds
						}
					}
				}
			}
			partials[s] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MomentAccum{}, err
	}

	total := newMomentAccum(dimS)
	for _, p := range partials {
		total.add(p)
	}
	return total, nil
}

// Scalars are the plain sums taken alongside the extremum selectors:
// total far-policy step count, total KL divergence, and total reward.
type Scalars struct {
	NFarPolicy int
	TotalDKL   float64
	TotalR     float64
}

// Selection is the result of folding the four extremum selectors plus
// Scalars over the episode collection in one pass.
type Selection struct {
	Oldest  Candidate
	MostFar Candidate
	HighKL  Candidate
	MostOff Candidate
	Scalars Scalars
}

// Select runs the four extremum selectors and the scalar reductions
// over rm in parallel. If recompute is true, each episode's cumulative
// fields are refreshed against (cMax, cInv) before folding, amortizing
// that cost across many calls where recompute is false.
func Select(ctx context.Context, rm replaymemory.ReplayMemory, cMax, cInv, tol float64, recompute bool) (Selection, error) {
	n := rm.ReadNSeq()
	shards := shardCount(n)
	partials := make([]Selection, shards)

	g, _ := errgroup.WithContext(ctx)
	for s := 0; s < shards; s++ {
		s := s
		g.Go(func() error {
			sel := Selection{
				Oldest:  newSelector(oldestBetter),
				MostFar: newSelector(maxBetter),
				HighKL:  newSelector(maxBetter),
				MostOff: newSelector(minBetter),
			}
			lo, hi := shardRange(n, shards, s)
			for i := lo; i < hi; i++ {
				ep, err := rm.Get(i)
				if err != nil {
					return err
				}
				if recompute {
					ep.UpdateCumulative(cMax, cInv)
				}
				sel.Scalars.NFarPolicy += ep.FarPolicySteps()
				sel.Scalars.TotalDKL += ep.SumKLDivergence
				sel.Scalars.TotalR += ep.TotalReward

				combineOldest(&sel.Oldest, i, ep)
				combineMostFar(&sel.MostFar, i, ep)
				combineHighKL(&sel.HighKL, i, ep)
				combineMostOff(&sel.MostOff, i, ep, tol)
			}
			partials[s] = sel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Selection{}, err
	}

	out := Selection{
		Oldest:  newSelector(oldestBetter),
		MostFar: newSelector(maxBetter),
		HighKL:  newSelector(maxBetter),
		MostOff: newSelector(minBetter),
	}
	for _, p := range partials {
		out.Oldest = combineCandidates(out.Oldest, p.Oldest, oldestBetter)
		out.MostFar = combineCandidates(out.MostFar, p.MostFar, maxBetter)
		out.HighKL = combineCandidates(out.HighKL, p.HighKL, maxBetter)
		out.MostOff = combineCandidates(out.MostOff, p.MostOff, minBetter)
		out.Scalars.NFarPolicy += p.Scalars.NFarPolicy
		out.Scalars.TotalDKL += p.Scalars.TotalDKL
		out.Scalars.TotalR += p.Scalars.TotalR
	}
	return out, nil
}

func shardCount(n int) int {
	if n == 0 {
		return 1
	}
	procs := runtime.GOMAXPROCS(0)
	if procs > n {
		procs = n
	}
	if procs < 1 {
		procs = 1
	}
	return procs
}

func shardRange(n, shards, s int) (int, int) {
	base := n / shards
	rem := n % shards
	lo := s*base + min(s, rem)
	hi := lo + base
	if s < rem {
		hi++
	}
	return lo, hi
}
