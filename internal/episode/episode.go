// Package episode defines the trajectory representation the replay
// processor folds over: an ordered sequence of interaction steps
// produced by a distributed actor.
package episode

import "math"

// NoneSampled is the just_sampled sentinel meaning "not currently
// held out by the sampler".
const NoneSampled = -1

// Episode is an ordered sequence of interaction steps from one actor
// rollout. IDs are assigned by the owning replay memory at insertion
// time and never change afterwards, even if the episode's slot index
// shifts due to removal of older episodes.
type Episode struct {
	ID int64

	States       [][]float64 // States[j][k], dimension dimS per step
	Rewards      []float64   // Rewards[j]
	OffPolImpW   []float64   // ImpW[j] = rho_j = pi(a|s)/mu(a|s)
	Dkl          []float64   // per-step KL divergence between current and behavior policy

	// Cumulative fields, recomputed lazily by UpdateCumulative against
	// the eviction planner's current clip bounds.
	SumKLDivergence   float64
	TotalReward       float64
	NFarPolicySteps   int
	AvgClipImpWeight  float64

	JustSampled int // step index last drawn by the sampler, or NoneSampled
}

// New creates an empty episode with the given ID, ready to receive
// steps via AddStep.
func New(id int64) *Episode {
	return &Episode{ID: id, JustSampled: NoneSampled}
}

// AddStep appends one interaction step.
func (e *Episode) AddStep(state []float64, reward, impWeight, dkl float64) {
	e.States = append(e.States, state)
	e.Rewards = append(e.Rewards, reward)
	e.OffPolImpW = append(e.OffPolImpW, impWeight)
	e.Dkl = append(e.Dkl, dkl)
}

// Ndata returns the number of transitions stored in this episode.
func (e *Episode) Ndata() int {
	return len(e.Rewards)
}

// UpdateCumulative recomputes SumKLDivergence, TotalReward,
// NFarPolicySteps, and AvgClipImpWeight against the current clip
// bounds. Called on the eviction planner's periodic recompute cadence
// rather than on every step, since thresholds drift slowly relative to
// per-step cost.
func (e *Episode) UpdateCumulative(cMax, cInv float64) {
	var sumDkl, totalReward, sumClipW float64
	farPol := 0
	n := e.Ndata()
	for j := 0; j < n; j++ {
		sumDkl += e.Dkl[j]
		totalReward += e.Rewards[j]
		rho := e.OffPolImpW[j]
		if rho < cInv || rho > cMax {
			farPol++
		}
		sumClipW += clip(rho, cInv, cMax)
	}
	e.SumKLDivergence = sumDkl
	e.TotalReward = totalReward
	e.NFarPolicySteps = farPol
	if n > 0 {
		e.AvgClipImpWeight = sumClipW / float64(n)
	} else {
		e.AvgClipImpWeight = 0
	}
}

// FarPolicySteps returns the last-recomputed count of steps whose
// importance weight lies outside [cInv, cMax].
func (e *Episode) FarPolicySteps() int { return e.NFarPolicySteps }

func clip(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
