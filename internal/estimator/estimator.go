// Package estimator maintains the online mean/std estimators for
// rewards and each observed-state coordinate, used to normalize
// learning signals across a distributed, multi-threaded data set.
package estimator

import (
	"context"
	"math"

	"github.com/cartridge/replayproc/internal/fold"
	"github.com/cartridge/replayproc/internal/reducer"
	"github.com/cartridge/replayproc/internal/replaymemory"
)

// Moments holds the mean/std/inverse-std triple for a scalar quantity
// (reward) and, separately, one triple per observed-state coordinate.
type Moments struct {
	MeanR    float64
	StdR     float64
	InvStdR  float64
	MeanS    []float64
	StdS     []float64
	InvStdS  []float64
}

// NewMoments returns the neutral prior: mean 0, std 1, matching
// construction-time initialization of the aggregates.
func NewMoments(dimS int) Moments {
	m := Moments{StdR: 1, InvStdR: 1, MeanS: make([]float64, dimS), StdS: make([]float64, dimS), InvStdS: make([]float64, dimS)}
	for k := range m.StdS {
		m.StdS[k] = 1
		m.InvStdS[k] = 1
	}
	return m
}

// Estimator owns the reward/state moment aggregates and the seen-data
// counters mirrored from the reducer.
type Estimator struct {
	DimS int
	M    Moments

	statsReducer  reducer.Reducer[float64]
	countReducer  reducer.Reducer[int64]

	NSeenEpisodes   int64
	NSeenTransitions int64
}

// New constructs an Estimator over the given reducers. statsReducer
// carries the (2*dimS+3)-length moment vector; countReducer carries
// the [nSeenEpisodes, nSeenTransitions] pair.
func New(dimS int, statsReducer reducer.Reducer[float64], countReducer reducer.Reducer[int64]) *Estimator {
	return &Estimator{DimS: dimS, M: NewMoments(dimS), statsReducer: statsReducer, countReducer: countReducer}
}

// Update runs one moment-estimator step: it always refreshes the
// monotonic seen-data counters, and when training and at least one of
// WR/WS is positive, folds the episode collection, submits the
// centered sums to the reducer, and applies the learning-rate-weighted
// update with the (2*eta - eta^2) correction and the epsilon variance
// clamp.
func (e *Estimator) Update(ctx context.Context, rm replaymemory.ReplayMemory, wr, ws float64, bTrain, bInit bool, nSeenEpisodesLocal, nSeenTransitionsLocal int64) error {
	e.countReducer.Submit([]int64{nSeenEpisodesLocal, nSeenTransitionsLocal})
	counts, err := e.countReducer.Get(ctx, bInit)
	if err != nil {
		return err
	}
	e.NSeenEpisodes, e.NSeenTransitions = counts[0], counts[1]

	if !bTrain {
		return nil
	}
	if wr <= 0 && ws <= 0 {
		return nil
	}

	acc, err := fold.Moments(ctx, rm, e.DimS, e.M.MeanR, e.M.MeanS, ws > 0)
	if err != nil {
		return err
	}

	vec := make([]float64, 0, 2*e.DimS+3)
	vec = append(vec, acc.SumS...)
	vec = append(vec, acc.SumSqS...)
	vec = append(vec, acc.Count, acc.SumR, acc.SumSqR)
	e.statsReducer.Submit(vec)

	global, err := e.statsReducer.Get(ctx, bInit)
	if err != nil {
		return err
	}
	count := global[2*e.DimS]
	if count <= 0 {
		return nil
	}

	if wr > 0 {
		evar := global[2*e.DimS+1] / count
		evar2 := global[2*e.DimS+2] / count
		updateStat(&e.M.MeanR, &e.M.StdR, &e.M.InvStdR, wr, evar, evar2)
	}

	if ws > 0 {
		sSum1 := global[0:e.DimS]
		sSum2 := global[e.DimS : 2*e.DimS]
		for k := 0; k < e.DimS; k++ {
			evar := sSum1[k] / count
			evar2 := sSum2[k] / count
			updateStat(&e.M.MeanS[k], &e.M.StdS[k], &e.M.InvStdS[k], ws, evar, evar2)
		}
	}

	return nil
}

// updateStat applies the online mean/std update described in the
// design: mean shifts by eta times the centered first moment, the
// variance is the centered second moment corrected for the drift
// between old and new mean, clamped at machine epsilon to guard
// against catastrophic-cancellation negatives.
func updateStat(mean, std, invStd *float64, eta, evar, evar2 float64) {
	*mean += eta * evar
	variance := evar2 - evar*evar*(2*eta-eta*eta)
	variance = math.Max(variance, epsilon)
	*std += eta * (math.Sqrt(variance) - *std)
	*invStd = 1 / *std
}

// epsilon is the machine epsilon of float64, standing in for the
// "storage float type" referenced in the design; Go has a single
// native floating point width here so there is no separate narrower
// storage type to clamp against.
const epsilon = 2.220446049250313e-16
