// Package refer implements the Remember-and-Forget Experience Replay
// (ReF-ER) penalty controller: a fixed-point update of two penalty
// coefficients, beta and alpha, driven by the fraction of far-policy
// samples in the replay buffer.
package refer

import (
	"context"
	"math"

	"github.com/cartridge/replayproc/internal/reducer"
)

// Controller owns the beta/alpha penalty coefficients and the far-pol
// reducer they're computed from.
type Controller struct {
	Beta  float64
	Alpha float64

	rdx reducer.Reducer[float64]

	// Config
	PenalTol      float64 // D
	BatchSize     float64 // B
	MaxTotObsNum  float64 // N_max
}

// New constructs a Controller with beta=1, alpha=0, the documented
// starting point.
func New(rdx reducer.Reducer[float64], penalTol, batchSize, maxTotObsNum float64) *Controller {
	return &Controller{Beta: 1, Alpha: 0, rdx: rdx, PenalTol: penalTol, BatchSize: batchSize, MaxTotObsNum: maxTotObsNum}
}

// Update submits the local far-policy/transition counts, reads back
// the previous global reduction (one-step lag, per the reducer
// contract), and applies the fixed-point update to Beta and Alpha.
// Returns the fraction of far-policy samples observed this step.
func (c *Controller) Update(ctx context.Context, nFarPolLocal, nTransitionsLocal int64) (float64, error) {
	c.rdx.Submit([]float64{float64(nFarPolLocal), float64(nTransitionsLocal)})
	global, err := c.rdx.Get(ctx, false)
	if err != nil {
		return 0, err
	}
	nFarGlobal, nDataGlobal := global[0], global[1]
	if nDataGlobal <= 0 {
		return 0, nil
	}
	fracOffPol := nFarGlobal / nDataGlobal

	nEff := math.Max(c.MaxTotObsNum, nDataGlobal)
	learnRefer := 0.1 * c.BatchSize / nEff

	if fracOffPol > c.PenalTol {
		c.Beta = fpToOne(c.Beta, learnRefer)
	} else {
		c.Beta = fpToZero(c.Beta, learnRefer)
	}

	if math.Abs(c.PenalTol-fracOffPol) < 1e-3 {
		c.Alpha = fpToZero(c.Alpha, learnRefer)
	} else {
		c.Alpha = fpToOne(c.Alpha, learnRefer)
	}

	return fracOffPol, nil
}

// fpToZero is the contraction on [0,1] with fixed point 0.
func fpToZero(x, eta float64) float64 {
	return (1 - math.Min(eta, x)) * x
}

// fpToOne is the contraction on [0,1] that drives x toward 1; its
// fixed point is 1/(1+eta), which tends to 1 as eta tends to 0.
func fpToOne(x, eta float64) float64 {
	return fpToZero(x, eta) + math.Min(eta, 1-x)
}
