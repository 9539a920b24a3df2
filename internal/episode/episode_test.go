package episode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEpisodeIsEmpty(t *testing.T) {
	ep := New(7)
	assert.Equal(t, int64(7), ep.ID)
	assert.Equal(t, 0, ep.Ndata())
	assert.Equal(t, NoneSampled, ep.JustSampled)
}

func TestAddStepAccumulates(t *testing.T) {
	ep := New(1)
	ep.AddStep([]float64{1, 2}, 0.5, 1.2, 0.01)
	ep.AddStep([]float64{3, 4}, -0.5, 0.8, 0.02)

	require.Equal(t, 2, ep.Ndata())
	assert.Equal(t, []float64{0.5, -0.5}, ep.Rewards)
	assert.Equal(t, []float64{1.2, 0.8}, ep.OffPolImpW)
}

func TestUpdateCumulativeCountsFarPolicySteps(t *testing.T) {
	ep := New(1)
	ep.AddStep([]float64{0}, 1, 1.0, 0.1)  // in-range
	ep.AddStep([]float64{0}, 1, 2.0, 0.2)  // far (> cMax)
	ep.AddStep([]float64{0}, 1, 0.1, 0.3)  // far (< cInv)

	cMax, cInv := 1.5, 1/1.5
	ep.UpdateCumulative(cMax, cInv)

	assert.Equal(t, 2, ep.NFarPolicySteps)
	assert.InDelta(t, 3.0, ep.TotalReward, 1e-9)
	assert.InDelta(t, 0.6, ep.SumKLDivergence, 1e-9)
	assert.Equal(t, 2, ep.FarPolicySteps())
}

func TestUpdateCumulativeClipsAvgWeight(t *testing.T) {
	ep := New(1)
	ep.AddStep([]float64{0}, 0, 5.0, 0) // far above cMax, clipped down
	ep.AddStep([]float64{0}, 0, 0.01, 0) // far below cInv, clipped up

	cMax, cInv := 1.2, 1/1.2
	ep.UpdateCumulative(cMax, cInv)

	assert.InDelta(t, (cMax+cInv)/2, ep.AvgClipImpWeight, 1e-9)
}

func TestUpdateCumulativeOnEmptyEpisode(t *testing.T) {
	ep := New(1)
	ep.UpdateCumulative(1.2, 1/1.2)
	assert.Equal(t, 0.0, ep.AvgClipImpWeight)
	assert.Equal(t, 0, ep.NFarPolicySteps)
}
