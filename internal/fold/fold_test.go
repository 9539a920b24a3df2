package fold

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/replayproc/internal/episode"
	"github.com/cartridge/replayproc/internal/replaymemory"
)

func newEpisode(id int64, states []float64, rewards []float64, rhos []float64, dkls []float64) *episode.Episode {
	ep := episode.New(id)
	for i := range rewards {
		ep.AddStep([]float64{states[i]}, rewards[i], rhos[i], dkls[i])
	}
	return ep
}

func TestMomentsCentersOnGivenMean(t *testing.T) {
	rm := replaymemory.NewInMemory(nil)
	rm.Add(newEpisode(1, []float64{1, 2}, []float64{1, 3}, []float64{1, 1}, []float64{0, 0}))
	rm.Add(newEpisode(2, []float64{3, 4}, []float64{5, 7}, []float64{1, 1}, []float64{0, 0}))

	acc, err := Moments(context.Background(), rm, 1, 4.0, []float64{2.5}, true)
	require.NoError(t, err)

	assert.Equal(t, 4.0, acc.Count)
	assert.InDelta(t, (1-4)+(3-4)+(5-4)+(7-4), acc.SumR, 1e-9)
	assert.InDelta(t, (1-2.5)+(2-2.5)+(3-2.5)+(4-2.5), acc.SumS[0], 1e-9)
}

func TestMomentsSkipsStateSumWhenWSFalse(t *testing.T) {
	rm := replaymemory.NewInMemory(nil)
	rm.Add(newEpisode(1, []float64{1}, []float64{1}, []float64{1}, []float64{0}))

	acc, err := Moments(context.Background(), rm, 1, 0, []float64{0}, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, acc.SumS[0])
}

func TestSelectPicksOldestByID(t *testing.T) {
	rm := replaymemory.NewInMemory(nil)
	rm.Add(newEpisode(10, []float64{0}, []float64{1}, []float64{1}, []float64{0}))
	rm.Add(newEpisode(5, []float64{0}, []float64{1}, []float64{1}, []float64{0}))
	rm.Add(newEpisode(20, []float64{0}, []float64{1}, []float64{1}, []float64{0}))

	sel, err := Select(context.Background(), rm, 1.5, 1/1.5, 0.1, true)
	require.NoError(t, err)

	assert.Equal(t, int64(5), sel.Oldest.ID)
}

func TestSelectPicksMostFarPolicyEpisode(t *testing.T) {
	rm := replaymemory.NewInMemory(nil)
	// episode 0: all steps in-range
	rm.Add(newEpisode(1, []float64{0, 0}, []float64{1, 1}, []float64{1.0, 1.0}, []float64{0, 0}))
	// episode 1: both steps far off-policy
	rm.Add(newEpisode(2, []float64{0, 0}, []float64{1, 1}, []float64{5.0, 5.0}, []float64{0, 0}))

	sel, err := Select(context.Background(), rm, 1.5, 1/1.5, 0.1, true)
	require.NoError(t, err)

	assert.Equal(t, int64(2), sel.MostFar.ID)
	assert.Equal(t, 2, sel.Scalars.NFarPolicy)
}

func TestSelectPicksHighestKLEpisode(t *testing.T) {
	rm := replaymemory.NewInMemory(nil)
	rm.Add(newEpisode(1, []float64{0}, []float64{1}, []float64{1}, []float64{0.01}))
	rm.Add(newEpisode(2, []float64{0}, []float64{1}, []float64{1}, []float64{9.0}))

	sel, err := Select(context.Background(), rm, 1.5, 1/1.5, 0.1, true)
	require.NoError(t, err)

	assert.Equal(t, int64(2), sel.HighKL.ID)
}

func TestSelectPicksMostOffPolicyEpisode(t *testing.T) {
	rm := replaymemory.NewInMemory(nil)
	rm.Add(newEpisode(1, []float64{0}, []float64{1}, []float64{1.0}, []float64{0}))
	rm.Add(newEpisode(2, []float64{0}, []float64{1}, []float64{100.0}, []float64{0})) // clipped to cMax

	sel, err := Select(context.Background(), rm, 1.5, 1/1.5, 0.1, true)
	require.NoError(t, err)

	// episode 2's clipped weight (cMax=1.5) exceeds episode 1's (1.0),
	// so episode 1 has the lower average clipped weight.
	assert.Equal(t, int64(1), sel.MostOff.ID)
}

func TestSelectExcludesZeroNdataEpisodesFromNonOldestSelectors(t *testing.T) {
	rm := replaymemory.NewInMemory(nil)
	rm.Add(episode.New(1)) // empty episode
	rm.Add(newEpisode(2, []float64{0}, []float64{1}, []float64{2.0}, []float64{1.0}))

	sel, err := Select(context.Background(), rm, 1.5, 1/1.5, 0.1, true)
	require.NoError(t, err)

	assert.Equal(t, int64(2), sel.MostFar.ID)
	assert.Equal(t, int64(2), sel.HighKL.ID)
	assert.Equal(t, int64(2), sel.MostOff.ID)
	// Oldest still includes the empty episode.
	assert.Equal(t, int64(1), sel.Oldest.ID)
}

func TestSelectWithoutRecomputeReusesStaleCumulativeFields(t *testing.T) {
	rm := replaymemory.NewInMemory(nil)
	rm.Add(newEpisode(1, []float64{0}, []float64{1}, []float64{5.0}, []float64{0}))

	// No prior UpdateCumulative call, so cumulative fields are zero;
	// recompute=false should leave them untouched.
	sel, err := Select(context.Background(), rm, 1.5, 1/1.5, 0.1, false)
	require.NoError(t, err)
	assert.Equal(t, 0, sel.Scalars.NFarPolicy)
}

func TestSelectOnEmptyReplayMemory(t *testing.T) {
	rm := replaymemory.NewInMemory(nil)
	sel, err := Select(context.Background(), rm, 1.5, 1/1.5, 0.1, true)
	require.NoError(t, err)
	assert.Equal(t, -1, sel.Oldest.Index)
	assert.Equal(t, -1, sel.MostFar.Index)
}
