package histogram

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/replayproc/internal/episode"
	"github.com/cartridge/replayproc/internal/replaymemory"
)

func TestCountBucketsWeightsIntoBins(t *testing.T) {
	rm := replaymemory.NewInMemory(nil)
	ep := episode.New(1)
	ep.AddStep([]float64{0}, 0, 1.0, 0) // near the middle of the range
	ep.AddStep([]float64{0}, 0, 1.0, 0)
	rm.Add(ep)

	counts, err := Count(context.Background(), rm)
	require.NoError(t, err)

	total := 0
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, 2, total)
}

func TestCountOnEmptyReplayMemory(t *testing.T) {
	rm := replaymemory.NewInMemory(nil)
	counts, err := Count(context.Background(), rm)
	require.NoError(t, err)
	for _, c := range counts {
		assert.Equal(t, 0, c)
	}
}

func TestReportFormatHasTwoDataRows(t *testing.T) {
	var counts [nBins]int
	counts[40] = 5
	report := Report(counts, 5)

	lines := strings.Split(report, "\n")
	require.Len(t, lines, 7)
	assert.Contains(t, lines[0], "___")
	assert.Contains(t, lines[1], "HISTOGRAMS")
}

func TestReportHandlesZeroDataSize(t *testing.T) {
	var counts [nBins]int
	assert.NotPanics(t, func() { Report(counts, 0) })
}

func TestHarmonicMeanOfEqualBoundsIsThatBound(t *testing.T) {
	assert.InDelta(t, 2.0, harmonicMean(2.0, 2.0), 1e-9)
}

func TestBoundsAreMonotonicallyIncreasing(t *testing.T) {
	for i := 1; i < len(bounds); i++ {
		assert.Greater(t, bounds[i], bounds[i-1])
	}
}
