package refer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/replayproc/internal/reducer"
)

func TestNewControllerStartsAtBetaOneAlphaZero(t *testing.T) {
	c := New(reducer.NewLocal([]float64{0, 0}), 0.1, 256, 1e6)
	assert.Equal(t, 1.0, c.Beta)
	assert.Equal(t, 0.0, c.Alpha)
}

func TestUpdateReturnsZeroWhenNoData(t *testing.T) {
	c := New(reducer.NewLocal([]float64{0, 0}), 0.1, 256, 1e6)
	frac, err := c.Update(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, frac)
}

func TestUpdatePushesBetaTowardOneWhenOverTolerance(t *testing.T) {
	c := New(reducer.NewLocal([]float64{0, 0}), 0.1, 256, 1e6)
	c.Beta = 0.5

	_, err := c.Update(context.Background(), 500, 1000) // 50% far-policy, well above D=0.1
	require.NoError(t, err)

	assert.Greater(t, c.Beta, 0.5)
}

func TestUpdatePushesBetaTowardZeroWhenUnderTolerance(t *testing.T) {
	c := New(reducer.NewLocal([]float64{0, 0}), 0.1, 256, 1e6)
	c.Beta = 1.0

	_, err := c.Update(context.Background(), 1, 1000) // 0.1% far-policy, below D
	require.NoError(t, err)

	assert.Less(t, c.Beta, 1.0)
}

func TestBetaAndAlphaStayWithinUnitInterval(t *testing.T) {
	c := New(reducer.NewLocal([]float64{0, 0}), 0.1, 256, 1e6)
	for i := 0; i < 200; i++ {
		_, err := c.Update(context.Background(), int64(i%3), 1000)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, c.Beta, 0.0)
		assert.LessOrEqual(t, c.Beta, 1.0)
		assert.GreaterOrEqual(t, c.Alpha, 0.0)
		assert.LessOrEqual(t, c.Alpha, 1.0)
	}
}

func TestFixedPointHelpersConverge(t *testing.T) {
	// Once x drops below eta, fpToZero is x*(1-x), which approaches 0
	// like 1/n: after 1000 iterations x is about 1.0e-3.
	x := 1.0
	for i := 0; i < 1000; i++ {
		x = fpToZero(x, 0.1)
	}
	assert.InDelta(t, 0.0, x, 2e-3)

	// fpToOne settles at 1/(1+eta), which is 1/1.1 for eta = 0.1.
	y := 0.0
	for i := 0; i < 1000; i++ {
		y = fpToOne(y, 0.1)
	}
	assert.InDelta(t, 1/(1+0.1), y, 1e-6)
}
