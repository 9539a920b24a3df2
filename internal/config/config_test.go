package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadPenalTol(t *testing.T) {
	cfg := Default()
	cfg.PenalTol = 0
	assert.Error(t, cfg.Validate())

	cfg.PenalTol = 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownAlgorithm(t *testing.T) {
	cfg := Default()
	cfg.Algorithm = "not-a-real-algorithm"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveBatchSize(t *testing.T) {
	cfg := Default()
	cfg.BatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestEvictionAlgorithmIndexMapping(t *testing.T) {
	cfg := Default()
	cfg.Algorithm = "oldest"
	assert.Equal(t, 0, cfg.EvictionAlgorithmIndex())
	cfg.Algorithm = "farpolfrac"
	assert.Equal(t, 1, cfg.EvictionAlgorithmIndex())
	cfg.Algorithm = "maxkldiv"
	assert.Equal(t, 2, cfg.EvictionAlgorithmIndex())
	cfg.Algorithm = "batchrl"
	assert.Equal(t, 3, cfg.EvictionAlgorithmIndex())
}
