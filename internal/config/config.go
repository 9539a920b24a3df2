// Package config holds the replay processor's runtime configuration:
// algorithm parameters, transport endpoints, and logging/reporting
// settings, bound from flags and environment variables in cmd/processor.
package config

import (
	"fmt"
	"time"
)

// Config holds all processor configuration.
type Config struct {
	// Algorithm parameters
	ClipImpWeight     float64 `mapstructure:"clip_imp_weight"`
	PenalTol          float64 `mapstructure:"penal_tol"`
	EpsAnneal         float64 `mapstructure:"eps_anneal"`
	BatchSize         float64 `mapstructure:"batch_size"`
	MaxTotObsNum      float64 `mapstructure:"max_tot_obs_num"`
	MaxTotObsNumLocal float64 `mapstructure:"max_tot_obs_num_local"`
	BTrain            bool    `mapstructure:"b_train"`
	RewardWeight      float64 `mapstructure:"reward_weight"`
	StateWeight       float64 `mapstructure:"state_weight"`
	DimS              int     `mapstructure:"dim_s"`
	Algorithm         string  `mapstructure:"algorithm"` // oldest|farpolfrac|maxkldiv|batchrl
	RecomputeEvery    int     `mapstructure:"recompute_every"`

	// Transport
	ReducerNATSURL     string `mapstructure:"reducer_nats_url"`
	ReducerNATSSubject string `mapstructure:"reducer_nats_subject"`
	GRPCBindAddr       string `mapstructure:"grpc_bind_addr"`
	HTTPBindAddr       string `mapstructure:"http_bind_addr"`

	// Reporting
	ReportInterval time.Duration `mapstructure:"report_interval"`
	LogLevel       string        `mapstructure:"log_level"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		ClipImpWeight:     0.3,
		PenalTol:          0.1,
		EpsAnneal:         5e-7,
		BatchSize:         256,
		MaxTotObsNum:      1e6,
		MaxTotObsNumLocal: 1e6,
		BTrain:            true,
		RewardWeight:      1,
		StateWeight:       1,
		DimS:              1,
		Algorithm:         "batchrl",
		RecomputeEvery:    100,

		ReducerNATSURL:     "nats://localhost:4222",
		ReducerNATSSubject: "replayproc.reduce",
		GRPCBindAddr:       ":50052",
		HTTPBindAddr:       ":8081",

		ReportInterval: 5 * time.Second,
		LogLevel:       "info",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ClipImpWeight < 0 {
		return fmt.Errorf("clip_imp_weight must be non-negative")
	}
	if c.PenalTol <= 0 || c.PenalTol >= 1 {
		return fmt.Errorf("penal_tol must be in (0,1)")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.MaxTotObsNumLocal <= 0 {
		return fmt.Errorf("max_tot_obs_num_local must be positive")
	}
	if c.DimS <= 0 {
		return fmt.Errorf("dim_s must be positive")
	}
	switch c.Algorithm {
	case "oldest", "farpolfrac", "maxkldiv", "batchrl":
	default:
		return fmt.Errorf("algorithm must be one of oldest, farpolfrac, maxkldiv, batchrl, got %q", c.Algorithm)
	}
	if c.RecomputeEvery < 0 {
		return fmt.Errorf("recompute_every must be non-negative")
	}
	if c.ReducerNATSURL == "" {
		return fmt.Errorf("reducer_nats_url is required")
	}
	if c.GRPCBindAddr == "" {
		return fmt.Errorf("grpc_bind_addr is required")
	}
	if c.HTTPBindAddr == "" {
		return fmt.Errorf("http_bind_addr is required")
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("report_interval must be positive")
	}
	return nil
}

// EvictionAlgorithmIndex maps the Algorithm string to the eviction
// package's enum; kept here so the eviction package stays free of a
// config dependency.
func (c *Config) EvictionAlgorithmIndex() int {
	switch c.Algorithm {
	case "oldest":
		return 0
	case "farpolfrac":
		return 1
	case "maxkldiv":
		return 2
	case "batchrl":
		return 3
	default:
		return 3
	}
}
