package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cartridge/replayproc/internal/config"
	"github.com/cartridge/replayproc/internal/estimator"
	"github.com/cartridge/replayproc/internal/eviction"
	"github.com/cartridge/replayproc/internal/processor"
	"github.com/cartridge/replayproc/internal/reducer"
	"github.com/cartridge/replayproc/internal/refer"
	"github.com/cartridge/replayproc/internal/replaymemory"
	"github.com/cartridge/replayproc/internal/service"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "replayproc",
	Short: "Off-policy experience replay processor",
	Long: `replayproc maintains the shared experience replay buffer for an
off-policy RL trainer: online reward/state normalization, the ReF-ER
penalty controller, and episode eviction, kept in sync across
distributed learners through a non-blocking AllReduce-style reducer.`,
	RunE: runProcessor,
}

func init() {
	cfg = config.Default()

	rootCmd.Flags().Float64Var(&cfg.ClipImpWeight, "clip-imp-weight", cfg.ClipImpWeight, "ReF-ER importance weight clip bound C")
	rootCmd.Flags().Float64Var(&cfg.PenalTol, "penal-tol", cfg.PenalTol, "ReF-ER off-policy fraction tolerance D")
	rootCmd.Flags().Float64Var(&cfg.EpsAnneal, "eps-anneal", cfg.EpsAnneal, "clip bound annealing rate")
	rootCmd.Flags().Float64Var(&cfg.BatchSize, "batch-size", cfg.BatchSize, "training minibatch size")
	rootCmd.Flags().Float64Var(&cfg.MaxTotObsNum, "max-tot-obs-num", cfg.MaxTotObsNum, "global transition cap")
	rootCmd.Flags().Float64Var(&cfg.MaxTotObsNumLocal, "max-tot-obs-num-local", cfg.MaxTotObsNumLocal, "per-learner transition cap")
	rootCmd.Flags().BoolVar(&cfg.BTrain, "b-train", cfg.BTrain, "whether the trainer is actively learning")
	rootCmd.Flags().Float64Var(&cfg.RewardWeight, "reward-weight", cfg.RewardWeight, "reward normalization learning weight")
	rootCmd.Flags().Float64Var(&cfg.StateWeight, "state-weight", cfg.StateWeight, "state normalization learning weight")
	rootCmd.Flags().IntVar(&cfg.DimS, "dim-s", cfg.DimS, "observed state dimensionality")
	rootCmd.Flags().StringVar(&cfg.Algorithm, "algorithm", cfg.Algorithm, "eviction algorithm: oldest, farpolfrac, maxkldiv, batchrl")
	rootCmd.Flags().IntVar(&cfg.RecomputeEvery, "recompute-every", cfg.RecomputeEvery, "episode cumulative-field recompute cadence")

	rootCmd.Flags().StringVar(&cfg.ReducerNATSURL, "reducer-nats-url", cfg.ReducerNATSURL, "NATS URL for the reducer transport")
	rootCmd.Flags().StringVar(&cfg.ReducerNATSSubject, "reducer-nats-subject", cfg.ReducerNATSSubject, "NATS subject for the reducer transport")
	rootCmd.Flags().StringVar(&cfg.GRPCBindAddr, "grpc-bind-addr", cfg.GRPCBindAddr, "gRPC health/reflection bind address")
	rootCmd.Flags().StringVar(&cfg.HTTPBindAddr, "http-bind-addr", cfg.HTTPBindAddr, "HTTP metrics/healthz bind address")

	rootCmd.Flags().DurationVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "interval between metrics report renders")
	rootCmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	viper.BindPFlags(rootCmd.Flags())
	viper.SetEnvPrefix("REPLAYPROC")
	viper.AutomaticEnv()
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func runProcessor(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info().Str("algorithm", cfg.Algorithm).Msg("starting replay processor")

	rm := replaymemory.NewInMemory(nil)

	statsReducer, err := reducer.NewNATS[float64](cfg.ReducerNATSURL, cfg.ReducerNATSSubject+".stats", 1, true,
		make([]float64, 2*cfg.DimS+3), logger)
	if err != nil {
		return fmt.Errorf("connect stats reducer: %w", err)
	}
	defer statsReducer.Close()

	countReducer, err := reducer.NewNATS[int64](cfg.ReducerNATSURL, cfg.ReducerNATSSubject+".counts", 1, true,
		make([]int64, 2), logger)
	if err != nil {
		return fmt.Errorf("connect count reducer: %w", err)
	}
	defer countReducer.Close()

	farPolReducer, err := reducer.NewNATS[float64](cfg.ReducerNATSURL, cfg.ReducerNATSSubject+".farpol", 1, true,
		make([]float64, 2), logger)
	if err != nil {
		return fmt.Errorf("connect far-policy reducer: %w", err)
	}
	defer farPolReducer.Close()

	est := estimator.New(cfg.DimS, statsReducer, countReducer)
	ref := refer.New(farPolReducer, cfg.PenalTol, cfg.BatchSize, cfg.MaxTotObsNum)
	evp := eviction.New(eviction.Config{
		Algorithm:         eviction.Algorithm(cfg.EvictionAlgorithmIndex()),
		ClipImpWeight:     cfg.ClipImpWeight,
		PenalTol:          cfg.PenalTol,
		EpsAnneal:         cfg.EpsAnneal,
		MaxTotObsNumLocal: cfg.MaxTotObsNumLocal,
		RecomputeEvery:    cfg.RecomputeEvery,
	})

	proc := processor.New(est, ref, evp, rm, logger)

	httpSrv := service.NewHTTPServer(proc, logger)
	httpServer := &http.Server{Addr: cfg.HTTPBindAddr, Handler: httpSrv.Routes()}

	grpcSrv, healthSrv := service.NewGRPCServer(logger)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	lis, err := net.Listen("tcp", cfg.GRPCBindAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc server failed")
		}
	}()

	ticker := time.NewTicker(cfg.ReportInterval)
	defer ticker.Stop()

	logger.Info().Str(proc.Header(), "").Msg("report columns")

runLoop:
	for {
		select {
		case <-ctx.Done():
			break runLoop
		case <-ticker.C:
			stepCfg := processor.Config{
				RewardWeight:          cfg.RewardWeight,
				StateWeight:           cfg.StateWeight,
				BTrain:                cfg.BTrain,
				NSeenEpisodesLocal:    int64(rm.ReadNSeq()),
				NSeenTransitionsLocal: int64(rm.ReadNData()),
				NFarPolicyLocal:       int64(evp.NFarPolicySteps),
				NTransitionsLocal:     int64(rm.ReadNData()),
			}
			if err := proc.Step(ctx, stepCfg); err != nil {
				// Reducer transport errors and configuration errors
				// (ErrClipScheduleInvalid) propagate as fatal, with no
				// local retry: a step failure here means the process's
				// invariants can no longer be trusted, so keeping the
				// ticker loop running would report on a corrupt state.
				logger.Fatal().Err(err).Msg("processor step failed")
			}
			report := proc.Report()
			httpSrv.SetLatest(report)
			logger.Info().Msg(report)
		}
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	case <-stopped:
	}

	logger.Info().Msg("replay processor stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
