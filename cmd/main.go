package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/divergence/internal/adapters/repository"
	service "github.com/okian/divergence/internal/app"
	"github.com/okian/divergence/internal/config"
	"github.com/okian/divergence/pkg/logger"
	"github.com/okian/divergence/pkg/metrics"
	"github.com/okian/divergence/pkg/retry"
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags override configuration loaded from file and environment.
type globalFlags struct {
	fixtures string
	driver   string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:   "divergence",
		Short: "Divergence - find the users who agree and disagree with you",
		Long: `Divergence scores how far apart two users' engagement stances are across
point clusters and ranks everyone engaged with a point, rationale, topic,
space or user's points by alignment with a reference user.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.fixtures, "fixtures", "", "YAML fixtures for the memory store")
	root.PersistentFlags().StringVar(&flags.driver, "store", "", "store driver: memory or postgres")

	root.AddCommand(newServeCmd(&flags), newCompareCmd(&flags))
	return root
}

// loadConfig layers CLI flags over config.Load and applies logging and
// metrics settings.
func loadConfig(ctx context.Context, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if flags.fixtures != "" {
		cfg.FixturesPath = flags.fixtures
	}
	if flags.driver != "" {
		cfg.StoreDriver = flags.driver
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metrics.Init(metricsOptions(cfg)...)
	return cfg, nil
}

func metricsOptions(cfg *config.Config) []metrics.Option {
	return []metrics.Option{
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithLatencyBuckets(cfg.MetricsLatencyBucketsMS),
	}
}

// connectRetry derives the postgres connection backoff from cfg.
func connectRetry(cfg *config.Config) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.PostgresConnectAttempts
	rc.InitialDelay = cfg.PostgresConnectDelay()
	if rc.MaxDelay < rc.InitialDelay {
		rc.MaxDelay = rc.InitialDelay
	}
	return rc
}

// openStore connects the store selected by cfg.StoreDriver.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		store, err := repository.NewPostgresStore(ctx, cfg.PostgresURL,
			repository.WithMaxConns(int32(cfg.PostgresMaxConns)),
			repository.WithRetryConfig(connectRetry(cfg)),
			repository.WithLogger(logger.Named("postgres")),
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		if cfg.FixturesPath == "" {
			return repository.NewMemoryStore(), nil
		}
		store, err := repository.LoadFixtures(cfg.FixturesPath)
		if err != nil {
			return nil, err
		}
		logger.Get().Info(ctx, "memory store seeded",
			logger.String("fixtures", cfg.FixturesPath),
			logger.Any("counts", store.Counts()))
		return store, nil
	}
}

// startService opens the store and starts a Service configured from cfg.
func startService(ctx context.Context, cfg *config.Config) (*service.Service, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}

	svc := service.New(store,
		service.WithLogger(logger.Named("service")),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithLimits(cfg.DefaultLimit, cfg.MaxLimit),
		service.WithCandidateCap(cfg.CandidateCap),
		service.WithBatchTimeout(cfg.BatchTimeout()),
		service.WithRequestTimeout(cfg.RequestTimeout()),
		service.WithClusterCache(cfg.ClusterCacheSize, cfg.ClusterCacheTTL()),
	)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("start service: %w", err)
	}
	return svc, nil
}
