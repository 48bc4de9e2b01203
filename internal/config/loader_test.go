package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/divergence/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, "memory")
				convey.So(cfg.DefaultLimit, convey.ShouldEqual, 20)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("DIVERGENCE_ADDR", ":8080")
			_ = os.Setenv("DIVERGENCE_DEFAULT_LIMIT", "10")
			_ = os.Setenv("DIVERGENCE_WORKER_COUNT", "16")
			_ = os.Setenv("DIVERGENCE_CLUSTER_CACHE_TTL_S", "60")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.DefaultLimit, convey.ShouldEqual, 10)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.ClusterCacheTTLSeconds, convey.ShouldEqual, 60)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
store_driver: postgres
postgres_url: "postgres://db:5432/divergence"
max_limit: 40
batch_timeout_ms: 2500
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("DIVERGENCE_CONFIG", tmpFile)
			_ = os.Setenv("DIVERGENCE_ADDR", ":8080") // overrides the file
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, "postgres")
				convey.So(cfg.PostgresURL, convey.ShouldEqual, "postgres://db:5432/divergence")
				convey.So(cfg.MaxLimit, convey.ShouldEqual, 40)
				convey.So(cfg.BatchTimeoutMS, convey.ShouldEqual, 2500)
				convey.So(cfg.DefaultLimit, convey.ShouldEqual, 20) // from defaults
			})
		})

		convey.Convey("When loading connection and metrics settings from the environment", func() {
			_ = os.Setenv("DIVERGENCE_POSTGRES_CONNECT_ATTEMPTS", "9")
			_ = os.Setenv("DIVERGENCE_POSTGRES_CONNECT_DELAY_MS", "250")
			_ = os.Setenv("DIVERGENCE_METRICS_NAMESPACE", "acme")
			_ = os.Setenv("DIVERGENCE_METRICS_SUBSYSTEM", "ranker")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then they reach the config", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.PostgresConnectAttempts, convey.ShouldEqual, 9)
				convey.So(cfg.PostgresConnectDelayMS, convey.ShouldEqual, 250)
				convey.So(cfg.MetricsNamespace, convey.ShouldEqual, "acme")
				convey.So(cfg.MetricsSubsystem, convey.ShouldEqual, "ranker")
			})
		})

		convey.Convey("When the request timeout is shorter than the batch timeout", func() {
			_ = os.Setenv("DIVERGENCE_REQUEST_TIMEOUT_MS", "5")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then the failing key is reported", func() {
				var fe *config.FieldError
				convey.So(errors.As(err, &fe), convey.ShouldBeTrue)
				convey.So(fe.Key, convey.ShouldEqual, "request_timeout_ms")
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("DIVERGENCE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("DIVERGENCE_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("DIVERGENCE_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("DIVERGENCE_MAX_LIMIT", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"DIVERGENCE_CONFIG",
		"DIVERGENCE_ADDR",
		"DIVERGENCE_DEFAULT_LIMIT",
		"DIVERGENCE_MAX_LIMIT",
		"DIVERGENCE_WORKER_COUNT",
		"DIVERGENCE_CLUSTER_CACHE_TTL_S",
		"DIVERGENCE_POSTGRES_CONNECT_ATTEMPTS",
		"DIVERGENCE_POSTGRES_CONNECT_DELAY_MS",
		"DIVERGENCE_METRICS_NAMESPACE",
		"DIVERGENCE_METRICS_SUBSYSTEM",
		"DIVERGENCE_REQUEST_TIMEOUT_MS",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "divergence-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
