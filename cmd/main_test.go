package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/divergence/internal/adapters/repository"
	"github.com/okian/divergence/internal/config"
	"github.com/okian/divergence/internal/domain/model"
	"github.com/okian/divergence/pkg/logger"
	"github.com/okian/divergence/pkg/metrics"
	"github.com/okian/divergence/pkg/retry"
)

const demoFixtures = "../fixtures/demo.yaml"

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func runCLI(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the root command", t, func() {
		root := newRootCmd()

		convey.Convey("Then it exposes serve and compare", func() {
			names := []string{}
			for _, c := range root.Commands() {
				names = append(names, c.Name())
			}
			convey.So(names, convey.ShouldContain, "serve")
			convey.So(names, convey.ShouldContain, "compare")
		})

		convey.Convey("Then the store flags are persistent", func() {
			convey.So(root.PersistentFlags().Lookup("fixtures"), convey.ShouldNotBeNil)
			convey.So(root.PersistentFlags().Lookup("store"), convey.ShouldNotBeNil)
		})
	})
}

func TestCompareCommand(t *testing.T) {
	convey.Convey("Given the demo fixtures", t, func() {
		convey.Convey("When comparing on a point", func() {
			out, err := runCLI("compare", "point", "p1", "--user", "u1", "--day", "2026-04-01", "--fixtures", demoFixtures)
			convey.So(err, convey.ShouldBeNil)

			var res model.ComparisonResult
			convey.So(json.Unmarshal([]byte(out), &res), convey.ShouldBeNil)

			convey.Convey("Then the aligned user ranks ahead of the opposed one", func() {
				convey.So(res.Message, convey.ShouldBeEmpty)
				convey.So(res.TotalEngaged, convey.ShouldEqual, 2)
				convey.So(len(res.MostSimilar), convey.ShouldEqual, 2)
				convey.So(res.MostSimilar[0].UserID, convey.ShouldEqual, "u2")
				convey.So(res.MostSimilar[1].UserID, convey.ShouldEqual, "u3")
				convey.So(*res.MostSimilar[1].Delta, convey.ShouldAlmostEqual, 1, 1e-9)
			})
		})

		convey.Convey("When the reference user never engaged", func() {
			out, err := runCLI("compare", "user", "u2", "--user", "u9", "--day", "2026-04-01", "--fixtures", demoFixtures)
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, "created by this user")
		})

		convey.Convey("When the scope is unknown", func() {
			_, err := runCLI("compare", "planet", "x", "--user", "u1", "--fixtures", demoFixtures)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When the user flag is missing", func() {
			_, err := runCLI("compare", "point", "p1", "--fixtures", demoFixtures)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When the driver is unknown", func() {
			_, err := runCLI("compare", "point", "p1", "--user", "u1", "--store", "cassandra")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestOpenStore(t *testing.T) {
	convey.Convey("Given the memory driver", t, func() {
		ctx := context.Background()
		cfg := config.New()

		convey.Convey("Without fixtures it opens an empty store", func() {
			store, err := openStore(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(store.Ping(ctx), convey.ShouldBeNil)
		})

		convey.Convey("With fixtures it seeds the store", func() {
			cfg.FixturesPath = demoFixtures
			store, err := openStore(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			counts := store.(*repository.MemoryStore).Counts()
			convey.So(counts["users"], convey.ShouldEqual, 4)
			convey.So(counts["points"], convey.ShouldEqual, 4)
		})

		convey.Convey("With a missing fixtures file it fails", func() {
			cfg.FixturesPath = "does-not-exist.yaml"
			_, err := openStore(ctx, cfg)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestHandler(t *testing.T) {
	convey.Convey("Given the server handler over the demo store", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.FixturesPath = demoFixtures
		svc, err := startService(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)
		defer svc.Stop()
		h := newHandler(ctx, svc)

		convey.Convey("Then every route answers", func() {
			for _, path := range []string{"/healthz", "/stats", "/metrics", "/openapi.yaml", "/api-docs",
				"/compare/topic/t1?userId=u1&snapDay=2026-04-01"} {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("X-Request-ID"), convey.ShouldNotBeEmpty)
			}
		})
	})
}

func TestConnectRetry(t *testing.T) {
	convey.Convey("Given postgres connection settings", t, func() {
		cfg := config.New()
		cfg.PostgresConnectAttempts = 3
		cfg.PostgresConnectDelayMS = 20_000

		convey.Convey("Then the backoff follows them", func() {
			rc := connectRetry(cfg)
			convey.So(rc.MaxAttempts, convey.ShouldEqual, 3)
			convey.So(rc.InitialDelay, convey.ShouldEqual, 20*time.Second)
			convey.So(rc.MaxDelay, convey.ShouldBeGreaterThanOrEqualTo, rc.InitialDelay)
			convey.So(rc.Multiplier, convey.ShouldEqual, retry.DefaultConfig().Multiplier)
		})
	})
}

func TestLoadConfigMetrics(t *testing.T) {
	convey.Convey("Given a configured metrics namespace", t, func() {
		_ = os.Setenv("DIVERGENCE_METRICS_NAMESPACE", "acme")
		_ = os.Setenv("DIVERGENCE_METRICS_SUBSYSTEM", "ranker")
		defer func() {
			_ = os.Unsetenv("DIVERGENCE_METRICS_NAMESPACE")
			_ = os.Unsetenv("DIVERGENCE_METRICS_SUBSYSTEM")
			metrics.Init()
		}()

		_, err := loadConfig(context.Background(), &globalFlags{})
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then exported metrics carry the prefix", func() {
			metrics.UpdateSystemGoroutineCount(3)
			families, err := metrics.GetRegistry().Gather()
			convey.So(err, convey.ShouldBeNil)
			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			convey.So(names, convey.ShouldNotBeEmpty)
			for _, n := range names {
				convey.So(n, convey.ShouldStartWith, "acme_")
			}
		})

		convey.Convey("Then the metrics route serves the new registry", func() {
			w := httptest.NewRecorder()
			newHandler(context.Background(), nil).ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, "acme_")
		})
	})
}

func TestMetricsOptions(t *testing.T) {
	convey.Convey("Given configured latency buckets", t, func() {
		cfg := config.New()
		cfg.MetricsLatencyBucketsMS = []float64{2, 4}
		metrics.Init(metricsOptions(cfg)...)
		defer metrics.Init()

		convey.Convey("Then latency histograms use them", func() {
			metrics.RecordComparisonLatency("point", 3)
			families, err := metrics.GetRegistry().Gather()
			convey.So(err, convey.ShouldBeNil)

			var bounds []float64
			for _, f := range families {
				if f.GetName() != "divergence_engine_comparison_latency_milliseconds" {
					continue
				}
				for _, b := range f.GetMetric()[0].GetHistogram().GetBucket() {
					bounds = append(bounds, b.GetUpperBound())
				}
			}
			convey.So(bounds, convey.ShouldResemble, []float64{2, 4})
		})
	})
}

func TestLoadConfigFlags(t *testing.T) {
	convey.Convey("Given environment configuration", t, func() {
		_ = os.Setenv("DIVERGENCE_DEFAULT_LIMIT", "7")
		defer func() { _ = os.Unsetenv("DIVERGENCE_DEFAULT_LIMIT") }()

		convey.Convey("Then flags override the loaded values", func() {
			cfg, err := loadConfig(context.Background(), &globalFlags{fixtures: demoFixtures})
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.DefaultLimit, convey.ShouldEqual, 7)
			convey.So(cfg.FixturesPath, convey.ShouldEqual, demoFixtures)
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
		})
	})
}
