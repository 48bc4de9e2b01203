package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithLatencyBuckets([]float64{1, 10, 100}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors should be registered under the namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.comparisons.WithLabelValues("point", "ok").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "test_unit_comparisons_total")
			})
		})

		Convey("When ignoring empty option values", func() {
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithLatencyBuckets(nil),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then defaults should stay in place", func() {
				So(manager.namespace, ShouldEqual, "divergence")
				So(manager.subsystem, ShouldEqual, "engine")
				So(len(manager.latencyBuckets), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording comparison outcomes", func() {
			before := testutil.ToFloat64(globalManager.comparisons.WithLabelValues("topic", "empty"))
			RecordComparison("topic", "empty")
			RecordComparisonLatency("topic", 12)
			RecordCandidatePoolSize(7)

			Convey("Then the counter should advance", func() {
				after := testutil.ToFloat64(globalManager.comparisons.WithLabelValues("topic", "empty"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When recording candidate sources and failures", func() {
			beforeLive := testutil.ToFloat64(globalManager.candidateSource.WithLabelValues("live"))
			beforeFail := testutil.ToFloat64(globalManager.pairwiseFailures.WithLabelValues("space"))
			RecordCandidateSource("live")
			RecordPairwiseFailure("space")
			RecordPairwiseLatency(3)

			Convey("Then both counters should advance", func() {
				So(testutil.ToFloat64(globalManager.candidateSource.WithLabelValues("live"))-beforeLive, ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.pairwiseFailures.WithLabelValues("space"))-beforeFail, ShouldEqual, 1)
			})
		})

		Convey("When updating gauges", func() {
			UpdatePoolStats(4, 9)
			UpdateSystemGoroutineCount(12)

			Convey("Then gauges should hold the last value", func() {
				So(testutil.ToFloat64(globalManager.poolRunningWorkers), ShouldEqual, 4)
				So(testutil.ToFloat64(globalManager.poolWaitingTasks), ShouldEqual, 9)
				So(testutil.ToFloat64(globalManager.systemGoroutineCount), ShouldEqual, 12)
			})
		})

		Convey("When reading the registry", func() {
			Convey("Then it should be the custom one", func() {
				So(GetRegistry(), ShouldEqual, customRegistry)
			})
		})
	})
}

func TestInit(t *testing.T) {
	Convey("Given a global manager rebuilt with a custom prefix", t, func() {
		previous := GetRegistry()
		Init(WithNamespace("acme"), WithSubsystem("ranker"))
		Reset(func() { Init() })

		Convey("Then recorders write to a fresh registry under the new names", func() {
			So(GetRegistry(), ShouldNotEqual, previous)
			RecordCoalescedComparison()
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			So(names, ShouldContain, "acme_ranker_coalesced_comparisons_total")
			So(testutil.ToFloat64(globalManager.coalescedComparisons), ShouldEqual, 1)
		})

		Convey("Then the old registry no longer receives samples", func() {
			RecordCoalescedComparison()
			families, err := previous.Gather()
			So(err, ShouldBeNil)
			for _, f := range families {
				So(f.GetName(), ShouldNotStartWith, "acme_")
			}
		})
	})
}
