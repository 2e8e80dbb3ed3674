package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("engine"),
				WithHistogramBuckets([]float64{1, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			m.votes.WithLabelValues("recorded").Inc()

			Convey("Then its collectors are registered under the namespace", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_engine_votes_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording domain events", func() {
			before := testutil.ToFloat64(globalManager.votes.WithLabelValues("already_voted"))
			RecordVote("already_voted")
			RecordRequirementEvaluation("badge_count", false, true)
			RecordGrant("grant", 409)
			RecordVoteCacheLookup(true)

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(globalManager.votes.WithLabelValues("already_voted")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.requirementEvaluations.WithLabelValues("badge_count", "transient")), ShouldBeGreaterThanOrEqualTo, 1)
				So(testutil.ToFloat64(globalManager.grants.WithLabelValues("grant", "409")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When gathering the custom registry", func() {
			families, err := GetRegistry().Gather()

			Convey("Then only ascent metrics are exposed", func() {
				So(err, ShouldBeNil)
				for _, f := range families {
					So(strings.HasPrefix(f.GetName(), "ascent_roles_"), ShouldBeTrue)
				}
			})
		})
	})
}
