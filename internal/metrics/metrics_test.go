package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorsRegistered(t *testing.T) {
	AuthOutcomes.WithLabelValues("api_key", "ok").Inc()
	RetryAttempts.WithLabelValues("update_usage").Inc()
	BackgroundTaskFailures.WithLabelValues("activity").Inc()
	SweepDeactivations.WithLabelValues("deactivated").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/healthz", "200").Observe(0.01)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}

	for _, name := range []string{
		"a11ystatus_auth_outcomes_total",
		"a11ystatus_retry_attempts_total",
		"a11ystatus_background_task_failures_total",
		"a11ystatus_sweep_deactivations_total",
		"a11ystatus_http_request_duration_seconds",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}
