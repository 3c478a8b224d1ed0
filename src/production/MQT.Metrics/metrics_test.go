package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_InstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Messages.WithLabelValues(OutcomeCommitted).Inc()

	if got := testutil.ToFloat64(a.Messages.WithLabelValues(OutcomeCommitted)); got != 1 {
		t.Errorf("a committed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.Messages.WithLabelValues(OutcomeCommitted)); got != 0 {
		t.Errorf("b committed = %v, want 0", got)
	}
}

func TestSetOnline(t *testing.T) {
	m := New()
	if got := testutil.ToFloat64(m.PipelineOnline); got != 1 {
		t.Errorf("initial pipeline_online = %v, want 1", got)
	}
	m.SetOnline(false)
	if got := testutil.ToFloat64(m.PipelineOnline); got != 0 {
		t.Errorf("pipeline_online = %v, want 0", got)
	}
}

func TestHandler_ExposesInstruments(t *testing.T) {
	m := New()
	m.BufferDepth.Set(3)
	m.Dropped.WithLabelValues("malformed_payload").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"sensor_relay_buffer_depth 3",
		`sensor_relay_dropped_total{reason="malformed_payload"} 1`,
		"sensor_relay_pipeline_online 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
