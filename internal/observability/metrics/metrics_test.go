package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := DefaultMetrics
	before := testutil.ToFloat64(m.SessionsActive)

	m.RecordSessionStart()
	if got := testutil.ToFloat64(m.SessionsActive); got != before+1 {
		t.Errorf("sessions active = %v, want %v", got, before+1)
	}

	m.RecordSessionEnd()
	if got := testutil.ToFloat64(m.SessionsActive); got != before {
		t.Errorf("sessions active after end = %v, want %v", got, before)
	}
}

func TestMetrics_RecordKafkaPublish(t *testing.T) {
	m := DefaultMetrics
	total := m.KafkaPublishTotal.WithLabelValues("t.metrics", "partial")
	errs := m.KafkaPublishErrors.WithLabelValues("t.metrics", "partial")
	beforeTotal := testutil.ToFloat64(total)
	beforeErrs := testutil.ToFloat64(errs)

	m.RecordKafkaPublish("t.metrics", "partial", nil, 0.01)
	m.RecordKafkaPublish("t.metrics", "partial", errors.New("boom"), 0.02)

	if got := testutil.ToFloat64(total); got != beforeTotal+2 {
		t.Errorf("publish total = %v, want %v", got, beforeTotal+2)
	}
	if got := testutil.ToFloat64(errs); got != beforeErrs+1 {
		t.Errorf("publish errors = %v, want %v", got, beforeErrs+1)
	}
}

func TestMetrics_RecordTranscriptKinds(t *testing.T) {
	m := DefaultMetrics
	interim := m.TranscriptsReceived.WithLabelValues("interim")
	final := m.TranscriptsReceived.WithLabelValues("final")
	beforeInterim := testutil.ToFloat64(interim)
	beforeFinal := testutil.ToFloat64(final)

	m.RecordTranscript(false)
	m.RecordTranscript(true)
	m.RecordTranscript(true)

	if got := testutil.ToFloat64(interim); got != beforeInterim+1 {
		t.Errorf("interim = %v, want %v", got, beforeInterim+1)
	}
	if got := testutil.ToFloat64(final); got != beforeFinal+2 {
		t.Errorf("final = %v, want %v", got, beforeFinal+2)
	}
}
