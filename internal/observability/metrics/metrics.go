// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsFailed  prometheus.Counter

	// Segment / rotation metrics
	SegmentsCreated  prometheus.Counter
	SegmentsDropped  *prometheus.CounterVec
	Rotations        *prometheus.CounterVec
	RotationFailures prometheus.Counter

	// Audio metrics
	AudioBytesPumped prometheus.Counter
	FramesDelivered  prometheus.Counter
	FramesDeferred   *prometheus.CounterVec

	// Transcoder metrics
	TranscoderRestarts *prometheus.CounterVec
	TranscoderSpawns   prometheus.Counter

	// Transcript metrics
	TranscriptsReceived *prometheus.CounterVec
	SentencesEmitted    prometheus.Counter
	SentencesThrottled  prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTErrors *prometheus.CounterVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of relay sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently running relay sessions",
		}),
		SessionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions whose pipeline setup failed",
		}),

		SegmentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_created_total",
			Help:      "Total number of recognition segments opened",
		}),
		SegmentsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_dropped_total",
			Help:      "Total number of segments abandoned after a recognizer fault",
		}, []string{"reason"}),
		Rotations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_rotations_total",
			Help:      "Total number of recognition stream rotations",
		}, []string{"reason"}),
		RotationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_rotation_failures_total",
			Help:      "Total number of rotations that failed to open a new stream",
		}),

		AudioBytesPumped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_pumped_total",
			Help:      "Total PCM bytes read from the transcoder",
		}),
		FramesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_delivered_total",
			Help:      "Total 100ms PCM frames delivered to the active stream",
		}),
		FramesDeferred: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_deferred_total",
			Help:      "Total frame deliveries deferred to a later write",
		}, []string{"reason"}),

		TranscoderRestarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcoder_restarts_total",
			Help:      "Total number of transcoder process restarts",
		}, []string{"reason"}),
		TranscoderSpawns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcoder_spawns_total",
			Help:      "Total number of transcoder processes spawned",
		}),

		TranscriptsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_received_total",
			Help:      "Total number of recognizer results received",
		}, []string{"kind"}),
		SentencesEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_emitted_total",
			Help:      "Total number of sentences admitted by the sentence gate",
		}),
		SentencesThrottled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_throttled_total",
			Help:      "Total number of sentences rejected by the rate limiter",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of recognizer stream errors",
		}, []string{"provider", "error_type"}),

		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC calls served",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a session pipeline starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session pipeline stopping.
func (m *Metrics) RecordSessionEnd() {
	m.SessionsActive.Dec()
}

// RecordSessionFailed records a session whose setup failed.
func (m *Metrics) RecordSessionFailed() {
	m.SessionsFailed.Inc()
}

// RecordSegmentCreated records a new recognition segment.
func (m *Metrics) RecordSegmentCreated() {
	m.SegmentsCreated.Inc()
}

// RecordSegmentDropped records a segment abandoned after a fault.
func (m *Metrics) RecordSegmentDropped(reason string) {
	m.SegmentsDropped.WithLabelValues(reason).Inc()
}

// RecordRotation records a completed stream rotation.
func (m *Metrics) RecordRotation(reason string) {
	m.Rotations.WithLabelValues(reason).Inc()
}

// RecordRotationFailure records a rotation whose new stream failed to open.
func (m *Metrics) RecordRotationFailure() {
	m.RotationFailures.Inc()
}

// RecordAudioPumped records PCM bytes read from the transcoder.
func (m *Metrics) RecordAudioPumped(bytes int) {
	m.AudioBytesPumped.Add(float64(bytes))
}

// RecordFrameDelivered records a frame written to the active stream.
func (m *Metrics) RecordFrameDelivered() {
	m.FramesDelivered.Inc()
}

// RecordFrameDeferred records a frame held back for a later write.
func (m *Metrics) RecordFrameDeferred(reason string) {
	m.FramesDeferred.WithLabelValues(reason).Inc()
}

// RecordTranscoderSpawn records a transcoder process spawn.
func (m *Metrics) RecordTranscoderSpawn() {
	m.TranscoderSpawns.Inc()
}

// RecordTranscoderRestart records a transcoder restart.
func (m *Metrics) RecordTranscoderRestart(reason string) {
	m.TranscoderRestarts.WithLabelValues(reason).Inc()
}

// RecordTranscript records a recognizer result.
func (m *Metrics) RecordTranscript(isFinal bool) {
	kind := "interim"
	if isFinal {
		kind = "final"
	}
	m.TranscriptsReceived.WithLabelValues(kind).Inc()
}

// RecordSentence records a sentence gate decision.
func (m *Metrics) RecordSentence(admitted bool) {
	if admitted {
		m.SentencesEmitted.Inc()
		return
	}
	m.SentencesThrottled.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTError records a recognizer error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordGRPCRequest records a served gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
