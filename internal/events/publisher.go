// Package events publishes transcript deltas to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"live-speech-relay/internal/models"
	"live-speech-relay/internal/observability/logging"
	"live-speech-relay/internal/observability/metrics"
	"live-speech-relay/internal/schema"
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// route is one destination topic. A nil writer means log-only.
type route struct {
	topic  string
	kind   string
	writer messageWriter
}

// Publisher sends partial and final deltas to separate topics.
type Publisher struct {
	partial   route
	final     route
	principal string
	validator *schema.Validator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// New returns a publisher. Without brokers, or when disabled, events are
// validated and logged but never written.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		cfg = &Config{}
	}
	p := &Publisher{
		partial:   route{topic: cfg.TopicPartial, kind: "partial"},
		final:     route{topic: cfg.TopicFinal, kind: "final"},
		principal: cfg.Principal,
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithComponent("publisher"),
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution inside Kubernetes.
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	transport := &kafka.Transport{Dial: dialer.DialFunc}
	p.partial.writer = newKafkaWriter(cfg.Brokers, cfg.TopicPartial, transport)
	p.final.writer = newKafkaWriter(cfg.Brokers, cfg.TopicFinal, transport)

	p.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

func newKafkaWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Publish writes one transcript delta. Messages are keyed by session so a
// session's deltas stay ordered on one partition; the Msg-Id header carries
// the sessionId:sequence dedup token.
func (p *Publisher) Publish(ctx context.Context, ev models.PublishEvent) error {
	if err := p.validator.Validate(ev); err != nil {
		p.logger.Error().Err(err).
			Str("sessionId", ev.SessionID).
			Int64("sequence", ev.Sequence).
			Msg("Rejected invalid transcript event")
		return err
	}

	r := p.partial
	if ev.IsFinal {
		r = p.final
	}

	start := time.Now()
	err := p.write(ctx, r, ev)
	p.metrics.RecordKafkaPublish(r.topic, r.kind, err, time.Since(start).Seconds())

	if err != nil && isConnectionClosed(err) {
		p.logger.Warn().Err(err).
			Str("topic", r.topic).
			Str("msgId", ev.DedupID()).
			Msg("Kafka connection closed, transcript dropped")
		return nil
	}
	return err
}

func (p *Publisher) write(ctx context.Context, r route, ev models.PublishEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	p.logger.Debug().
		Str("topic", r.topic).
		Str("msgId", ev.DedupID()).
		RawJSON("payload", payload).
		Msg("Publishing transcript")

	if r.writer == nil {
		return nil
	}

	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "Msg-Id", Value: []byte(ev.DedupID())},
			{Key: "Content-Type", Value: []byte("application/json")},
			{Key: "eventType", Value: []byte(ev.EventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	})
	if err != nil && !isConnectionClosed(err) {
		p.logger.Error().Err(err).
			Str("topic", r.topic).
			Str("msgId", ev.DedupID()).
			Msg("Failed to write to Kafka")
	}
	return err
}

func isConnectionClosed(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var errs []error
	for _, r := range []route{p.partial, p.final} {
		if r.writer == nil {
			continue
		}
		if err := r.writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
