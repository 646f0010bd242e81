// Package events publishes caption lifecycle events for downstream observers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"vision-caption-client/internal/models"
	"vision-caption-client/internal/observability/metrics"
	"vision-caption-client/internal/schema"
)

// Publisher publishes caption events to separate Kafka topics.
type Publisher struct {
	writerCaption *kafka.Writer
	writerDrop    *kafka.Writer
	principal     string
	topicCaption  string
	topicDrop     string
	enabled       bool
	metrics       *metrics.Metrics
	validator     *schema.Validator
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicCaption string
	TopicDrop    string
	Principal    string
	Enabled      bool

	// Metrics defaults to metrics.DefaultMetrics.
	Metrics *metrics.Metrics
}

// New creates a Kafka event publisher. With Kafka disabled, events are only logged.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			metrics:   metrics.DefaultMetrics,
			validator: schema.New(),
		}
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}

	p := &Publisher{
		principal:    cfg.Principal,
		topicCaption: cfg.TopicCaption,
		topicDrop:    cfg.TopicDrop,
		metrics:      m,
		validator:    schema.New(),
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerCaption = newWriter(cfg.Brokers, cfg.TopicCaption, transport)
	p.writerDrop = newWriter(cfg.Brokers, cfg.TopicDrop, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicCaption", cfg.TopicCaption).
		Str("topicDrop", cfg.TopicDrop).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Transport:    transport,
	}
}

// PublishCaption publishes a caption-completed event keyed by session.
func (p *Publisher) PublishCaption(ctx context.Context, ev models.CaptionCompleted) error {
	if err := p.validator.Validate(ev); err != nil {
		log.Warn().Err(err).Str("captureId", ev.CaptureID).Msg("Rejected invalid caption event")
		return err
	}
	return p.publish(ctx, p.writerCaption, p.topicCaption, "caption", ev.SessionID, ev)
}

// PublishSpeechDropped publishes a speech-dropped event keyed by session.
func (p *Publisher) PublishSpeechDropped(ctx context.Context, ev models.SpeechDropped) error {
	if err := p.validator.Validate(ev); err != nil {
		log.Warn().Err(err).Str("captureId", ev.CaptureID).Msg("Rejected invalid drop event")
		return err
	}
	return p.publish(ctx, p.writerDrop, p.topicDrop, "speech_dropped", ev.SessionID, ev)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerCaption != nil {
		if e := p.writerCaption.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing caption writer")
			err = e
		}
	}
	if p.writerDrop != nil {
		if e := p.writerDrop.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing drop writer")
			err = e
		}
	}
	return err
}
