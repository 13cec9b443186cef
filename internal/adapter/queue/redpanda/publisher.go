// Package redpanda publishes batch verdict events to Redpanda/Kafka.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
	obsctx "github.com/fairyhunter13/biodata-screener/internal/observability"
)

// DefaultTopic receives one event per completed batch.
const DefaultTopic = "batch-verdicts"

// EventBatchCompleted is the event type carried in every record.
const EventBatchCompleted = "batch.completed"

// BatchEvent is the JSON payload of a verdict record.
type BatchEvent struct {
	Type           string                   `json:"type"`
	BatchID        string                   `json:"batch_id"`
	Model          string                   `json:"model"`
	ProcessedFiles int                      `json:"processed_files"`
	MatchedFiles   int                      `json:"matched_files"`
	Counts         map[domain.Verdict]int   `json:"counts"`
	Matches        []domain.Match           `json:"matches"`
	Verdicts       []domain.DocumentVerdict `json:"verdicts"`
	CreatedAt      time.Time                `json:"created_at"`
}

// producer is the subset of *kgo.Client the publisher needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Publisher implements domain.EventPublisher.
type Publisher struct {
	client producer
	topic  string
}

var _ domain.EventPublisher = (*Publisher)(nil)

// NewPublisher connects to brokers, traces produce calls through kotel and
// makes sure topic exists.
func NewPublisher(ctx context.Context, brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	kt := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.WithHooks(kt.Hooks()...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
		kgo.DialTimeout(10*time.Second),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}
	if err := ensureTopic(ctx, client, defaultTopicSpec(topic)); err != nil {
		slog.Warn("topic bootstrap failed", slog.String("topic", topic), slog.Any("error", err))
	}
	slog.Info("redpanda publisher ready", slog.Any("brokers", brokers), slog.String("topic", topic))
	return &Publisher{client: client, topic: topic}, nil
}

// NewBatchEvent builds the event payload for b.
func NewBatchEvent(b domain.BatchResult) BatchEvent {
	return BatchEvent{
		Type:           EventBatchCompleted,
		BatchID:        b.BatchID,
		Model:          b.Model,
		ProcessedFiles: b.ProcessedFiles,
		MatchedFiles:   b.MatchedFiles,
		Counts:         b.CountByVerdict(),
		Matches:        b.Matches,
		Verdicts:       b.Verdicts,
		CreatedAt:      b.CreatedAt,
	}
}

// PublishBatch produces one record keyed by batch id and waits for the ack.
func (p *Publisher) PublishBatch(ctx domain.Context, b domain.BatchResult) error {
	payload, err := json.Marshal(NewBatchEvent(b))
	if err != nil {
		return fmt.Errorf("op=redpanda.PublishBatch: marshal: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(b.BatchID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(EventBatchCompleted)},
			{Key: "batch_id", Value: []byte(b.BatchID)},
			{Key: "content_type", Value: []byte("application/json")},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=redpanda.PublishBatch: produce: %w", err)
	}
	obsctx.LoggerFromContext(ctx).Debug("batch event published",
		slog.String("topic", p.topic),
		slog.Int("bytes", len(payload)))
	return nil
}

// Close flushes and closes the client.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
