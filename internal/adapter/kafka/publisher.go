package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/flood-pulse-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Message header keys set on every published observation.
const (
	HeaderRoadID    = "road_id"
	HeaderStatus    = "status"
	HeaderCreatedAt = "created_at"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces accepted observations to a Kafka topic.
// It implements submission.Publisher.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// publishBatchTimeout bounds how long a write waits for a batch to fill.
// Publish runs inside the report request, so it must not sit on the
// writer's one second default.
const publishBatchTimeout = 10 * time.Millisecond

// NewPublisher creates a Kafka producer for the observation topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
		BatchTimeout:           publishBatchTimeout,
	}
	return &Publisher{writer: w, topic: topic, logger: logger}
}

// Publish writes one observation keyed by road, so that reports for the same
// road stay ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, obs domain.Observation) error {
	msg, err := serializeToMessage(obs)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish observation to %s: %w", p.topic, err)
	}
	p.logger.Debug("observation published", "observation_id", obs.ID, "topic", p.topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals an Observation into a Kafka message. The
// submitter fingerprint is never part of the payload.
func serializeToMessage(obs domain.Observation) (kafkago.Message, error) {
	data, err := json.Marshal(obs)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(obs.RoadID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: HeaderRoadID, Value: []byte(obs.RoadID)},
			{Key: HeaderStatus, Value: []byte(strconv.Itoa(int(obs.Status)))},
			{Key: HeaderCreatedAt, Value: []byte(obs.CreatedAt.Format(time.RFC3339Nano))},
		},
	}, nil
}
