// Package events publishes review lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/movietn/internal/metrics"
)

const (
	TypeReviewCreated = "REVIEW_CREATED"
	TypeReviewUpdated = "REVIEW_UPDATED"
	TypeReviewDeleted = "REVIEW_DELETED"
)

// ReviewEvent is emitted after a review change has committed.
type ReviewEvent struct {
	EventType      string           `json:"event_type"`
	ReviewID       string           `json:"review_id"`
	MovieID        string           `json:"movie_id"`
	UserID         string           `json:"user_id"`
	Rating         decimal.Decimal  `json:"rating"`
	PreviousRating *decimal.Decimal `json:"previous_rating,omitempty"`
	AverageRating  decimal.Decimal  `json:"average_rating"`
	VoteCount      int64            `json:"vote_count"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Publisher hands events to a broker.
type Publisher interface {
	Publish(ctx context.Context, event ReviewEvent) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by movie id so that every event of one
// movie lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher returns a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: writer, topic: topic}
}

// Publish writes event keyed by movie id so a movie's events stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, event ReviewEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.EventType, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.MovieID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	err = p.writer.WriteMessages(ctx, msg)
	metrics.RecordEvent(event.EventType, err)
	if err != nil {
		return fmt.Errorf("failed to write message to kafka topic %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. It is used when no brokers are configured.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, ReviewEvent) error { return nil }

// Close is a no-op.
func (NopPublisher) Close() error { return nil }
