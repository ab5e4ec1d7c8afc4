package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherPublish(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, topic: "review-events"}

	prev := decimal.RequireFromString("6.5")
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), ReviewEvent{
		EventType:      TypeReviewUpdated,
		ReviewID:       "r1",
		MovieID:        "m1",
		UserID:         "u1",
		Rating:         decimal.RequireFromString("8.0"),
		PreviousRating: &prev,
		AverageRating:  decimal.RequireFromString("7.25"),
		VoteCount:      4,
		Timestamp:      ts,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "m1", string(msg.Key))
	assert.Equal(t, ts, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, TypeReviewUpdated, string(msg.Headers[0].Value))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "REVIEW_UPDATED", body["event_type"])
	assert.Equal(t, "8", body["rating"])
	assert.Equal(t, "6.5", body["previous_rating"])
	assert.Equal(t, "7.25", body["average_rating"])
	assert.EqualValues(t, 4, body["vote_count"])
}

func TestKafkaPublisherOmitsPreviousRating(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, topic: "review-events"}

	require.NoError(t, p.Publish(context.Background(), ReviewEvent{EventType: TypeReviewCreated, MovieID: "m1"}))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &body))
	assert.NotContains(t, body, "previous_rating")
}

func TestKafkaPublisherWriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker unavailable")}
	p := &KafkaPublisher{writer: w, topic: "review-events"}

	err := p.Publish(context.Background(), ReviewEvent{EventType: TypeReviewDeleted, MovieID: "m1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "review-events")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), ReviewEvent{}))
	assert.NoError(t, p.Close())
}
