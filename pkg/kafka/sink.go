package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jg100/airbyte/pkg/metrics"
	"github.com/jg100/airbyte/pkg/slidingwindow"
)

// Record headers.
const (
	HeaderStream = "stream"
	HeaderRunID  = "run_id"
)

// RecordProducer produces one message synchronously.
type RecordProducer interface {
	Produce(ctx context.Context, msg Msg) error
}

// Sink publishes the records of one stream as JSON messages. Messages are
// keyed by the stream and the record's primary key so that a re-fetched
// window overwrites its previous records in a compacted topic.
type Sink struct {
	producer   RecordProducer
	topic      string
	stream     string
	primaryKey []string
	runID      string
	m          *metrics.Metrics
}

// NewSink creates a sink with a fresh run ID. m may be nil.
func NewSink(producer RecordProducer, topic, stream string, primaryKey []string, m *metrics.Metrics) (*Sink, error) {
	if producer == nil {
		return nil, errors.New("invalid producer: must not be nil")
	}
	if topic == "" {
		return nil, errors.New("invalid topic: must not be empty")
	}
	if stream == "" {
		return nil, errors.New("invalid stream: must not be empty")
	}
	return &Sink{
		producer:   producer,
		topic:      topic,
		stream:     stream,
		primaryKey: primaryKey,
		runID:      uuid.NewString(),
		m:          m,
	}, nil
}

// RunID identifies the sync run that published a record.
func (s *Sink) RunID() string {
	return s.runID
}

// Publish produces rec and waits for the broker acknowledgement.
func (s *Sink) Publish(ctx context.Context, rec slidingwindow.Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		s.m.RecordPublish(err)
		return fmt.Errorf("failed to encode record of stream %s: %w", s.stream, err)
	}

	err = s.producer.Produce(ctx, Msg{
		Topic: s.topic,
		Key:   []byte(s.Key(rec)),
		Value: value,
		Headers: map[string]string{
			HeaderStream: s.stream,
			HeaderRunID:  s.runID,
		},
	})
	s.m.RecordPublish(err)
	if err != nil {
		return fmt.Errorf("failed to publish record of stream %s: %w", s.stream, err)
	}
	return nil
}

// Key joins the stream name and the primary key values of rec with "|".
// Missing fields are empty.
func (s *Sink) Key(rec slidingwindow.Record) string {
	parts := make([]string, 0, len(s.primaryKey)+1)
	parts = append(parts, s.stream)
	for _, field := range s.primaryKey {
		v, ok := rec[field]
		if !ok || v == nil {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, "|")
}
