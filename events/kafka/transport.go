// Package kafka delivers event messages to one topic per target application.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/influxdata/onboarding/events"
	"github.com/segmentio/kafka-go"
)

// DefaultTopicPrefix prefixes every target topic.
const DefaultTopicPrefix = "onboarding"

// Writer is the subset of *kafka.Writer used by Transport.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Transport publishes each message to the topic of its target application, so
// only that application's consumers receive it.
type Transport struct {
	writer Writer
	prefix string
}

var _ events.Transport = (*Transport)(nil)

// NewTransport returns a Transport writing to brokers.
func NewTransport(brokers []string, prefix string) (*Transport, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka transport requires at least one broker")
	}
	return NewTransportWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}, prefix), nil
}

// NewTransportWithWriter returns a Transport over w.
func NewTransportWithWriter(w Writer, prefix string) *Transport {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Transport{
		writer: w,
		prefix: prefix,
	}
}

// Topic is the topic consumed by target.
func Topic(prefix, target string) string {
	return prefix + "." + strings.ToLower(target)
}

// Publish writes m keyed by tenant so a tenant's events stay ordered.
func (t *Transport) Publish(ctx context.Context, m events.Message) error {
	if m.TargetApplication == "" {
		return fmt.Errorf("message %q has no target application", m.EventType)
	}
	value, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return t.writer.WriteMessages(ctx, kafka.Message{
		Topic: Topic(t.prefix, m.TargetApplication),
		Key:   []byte(m.TenantID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(m.EventType)},
			{Key: "source_application", Value: []byte(m.SourceApplication)},
			{Key: "dedupe_key", Value: []byte(m.DedupeKey)},
		},
		Time: time.Now().UTC(),
	})
}

func (t *Transport) Close() error {
	return t.writer.Close()
}
