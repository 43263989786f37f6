package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/influxdata/onboarding/events"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestTransport_Publish(t *testing.T) {
	w := &fakeWriter{}
	tr := NewTransportWithWriter(w, "")

	msg := events.Message{
		EventType:         events.EventTypeApplicationProvisioned,
		SourceApplication: "tenant-onboarding",
		TargetApplication: "HR",
		TenantID:          platform.ID(0x0a),
		Payload:           json.RawMessage(`{"appCode":"hr"}`),
		DedupeKey:         "k1",
	}
	require.NoError(t, tr.Publish(context.Background(), msg))
	require.Len(t, w.msgs, 1)

	got := w.msgs[0]
	assert.Equal(t, "onboarding.hr", got.Topic)
	assert.Equal(t, "000000000000000a", string(got.Key))

	var decoded events.Message
	require.NoError(t, json.Unmarshal(got.Value, &decoded))
	assert.Equal(t, msg.TargetApplication, decoded.TargetApplication)
	assert.JSONEq(t, `{"appCode":"hr"}`, string(decoded.Payload))

	require.NoError(t, tr.Close())
	assert.True(t, w.closed)
}

func TestTransport_PublishErrors(t *testing.T) {
	tr := NewTransportWithWriter(&fakeWriter{}, "p")
	require.Error(t, tr.Publish(context.Background(), events.Message{EventType: "x"}))

	tr = NewTransportWithWriter(&fakeWriter{err: errors.New("broker down")}, "p")
	require.EqualError(t, tr.Publish(context.Background(), events.Message{EventType: "x", TargetApplication: "crm"}), "broker down")
}

func TestNewTransportRequiresBrokers(t *testing.T) {
	_, err := NewTransport(nil, "p")
	require.Error(t, err)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "onboarding.crm", Topic("onboarding", "CRM"))
}
