package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"memberauth/internal/events"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w}

	e := events.New(events.TypeRefreshReused, "42", map[string]string{"jti": "abcd***wxyz"})
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, events.TypeRefreshReused, string(msg.Headers[0].Value))

	var got events.Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Type, got.Type)
	assert.Equal(t, "abcd***wxyz", got.Data["jti"])
}

func TestPublish_WriterError(t *testing.T) {
	p := &Publisher{writer: &fakeWriter{err: errors.New("broker down")}}

	err := p.Publish(context.Background(), events.New(events.TypeLoggedOut, "1", nil))
	require.ErrorContains(t, err, "broker down")
}
