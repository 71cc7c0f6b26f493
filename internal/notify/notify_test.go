package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/internal/streaming"
)

func TestHubSink_PublishesTaskReady(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{OrgID: "org-1"})
	require.NoError(t, err)
	defer cancel()

	sink := NewHubSink(hub)
	require.NoError(t, sink.Notify(context.Background(), Notification{
		Kind: KindTaskReady, OrgID: "org-1", RunID: "r1", StepID: "s1", Recipient: "u1",
	}))

	select {
	case evt := <-ch:
		assert.Equal(t, streaming.EventTaskReady, evt.EventType)
		assert.Equal(t, "r1", evt.SubjectID)
		n, ok := evt.Payload.(Notification)
		require.True(t, ok)
		assert.Equal(t, "u1", n.Recipient)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logging.New(&buf, "info", "json"))

	require.NoError(t, sink.Notify(context.Background(), Notification{
		Kind: KindMessage, RunID: "r1", Recipient: "ops@example.com", Subject: "Invoice received",
	}))
	assert.Contains(t, buf.String(), `"recipient":"ops@example.com"`)
	assert.Contains(t, buf.String(), `"kind":"message"`)
}

type failingSink struct{ calls int }

func (f *failingSink) Notify(context.Context, Notification) error {
	f.calls++
	return errors.New("smtp down")
}

func TestMulti_CallsEverySink(t *testing.T) {
	a, b := &failingSink{}, &failingSink{}
	err := Multi{a, NewLogSink(logging.Discard()), b}.Notify(context.Background(), Notification{})
	assert.EqualError(t, err, "smtp down")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}
