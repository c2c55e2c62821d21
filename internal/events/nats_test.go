package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nexhub-labs/coordinator/internal/events"
	"github.com/nexhub-labs/coordinator/internal/testutil"
)

func TestNATSPublisherPublishesEvents(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	publisher, err := events.NewNATSPublisher(js, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = publisher.Publish(context.Background(), events.Event{
		Subject:    events.SubjectTaskCreated,
		TaskID:     "task-1",
		WorkflowID: "wf-1",
	})
	require.NoError(t, err)

	messages, err := testutil.ConsumeMessages(js, "task.*", 500*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	var event events.Event
	require.NoError(t, json.Unmarshal(messages[0], &event))
	assert.Equal(t, events.SubjectTaskCreated, event.Subject)
	assert.Equal(t, "task-1", event.TaskID)
	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestNATSPublisherReusesExistingStream(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	first, err := events.NewNATSPublisher(js, zaptest.NewLogger(t))
	require.NoError(t, err)
	second, err := events.NewNATSPublisher(js, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, first.Publish(ctx, events.Event{Subject: events.SubjectWorkerRegistered, WorkerID: "w1"}))
	require.NoError(t, second.Publish(ctx, events.Event{Subject: events.SubjectWorkerUnregistered, WorkerID: "w1"}))

	messages, err := testutil.ConsumeMessages(js, "worker.*", 500*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestNATSPublisherHonorsContext(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	publisher, err := events.NewNATSPublisher(js, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = publisher.Publish(ctx, events.Event{
		Subject: events.SubjectTaskCreated,
		TaskID:  "task-1",
	})
	assert.Error(t, err)
}

func TestNopPublisherDiscards(t *testing.T) {
	var p events.NopPublisher
	assert.NoError(t, p.Publish(context.Background(), events.Event{Subject: events.SubjectTaskFailed}))
}
