package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPubSub_PublishSubscribe(t *testing.T) {
	b := NewLocalPubSub()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := OutputTopic("job-1")
	ch, err := b.Subscribe(ctx, topic)
	require.NoError(t, err)

	msg := Message{Kind: KindOutput, JobID: "job-1", Stream: StreamStdout, Data: []byte("hi\n")}
	require.NoError(t, b.Publish(ctx, topic, msg))

	select {
	case got := <-ch:
		assert.Equal(t, msg.JobID, got.JobID)
		assert.Equal(t, msg.Data, got.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestLocalPubSub_OrderingPerTopic(t *testing.T) {
	b := NewLocalPubSub()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := OutputTopic("job-2")
	ch, err := b.Subscribe(ctx, topic)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, topic, Message{
			Kind:  KindOutput,
			JobID: "job-2",
			Data:  []byte{byte(i)},
		}))
	}

	for i := 0; i < 5; i++ {
		select {
		case got := <-ch:
			assert.Equal(t, []byte{byte(i)}, got.Data)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestLocalPubSub_UnsubscribeOnContextDone(t *testing.T) {
	b := NewLocalPubSub()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	topic := CompleteTopic("job-3")
	ch, err := b.Subscribe(ctx, topic)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestLocalPubSub_NoSubscribersDoesNotBlock(t *testing.T) {
	b := NewLocalPubSub()
	defer b.Close()

	err := b.Publish(context.Background(), OutputTopic("no-subscribers"), Message{Kind: KindOutput})
	assert.NoError(t, err)
}
