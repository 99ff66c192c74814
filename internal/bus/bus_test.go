package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeByType(t *testing.T) {
	b := New()
	defer b.Close()

	planEvents := b.Subscribe(PlanStarted)
	b.Publish(PlanStarted, map[string]interface{}{"objective": "x"})
	b.Publish(FeedbackApplied, nil)

	select {
	case ev := <-planEvents:
		assert.Equal(t, PlanStarted, ev.Type)
		assert.Equal(t, "x", ev.Payload["objective"])
	case <-time.After(time.Second):
		t.Fatal("expected plan_started event")
	}

	select {
	case ev := <-planEvents:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestSubscribeAll(t *testing.T) {
	b := New()
	defer b.Close()

	all := b.Subscribe()
	b.Publish(PlanStarted, nil)
	b.Publish(PlanCompleted, nil)

	require.Equal(t, PlanStarted, (<-all).Type)
	require.Equal(t, PlanCompleted, (<-all).Type)
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	defer b.Close()

	b.Subscribe(PlanStarted) // never drained
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(PlanStarted, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestCloseClosesChannels(t *testing.T) {
	b := New()
	ch := b.Subscribe(PlanFailed)
	b.Close()

	_, open := <-ch
	assert.False(t, open)

	// safe after close
	b.Publish(PlanFailed, nil)
	b.Close()
}
