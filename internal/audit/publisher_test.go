package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingStore holds every Append until its context ends.
type blockingStore struct {
	*InMemoryStore
}

func (b blockingStore) Append(ctx context.Context, _ Event) error {
	<-ctx.Done()
	return ctx.Err()
}

type failingStore struct{}

func (failingStore) Append(context.Context, Event) error { return errors.New("disk full") }
func (failingStore) ListBySession(context.Context, string) ([]Event, error) {
	return nil, nil
}

func TestPublisher_SynchronousEmit(t *testing.T) {
	store := NewInMemoryStore()
	p := NewPublisher(store)

	require.NoError(t, p.Emit(context.Background(), Event{SessionID: "s1", Action: ActionSessionStarted}))
	require.NoError(t, p.Emit(context.Background(), Event{SessionID: "s2", Action: ActionSessionStarted}))

	events, err := store.ListBySession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ActionSessionStarted, events[0].Action)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPublisher_SynchronousEmitSurfacesStoreError(t *testing.T) {
	p := NewPublisher(failingStore{})
	assert.Error(t, p.Emit(context.Background(), Event{Action: ActionSubmitted}))
}

func TestPublisher_BufferedDrainsOnShutdown(t *testing.T) {
	store := NewInMemoryStore()
	p := NewPublisher(store, WithBuffer(8))

	for range 3 {
		require.NoError(t, p.Emit(context.Background(), Event{SessionID: "s1", Action: ActionGSTVerified}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	events, err := store.ListBySession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestPublisher_BufferedDropsWhenFull(t *testing.T) {
	store := NewInMemoryStore()
	p := NewPublisher(store, WithBuffer(1))

	require.NoError(t, p.Emit(context.Background(), Event{SessionID: "s1", Action: ActionSubmitted}))
	require.NoError(t, p.Emit(context.Background(), Event{SessionID: "s1", Action: ActionSubmitted}))

	assert.Len(t, p.queue, 1)
}

func TestPublisher_DrainIsBounded(t *testing.T) {
	p := NewPublisher(blockingStore{NewInMemoryStore()}, WithBuffer(8), WithDrainTimeout(50*time.Millisecond))
	for range 3 {
		require.NoError(t, p.Emit(context.Background(), Event{SessionID: "s1", Action: ActionSubmitted}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("drain ignored its timeout")
	}
}
