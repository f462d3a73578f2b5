package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingAuditStore struct{}

func (failingAuditStore) Append(context.Context, Event) error {
	return errors.New("disk full")
}

func (failingAuditStore) ListByEntity(context.Context, string) ([]Event, error) {
	return nil, nil
}

type capturingPublisher struct {
	events []Event
}

func (p *capturingPublisher) Publish(_ context.Context, event Event) {
	p.events = append(p.events, event)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmit(t *testing.T) {
	store := NewInMemoryStore()
	svc := NewService(store, nil, discardLogger())

	svc.Emit(context.Background(), Event{
		Action:   ActionPaymentRecorded,
		ActorID:  "tre-1",
		EntityID: "pay-1",
	})

	events, err := svc.ListByEntity(context.Background(), "pay-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero(), "Emit must stamp the event")
}

func TestEmit_PreservesExplicitTimestamp(t *testing.T) {
	store := NewInMemoryStore()
	svc := NewService(store, nil, discardLogger())

	at := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	svc.Emit(context.Background(), Event{Action: ActionPaymentVoided, EntityID: "pay-1", Timestamp: at})

	events := store.All()
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.Equal(at))
}

func TestEmit_StoreFailureDoesNotPanic(t *testing.T) {
	svc := NewService(failingAuditStore{}, nil, discardLogger())

	// Must not propagate: a failed audit write cannot abort a committed
	// payment.
	svc.Emit(context.Background(), Event{Action: ActionPaymentRecorded, EntityID: "pay-1"})
}

func TestEmit_FansOutToPublisher(t *testing.T) {
	publisher := &capturingPublisher{}
	svc := NewService(NewInMemoryStore(), publisher, discardLogger())

	svc.Emit(context.Background(), Event{Action: ActionSectionCreated, EntityID: "sec-1"})

	require.Len(t, publisher.events, 1)
	assert.Equal(t, ActionSectionCreated, publisher.events[0].Action)
}
