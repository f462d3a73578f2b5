// Package audit records an immutable action log entry for every
// state-changing operation. Emission is fire-and-forget: a failed audit write
// is logged, never propagated, so it cannot abort a committed payment.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Store appends events to a persistent log.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEntity(ctx context.Context, entityID string) ([]Event, error)
}

// Publisher fans events out to an external pipeline (e.g. Kafka). Optional.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Service captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Service struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

func NewService(store Store, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, publisher: publisher, logger: logger}
}

// Emit stamps and records the event. Failures are logged, not returned.
func (s *Service) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := s.store.Append(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed",
			"action", event.Action,
			"entity_id", event.EntityID,
			"error", err,
		)
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, event)
	}
}

// ListByEntity returns the recorded history for one entity.
func (s *Service) ListByEntity(ctx context.Context, entityID string) ([]Event, error) {
	return s.store.ListByEntity(ctx, entityID)
}
