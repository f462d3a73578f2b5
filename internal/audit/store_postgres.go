package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists audit events in PostgreSQL. Details are stored as
// JSONB so the schema survives new detail fields.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the audit table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id         BIGSERIAL PRIMARY KEY,
			timestamp  TIMESTAMPTZ NOT NULL,
			action     TEXT NOT NULL,
			actor_id   TEXT NOT NULL,
			entity_id  TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			details    JSONB
		)`)
	if err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (timestamp, action, actor_id, entity_id, request_id, details)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.Timestamp, string(event.Action), event.ActorID, event.EntityID, event.RequestID, details,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entityID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, action, actor_id, entity_id, request_id, details
		FROM audit_events WHERE entity_id = $1 ORDER BY id`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var event Event
		var action string
		var details []byte
		if err := rows.Scan(&event.Timestamp, &action, &event.ActorID, &event.EntityID, &event.RequestID, &details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = Action(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
