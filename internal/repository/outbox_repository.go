package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OutboxMessage is an integration event waiting to be published.
type OutboxMessage struct {
	ID        string
	Stream    string
	EventType string
	EventID   string
	Payload   []byte
	CreatedAt time.Time
	Attempts  int
	LastError *string
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Pending returns unpublished messages in the order they were written.
func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT id, stream, event_type, event_id, payload, created_at, attempts, last_error
		FROM outbox_messages
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("load pending outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var (
			m         OutboxMessage
			lastError sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Stream, &m.EventType, &m.EventID, &m.Payload, &m.CreatedAt, &m.Attempts, &lastError); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		m.LastError = stringPtr(lastError)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE outbox_messages SET published_at = ?, attempts = attempts + 1, last_error = NULL WHERE id = ?`),
		at, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox message %s published: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE outbox_messages SET attempts = attempts + 1, last_error = ? WHERE id = ?`),
		cause.Error(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox message %s failed: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_messages WHERE published_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending outbox messages: %w", err)
	}
	return n, nil
}

// PurgePublished deletes messages published before the cutoff.
func (r *OutboxRepository) PurgePublished(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.rebind(
		`DELETE FROM outbox_messages WHERE published_at IS NOT NULL AND published_at < ?`), before)
	if err != nil {
		return 0, fmt.Errorf("purge outbox messages: %w", err)
	}
	return res.RowsAffected()
}
