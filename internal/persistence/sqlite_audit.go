package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jalehto/virta/pkg/api"
)

// SQLiteAuditStore stores audit events in SQLite.
//
// The per-instance sequence is assigned inside the insert itself, so an
// append is atomic: it either writes a fully-formed event at the next
// sequence or writes nothing.
type SQLiteAuditStore struct {
	db *sql.DB
}

// Ensure SQLiteAuditStore implements AuditStore.
var _ AuditStore = (*SQLiteAuditStore)(nil)

func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	s := &SQLiteAuditStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAuditStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			instance_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			action TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			payload BLOB,
			occurred_at INTEGER NOT NULL,
			PRIMARY KEY (instance_id, sequence)
		);
	`)
	return err
}

func (s *SQLiteAuditStore) Append(ctx context.Context, ev api.AuditEvent) (int64, error) {
	payload, err := encodePayload(ev.Payload)
	if err != nil {
		return 0, err
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO audit_events (instance_id, sequence, action, actor, category, payload, occurred_at)
		VALUES (?, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM audit_events WHERE instance_id = ?), ?, ?, ?, ?, ?)
		RETURNING sequence`,
		ev.InstanceID,
		ev.InstanceID,
		ev.Action,
		ev.Actor,
		ev.Category,
		payload,
		at.UnixNano(),
	).Scan(&seq)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *SQLiteAuditStore) ListEvents(ctx context.Context, instanceID string) ([]api.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, sequence, action, actor, category, payload, occurred_at
		FROM audit_events
		WHERE instance_id = ?
		ORDER BY sequence ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.AuditEvent
	for rows.Next() {
		var (
			ev      api.AuditEvent
			payload []byte
			atN     int64
		)
		if err := rows.Scan(&ev.InstanceID, &ev.Sequence, &ev.Action, &ev.Actor, &ev.Category, &payload, &atN); err != nil {
			return nil, err
		}
		ev.OccurredAt = time.Unix(0, atN)
		p, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		ev.Payload = p
		out = append(out, ev)
	}
	return out, rows.Err()
}
