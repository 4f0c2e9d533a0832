package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jalehto/virta/pkg/api"
)

// PostgresInstanceStore is an InstanceStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib" or "github.com/lib/pq").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresInstanceStore struct {
	db *sql.DB
}

// Ensure PostgresInstanceStore implements InstanceStore.
var _ InstanceStore = (*PostgresInstanceStore)(nil)

// NewPostgresInstanceStore initializes the required schema in the given
// database and returns a new PostgresInstanceStore.
func NewPostgresInstanceStore(db *sql.DB) (*PostgresInstanceStore, error) {
	s := &PostgresInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			step TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			pending_step TEXT NOT NULL DEFAULT '',
			pending_reason TEXT NOT NULL DEFAULT '',
			state BYTEA,
			version BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);
	`)
	return err
}

func (s *PostgresInstanceStore) CreateInstance(ctx context.Context, inst *api.Instance) error {
	state, err := encodeState(inst.State)
	if err != nil {
		return err
	}

	pendingStep, pendingReason := "", ""
	if inst.Pending != nil {
		pendingStep, pendingReason = inst.Pending.Step, inst.Pending.Reason
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instances (id, step, status, pending_step, pending_reason, state, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inst.ID,
		inst.Step,
		string(inst.Status),
		pendingStep,
		pendingReason,
		state,
		inst.Version,
		inst.CreatedAt.UnixNano(),
		inst.UpdatedAt.UnixNano(),
	)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrInstanceExists
	}
	return err
}

func (s *PostgresInstanceStore) UpdateInstance(ctx context.Context, inst *api.Instance, expectedVersion int64) error {
	state, err := encodeState(inst.State)
	if err != nil {
		return err
	}

	pendingStep, pendingReason := "", ""
	if inst.Pending != nil {
		pendingStep, pendingReason = inst.Pending.Step, inst.Pending.Reason
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET step = $1, status = $2, pending_step = $3, pending_reason = $4, state = $5, version = $6, updated_at = $7
		WHERE id = $8 AND version = $9`,
		inst.Step,
		string(inst.Status),
		pendingStep,
		pendingReason,
		state,
		inst.Version,
		inst.UpdatedAt.UnixNano(),
		inst.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM instances WHERE id = $1`, inst.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInstanceNotFound
		}
		if err != nil {
			return err
		}
		return ErrVersionConflict
	}

	return nil
}

func (s *PostgresInstanceStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, step, status, pending_step, pending_reason, state, version, created_at, updated_at
		FROM instances
		WHERE id = $1`,
		id,
	)

	inst, err := scanInstance(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *PostgresInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	query := `
		SELECT id, step, status, pending_step, pending_reason, state, version, created_at, updated_at
		FROM instances`
	var args []any

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "$" + strconv.Itoa(i+1)
			args = append(args, string(status))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.Instance
	for rows.Next() {
		inst, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// PostgresAuditStore stores audit events in PostgreSQL. Sequence assignment
// happens inside the insert, the same way as the SQLite store.
type PostgresAuditStore struct {
	db *sql.DB
}

// Ensure PostgresAuditStore implements AuditStore.
var _ AuditStore = (*PostgresAuditStore)(nil)

func NewPostgresAuditStore(db *sql.DB) (*PostgresAuditStore, error) {
	s := &PostgresAuditStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresAuditStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			instance_id TEXT NOT NULL,
			sequence BIGINT NOT NULL,
			action TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			payload BYTEA,
			occurred_at BIGINT NOT NULL,
			PRIMARY KEY (instance_id, sequence)
		);
	`)
	return err
}

func (s *PostgresAuditStore) Append(ctx context.Context, ev api.AuditEvent) (int64, error) {
	payload, err := encodePayload(ev.Payload)
	if err != nil {
		return 0, err
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}

	var seq int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (instance_id, sequence, action, actor, category, payload, occurred_at)
		VALUES ($1, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM audit_events WHERE instance_id = $1), $2, $3, $4, $5, $6)
		RETURNING sequence`,
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
	return seq, nil
}

func (s *PostgresAuditStore) ListEvents(ctx context.Context, instanceID string) ([]api.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, sequence, action, actor, category, payload, occurred_at
		FROM audit_events
		WHERE instance_id = $1
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
