package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jalehto/virta/pkg/api"
)

// SQLiteInstanceStore is an InstanceStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteInstanceStore struct {
	db *sql.DB
}

// Ensure SQLiteInstanceStore implements InstanceStore.
var _ InstanceStore = (*SQLiteInstanceStore)(nil)

// NewSQLiteInstanceStore initializes the required schema in the given
// database and returns a new SQLiteInstanceStore.
func NewSQLiteInstanceStore(db *sql.DB) (*SQLiteInstanceStore, error) {
	s := &SQLiteInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			step TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			pending_step TEXT NOT NULL DEFAULT '',
			pending_reason TEXT NOT NULL DEFAULT '',
			state BLOB,
			version INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);`,
	)
	return err
}

func (s *SQLiteInstanceStore) CreateInstance(ctx context.Context, inst *api.Instance) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrInstanceExists
	}
	return err
}

func (s *SQLiteInstanceStore) UpdateInstance(ctx context.Context, inst *api.Instance, expectedVersion int64) error {
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
		SET step = ?, status = ?, pending_step = ?, pending_reason = ?, state = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
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
		// Either the row is gone or another writer won the version race.
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM instances WHERE id = ?`, inst.ID).Scan(&exists)
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

func (s *SQLiteInstanceStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, step, status, pending_step, pending_reason, state, version, created_at, updated_at
		FROM instances
		WHERE id = ?`,
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

func (s *SQLiteInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	query := `
		SELECT id, step, status, pending_step, pending_reason, state, version, created_at, updated_at
		FROM instances`
	var args []any

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
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

// scanInstance decodes one instance row. The scan argument order must match
// the SELECT column order used by GetInstance and ListInstances.
func scanInstance(scan func(dest ...any) error) (*api.Instance, error) {
	var (
		inst          api.Instance
		statusStr     string
		pendingStep   string
		pendingReason string
		state         []byte
		createdAt     int64
		updatedAt     int64
	)
	if err := scan(&inst.ID, &inst.Step, &statusStr, &pendingStep, &pendingReason, &state, &inst.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	inst.Status = api.Status(statusStr)
	inst.CreatedAt = time.Unix(0, createdAt)
	inst.UpdatedAt = time.Unix(0, updatedAt)
	if pendingStep != "" || pendingReason != "" {
		inst.Pending = &api.PendingInterrupt{Step: pendingStep, Reason: pendingReason}
	}

	st, err := decodeState(state)
	if err != nil {
		return nil, err
	}
	inst.State = st

	return &inst, nil
}
