package virta

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/jalehto/virta/internal/engine"
	"github.com/jalehto/virta/internal/persistence"
	"github.com/jalehto/virta/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Registry             = api.Registry
	Instance             = api.Instance
	State                = api.State
	Status               = api.Status
	StepFunc             = api.StepFunc
	StepDefinition       = api.StepDefinition
	Outcome              = api.Outcome
	OutcomeKind          = api.OutcomeKind
	PendingInterrupt     = api.PendingInterrupt
	ResumeRequest        = api.ResumeRequest
	AuditEvent           = api.AuditEvent
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export the outcome constructors and common observer helpers.

var (
	Advance   = api.Advance
	Interrupt = api.Interrupt
	Complete  = api.Complete
	Fail      = api.Fail

	NewRegistry          = api.NewRegistry
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusRunning     = api.StatusRunning
	StatusInterrupted = api.StatusInterrupted
	StatusCompleted   = api.StatusCompleted
	StatusFailed      = api.StatusFailed
	StatusStalled     = api.StatusStalled
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
// Not durable; intended for tests and local development.
func NewInMemoryEngine(reg *Registry) (Engine, error) {
	return NewInMemoryEngineWithObserver(reg, nil)
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(reg *Registry, obs Observer) (Engine, error) {
	mem := persistence.NewInMemoryStore()
	return engine.New(engine.Config{
		Registry: reg,
		Persistence: persistence.Persistence{
			Instances: mem,
			Audit:     mem,
		},
		Observer: obs,
	})
}

// NewSQLiteEngine returns an Engine that persists instances and audit
// events in a SQLite database. The caller imports the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
func NewSQLiteEngine(db *sql.DB, reg *Registry) (Engine, error) {
	return NewSQLiteEngineWithObserver(db, reg, nil)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, reg *Registry, obs Observer) (Engine, error) {
	instances, err := persistence.NewSQLiteInstanceStore(db)
	if err != nil {
		return nil, err
	}
	audit, err := persistence.NewSQLiteAuditStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Registry: reg,
		Persistence: persistence.Persistence{
			Instances: instances,
			Audit:     audit,
		},
		Observer: obs,
	})
}

// NewPostgresEngine returns an Engine that persists instances and audit
// events in PostgreSQL. The caller imports a driver such as
// "github.com/jackc/pgx/v5/stdlib".
func NewPostgresEngine(db *sql.DB, reg *Registry) (Engine, error) {
	return NewPostgresEngineWithObserver(db, reg, nil)
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with the given Observer.
func NewPostgresEngineWithObserver(db *sql.DB, reg *Registry, obs Observer) (Engine, error) {
	instances, err := persistence.NewPostgresInstanceStore(db)
	if err != nil {
		return nil, err
	}
	audit, err := persistence.NewPostgresAuditStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Registry: reg,
		Persistence: persistence.Persistence{
			Instances: instances,
			Audit:     audit,
		},
		Observer: obs,
	})
}

// NewRedisEngine returns an Engine that persists instances and audit
// events in Redis.
func NewRedisEngine(client *redis.Client, reg *Registry) (Engine, error) {
	return NewRedisEngineWithObserver(client, reg, nil)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(client *redis.Client, reg *Registry, obs Observer) (Engine, error) {
	store := persistence.NewRedisStore(client, "virta:")
	return engine.New(engine.Config{
		Registry: reg,
		Persistence: persistence.Persistence{
			Instances: store,
			Audit:     store,
		},
		Observer: obs,
	})
}

// Convenience helpers that just forward to the underlying Engine.

// Start starts a new workflow instance and runs it to its first stopping
// point.
func Start(ctx context.Context, eng Engine, initial State, actor string) (*Instance, error) {
	return eng.Start(ctx, initial, actor)
}

// Resume delivers external input to an interrupted instance.
func Resume(ctx context.Context, eng Engine, id string, req ResumeRequest) (*Instance, error) {
	return eng.Resume(ctx, id, req)
}

// GetInstance fetches an instance snapshot by ID.
func GetInstance(ctx context.Context, eng Engine, id string) (*Instance, error) {
	return eng.GetInstance(ctx, id)
}

// ListActive lists all RUNNING, INTERRUPTED and STALLED instances.
func ListActive(ctx context.Context, eng Engine) ([]*Instance, error) {
	return eng.ListActive(ctx)
}

// AuditTrail returns the ordered audit events for an instance.
func AuditTrail(ctx context.Context, eng Engine, id string) ([]AuditEvent, error) {
	return eng.AuditTrail(ctx, id)
}
