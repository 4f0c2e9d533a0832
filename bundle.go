package virta

import (
	"database/sql"
	"log/slog"

	"github.com/jalehto/virta/pkg/httpapi"
	"github.com/jalehto/virta/pkg/sweeper"
)

// ServiceBundle wires together an Engine, a timeout Sweeper, and the HTTP
// control surface on top of a single durable store.
type ServiceBundle struct {
	Engine  Engine
	Sweeper *sweeper.Sweeper
	Server  *httpapi.Server
}

// BundleConfig configures a ServiceBundle.
type BundleConfig struct {
	Sweeper  sweeper.Config
	HTTP     httpapi.Config
	Observer Observer
	Logger   *slog.Logger
}

// NewSQLiteBundle constructs a durable Engine + Sweeper + HTTP server combo
// sharing the same SQLite database.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:virta.db?_journal=WAL")
//	bundle, err := virta.NewSQLiteBundle(db, reg, virta.BundleConfig{})
//	http.ListenAndServe(":8080", bundle.Server.Handler())
func NewSQLiteBundle(db *sql.DB, reg *Registry, cfg BundleConfig) (*ServiceBundle, error) {
	eng, err := NewSQLiteEngineWithObserver(db, reg, cfg.Observer)
	if err != nil {
		return nil, err
	}
	return newBundle(eng, cfg), nil
}

// NewInMemoryBundle is NewSQLiteBundle without durability, for tests and
// local development.
func NewInMemoryBundle(reg *Registry, cfg BundleConfig) (*ServiceBundle, error) {
	eng, err := NewInMemoryEngineWithObserver(reg, cfg.Observer)
	if err != nil {
		return nil, err
	}
	return newBundle(eng, cfg), nil
}

func newBundle(eng Engine, cfg BundleConfig) *ServiceBundle {
	if cfg.Sweeper.Logger == nil {
		cfg.Sweeper.Logger = cfg.Logger
	}
	if cfg.HTTP.Logger == nil {
		cfg.HTTP.Logger = cfg.Logger
	}
	sw := sweeper.New(eng, cfg.Sweeper)
	srv := httpapi.New(eng, sw, cfg.HTTP)
	return &ServiceBundle{
		Engine:  eng,
		Sweeper: sw,
		Server:  srv,
	}
}
