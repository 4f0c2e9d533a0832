package engine

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/jalehto/virta/internal/persistence"
	"github.com/jalehto/virta/pkg/api"
)

// The full approval cycle against real SQLite persistence: every checkpoint
// round-trips through JSON and the version column.
func TestEngineOnSQLite(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	instances, err := persistence.NewSQLiteInstanceStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteInstanceStore failed: %v", err)
	}
	audit, err := persistence.NewSQLiteAuditStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteAuditStore failed: %v", err)
	}

	eng, err := New(Config{
		Registry: approvalRegistry(t),
		Persistence: persistence.Persistence{
			Instances: instances,
			Audit:     audit,
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	inst, err := eng.Start(ctx, api.State{"clientName": "Jane"}, "api")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if inst.Status != api.StatusInterrupted || inst.Step != "gate" {
		t.Fatalf("unexpected parked instance: status=%s step=%s", inst.Status, inst.Step)
	}

	// Reload through the store to prove the checkpoint is durable, not
	// just the in-process value.
	loaded, err := eng.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if loaded.Version != inst.Version || loaded.Pending == nil {
		t.Fatalf("durable snapshot mismatch: %+v", loaded)
	}

	done, err := eng.Resume(ctx, inst.ID, api.ResumeRequest{
		Payload: api.State{api.KeyAction: "approve"},
		Actor:   "alice",
	})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if done.Status != api.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", done.Status)
	}

	got := auditActions(t, eng, inst.ID)
	if len(got) != 6 || got[len(got)-1] != api.ActionCompleted {
		t.Fatalf("unexpected audit trail: %v", got)
	}
}
