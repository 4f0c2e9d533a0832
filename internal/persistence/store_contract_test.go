package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jalehto/virta/pkg/api"
)

// The three backends share one behavioral contract; each backend's test
// file runs these against its own store.

func newContractInstance(id string, at time.Time) *api.Instance {
	return &api.Instance{
		ID:      id,
		Step:    "collect_lead",
		State:   api.State{"clientName": "Jane Doe", "reminderCount": 2},
		Version: 1,
		Status:  api.StatusRunning,

		CreatedAt: at,
		UpdatedAt: at,
	}
}

func runInstanceStoreContract(t *testing.T, store InstanceStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	inst := newContractInstance("i-1", base)
	if err := store.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	if err := store.CreateInstance(ctx, inst); !errors.Is(err, ErrInstanceExists) {
		t.Fatalf("expected ErrInstanceExists, got %v", err)
	}

	got, err := store.GetInstance(ctx, "i-1")
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if got.Step != "collect_lead" || got.Status != api.StatusRunning || got.Version != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.State.String("clientName") != "Jane Doe" {
		t.Fatalf("state lost: %v", got.State)
	}
	if got.State.Int("reminderCount") != 2 {
		t.Fatalf("numeric state lost: %v", got.State["reminderCount"])
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("created_at mismatch: %v", got.CreatedAt)
	}

	if _, err := store.GetInstance(ctx, "ghost"); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}

	// The successful CAS path.
	next := got.Clone()
	next.Step = "schedule_meeting"
	next.Version = 2
	next.Pending = &api.PendingInterrupt{Step: "schedule_meeting", Reason: "awaiting-calendar"}
	next.Status = api.StatusInterrupted
	next.UpdatedAt = base.Add(time.Minute)
	if err := store.UpdateInstance(ctx, next, 1); err != nil {
		t.Fatalf("UpdateInstance failed: %v", err)
	}

	got, err = store.GetInstance(ctx, "i-1")
	if err != nil {
		t.Fatalf("GetInstance after update failed: %v", err)
	}
	if got.Version != 2 || got.Status != api.StatusInterrupted {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.Pending == nil || got.Pending.Reason != "awaiting-calendar" {
		t.Fatalf("pending interrupt lost: %+v", got.Pending)
	}

	// A stale writer must lose.
	stale := got.Clone()
	stale.Version = 2
	if err := store.UpdateInstance(ctx, stale, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := store.UpdateInstance(ctx, newContractInstance("ghost", base), 1); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound on update, got %v", err)
	}

	// Listing with and without a status filter, ordered by creation time.
	second := newContractInstance("i-2", base.Add(time.Hour))
	second.Status = api.StatusCompleted
	second.Step = ""
	if err := store.CreateInstance(ctx, second); err != nil {
		t.Fatalf("CreateInstance i-2 failed: %v", err)
	}

	all, err := store.ListInstances(ctx, InstanceFilter{})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "i-1" || all[1].ID != "i-2" {
		t.Fatalf("unexpected listing: %v", instanceIDs(all))
	}

	active, err := store.ListInstances(ctx, InstanceFilter{
		Statuses: []api.Status{api.StatusRunning, api.StatusInterrupted, api.StatusStalled},
	})
	if err != nil {
		t.Fatalf("filtered ListInstances failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "i-1" {
		t.Fatalf("unexpected filtered listing: %v", instanceIDs(active))
	}
}

func runAuditStoreContract(t *testing.T, store AuditStore) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	events := []api.AuditEvent{
		{InstanceID: "i-1", Action: api.ActionStart, Actor: "api", Category: api.CategoryEngine, OccurredAt: at},
		{InstanceID: "i-1", Action: api.ActionStepCompleted, Actor: "api", Category: api.CategoryEngine,
			Payload: map[string]any{"step": "collect_lead", "next": "schedule_meeting"}, OccurredAt: at.Add(time.Second)},
		{InstanceID: "i-2", Action: api.ActionStart, Actor: "api", Category: api.CategoryEngine, OccurredAt: at},
		{InstanceID: "i-1", Action: api.ActionInterrupted, Actor: "api", Category: api.CategoryEngine, OccurredAt: at.Add(2 * time.Second)},
	}

	wantSeq := []int64{1, 2, 1, 3}
	for i, ev := range events {
		seq, err := store.Append(ctx, ev)
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		if seq != wantSeq[i] {
			t.Fatalf("event %d: expected sequence %d, got %d", i, wantSeq[i], seq)
		}
	}

	trail, err := store.ListEvents(ctx, "i-1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("expected 3 events for i-1, got %d", len(trail))
	}
	for i, ev := range trail {
		if ev.Sequence != int64(i)+1 {
			t.Fatalf("event %d: sequence %d, trail has a gap or wrong order", i, ev.Sequence)
		}
	}
	if trail[0].Action != api.ActionStart || trail[2].Action != api.ActionInterrupted {
		t.Fatalf("unexpected ordering: %s ... %s", trail[0].Action, trail[2].Action)
	}
	if got := trail[1].Payload["next"]; got != "schedule_meeting" {
		t.Fatalf("payload lost: %v", trail[1].Payload)
	}

	empty, err := store.ListEvents(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListEvents for unknown instance failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty trail, got %d events", len(empty))
	}
}

func instanceIDs(instances []*api.Instance) []string {
	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID
	}
	return ids
}
