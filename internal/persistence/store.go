package persistence

import (
	"context"
	"errors"
	"sort"

	"github.com/jalehto/virta/pkg/api"
)

var (
	// ErrInstanceNotFound is returned when a workflow instance is not found.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceExists is returned when creating an instance whose id is
	// already present.
	ErrInstanceExists = errors.New("instance already exists")

	// ErrVersionConflict is returned by UpdateInstance when the stored
	// version no longer matches the caller's expected version. The loser
	// of the race must reload and retry, or give up.
	ErrVersionConflict = errors.New("instance version conflict")
)

// InstanceFilter is used to select instances from the store.
// An empty Statuses slice means "no filter".
type InstanceFilter struct {
	Statuses []api.Status
}

func (f InstanceFilter) matches(status api.Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// InstanceStore handles durable storage of workflow instances.
//
// UpdateInstance implements the compare-and-swap contract the engine builds
// its ordering guarantees on: the write succeeds only when the stored
// version equals expectedVersion, and no two writers can both succeed
// against the same prior version.
type InstanceStore interface {
	CreateInstance(ctx context.Context, inst *api.Instance) error
	UpdateInstance(ctx context.Context, inst *api.Instance, expectedVersion int64) error
	GetInstance(ctx context.Context, id string) (*api.Instance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error)
}

// AuditStore is an append-only event store keyed by instance id.
//
// Append assigns the next per-instance sequence atomically and returns it;
// each append is all-or-nothing, and the listing order is always the
// sequence order. Events are never mutated or reordered retroactively.
type AuditStore interface {
	Append(ctx context.Context, ev api.AuditEvent) (int64, error)
	ListEvents(ctx context.Context, instanceID string) ([]api.AuditEvent, error)
}

// Persistence bundles the two store interfaces so the engine can depend on
// a single abstraction.
type Persistence struct {
	Instances InstanceStore
	Audit     AuditStore
}

// sortInstances orders listings by creation time, then id. Stores without a
// natural ordering use it so sweeps and tests see a deterministic order.
func sortInstances(instances []*api.Instance) {
	sort.Slice(instances, func(i, j int) bool {
		if !instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].CreatedAt.Before(instances[j].CreatedAt)
		}
		return instances[i].ID < instances[j].ID
	})
}
