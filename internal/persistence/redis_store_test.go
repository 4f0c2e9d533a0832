package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jalehto/virta/pkg/api"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedisStore(client, "virta:test:")
}

func TestRedisInstanceStoreContract(t *testing.T) {
	runInstanceStoreContract(t, newTestRedisStore(t))
}

func TestRedisAuditStoreContract(t *testing.T) {
	runAuditStoreContract(t, newTestRedisStore(t))
}

func TestRedisStatusIndexFollowsUpdates(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	inst := newContractInstance("i-1", now)
	require.NoError(t, store.CreateInstance(ctx, inst))

	next := inst.Clone()
	next.Version = 2
	next.Status = api.StatusCompleted
	next.Step = ""
	require.NoError(t, store.UpdateInstance(ctx, next, 1))

	running, err := store.ListInstances(ctx, InstanceFilter{Statuses: []api.Status{api.StatusRunning}})
	require.NoError(t, err)
	require.Empty(t, running, "status index kept a stale RUNNING entry")

	completed, err := store.ListInstances(ctx, InstanceFilter{Statuses: []api.Status{api.StatusCompleted}})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Equal(t, "i-1", completed[0].ID)
}

func TestRedisUpdateUnknownInstance(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	inst := newContractInstance("ghost", time.Now())
	err := store.UpdateInstance(ctx, inst, 1)
	require.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestRedisInstanceJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	now := time.Date(2025, 6, 1, 10, 0, 0, 500, time.UTC)
	inst := newContractInstance("i-json", now)
	inst.Pending = &api.PendingInterrupt{Step: "collect_lead", Reason: "awaiting-input"}
	inst.State.SetTime(api.KeyLastActivity, now)
	require.NoError(t, store.CreateInstance(ctx, inst))

	got, err := store.GetInstance(ctx, "i-json")
	require.NoError(t, err)
	require.Equal(t, inst.ID, got.ID)
	require.NotNil(t, got.Pending)
	require.Equal(t, "awaiting-input", got.Pending.Reason)
	// Timestamps inside the state survive to the nanosecond; the RFC 3339
	// encoding is what the HTTP surface serves too.
	require.True(t, got.State.Time(api.KeyLastActivity).Equal(now))
	require.Equal(t, "Jane Doe", got.State.String("clientName"))
}
