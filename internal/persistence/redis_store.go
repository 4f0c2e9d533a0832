package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/jalehto/virta/pkg/api"
)

// RedisStore implements InstanceStore and AuditStore on Redis. Key layout:
//
//	<prefix>inst:<id>            => JSON-encoded instance
//	<prefix>idx:all              => SET of all instance IDs
//	<prefix>idx:status:<status>  => SET of instance IDs per status
//	<prefix>audit:<id>           => LIST of JSON-encoded audit events
//
// The optimistic-concurrency contract of UpdateInstance is implemented with
// WATCH/MULTI: the version check and the overwrite happen inside one
// transaction, and a concurrent writer aborts it.
//
// The audit list's position is the event sequence, so a single RPUSH both
// appends atomically and assigns the next sequence.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// Ensure RedisStore implements the interfaces.
var (
	_ InstanceStore = (*RedisStore)(nil)
	_ AuditStore    = (*RedisStore)(nil)
)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "virta:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "virta:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) keyInstance(id string) string { return s.prefix + "inst:" + id }

func (s *RedisStore) keyAll() string { return s.prefix + "idx:all" }

func (s *RedisStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func (s *RedisStore) keyAudit(id string) string { return s.prefix + "audit:" + id }

func (s *RedisStore) CreateInstance(ctx context.Context, inst *api.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.keyInstance(inst.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrInstanceExists
	}

	// Index updates are best-effort; ListInstances filters by payload.
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), inst.ID)
	pipe.SAdd(ctx, s.keyStatus(inst.Status), inst.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (s *RedisStore) UpdateInstance(ctx context.Context, inst *api.Instance, expectedVersion int64) error {
	key := s.keyInstance(inst.ID)

	data, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	txErr := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrInstanceNotFound
		}
		if err != nil {
			return err
		}

		var stored api.Instance
		if err := json.Unmarshal(current, &stored); err != nil {
			return err
		}
		if stored.Version != expectedVersion {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if stored.Status != inst.Status {
				pipe.SRem(ctx, s.keyStatus(stored.Status), inst.ID)
				pipe.SAdd(ctx, s.keyStatus(inst.Status), inst.ID)
			}
			return nil
		})
		return err
	}, key)

	// A concurrent write to the watched key aborts the transaction; from
	// the engine's point of view that is the same lost race as a version
	// mismatch.
	if errors.Is(txErr, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return txErr
}

func (s *RedisStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	data, err := s.client.Get(ctx, s.keyInstance(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}

	var inst api.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, err
	}
	if inst.State == nil {
		inst.State = api.State{}
	}
	return &inst, nil
}

func (s *RedisStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	ids, err := s.client.SMembers(ctx, s.keyAll()).Result()
	if err != nil {
		return nil, err
	}

	var result []*api.Instance
	for _, id := range ids {
		inst, err := s.GetInstance(ctx, id)
		if errors.Is(err, ErrInstanceNotFound) {
			// Stale index entry.
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.matches(inst.Status) {
			result = append(result, inst)
		}
	}

	sortInstances(result)
	return result, nil
}

func (s *RedisStore) Append(ctx context.Context, ev api.AuditEvent) (int64, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, err
	}

	length, err := s.client.RPush(ctx, s.keyAudit(ev.InstanceID), data).Result()
	if err != nil {
		return 0, err
	}
	return length, nil
}

func (s *RedisStore) ListEvents(ctx context.Context, instanceID string) ([]api.AuditEvent, error) {
	raw, err := s.client.LRange(ctx, s.keyAudit(instanceID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]api.AuditEvent, 0, len(raw))
	for i, item := range raw {
		var ev api.AuditEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, err
		}
		// The list position is authoritative for ordering.
		ev.Sequence = int64(i) + 1
		out = append(out, ev)
	}
	return out, nil
}
