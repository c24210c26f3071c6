package persistence

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/flowpick/pkg/api"
)

// RedisStore implements FlowStore and GraphStore on Redis.
// It uses a simple key structure:
//
//	<prefix>flow:<id>                => gob-encoded Flow
//	<prefix>state:<id>               => gob-encoded State
//	<prefix>transition:<id>          => gob-encoded Transition
//	<prefix>idx:flows:type:<type>    => SET of flow IDs for a subject type
//	<prefix>idx:states:flow:<id>     => SET of state IDs for a flow
//	<prefix>idx:trans:flow:<id>      => SET of transition IDs for a flow
//	<prefix>seq:<kind>               => ID counters
//
// The indexes are always updated on write; list operations read the index
// and filter in memory. SetDefaultFlow is read-modify-write without a
// transaction; callers that need strict default uniqueness under
// concurrency should use one of the SQL backends.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ api.FlowStore = (*RedisStore)(nil)

var _ api.GraphStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "flowpick:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "flowpick:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) keyFlow(id int64) string       { return s.prefix + "flow:" + formatID(id) }
func (s *RedisStore) keyState(id int64) string      { return s.prefix + "state:" + formatID(id) }
func (s *RedisStore) keyTransition(id int64) string { return s.prefix + "transition:" + formatID(id) }

func (s *RedisStore) keyFlowsByType(subjectType string) string {
	return s.prefix + "idx:flows:type:" + subjectType
}

func (s *RedisStore) keyStatesByFlow(flowID int64) string {
	return s.prefix + "idx:states:flow:" + formatID(flowID)
}

func (s *RedisStore) keyTransitionsByFlow(flowID int64) string {
	return s.prefix + "idx:trans:flow:" + formatID(flowID)
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func (s *RedisStore) nextID(ctx context.Context, kind string) (int64, error) {
	return s.client.Incr(ctx, s.prefix+"seq:"+kind).Result()
}

func (s *RedisStore) CreateFlow(ctx context.Context, f *api.Flow) error {
	id, err := s.nextID(ctx, "flow")
	if err != nil {
		return err
	}
	f.ID = id
	if f.Lifecycle == "" {
		f.Lifecycle = api.LifecycleActive
	}

	if err := s.putFlow(ctx, f); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.keyFlowsByType(f.SubjectType), f.ID).Err()
}

func (s *RedisStore) putFlow(ctx context.Context, f *api.Flow) error {
	payload, err := encodeGob(f)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.keyFlow(f.ID), payload, 0).Err()
}

func (s *RedisStore) GetFlow(ctx context.Context, id int64) (*api.Flow, error) {
	data, err := s.client.Get(ctx, s.keyFlow(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	f, err := decodeGob[api.Flow](data)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *RedisStore) ListFlows(ctx context.Context, q api.FlowQuery) ([]*api.Flow, error) {
	ids, err := s.client.SMembers(ctx, s.keyFlowsByType(q.SubjectType)).Result()
	if err != nil {
		return nil, err
	}

	var flows []*api.Flow
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		f, err := s.GetFlow(ctx, id)
		if errors.Is(err, ErrFlowNotFound) {
			// Index entry for a removed flow; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		if q.Matches(f) {
			flows = append(flows, f)
		}
	}
	return flows, nil
}

func (s *RedisStore) UpdateFlow(ctx context.Context, f *api.Flow) error {
	existing, err := s.GetFlow(ctx, f.ID)
	if err != nil {
		return err
	}
	if existing.SubjectType != f.SubjectType {
		if err := s.client.SRem(ctx, s.keyFlowsByType(existing.SubjectType), f.ID).Err(); err != nil {
			return err
		}
		if err := s.client.SAdd(ctx, s.keyFlowsByType(f.SubjectType), f.ID).Err(); err != nil {
			return err
		}
	}
	return s.putFlow(ctx, f)
}

func (s *RedisStore) SetDefaultFlow(ctx context.Context, id int64) error {
	target, err := s.GetFlow(ctx, id)
	if err != nil {
		return err
	}

	// Walk the type index directly rather than ListFlows: the flag must be
	// cleared on soft-deleted siblings too, or a restored flow would bring
	// back a second default.
	ids, err := s.client.SMembers(ctx, s.keyFlowsByType(target.SubjectType)).Result()
	if err != nil {
		return err
	}
	for _, raw := range ids {
		siblingID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		f, err := s.GetFlow(ctx, siblingID)
		if errors.Is(err, ErrFlowNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !sameScope(f.SubjectScope, target.SubjectScope) {
			continue
		}
		f.IsDefault = f.ID == id
		if err := s.putFlow(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) SoftDeleteFlow(ctx context.Context, id int64) error {
	return s.setLifecycle(ctx, id, api.LifecycleSoftDeleted)
}

func (s *RedisStore) RestoreFlow(ctx context.Context, id int64) error {
	return s.setLifecycle(ctx, id, api.LifecycleActive)
}

func (s *RedisStore) setLifecycle(ctx context.Context, id int64, lc api.Lifecycle) error {
	f, err := s.GetFlow(ctx, id)
	if err != nil {
		return err
	}
	f.Lifecycle = lc
	return s.putFlow(ctx, f)
}

func (s *RedisStore) ForceDeleteFlow(ctx context.Context, id int64) error {
	f, err := s.GetFlow(ctx, id)
	if err != nil {
		return err
	}

	states, err := s.ListStates(ctx, id)
	if err != nil {
		return err
	}
	for _, st := range states {
		if err := s.client.Del(ctx, s.keyState(st.ID)).Err(); err != nil {
			return err
		}
	}

	transitions, err := s.ListTransitions(ctx, id)
	if err != nil {
		return err
	}
	for _, t := range transitions {
		if err := s.client.Del(ctx, s.keyTransition(t.ID)).Err(); err != nil {
			return err
		}
	}

	if err := s.client.Del(ctx,
		s.keyFlow(id),
		s.keyStatesByFlow(id),
		s.keyTransitionsByFlow(id),
	).Err(); err != nil {
		return err
	}
	return s.client.SRem(ctx, s.keyFlowsByType(f.SubjectType), id).Err()
}

func (s *RedisStore) CreateState(ctx context.Context, st *api.State) error {
	id, err := s.nextID(ctx, "state")
	if err != nil {
		return err
	}
	st.ID = id

	if err := s.putState(ctx, st); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.keyStatesByFlow(st.FlowID), st.ID).Err()
}

func (s *RedisStore) putState(ctx context.Context, st *api.State) error {
	payload, err := encodeGob(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.keyState(st.ID), payload, 0).Err()
}

func (s *RedisStore) GetState(ctx context.Context, id int64) (*api.State, error) {
	data, err := s.client.Get(ctx, s.keyState(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	st, err := decodeGob[api.State](data)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RedisStore) ListStates(ctx context.Context, flowID int64) ([]*api.State, error) {
	ids, err := s.client.SMembers(ctx, s.keyStatesByFlow(flowID)).Result()
	if err != nil {
		return nil, err
	}

	var states []*api.State
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		st, err := s.GetState(ctx, id)
		if errors.Is(err, ErrStateNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}

func (s *RedisStore) UpdateState(ctx context.Context, st *api.State) error {
	if _, err := s.GetState(ctx, st.ID); err != nil {
		return err
	}
	return s.putState(ctx, st)
}

func (s *RedisStore) DeleteState(ctx context.Context, id int64) error {
	st, err := s.GetState(ctx, id)
	if err != nil {
		return err
	}
	if err := s.client.SRem(ctx, s.keyStatesByFlow(st.FlowID), id).Err(); err != nil {
		return err
	}
	return s.client.Del(ctx, s.keyState(id)).Err()
}

func (s *RedisStore) CreateTransition(ctx context.Context, t *api.Transition) error {
	id, err := s.nextID(ctx, "transition")
	if err != nil {
		return err
	}
	t.ID = id

	if err := s.putTransition(ctx, t); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.keyTransitionsByFlow(t.FlowID), t.ID).Err()
}

func (s *RedisStore) putTransition(ctx context.Context, t *api.Transition) error {
	payload, err := encodeGob(t)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.keyTransition(t.ID), payload, 0).Err()
}

func (s *RedisStore) GetTransition(ctx context.Context, id int64) (*api.Transition, error) {
	data, err := s.client.Get(ctx, s.keyTransition(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTransitionNotFound
	}
	if err != nil {
		return nil, err
	}
	t, err := decodeGob[api.Transition](data)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RedisStore) ListTransitions(ctx context.Context, flowID int64) ([]*api.Transition, error) {
	ids, err := s.client.SMembers(ctx, s.keyTransitionsByFlow(flowID)).Result()
	if err != nil {
		return nil, err
	}

	var transitions []*api.Transition
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		t, err := s.GetTransition(ctx, id)
		if errors.Is(err, ErrTransitionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	return transitions, nil
}

func (s *RedisStore) UpdateTransition(ctx context.Context, t *api.Transition) error {
	if _, err := s.GetTransition(ctx, t.ID); err != nil {
		return err
	}
	return s.putTransition(ctx, t)
}

func (s *RedisStore) DeleteTransition(ctx context.Context, id int64) error {
	t, err := s.GetTransition(ctx, id)
	if err != nil {
		return err
	}
	if err := s.client.SRem(ctx, s.keyTransitionsByFlow(t.FlowID), id).Err(); err != nil {
		return err
	}
	return s.client.Del(ctx, s.keyTransition(id)).Err()
}

func (s *RedisStore) FindTransitionBySlug(ctx context.Context, subjectType, slug string) (*api.Transition, error) {
	flowIDs, err := s.client.SMembers(ctx, s.keyFlowsByType(subjectType)).Result()
	if err != nil {
		return nil, err
	}

	for _, raw := range flowIDs {
		flowID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		transitions, err := s.ListTransitions(ctx, flowID)
		if err != nil {
			return nil, err
		}
		for _, t := range transitions {
			if t.Slug != nil && *t.Slug == slug {
				return t, nil
			}
		}
	}
	return nil, ErrTransitionNotFound
}
