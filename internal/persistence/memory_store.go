package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/flowpick/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of FlowStore and
// GraphStore backed by maps. It is the backend of choice for tests.
type InMemoryStore struct {
	mu sync.RWMutex

	flows       map[int64]*api.Flow
	states      map[int64]*api.State
	transitions map[int64]*api.Transition

	nextFlowID       int64
	nextStateID      int64
	nextTransitionID int64
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flows:       make(map[int64]*api.Flow),
		states:      make(map[int64]*api.State),
		transitions: make(map[int64]*api.Transition),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ api.FlowStore = (*InMemoryStore)(nil)

var _ api.GraphStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) CreateFlow(ctx context.Context, f *api.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextFlowID++
	f.ID = s.nextFlowID
	if f.Lifecycle == "" {
		f.Lifecycle = api.LifecycleActive
	}
	s.flows[f.ID] = cloneFlow(f)
	return nil
}

func (s *InMemoryStore) GetFlow(ctx context.Context, id int64) (*api.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return cloneFlow(f), nil
}

func (s *InMemoryStore) ListFlows(ctx context.Context, q api.FlowQuery) ([]*api.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Flow
	for _, f := range s.flows {
		if q.Matches(f) {
			result = append(result, cloneFlow(f))
		}
	}
	return result, nil
}

func (s *InMemoryStore) UpdateFlow(ctx context.Context, f *api.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[f.ID]; !ok {
		return ErrFlowNotFound
	}
	s.flows[f.ID] = cloneFlow(f)
	return nil
}

func (s *InMemoryStore) SetDefaultFlow(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.flows[id]
	if !ok {
		return ErrFlowNotFound
	}

	for _, f := range s.flows {
		if f.SubjectType == target.SubjectType && sameScope(f.SubjectScope, target.SubjectScope) {
			f.IsDefault = f.ID == id
		}
	}
	return nil
}

func (s *InMemoryStore) SoftDeleteFlow(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[id]
	if !ok {
		return ErrFlowNotFound
	}
	f.Lifecycle = api.LifecycleSoftDeleted
	return nil
}

func (s *InMemoryStore) RestoreFlow(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[id]
	if !ok {
		return ErrFlowNotFound
	}
	f.Lifecycle = api.LifecycleActive
	return nil
}

func (s *InMemoryStore) ForceDeleteFlow(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[id]; !ok {
		return ErrFlowNotFound
	}
	delete(s.flows, id)

	for sid, st := range s.states {
		if st.FlowID == id {
			delete(s.states, sid)
		}
	}
	for tid, t := range s.transitions {
		if t.FlowID == id {
			delete(s.transitions, tid)
		}
	}
	return nil
}

func (s *InMemoryStore) CreateState(ctx context.Context, st *api.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextStateID++
	st.ID = s.nextStateID
	s.states[st.ID] = cloneState(st)
	return nil
}

func (s *InMemoryStore) GetState(ctx context.Context, id int64) (*api.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[id]
	if !ok {
		return nil, ErrStateNotFound
	}
	return cloneState(st), nil
}

func (s *InMemoryStore) ListStates(ctx context.Context, flowID int64) ([]*api.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.State
	for _, st := range s.states {
		if st.FlowID == flowID {
			result = append(result, cloneState(st))
		}
	}
	return result, nil
}

func (s *InMemoryStore) UpdateState(ctx context.Context, st *api.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[st.ID]; !ok {
		return ErrStateNotFound
	}
	s.states[st.ID] = cloneState(st)
	return nil
}

func (s *InMemoryStore) DeleteState(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[id]; !ok {
		return ErrStateNotFound
	}
	delete(s.states, id)
	return nil
}

func (s *InMemoryStore) CreateTransition(ctx context.Context, t *api.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTransitionID++
	t.ID = s.nextTransitionID
	s.transitions[t.ID] = cloneTransition(t)
	return nil
}

func (s *InMemoryStore) GetTransition(ctx context.Context, id int64) (*api.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transitions[id]
	if !ok {
		return nil, ErrTransitionNotFound
	}
	return cloneTransition(t), nil
}

func (s *InMemoryStore) ListTransitions(ctx context.Context, flowID int64) ([]*api.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Transition
	for _, t := range s.transitions {
		if t.FlowID == flowID {
			result = append(result, cloneTransition(t))
		}
	}
	return result, nil
}

func (s *InMemoryStore) UpdateTransition(ctx context.Context, t *api.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transitions[t.ID]; !ok {
		return ErrTransitionNotFound
	}
	s.transitions[t.ID] = cloneTransition(t)
	return nil
}

func (s *InMemoryStore) DeleteTransition(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transitions[id]; !ok {
		return ErrTransitionNotFound
	}
	delete(s.transitions, id)
	return nil
}

func (s *InMemoryStore) FindTransitionBySlug(ctx context.Context, subjectType, slug string) (*api.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.transitions {
		if t.Slug == nil || *t.Slug != slug {
			continue
		}
		f, ok := s.flows[t.FlowID]
		if !ok || f.SubjectType != subjectType {
			continue
		}
		return cloneTransition(t), nil
	}
	return nil, ErrTransitionNotFound
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Clones keep stored records isolated from caller mutations.

func cloneFlow(f *api.Flow) *api.Flow {
	cp := *f
	cp.SubjectScope = clonePtr(f.SubjectScope)
	cp.SubjectCollection = clonePtr(f.SubjectCollection)
	cp.Channel = clonePtr(f.Channel)
	cp.Environment = clonePtr(f.Environment)
	cp.ActiveFrom = clonePtr(f.ActiveFrom)
	cp.ActiveTo = clonePtr(f.ActiveTo)
	cp.RolloutPct = clonePtr(f.RolloutPct)
	return &cp
}

func cloneState(st *api.State) *api.State {
	cp := *st
	return &cp
}

func cloneTransition(t *api.Transition) *api.Transition {
	cp := *t
	cp.From = clonePtr(t.From)
	cp.To = clonePtr(t.To)
	cp.Slug = clonePtr(t.Slug)
	cp.Tasks = append([]api.TaskRef(nil), t.Tasks...)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
