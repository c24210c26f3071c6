package api

import (
	"context"
)

// FlowQuery carries the store-side scalar filters for a candidate search.
// nil pointer fields and empty slices mean "no filter".
//
// Stores only return LifecycleActive flows from ListFlows; GetFlow returns
// a flow in any lifecycle state so callers can restore soft-deleted ones.
type FlowQuery struct {
	SubjectType       string
	SubjectScope      *string
	SubjectCollection *string
	Environment       *string
	Channel           *string

	OnlyDefault bool

	IncludeIDs []int64
	ExcludeIDs []int64

	VersionEquals *int
	VersionMin    *int
	VersionMax    *int
}

// Matches applies the query's filters to one flow. Store implementations
// that cannot push filters down (or only partially) use it as the reference
// semantics.
func (q FlowQuery) Matches(f *Flow) bool {
	if !f.Selectable() {
		return false
	}
	if f.SubjectType != q.SubjectType {
		return false
	}
	if q.SubjectScope != nil && (f.SubjectScope == nil || *f.SubjectScope != *q.SubjectScope) {
		return false
	}
	if q.SubjectCollection != nil && (f.SubjectCollection == nil || *f.SubjectCollection != *q.SubjectCollection) {
		return false
	}
	if q.Environment != nil && (f.Environment == nil || *f.Environment != *q.Environment) {
		return false
	}
	if q.Channel != nil && (f.Channel == nil || *f.Channel != *q.Channel) {
		return false
	}
	if q.OnlyDefault && !f.IsDefault {
		return false
	}
	if len(q.IncludeIDs) > 0 && !containsID(q.IncludeIDs, f.ID) {
		return false
	}
	if containsID(q.ExcludeIDs, f.ID) {
		return false
	}
	if q.VersionEquals != nil {
		if f.Version != *q.VersionEquals {
			return false
		}
	} else {
		if q.VersionMin != nil && f.Version < *q.VersionMin {
			return false
		}
		if q.VersionMax != nil && f.Version > *q.VersionMax {
			return false
		}
	}
	return true
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// FlowStore persists flow records.
//
// Implementations must assign IDs on create and return the sentinel
// not-found errors from this package for missing records.
type FlowStore interface {
	// CreateFlow stores a new flow and assigns its ID.
	CreateFlow(ctx context.Context, f *Flow) error

	// GetFlow returns the flow with the given id in any lifecycle state.
	GetFlow(ctx context.Context, id int64) (*Flow, error)

	// ListFlows returns every LifecycleActive flow matching the query.
	// Ordering is unspecified; the selector orders in memory.
	ListFlows(ctx context.Context, q FlowQuery) ([]*Flow, error)

	// UpdateFlow overwrites an existing flow record.
	UpdateFlow(ctx context.Context, f *Flow) error

	// SetDefaultFlow atomically makes the given flow the sole default
	// within its (SubjectType, SubjectScope) pair. Backends with
	// transactions lock the affected rows for the duration.
	SetDefaultFlow(ctx context.Context, id int64) error

	// SoftDeleteFlow moves a flow to LifecycleSoftDeleted.
	SoftDeleteFlow(ctx context.Context, id int64) error

	// RestoreFlow moves a soft-deleted flow back to LifecycleActive.
	RestoreFlow(ctx context.Context, id int64) error

	// ForceDeleteFlow removes the flow and its states/transitions for good.
	ForceDeleteFlow(ctx context.Context, id int64) error
}

// GraphStore persists the states and transitions owned by flows.
type GraphStore interface {
	CreateState(ctx context.Context, s *State) error
	GetState(ctx context.Context, id int64) (*State, error)
	ListStates(ctx context.Context, flowID int64) ([]*State, error)
	UpdateState(ctx context.Context, s *State) error
	DeleteState(ctx context.Context, id int64) error

	CreateTransition(ctx context.Context, t *Transition) error
	GetTransition(ctx context.Context, id int64) (*Transition, error)
	ListTransitions(ctx context.Context, flowID int64) ([]*Transition, error)
	UpdateTransition(ctx context.Context, t *Transition) error
	DeleteTransition(ctx context.Context, id int64) error

	// FindTransitionBySlug scans the transitions of every flow sharing the
	// given subject type. Returns ErrTransitionNotFound when no transition
	// carries the slug.
	FindTransitionBySlug(ctx context.Context, subjectType, slug string) (*Transition, error)
}

// Store bundles the two halves a backend provides.
type Store struct {
	Flows FlowStore
	Graph GraphStore
}
