package api

import (
	"context"
)

// Engine is the high-level flowpick API: flow selection plus the guarded
// mutation surface for the underlying graphs.
//
// Selection is read-only and never locks. Mutations run their guard checks
// before any write and clear the request cache afterwards.
type Engine interface {
	// Pick selects the one flow that applies to the subject under the given
	// criteria, or nil when nothing matches. A miss is not an error.
	Pick(ctx context.Context, subject Subject, c *Criteria) (*Flow, error)

	// Candidates returns the full ordered candidate list for debugging and
	// introspection.
	Candidates(ctx context.Context, subject Subject, c *Criteria) ([]*Flow, error)

	// CreateFlow stores the flow and synchronously creates its start state.
	CreateFlow(ctx context.Context, f *Flow) (*State, error)

	// GetFlow returns a flow by id, in any lifecycle state.
	GetFlow(ctx context.Context, id int64) (*Flow, error)

	// UpdateFlow overwrites an existing flow record.
	UpdateFlow(ctx context.Context, f *Flow) error

	// SetDefaultFlow makes the flow the sole default within its
	// (SubjectType, SubjectScope) pair.
	SetDefaultFlow(ctx context.Context, id int64) error

	SoftDeleteFlow(ctx context.Context, id int64) error
	RestoreFlow(ctx context.Context, id int64) error
	ForceDeleteFlow(ctx context.Context, id int64) error

	// CreateState adds a state to an existing flow. Creating a second start
	// state is rejected.
	CreateState(ctx context.Context, s *State) error

	// DeleteState removes a state. The start state can never be deleted.
	DeleteState(ctx context.Context, id int64) error

	// CreateTransition runs the full guard chain, then stores the
	// transition.
	CreateTransition(ctx context.Context, t *Transition) error

	// UpdateTransition runs the guard chain including the start-anchor
	// rule, then overwrites the transition.
	UpdateTransition(ctx context.Context, t *Transition) error

	// DeleteTransition removes a transition unless it is the last anchor to
	// the start state.
	DeleteTransition(ctx context.Context, id int64) error

	// ValidateConsistency checks the flow's graph shape and returns a
	// *ConsistencyError aggregating every violation, or nil.
	ValidateConsistency(ctx context.Context, flowID int64) error

	// ExecutionContextFor resolves the flow's full graph into a read-only
	// context for an external task executor.
	ExecutionContextFor(ctx context.Context, subject Subject, flowID int64, payload any, actor string) (*ExecutionContext, error)

	// ClearRequestCache drops every memoized selection. Callers scope one
	// engine (or one cache) per logical request.
	ClearRequestCache()
}
