package api

import (
	"time"
)

// Lifecycle represents the storage lifecycle of a Flow.
//
// Selection only ever considers LifecycleActive flows. Soft-deleted flows
// can be restored; gone flows are removed for good.
type Lifecycle string

const (
	LifecycleActive      Lifecycle = "ACTIVE"
	LifecycleSoftDeleted Lifecycle = "SOFT_DELETED"
	LifecycleGone        Lifecycle = "GONE"
)

// StateType distinguishes the unique entry state from regular states.
type StateType string

const (
	// StateTypeStart marks the single entry state of a flow. Every flow has
	// exactly one after creation.
	StateTypeStart StateType = "START"

	// StateTypeState is any non-entry state. Terminal states are regular
	// states whose Config.IsTerminal is set.
	StateTypeState StateType = "STATE"
)

// Flow is a versioned workflow definition bound to one kind of business
// entity (SubjectType), optionally scoped to a tenant/partition, a channel,
// an environment, a time window and a percentage rollout.
type Flow struct {
	ID int64

	// SubjectType identifies the entity kind this flow applies to.
	// Required; selection always filters on it.
	SubjectType string

	// SubjectScope and SubjectCollection are optional partition keys.
	// nil means the flow is not bound to any particular scope/collection.
	SubjectScope      *string
	SubjectCollection *string

	// Version is a positive integer. Higher versions win under the default
	// BEST ordering.
	Version int

	// IsDefault marks the preferred flow within a (SubjectType, SubjectScope)
	// pair. At most one flow per pair should carry it; SetDefaultFlow
	// enforces this atomically.
	IsDefault bool

	// Active is the manual on/off switch, independent of the time window.
	Active bool

	// ActiveFrom/ActiveTo bound the activity window (inclusive).
	// nil means unbounded on that end.
	ActiveFrom *time.Time
	ActiveTo   *time.Time

	// Channel and Environment are optional exact-match dimensions.
	Channel     *string
	Environment *string

	// Ordering is a manual tie-break used by the default BEST ordering.
	Ordering int

	// RolloutPct gates the flow behind a deterministic percentage bucket.
	// nil or 100 means always eligible; 0 means never eligible.
	RolloutPct *int

	Lifecycle Lifecycle
}

// ActiveAt reports whether the flow's manual switch is on and now falls
// within [ActiveFrom, ActiveTo]. Open ends are unbounded. When
// ignoreWindow is true only the manual switch is checked.
func (f *Flow) ActiveAt(now time.Time, ignoreWindow bool) bool {
	if !f.Active {
		return false
	}
	if ignoreWindow {
		return true
	}
	if f.ActiveFrom != nil && now.Before(*f.ActiveFrom) {
		return false
	}
	if f.ActiveTo != nil && now.After(*f.ActiveTo) {
		return false
	}
	return true
}

// Selectable reports whether the flow may appear in selection results at all.
func (f *Flow) Selectable() bool {
	return f.Lifecycle == LifecycleActive
}

// StateConfig holds display and behavior knobs for a state.
type StateConfig struct {
	Color string
	X     int
	Y     int

	// IsTerminal marks the state as an end node: no transition may
	// originate from it.
	IsTerminal bool
}

// State is a node in a flow's graph.
type State struct {
	ID     int64
	FlowID int64
	Type   StateType

	// Status is a free-form business label. It is not required to be unique
	// within a flow.
	Status string

	Config StateConfig
}

// IsStart reports whether this is the flow's entry state.
func (s *State) IsStart() bool {
	return s.Type == StateTypeStart
}

// IsTerminal reports whether the state is an end node.
func (s *State) IsTerminal() bool {
	return s.Config.IsTerminal
}

// TaskRef points at a task attached to a transition. Tasks are executed by
// an external executor; flowpick only stores and exposes them.
type TaskRef struct {
	// Kind is the executor-side driver discriminator
	// (e.g. "action", "validation", "restriction").
	Kind string

	// Name identifies the concrete driver.
	Name string

	// Params is an opaque payload handed to the driver as-is.
	Params map[string]any
}

// Transition is a directed edge between two states of one flow.
//
// From/To may be nil: a nil From marks a conceptual entry edge, a nil To a
// conceptual exit edge. Slug, when set, is unique across the transitions of
// all flows sharing the owning flow's SubjectType.
type Transition struct {
	ID     int64
	FlowID int64
	From   *int64
	To     *int64
	Slug   *string
	Tasks  []TaskRef
}

// ExecutionContext is the read-only view handed to an external task
// executor. flowpick never runs tasks itself.
type ExecutionContext struct {
	Subject     Subject
	Flow        *Flow
	States      []*State
	Transitions []*Transition

	// Results accumulates per-transition outcomes, keyed by the executor.
	Results map[string]any

	// Payload is an arbitrary caller payload passed through untouched.
	Payload any

	// Actor optionally identifies who triggered the transition.
	Actor string
}

// Subject is the runtime entity a flow is selected for. SubjectKey returns
// a stable identity string; it is the default rollout bucketing key and part
// of the request-cache key.
type Subject interface {
	SubjectKey() string
}

// StaticSubject adapts a plain identity string to the Subject interface.
//
//	flow, err := sel.Pick(ctx, api.StaticSubject("order-42"), crit)
type StaticSubject string

func (s StaticSubject) SubjectKey() string { return string(s) }
