package api

import (
	"errors"
	"fmt"
	"strings"
)

// Not-found errors. Referencing a missing record is always surfaced as one
// of these, never as an empty selection result.
var (
	ErrFlowNotFound       = errors.New("flow not found")
	ErrStateNotFound      = errors.New("state not found")
	ErrTransitionNotFound = errors.New("transition not found")
)

// ErrSubjectTypeRequired is returned when criteria are built without a
// subject type.
var ErrSubjectTypeRequired = errors.New("subject type is required")

// Transition guard errors, one per rule, raised fail-fast before any write.
var (
	// ErrSlugTaken: the slug is already used by a transition of a flow
	// sharing the same subject type.
	ErrSlugTaken = errors.New("transition slug already taken for this subject type")

	// ErrEndpointsRequired: neither a from nor a to endpoint was supplied.
	ErrEndpointsRequired = errors.New("transition requires at least one of from/to")

	// ErrEndpointsEqual: from and to reference the same state.
	ErrEndpointsEqual = errors.New("transition from and to must differ")

	// ErrFromTerminal: the from endpoint is a terminal state.
	ErrFromTerminal = errors.New("transition cannot originate at a terminal state")

	// ErrToStart: the to endpoint is a start state.
	ErrToStart = errors.New("transition cannot re-enter the start state")

	// ErrCrossSubjectType: from and to belong to flows of different
	// subject types.
	ErrCrossSubjectType = errors.New("transition endpoints span different subject types")

	// ErrDuplicateTransition: the (flow, from, to) triple already exists.
	ErrDuplicateTransition = errors.New("transition already exists for this from/to pair")

	// ErrFirstFromStart: the first transition of a flow must originate at
	// the start state.
	ErrFirstFromStart = errors.New("first transition must originate at the start state")

	// ErrStartAnchorMoved: a transition anchored at the start state may not
	// move its from elsewhere.
	ErrStartAnchorMoved = errors.New("transition anchored at start cannot change its origin")

	// ErrStartAnchorDelete: the last start-origin transition cannot be
	// deleted while other transitions remain.
	ErrStartAnchorDelete = errors.New("cannot delete the last transition anchored at start")

	// ErrStartStateDelete: the start state itself can never be deleted.
	ErrStartStateDelete = errors.New("start state cannot be deleted")

	// ErrStartStateExists: a flow has exactly one start state; a second one
	// cannot be created.
	ErrStartStateExists = errors.New("flow already has a start state")
)

// Violation codes reported by ValidateConsistency.
const (
	ViolationStartRequired    = "start-required"
	ViolationStartHasIncoming = "start-must-not-have-incoming"
)

// ConsistencyError aggregates every violation found in one validation pass
// under a single grouping key.
type ConsistencyError struct {
	// Key groups the violations; always "graph" for flow validation.
	Key string

	// Violations holds one code per broken rule, in detection order.
	Violations []string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, strings.Join(e.Violations, ", "))
}

// Has reports whether the given violation code was collected.
func (e *ConsistencyError) Has(code string) bool {
	for _, v := range e.Violations {
		if v == code {
			return true
		}
	}
	return false
}
