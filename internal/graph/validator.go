// Package graph holds the structural rules every selectable flow must
// satisfy: the consistency validator and the pre-mutation transition guard.
package graph

import (
	"context"

	"github.com/petrijr/flowpick/pkg/api"
)

// Validator inspects a flow's states and transitions and reports structural
// violations. Unlike the guard it is not fail-fast: one pass collects every
// violation before reporting.
type Validator struct {
	flows api.FlowStore
	graph api.GraphStore
}

// NewValidator creates a Validator over the given stores.
func NewValidator(flows api.FlowStore, graph api.GraphStore) *Validator {
	return &Validator{flows: flows, graph: graph}
}

// ValidateConsistency checks the flow's graph shape. It returns nil when
// the graph is consistent, a *api.ConsistencyError aggregating every
// violation under the "graph" key otherwise. A missing flow is a distinct
// not-found error, never an empty report.
func (v *Validator) ValidateConsistency(ctx context.Context, flowID int64) error {
	if _, err := v.flows.GetFlow(ctx, flowID); err != nil {
		return err
	}

	states, err := v.graph.ListStates(ctx, flowID)
	if err != nil {
		return err
	}

	var violations []string

	var start *api.State
	startCount := 0
	for _, s := range states {
		if s.IsStart() {
			startCount++
			start = s
		}
	}

	if startCount != 1 {
		violations = append(violations, api.ViolationStartRequired)
	} else {
		transitions, err := v.graph.ListTransitions(ctx, flowID)
		if err != nil {
			return err
		}
		for _, t := range transitions {
			if t.To != nil && *t.To == start.ID {
				violations = append(violations, api.ViolationStartHasIncoming)
				break
			}
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return &api.ConsistencyError{Key: "graph", Violations: violations}
}
