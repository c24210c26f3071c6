package graph

import (
	"context"
	"errors"

	"github.com/petrijr/flowpick/pkg/api"
)

// TransitionChange describes a pending create or update. FromSet/ToSet
// record whether the endpoint keys were supplied at all, which is distinct
// from supplying an explicit nil boundary marker.
type TransitionChange struct {
	Transition *api.Transition

	FromSet bool
	ToSet   bool

	// Existing is the currently stored transition on update, nil on create.
	Existing *api.Transition
}

// Guard runs the ordered pre-mutation checks on transitions. It is
// fail-fast: the first broken rule aborts the mutation before any write,
// with one named sentinel error per rule.
type Guard struct {
	flows api.FlowStore
	graph api.GraphStore
}

// NewGuard creates a Guard over the given stores.
func NewGuard(flows api.FlowStore, graph api.GraphStore) *Guard {
	return &Guard{flows: flows, graph: graph}
}

// CheckWrite validates a pending create or update, in rule order.
func (g *Guard) CheckWrite(ctx context.Context, change TransitionChange) error {
	t := change.Transition

	flow, err := g.flows.GetFlow(ctx, t.FlowID)
	if err != nil {
		return err
	}

	if err := g.checkSlug(ctx, flow, change); err != nil {
		return err
	}
	if err := checkEndpoints(change); err != nil {
		return err
	}

	fromState, err := g.resolveState(ctx, t.From)
	if err != nil {
		return err
	}
	toState, err := g.resolveState(ctx, t.To)
	if err != nil {
		return err
	}

	if fromState != nil && fromState.IsTerminal() {
		return api.ErrFromTerminal
	}
	if toState != nil && toState.IsStart() {
		return api.ErrToStart
	}

	if fromState != nil && toState != nil {
		if err := g.checkSameSubjectType(ctx, flow, fromState, toState); err != nil {
			return err
		}
	}

	siblings, err := g.graph.ListTransitions(ctx, t.FlowID)
	if err != nil {
		return err
	}

	if err := checkDuplicate(siblings, change); err != nil {
		return err
	}

	start, err := g.startState(ctx, t.FlowID)
	if err != nil {
		return err
	}

	if change.Existing == nil && len(siblings) == 0 {
		// The very first transition must originate at the start state.
		if start == nil || t.From == nil || *t.From != start.ID {
			return api.ErrFirstFromStart
		}
	}

	if change.Existing != nil && start != nil {
		anchored := change.Existing.From != nil && *change.Existing.From == start.ID
		if anchored && (t.From == nil || *t.From != start.ID) {
			return api.ErrStartAnchorMoved
		}
	}

	return nil
}

// CheckDelete validates removing a transition.
//
// Deleting a start-anchored transition is rejected while it is the last one
// originating at the start state and any other transition remains in the
// flow: the remaining graph would no longer be reachable from the entry.
// Deleting it as the flow's only transition is fine, the bootstrap rule
// re-applies to the next create.
func (g *Guard) CheckDelete(ctx context.Context, t *api.Transition) error {
	start, err := g.startState(ctx, t.FlowID)
	if err != nil {
		return err
	}
	if start == nil || t.From == nil || *t.From != start.ID {
		return nil
	}

	siblings, err := g.graph.ListTransitions(ctx, t.FlowID)
	if err != nil {
		return err
	}

	others := 0
	startSiblings := 0
	for _, other := range siblings {
		if other.ID == t.ID {
			continue
		}
		others++
		if other.From != nil && *other.From == start.ID {
			startSiblings++
		}
	}

	if startSiblings == 0 && others > 0 {
		return api.ErrStartAnchorDelete
	}
	return nil
}

func (g *Guard) checkSlug(ctx context.Context, flow *api.Flow, change TransitionChange) error {
	t := change.Transition
	if t.Slug == nil || *t.Slug == "" {
		return nil
	}

	taken, err := g.graph.FindTransitionBySlug(ctx, flow.SubjectType, *t.Slug)
	if err != nil {
		if errors.Is(err, api.ErrTransitionNotFound) {
			return nil
		}
		return err
	}
	if change.Existing != nil && taken.ID == change.Existing.ID {
		return nil
	}
	return api.ErrSlugTaken
}

func checkEndpoints(change TransitionChange) error {
	if !change.FromSet && !change.ToSet {
		return api.ErrEndpointsRequired
	}
	t := change.Transition
	if t.From != nil && t.To != nil && *t.From == *t.To {
		return api.ErrEndpointsEqual
	}
	return nil
}

func (g *Guard) checkSameSubjectType(ctx context.Context, flow *api.Flow, from, to *api.State) error {
	fromType, err := g.subjectTypeOf(ctx, flow, from.FlowID)
	if err != nil {
		return err
	}
	toType, err := g.subjectTypeOf(ctx, flow, to.FlowID)
	if err != nil {
		return err
	}
	if fromType != toType {
		return api.ErrCrossSubjectType
	}
	return nil
}

func (g *Guard) subjectTypeOf(ctx context.Context, known *api.Flow, flowID int64) (string, error) {
	if known.ID == flowID {
		return known.SubjectType, nil
	}
	f, err := g.flows.GetFlow(ctx, flowID)
	if err != nil {
		return "", err
	}
	return f.SubjectType, nil
}

func checkDuplicate(siblings []*api.Transition, change TransitionChange) error {
	t := change.Transition
	for _, other := range siblings {
		if change.Existing != nil && other.ID == change.Existing.ID {
			continue
		}
		if sameEndpoint(other.From, t.From) && sameEndpoint(other.To, t.To) {
			return api.ErrDuplicateTransition
		}
	}
	return nil
}

func sameEndpoint(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (g *Guard) resolveState(ctx context.Context, id *int64) (*api.State, error) {
	if id == nil {
		return nil, nil
	}
	return g.graph.GetState(ctx, *id)
}

func (g *Guard) startState(ctx context.Context, flowID int64) (*api.State, error) {
	states, err := g.graph.ListStates(ctx, flowID)
	if err != nil {
		return nil, err
	}
	for _, s := range states {
		if s.IsStart() {
			return s, nil
		}
	}
	return nil, nil
}
