package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/petrijr/flowpick/internal/persistence"
	"github.com/petrijr/flowpick/pkg/api"
)

func slugPtr(s string) *string { return &s }

func create(tr *api.Transition) TransitionChange {
	return TransitionChange{
		Transition: tr,
		FromSet:    tr.From != nil,
		ToSet:      tr.To != nil,
	}
}

func update(tr, existing *api.Transition) TransitionChange {
	return TransitionChange{
		Transition: tr,
		FromSet:    tr.From != nil,
		ToSet:      tr.To != nil,
		Existing:   existing,
	}
}

func TestGuard_MissingFlow(t *testing.T) {
	store := persistence.NewInMemoryStore()
	g := NewGuard(store, store)

	err := g.CheckWrite(context.Background(), create(&api.Transition{FlowID: 42, From: idPtr(1)}))
	if !errors.Is(err, api.ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}

func TestGuard_SlugTaken(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)
	ctx := context.Background()

	a := addState(t, store, flow.ID, "a", false)
	b := addState(t, store, flow.ID, "b", false)

	taken := addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(a.ID))
	taken.Slug = slugPtr("approve")
	if err := store.UpdateTransition(ctx, taken); err != nil {
		t.Fatalf("UpdateTransition failed: %v", err)
	}

	err := g.CheckWrite(ctx, create(&api.Transition{
		FlowID: flow.ID,
		From:   idPtr(start.ID),
		To:     idPtr(b.ID),
		Slug:   slugPtr("approve"),
	}))
	if !errors.Is(err, api.ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
}

func TestGuard_SlugTakenAcrossFlowsOfSameSubjectType(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)
	ctx := context.Background()

	a := addState(t, store, flow.ID, "a", false)
	taken := addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(a.ID))
	taken.Slug = slugPtr("approve")
	if err := store.UpdateTransition(ctx, taken); err != nil {
		t.Fatalf("UpdateTransition failed: %v", err)
	}

	other := &api.Flow{SubjectType: "order", Version: 2, Active: true}
	if err := store.CreateFlow(ctx, other); err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}
	otherStart := &api.State{FlowID: other.ID, Type: api.StateTypeStart, Status: "start"}
	if err := store.CreateState(ctx, otherStart); err != nil {
		t.Fatalf("CreateState failed: %v", err)
	}
	target := addState(t, store, other.ID, "t", false)

	err := g.CheckWrite(ctx, create(&api.Transition{
		FlowID: other.ID,
		From:   idPtr(otherStart.ID),
		To:     idPtr(target.ID),
		Slug:   slugPtr("approve"),
	}))
	if !errors.Is(err, api.ErrSlugTaken) {
		t.Fatalf("slug uniqueness spans flows of one subject type, got %v", err)
	}
}

func TestGuard_SlugKeptOnSelfUpdate(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)
	ctx := context.Background()

	a := addState(t, store, flow.ID, "a", false)
	b := addState(t, store, flow.ID, "b", false)

	existing := addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(a.ID))
	existing.Slug = slugPtr("approve")
	if err := store.UpdateTransition(ctx, existing); err != nil {
		t.Fatalf("UpdateTransition failed: %v", err)
	}

	// Retarget while keeping the slug: not a conflict with itself.
	changed := &api.Transition{
		ID:     existing.ID,
		FlowID: flow.ID,
		From:   idPtr(start.ID),
		To:     idPtr(b.ID),
		Slug:   slugPtr("approve"),
	}
	if err := g.CheckWrite(ctx, update(changed, existing)); err != nil {
		t.Fatalf("updating a transition must not conflict with its own slug: %v", err)
	}
}

func TestGuard_EndpointsRequired(t *testing.T) {
	store, flow, _ := newFixture(t)
	g := NewGuard(store, store)

	err := g.CheckWrite(context.Background(), TransitionChange{
		Transition: &api.Transition{FlowID: flow.ID},
	})
	if !errors.Is(err, api.ErrEndpointsRequired) {
		t.Fatalf("expected ErrEndpointsRequired, got %v", err)
	}
}

func TestGuard_ExplicitNilEndpointAccepted(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)

	// An exit edge: from is set, to is an explicit nil boundary.
	err := g.CheckWrite(context.Background(), TransitionChange{
		Transition: &api.Transition{FlowID: flow.ID, From: idPtr(start.ID)},
		FromSet:    true,
		ToSet:      true,
	})
	if err != nil {
		t.Fatalf("an explicit nil endpoint must pass the presence check: %v", err)
	}
}

func TestGuard_EndpointsEqual(t *testing.T) {
	store, flow, _ := newFixture(t)
	g := NewGuard(store, store)

	a := addState(t, store, flow.ID, "a", false)

	err := g.CheckWrite(context.Background(), create(&api.Transition{
		FlowID: flow.ID,
		From:   idPtr(a.ID),
		To:     idPtr(a.ID),
	}))
	if !errors.Is(err, api.ErrEndpointsEqual) {
		t.Fatalf("expected ErrEndpointsEqual, got %v", err)
	}
}

func TestGuard_UnknownEndpoint(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)

	err := g.CheckWrite(context.Background(), create(&api.Transition{
		FlowID: flow.ID,
		From:   idPtr(start.ID),
		To:     idPtr(99999),
	}))
	if !errors.Is(err, api.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestGuard_FromTerminal(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)

	terminal := addState(t, store, flow.ID, "done", true)
	next := addState(t, store, flow.ID, "next", false)
	addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(terminal.ID))

	err := g.CheckWrite(context.Background(), create(&api.Transition{
		FlowID: flow.ID,
		From:   idPtr(terminal.ID),
		To:     idPtr(next.ID),
	}))
	if !errors.Is(err, api.ErrFromTerminal) {
		t.Fatalf("expected ErrFromTerminal, got %v", err)
	}
}

func TestGuard_ToStart(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)

	a := addState(t, store, flow.ID, "a", false)
	addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(a.ID))

	err := g.CheckWrite(context.Background(), create(&api.Transition{
		FlowID: flow.ID,
		From:   idPtr(a.ID),
		To:     idPtr(start.ID),
	}))
	if !errors.Is(err, api.ErrToStart) {
		t.Fatalf("expected ErrToStart, got %v", err)
	}
}

func TestGuard_CrossSubjectType(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)
	ctx := context.Background()

	a := addState(t, store, flow.ID, "a", false)
	addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(a.ID))

	foreign := &api.Flow{SubjectType: "ticket", Version: 1, Active: true}
	if err := store.CreateFlow(ctx, foreign); err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}
	foreignState := addState(t, store, foreign.ID, "elsewhere", false)

	err := g.CheckWrite(ctx, create(&api.Transition{
		FlowID: flow.ID,
		From:   idPtr(a.ID),
		To:     idPtr(foreignState.ID),
	}))
	if !errors.Is(err, api.ErrCrossSubjectType) {
		t.Fatalf("expected ErrCrossSubjectType, got %v", err)
	}
}

func TestGuard_DuplicateTransition(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)

	a := addState(t, store, flow.ID, "a", false)
	addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(a.ID))

	err := g.CheckWrite(context.Background(), create(&api.Transition{
		FlowID: flow.ID,
		From:   idPtr(start.ID),
		To:     idPtr(a.ID),
	}))
	if !errors.Is(err, api.ErrDuplicateTransition) {
		t.Fatalf("expected ErrDuplicateTransition, got %v", err)
	}
}

func TestGuard_FirstTransitionMustLeaveStart(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)

	a := addState(t, store, flow.ID, "a", false)
	b := addState(t, store, flow.ID, "b", false)

	err := g.CheckWrite(context.Background(), create(&api.Transition{
		FlowID: flow.ID,
		From:   idPtr(a.ID),
		To:     idPtr(b.ID),
	}))
	if !errors.Is(err, api.ErrFirstFromStart) {
		t.Fatalf("expected ErrFirstFromStart, got %v", err)
	}

	// Anchored at start it passes, and subsequent edges are free.
	if err := g.CheckWrite(context.Background(), create(&api.Transition{
		FlowID: flow.ID,
		From:   idPtr(start.ID),
		To:     idPtr(a.ID),
	})); err != nil {
		t.Fatalf("bootstrap transition rejected: %v", err)
	}
	addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(a.ID))

	if err := g.CheckWrite(context.Background(), create(&api.Transition{
		FlowID: flow.ID,
		From:   idPtr(a.ID),
		To:     idPtr(b.ID),
	})); err != nil {
		t.Fatalf("second transition may start anywhere: %v", err)
	}
}

func TestGuard_StartAnchorCannotMove(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)

	a := addState(t, store, flow.ID, "a", false)
	b := addState(t, store, flow.ID, "b", false)
	anchor := addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(a.ID))

	moved := &api.Transition{
		ID:     anchor.ID,
		FlowID: flow.ID,
		From:   idPtr(a.ID),
		To:     idPtr(b.ID),
	}
	err := g.CheckWrite(context.Background(), update(moved, anchor))
	if !errors.Is(err, api.ErrStartAnchorMoved) {
		t.Fatalf("expected ErrStartAnchorMoved, got %v", err)
	}

	// Retargeting the destination while keeping the anchor is fine.
	retargeted := &api.Transition{
		ID:     anchor.ID,
		FlowID: flow.ID,
		From:   idPtr(start.ID),
		To:     idPtr(b.ID),
	}
	if err := g.CheckWrite(context.Background(), update(retargeted, anchor)); err != nil {
		t.Fatalf("retargeting the anchored transition must pass: %v", err)
	}
}

func TestGuard_DeleteLastStartAnchor(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)

	a := addState(t, store, flow.ID, "a", false)
	b := addState(t, store, flow.ID, "b", false)
	anchor := addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(a.ID))
	addTransition(t, store, flow.ID, idPtr(a.ID), idPtr(b.ID))

	err := g.CheckDelete(context.Background(), anchor)
	if !errors.Is(err, api.ErrStartAnchorDelete) {
		t.Fatalf("expected ErrStartAnchorDelete, got %v", err)
	}
}

func TestGuard_DeleteStartAnchorWithSibling(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)

	a := addState(t, store, flow.ID, "a", false)
	b := addState(t, store, flow.ID, "b", false)
	anchor := addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(a.ID))
	addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(b.ID))

	if err := g.CheckDelete(context.Background(), anchor); err != nil {
		t.Fatalf("another start anchor remains, delete must pass: %v", err)
	}
}

func TestGuard_DeleteOnlyTransition(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)

	a := addState(t, store, flow.ID, "a", false)
	anchor := addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(a.ID))

	if err := g.CheckDelete(context.Background(), anchor); err != nil {
		t.Fatalf("deleting the flow's only transition must pass: %v", err)
	}
}

func TestGuard_DeleteNonAnchoredTransition(t *testing.T) {
	store, flow, start := newFixture(t)
	g := NewGuard(store, store)

	a := addState(t, store, flow.ID, "a", false)
	b := addState(t, store, flow.ID, "b", false)
	addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(a.ID))
	inner := addTransition(t, store, flow.ID, idPtr(a.ID), idPtr(b.ID))

	if err := g.CheckDelete(context.Background(), inner); err != nil {
		t.Fatalf("deleting a non-anchored transition must pass: %v", err)
	}
}
