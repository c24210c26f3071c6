package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/petrijr/flowpick/internal/persistence"
	"github.com/petrijr/flowpick/pkg/api"
)

func newFixture(t *testing.T) (*persistence.InMemoryStore, *api.Flow, *api.State) {
	t.Helper()

	store := persistence.NewInMemoryStore()
	ctx := context.Background()

	flow := &api.Flow{SubjectType: "order", Version: 1, Active: true}
	if err := store.CreateFlow(ctx, flow); err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}

	start := &api.State{FlowID: flow.ID, Type: api.StateTypeStart, Status: "start"}
	if err := store.CreateState(ctx, start); err != nil {
		t.Fatalf("CreateState failed: %v", err)
	}

	return store, flow, start
}

func addState(t *testing.T, store *persistence.InMemoryStore, flowID int64, status string, terminal bool) *api.State {
	t.Helper()

	s := &api.State{
		FlowID: flowID,
		Type:   api.StateTypeState,
		Status: status,
		Config: api.StateConfig{IsTerminal: terminal},
	}
	if err := store.CreateState(context.Background(), s); err != nil {
		t.Fatalf("CreateState failed: %v", err)
	}
	return s
}

func addTransition(t *testing.T, store *persistence.InMemoryStore, flowID int64, from, to *int64) *api.Transition {
	t.Helper()

	tr := &api.Transition{FlowID: flowID, From: from, To: to}
	if err := store.CreateTransition(context.Background(), tr); err != nil {
		t.Fatalf("CreateTransition failed: %v", err)
	}
	return tr
}

func idPtr(id int64) *int64 { return &id }

func TestValidateConsistency_CleanGraph(t *testing.T) {
	store, flow, start := newFixture(t)
	v := NewValidator(store, store)

	next := addState(t, store, flow.ID, "shipped", false)
	addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(next.ID))

	if err := v.ValidateConsistency(context.Background(), flow.ID); err != nil {
		t.Fatalf("expected a consistent graph, got %v", err)
	}
}

func TestValidateConsistency_MissingStart(t *testing.T) {
	store := persistence.NewInMemoryStore()
	ctx := context.Background()

	flow := &api.Flow{SubjectType: "order", Version: 1, Active: true}
	if err := store.CreateFlow(ctx, flow); err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}
	addState(t, store, flow.ID, "lonely", false)

	v := NewValidator(store, store)
	err := v.ValidateConsistency(ctx, flow.ID)

	var cerr *api.ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *api.ConsistencyError, got %v", err)
	}
	if cerr.Key != "graph" || !cerr.Has(api.ViolationStartRequired) {
		t.Fatalf("expected %q under key graph, got %+v", api.ViolationStartRequired, cerr)
	}
}

func TestValidateConsistency_TwoStarts(t *testing.T) {
	store, flow, _ := newFixture(t)

	second := &api.State{FlowID: flow.ID, Type: api.StateTypeStart, Status: "also-start"}
	if err := store.CreateState(context.Background(), second); err != nil {
		t.Fatalf("CreateState failed: %v", err)
	}

	v := NewValidator(store, store)
	err := v.ValidateConsistency(context.Background(), flow.ID)

	var cerr *api.ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *api.ConsistencyError, got %v", err)
	}
	if !cerr.Has(api.ViolationStartRequired) {
		t.Fatalf("two starts must report %q, got %+v", api.ViolationStartRequired, cerr)
	}
}

func TestValidateConsistency_IncomingIntoStart(t *testing.T) {
	store, flow, start := newFixture(t)

	next := addState(t, store, flow.ID, "shipped", false)
	addTransition(t, store, flow.ID, idPtr(start.ID), idPtr(next.ID))
	// Violating edge, written directly past the guard.
	addTransition(t, store, flow.ID, idPtr(next.ID), idPtr(start.ID))

	v := NewValidator(store, store)
	err := v.ValidateConsistency(context.Background(), flow.ID)

	var cerr *api.ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *api.ConsistencyError, got %v", err)
	}
	if !cerr.Has(api.ViolationStartHasIncoming) {
		t.Fatalf("expected %q, got %+v", api.ViolationStartHasIncoming, cerr)
	}
}

func TestValidateConsistency_MissingFlow(t *testing.T) {
	store := persistence.NewInMemoryStore()
	v := NewValidator(store, store)

	err := v.ValidateConsistency(context.Background(), 42)
	if !errors.Is(err, api.ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}
