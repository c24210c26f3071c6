package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/petrijr/flowpick/internal/testutil"
	"github.com/petrijr/flowpick/pkg/api"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := testutil.PostgresDSN(t)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewPostgresStore(db)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	return store
}

// The container is shared across the test binary, so each test keeps to its
// own subject type.

func TestPostgresStore_FlowRoundTrip(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	from := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	f := &api.Flow{
		SubjectType:  "pg-roundtrip",
		SubjectScope: strPtr("tenant-1"),
		Version:      2,
		Active:       true,
		ActiveFrom:   &from,
		Channel:      strPtr("web"),
		RolloutPct:   intPtr(30),
	}
	if err := store.CreateFlow(ctx, f); err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}
	if f.ID == 0 {
		t.Fatalf("CreateFlow must assign an id")
	}

	got, err := store.GetFlow(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFlow failed: %v", err)
	}
	if got.SubjectType != "pg-roundtrip" || *got.SubjectScope != "tenant-1" || got.Version != 2 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.ActiveFrom == nil || !got.ActiveFrom.Equal(from) {
		t.Fatalf("ActiveFrom mismatch: %v", got.ActiveFrom)
	}
	if got.Channel == nil || *got.Channel != "web" || got.Environment != nil {
		t.Fatalf("optional fields mismatch: %+v", got)
	}
	if got.RolloutPct == nil || *got.RolloutPct != 30 {
		t.Fatalf("rollout mismatch: %+v", got.RolloutPct)
	}
}

func TestPostgresStore_ListFlowsFilters(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	v1 := &api.Flow{SubjectType: "pg-filters", Version: 1, Active: true}
	v2 := &api.Flow{SubjectType: "pg-filters", Version: 2, IsDefault: true, Active: true}
	for _, f := range []*api.Flow{v1, v2} {
		if err := store.CreateFlow(ctx, f); err != nil {
			t.Fatalf("CreateFlow failed: %v", err)
		}
	}

	got, err := store.ListFlows(ctx, api.FlowQuery{SubjectType: "pg-filters"})
	if err != nil {
		t.Fatalf("ListFlows failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 flows, got %d", len(got))
	}

	got, err = store.ListFlows(ctx, api.FlowQuery{SubjectType: "pg-filters", OnlyDefault: true})
	if err != nil {
		t.Fatalf("ListFlows failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != v2.ID {
		t.Fatalf("OnlyDefault filter broken, got %d flows", len(got))
	}

	got, err = store.ListFlows(ctx, api.FlowQuery{SubjectType: "pg-filters", VersionEquals: intPtr(1)})
	if err != nil {
		t.Fatalf("ListFlows failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != v1.ID {
		t.Fatalf("VersionEquals filter broken, got %d flows", len(got))
	}
}

func TestPostgresStore_SetDefaultFlow(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	a := &api.Flow{SubjectType: "pg-default", SubjectScope: strPtr("t1"), Version: 1, IsDefault: true, Active: true}
	b := &api.Flow{SubjectType: "pg-default", SubjectScope: strPtr("t1"), Version: 2, Active: true}
	other := &api.Flow{SubjectType: "pg-default", Version: 1, IsDefault: true, Active: true}
	for _, f := range []*api.Flow{a, b, other} {
		if err := store.CreateFlow(ctx, f); err != nil {
			t.Fatalf("CreateFlow failed: %v", err)
		}
	}

	if err := store.SetDefaultFlow(ctx, b.ID); err != nil {
		t.Fatalf("SetDefaultFlow failed: %v", err)
	}

	gotA, _ := store.GetFlow(ctx, a.ID)
	gotB, _ := store.GetFlow(ctx, b.ID)
	gotOther, _ := store.GetFlow(ctx, other.ID)
	if gotA.IsDefault || !gotB.IsDefault {
		t.Fatalf("default flag not flipped within the scope pair")
	}
	if !gotOther.IsDefault {
		t.Fatalf("the NULL-scope flow is a different pair and must keep its flag")
	}
}

func TestPostgresStore_GraphRoundTrip(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	f := &api.Flow{SubjectType: "pg-graph", Version: 1, Active: true}
	if err := store.CreateFlow(ctx, f); err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}

	start := &api.State{FlowID: f.ID, Type: api.StateTypeStart, Status: "start"}
	done := &api.State{FlowID: f.ID, Type: api.StateTypeState, Status: "done", Config: api.StateConfig{IsTerminal: true}}
	for _, s := range []*api.State{start, done} {
		if err := store.CreateState(ctx, s); err != nil {
			t.Fatalf("CreateState failed: %v", err)
		}
	}

	tr := &api.Transition{
		FlowID: f.ID,
		From:   idPtr(start.ID),
		To:     idPtr(done.ID),
		Slug:   strPtr("pg-finish"),
		Tasks:  []api.TaskRef{{Kind: "action", Name: "archive"}},
	}
	if err := store.CreateTransition(ctx, tr); err != nil {
		t.Fatalf("CreateTransition failed: %v", err)
	}

	got, err := store.FindTransitionBySlug(ctx, "pg-graph", "pg-finish")
	if err != nil {
		t.Fatalf("FindTransitionBySlug failed: %v", err)
	}
	if got.ID != tr.ID || len(got.Tasks) != 1 || got.Tasks[0].Name != "archive" {
		t.Fatalf("transition round-trip mismatch: %+v", got)
	}

	states, err := store.ListStates(ctx, f.ID)
	if err != nil {
		t.Fatalf("ListStates failed: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}

	if err := store.ForceDeleteFlow(ctx, f.ID); err != nil {
		t.Fatalf("ForceDeleteFlow failed: %v", err)
	}
	if _, err := store.GetState(ctx, start.ID); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("states must be gone after force delete, got %v", err)
	}
}

func TestPostgresStore_NotFoundSentinels(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	if _, err := store.GetFlow(ctx, 999999); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("GetFlow: expected ErrFlowNotFound, got %v", err)
	}
	if err := store.SetDefaultFlow(ctx, 999999); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("SetDefaultFlow: expected ErrFlowNotFound, got %v", err)
	}
	if _, err := store.GetTransition(ctx, 999999); !errors.Is(err, ErrTransitionNotFound) {
		t.Fatalf("GetTransition: expected ErrTransitionNotFound, got %v", err)
	}
}
