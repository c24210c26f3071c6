package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/petrijr/flowpick/internal/testutil"
	"github.com/petrijr/flowpick/pkg/api"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testutil.RedisAddr(t)})
	t.Cleanup(func() { _ = client.Close() })

	// Per-test prefix keeps tests isolated on the shared container.
	prefix := fmt.Sprintf("flowpick:test:%s:", t.Name())
	return NewRedisStore(client, prefix)
}

func TestRedisStore_FlowRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	f := &api.Flow{
		SubjectType:  "order",
		SubjectScope: strPtr("tenant-1"),
		Version:      2,
		Active:       true,
		Environment:  strPtr("production"),
		RolloutPct:   intPtr(50),
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
	if got.SubjectType != "order" || *got.SubjectScope != "tenant-1" || got.Version != 2 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.Environment == nil || *got.Environment != "production" || got.Channel != nil {
		t.Fatalf("optional fields mismatch: %+v", got)
	}
	if got.RolloutPct == nil || *got.RolloutPct != 50 {
		t.Fatalf("rollout mismatch: %+v", got.RolloutPct)
	}
}

func TestRedisStore_ListFlowsUsesTypeIndex(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	a := &api.Flow{SubjectType: "order", Version: 1, Active: true}
	b := &api.Flow{SubjectType: "order", Version: 2, Active: true}
	c := &api.Flow{SubjectType: "ticket", Version: 1, Active: true}
	for _, f := range []*api.Flow{a, b, c} {
		if err := store.CreateFlow(ctx, f); err != nil {
			t.Fatalf("CreateFlow failed: %v", err)
		}
	}

	got, err := store.ListFlows(ctx, api.FlowQuery{SubjectType: "order"})
	if err != nil {
		t.Fatalf("ListFlows failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 order flows, got %d", len(got))
	}

	got, err = store.ListFlows(ctx, api.FlowQuery{SubjectType: "order", VersionMin: intPtr(2)})
	if err != nil {
		t.Fatalf("ListFlows failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != b.ID {
		t.Fatalf("version filter broken, got %d flows", len(got))
	}
}

func TestRedisStore_UpdateFlowReindexesOnTypeChange(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	f := &api.Flow{SubjectType: "order", Version: 1, Active: true}
	if err := store.CreateFlow(ctx, f); err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}

	f.SubjectType = "ticket"
	if err := store.UpdateFlow(ctx, f); err != nil {
		t.Fatalf("UpdateFlow failed: %v", err)
	}

	got, err := store.ListFlows(ctx, api.FlowQuery{SubjectType: "order"})
	if err != nil {
		t.Fatalf("ListFlows failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("flow must leave the old type index, got %d", len(got))
	}

	got, err = store.ListFlows(ctx, api.FlowQuery{SubjectType: "ticket"})
	if err != nil {
		t.Fatalf("ListFlows failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != f.ID {
		t.Fatalf("flow must join the new type index, got %d flows", len(got))
	}
}

func TestRedisStore_SetDefaultFlow(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	a := &api.Flow{SubjectType: "order", SubjectScope: strPtr("t1"), Version: 1, IsDefault: true, Active: true}
	b := &api.Flow{SubjectType: "order", SubjectScope: strPtr("t1"), Version: 2, Active: true}
	for _, f := range []*api.Flow{a, b} {
		if err := store.CreateFlow(ctx, f); err != nil {
			t.Fatalf("CreateFlow failed: %v", err)
		}
	}

	if err := store.SetDefaultFlow(ctx, b.ID); err != nil {
		t.Fatalf("SetDefaultFlow failed: %v", err)
	}

	gotA, _ := store.GetFlow(ctx, a.ID)
	gotB, _ := store.GetFlow(ctx, b.ID)
	if gotA.IsDefault || !gotB.IsDefault {
		t.Fatalf("default flag not flipped: a=%v b=%v", gotA.IsDefault, gotB.IsDefault)
	}
}

func TestRedisStore_SetDefaultFlowClearsSoftDeletedDefault(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	a := &api.Flow{SubjectType: "order", SubjectScope: strPtr("t1"), Version: 1, IsDefault: true, Active: true}
	b := &api.Flow{SubjectType: "order", SubjectScope: strPtr("t1"), Version: 2, Active: true}
	for _, f := range []*api.Flow{a, b} {
		if err := store.CreateFlow(ctx, f); err != nil {
			t.Fatalf("CreateFlow failed: %v", err)
		}
	}

	if err := store.SoftDeleteFlow(ctx, a.ID); err != nil {
		t.Fatalf("SoftDeleteFlow failed: %v", err)
	}
	if err := store.SetDefaultFlow(ctx, b.ID); err != nil {
		t.Fatalf("SetDefaultFlow failed: %v", err)
	}
	if err := store.RestoreFlow(ctx, a.ID); err != nil {
		t.Fatalf("RestoreFlow failed: %v", err)
	}

	gotA, _ := store.GetFlow(ctx, a.ID)
	gotB, _ := store.GetFlow(ctx, b.ID)
	if gotA.IsDefault {
		t.Fatalf("restored flow must not come back as a second default")
	}
	if !gotB.IsDefault {
		t.Fatalf("target must hold the default flag")
	}
}

func TestRedisStore_SoftDeleteHidesFromList(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	f := &api.Flow{SubjectType: "order", Version: 1, Active: true}
	if err := store.CreateFlow(ctx, f); err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}
	if err := store.SoftDeleteFlow(ctx, f.ID); err != nil {
		t.Fatalf("SoftDeleteFlow failed: %v", err)
	}

	got, err := store.ListFlows(ctx, api.FlowQuery{SubjectType: "order"})
	if err != nil {
		t.Fatalf("ListFlows failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("soft-deleted flow must not be listed")
	}

	if _, err := store.GetFlow(ctx, f.ID); err != nil {
		t.Fatalf("GetFlow must return soft-deleted flows: %v", err)
	}
}

func TestRedisStore_GraphRoundTripAndCascade(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	f := &api.Flow{SubjectType: "order", Version: 1, Active: true}
	if err := store.CreateFlow(ctx, f); err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}

	start := &api.State{FlowID: f.ID, Type: api.StateTypeStart, Status: "start"}
	if err := store.CreateState(ctx, start); err != nil {
		t.Fatalf("CreateState failed: %v", err)
	}

	tr := &api.Transition{
		FlowID: f.ID,
		From:   idPtr(start.ID),
		Slug:   strPtr("finish"),
		Tasks:  []api.TaskRef{{Kind: "action", Name: "archive", Params: map[string]any{"keep": true}}},
	}
	if err := store.CreateTransition(ctx, tr); err != nil {
		t.Fatalf("CreateTransition failed: %v", err)
	}

	got, err := store.FindTransitionBySlug(ctx, "order", "finish")
	if err != nil {
		t.Fatalf("FindTransitionBySlug failed: %v", err)
	}
	if got.ID != tr.ID || len(got.Tasks) != 1 || got.Tasks[0].Name != "archive" {
		t.Fatalf("transition round-trip mismatch: %+v", got)
	}

	if err := store.ForceDeleteFlow(ctx, f.ID); err != nil {
		t.Fatalf("ForceDeleteFlow failed: %v", err)
	}
	if _, err := store.GetState(ctx, start.ID); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("states must be gone after force delete, got %v", err)
	}
	if _, err := store.GetTransition(ctx, tr.ID); !errors.Is(err, ErrTransitionNotFound) {
		t.Fatalf("transitions must be gone after force delete, got %v", err)
	}
}

func TestRedisStore_NotFoundSentinels(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := store.GetFlow(ctx, 999); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("GetFlow: expected ErrFlowNotFound, got %v", err)
	}
	if err := store.SoftDeleteFlow(ctx, 999); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("SoftDeleteFlow: expected ErrFlowNotFound, got %v", err)
	}
	if _, err := store.GetState(ctx, 999); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("GetState: expected ErrStateNotFound, got %v", err)
	}
}
