// Package engine wires stores, selector, guard and validator into the
// api.Engine implementation behind the root package's constructors.
package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/flowpick/internal/graph"
	"github.com/petrijr/flowpick/internal/persistence"
	"github.com/petrijr/flowpick/internal/selector"
	"github.com/petrijr/flowpick/pkg/api"
)

// engineImpl is a synchronous, in-process engine implementation. Every call
// is one logical request against the underlying store; the engine starts no
// background goroutines.
type engineImpl struct {
	flows api.FlowStore
	graph api.GraphStore

	selector  *selector.Selector
	guard     *graph.Guard
	validator *graph.Validator

	cache    *api.RequestCache
	observer api.Observer
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Store    api.Store
	Cache    *api.RequestCache
	Observer api.Observer
}

func NewInMemoryEngine() api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngine(api.Store{Flows: mem, Graph: mem})
}

func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngineWithConfig(Config{
		Store:    api.Store{Flows: mem, Graph: mem},
		Observer: obs,
	})
}

func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(api.Store{Flows: store, Graph: store}), nil
}

func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Store:    api.Store{Flows: store, Graph: store},
		Observer: obs,
	}), nil
}

func NewPostgresEngine(db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(api.Store{Flows: store, Graph: store}), nil
}

func NewPostgresEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Store:    api.Store{Flows: store, Graph: store},
		Observer: obs,
	}), nil
}

func NewRedisEngine(client *redis.Client) api.Engine {
	store := persistence.NewRedisStore(client, "flowpick:")
	return NewEngine(api.Store{Flows: store, Graph: store})
}

func NewRedisEngineWithObserver(client *redis.Client, obs api.Observer) api.Engine {
	store := persistence.NewRedisStore(client, "flowpick:")
	return NewEngineWithConfig(Config{
		Store:    api.Store{Flows: store, Graph: store},
		Observer: obs,
	})
}

func NewMongoEngine(client *mongo.Client) api.Engine {
	store := persistence.NewMongoStore(client, "")
	return NewEngine(api.Store{Flows: store, Graph: store})
}

func NewMongoEngineWithObserver(client *mongo.Client, obs api.Observer) api.Engine {
	store := persistence.NewMongoStore(client, "")
	return NewEngineWithConfig(Config{
		Store:    api.Store{Flows: store, Graph: store},
		Observer: obs,
	})
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	cache := cfg.Cache
	if cache == nil {
		cache = api.NewRequestCache()
	}
	return &engineImpl{
		flows:     cfg.Store.Flows,
		graph:     cfg.Store.Graph,
		selector:  selector.New(cfg.Store.Flows, cache, obs),
		guard:     graph.NewGuard(cfg.Store.Flows, cfg.Store.Graph),
		validator: graph.NewValidator(cfg.Store.Flows, cfg.Store.Graph),
		cache:     cache,
		observer:  obs,
	}
}

// NewEngine returns an Engine over the given store with a fresh request
// cache and no observer. External users access this via the root package.
func NewEngine(store api.Store) api.Engine {
	return NewEngineWithConfig(Config{Store: store})
}

func (e *engineImpl) Pick(ctx context.Context, subject api.Subject, c *api.Criteria) (*api.Flow, error) {
	return e.selector.Pick(ctx, subject, c)
}

func (e *engineImpl) Candidates(ctx context.Context, subject api.Subject, c *api.Criteria) ([]*api.Flow, error) {
	return e.selector.Candidates(ctx, subject, c)
}

func (e *engineImpl) CreateFlow(ctx context.Context, f *api.Flow) (*api.State, error) {
	if f.SubjectType == "" {
		return nil, fmt.Errorf("create flow: %w", api.ErrSubjectTypeRequired)
	}
	if f.Version <= 0 {
		f.Version = 1
	}
	if f.Lifecycle == "" {
		f.Lifecycle = api.LifecycleActive
	}

	if err := e.flows.CreateFlow(ctx, f); err != nil {
		return nil, err
	}

	// Every flow gets its entry state in the same call.
	start := &api.State{
		FlowID: f.ID,
		Type:   api.StateTypeStart,
		Status: "start",
	}
	if err := e.graph.CreateState(ctx, start); err != nil {
		return nil, err
	}

	e.cache.Clear()
	return start, nil
}

func (e *engineImpl) GetFlow(ctx context.Context, id int64) (*api.Flow, error) {
	return e.flows.GetFlow(ctx, id)
}

func (e *engineImpl) UpdateFlow(ctx context.Context, f *api.Flow) error {
	if err := e.flows.UpdateFlow(ctx, f); err != nil {
		return err
	}
	e.cache.Clear()
	return nil
}

func (e *engineImpl) SetDefaultFlow(ctx context.Context, id int64) error {
	if err := e.flows.SetDefaultFlow(ctx, id); err != nil {
		return err
	}
	e.cache.Clear()
	return nil
}

func (e *engineImpl) SoftDeleteFlow(ctx context.Context, id int64) error {
	if err := e.flows.SoftDeleteFlow(ctx, id); err != nil {
		return err
	}
	e.cache.Clear()
	return nil
}

func (e *engineImpl) RestoreFlow(ctx context.Context, id int64) error {
	if err := e.flows.RestoreFlow(ctx, id); err != nil {
		return err
	}
	e.cache.Clear()
	return nil
}

func (e *engineImpl) ForceDeleteFlow(ctx context.Context, id int64) error {
	if err := e.flows.ForceDeleteFlow(ctx, id); err != nil {
		return err
	}
	e.cache.Clear()
	return nil
}

func (e *engineImpl) CreateState(ctx context.Context, s *api.State) error {
	if _, err := e.flows.GetFlow(ctx, s.FlowID); err != nil {
		return err
	}

	if s.Type == api.StateTypeStart {
		states, err := e.graph.ListStates(ctx, s.FlowID)
		if err != nil {
			return err
		}
		for _, existing := range states {
			if existing.IsStart() {
				return api.ErrStartStateExists
			}
		}
	}
	if s.Type == "" {
		s.Type = api.StateTypeState
	}

	if err := e.graph.CreateState(ctx, s); err != nil {
		return err
	}
	e.cache.Clear()
	return nil
}

func (e *engineImpl) DeleteState(ctx context.Context, id int64) error {
	s, err := e.graph.GetState(ctx, id)
	if err != nil {
		return err
	}
	if s.IsStart() {
		return api.ErrStartStateDelete
	}

	if err := e.graph.DeleteState(ctx, id); err != nil {
		return err
	}
	e.cache.Clear()
	return nil
}

func (e *engineImpl) CreateTransition(ctx context.Context, t *api.Transition) error {
	change := graph.TransitionChange{
		Transition: t,
		FromSet:    t.From != nil,
		ToSet:      t.To != nil,
	}
	if err := e.guard.CheckWrite(ctx, change); err != nil {
		return err
	}

	if err := e.graph.CreateTransition(ctx, t); err != nil {
		return err
	}
	e.cache.Clear()
	return nil
}

func (e *engineImpl) UpdateTransition(ctx context.Context, t *api.Transition) error {
	existing, err := e.graph.GetTransition(ctx, t.ID)
	if err != nil {
		return err
	}

	change := graph.TransitionChange{
		Transition: t,
		FromSet:    t.From != nil,
		ToSet:      t.To != nil,
		Existing:   existing,
	}
	if err := e.guard.CheckWrite(ctx, change); err != nil {
		return err
	}

	if err := e.graph.UpdateTransition(ctx, t); err != nil {
		return err
	}
	e.cache.Clear()
	return nil
}

func (e *engineImpl) DeleteTransition(ctx context.Context, id int64) error {
	t, err := e.graph.GetTransition(ctx, id)
	if err != nil {
		return err
	}
	if err := e.guard.CheckDelete(ctx, t); err != nil {
		return err
	}

	if err := e.graph.DeleteTransition(ctx, id); err != nil {
		return err
	}
	e.cache.Clear()
	return nil
}

func (e *engineImpl) ValidateConsistency(ctx context.Context, flowID int64) error {
	return e.validator.ValidateConsistency(ctx, flowID)
}

func (e *engineImpl) ExecutionContextFor(ctx context.Context, subject api.Subject, flowID int64, payload any, actor string) (*api.ExecutionContext, error) {
	f, err := e.flows.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	states, err := e.graph.ListStates(ctx, flowID)
	if err != nil {
		return nil, err
	}
	transitions, err := e.graph.ListTransitions(ctx, flowID)
	if err != nil {
		return nil, err
	}

	return &api.ExecutionContext{
		Subject:     subject,
		Flow:        f,
		States:      states,
		Transitions: transitions,
		Results:     make(map[string]any),
		Payload:     payload,
		Actor:       actor,
	}, nil
}

func (e *engineImpl) ClearRequestCache() {
	e.cache.Clear()
}
