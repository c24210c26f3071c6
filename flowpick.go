package flowpick

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/flowpick/internal/engine"
	"github.com/petrijr/flowpick/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Flow                 = api.Flow
	State                = api.State
	StateConfig          = api.StateConfig
	StateType            = api.StateType
	Transition           = api.Transition
	TaskRef              = api.TaskRef
	Lifecycle            = api.Lifecycle
	Criteria             = api.Criteria
	MatchStrategy        = api.MatchStrategy
	FallbackStep         = api.FallbackStep
	Predicate            = api.Predicate
	OrderingFunc         = api.OrderingFunc
	RolloutKeyResolver   = api.RolloutKeyResolver
	ForceFlowIDResolver  = api.ForceFlowIDResolver
	Subject              = api.Subject
	StaticSubject        = api.StaticSubject
	RequestCache         = api.RequestCache
	ExecutionContext     = api.ExecutionContext
	FlowStore            = api.FlowStore
	GraphStore           = api.GraphStore
	Store                = api.Store
	FlowQuery            = api.FlowQuery
	ConsistencyError     = api.ConsistencyError
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common helpers.

var (
	NewCriteria          = api.NewCriteria
	NewRequestCache      = api.NewRequestCache
	ParseFallbackSteps   = api.ParseFallbackSteps
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export the sentinel errors so callers can errors.Is against them
// without importing pkg/api.

var (
	ErrFlowNotFound       = api.ErrFlowNotFound
	ErrStateNotFound      = api.ErrStateNotFound
	ErrTransitionNotFound = api.ErrTransitionNotFound

	ErrSubjectTypeRequired = api.ErrSubjectTypeRequired

	ErrSlugTaken           = api.ErrSlugTaken
	ErrEndpointsRequired   = api.ErrEndpointsRequired
	ErrEndpointsEqual      = api.ErrEndpointsEqual
	ErrFromTerminal        = api.ErrFromTerminal
	ErrToStart             = api.ErrToStart
	ErrCrossSubjectType    = api.ErrCrossSubjectType
	ErrDuplicateTransition = api.ErrDuplicateTransition
	ErrFirstFromStart      = api.ErrFirstFromStart
	ErrStartAnchorMoved    = api.ErrStartAnchorMoved
	ErrStartAnchorDelete   = api.ErrStartAnchorDelete
	ErrStartStateDelete    = api.ErrStartStateDelete
	ErrStartStateExists    = api.ErrStartStateExists
)

// Re-export the state types and match strategies for convenience.

const (
	StateTypeStart = api.StateTypeStart
	StateTypeState = api.StateTypeState

	MatchBest  = api.MatchBest
	MatchFirst = api.MatchFirst

	FallbackDropChannel        = api.FallbackDropChannel
	FallbackDropEnvironment    = api.FallbackDropEnvironment
	FallbackIgnoreTimeWindow   = api.FallbackIgnoreTimeWindow
	FallbackDisableRollout     = api.FallbackDisableRollout
	FallbackDropRequireDefault = api.FallbackDropRequireDefault
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists flows and their graphs
// in a SQLite database.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// NewPostgresEngine returns an Engine that persists flows in PostgreSQL.
func NewPostgresEngine(db *sql.DB) (Engine, error) {
	return engine.NewPostgresEngine(db)
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with the given Observer.
func NewPostgresEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewPostgresEngineWithObserver(db, obs)
}

// NewRedisEngine returns an Engine that persists flows in Redis.
func NewRedisEngine(client *redis.Client) Engine {
	return engine.NewRedisEngine(client)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(client *redis.Client, obs Observer) Engine {
	return engine.NewRedisEngineWithObserver(client, obs)
}

// NewMongoEngine returns an Engine that persists flows in MongoDB.
func NewMongoEngine(client *mongo.Client) Engine {
	return engine.NewMongoEngine(client)
}

// NewMongoEngineWithObserver returns a Mongo-backed Engine with the given Observer.
func NewMongoEngineWithObserver(client *mongo.Client, obs Observer) Engine {
	return engine.NewMongoEngineWithObserver(client, obs)
}

// NewEngine returns an Engine over a caller-supplied store pair, for
// applications that bring their own FlowStore/GraphStore implementation.
func NewEngine(store Store) Engine {
	return engine.NewEngine(store)
}

// Convenience helpers that just forward to the underlying Engine.

// Pick selects the flow that applies to subject under the given criteria.
// A nil flow with a nil error is a selection miss.
func Pick(ctx context.Context, eng Engine, subject Subject, c *Criteria) (*Flow, error) {
	return eng.Pick(ctx, subject, c)
}

// Candidates returns the full ordered candidate list for debugging.
func Candidates(ctx context.Context, eng Engine, subject Subject, c *Criteria) ([]*Flow, error) {
	return eng.Candidates(ctx, subject, c)
}

// ValidateConsistency checks a flow's graph shape.
func ValidateConsistency(ctx context.Context, eng Engine, flowID int64) error {
	return eng.ValidateConsistency(ctx, flowID)
}
