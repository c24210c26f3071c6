// Package flowpick attaches versioned workflow definitions ("flows") to
// business entities and deterministically selects which flow version applies
// to a given entity at runtime.
//
// Flowpick is designed for backend services that ship several versions of a
// workflow at once — per tenant, per environment, per channel, behind a time
// window or a percentage rollout — and need one reproducible answer to the
// question "which flow runs for this entity, right now?". It runs fully in
// Go, supports multiple persistence backends, and integrates cleanly into
// existing codebases.
//
// # Core Concepts
//
// The flowpick programming model is intentionally small:
//
//  1. Engine
//  2. Criteria
//  3. FlowBuilder
//  4. Flow graphs (states and transitions)
//
// # Engine
//
// The Engine stores flow definitions with their graphs and provides APIs to:
//   - select the applicable flow for a subject (Pick / Candidates)
//   - create flows, states and transitions under guard checks
//   - validate a flow graph's consistency
//   - manage the flow lifecycle (soft delete, restore, force delete)
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// Engines are synchronous and start no background goroutines; every call is
// one logical request against the underlying store.
//
// # Criteria
//
// Criteria accumulate the filters, preferences and fallbacks of one
// selection attempt through a chainable API:
//
//	crit := flowpick.NewCriteria("order").
//	    Scope("tenant-1").
//	    Environment("production").
//	    RolloutNamespace("checkout").
//	    Cascade(flowpick.FallbackDropChannel, flowpick.FallbackDisableRollout)
//
//	flow, err := flowpick.Pick(ctx, eng, flowpick.StaticSubject("order-42"), crit)
//
// When no flow survives the filters, Pick walks the fallback cascade,
// relaxing one constraint at a time, and returns the first match — or nil,
// because a selection miss is an expected outcome, not an error.
//
// Percentage rollouts bucket each subject deterministically: the same
// (namespace, salt, key) triple always lands in the same bucket, across
// processes and restarts, so A/B-style rollouts are reproducible.
//
// # FlowBuilder
//
// FlowBuilder provides the declarative API used to define a flow and its
// graph in one expression:
//
//	flow, err := flowpick.NewFlow("order").
//	    Version(2).
//	    State("review").
//	    TerminalState("done").
//	    Transition(flowpick.StartState, "review").
//	    Transition("review", "done").
//	    Create(ctx, eng)
//
// # Flow graphs
//
// Every flow owns exactly one start state and any number of further states
// connected by transitions. The engine's guard chain protects the graph on
// every mutation: nothing re-enters the start state, terminal states have no
// outgoing edges, the first transition always originates at the start, and
// the last transition anchoring the start cannot be deleted out from under a
// populated graph. ValidateConsistency reports all structural violations of
// an existing graph in one pass.
//
// Task execution is out of scope: transitions carry opaque task
// attachments, and ExecutionContextFor hands an external executor a
// read-only view of the resolved graph.
//
// For examples, see the /examples directory or the project README.
package flowpick
