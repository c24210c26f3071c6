package flowpick

import (
	"context"
	"fmt"

	"github.com/petrijr/flowpick/pkg/api"
)

// FlowBuilder provides a fluent API for defining a flow graph:
//
//	flow := flowpick.NewFlow("order").
//	    Version(2).
//	    Scope("tenant-1").
//	    State("review").
//	    TerminalState("done").
//	    Transition(flowpick.StartState, "review").
//	    Transition("review", "done")
//
//	created, err := flow.Create(ctx, engine)
//
// States are referenced by their status label; the StartState constant
// names the entry state every flow gets on creation.
type FlowBuilder struct {
	flow        api.Flow
	states      []stateDef
	transitions []transitionDef
}

// StartState is the label the builder uses for the flow's entry state.
const StartState = "start"

type stateDef struct {
	status string
	config api.StateConfig
}

type transitionDef struct {
	from  string
	to    string
	slug  *string
	tasks []api.TaskRef
}

// NewFlow creates a new flow builder for the given subject type.
func NewFlow(subjectType string) *FlowBuilder {
	if subjectType == "" {
		panic("flowpick: subject type must not be empty")
	}
	return &FlowBuilder{
		flow: api.Flow{
			SubjectType: subjectType,
			Version:     1,
			Active:      true,
		},
	}
}

// Version sets the flow version (must be positive).
func (b *FlowBuilder) Version(v int) *FlowBuilder {
	if v <= 0 {
		panic(fmt.Sprintf("flowpick: version must be positive, got %d", v))
	}
	b.flow.Version = v
	return b
}

// Scope binds the flow to a subject scope.
func (b *FlowBuilder) Scope(scope string) *FlowBuilder {
	b.flow.SubjectScope = &scope
	return b
}

// Collection binds the flow to a subject collection.
func (b *FlowBuilder) Collection(collection string) *FlowBuilder {
	b.flow.SubjectCollection = &collection
	return b
}

// Channel binds the flow to a channel.
func (b *FlowBuilder) Channel(channel string) *FlowBuilder {
	b.flow.Channel = &channel
	return b
}

// Environment binds the flow to an environment.
func (b *FlowBuilder) Environment(env string) *FlowBuilder {
	b.flow.Environment = &env
	return b
}

// Default marks the flow as the default within its scope.
func (b *FlowBuilder) Default() *FlowBuilder {
	b.flow.IsDefault = true
	return b
}

// Rollout gates the flow behind the given percentage.
func (b *FlowBuilder) Rollout(pct int) *FlowBuilder {
	b.flow.RolloutPct = &pct
	return b
}

// Ordering sets the manual tie-break weight.
func (b *FlowBuilder) Ordering(n int) *FlowBuilder {
	b.flow.Ordering = n
	return b
}

// State adds a regular state with the given status label.
func (b *FlowBuilder) State(status string) *FlowBuilder {
	return b.StateWithConfig(status, api.StateConfig{})
}

// TerminalState adds an end state with the given status label.
func (b *FlowBuilder) TerminalState(status string) *FlowBuilder {
	return b.StateWithConfig(status, api.StateConfig{IsTerminal: true})
}

// StateWithConfig adds a state with explicit display/behavior config.
func (b *FlowBuilder) StateWithConfig(status string, config api.StateConfig) *FlowBuilder {
	if status == "" {
		panic("flowpick: state status must not be empty")
	}
	if status == StartState {
		panic("flowpick: the start state is created automatically")
	}
	b.states = append(b.states, stateDef{status: status, config: config})
	return b
}

// Transition adds an edge between two states referenced by status label.
func (b *FlowBuilder) Transition(from, to string) *FlowBuilder {
	b.transitions = append(b.transitions, transitionDef{from: from, to: to})
	return b
}

// TransitionWithSlug adds an edge carrying a slug, unique within the
// subject type.
func (b *FlowBuilder) TransitionWithSlug(from, to, slug string) *FlowBuilder {
	if slug == "" {
		panic("flowpick: transition slug must not be empty")
	}
	b.transitions = append(b.transitions, transitionDef{from: from, to: to, slug: &slug})
	return b
}

// TransitionWithTasks adds an edge with task attachments for an external
// executor.
func (b *FlowBuilder) TransitionWithTasks(from, to string, tasks ...api.TaskRef) *FlowBuilder {
	b.transitions = append(b.transitions, transitionDef{from: from, to: to, tasks: tasks})
	return b
}

// Create persists the flow, its states and its transitions through the
// engine, in definition order. The engine's guard chain applies to every
// transition, so an inconsistent graph fails before it is fully written.
func (b *FlowBuilder) Create(ctx context.Context, eng Engine) (*api.Flow, error) {
	f := b.flow

	start, err := eng.CreateFlow(ctx, &f)
	if err != nil {
		return nil, err
	}

	ids := map[string]int64{StartState: start.ID}
	for _, def := range b.states {
		s := api.State{
			FlowID: f.ID,
			Type:   api.StateTypeState,
			Status: def.status,
			Config: def.config,
		}
		if err := eng.CreateState(ctx, &s); err != nil {
			return nil, err
		}
		ids[def.status] = s.ID
	}

	for _, def := range b.transitions {
		fromID, ok := ids[def.from]
		if !ok {
			return nil, fmt.Errorf("flowpick: transition references unknown state %q", def.from)
		}
		toID, ok := ids[def.to]
		if !ok {
			return nil, fmt.Errorf("flowpick: transition references unknown state %q", def.to)
		}
		t := api.Transition{
			FlowID: f.ID,
			From:   &fromID,
			To:     &toID,
			Slug:   def.slug,
			Tasks:  def.tasks,
		}
		if err := eng.CreateTransition(ctx, &t); err != nil {
			return nil, err
		}
	}

	return &f, nil
}

// MustCreate is like Create but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustCreate(ctx context.Context, eng Engine) *api.Flow {
	f, err := b.Create(ctx, eng)
	if err != nil {
		panic(err)
	}
	return f
}
