package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MatchStrategy selects how ties between candidates are broken.
type MatchStrategy string

const (
	// MatchBest orders candidates by preference lists and then the ordering
	// function (default: version desc, isDefault desc, ordering desc, id desc).
	MatchBest MatchStrategy = "BEST"

	// MatchFirst ignores preferences and returns the oldest-created
	// candidate (ascending id).
	MatchFirst MatchStrategy = "FIRST"
)

// FallbackStep is one relaxation applied by the fallback cascade. Each step
// re-runs the candidate search with exactly one constraint removed.
type FallbackStep string

const (
	FallbackDropChannel        FallbackStep = "drop-channel"
	FallbackDropEnvironment    FallbackStep = "drop-environment"
	FallbackIgnoreTimeWindow   FallbackStep = "ignore-time-window"
	FallbackDisableRollout     FallbackStep = "disable-rollout"
	FallbackDropRequireDefault FallbackStep = "drop-require-default"
)

// ParseFallbackSteps maps raw tokens to FallbackSteps, silently discarding
// anything it does not recognize.
func ParseFallbackSteps(tokens ...string) []FallbackStep {
	var steps []FallbackStep
	for _, tok := range tokens {
		switch FallbackStep(strings.TrimSpace(tok)) {
		case FallbackDropChannel:
			steps = append(steps, FallbackDropChannel)
		case FallbackDropEnvironment:
			steps = append(steps, FallbackDropEnvironment)
		case FallbackIgnoreTimeWindow:
			steps = append(steps, FallbackIgnoreTimeWindow)
		case FallbackDisableRollout:
			steps = append(steps, FallbackDisableRollout)
		case FallbackDropRequireDefault:
			steps = append(steps, FallbackDropRequireDefault)
		}
	}
	return steps
}

// Predicate is a caller-supplied refinement applied to each candidate after
// the store-side filters.
type Predicate func(f *Flow) bool

// OrderingFunc compares two candidates; negative means a sorts before b.
type OrderingFunc func(a, b *Flow) int

// RolloutKeyResolver supplies the per-subject bucketing key. ok=false means
// no key is available, which excludes every rollout-gated flow.
type RolloutKeyResolver func(subject Subject) (key string, ok bool)

// ForceFlowIDResolver pins the selection to one flow id for a single
// attempt. ok=false falls through to the normal candidate search.
type ForceFlowIDResolver func(subject Subject) (id int64, ok bool)

// Criteria accumulates the configuration for one selection attempt.
//
// Build one per attempt with NewCriteria; every setter returns the same
// instance so calls chain:
//
//	crit := api.NewCriteria("order").
//	    Scope("tenant-1").
//	    Environment("production").
//	    Cascade(api.FallbackDropChannel, api.FallbackDropEnvironment)
type Criteria struct {
	subjectType       string
	subjectScope      *string
	subjectCollection *string
	environment       *string
	channel           *string

	onlyActive       bool
	ignoreTimeWindow bool
	now              time.Time

	evaluateRollout    bool
	rolloutNamespace   string
	rolloutSalt        string
	rolloutKeyResolver RolloutKeyResolver

	predicates []Predicate
	ordering   OrderingFunc
	strategy   MatchStrategy

	requireDefault bool

	includeIDs []int64
	excludeIDs []int64
	preferIDs  []int64

	versionEquals *int
	versionMin    *int
	versionMax    *int

	preferEnvironments []string
	preferChannels     []string

	cascade []FallbackStep

	forceResolver ForceFlowIDResolver

	returnCandidates bool
	candidatesLimit  int

	cacheInRequest bool
}

// NewCriteria creates criteria for the given subject type with the defaults:
// only active flows, rollout gating on, BEST match strategy.
func NewCriteria(subjectType string) *Criteria {
	return &Criteria{
		subjectType:     subjectType,
		onlyActive:      true,
		evaluateRollout: true,
		strategy:        MatchBest,
	}
}

// Scope constrains SubjectScope to an exact value.
func (c *Criteria) Scope(scope string) *Criteria {
	c.subjectScope = &scope
	return c
}

// Collection constrains SubjectCollection to an exact value.
func (c *Criteria) Collection(collection string) *Criteria {
	c.subjectCollection = &collection
	return c
}

// Environment constrains Environment to an exact value.
func (c *Criteria) Environment(env string) *Criteria {
	c.environment = &env
	return c
}

// Channel constrains Channel to an exact value.
func (c *Criteria) Channel(channel string) *Criteria {
	c.channel = &channel
	return c
}

// OnlyActive toggles the status/time-window filter (on by default).
func (c *Criteria) OnlyActive(on bool) *Criteria {
	c.onlyActive = on
	return c
}

// IgnoreTimeWindow skips the time-window half of the active check.
func (c *Criteria) IgnoreTimeWindow(ignore bool) *Criteria {
	c.ignoreTimeWindow = ignore
	return c
}

// At injects the clock used for time-window checks. The zero time means
// "now" at evaluation time.
func (c *Criteria) At(now time.Time) *Criteria {
	c.now = now
	return c
}

// EvaluateRollout toggles rollout gating (on by default).
func (c *Criteria) EvaluateRollout(on bool) *Criteria {
	c.evaluateRollout = on
	return c
}

// RolloutNamespace sets the namespace half of the bucketing hash input.
func (c *Criteria) RolloutNamespace(ns string) *Criteria {
	c.rolloutNamespace = ns
	return c
}

// RolloutSalt sets the salt half of the bucketing hash input.
func (c *Criteria) RolloutSalt(salt string) *Criteria {
	c.rolloutSalt = salt
	return c
}

// RolloutKey installs the per-subject bucketing key resolver. Without one,
// the subject's own SubjectKey is used.
func (c *Criteria) RolloutKey(resolver RolloutKeyResolver) *Criteria {
	c.rolloutKeyResolver = resolver
	return c
}

// Where appends a refinement predicate. Predicates run in registration
// order after all store-side filters.
func (c *Criteria) Where(p Predicate) *Criteria {
	if p != nil {
		c.predicates = append(c.predicates, p)
	}
	return c
}

// OrderBy installs a custom tie-break ordering.
func (c *Criteria) OrderBy(fn OrderingFunc) *Criteria {
	c.ordering = fn
	return c
}

// Strategy sets the match strategy. Unknown values keep the default.
func (c *Criteria) Strategy(s MatchStrategy) *Criteria {
	if s == MatchBest || s == MatchFirst {
		c.strategy = s
	}
	return c
}

// RequireDefault restricts candidates to flows flagged as default.
func (c *Criteria) RequireDefault(require bool) *Criteria {
	c.requireDefault = require
	return c
}

// IncludeIDs restricts candidates to the given flow ids.
func (c *Criteria) IncludeIDs(ids ...int64) *Criteria {
	c.includeIDs = normalizeIDs(ids)
	return c
}

// ExcludeIDs removes the given flow ids from consideration.
func (c *Criteria) ExcludeIDs(ids ...int64) *Criteria {
	c.excludeIDs = normalizeIDs(ids)
	return c
}

// PreferIDs moves the given ids (in the given order) to the front of the
// candidate list before the default ordering applies to the remainder.
func (c *Criteria) PreferIDs(ids ...int64) *Criteria {
	c.preferIDs = normalizeIDs(ids)
	return c
}

// VersionEquals pins candidates to one exact version. It takes precedence
// over VersionMin/VersionMax.
func (c *Criteria) VersionEquals(v int) *Criteria {
	c.versionEquals = &v
	return c
}

// VersionMin filters out candidates below the given version.
func (c *Criteria) VersionMin(v int) *Criteria {
	c.versionMin = &v
	return c
}

// VersionMax filters out candidates above the given version.
func (c *Criteria) VersionMax(v int) *Criteria {
	c.versionMax = &v
	return c
}

// PreferEnvironments groups candidates by environment in the given order
// before the default ordering.
func (c *Criteria) PreferEnvironments(envs ...string) *Criteria {
	c.preferEnvironments = normalizeStrings(envs)
	return c
}

// PreferChannels groups candidates by channel in the given order before the
// default ordering.
func (c *Criteria) PreferChannels(channels ...string) *Criteria {
	c.preferChannels = normalizeStrings(channels)
	return c
}

// Cascade installs the fallback cascade, tried in order when the initial
// search yields nothing.
func (c *Criteria) Cascade(steps ...FallbackStep) *Criteria {
	c.cascade = append([]FallbackStep(nil), steps...)
	return c
}

// ForceFlowID installs a resolver that pins selection to one flow id.
func (c *Criteria) ForceFlowID(resolver ForceFlowIDResolver) *Criteria {
	c.forceResolver = resolver
	return c
}

// ReturnCandidates makes Candidates mirror Pick: when the strict search
// yields nothing, the fallback cascade is walked and the first non-empty
// candidate list is returned, optionally capped to limit (0 = uncapped).
func (c *Criteria) ReturnCandidates(limit int) *Criteria {
	c.returnCandidates = true
	if limit > 0 {
		c.candidatesLimit = limit
	}
	return c
}

// Limit caps the candidate list.
func (c *Criteria) Limit(n int) *Criteria {
	c.candidatesLimit = n
	return c
}

// CacheInRequest opts this selection into per-request memoization.
func (c *Criteria) CacheInRequest(on bool) *Criteria {
	c.cacheInRequest = on
	return c
}

// Readers. The selector consumes criteria exclusively through these.

func (c *Criteria) SubjectType() string              { return c.subjectType }
func (c *Criteria) SubjectScope() *string            { return c.subjectScope }
func (c *Criteria) SubjectCollection() *string       { return c.subjectCollection }
func (c *Criteria) EnvironmentFilter() *string       { return c.environment }
func (c *Criteria) ChannelFilter() *string           { return c.channel }
func (c *Criteria) OnlyActiveEnabled() bool          { return c.onlyActive }
func (c *Criteria) TimeWindowIgnored() bool          { return c.ignoreTimeWindow }
func (c *Criteria) RolloutEnabled() bool             { return c.evaluateRollout }
func (c *Criteria) RolloutNamespaceValue() string    { return c.rolloutNamespace }
func (c *Criteria) RolloutSaltValue() string         { return c.rolloutSalt }
func (c *Criteria) RolloutKeyFunc() RolloutKeyResolver { return c.rolloutKeyResolver }
func (c *Criteria) Predicates() []Predicate          { return c.predicates }
func (c *Criteria) Ordering() OrderingFunc           { return c.ordering }
func (c *Criteria) MatchStrategyValue() MatchStrategy { return c.strategy }
func (c *Criteria) RequireDefaultEnabled() bool      { return c.requireDefault }
func (c *Criteria) IncludedIDs() []int64             { return c.includeIDs }
func (c *Criteria) ExcludedIDs() []int64             { return c.excludeIDs }
func (c *Criteria) PreferredIDs() []int64            { return c.preferIDs }
func (c *Criteria) VersionEqualsValue() *int         { return c.versionEquals }
func (c *Criteria) VersionMinValue() *int            { return c.versionMin }
func (c *Criteria) VersionMaxValue() *int            { return c.versionMax }
func (c *Criteria) PreferredEnvironments() []string  { return c.preferEnvironments }
func (c *Criteria) PreferredChannels() []string      { return c.preferChannels }
func (c *Criteria) CascadeSteps() []FallbackStep     { return c.cascade }
func (c *Criteria) ForceFlowIDFunc() ForceFlowIDResolver { return c.forceResolver }
func (c *Criteria) ReturnCandidatesEnabled() bool    { return c.returnCandidates }
func (c *Criteria) CandidatesLimit() int             { return c.candidatesLimit }
func (c *Criteria) CacheInRequestEnabled() bool      { return c.cacheInRequest }

// Now returns the injected clock, falling back to the current UTC instant.
func (c *Criteria) Now() time.Time {
	if c.now.IsZero() {
		return time.Now().UTC()
	}
	return c.now
}

// Clone returns a deep copy. Cascade steps relax the copy, never the
// caller's original.
func (c *Criteria) Clone() *Criteria {
	cp := *c
	cp.predicates = append([]Predicate(nil), c.predicates...)
	cp.includeIDs = append([]int64(nil), c.includeIDs...)
	cp.excludeIDs = append([]int64(nil), c.excludeIDs...)
	cp.preferIDs = append([]int64(nil), c.preferIDs...)
	cp.preferEnvironments = append([]string(nil), c.preferEnvironments...)
	cp.preferChannels = append([]string(nil), c.preferChannels...)
	cp.cascade = append([]FallbackStep(nil), c.cascade...)
	return &cp
}

// Relax applies one fallback step to the criteria, removing exactly one
// constraint. Unknown steps are a no-op.
func (c *Criteria) Relax(step FallbackStep) *Criteria {
	switch step {
	case FallbackDropChannel:
		c.channel = nil
	case FallbackDropEnvironment:
		c.environment = nil
	case FallbackIgnoreTimeWindow:
		c.ignoreTimeWindow = true
	case FallbackDisableRollout:
		c.evaluateRollout = false
	case FallbackDropRequireDefault:
		c.requireDefault = false
	}
	return c
}

// HasCallbacks reports whether any function-typed field is set. Cache keys
// cannot be derived from callbacks, so their presence bypasses memoization.
func (c *Criteria) HasCallbacks() bool {
	return len(c.predicates) > 0 ||
		c.ordering != nil ||
		c.rolloutKeyResolver != nil ||
		c.forceResolver != nil
}

// CacheKey derives a deterministic key from the subject identity and every
// scalar criteria field. ok=false means the criteria carry callbacks and the
// result must not be cached.
func (c *Criteria) CacheKey(subject Subject) (string, bool) {
	if c.HasCallbacks() {
		return "", false
	}

	var b strings.Builder
	b.WriteString("subject=")
	b.WriteString(subject.SubjectKey())
	writeField(&b, "type", c.subjectType)
	writeOptField(&b, "scope", c.subjectScope)
	writeOptField(&b, "collection", c.subjectCollection)
	writeOptField(&b, "env", c.environment)
	writeOptField(&b, "channel", c.channel)
	writeField(&b, "onlyActive", strconv.FormatBool(c.onlyActive))
	writeField(&b, "ignoreWindow", strconv.FormatBool(c.ignoreTimeWindow))
	if !c.now.IsZero() {
		writeField(&b, "now", c.now.UTC().Format(time.RFC3339Nano))
	}
	writeField(&b, "rollout", strconv.FormatBool(c.evaluateRollout))
	writeField(&b, "rolloutNs", c.rolloutNamespace)
	writeField(&b, "rolloutSalt", c.rolloutSalt)
	writeField(&b, "strategy", string(c.strategy))
	writeField(&b, "requireDefault", strconv.FormatBool(c.requireDefault))
	writeField(&b, "include", joinIDs(c.includeIDs))
	writeField(&b, "exclude", joinIDs(c.excludeIDs))
	writeField(&b, "prefer", joinIDs(c.preferIDs))
	writeOptIntField(&b, "versionEq", c.versionEquals)
	writeOptIntField(&b, "versionMin", c.versionMin)
	writeOptIntField(&b, "versionMax", c.versionMax)
	writeField(&b, "preferEnvs", strings.Join(c.preferEnvironments, ","))
	writeField(&b, "preferChannels", strings.Join(c.preferChannels, ","))
	writeField(&b, "limit", strconv.Itoa(c.candidatesLimit))

	steps := make([]string, len(c.cascade))
	for i, s := range c.cascade {
		steps[i] = string(s)
	}
	writeField(&b, "cascade", strings.Join(steps, ","))

	return b.String(), true
}

func writeField(b *strings.Builder, name, value string) {
	b.WriteByte(';')
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(value)
}

func writeOptField(b *strings.Builder, name string, value *string) {
	if value == nil {
		writeField(b, name, "<nil>")
		return
	}
	writeField(b, name, *value)
}

func writeOptIntField(b *strings.Builder, name string, value *int) {
	if value == nil {
		writeField(b, name, "<nil>")
		return
	}
	writeField(b, name, strconv.Itoa(*value))
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// normalizeIDs drops non-positive entries and duplicates, preserving
// first-seen order.
func normalizeIDs(ids []int64) []int64 {
	var out []int64
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// normalizeStrings drops empty entries and duplicates, preserving
// first-seen order.
func normalizeStrings(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Validate catches the one misconfiguration that cannot simply yield an
// empty result: a missing subject type.
func (c *Criteria) Validate() error {
	if c.subjectType == "" {
		return fmt.Errorf("criteria: %w", ErrSubjectTypeRequired)
	}
	return nil
}
