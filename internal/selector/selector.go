// Package selector implements the flow selection engine: store-side scalar
// filtering, rollout gating, deterministic ordering and the fallback
// cascade.
package selector

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/petrijr/flowpick/pkg/api"
)

// Selector picks flows from a FlowStore according to caller-built criteria.
// It is read-only and safe for concurrent use as long as the store is.
type Selector struct {
	flows    api.FlowStore
	cache    *api.RequestCache
	observer api.Observer
}

// New creates a Selector. cache may be nil to disable memoization entirely;
// observer may be nil.
func New(flows api.FlowStore, cache *api.RequestCache, observer api.Observer) *Selector {
	if observer == nil {
		observer = api.NoopObserver{}
	}
	return &Selector{
		flows:    flows,
		cache:    cache,
		observer: observer,
	}
}

// Candidates runs one candidate search: store filters, active/time-window
// check, rollout gating, caller predicates, ordering and limit. The returned
// slice is ordered best-first. With ReturnCandidates set, an empty strict
// result walks the fallback cascade so the list mirrors what Pick would
// consider.
func (s *Selector) Candidates(ctx context.Context, subject api.Subject, c *api.Criteria) ([]*api.Flow, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	candidates, err := s.search(ctx, subject, c)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 && c.ReturnCandidatesEnabled() {
		for _, step := range c.CascadeSteps() {
			s.observer.OnFallbackStep(ctx, subject, step)
			candidates, err = s.search(ctx, subject, c.Clone().Relax(step))
			if err != nil {
				return nil, err
			}
			if len(candidates) > 0 {
				break
			}
		}
	}
	return candidates, nil
}

// search is one cascade-free candidate pass.
func (s *Selector) search(ctx context.Context, subject api.Subject, c *api.Criteria) ([]*api.Flow, error) {
	flows, err := s.flows.ListFlows(ctx, buildQuery(c))
	if err != nil {
		return nil, err
	}

	now := c.Now()
	candidates := flows[:0:0]
	for _, f := range flows {
		if !f.Selectable() {
			continue
		}
		if c.OnlyActiveEnabled() && !f.ActiveAt(now, c.TimeWindowIgnored()) {
			continue
		}
		if !s.rolloutPass(subject, c, f) {
			continue
		}
		candidates = append(candidates, f)
	}

	for _, pred := range c.Predicates() {
		kept := candidates[:0]
		for _, f := range candidates {
			if pred(f) {
				kept = append(kept, f)
			}
		}
		candidates = kept
	}

	orderCandidates(candidates, c)

	if limit := c.CandidatesLimit(); limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	s.observer.OnCandidates(ctx, subject, len(candidates))
	return candidates, nil
}

// Pick selects zero or one flow for the subject. A miss is returned as
// (nil, nil); it is an expected outcome, not an error.
func (s *Selector) Pick(ctx context.Context, subject api.Subject, c *api.Criteria) (*api.Flow, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	s.observer.OnSelectionStart(ctx, subject, c.SubjectType())

	cacheKey, cacheable := "", false
	if c.CacheInRequestEnabled() && s.cache != nil {
		cacheKey, cacheable = c.CacheKey(subject)
		if cacheable {
			if f, hit := s.cache.Get(cacheKey); hit {
				s.finish(ctx, subject, f, true, start)
				return f, nil
			}
		}
	}

	if forced, err := s.pickForced(ctx, subject, c); err != nil {
		return nil, err
	} else if forced != nil {
		if cacheable {
			s.cache.Put(cacheKey, forced)
		}
		s.finish(ctx, subject, forced, false, start)
		return forced, nil
	}

	picked, err := s.firstCandidate(ctx, subject, c)
	if err != nil {
		return nil, err
	}

	if picked == nil {
		for _, step := range c.CascadeSteps() {
			s.observer.OnFallbackStep(ctx, subject, step)
			relaxed := c.Clone().Relax(step)
			picked, err = s.firstCandidate(ctx, subject, relaxed)
			if err != nil {
				return nil, err
			}
			if picked != nil {
				break
			}
		}
	}

	if cacheable {
		s.cache.Put(cacheKey, picked)
	}
	s.finish(ctx, subject, picked, false, start)
	return picked, nil
}

func (s *Selector) finish(ctx context.Context, subject api.Subject, f *api.Flow, cached bool, start time.Time) {
	d := time.Since(start)
	if f == nil {
		s.observer.OnSelectionMiss(ctx, subject, d)
		return
	}
	s.observer.OnSelected(ctx, subject, f, cached, d)
}

func (s *Selector) firstCandidate(ctx context.Context, subject api.Subject, c *api.Criteria) (*api.Flow, error) {
	candidates, err := s.search(ctx, subject, c)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return candidates[0], nil
}

// pickForced runs the forced-id attempt. A forced flow that fails its
// active/time-window check (or does not exist) falls through to the normal
// candidate search rather than aborting the selection.
func (s *Selector) pickForced(ctx context.Context, subject api.Subject, c *api.Criteria) (*api.Flow, error) {
	resolver := c.ForceFlowIDFunc()
	if resolver == nil {
		return nil, nil
	}

	id, ok := resolver(subject)
	if !ok {
		return nil, nil
	}

	f, err := s.flows.GetFlow(ctx, id)
	if err != nil {
		if errors.Is(err, api.ErrFlowNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if !f.Selectable() {
		return nil, nil
	}
	if c.OnlyActiveEnabled() && !f.ActiveAt(c.Now(), c.TimeWindowIgnored()) {
		return nil, nil
	}
	return f, nil
}

// rolloutPass applies percentage gating. Ungated flows (nil or >=100) always
// pass; a missing bucketing key excludes every gated flow; otherwise the
// subject's stable bucket must fall below the percentage.
func (s *Selector) rolloutPass(subject api.Subject, c *api.Criteria, f *api.Flow) bool {
	if !c.RolloutEnabled() {
		return true
	}
	if f.RolloutPct == nil || *f.RolloutPct >= 100 {
		return true
	}
	pct := *f.RolloutPct
	if pct <= 0 {
		return false
	}

	key := subject.SubjectKey()
	if resolver := c.RolloutKeyFunc(); resolver != nil {
		resolved, ok := resolver(subject)
		if !ok {
			return false
		}
		key = resolved
	}

	return StableBucket(c.RolloutNamespaceValue(), c.RolloutSaltValue(), key) < pct
}

func buildQuery(c *api.Criteria) api.FlowQuery {
	return api.FlowQuery{
		SubjectType:       c.SubjectType(),
		SubjectScope:      c.SubjectScope(),
		SubjectCollection: c.SubjectCollection(),
		Environment:       c.EnvironmentFilter(),
		Channel:           c.ChannelFilter(),
		OnlyDefault:       c.RequireDefaultEnabled(),
		IncludeIDs:        c.IncludedIDs(),
		ExcludeIDs:        c.ExcludedIDs(),
		VersionEquals:     c.VersionEqualsValue(),
		VersionMin:        c.VersionMinValue(),
		VersionMax:        c.VersionMaxValue(),
	}
}

// orderCandidates sorts in place. FIRST is ascending id (oldest created
// wins). BEST partitions by preferred ids, then preferred environment and
// channel positions, then the ordering callback.
func orderCandidates(candidates []*api.Flow, c *api.Criteria) {
	if c.MatchStrategyValue() == api.MatchFirst {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].ID < candidates[j].ID
		})
		return
	}

	idRank := rankIndex(c.PreferredIDs())
	envRank := stringRankIndex(c.PreferredEnvironments())
	channelRank := stringRankIndex(c.PreferredChannels())
	compare := c.Ordering()
	if compare == nil {
		compare = defaultOrdering
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		if ra, rb := idRank[a.ID], idRank[b.ID]; ra != rb {
			return ra < rb
		}
		if ra, rb := optRank(envRank, a.Environment), optRank(envRank, b.Environment); ra != rb {
			return ra < rb
		}
		if ra, rb := optRank(channelRank, a.Channel), optRank(channelRank, b.Channel); ra != rb {
			return ra < rb
		}
		return compare(a, b) < 0
	})
}

// defaultOrdering: version desc, isDefault desc, ordering desc, id desc.
func defaultOrdering(a, b *api.Flow) int {
	if a.Version != b.Version {
		if a.Version > b.Version {
			return -1
		}
		return 1
	}
	if a.IsDefault != b.IsDefault {
		if a.IsDefault {
			return -1
		}
		return 1
	}
	if a.Ordering != b.Ordering {
		if a.Ordering > b.Ordering {
			return -1
		}
		return 1
	}
	if a.ID != b.ID {
		if a.ID > b.ID {
			return -1
		}
		return 1
	}
	return 0
}

// rankIndex maps each id to its list position; absent ids rank after every
// listed one.
func rankIndex(ids []int64) map[int64]int {
	ranks := make(map[int64]int, len(ids))
	for i, id := range ids {
		ranks[id] = i - len(ids)
	}
	return ranks
}

func stringRankIndex(values []string) map[string]int {
	ranks := make(map[string]int, len(values))
	for i, v := range values {
		ranks[v] = i - len(values)
	}
	return ranks
}

func optRank(ranks map[string]int, value *string) int {
	if value == nil {
		return 0
	}
	return ranks[*value]
}
