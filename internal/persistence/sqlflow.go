package persistence

import (
	"database/sql"
	"strings"
	"time"

	"github.com/petrijr/flowpick/pkg/api"
)

// Shared row mapping for the SQL backends. Timestamps are stored as
// RFC3339Nano text so the same scanning code serves SQLite and Postgres.

const flowColumns = "id, subject_type, subject_scope, subject_collection, version, is_default, active, active_from, active_to, channel, environment, ordering, rollout_pct, lifecycle"

const stateColumns = "id, flow_id, type, status, color, x, y, is_terminal"

const transitionColumns = "id, flow_id, from_state, to_state, slug, tasks"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*api.Flow, error) {
	var (
		f          api.Flow
		scope      sql.NullString
		collection sql.NullString
		from, to   sql.NullString
		channel    sql.NullString
		env        sql.NullString
		rollout    sql.NullInt64
		lifecycle  string
	)

	err := row.Scan(
		&f.ID, &f.SubjectType, &scope, &collection, &f.Version, &f.IsDefault,
		&f.Active, &from, &to, &channel, &env, &f.Ordering, &rollout, &lifecycle,
	)
	if err != nil {
		return nil, err
	}

	f.SubjectScope = nullToStringPtr(scope)
	f.SubjectCollection = nullToStringPtr(collection)
	f.Channel = nullToStringPtr(channel)
	f.Environment = nullToStringPtr(env)
	f.Lifecycle = api.Lifecycle(lifecycle)

	if f.ActiveFrom, err = nullToTimePtr(from); err != nil {
		return nil, err
	}
	if f.ActiveTo, err = nullToTimePtr(to); err != nil {
		return nil, err
	}
	if rollout.Valid {
		pct := int(rollout.Int64)
		f.RolloutPct = &pct
	}
	return &f, nil
}

func flowArgs(f *api.Flow) []any {
	return []any{
		f.SubjectType,
		stringPtrToNull(f.SubjectScope),
		stringPtrToNull(f.SubjectCollection),
		f.Version,
		f.IsDefault,
		f.Active,
		timePtrToNull(f.ActiveFrom),
		timePtrToNull(f.ActiveTo),
		stringPtrToNull(f.Channel),
		stringPtrToNull(f.Environment),
		f.Ordering,
		intPtrToNull(f.RolloutPct),
		string(f.Lifecycle),
	}
}

func scanState(row rowScanner) (*api.State, error) {
	var (
		s   api.State
		typ string
	)
	err := row.Scan(&s.ID, &s.FlowID, &typ, &s.Status, &s.Config.Color, &s.Config.X, &s.Config.Y, &s.Config.IsTerminal)
	if err != nil {
		return nil, err
	}
	s.Type = api.StateType(typ)
	return &s, nil
}

func stateArgs(s *api.State) []any {
	return []any{
		s.FlowID,
		string(s.Type),
		s.Status,
		s.Config.Color,
		s.Config.X,
		s.Config.Y,
		s.Config.IsTerminal,
	}
}

func scanTransition(row rowScanner) (*api.Transition, error) {
	var (
		t        api.Transition
		from, to sql.NullInt64
		slug     sql.NullString
		tasks    []byte
	)
	if err := row.Scan(&t.ID, &t.FlowID, &from, &to, &slug, &tasks); err != nil {
		return nil, err
	}

	if from.Valid {
		v := from.Int64
		t.From = &v
	}
	if to.Valid {
		v := to.Int64
		t.To = &v
	}
	t.Slug = nullToStringPtr(slug)

	decoded, err := decodeTasks(tasks)
	if err != nil {
		return nil, err
	}
	t.Tasks = decoded
	return &t, nil
}

func transitionArgs(t *api.Transition) ([]any, error) {
	tasks, err := encodeTasks(t.Tasks)
	if err != nil {
		return nil, err
	}
	return []any{
		t.FlowID,
		int64PtrToNull(t.From),
		int64PtrToNull(t.To),
		stringPtrToNull(t.Slug),
		tasks,
	}, nil
}

// flowFilter builds the WHERE clause for a FlowQuery using the given
// placeholder function ("?" for SQLite, "$n" for Postgres).
func flowFilter(q api.FlowQuery, placeholder func(n int) string) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, strings.Replace(clause, "%", placeholder(len(args)), 1))
	}

	add("lifecycle = %", string(api.LifecycleActive))
	add("subject_type = %", q.SubjectType)
	if q.SubjectScope != nil {
		add("subject_scope = %", *q.SubjectScope)
	}
	if q.SubjectCollection != nil {
		add("subject_collection = %", *q.SubjectCollection)
	}
	if q.Environment != nil {
		add("environment = %", *q.Environment)
	}
	if q.Channel != nil {
		add("channel = %", *q.Channel)
	}
	if q.OnlyDefault {
		clauses = append(clauses, "is_default")
	}
	if len(q.IncludeIDs) > 0 {
		clauses = append(clauses, inClause("id IN", q.IncludeIDs, &args, placeholder))
	}
	if len(q.ExcludeIDs) > 0 {
		clauses = append(clauses, inClause("id NOT IN", q.ExcludeIDs, &args, placeholder))
	}
	if q.VersionEquals != nil {
		add("version = %", *q.VersionEquals)
	} else {
		if q.VersionMin != nil {
			add("version >= %", *q.VersionMin)
		}
		if q.VersionMax != nil {
			add("version <= %", *q.VersionMax)
		}
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func inClause(prefix string, ids []int64, args *[]any, placeholder func(n int) string) string {
	marks := make([]string, len(ids))
	for i, id := range ids {
		*args = append(*args, id)
		marks[i] = placeholder(len(*args))
	}
	return prefix + " (" + strings.Join(marks, ", ") + ")"
}

func nullToStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func stringPtrToNull(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullToTimePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func timePtrToNull(p *time.Time) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: p.UTC().Format(time.RFC3339Nano), Valid: true}
}

func intPtrToNull(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func int64PtrToNull(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
