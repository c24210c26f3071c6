package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/petrijr/flowpick/pkg/api"
)

// SQLiteStore implements FlowStore and GraphStore on SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var _ api.FlowStore = (*SQLiteStore)(nil)

var _ api.GraphStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS flows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject_type TEXT NOT NULL,
			subject_scope TEXT,
			subject_collection TEXT,
			version INTEGER NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			active_from TEXT,
			active_to TEXT,
			channel TEXT,
			environment TEXT,
			ordering INTEGER NOT NULL DEFAULT 0,
			rollout_pct INTEGER,
			lifecycle TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			flow_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			color TEXT NOT NULL DEFAULT '',
			x INTEGER NOT NULL DEFAULT 0,
			y INTEGER NOT NULL DEFAULT 0,
			is_terminal INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			flow_id INTEGER NOT NULL,
			from_state INTEGER,
			to_state INTEGER,
			slug TEXT,
			tasks BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_flows_subject ON flows (subject_type, lifecycle);
		CREATE INDEX IF NOT EXISTS idx_states_flow ON states (flow_id);
		CREATE INDEX IF NOT EXISTS idx_transitions_flow ON transitions (flow_id);`,
	)
	return err
}

func qmark(int) string { return "?" }

func (s *SQLiteStore) CreateFlow(ctx context.Context, f *api.Flow) error {
	if f.Lifecycle == "" {
		f.Lifecycle = api.LifecycleActive
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO flows (subject_type, subject_scope, subject_collection, version, is_default, active, active_from, active_to, channel, environment, ordering, rollout_pct, lifecycle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flowArgs(f)...,
	)
	if err != nil {
		return err
	}
	f.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) GetFlow(ctx context.Context, id int64) (*api.Flow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+flowColumns+` FROM flows WHERE id = ?`, id)
	f, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFlowNotFound
	}
	return f, err
}

func (s *SQLiteStore) ListFlows(ctx context.Context, q api.FlowQuery) ([]*api.Flow, error) {
	where, args := flowFilter(q, qmark)
	rows, err := s.db.QueryContext(ctx, `SELECT `+flowColumns+` FROM flows`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []*api.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *SQLiteStore) UpdateFlow(ctx context.Context, f *api.Flow) error {
	args := append(flowArgs(f), f.ID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE flows
		SET subject_type = ?, subject_scope = ?, subject_collection = ?, version = ?, is_default = ?, active = ?, active_from = ?, active_to = ?, channel = ?, environment = ?, ordering = ?, rollout_pct = ?, lifecycle = ?
		WHERE id = ?`,
		args...,
	)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrFlowNotFound)
}

// SetDefaultFlow flips the unique default flag within the flow's
// (subject_type, subject_scope) pair in one transaction.
func (s *SQLiteStore) SetDefaultFlow(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var subjectType string
	var scope sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT subject_type, subject_scope FROM flows WHERE id = ?`, id).Scan(&subjectType, &scope)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrFlowNotFound
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE flows SET is_default = (id = ?)
		WHERE subject_type = ? AND (subject_scope IS ? OR subject_scope = ?)`,
		id, subjectType, scope, scope,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SoftDeleteFlow(ctx context.Context, id int64) error {
	return s.setLifecycle(ctx, id, api.LifecycleSoftDeleted)
}

func (s *SQLiteStore) RestoreFlow(ctx context.Context, id int64) error {
	return s.setLifecycle(ctx, id, api.LifecycleActive)
}

func (s *SQLiteStore) setLifecycle(ctx context.Context, id int64, lc api.Lifecycle) error {
	res, err := s.db.ExecContext(ctx, `UPDATE flows SET lifecycle = ? WHERE id = ?`, string(lc), id)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrFlowNotFound)
}

func (s *SQLiteStore) ForceDeleteFlow(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := affectedOr(res, ErrFlowNotFound); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM states WHERE flow_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transitions WHERE flow_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateState(ctx context.Context, st *api.State) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO states (flow_id, type, status, color, x, y, is_terminal)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stateArgs(st)...,
	)
	if err != nil {
		return err
	}
	st.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) GetState(ctx context.Context, id int64) (*api.State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM states WHERE id = ?`, id)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	return st, err
}

func (s *SQLiteStore) ListStates(ctx context.Context, flowID int64) ([]*api.State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stateColumns+` FROM states WHERE flow_id = ? ORDER BY id`, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*api.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func (s *SQLiteStore) UpdateState(ctx context.Context, st *api.State) error {
	args := append(stateArgs(st), st.ID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE states
		SET flow_id = ?, type = ?, status = ?, color = ?, x = ?, y = ?, is_terminal = ?
		WHERE id = ?`,
		args...,
	)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrStateNotFound)
}

func (s *SQLiteStore) DeleteState(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM states WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrStateNotFound)
}

func (s *SQLiteStore) CreateTransition(ctx context.Context, t *api.Transition) error {
	args, err := transitionArgs(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transitions (flow_id, from_state, to_state, slug, tasks)
		VALUES (?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return err
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) GetTransition(ctx context.Context, id int64) (*api.Transition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transitionColumns+` FROM transitions WHERE id = ?`, id)
	t, err := scanTransition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransitionNotFound
	}
	return t, err
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, flowID int64) ([]*api.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transitionColumns+` FROM transitions WHERE flow_id = ? ORDER BY id`, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []*api.Transition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

func (s *SQLiteStore) UpdateTransition(ctx context.Context, t *api.Transition) error {
	args, err := transitionArgs(t)
	if err != nil {
		return err
	}
	args = append(args, t.ID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE transitions
		SET flow_id = ?, from_state = ?, to_state = ?, slug = ?, tasks = ?
		WHERE id = ?`,
		args...,
	)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrTransitionNotFound)
}

func (s *SQLiteStore) DeleteTransition(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transitions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrTransitionNotFound)
}

func (s *SQLiteStore) FindTransitionBySlug(ctx context.Context, subjectType, slug string) (*api.Transition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.flow_id, t.from_state, t.to_state, t.slug, t.tasks
		FROM transitions t
		JOIN flows f ON f.id = t.flow_id
		WHERE f.subject_type = ? AND t.slug = ?
		LIMIT 1`,
		subjectType, slug,
	)
	t, err := scanTransition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransitionNotFound
	}
	return t, err
}

func affectedOr(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
