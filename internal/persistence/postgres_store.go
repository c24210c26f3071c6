package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/petrijr/flowpick/pkg/api"
)

// PostgresStore implements FlowStore and GraphStore on PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib" or "github.com/lib/pq").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresStore struct {
	db *sql.DB
}

var _ api.FlowStore = (*PostgresStore)(nil)

var _ api.GraphStore = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given database and
// returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS flows (
			id BIGSERIAL PRIMARY KEY,
			subject_type TEXT NOT NULL,
			subject_scope TEXT,
			subject_collection TEXT,
			version INTEGER NOT NULL,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			active_from TEXT,
			active_to TEXT,
			channel TEXT,
			environment TEXT,
			ordering INTEGER NOT NULL DEFAULT 0,
			rollout_pct INTEGER,
			lifecycle TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS states (
			id BIGSERIAL PRIMARY KEY,
			flow_id BIGINT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			color TEXT NOT NULL DEFAULT '',
			x INTEGER NOT NULL DEFAULT 0,
			y INTEGER NOT NULL DEFAULT 0,
			is_terminal BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE TABLE IF NOT EXISTS transitions (
			id BIGSERIAL PRIMARY KEY,
			flow_id BIGINT NOT NULL,
			from_state BIGINT,
			to_state BIGINT,
			slug TEXT,
			tasks BYTEA
		);
		CREATE INDEX IF NOT EXISTS idx_flows_subject ON flows (subject_type, lifecycle);
		CREATE INDEX IF NOT EXISTS idx_states_flow ON states (flow_id);
		CREATE INDEX IF NOT EXISTS idx_transitions_flow ON transitions (flow_id);
	`)
	return err
}

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func (s *PostgresStore) CreateFlow(ctx context.Context, f *api.Flow) error {
	if f.Lifecycle == "" {
		f.Lifecycle = api.LifecycleActive
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO flows (subject_type, subject_scope, subject_collection, version, is_default, active, active_from, active_to, channel, environment, ordering, rollout_pct, lifecycle)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		flowArgs(f)...,
	).Scan(&f.ID)
}

func (s *PostgresStore) GetFlow(ctx context.Context, id int64) (*api.Flow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+flowColumns+` FROM flows WHERE id = $1`, id)
	f, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFlowNotFound
	}
	return f, err
}

func (s *PostgresStore) ListFlows(ctx context.Context, q api.FlowQuery) ([]*api.Flow, error) {
	where, args := flowFilter(q, dollar)
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

func (s *PostgresStore) UpdateFlow(ctx context.Context, f *api.Flow) error {
	args := append(flowArgs(f), f.ID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE flows
		SET subject_type = $1, subject_scope = $2, subject_collection = $3, version = $4, is_default = $5, active = $6, active_from = $7, active_to = $8, channel = $9, environment = $10, ordering = $11, rollout_pct = $12, lifecycle = $13
		WHERE id = $14`,
		args...,
	)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrFlowNotFound)
}

// SetDefaultFlow flips the unique default flag within the flow's
// (subject_type, subject_scope) pair. The affected rows are locked with
// SELECT ... FOR UPDATE so two concurrent calls cannot both succeed in
// leaving two defaults behind.
func (s *PostgresStore) SetDefaultFlow(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var subjectType string
	var scope sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT subject_type, subject_scope FROM flows WHERE id = $1 FOR UPDATE`, id).Scan(&subjectType, &scope)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrFlowNotFound
	}
	if err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM flows
		WHERE subject_type = $1 AND subject_scope IS NOT DISTINCT FROM $2
		FOR UPDATE`,
		subjectType, scope,
	)
	if err != nil {
		return err
	}
	if err := drainRows(rows); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE flows SET is_default = (id = $1)
		WHERE subject_type = $2 AND subject_scope IS NOT DISTINCT FROM $3`,
		id, subjectType, scope,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func drainRows(rows *sql.Rows) error {
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func (s *PostgresStore) SoftDeleteFlow(ctx context.Context, id int64) error {
	return s.setLifecycle(ctx, id, api.LifecycleSoftDeleted)
}

func (s *PostgresStore) RestoreFlow(ctx context.Context, id int64) error {
	return s.setLifecycle(ctx, id, api.LifecycleActive)
}

func (s *PostgresStore) setLifecycle(ctx context.Context, id int64, lc api.Lifecycle) error {
	res, err := s.db.ExecContext(ctx, `UPDATE flows SET lifecycle = $1 WHERE id = $2`, string(lc), id)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrFlowNotFound)
}

func (s *PostgresStore) ForceDeleteFlow(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if err := affectedOr(res, ErrFlowNotFound); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM states WHERE flow_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transitions WHERE flow_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) CreateState(ctx context.Context, st *api.State) error {
	return s.db.QueryRowContext(ctx, `
		INSERT INTO states (flow_id, type, status, color, x, y, is_terminal)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		stateArgs(st)...,
	).Scan(&st.ID)
}

func (s *PostgresStore) GetState(ctx context.Context, id int64) (*api.State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM states WHERE id = $1`, id)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	return st, err
}

func (s *PostgresStore) ListStates(ctx context.Context, flowID int64) ([]*api.State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stateColumns+` FROM states WHERE flow_id = $1 ORDER BY id`, flowID)
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

func (s *PostgresStore) UpdateState(ctx context.Context, st *api.State) error {
	args := append(stateArgs(st), st.ID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE states
		SET flow_id = $1, type = $2, status = $3, color = $4, x = $5, y = $6, is_terminal = $7
		WHERE id = $8`,
		args...,
	)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrStateNotFound)
}

func (s *PostgresStore) DeleteState(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM states WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrStateNotFound)
}

func (s *PostgresStore) CreateTransition(ctx context.Context, t *api.Transition) error {
	args, err := transitionArgs(t)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO transitions (flow_id, from_state, to_state, slug, tasks)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		args...,
	).Scan(&t.ID)
}

func (s *PostgresStore) GetTransition(ctx context.Context, id int64) (*api.Transition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transitionColumns+` FROM transitions WHERE id = $1`, id)
	t, err := scanTransition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransitionNotFound
	}
	return t, err
}

func (s *PostgresStore) ListTransitions(ctx context.Context, flowID int64) ([]*api.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transitionColumns+` FROM transitions WHERE flow_id = $1 ORDER BY id`, flowID)
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

func (s *PostgresStore) UpdateTransition(ctx context.Context, t *api.Transition) error {
	args, err := transitionArgs(t)
	if err != nil {
		return err
	}
	args = append(args, t.ID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE transitions
		SET flow_id = $1, from_state = $2, to_state = $3, slug = $4, tasks = $5
		WHERE id = $6`,
		args...,
	)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrTransitionNotFound)
}

func (s *PostgresStore) DeleteTransition(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transitions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrTransitionNotFound)
}

func (s *PostgresStore) FindTransitionBySlug(ctx context.Context, subjectType, slug string) (*api.Transition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.flow_id, t.from_state, t.to_state, t.slug, t.tasks
		FROM transitions t
		JOIN flows f ON f.id = t.flow_id
		WHERE f.subject_type = $1 AND t.slug = $2
		LIMIT 1`,
		subjectType, slug,
	)
	t, err := scanTransition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransitionNotFound
	}
	return t, err
}
