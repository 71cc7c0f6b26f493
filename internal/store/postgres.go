package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rendis/procflow/pkg/schema"
)

// PostgresStore implements Store on PostgreSQL through a pgx pool. Documents
// live in JSONB columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies pending migrations, each in its own transaction.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			for _, stmt := range splitStatements(m.SQL) {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
				}
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_version (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// --- Procedures ---

func (s *PostgresStore) SaveProcedure(ctx context.Context, p *schema.Procedure) error {
	doc, err := encodeDoc(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO procedures (id, org_id, trigger_type, published, active, doc, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET org_id = EXCLUDED.org_id, trigger_type = EXCLUDED.trigger_type,
		   published = EXCLUDED.published, active = EXCLUDED.active, doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		p.ID, p.OrgID, string(p.TriggerType()), p.Published, p.Active, doc, time.Now().UTC(),
	)
	if err != nil {
		return storeErr("save procedure", err)
	}
	return nil
}

func (s *PostgresStore) GetProcedure(ctx context.Context, id string) (*schema.Procedure, error) {
	p := &schema.Procedure{}
	if err := s.getDoc(ctx, `SELECT doc FROM procedures WHERE id = $1`, p, "procedure", id); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) ListProcedures(ctx context.Context, filter ProcedureFilter) ([]*schema.Procedure, error) {
	var w pgWhere
	w.add("org_id", filter.OrgID != "", filter.OrgID)
	w.add("trigger_type", filter.TriggerType != "", string(filter.TriggerType))
	if filter.Published != nil {
		w.add("published", true, *filter.Published)
	}
	if filter.Active != nil {
		w.add("active", true, *filter.Active)
	}
	return pgQueryDocs[schema.Procedure](ctx, s.pool, buildSelect("procedures", w.clauses, "id ASC", filter.Limit), w.args...)
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *schema.Run) error {
	doc, err := encodeDoc(run)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, org_id, procedure_id, process_run_id, status, version, doc, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.OrgID, run.ProcedureID, nullStr(run.ProcessRunID), string(run.Status), run.Version, doc,
		timeOrNow(run.StartedAt), timeOrNow(run.UpdatedAt),
	)
	if err != nil {
		return storeErr("create run", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*schema.Run, error) {
	var doc []byte
	var version int64
	err := s.pool.QueryRow(ctx, `SELECT doc, version FROM runs WHERE id = $1`, id).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, storeErr("get run", err)
	}
	run := &schema.Run{}
	if err := decodeDoc(doc, run); err != nil {
		return nil, err
	}
	run.Version = version
	return run, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *schema.Run) error {
	expected := run.Version
	run.Version = expected + 1
	doc, err := encodeDoc(run)
	if err != nil {
		run.Version = expected
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, process_run_id = $2, version = $3, doc = $4, updated_at = $5
		 WHERE id = $6 AND version = $7`,
		string(run.Status), nullStr(run.ProcessRunID), run.Version, doc, timeOrNow(run.UpdatedAt),
		run.ID, expected,
	)
	if err != nil {
		run.Version = expected
		return storeErr("update run", err)
	}
	if err := s.checkVersioned(ctx, tag, "runs", "run", run.ID, expected); err != nil {
		run.Version = expected
		return err
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error) {
	var w pgWhere
	w.add("org_id", filter.OrgID != "", filter.OrgID)
	w.add("procedure_id", filter.ProcedureID != "", filter.ProcedureID)
	w.add("process_run_id", filter.ProcessRunID != "", filter.ProcessRunID)
	if filter.Status != nil {
		w.add("status", true, string(*filter.Status))
	}
	return pgQueryDocs[schema.Run](ctx, s.pool, buildSelect("runs", w.clauses, "started_at DESC", filter.Limit), w.args...)
}

// --- User tasks ---

func (s *PostgresStore) CreateTask(ctx context.Context, task *schema.UserTask) error {
	doc, err := encodeDoc(task)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_tasks (id, run_id, step_id, org_id, assignee_id, status, doc, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID, task.RunID, task.StepID, task.OrgID, task.AssigneeID, string(task.Status), doc, timeOrNow(task.CreatedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return schema.NewErrorf(schema.ErrCodeConflict, "task for run %q step %q already exists", task.RunID, task.StepID)
		}
		return storeErr("create task", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, runID, stepID string) (*schema.UserTask, error) {
	t := &schema.UserTask{}
	err := s.getDoc(ctx, `SELECT doc FROM user_tasks WHERE run_id = $1 AND step_id = $2`, t, "task", runID+"/"+stepID, runID, stepID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *PostgresStore) CompleteTask(ctx context.Context, runID, stepID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_tasks
		 SET status = $1, doc = jsonb_set(jsonb_set(doc, '{status}', to_jsonb($1::text)), '{completed_at}', to_jsonb($2::timestamptz))
		 WHERE run_id = $3 AND step_id = $4`,
		string(schema.TaskStatusCompleted), at, runID, stepID,
	)
	if err != nil {
		return storeErr("complete task", err)
	}
	if tag.RowsAffected() == 0 {
		return storeNotFound("task", runID+"/"+stepID)
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*schema.UserTask, error) {
	var w pgWhere
	w.add("org_id", filter.OrgID != "", filter.OrgID)
	w.add("assignee_id", filter.AssigneeID != "", filter.AssigneeID)
	w.add("run_id", filter.RunID != "", filter.RunID)
	if filter.Status != nil {
		w.add("status", true, string(*filter.Status))
	}
	return pgQueryDocs[schema.UserTask](ctx, s.pool, buildSelect("user_tasks", w.clauses, "created_at ASC", filter.Limit), w.args...)
}

// --- Processes ---

func (s *PostgresStore) SaveProcess(ctx context.Context, p *schema.Process) error {
	doc, err := encodeDoc(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO processes (id, org_id, doc, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET org_id = EXCLUDED.org_id, doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		p.ID, p.OrgID, doc, time.Now().UTC(),
	)
	if err != nil {
		return storeErr("save process", err)
	}
	return nil
}

func (s *PostgresStore) GetProcess(ctx context.Context, id string) (*schema.Process, error) {
	p := &schema.Process{}
	if err := s.getDoc(ctx, `SELECT doc FROM processes WHERE id = $1`, p, "process", id); err != nil {
		return nil, err
	}
	return p, nil
}

// --- Process runs ---

func (s *PostgresStore) CreateProcessRun(ctx context.Context, pr *schema.ProcessRun) error {
	doc, err := encodeDoc(pr)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO process_runs (id, org_id, process_id, status, resume_at_ms, version, doc, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pr.ID, pr.OrgID, pr.ProcessID, string(pr.Status), resumeAtMillis(pr.ResumeAt), pr.Version, doc,
		timeOrNow(pr.StartedAt), timeOrNow(pr.UpdatedAt),
	)
	if err != nil {
		return storeErr("create process run", err)
	}
	return nil
}

func (s *PostgresStore) GetProcessRun(ctx context.Context, id string) (*schema.ProcessRun, error) {
	var doc []byte
	var version int64
	err := s.pool.QueryRow(ctx, `SELECT doc, version FROM process_runs WHERE id = $1`, id).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeNotFound("process run", id)
	}
	if err != nil {
		return nil, storeErr("get process run", err)
	}
	pr := &schema.ProcessRun{}
	if err := decodeDoc(doc, pr); err != nil {
		return nil, err
	}
	pr.Version = version
	return pr, nil
}

func (s *PostgresStore) UpdateProcessRun(ctx context.Context, pr *schema.ProcessRun) error {
	expected := pr.Version
	pr.Version = expected + 1
	doc, err := encodeDoc(pr)
	if err != nil {
		pr.Version = expected
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE process_runs SET status = $1, resume_at_ms = $2, version = $3, doc = $4, updated_at = $5
		 WHERE id = $6 AND version = $7`,
		string(pr.Status), resumeAtMillis(pr.ResumeAt), pr.Version, doc, timeOrNow(pr.UpdatedAt),
		pr.ID, expected,
	)
	if err != nil {
		pr.Version = expected
		return storeErr("update process run", err)
	}
	if err := s.checkVersioned(ctx, tag, "process_runs", "process run", pr.ID, expected); err != nil {
		pr.Version = expected
		return err
	}
	return nil
}

func (s *PostgresStore) ListProcessRuns(ctx context.Context, filter ProcessRunFilter) ([]*schema.ProcessRun, error) {
	var w pgWhere
	w.add("org_id", filter.OrgID != "", filter.OrgID)
	w.add("process_id", filter.ProcessID != "", filter.ProcessID)
	if filter.Status != nil {
		w.add("status", true, string(*filter.Status))
	}
	if filter.DueBefore != nil {
		w.args = append(w.args, filter.DueBefore.UnixMilli())
		w.clauses = append(w.clauses, fmt.Sprintf("resume_at_ms IS NOT NULL AND resume_at_ms <= $%d", len(w.args)))
	}
	return pgQueryDocs[schema.ProcessRun](ctx, s.pool, buildSelect("process_runs", w.clauses, "started_at ASC", filter.Limit), w.args...)
}

// --- Users ---

func (s *PostgresStore) UpsertUser(ctx context.Context, u *schema.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, org_id, email, display_name) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET org_id = EXCLUDED.org_id, email = EXCLUDED.email, display_name = EXCLUDED.display_name`,
		u.ID, u.OrgID, u.Email, nullStr(u.DisplayName),
	)
	if err != nil {
		return storeErr("upsert user", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*schema.User, error) {
	u := &schema.User{}
	var display *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, email, display_name FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.OrgID, &u.Email, &display)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeNotFound("user", id)
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}
	if display != nil {
		u.DisplayName = *display
	}
	return u, nil
}

// --- Events ---

func (s *PostgresStore) AppendEvent(ctx context.Context, event *Event) error {
	event.Timestamp = timeOrNow(event.Timestamp)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Serializes sequence allocation per subject for the life of the transaction.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, event.SubjectID); err != nil {
			return fmt.Errorf("lock event subject: %w", err)
		}
		var seq int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE subject_id = $1`, event.SubjectID,
		).Scan(&seq); err != nil {
			return fmt.Errorf("get next sequence: %w", err)
		}
		event.Sequence = seq
		return tx.QueryRow(ctx,
			`INSERT INTO events (subject_id, step_id, event_type, payload, timestamp, sequence)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			event.SubjectID, nullStr(event.StepID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
		).Scan(&event.ID)
	})
}

func (s *PostgresStore) GetEvents(ctx context.Context, subjectID string, since int64) ([]*Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, subject_id, COALESCE(step_id, ''), event_type, payload, timestamp, sequence
		 FROM events WHERE subject_id = $1 AND sequence > $2 ORDER BY sequence ASC`,
		subjectID, since,
	)
	if err != nil {
		return nil, storeErr("get events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var payload []byte
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.StepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			e.Payload = payload
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func (s *PostgresStore) getDoc(ctx context.Context, query string, dst any, resource, id string, args ...any) error {
	if len(args) == 0 {
		args = []any{id}
	}
	var doc []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return storeNotFound(resource, id)
	}
	if err != nil {
		return storeErr("get "+resource, err)
	}
	return decodeDoc(doc, dst)
}

func (s *PostgresStore) checkVersioned(ctx context.Context, tag pgconn.CommandTag, table, resource, id string, expected int64) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE id = $1`, table), id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return storeNotFound(resource, id)
	}
	return versionConflict(resource, id, expected)
}

// pgWhere accumulates numbered-placeholder conditions.
type pgWhere struct {
	clauses []string
	args    []any
}

func (w *pgWhere) add(column string, ok bool, v any) {
	if !ok {
		return
	}
	w.args = append(w.args, v)
	w.clauses = append(w.clauses, fmt.Sprintf("%s = $%d", column, len(w.args)))
}

func pgQueryDocs[T any](ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]*T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query", err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		v := new(T)
		if err := decodeDoc(doc, v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
