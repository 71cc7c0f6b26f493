package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/procflow/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/procflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so QueryRow is used throughout.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Procedures ---

func (s *LibSQLStore) SaveProcedure(ctx context.Context, p *schema.Procedure) error {
	doc, err := encodeDoc(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO procedures (id, org_id, trigger_type, published, active, doc, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET org_id=excluded.org_id, trigger_type=excluded.trigger_type,
		   published=excluded.published, active=excluded.active, doc=excluded.doc, updated_at=excluded.updated_at`,
		p.ID, p.OrgID, string(p.TriggerType()), p.Published, p.Active, doc, time.Now().UTC(),
	)
	if err != nil {
		return storeErr("save procedure", err)
	}
	return nil
}

func (s *LibSQLStore) GetProcedure(ctx context.Context, id string) (*schema.Procedure, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM procedures WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("procedure", id)
	}
	if err != nil {
		return nil, storeErr("get procedure", err)
	}
	p := &schema.Procedure{}
	if err := decodeDoc([]byte(doc), p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *LibSQLStore) ListProcedures(ctx context.Context, filter ProcedureFilter) ([]*schema.Procedure, error) {
	var where []string
	var args []any

	if filter.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, filter.OrgID)
	}
	if filter.TriggerType != "" {
		where = append(where, "trigger_type = ?")
		args = append(args, string(filter.TriggerType))
	}
	if filter.Published != nil {
		where = append(where, "published = ?")
		args = append(args, *filter.Published)
	}
	if filter.Active != nil {
		where = append(where, "active = ?")
		args = append(args, *filter.Active)
	}

	query := buildSelect("procedures", where, "id ASC", filter.Limit)
	return queryDocs[schema.Procedure](ctx, s.db, query, args...)
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.Run) error {
	doc, err := encodeDoc(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, org_id, procedure_id, process_run_id, status, version, doc, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.OrgID, run.ProcedureID, nullStr(run.ProcessRunID), string(run.Status), run.Version, doc,
		timeOrNow(run.StartedAt), timeOrNow(run.UpdatedAt),
	)
	if err != nil {
		return storeErr("create run", err)
	}
	return nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.Run, error) {
	var doc string
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT doc, version FROM runs WHERE id = ?`, id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, storeErr("get run", err)
	}
	run := &schema.Run{}
	if err := decodeDoc([]byte(doc), run); err != nil {
		return nil, err
	}
	run.Version = version
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, run *schema.Run) error {
	expected := run.Version
	run.Version = expected + 1
	doc, err := encodeDoc(run)
	if err != nil {
		run.Version = expected
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, process_run_id = ?, version = ?, doc = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(run.Status), nullStr(run.ProcessRunID), run.Version, doc, timeOrNow(run.UpdatedAt),
		run.ID, expected,
	)
	if err != nil {
		run.Version = expected
		return storeErr("update run", err)
	}
	if err := s.checkVersioned(ctx, res, "runs", "run", run.ID, expected); err != nil {
		run.Version = expected
		return err
	}
	return nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error) {
	var where []string
	var args []any

	if filter.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, filter.OrgID)
	}
	if filter.ProcedureID != "" {
		where = append(where, "procedure_id = ?")
		args = append(args, filter.ProcedureID)
	}
	if filter.ProcessRunID != "" {
		where = append(where, "process_run_id = ?")
		args = append(args, filter.ProcessRunID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := buildSelect("runs", where, "started_at DESC", filter.Limit)
	return queryDocs[schema.Run](ctx, s.db, query, args...)
}

// --- User tasks ---

func (s *LibSQLStore) CreateTask(ctx context.Context, task *schema.UserTask) error {
	doc, err := encodeDoc(task)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_tasks (id, run_id, step_id, org_id, assignee_id, status, doc, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.RunID, task.StepID, task.OrgID, task.AssigneeID, string(task.Status), doc, timeOrNow(task.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "task for run %q step %q already exists", task.RunID, task.StepID)
		}
		return storeErr("create task", err)
	}
	return nil
}

func (s *LibSQLStore) GetTask(ctx context.Context, runID, stepID string) (*schema.UserTask, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM user_tasks WHERE run_id = ? AND step_id = ?`, runID, stepID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("task", runID+"/"+stepID)
	}
	if err != nil {
		return nil, storeErr("get task", err)
	}
	t := &schema.UserTask{}
	if err := decodeDoc([]byte(doc), t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *LibSQLStore) CompleteTask(ctx context.Context, runID, stepID string, at time.Time) error {
	t, err := s.GetTask(ctx, runID, stepID)
	if err != nil {
		return err
	}
	t.Status = schema.TaskStatusCompleted
	t.CompletedAt = &at
	doc, err := encodeDoc(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE user_tasks SET status = ?, doc = ? WHERE run_id = ? AND step_id = ?`,
		string(t.Status), doc, runID, stepID,
	)
	if err != nil {
		return storeErr("complete task", err)
	}
	return nil
}

func (s *LibSQLStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*schema.UserTask, error) {
	var where []string
	var args []any

	if filter.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, filter.OrgID)
	}
	if filter.AssigneeID != "" {
		where = append(where, "assignee_id = ?")
		args = append(args, filter.AssigneeID)
	}
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := buildSelect("user_tasks", where, "created_at ASC", filter.Limit)
	return queryDocs[schema.UserTask](ctx, s.db, query, args...)
}

// --- Processes ---

func (s *LibSQLStore) SaveProcess(ctx context.Context, p *schema.Process) error {
	doc, err := encodeDoc(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO processes (id, org_id, doc, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET org_id=excluded.org_id, doc=excluded.doc, updated_at=excluded.updated_at`,
		p.ID, p.OrgID, doc, time.Now().UTC(),
	)
	if err != nil {
		return storeErr("save process", err)
	}
	return nil
}

func (s *LibSQLStore) GetProcess(ctx context.Context, id string) (*schema.Process, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM processes WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("process", id)
	}
	if err != nil {
		return nil, storeErr("get process", err)
	}
	p := &schema.Process{}
	if err := decodeDoc([]byte(doc), p); err != nil {
		return nil, err
	}
	return p, nil
}

// --- Process runs ---

func (s *LibSQLStore) CreateProcessRun(ctx context.Context, pr *schema.ProcessRun) error {
	doc, err := encodeDoc(pr)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO process_runs (id, org_id, process_id, status, resume_at_ms, version, doc, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pr.ID, pr.OrgID, pr.ProcessID, string(pr.Status), resumeAtMillis(pr.ResumeAt), pr.Version, doc,
		timeOrNow(pr.StartedAt), timeOrNow(pr.UpdatedAt),
	)
	if err != nil {
		return storeErr("create process run", err)
	}
	return nil
}

func (s *LibSQLStore) GetProcessRun(ctx context.Context, id string) (*schema.ProcessRun, error) {
	var doc string
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT doc, version FROM process_runs WHERE id = ?`, id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("process run", id)
	}
	if err != nil {
		return nil, storeErr("get process run", err)
	}
	pr := &schema.ProcessRun{}
	if err := decodeDoc([]byte(doc), pr); err != nil {
		return nil, err
	}
	pr.Version = version
	return pr, nil
}

func (s *LibSQLStore) UpdateProcessRun(ctx context.Context, pr *schema.ProcessRun) error {
	expected := pr.Version
	pr.Version = expected + 1
	doc, err := encodeDoc(pr)
	if err != nil {
		pr.Version = expected
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE process_runs SET status = ?, resume_at_ms = ?, version = ?, doc = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(pr.Status), resumeAtMillis(pr.ResumeAt), pr.Version, doc, timeOrNow(pr.UpdatedAt),
		pr.ID, expected,
	)
	if err != nil {
		pr.Version = expected
		return storeErr("update process run", err)
	}
	if err := s.checkVersioned(ctx, res, "process_runs", "process run", pr.ID, expected); err != nil {
		pr.Version = expected
		return err
	}
	return nil
}

func (s *LibSQLStore) ListProcessRuns(ctx context.Context, filter ProcessRunFilter) ([]*schema.ProcessRun, error) {
	var where []string
	var args []any

	if filter.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, filter.OrgID)
	}
	if filter.ProcessID != "" {
		where = append(where, "process_id = ?")
		args = append(args, filter.ProcessID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.DueBefore != nil {
		where = append(where, "resume_at_ms IS NOT NULL AND resume_at_ms <= ?")
		args = append(args, filter.DueBefore.UnixMilli())
	}

	query := buildSelect("process_runs", where, "started_at ASC", filter.Limit)
	return queryDocs[schema.ProcessRun](ctx, s.db, query, args...)
}

// --- Users ---

func (s *LibSQLStore) UpsertUser(ctx context.Context, u *schema.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, org_id, email, display_name) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET org_id=excluded.org_id, email=excluded.email, display_name=excluded.display_name`,
		u.ID, u.OrgID, u.Email, nullStr(u.DisplayName),
	)
	if err != nil {
		return storeErr("upsert user", err)
	}
	return nil
}

func (s *LibSQLStore) GetUser(ctx context.Context, id string) (*schema.User, error) {
	u := &schema.User{}
	var display sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, email, display_name FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.OrgID, &u.Email, &display)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("user", id)
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}
	u.DisplayName = display.String
	return u, nil
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE subject_id = ?`, event.SubjectID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (subject_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.SubjectID, nullStr(event.StepID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, subjectID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, step_id, event_type, payload, timestamp, sequence
		 FROM events WHERE subject_id = ? AND sequence > ? ORDER BY sequence ASC`,
		subjectID, since,
	)
	if err != nil {
		return nil, storeErr("get events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.SubjectID, &stepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.StepID = stepID.String
		if payload.Valid && payload.String != "" {
			e.Payload = []byte(payload.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

// checkVersioned distinguishes a missing document from a stale version after
// an UPDATE ... WHERE version = ? touched no rows.
func (s *LibSQLStore) checkVersioned(ctx context.Context, res sql.Result, table, resource, id string, expected int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, table), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return storeNotFound(resource, id)
	}
	return versionConflict(resource, id, expected)
}

func buildSelect(table string, where []string, order string, limit int) string {
	query := "SELECT doc FROM " + table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + order
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return query
}

// queryDocs scans a single doc column into a slice of T.
func queryDocs[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query", err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		v := new(T)
		if err := decodeDoc([]byte(doc), v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

var _ Store = (*LibSQLStore)(nil)
