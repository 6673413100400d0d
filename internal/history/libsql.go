package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/mvaldr/cascade/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
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

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Run history ---

func (s *LibSQLStore) RecordGraphRun(ctx context.Context, result *schema.GraphResult) error {
	blob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal graph result: %w", err)
	}
	return s.insertRun(ctx, result.RunID, RunKindGraph, result.Name,
		string(result.Status), result.Error, blob, result.TotalDurationMs)
}

func (s *LibSQLStore) RecordPipelineRun(ctx context.Context, result *schema.PipelineResult) error {
	blob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal pipeline result: %w", err)
	}
	return s.insertRun(ctx, result.RunID, RunKindPipeline, result.Name,
		string(result.Status), result.Error, blob, result.TotalDurationMs)
}

func (s *LibSQLStore) insertRun(ctx context.Context, runID string, kind RunKind, name, status, errMsg string, blob []byte, durationMs int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, kind, name, status, error, result, total_duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, string(kind), name, status, nullStr(errMsg), string(blob), durationMs, time.Now().UTC(),
	)
	return err
}

func (s *LibSQLStore) GetGraphRun(ctx context.Context, runID string) (*schema.GraphResult, error) {
	blob, err := s.getRunBlob(ctx, runID, RunKindGraph)
	if err != nil {
		return nil, err
	}
	result := &schema.GraphResult{}
	if err := json.Unmarshal(blob, result); err != nil {
		return nil, fmt.Errorf("unmarshal graph result: %w", err)
	}
	return result, nil
}

func (s *LibSQLStore) GetPipelineRun(ctx context.Context, runID string) (*schema.PipelineResult, error) {
	blob, err := s.getRunBlob(ctx, runID, RunKindPipeline)
	if err != nil {
		return nil, err
	}
	result := &schema.PipelineResult{}
	if err := json.Unmarshal(blob, result); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline result: %w", err)
	}
	return result, nil
}

func (s *LibSQLStore) getRunBlob(ctx context.Context, runID string, kind RunKind) ([]byte, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM runs WHERE run_id = ? AND kind = ?`, runID, string(kind),
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", runID)
	}
	if err != nil {
		return nil, err
	}
	return []byte(blob), nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunSummary, error) {
	var where []string
	var args []any

	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT run_id, kind, name, status, error, total_duration_ms, created_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*RunSummary
	for rows.Next() {
		sm, err := scanRunSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

func (s *LibSQLStore) LastRun(ctx context.Context, kind RunKind) (*RunSummary, error) {
	runs, err := s.ListRuns(ctx, RunFilter{Kind: kind, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, storeNotFound("run", string(kind)+"/latest")
	}
	return runs[0], nil
}

func scanRunSummary(rows *sql.Rows) (*RunSummary, error) {
	sm := &RunSummary{}
	var kind string
	var errMsg sql.NullString
	if err := rows.Scan(&sm.RunID, &kind, &sm.Name, &sm.Status, &errMsg,
		&sm.TotalDurationMs, &sm.CreatedAt); err != nil {
		return nil, err
	}
	sm.Kind = RunKind(kind)
	sm.Error = errMsg.String
	return sm, nil
}

// --- Memories ---

func (s *LibSQLStore) SaveMemory(ctx context.Context, key string, content map[string]any) error {
	blob, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal memory content: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (key, content, created_at) VALUES (?, ?, ?)`,
		key, string(blob), time.Now().UTC(),
	)
	return err
}

func (s *LibSQLStore) RecallMemories(ctx context.Context, key string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM memories WHERE key = ? ORDER BY id DESC LIMIT ?`, key, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []map[string]any
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var content map[string]any
		if err := json.Unmarshal([]byte(blob), &content); err != nil {
			return nil, fmt.Errorf("unmarshal memory content: %w", err)
		}
		memories = append(memories, content)
	}
	return memories, rows.Err()
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, name, kind, spec, input, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, string(job.Kind), string(job.Spec), nullRaw(job.Input),
		job.CronExpression, job.Enabled, nullTime(job.LastRunAt), nullTime(job.NextRunAt),
		nullStr(job.LastRunStatus), timeOrNow(job.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var kind, spec string
	var input, lastStatus sql.NullString
	var lastRun, nextRun sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, kind, spec, input, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.Name, &kind, &spec, &input, &job.CronExpression,
		&job.Enabled, &lastRun, &nextRun, &lastStatus, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled_job", id)
	}
	if err != nil {
		return nil, err
	}
	job.Kind = RunKind(kind)
	job.Spec = json.RawMessage(spec)
	job.Input = rawOrNil(input)
	job.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		job.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		job.NextRunAt = &nextRun.Time
	}
	return job, nil
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}

	query := `SELECT id, name, kind, spec, input, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at FROM scheduled_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job := &ScheduledJob{}
		var kind, spec string
		var input, lastStatus sql.NullString
		var lastRun, nextRun sql.NullTime
		if err := rows.Scan(&job.ID, &job.Name, &kind, &spec, &input, &job.CronExpression,
			&job.Enabled, &lastRun, &nextRun, &lastStatus, &job.CreatedAt); err != nil {
			return nil, err
		}
		job.Kind = RunKind(kind)
		job.Spec = json.RawMessage(spec)
		job.Input = rawOrNil(input)
		job.LastRunStatus = lastStatus.String
		if lastRun.Valid {
			job.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			job.NextRunAt = &nextRun.Time
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_job", id)
}

// --- Secrets ---

// StoreSecret upserts an encrypted secret value.
func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	return err
}

// GetSecret returns the encrypted value for a key.
func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// DeleteSecret removes a secret.
func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

// ListSecrets returns all secret keys, sorted.
func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.CascadeError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
