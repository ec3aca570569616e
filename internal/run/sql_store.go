package run

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"gisengine/internal/engine"
	xerrors "gisengine/internal/errors"
	"gisengine/internal/storage/sqldb"
)

const runColumns = `id, name, definition, status, attempts, max_retries, last_error, error_code, result, created_at, updated_at`

// SQLStore persists runs in the workflow_runs table of any sqldb dialect.
type SQLStore struct {
	db  *sqldb.DB
	now func() time.Time
}

// NewSQLStore applies pending migrations and returns a store on db.
func NewSQLStore(ctx context.Context, db *sqldb.DB) (*SQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "database cannot be nil")
	}
	if err := db.Migrate(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "migrate workflow_runs")
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

// Create implements Store.
func (s *SQLStore) Create(ctx context.Context, r *Run) error {
	if r == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "run cannot be nil")
	}
	if strings.TrimSpace(r.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run id cannot be empty")
	}
	definition, err := json.Marshal(r.Definition)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode workflow definition")
	}
	now := s.now().Unix()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `INSERT INTO workflow_runs
        (id, name, definition, status, attempts, max_retries, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, '', ?, ?)`,
		r.ID, r.Name, string(definition), string(r.Status), r.Attempts, r.MaxRetries, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if sqldb.IsDuplicate(err) {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert run")
	}
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query run")
	}
	return r, nil
}

// Claim implements Store.
func (s *SQLStore) Claim(ctx context.Context, id string) (*Run, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE workflow_runs
        SET status = ?, attempts = attempts + 1, last_error = NULL, error_code = '', updated_at = ?
        WHERE id = ? AND status = ? AND attempts < max_retries`,
		string(StatusRunning), s.now().Unix(), id, string(StatusPending))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "claim run")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "claim run")
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return r, nil
	}
	switch {
	case r.Status.Terminal():
		return r, ErrCompleted
	case r.Status == StatusPending && r.Attempts >= r.MaxRetries:
		return r, ErrExhausted
	default:
		return r, ErrConflict
	}
}

// MarkSucceeded implements Store.
func (s *SQLStore) MarkSucceeded(ctx context.Context, id string, result engine.Result) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode run result")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE workflow_runs
        SET status = ?, result = ?, last_error = NULL, error_code = '', updated_at = ? WHERE id = ?`,
		string(StatusSucceeded), string(encoded), s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "mark run succeeded")
	}
	return expectRow(res)
}

// MarkFailed implements Store.
func (s *SQLStore) MarkFailed(ctx context.Context, id string, f Failure) error {
	status := StatusPending
	if f.Terminal {
		status = StatusFailed
	}
	var result sql.NullString
	if f.Result != nil {
		encoded, err := json.Marshal(f.Result)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode run result")
		}
		result = sql.NullString{String: string(encoded), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE workflow_runs
        SET status = ?, last_error = ?, error_code = ?, result = COALESCE(?, result), updated_at = ? WHERE id = ?`,
		string(status), f.Message, string(f.Code), result, s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "mark run failed")
	}
	return expectRow(res)
}

// Requeue implements Store.
func (s *SQLStore) Requeue(ctx context.Context, updatedBefore int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM workflow_runs WHERE status = ? AND updated_at < ? ORDER BY id`,
		string(StatusRunning), updatedBefore)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query stale runs")
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan stale run")
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate stale runs")
	}

	var ids []string
	now := s.now().Unix()
	for _, id := range candidates {
		// The status guard skips runs a live worker finished in the meantime.
		res, err := s.db.ExecContext(ctx, `UPDATE workflow_runs SET status = ?, updated_at = ?
            WHERE id = ? AND status = ? AND updated_at < ?`,
			string(StatusPending), now, id, string(StatusRunning), updatedBefore)
		if err != nil {
			return ids, xerrors.Wrap(xerrors.CodeStorageFailure, err, "requeue run")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	opts.applyDefaults()
	query := `SELECT ` + runColumns + ` FROM workflow_runs`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list runs")
	}
	defer rows.Close()

	runs := make([]*Run, 0, opts.Limit)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan run")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate runs")
	}
	return runs, nil
}

// Stats implements Store.
func (s *SQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()
	query := `SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(MIN(updated_at), 0),
        COALESCE(MAX(updated_at), 0)
        FROM workflow_runs`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query run stats")
	}
	return stats, nil
}

// Close closes the underlying pool.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r          Run
		status     string
		definition string
		lastError  sql.NullString
		result     sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Name, &definition, &status, &r.Attempts, &r.MaxRetries,
		&lastError, &r.ErrorCode, &result, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.LastError = lastError.String
	if err := json.Unmarshal([]byte(definition), &r.Definition); err != nil {
		return nil, fmt.Errorf("decode definition of run %s: %w", r.ID, err)
	}
	if result.Valid && strings.TrimSpace(result.String) != "" {
		var res engine.Result
		if err := json.Unmarshal([]byte(result.String), &res); err != nil {
			return nil, fmt.Errorf("decode result of run %s: %w", r.ID, err)
		}
		r.Result = &res
	}
	return &r, nil
}

func expectRow(res sql.Result) error {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "result IS NOT NULL")
		} else {
			conditions = append(conditions, "result IS NULL")
		}
	}
	if opts.Query != "" {
		pattern := "%" + strings.ToLower(opts.Query) + "%"
		conditions = append(conditions, "(LOWER(id) LIKE ? OR LOWER(name) LIKE ? OR LOWER(COALESCE(last_error, '')) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	if opts.Component != "" {
		// Definitions are stored compact, so the node body is matched verbatim.
		conditions = append(conditions, "definition LIKE ?")
		args = append(args, `%"component_id":"`+opts.Component+`"%`)
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*SQLStore)(nil)
