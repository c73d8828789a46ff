package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"go-repub/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_status ON jobs(status);
CREATE TABLE IF NOT EXISTS pages (
	job_id TEXT NOT NULL,
	number INTEGER NOT NULL,
	data   TEXT NOT NULL,
	PRIMARY KEY (job_id, number)
);`

// SQLiteJobRepository stores job and page records as JSON documents in SQLite
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository opens (and migrates) the database at path
func NewSQLiteJobRepository(ctx context.Context, path string) (*SQLiteJobRepository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrRepositoryUnavailable, err)
	}
	return &SQLiteJobRepository{db: db}, nil
}

// Close closes the database
func (r *SQLiteJobRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteJobRepository) CreateJob(ctx context.Context, job *models.Job, pages []*models.Page) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, job.ID).Scan(&exists)
	if err == nil {
		return ErrJobExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (id, status, created_at, data) VALUES (?, ?, ?, ?)`,
		job.ID, string(job.Status), job.CreatedAt.UnixNano(), string(data)); err != nil {
		return err
	}
	for _, p := range pages {
		pdata, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pages (job_id, number, data) VALUES (?, ?, ?)`,
			job.ID, p.Number, string(pdata)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteJobRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job models.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *SQLiteJobRepository) SaveJob(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, data = ? WHERE id = ?`,
		string(job.Status), string(data), job.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *SQLiteJobRepository) ListJobs(ctx context.Context, filter ListFilter) ([]*models.Job, error) {
	query := `SELECT data FROM jobs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var job models.Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, err
		}
		out = append(out, &job)
	}
	return out, rows.Err()
}

func (r *SQLiteJobRepository) DeleteJob(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE job_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteJobRepository) GetPages(ctx context.Context, jobID string) ([]*models.Page, error) {
	if _, err := r.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM pages WHERE job_id = ? ORDER BY number`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Page
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p models.Page
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *SQLiteJobRepository) GetPage(ctx context.Context, jobID string, number int) (*models.Page, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM pages WHERE job_id = ? AND number = ?`, jobID, number).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		if _, jerr := r.GetJob(ctx, jobID); jerr != nil {
			return nil, jerr
		}
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, err
	}
	var p models.Page
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *SQLiteJobRepository) SavePages(ctx context.Context, pages []*models.Page) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, p := range pages {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE pages SET data = ? WHERE job_id = ? AND number = ?`,
			string(data), p.JobID, p.Number)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrPageNotFound
		}
	}
	return tx.Commit()
}
