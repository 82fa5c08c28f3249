package jobs

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	CompleteJob(ctx context.Context, id, fileID string, sizeKB float64, warning bool) error
	FailJob(ctx context.Context, id, errorMsg string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, status, source_name, speed, crop_start, crop_end, max_duration, quality,
	file_id, size_kb, warning, error, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Status, j.SourceName, j.Speed, j.CropStart, nullFloat(j.CropEnd), j.MaxDuration, j.Quality,
		nullString(j.FileID), j.SizeKB, boolToInt(j.Warning), nullString(j.Error),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) CompleteJob(ctx context.Context, id, fileID string, sizeKB float64, warning bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, file_id = ?, size_kb = ?, warning = ?, error = NULL, updated_at = ? WHERE id = ?
	`, StatusCompleted, fileID, sizeKB, boolToInt(warning), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) FailJob(ctx context.Context, id, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, StatusFailed, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var cropEnd, sizeKB sql.NullFloat64
	var fileID, errMsg sql.NullString
	var warning int
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Status, &j.SourceName, &j.Speed, &j.CropStart, &cropEnd, &j.MaxDuration, &j.Quality,
		&fileID, &sizeKB, &warning, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if cropEnd.Valid {
		v := cropEnd.Float64
		j.CropEnd = &v
	}
	j.FileID = fileID.String
	j.SizeKB = sizeKB.Float64
	j.Warning = warning == 1
	j.Error = errMsg.String
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &j, nil
}

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
