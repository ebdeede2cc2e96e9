package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

const (
	JobModeSync  = "sync"
	JobModeAsync = "async"

	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// ConversionJob is one requested conversion run of an album. Rows outlive the
// process so that queued and interrupted work can be picked up again.
type ConversionJob struct {
	ID         string `json:"id"`
	AlbumID    uint   `json:"album_id"`
	Mode       string `json:"mode"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Converted  int    `json:"converted"`
	Total      int    `json:"total"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
	StartedAt  *int64 `json:"started_at,omitempty"`
	FinishedAt *int64 `json:"finished_at,omitempty"`
}

// Finished reports whether the job reached a terminal status.
func (j ConversionJob) Finished() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusFailed
}

var jobColumns = []string{
	"id", "album_id", "mode", "status", "error", "converted", "total",
	"created_at", "updated_at", "started_at", "finished_at",
}

// InitJobsSchema creates the conversion_jobs table if it does not exist.
func InitJobsSchema(db *sql.DB) error {
	sqlStmt := `
	CREATE TABLE IF NOT EXISTS conversion_jobs (
		id TEXT PRIMARY KEY,
		album_id INTEGER NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		converted INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		started_at INTEGER,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_conversion_jobs_album ON conversion_jobs(album_id);
	CREATE INDEX IF NOT EXISTS idx_conversion_jobs_status ON conversion_jobs(status);
	`
	if _, err := db.Exec(sqlStmt); err != nil {
		return fmt.Errorf("failed to create conversion_jobs table: %w", err)
	}
	return nil
}

func scanJob(row sq.RowScanner) (ConversionJob, error) {
	var j ConversionJob
	var startedAt, finishedAt sql.NullInt64
	err := row.Scan(&j.ID, &j.AlbumID, &j.Mode, &j.Status, &j.Error, &j.Converted, &j.Total,
		&j.CreatedAt, &j.UpdatedAt, &startedAt, &finishedAt)
	if err != nil {
		return ConversionJob{}, err
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Int64
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Int64
	}
	return j, nil
}

// CreateJob inserts a queued job for albumID.
func CreateJob(db *sql.DB, albumID uint, mode string) (ConversionJob, error) {
	now := time.Now().Unix()
	job := ConversionJob{
		ID:        uuid.NewString(),
		AlbumID:   albumID,
		Mode:      mode,
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	sqlStr, args, err := psql.Insert("conversion_jobs").
		Columns("id", "album_id", "mode", "status", "created_at", "updated_at").
		Values(job.ID, job.AlbumID, job.Mode, job.Status, job.CreatedAt, job.UpdatedAt).
		ToSql()
	if err != nil {
		return ConversionJob{}, fmt.Errorf("failed to build SQL query for CreateJob: %w", err)
	}

	if _, err := db.Exec(sqlStr, args...); err != nil {
		return ConversionJob{}, fmt.Errorf("failed to insert conversion job for album %d: %w", albumID, err)
	}
	return job, nil
}

// GetJob returns sql.ErrNoRows when the id is unknown.
func GetJob(db *sql.DB, id string) (ConversionJob, error) {
	sqlStr, args, err := psql.Select(jobColumns...).
		From("conversion_jobs").
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return ConversionJob{}, fmt.Errorf("failed to build SQL query for GetJob: %w", err)
	}

	job, err := scanJob(db.QueryRow(sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConversionJob{}, sql.ErrNoRows
		}
		return ConversionJob{}, fmt.Errorf("failed to query conversion job %s: %w", id, err)
	}
	return job, nil
}

// LatestJobForAlbum returns the most recently created job of an album, or
// sql.ErrNoRows when it was never converted.
func LatestJobForAlbum(db *sql.DB, albumID uint) (ConversionJob, error) {
	sqlStr, args, err := psql.Select(jobColumns...).
		From("conversion_jobs").
		Where(sq.Eq{"album_id": albumID}).
		OrderBy("created_at DESC", "rowid DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return ConversionJob{}, fmt.Errorf("failed to build SQL query for LatestJobForAlbum: %w", err)
	}

	job, err := scanJob(db.QueryRow(sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConversionJob{}, sql.ErrNoRows
		}
		return ConversionJob{}, fmt.Errorf("failed to query latest conversion job for album %d: %w", albumID, err)
	}
	return job, nil
}

// ListUnfinishedJobs returns queued and running jobs, oldest first.
func ListUnfinishedJobs(db *sql.DB) ([]ConversionJob, error) {
	sqlStr, args, err := psql.Select(jobColumns...).
		From("conversion_jobs").
		Where(sq.Eq{"status": []string{JobStatusQueued, JobStatusRunning}}).
		OrderBy("created_at ASC", "rowid ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for ListUnfinishedJobs: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute ListUnfinishedJobs query: %w", err)
	}
	defer rows.Close()

	jobs := []ConversionJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversion job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversion job rows: %w", err)
	}
	return jobs, nil
}

func updateJob(db *sql.DB, id, op string, set map[string]interface{}) error {
	set["updated_at"] = time.Now().Unix()
	sqlStr, args, err := psql.Update("conversion_jobs").
		SetMap(set).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL query for %s: %w", op, err)
	}

	res, err := db.Exec(sqlStr, args...)
	if err != nil {
		return fmt.Errorf("failed to execute %s for job %s: %w", op, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkJobRunning records that a worker picked the job up.
func MarkJobRunning(db *sql.DB, id string) error {
	return updateJob(db, id, "MarkJobRunning", map[string]interface{}{
		"status":      JobStatusRunning,
		"started_at":  time.Now().Unix(),
		"finished_at": nil,
		"error":       "",
	})
}

// FinishJob stores the terminal status and counters of a run.
func FinishJob(db *sql.DB, id, status string, converted, total int, errMsg string) error {
	if status != JobStatusDone && status != JobStatusFailed {
		return fmt.Errorf("invalid terminal job status %q", status)
	}
	return updateJob(db, id, "FinishJob", map[string]interface{}{
		"status":      status,
		"converted":   converted,
		"total":       total,
		"error":       errMsg,
		"finished_at": time.Now().Unix(),
	})
}

// RequeueJob puts an interrupted job back in the queued state.
func RequeueJob(db *sql.DB, id string) error {
	return updateJob(db, id, "RequeueJob", map[string]interface{}{
		"status":     JobStatusQueued,
		"started_at": nil,
	})
}

// DeleteJobsForAlbum removes the job history of a deleted album.
func DeleteJobsForAlbum(db *sql.DB, albumID uint) error {
	sqlStr, args, err := psql.Delete("conversion_jobs").
		Where(sq.Eq{"album_id": albumID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL query for DeleteJobsForAlbum: %w", err)
	}
	if _, err := db.Exec(sqlStr, args...); err != nil {
		return fmt.Errorf("failed to delete conversion jobs for album %d: %w", albumID, err)
	}
	return nil
}
