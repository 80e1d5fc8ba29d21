package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/google/uuid"
)

const jobColumns = `id, text_id, user_id, voice, format, sample_rate, url, duration, segments,
	status, error, error_code, created_at, updated_at`

// AudioRepository implements core.AudioRepository.
type AudioRepository struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Create stores a pending job for spec.
func (r *AudioRepository) Create(ctx context.Context, spec core.JobSpec) (*core.SynthesisJob, error) {
	now := time.Now().UTC()
	job := &core.SynthesisJob{
		ID:         uuid.NewString(),
		TextID:     spec.TextID,
		UserID:     spec.UserID,
		Voice:      spec.Voice,
		Format:     spec.Format,
		SampleRate: spec.SampleRate,
		Segments:   []core.Segment{},
		Status:     core.JobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, execErr := r.db.ExecContext(ctx,
		`INSERT INTO audios (id, text_id, user_id, voice, format, sample_rate, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TextID, job.UserID, job.Voice, job.Format, job.SampleRate, job.Status,
		toUnix(now), toUnix(now))
	if execErr != nil {
		return nil, fmt.Errorf("failed to save job for text %s: %w", spec.TextID, execErr)
	}

	return job, nil
}

// GetByID returns the job, or nil when none exists.
func (r *AudioRepository) GetByID(ctx context.Context, id string) (*core.SynthesisJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM audios WHERE id = ?`, id)

	return scanOptional(row, id)
}

// GetByTextID returns the completed job of a text if there is one, otherwise
// its newest job, or nil.
func (r *AudioRepository) GetByTextID(ctx context.Context, textID string) (*core.SynthesisJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM audios WHERE text_id = ?
		ORDER BY (status = ?) DESC, created_at DESC, rowid DESC LIMIT 1`,
		textID, core.JobCompleted)

	return scanOptional(row, textID)
}

// UpdateStatus records a state transition. A nil failure clears the error.
func (r *AudioRepository) UpdateStatus(ctx context.Context, id string, status core.JobStatus, failure *core.Failure) error {
	var message, code string
	if failure != nil {
		message = failure.Message
		code = string(failure.Code)
	}

	result, execErr := r.db.ExecContext(ctx,
		`UPDATE audios SET status = ?, error = ?, error_code = ?, updated_at = ? WHERE id = ?`,
		status, message, code, toUnix(time.Now()), id)

	return checkAffected("job", id, result, execErr)
}

// UpdateWithSegments stores the result of a finished run and marks it completed.
func (r *AudioRepository) UpdateWithSegments(
	ctx context.Context,
	id, url string,
	duration float64,
	segments []core.Segment,
) error {
	if segments == nil {
		segments = []core.Segment{}
	}

	encoded, marshalErr := json.Marshal(segments)
	if marshalErr != nil {
		return fmt.Errorf("failed to encode segments of job %s: %w", id, marshalErr)
	}

	result, execErr := r.db.ExecContext(ctx,
		`UPDATE audios SET url = ?, duration = ?, segments = ?, status = ?, error = '', error_code = '',
		updated_at = ? WHERE id = ?`,
		url, duration, string(encoded), core.JobCompleted, toUnix(time.Now()), id)

	return checkAffected("job", id, result, execErr)
}

// ResetForRegeneration returns a job to pending and clears its error.
func (r *AudioRepository) ResetForRegeneration(ctx context.Context, id string) error {
	result, execErr := r.db.ExecContext(ctx,
		`UPDATE audios SET status = ?, error = '', error_code = '', updated_at = ? WHERE id = ?`,
		core.JobPending, toUnix(time.Now()), id)

	return checkAffected("job", id, result, execErr)
}

// ListByStatusBefore returns jobs whose status starts with statusPrefix and
// that have not been updated since before.
func (r *AudioRepository) ListByStatusBefore(
	ctx context.Context,
	statusPrefix string,
	before time.Time,
) ([]core.SynthesisJob, error) {
	rows, queryErr := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM audios WHERE substr(status, 1, ?) = ? AND updated_at < ?
		ORDER BY updated_at`,
		len(statusPrefix), statusPrefix, toUnix(before))
	if queryErr != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", statusPrefix, queryErr)
	}
	defer rows.Close()

	var jobs []core.SynthesisJob

	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to list %s jobs: %w", statusPrefix, scanErr)
		}

		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

// Delete removes a job and reports whether it existed.
func (r *AudioRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, execErr := r.db.ExecContext(ctx, `DELETE FROM audios WHERE id = ?`, id)
	if execErr != nil {
		return false, fmt.Errorf("failed to delete job %s: %w", id, execErr)
	}

	affected, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return false, fmt.Errorf("failed to delete job %s: %w", id, affectedErr)
	}

	return affected > 0, nil
}

func scanOptional(row *sql.Row, id string) (*core.SynthesisJob, error) {
	job, scanErr := scanJob(row)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return nil, nil
	}

	if scanErr != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, scanErr)
	}

	return job, nil
}

func scanJob(row rowScanner) (*core.SynthesisJob, error) {
	var (
		job                     core.SynthesisJob
		status, errorCode, segs string
		createdAt, updatedAt    int64
	)

	scanErr := row.Scan(&job.ID, &job.TextID, &job.UserID, &job.Voice, &job.Format, &job.SampleRate,
		&job.URL, &job.Duration, &segs, &status, &job.Error, &errorCode, &createdAt, &updatedAt)
	if scanErr != nil {
		return nil, scanErr
	}

	unmarshalErr := json.Unmarshal([]byte(segs), &job.Segments)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("decode segments of job %s: %w", job.ID, unmarshalErr)
	}

	job.Status = core.JobStatus(status)
	job.ErrorCode = core.FailureCode(errorCode)
	job.CreatedAt = fromUnix(createdAt)
	job.UpdatedAt = fromUnix(updatedAt)

	return &job, nil
}
