package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/google/uuid"
)

// TextRepository implements core.TextRepository.
type TextRepository struct {
	db *sql.DB
}

// Create stores doc as a pending text. An empty ID is generated.
func (r *TextRepository) Create(ctx context.Context, doc *core.TextDocument) (*core.TextDocument, error) {
	created := *doc
	if created.ID == "" {
		created.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	created.Status = core.TextPending
	created.Error = ""
	created.CreatedAt = now
	created.UpdatedAt = now

	_, execErr := r.db.ExecContext(ctx,
		`INSERT INTO texts (id, user_id, content, language, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '', ?, ?)`,
		created.ID, created.UserID, created.Content, created.Language, created.Status,
		toUnix(now), toUnix(now))
	if execErr != nil {
		return nil, fmt.Errorf("failed to save text %s: %w", created.ID, execErr)
	}

	return &created, nil
}

// GetByID returns the text or an error wrapping core.ErrNotFound.
func (r *TextRepository) GetByID(ctx context.Context, id string) (*core.TextDocument, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, content, language, status, error, created_at, updated_at
		FROM texts WHERE id = ?`, id)

	var (
		doc                  core.TextDocument
		status               string
		createdAt, updatedAt int64
	)

	scanErr := row.Scan(&doc.ID, &doc.UserID, &doc.Content, &doc.Language, &status, &doc.Error,
		&createdAt, &updatedAt)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return nil, fmt.Errorf("text %s: %w", id, core.ErrNotFound)
	}

	if scanErr != nil {
		return nil, fmt.Errorf("failed to get text %s: %w", id, scanErr)
	}

	doc.Status = core.TextStatus(status)
	doc.CreatedAt = fromUnix(createdAt)
	doc.UpdatedAt = fromUnix(updatedAt)

	return &doc, nil
}

// UpdateStatus records the processing state of a text.
func (r *TextRepository) UpdateStatus(ctx context.Context, id string, status core.TextStatus, errMsg string) error {
	result, execErr := r.db.ExecContext(ctx,
		`UPDATE texts SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, toUnix(time.Now()), id)

	return checkAffected("text", id, result, execErr)
}

func checkAffected(kind, id string, result sql.Result, execErr error) error {
	if execErr != nil {
		return fmt.Errorf("failed to update %s %s: %w", kind, id, execErr)
	}

	affected, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return fmt.Errorf("failed to update %s %s: %w", kind, id, affectedErr)
	}

	if affected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}

	return nil
}
