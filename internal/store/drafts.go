package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voicedraft/internal/domain"
)

// InsertNewDraft supersedes the project's current draft in one transaction:
// every existing draft is demoted, then the new content is inserted as
// version count+1 with the current flag set. Readers never observe zero or
// two current drafts for a project that has any.
func (s *Store) InsertNewDraft(ctx context.Context, projectID int64, content string) (domain.Draft, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("begin insert draft: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE drafts SET is_current = 0, updated_at = ? WHERE project_id = ? AND is_current = 1
	`, now(), projectID); err != nil {
		return domain.Draft{}, fmt.Errorf("demote current draft: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM drafts WHERE project_id = ?
	`, projectID).Scan(&count); err != nil {
		return domain.Draft{}, fmt.Errorf("count drafts: %w", err)
	}

	ts := now()
	version := count + 1
	res, err := tx.ExecContext(ctx, `
		INSERT INTO drafts (project_id, content, version, is_current, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
	`, projectID, content, version, ts, ts)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("insert draft: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Draft{}, fmt.Errorf("draft insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Draft{}, fmt.Errorf("commit insert draft: %w", err)
	}

	s.notifier.Notify(TopicDrafts)
	return domain.Draft{
		ID:        id,
		ProjectID: projectID,
		Content:   content,
		Version:   version,
		IsCurrent: true,
		CreatedAt: timeFromUnix(ts),
		UpdatedAt: timeFromUnix(ts),
	}, nil
}

// CurrentDraft returns the project's current draft, or nil when the project
// has no drafts yet.
func (s *Store) CurrentDraft(ctx context.Context, projectID int64) (*domain.Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, content, version, is_current, created_at, updated_at
		FROM drafts
		WHERE project_id = ? AND is_current = 1
	`, projectID)

	draft, err := scanDraft(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

// DraftsByProject returns all draft versions, newest first.
func (s *Store) DraftsByProject(ctx context.Context, projectID int64) ([]domain.Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, content, version, is_current, created_at, updated_at
		FROM drafts
		WHERE project_id = ?
		ORDER BY version DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	var drafts []domain.Draft
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	return drafts, rows.Err()
}

func scanDraft(row rowScanner) (domain.Draft, error) {
	var d domain.Draft
	var isCurrent int
	var createdAt, updatedAt int64
	err := row.Scan(&d.ID, &d.ProjectID, &d.Content, &d.Version, &isCurrent, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Draft{}, ErrNotFound
	}
	if err != nil {
		return domain.Draft{}, fmt.Errorf("scan draft: %w", err)
	}
	d.IsCurrent = isCurrent != 0
	d.CreatedAt = timeFromUnix(createdAt)
	d.UpdatedAt = timeFromUnix(updatedAt)
	return d, nil
}
