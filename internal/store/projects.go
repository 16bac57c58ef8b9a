package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voicedraft/internal/domain"
)

// CreateProject inserts a new active project.
func (s *Store) CreateProject(ctx context.Context, title, tags string) (domain.Project, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (title, tags, linked_lecture_ids, created_at, updated_at, is_active)
		VALUES (?, ?, '', ?, ?, 1)
	`, title, tags, ts, ts)
	if err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Project{}, fmt.Errorf("project insert id: %w", err)
	}

	s.notifier.Notify(TopicProjects)
	return domain.Project{
		ID:        id,
		Title:     title,
		Tags:      tags,
		CreatedAt: timeFromUnix(ts),
		UpdatedAt: timeFromUnix(ts),
		IsActive:  true,
	}, nil
}

// Project returns one project by id, deleted or not.
func (s *Store) Project(ctx context.Context, id int64) (domain.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, tags, linked_lecture_ids, created_at, updated_at, is_active
		FROM projects
		WHERE id = ?
	`, id)
	return scanProject(row)
}

// ActiveProjects returns all non-deleted projects, most recently updated
// first.
func (s *Store) ActiveProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, tags, linked_lecture_ids, created_at, updated_at, is_active
		FROM projects
		WHERE is_active = 1
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// SoftDeleteProject hides a project without removing its rows.
func (s *Store) SoftDeleteProject(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET is_active = 0, updated_at = ? WHERE id = ?
	`, now(), id)
	if err != nil {
		return fmt.Errorf("soft delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notifier.Notify(TopicProjects)
	return nil
}

// TouchProject bumps the project's updated timestamp.
func (s *Store) TouchProject(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE projects SET updated_at = ? WHERE id = ?
	`, now(), id); err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	s.notifier.Notify(TopicProjects)
	return nil
}

// SetProjectLectureLinks replaces the project's serialized lecture id list.
func (s *Store) SetProjectLectureLinks(ctx context.Context, id int64, linked string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET linked_lecture_ids = ?, updated_at = ? WHERE id = ?
	`, linked, now(), id)
	if err != nil {
		return fmt.Errorf("set project lecture links: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notifier.Notify(TopicProjects)
	return nil
}

// DraftConfig returns the project's saved draft configuration, or the
// defaults if none was ever saved.
func (s *Store) DraftConfig(ctx context.Context, projectID int64) (domain.DraftConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT word_goal, tone, refinement, include_summary, include_highlights
		FROM draft_configs
		WHERE project_id = ?
	`, projectID)

	var cfg domain.DraftConfig
	var includeSummary, includeHighlights int
	err := row.Scan(&cfg.WordGoal, &cfg.Tone, &cfg.Refinement, &includeSummary, &includeHighlights)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultDraftConfig(), nil
	}
	if err != nil {
		return domain.DraftConfig{}, fmt.Errorf("scan draft config: %w", err)
	}
	cfg.IncludeSummary = includeSummary != 0
	cfg.IncludeHighlights = includeHighlights != 0
	return cfg, nil
}

// SaveDraftConfig upserts the project's draft configuration.
func (s *Store) SaveDraftConfig(ctx context.Context, projectID int64, cfg domain.DraftConfig) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO draft_configs (project_id, word_goal, tone, refinement, include_summary, include_highlights)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			word_goal = excluded.word_goal,
			tone = excluded.tone,
			refinement = excluded.refinement,
			include_summary = excluded.include_summary,
			include_highlights = excluded.include_highlights
	`, projectID, cfg.WordGoal, cfg.Tone, cfg.Refinement,
		boolToInt(cfg.IncludeSummary), boolToInt(cfg.IncludeHighlights)); err != nil {
		return fmt.Errorf("save draft config: %w", err)
	}
	s.notifier.Notify(TopicProjects)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var createdAt, updatedAt int64
	var isActive int
	err := row.Scan(&p.ID, &p.Title, &p.Tags, &p.LinkedLectureIDs, &createdAt, &updatedAt, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, ErrNotFound
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("scan project: %w", err)
	}
	p.CreatedAt = timeFromUnix(createdAt)
	p.UpdatedAt = timeFromUnix(updatedAt)
	p.IsActive = isActive != 0
	return p, nil
}
