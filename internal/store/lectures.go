package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"voicedraft/internal/domain"
)

// InsertLecture persists a newly recorded lecture.
func (s *Store) InsertLecture(ctx context.Context, lecture domain.Lecture) (domain.Lecture, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lectures (title, transcription, duration_seconds, word_count, project_id, created_at, updated_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
	`, lecture.Title, lecture.Transcription, lecture.DurationSeconds, lecture.WordCount, lecture.ProjectID, ts, ts)
	if err != nil {
		return domain.Lecture{}, fmt.Errorf("insert lecture: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Lecture{}, fmt.Errorf("lecture insert id: %w", err)
	}

	lecture.ID = id
	lecture.CreatedAt = timeFromUnix(ts)
	lecture.UpdatedAt = timeFromUnix(ts)
	lecture.IsActive = true
	s.notifier.Notify(TopicLectures)
	return lecture, nil
}

// Lecture returns one lecture by id, deleted or not.
func (s *Store) Lecture(ctx context.Context, id int64) (domain.Lecture, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, transcription, duration_seconds, word_count, project_id, created_at, updated_at, is_active
		FROM lectures
		WHERE id = ?
	`, id)
	return scanLecture(row)
}

// ActiveLectures returns all non-deleted lectures, newest first.
func (s *Store) ActiveLectures(ctx context.Context) ([]domain.Lecture, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, transcription, duration_seconds, word_count, project_id, created_at, updated_at, is_active
		FROM lectures
		WHERE is_active = 1
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query lectures: %w", err)
	}
	defer rows.Close()

	var lectures []domain.Lecture
	for rows.Next() {
		lecture, err := scanLecture(rows)
		if err != nil {
			return nil, err
		}
		lectures = append(lectures, lecture)
	}
	return lectures, rows.Err()
}

// SoftDeleteLecture hides a lecture without removing its rows.
func (s *Store) SoftDeleteLecture(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lectures SET is_active = 0, updated_at = ? WHERE id = ?
	`, now(), id)
	if err != nil {
		return fmt.Errorf("soft delete lecture: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notifier.Notify(TopicLectures)
	return nil
}

// DeleteLecture permanently removes a lecture. Outputs go with it via
// cascade, and if a project links the lecture, the id is removed from the
// project's serialized link list in the same transaction.
func (s *Store) DeleteLecture(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete lecture: %w", err)
	}
	defer tx.Rollback()

	var projectID sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT project_id FROM lectures WHERE id = ?`, id).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read lecture project: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lectures WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete lecture: %w", err)
	}

	if projectID.Valid {
		var linked string
		err := tx.QueryRowContext(ctx, `
			SELECT linked_lecture_ids FROM projects WHERE id = ?
		`, projectID.Int64).Scan(&linked)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read project links: %w", err)
		}
		if err == nil {
			if _, execErr := tx.ExecContext(ctx, `
				UPDATE projects SET linked_lecture_ids = ?, updated_at = ? WHERE id = ?
			`, removeLinkedID(linked, id), now(), projectID.Int64); execErr != nil {
				return fmt.Errorf("unlink lecture from project: %w", execErr)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete lecture: %w", err)
	}
	s.notifier.Notify(TopicLectures)
	s.notifier.Notify(TopicOutputs)
	if projectID.Valid {
		s.notifier.Notify(TopicProjects)
	}
	return nil
}

// UpsertOutput writes one generated artifact, replacing any previous content
// for the same (lecture, type) pair.
func (s *Store) UpsertOutput(ctx context.Context, output domain.LectureOutput) (domain.LectureOutput, error) {
	ts := now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO lecture_outputs (lecture_id, output_type, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(lecture_id, output_type) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at
	`, output.LectureID, output.Type, output.Content, ts, ts); err != nil {
		return domain.LectureOutput{}, fmt.Errorf("upsert output: %w", err)
	}

	stored, err := s.OutputByType(ctx, output.LectureID, output.Type)
	if err != nil {
		return domain.LectureOutput{}, err
	}
	if stored == nil {
		return domain.LectureOutput{}, ErrNotFound
	}
	s.notifier.Notify(TopicOutputs)
	return *stored, nil
}

// OutputsForLecture returns whichever artifacts exist, in display order.
// Missing types are simply absent.
func (s *Store) OutputsForLecture(ctx context.Context, lectureID int64) ([]domain.LectureOutput, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lecture_id, output_type, content, created_at, updated_at
		FROM lecture_outputs
		WHERE lecture_id = ?
		ORDER BY CASE output_type
			WHEN 'overview' THEN 0
			WHEN 'notes' THEN 1
			ELSE 2
		END
	`, lectureID)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	defer rows.Close()

	var outputs []domain.LectureOutput
	for rows.Next() {
		output, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, output)
	}
	return outputs, rows.Err()
}

// OutputByType returns one artifact, or nil when it has not been generated.
func (s *Store) OutputByType(ctx context.Context, lectureID int64, outputType domain.OutputType) (*domain.LectureOutput, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, lecture_id, output_type, content, created_at, updated_at
		FROM lecture_outputs
		WHERE lecture_id = ? AND output_type = ?
	`, lectureID, outputType)

	output, err := scanOutput(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &output, nil
}

// removeLinkedID drops one id from a comma-separated id list, preserving the
// order of the rest.
func removeLinkedID(linked string, id int64) string {
	target := strconv.FormatInt(id, 10)
	var kept []string
	for _, part := range strings.Split(linked, ",") {
		part = strings.TrimSpace(part)
		if part != "" && part != target {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, ",")
}

func scanLecture(row rowScanner) (domain.Lecture, error) {
	var l domain.Lecture
	var projectID sql.NullInt64
	var createdAt, updatedAt int64
	var isActive int
	err := row.Scan(&l.ID, &l.Title, &l.Transcription, &l.DurationSeconds, &l.WordCount,
		&projectID, &createdAt, &updatedAt, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Lecture{}, ErrNotFound
	}
	if err != nil {
		return domain.Lecture{}, fmt.Errorf("scan lecture: %w", err)
	}
	if projectID.Valid {
		l.ProjectID = &projectID.Int64
	}
	l.CreatedAt = timeFromUnix(createdAt)
	l.UpdatedAt = timeFromUnix(updatedAt)
	l.IsActive = isActive != 0
	return l, nil
}

func scanOutput(row rowScanner) (domain.LectureOutput, error) {
	var o domain.LectureOutput
	var createdAt, updatedAt int64
	err := row.Scan(&o.ID, &o.LectureID, &o.Type, &o.Content, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LectureOutput{}, ErrNotFound
	}
	if err != nil {
		return domain.LectureOutput{}, fmt.Errorf("scan output: %w", err)
	}
	o.CreatedAt = timeFromUnix(createdAt)
	o.UpdatedAt = timeFromUnix(updatedAt)
	return o, nil
}
