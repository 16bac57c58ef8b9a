package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voicedraft/internal/domain"
)

// AppendTurn inserts a new turn for the project with the next sequence
// number. Numbering is assigned inside the insert transaction so concurrent
// appenders can never produce gaps or duplicates.
func (s *Store) AppendTurn(ctx context.Context, turn domain.ConversationTurn) (domain.ConversationTurn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("begin append turn: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM turns WHERE project_id = ?
	`, turn.ProjectID).Scan(&seq); err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("next sequence number: %w", err)
	}

	ts := now()
	q1, q2, q3 := questionColumns(turn.Questions)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO turns (project_id, text, question1, question2, question3, selected_question_index, sequence_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, turn.ProjectID, turn.Text, q1, q2, q3, turn.SelectedQuestionIndex, seq, ts)
	if err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("insert turn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("turn insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("commit append turn: %w", err)
	}

	turn.ID = id
	turn.SequenceNumber = seq
	turn.CreatedAt = timeFromUnix(ts)
	s.notifier.Notify(TopicTurns)
	return turn, nil
}

// UpdateTurn rewrites the pending turn's text, questions and selection in
// place. Only a turn with no finalized response may be mutated; a turn that
// already carries text is immutable, and updating it (or a missing id)
// reports ErrNotFound. Sequence numbers never change after insertion.
func (s *Store) UpdateTurn(ctx context.Context, turn domain.ConversationTurn) error {
	q1, q2, q3 := questionColumns(turn.Questions)
	res, err := s.db.ExecContext(ctx, `
		UPDATE turns
		SET text = ?, question1 = ?, question2 = ?, question3 = ?, selected_question_index = ?
		WHERE id = ? AND text = ''
	`, turn.Text, q1, q2, q3, turn.SelectedQuestionIndex, turn.ID)
	if err != nil {
		return fmt.Errorf("update turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notifier.Notify(TopicTurns)
	return nil
}

// TurnsByProject returns the project's turns in ascending sequence order.
func (s *Store) TurnsByProject(ctx context.Context, projectID int64) ([]domain.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, text, question1, question2, question3, selected_question_index, sequence_number, created_at
		FROM turns
		WHERE project_id = ?
		ORDER BY sequence_number ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.ConversationTurn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// OpenTurn returns the highest-sequence turn still waiting for a student
// response, or nil when every turn is answered. The open turn is derived, not
// stored: it is simply the newest turn with empty text.
func (s *Store) OpenTurn(ctx context.Context, projectID int64) (*domain.ConversationTurn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, text, question1, question2, question3, selected_question_index, sequence_number, created_at
		FROM turns
		WHERE project_id = ? AND text = ''
		ORDER BY sequence_number DESC
		LIMIT 1
	`, projectID)

	turn, err := scanTurn(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

func questionColumns(questions []string) (q1, q2, q3 *string) {
	at := func(i int) *string {
		if i < len(questions) && questions[i] != "" {
			q := questions[i]
			return &q
		}
		return nil
	}
	return at(0), at(1), at(2)
}

func scanTurn(row rowScanner) (domain.ConversationTurn, error) {
	var t domain.ConversationTurn
	var q1, q2, q3 sql.NullString
	var selected sql.NullInt64
	var createdAt int64
	err := row.Scan(&t.ID, &t.ProjectID, &t.Text, &q1, &q2, &q3, &selected, &t.SequenceNumber, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConversationTurn{}, ErrNotFound
	}
	if err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("scan turn: %w", err)
	}

	for _, q := range []sql.NullString{q1, q2, q3} {
		if q.Valid {
			t.Questions = append(t.Questions, q.String)
		}
	}
	if selected.Valid {
		idx := int(selected.Int64)
		t.SelectedQuestionIndex = &idx
	}
	t.CreatedAt = timeFromUnix(createdAt)
	return t, nil
}
