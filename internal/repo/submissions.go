package repo

import (
	"context"
	"database/sql"
	"errors"

	"stepline/internal/domain"
)

const submissionColumns = `id,item_id,actor_id,attempt,content,content_kind,passed,error_message,created_at`

func (r Repo) InsertSubmission(ctx context.Context, q Querier, s domain.Submission) error {
	passed := 0
	if s.Passed {
		passed = 1
	}
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO submissions(`+submissionColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ItemID, s.ActorID, s.Attempt, s.Content, s.ContentKind, passed, nullable(s.ErrorMessage), s.CreatedAt)
	return err
}

// NextAttempt returns the attempt number the actor's next submission gets.
func (r Repo) NextAttempt(ctx context.Context, q Querier, itemID, actorID string) (int, error) {
	var n int
	err := r.q(q).QueryRowContext(ctx, `SELECT COALESCE(MAX(attempt),0)+1 FROM submissions WHERE item_id=? AND actor_id=?`, itemID, actorID).Scan(&n)
	return n, err
}

func (r Repo) HasPassingSubmission(ctx context.Context, q Querier, itemID, actorID string) (bool, error) {
	var n int
	err := r.q(q).QueryRowContext(ctx, `SELECT 1 FROM submissions WHERE item_id=? AND actor_id=? AND passed=1 LIMIT 1`, itemID, actorID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListSubmissions returns the actor's attempts for an item, oldest first.
func (r Repo) ListSubmissions(ctx context.Context, q Querier, itemID, actorID string) ([]domain.Submission, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE item_id=? AND actor_id=? ORDER BY attempt ASC`, itemID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		var s domain.Submission
		var passed int
		var msg sql.NullString
		if err := rows.Scan(&s.ID, &s.ItemID, &s.ActorID, &s.Attempt, &s.Content, &s.ContentKind, &passed, &msg, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Passed = passed == 1
		if msg.Valid {
			s.ErrorMessage = msg.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
