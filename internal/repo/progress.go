package repo

import (
	"context"
	"database/sql"
	"errors"

	"stepline/internal/domain"
)

const progressColumns = `item_id,actor_id,status,started_at,completed_at,close_reason,version,updated_at`

func scanProgress(row rowScanner) (domain.Progress, error) {
	var p domain.Progress
	var status string
	var started, completed, reason sql.NullString
	if err := row.Scan(&p.ItemID, &p.ActorID, &status, &started, &completed, &reason, &p.Version, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.Status = domain.Status(status)
	if started.Valid {
		p.StartedAt = &started.String
	}
	if completed.Valid {
		p.CompletedAt = &completed.String
	}
	if reason.Valid {
		p.CloseReason = &reason.String
	}
	p.Persisted = true
	return p, nil
}

// GetProgress returns the stored record or, when the pair was never
// touched, the implicit OPEN record. This is the only read path for a
// single pair.
func (r Repo) GetProgress(ctx context.Context, q Querier, itemID, actorID string) (domain.Progress, error) {
	p, err := scanProgress(r.q(q).QueryRowContext(ctx, `SELECT `+progressColumns+` FROM progress WHERE item_id=? AND actor_id=?`, itemID, actorID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultProgress(itemID, actorID), nil
	}
	return p, err
}

// EnsureProgress materializes the OPEN row for a pair if missing and
// returns the stored record.
func (r Repo) EnsureProgress(ctx context.Context, q Querier, itemID, actorID, now string) (domain.Progress, error) {
	if _, err := r.q(q).ExecContext(ctx, `INSERT INTO progress(item_id,actor_id,status,version,updated_at) VALUES (?,?,?,1,?)
ON CONFLICT(item_id,actor_id) DO NOTHING`, itemID, actorID, string(domain.StatusOpen), now); err != nil {
		return domain.Progress{}, err
	}
	return scanProgress(r.q(q).QueryRowContext(ctx, `SELECT `+progressColumns+` FROM progress WHERE item_id=? AND actor_id=?`, itemID, actorID))
}

// UpdateProgress writes p only if the stored version still equals
// p.Version, bumping it. A lost race yields ErrConflict.
func (r Repo) UpdateProgress(ctx context.Context, q Querier, p domain.Progress) (domain.Progress, error) {
	res, err := r.q(q).ExecContext(ctx, `UPDATE progress SET status=?, started_at=?, completed_at=?, close_reason=?, version=version+1, updated_at=?
WHERE item_id=? AND actor_id=? AND version=?`,
		string(p.Status), nullableStringPtr(p.StartedAt), nullableStringPtr(p.CompletedAt), nullableStringPtr(p.CloseReason), p.UpdatedAt,
		p.ItemID, p.ActorID, p.Version)
	if err != nil {
		return p, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return p, err
	}
	if n == 0 {
		return p, domain.ErrConflict
	}
	p.Version++
	p.Persisted = true
	return p, nil
}

// ProgressSet is one actor's progress over a tree. Lookups of untouched
// items yield OPEN.
type ProgressSet struct {
	ActorID string
	records map[string]domain.Progress
}

func (s ProgressSet) Get(itemID string) domain.Progress {
	if p, ok := s.records[itemID]; ok {
		return p
	}
	return domain.DefaultProgress(itemID, s.ActorID)
}

func (s ProgressSet) Status(itemID string) domain.Status {
	return s.Get(itemID).Status
}

// ProgressForTree loads every stored record of actorID within rootID.
func (r Repo) ProgressForTree(ctx context.Context, q Querier, rootID, actorID string) (ProgressSet, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT p.item_id,p.actor_id,p.status,p.started_at,p.completed_at,p.close_reason,p.version,p.updated_at
FROM progress p JOIN items i ON i.id=p.item_id
WHERE i.root_id=? AND p.actor_id=?`, rootID, actorID)
	if err != nil {
		return ProgressSet{}, err
	}
	defer rows.Close()
	set := ProgressSet{ActorID: actorID, records: map[string]domain.Progress{}}
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return ProgressSet{}, err
		}
		set.records[p.ItemID] = p
	}
	return set, rows.Err()
}

// ChildStatus pairs a direct child with the actor's status for it.
type ChildStatus struct {
	ID     string
	Title  string
	Status domain.Status
}

func (r Repo) ChildStatuses(ctx context.Context, q Querier, parentID, actorID string) ([]ChildStatus, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT i.id, i.title, COALESCE(p.status, ?) FROM items i
LEFT JOIN progress p ON p.item_id=i.id AND p.actor_id=?
WHERE i.parent_id=? ORDER BY i.rowid`, string(domain.StatusOpen), actorID, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ChildStatus
	for rows.Next() {
		var c ChildStatus
		var status string
		if err := rows.Scan(&c.ID, &c.Title, &status); err != nil {
			return nil, err
		}
		c.Status = domain.Status(status)
		res = append(res, c)
	}
	return res, rows.Err()
}
