package repo

import (
	"context"
	"database/sql"
	"errors"

	"stepline/internal/domain"
)

func scanEdges(rows *sql.Rows) ([]domain.Edge, error) {
	defer rows.Close()
	var res []domain.Edge
	for rows.Next() {
		var e domain.Edge
		var kind string
		if err := rows.Scan(&e.FromID, &e.ToID, &kind, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = domain.EdgeKind(kind)
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) InsertEdge(ctx context.Context, q Querier, e domain.Edge) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO edges(from_id,to_id,kind,created_at) VALUES (?,?,?,?)`,
		e.FromID, e.ToID, string(e.Kind), e.CreatedAt)
	return err
}

func (r Repo) EdgeExists(ctx context.Context, q Querier, from, to string, kind domain.EdgeKind) (bool, error) {
	var n int
	err := r.q(q).QueryRowContext(ctx, `SELECT 1 FROM edges WHERE from_id=? AND to_id=? AND kind=?`, from, to, string(kind)).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// DeleteEdges removes every edge from -> to regardless of kind and returns
// what was removed.
func (r Repo) DeleteEdges(ctx context.Context, q Querier, from, to string) ([]domain.Edge, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT from_id,to_id,kind,created_at FROM edges WHERE from_id=? AND to_id=?`, from, to)
	if err != nil {
		return nil, err
	}
	removed, err := scanEdges(rows)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, domain.Errorf(domain.KindNotFound, "edge %s -> %s not found", from, to)
	}
	if _, err := r.q(q).ExecContext(ctx, `DELETE FROM edges WHERE from_id=? AND to_id=?`, from, to); err != nil {
		return nil, err
	}
	return removed, nil
}

// ListOutgoing returns edges leaving itemID; an empty kind means all kinds.
func (r Repo) ListOutgoing(ctx context.Context, q Querier, itemID string, kind domain.EdgeKind) ([]domain.Edge, error) {
	query := `SELECT from_id,to_id,kind,created_at FROM edges WHERE from_id=?`
	args := []any{itemID}
	if kind != "" {
		query += ` AND kind=?`
		args = append(args, string(kind))
	}
	rows, err := r.q(q).QueryContext(ctx, query+` ORDER BY to_id, kind`, args...)
	if err != nil {
		return nil, err
	}
	return scanEdges(rows)
}

// ListIncoming returns edges pointing at itemID; an empty kind means all kinds.
func (r Repo) ListIncoming(ctx context.Context, q Querier, itemID string, kind domain.EdgeKind) ([]domain.Edge, error) {
	query := `SELECT from_id,to_id,kind,created_at FROM edges WHERE to_id=?`
	args := []any{itemID}
	if kind != "" {
		query += ` AND kind=?`
		args = append(args, string(kind))
	}
	rows, err := r.q(q).QueryContext(ctx, query+` ORDER BY from_id, kind`, args...)
	if err != nil {
		return nil, err
	}
	return scanEdges(rows)
}

// ListTreeEdges returns the edges of one kind whose source belongs to rootID.
func (r Repo) ListTreeEdges(ctx context.Context, q Querier, rootID string, kind domain.EdgeKind) ([]domain.Edge, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT e.from_id,e.to_id,e.kind,e.created_at FROM edges e
JOIN items i ON i.id=e.from_id
WHERE i.root_id=? AND e.kind=?
ORDER BY e.from_id, e.to_id`, rootID, string(kind))
	if err != nil {
		return nil, err
	}
	return scanEdges(rows)
}
