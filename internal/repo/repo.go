package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"stepline/internal/domain"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo holds the SQL for items, edges, progress, submissions and events.
// Every method takes the Querier to run on; nil means r.DB, which is the
// read pool once Engine.WithReader has been applied.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

func (r Repo) q(q Querier) Querier {
	if q == nil {
		return r.DB
	}
	return q
}

const itemColumns = `id,parent_id,root_id,type,title,content,priority,criteria_json,child_seq,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.Item, error) {
	var it domain.Item
	var parentID, content, criteria sql.NullString
	var typ string
	err := row.Scan(&it.ID, &parentID, &it.RootID, &typ, &it.Title, &content, &it.Priority, &criteria, &it.ChildSeq, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.Type = domain.ItemType(typ)
	if parentID.Valid {
		it.ParentID = &parentID.String
	}
	if content.Valid {
		it.Content = content.String
	}
	if criteria.Valid && criteria.String != "" {
		var c domain.Criteria
		if err := json.Unmarshal([]byte(criteria.String), &c); err != nil {
			return it, fmt.Errorf("item %s criteria: %w", it.ID, err)
		}
		it.Criteria = &c
	}
	return it, nil
}

func (r Repo) InsertItem(ctx context.Context, q Querier, it domain.Item) error {
	criteria, err := marshalCriteria(it.Criteria)
	if err != nil {
		return err
	}
	_, err = r.q(q).ExecContext(ctx, `INSERT INTO items(id,parent_id,root_id,type,title,content,priority,criteria_json,child_seq,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		it.ID, nullableStringPtr(it.ParentID), it.RootID, string(it.Type), it.Title, nullable(it.Content), it.Priority, criteria, it.ChildSeq, it.CreatedAt)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return domain.Errorf(domain.KindDuplicate, "item %s already exists", it.ID)
	}
	return err
}

func (r Repo) GetItem(ctx context.Context, q Querier, id string) (domain.Item, error) {
	it, err := scanItem(r.q(q).QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return it, domain.Errorf(domain.KindNotFound, "item %s not found", id)
	}
	return it, err
}

func (r Repo) ItemExists(ctx context.Context, q Querier, id string) (bool, error) {
	var n int
	err := r.q(q).QueryRowContext(ctx, `SELECT 1 FROM items WHERE id=?`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) listItems(ctx context.Context, q Querier, where string, args ...any) ([]domain.Item, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+itemColumns+` FROM items `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ListTree returns every item of one tree, root included, in creation order.
func (r Repo) ListTree(ctx context.Context, q Querier, rootID string) ([]domain.Item, error) {
	return r.listItems(ctx, q, `WHERE root_id=? ORDER BY rowid`, rootID)
}

func (r Repo) ListRoots(ctx context.Context, q Querier) ([]domain.Item, error) {
	return r.listItems(ctx, q, `WHERE parent_id IS NULL ORDER BY created_at DESC, id`)
}

// NextChildSeq bumps and returns the parent's sibling counter. Counters are
// never reused, so child IDs stay unique after deletions.
func (r Repo) NextChildSeq(ctx context.Context, q Querier, parentID string) (int, error) {
	res, err := r.q(q).ExecContext(ctx, `UPDATE items SET child_seq=child_seq+1 WHERE id=?`, parentID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, domain.Errorf(domain.KindNotFound, "item %s not found", parentID)
	}
	var seq int
	if err := r.q(q).QueryRowContext(ctx, `SELECT child_seq FROM items WHERE id=?`, parentID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// DeleteItem removes an item; descendants, edges, progress and submissions
// go with it through ON DELETE CASCADE.
func (r Repo) DeleteItem(ctx context.Context, q Querier, id string) error {
	res, err := r.q(q).ExecContext(ctx, `DELETE FROM items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errorf(domain.KindNotFound, "item %s not found", id)
	}
	return nil
}

func marshalCriteria(c *domain.Criteria) (any, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
