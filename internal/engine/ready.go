package engine

import (
	"context"
	"database/sql"
	"slices"
	"strconv"
	"strings"

	"stepline/internal/domain"
	"stepline/internal/repo"
	"stepline/internal/tree"
)

// Limit <= 0 returns everything.
type ReadyOptions struct {
	ScopeID string
	ActorID string
	Types   []domain.ItemType
	Limit   int
}

type ReadyItem struct {
	Item   domain.Item   `json:"item"`
	Status domain.Status `json:"status"`
}

// resolver is scoped to one actor and one query.
type resolver struct {
	idx      *tree.Index
	blocks   map[string][]string
	progress repo.ProgressSet
	memo     map[string]bool
}

func (e Engine) newResolver(ctx context.Context, tx *sql.Tx, rootID, actorID string) (*resolver, error) {
	items, err := e.Repo.ListTree(ctx, tx, rootID)
	if err != nil {
		return nil, err
	}
	edges, err := e.Repo.ListTreeEdges(ctx, tx, rootID, domain.EdgeBlocks)
	if err != nil {
		return nil, err
	}
	progress, err := e.Repo.ProgressForTree(ctx, tx, rootID, actorID)
	if err != nil {
		return nil, err
	}
	r := &resolver{
		idx:      tree.New(items, e.cfg().Ready.MaxDepth),
		blocks:   map[string][]string{},
		progress: progress,
		memo:     map[string]bool{},
	}
	for _, edge := range edges {
		r.blocks[edge.FromID] = append(r.blocks[edge.FromID], edge.ToID)
	}
	return r, nil
}

func (r *resolver) status(id string) domain.Status {
	return r.progress.Status(id)
}

func (r *resolver) openBlockers(id string) []string {
	var res []string
	for _, to := range r.blocks[id] {
		if r.status(to) != domain.StatusClosed {
			res = append(res, to)
		}
	}
	return res
}

func (r *resolver) selfReady(id string) bool {
	switch r.status(id) {
	case domain.StatusOpen, domain.StatusInProgress:
	default:
		return false
	}
	return len(r.openBlockers(id)) == 0
}

func (r *resolver) ready(id string) (bool, error) {
	if v, ok := r.memo[id]; ok {
		return v, nil
	}
	chain, err := r.idx.Ancestors(id)
	if err != nil {
		return false, err
	}
	ok := true
	for i := len(chain) - 1; i >= 0; i-- {
		a := chain[i]
		if v, seen := r.memo[a]; seen {
			ok = v
			continue
		}
		ok = ok && r.selfReady(a)
		r.memo[a] = ok
	}
	ok = ok && r.selfReady(id)
	r.memo[id] = ok
	return ok, nil
}

// blockers: own open targets first, then ancestors nearest first.
func (r *resolver) blockers(id string) ([]domain.Item, error) {
	seen := map[string]bool{}
	var ids []string
	add := func(v string) {
		if !seen[v] {
			seen[v] = true
			ids = append(ids, v)
		}
	}
	for _, b := range r.openBlockers(id) {
		add(b)
	}
	chain, err := r.idx.Ancestors(id)
	if err != nil {
		return nil, err
	}
	for _, a := range chain {
		open := r.openBlockers(a)
		for _, b := range open {
			add(b)
		}
		if len(open) == 0 && !r.selfReady(a) {
			add(a)
		}
	}
	res := make([]domain.Item, 0, len(ids))
	for _, v := range ids {
		if it, ok := r.idx.Get(v); ok {
			res = append(res, it)
		}
	}
	return res, nil
}

// ReadyWork never returns the scope item itself.
func (e Engine) ReadyWork(ctx context.Context, opts ReadyOptions) ([]ReadyItem, error) {
	if opts.ActorID == "" {
		return nil, domain.Errorf(domain.KindInvalid, "actor_id is required")
	}
	for _, t := range opts.Types {
		if !t.Valid() {
			return nil, domain.Errorf(domain.KindInvalid, "unknown item type %q", t)
		}
	}
	tx, err := e.beginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	scope, err := e.Repo.GetItem(ctx, tx, opts.ScopeID)
	if err != nil {
		return nil, err
	}
	r, err := e.newResolver(ctx, tx, scope.RootID, opts.ActorID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	var res []ReadyItem
	for _, id := range r.idx.Descendants(scope.ID) {
		it, _ := r.idx.Get(id)
		if len(opts.Types) > 0 && !slices.Contains(opts.Types, it.Type) {
			continue
		}
		ok, err := r.ready(id)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, ReadyItem{Item: it, Status: r.status(id)})
		}
	}
	sortReady(res)
	if opts.Limit > 0 && len(res) > opts.Limit {
		res = res[:opts.Limit]
	}
	return res, nil
}

func sortReady(items []ReadyItem) {
	slices.SortFunc(items, func(a, b ReadyItem) int {
		ai, bi := a.Status == domain.StatusInProgress, b.Status == domain.StatusInProgress
		if ai != bi {
			if ai {
				return -1
			}
			return 1
		}
		if a.Item.Priority != b.Item.Priority {
			return a.Item.Priority - b.Item.Priority
		}
		if da, db := a.Item.Depth(), b.Item.Depth(); da != db {
			return da - db
		}
		return compareIDs(a.Item.ID, b.Item.ID)
	})
}

// compareIDs sorts x.2 before x.10.
func compareIDs(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			return an - bn
		}
		return strings.Compare(as[i], bs[i])
	}
	return len(as) - len(bs)
}
