package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"stepline/internal/config"
	"stepline/internal/domain"
	"stepline/internal/events"
	"stepline/internal/repo"
	"stepline/internal/validator"
)

type Engine struct {
	DB        *sql.DB
	ReadDB    *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Validator validator.Validator
	Log       *slog.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{Now: time.Now},
		Config:    cfg,
		Validator: validator.Rules{DefaultMinLength: cfg.Validation.MinLength},
		Log:       slog.Default().With(slog.String("component", "engine")),
		Now:       time.Now,
	}
}

// WithReader sends read-only operations to db.
func (e Engine) WithReader(db *sql.DB) Engine {
	e.ReadDB = db
	e.Repo.DB = db
	return e
}

func (e Engine) reader() *sql.DB {
	if e.ReadDB != nil {
		return e.ReadDB
	}
	return e.DB
}

func (e Engine) beginRead(ctx context.Context) (*sql.Tx, error) {
	return e.reader().BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) validator() validator.Validator {
	if e.Validator != nil {
		return e.Validator
	}
	return validator.Rules{DefaultMinLength: e.cfg().Validation.MinLength}
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// CreateItemOptions: an empty ParentID creates a new tree root.
type CreateItemOptions struct {
	ParentID string
	Type     domain.ItemType
	Title    string
	Content  string
	Priority *int
	Criteria *domain.Criteria
	ActorID  string
}

const defaultPriority = 2

func (e Engine) CreateItem(ctx context.Context, opts CreateItemOptions) (domain.Item, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	it, err := e.createItemTx(ctx, tx, opts)
	if err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

func (e Engine) createItemTx(ctx context.Context, tx *sql.Tx, opts CreateItemOptions) (domain.Item, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Item{}, domain.Errorf(domain.KindInvalid, "title is required")
	}
	if opts.Type == "" {
		opts.Type = domain.ItemUnit
		if opts.ParentID == "" {
			opts.Type = domain.ItemRoot
		}
	}
	if !opts.Type.Valid() {
		return domain.Item{}, domain.Errorf(domain.KindInvalid, "unknown item type %q", opts.Type)
	}
	if err := validator.CheckCriteria(opts.Criteria); err != nil {
		return domain.Item{}, err
	}
	priority := defaultPriority
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	if priority < 0 {
		return domain.Item{}, domain.Errorf(domain.KindInvalid, "priority must be >= 0")
	}
	it := domain.Item{
		Type:      opts.Type,
		Title:     title,
		Content:   opts.Content,
		Priority:  priority,
		Criteria:  opts.Criteria,
		CreatedAt: e.nowString(),
	}
	if opts.ParentID == "" {
		id, err := e.newRootID(ctx, tx)
		if err != nil {
			return domain.Item{}, err
		}
		it.ID = id
		it.RootID = id
	} else {
		parent, err := e.Repo.GetItem(ctx, tx, opts.ParentID)
		if err != nil {
			return domain.Item{}, err
		}
		seq, err := e.Repo.NextChildSeq(ctx, tx, parent.ID)
		if err != nil {
			return domain.Item{}, err
		}
		it.ID = fmt.Sprintf("%s.%d", parent.ID, seq)
		it.ParentID = &parent.ID
		it.RootID = parent.RootID
	}
	if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
		return domain.Item{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ItemCreated, it.RootID, "item", it.ID, opts.ActorID, events.EventPayload{
		"title": it.Title,
		"type":  it.Type,
	}); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

func (e Engine) newRootID(ctx context.Context, tx *sql.Tx) (string, error) {
	prefix := e.cfg().Items.RootPrefix
	for n := 4; n <= 32; n += 2 {
		hex := strings.ReplaceAll(uuid.NewString(), "-", "")
		id := prefix + "-" + hex[:n]
		exists, err := e.Repo.ItemExists(ctx, tx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", errors.New("could not allocate a unique root id")
}

// DeleteItem cascades to descendants, edges, progress and submissions.
func (e Engine) DeleteItem(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetItem(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteItem(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ItemDeleted, it.RootID, "item", it.ID, actorID, events.EventPayload{"title": it.Title}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log().Info("item deleted", slog.String("item_id", id), slog.String("actor_id", actorID))
	return nil
}

func (e Engine) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return e.Repo.GetItem(ctx, nil, id)
}

func (e Engine) Tree(ctx context.Context, id string) ([]domain.Item, error) {
	tx, err := e.beginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	it, err := e.Repo.GetItem(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	items, err := e.Repo.ListTree(ctx, tx, it.RootID)
	if err != nil {
		return nil, err
	}
	return items, tx.Commit()
}

func (e Engine) Roots(ctx context.Context) ([]domain.Item, error) {
	return e.Repo.ListRoots(ctx, nil)
}

// TreeNode keys must be unique within one import.
type TreeNode struct {
	Key      string
	Type     domain.ItemType
	Title    string
	Content  string
	Priority *int
	Criteria *domain.Criteria
	BlocksOn []string
	Children []TreeNode
}

type ImportResult struct {
	Root  domain.Item       `json:"root"`
	IDs   map[string]string `json:"ids"`
	Items int               `json:"items"`
	Edges int               `json:"edges"`
}

func (e Engine) ImportTree(ctx context.Context, root TreeNode, actorID string) (ImportResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ImportResult{}, err
	}
	defer tx.Rollback()

	res := ImportResult{IDs: map[string]string{}}
	type pending struct {
		fromKey string
		fromID  string
		toKeys  []string
	}
	var edges []pending
	var create func(n TreeNode, parentID string) (domain.Item, error)
	create = func(n TreeNode, parentID string) (domain.Item, error) {
		if n.Type == "" && parentID == "" {
			n.Type = domain.ItemRoot
		}
		it, err := e.createItemTx(ctx, tx, CreateItemOptions{
			ParentID: parentID,
			Type:     n.Type,
			Title:    n.Title,
			Content:  n.Content,
			Priority: n.Priority,
			Criteria: n.Criteria,
			ActorID:  actorID,
		})
		if err != nil {
			return domain.Item{}, fmt.Errorf("import %q: %w", n.Title, err)
		}
		res.Items++
		if n.Key != "" {
			if _, dup := res.IDs[n.Key]; dup {
				return domain.Item{}, domain.Errorf(domain.KindDuplicate, "import key %q used twice", n.Key)
			}
			res.IDs[n.Key] = it.ID
		}
		if len(n.BlocksOn) > 0 {
			edges = append(edges, pending{fromKey: n.Key, fromID: it.ID, toKeys: n.BlocksOn})
		}
		for _, child := range n.Children {
			if _, err := create(child, it.ID); err != nil {
				return domain.Item{}, err
			}
		}
		return it, nil
	}
	rootItem, err := create(root, "")
	if err != nil {
		return ImportResult{}, err
	}
	for _, p := range edges {
		for _, key := range p.toKeys {
			toID, ok := res.IDs[key]
			if !ok {
				return ImportResult{}, domain.Errorf(domain.KindNotFound, "import: %q blocks on unknown key %q", p.fromKey, key)
			}
			if _, err := e.addEdgeTx(ctx, tx, p.fromID, toID, domain.EdgeBlocks, actorID); err != nil {
				return ImportResult{}, err
			}
			res.Edges++
		}
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, err
	}
	res.Root = rootItem
	e.log().Info("tree imported", slog.String("root_id", rootItem.ID), slog.Int("items", res.Items), slog.Int("edges", res.Edges))
	return res, nil
}
