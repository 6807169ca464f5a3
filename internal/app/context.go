package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"stepline/internal/config"
	"stepline/internal/db"
	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/migrate"
)

// Workspace bundles what a command needs: the open store, the loaded
// config and an engine over both.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	ReadDB *sql.DB
	Config *config.Config
	Engine engine.Engine
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	var readErr error
	if w.ReadDB != nil {
		readErr = w.ReadDB.Close()
	}
	if err := w.DB.Close(); err != nil {
		return err
	}
	return readErr
}

// OpenWorkspace opens the workspace database, applies pending migrations
// and loads stepline.yml, falling back to defaults when the file is absent.
func OpenWorkspace(ctx context.Context, dir string, logger *slog.Logger) (*Workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	reader, err := db.OpenReader(db.Config{Workspace: dir})
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng := engine.New(conn, cfg).WithReader(reader)
	if logger != nil {
		eng.Log = logger.With(slog.String("component", "engine"))
	}
	return &Workspace{Dir: dir, DB: conn, ReadDB: reader, Config: cfg, Engine: eng}, nil
}

// ResolveRoot picks the tree a command works on. It prefers the override
// and otherwise falls back to the only tree in the workspace.
func ResolveRoot(ctx context.Context, eng engine.Engine, override string) (domain.Item, error) {
	if override != "" {
		it, err := eng.GetItem(ctx, override)
		if err != nil {
			return domain.Item{}, err
		}
		return it, nil
	}
	roots, err := eng.Roots(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	switch len(roots) {
	case 0:
		return domain.Item{}, domain.Errorf(domain.KindNotFound, "no trees in workspace; import one with sl import --file <path>")
	case 1:
		return roots[0], nil
	default:
		return domain.Item{}, domain.Errorf(domain.KindInvalid, "%d trees in workspace; choose one with --root", len(roots))
	}
}
