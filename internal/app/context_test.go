package app_test

import (
	"context"
	"os"
	"testing"

	"stepline/internal/app"
	"stepline/internal/config"
	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/migrate"
)

func TestResolveRoot(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	if err := os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("course")), 0o644); err != nil {
		t.Fatal(err)
	}
	ws, err := app.OpenWorkspace(ctx, dir, nil)
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	defer ws.Close()
	if ws.Config.Items.RootPrefix != "course" {
		t.Fatalf("config not loaded: %+v", ws.Config.Items)
	}

	_, err = app.ResolveRoot(ctx, ws.Engine, "")
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected not found on empty workspace, got %v", err)
	}
	first, err := ws.Engine.CreateItem(ctx, engine.CreateItemOptions{Title: "First"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := app.ResolveRoot(ctx, ws.Engine, "")
	if err != nil || got.ID != first.ID {
		t.Fatalf("single root: %+v %v", got, err)
	}
	if _, err := ws.Engine.CreateItem(ctx, engine.CreateItemOptions{Title: "Second"}); err != nil {
		t.Fatal(err)
	}
	_, err = app.ResolveRoot(ctx, ws.Engine, "")
	if domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
	got, err = app.ResolveRoot(ctx, ws.Engine, first.ID)
	if err != nil || got.ID != first.ID {
		t.Fatalf("override: %+v %v", got, err)
	}
}

func TestOpenWorkspaceMigratesToLatest(t *testing.T) {
	ctx := context.Background()
	ws, err := app.OpenWorkspace(ctx, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	defer ws.Close()
	current, err := migrate.CurrentVersion(ctx, ws.DB)
	if err != nil {
		t.Fatal(err)
	}
	latest, err := migrate.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if latest < 1 || current != latest {
		t.Fatalf("schema version %d, latest %d", current, latest)
	}
	if _, err := ws.ReadDB.ExecContext(ctx, `DELETE FROM items`); err == nil {
		t.Fatalf("read pool accepted a write")
	}
}
