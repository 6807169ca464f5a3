package ingest_test

import (
	"context"
	"testing"

	"stepline/internal/config"
	"stepline/internal/db"
	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/ingest"
	"stepline/internal/migrate"
)

const course = `
title: Intro to Graphs
children:
  - key: basics
    title: Basics
    children:
      - title: Vertices
      - title: Edges
        priority: 1
  - key: search
    title: Search
    blocks_on: [basics]
    criteria:
      mode: evidence
      min_length: 20
    children:
      - title: BFS
        children:
          - title: Queue drill
`

func TestParseDefaults(t *testing.T) {
	root, err := ingest.Parse([]byte(course))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if root.Type != domain.ItemRoot || len(root.Children) != 2 {
		t.Fatalf("unexpected root %+v", root)
	}
	basics := root.Children[0]
	if basics.Type != domain.ItemPhase || basics.Children[0].Type != domain.ItemUnit {
		t.Fatalf("unexpected types %s %s", basics.Type, basics.Children[0].Type)
	}
	if p := basics.Children[1].Priority; p == nil || *p != 1 {
		t.Fatalf("priority lost: %v", p)
	}
	search := root.Children[1]
	if !search.Criteria.RequiresEvidence() || search.BlocksOn[0] != "basics" {
		t.Fatalf("search node lost fields: %+v", search)
	}
	if got := search.Children[0].Children[0].Type; got != domain.ItemSubunit {
		t.Fatalf("deep node type = %s", got)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": "title: X\ncolour: red\n",
		"no title":      "title: X\nchildren:\n  - key: a\n",
		"bad type":      "title: X\ntype: EPIC\n",
		"keyless edge":  "title: X\nchildren:\n  - title: A\n    blocks_on: [b]\n",
	}
	for name, doc := range cases {
		if _, err := ingest.Parse([]byte(doc)); domain.KindOf(err) != domain.KindInvalid {
			t.Fatalf("%s: expected invalid error, got %v", name, err)
		}
	}
}

func TestImportParsedTree(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatal(err)
	}
	eng := engine.New(conn, config.Default())
	root, err := ingest.Parse([]byte(course))
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.ImportTree(ctx, root, "admin")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Items != 7 || res.Edges != 1 {
		t.Fatalf("unexpected counts %+v", res)
	}
	deps, err := eng.Dependencies(ctx, res.IDs["search"], domain.EdgeBlocks)
	if err != nil || len(deps) != 1 || deps[0].ToID != res.IDs["basics"] {
		t.Fatalf("edge not imported: %+v %v", deps, err)
	}
	if ingest.Summary(res) == "" {
		t.Fatalf("empty summary")
	}
}
