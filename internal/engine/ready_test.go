package engine_test

import (
	"strings"
	"testing"

	"stepline/internal/config"
	"stepline/internal/domain"
	"stepline/internal/engine"
)

func (env testEnv) readyIDs(t *testing.T, scope, actor string) []string {
	t.Helper()
	items, err := env.Engine.ReadyWork(env.Ctx, engine.ReadyOptions{ScopeID: scope, ActorID: actor})
	if err != nil {
		t.Fatalf("ready work: %v", err)
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.Item.ID)
	}
	return ids
}

func expectIDs(t *testing.T, got []string, ids map[string]string, keys ...string) {
	t.Helper()
	want := make([]string, 0, len(keys))
	for _, k := range keys {
		want = append(want, ids[k])
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("ready = %v, want %v (%v)", got, want, keys)
	}
}

func TestReadyWorkScenario(t *testing.T) {
	env := newTestEnv(t)
	ids := env.importTree(t, node("root", "Course",
		node("epicA", "EpicA", leaf("a1", "Task A1")),
		node("epicB", "EpicB", leaf("b1", "Task B1"), leaf("b2", "Task B2"))))
	if _, err := env.Engine.AddEdge(env.Ctx, ids["epicB"], ids["epicA"], domain.EdgeBlocks, "admin"); err != nil {
		t.Fatal(err)
	}
	expectIDs(t, env.readyIDs(t, ids["root"], "learner"), ids, "epicA", "a1")

	if _, err := env.Engine.StartItem(env.Ctx, ids["a1"], "learner"); err != nil {
		t.Fatalf("start a1: %v", err)
	}
	env.move(t, ids["a1"], "learner", domain.StatusClosed)
	if _, err := env.Engine.StartItem(env.Ctx, ids["epicA"], "learner"); err != nil {
		t.Fatalf("start epicA: %v", err)
	}
	env.move(t, ids["epicA"], "learner", domain.StatusClosed)

	expectIDs(t, env.readyIDs(t, ids["root"], "learner"), ids, "epicB", "b1", "b2")
	// nobody else moved
	expectIDs(t, env.readyIDs(t, ids["root"], "other"), ids, "epicA", "a1")
}

func TestReadyWorkHierarchicalBlocking(t *testing.T) {
	env := newTestEnv(t)
	ids := env.importTree(t, node("root", "Root",
		node("a", "A", leaf("c", "C"), leaf("d", "D")),
		node("b", "B", node("b1", "B1", leaf("b11", "B1.1")))))
	if _, err := env.Engine.AddEdge(env.Ctx, ids["b"], ids["a"], domain.EdgeBlocks, "admin"); err != nil {
		t.Fatal(err)
	}
	expectIDs(t, env.readyIDs(t, ids["root"], "x"), ids, "a", "c", "d")
	expectIDs(t, env.readyIDs(t, ids["root"], "y"), ids, "a", "c", "d")

	env.move(t, ids["a"], "x", domain.StatusInProgress)
	env.move(t, ids["c"], "x", domain.StatusInProgress, domain.StatusClosed)
	env.move(t, ids["d"], "x", domain.StatusInProgress, domain.StatusClosed)
	if got := env.status(t, ids["a"], "x"); got != domain.StatusClosed {
		t.Fatalf("a should auto-close, got %s", got)
	}

	expectIDs(t, env.readyIDs(t, ids["root"], "x"), ids, "b", "b1", "b11")
	expectIDs(t, env.readyIDs(t, ids["root"], "y"), ids, "a", "c", "d")
	expectIDs(t, env.readyIDs(t, ids["b"], "x"), ids, "b1", "b11")
}

func TestReadyWorkTransitiveBlocking(t *testing.T) {
	env := newTestEnv(t)
	ids := env.importTree(t, node("root", "Root", leaf("a", "A"), leaf("b", "B"), leaf("c", "C")))
	if _, err := env.Engine.AddEdge(env.Ctx, ids["b"], ids["a"], domain.EdgeBlocks, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddEdge(env.Ctx, ids["c"], ids["b"], domain.EdgeBlocks, "admin"); err != nil {
		t.Fatal(err)
	}
	expectIDs(t, env.readyIDs(t, ids["root"], "x"), ids, "a")
	env.move(t, ids["a"], "x", domain.StatusInProgress, domain.StatusClosed)
	expectIDs(t, env.readyIDs(t, ids["root"], "x"), ids, "b")
	env.move(t, ids["b"], "x", domain.StatusInProgress, domain.StatusClosed)
	expectIDs(t, env.readyIDs(t, ids["root"], "x"), ids, "c")
}

func TestReadyWorkBlockedAncestor(t *testing.T) {
	env := newTestEnv(t)
	ids := env.importTree(t, node("root", "Root", node("p", "Phase", node("u", "Unit", leaf("s", "Sub"))), leaf("q", "Q")))
	env.move(t, ids["p"], "x", domain.StatusBlocked)
	expectIDs(t, env.readyIDs(t, ids["root"], "x"), ids, "q")
	env.move(t, ids["p"], "x", domain.StatusOpen)
	expectIDs(t, env.readyIDs(t, ids["root"], "x"), ids, "p", "q", "u", "s")
}

func TestReadyWorkOrderingAndFilters(t *testing.T) {
	env := newTestEnv(t)
	prio := func(n int) *int { return &n }
	urgent := leaf("urgent", "Urgent")
	urgent.Priority = prio(0)
	late := leaf("late", "Late")
	late.Priority = prio(3)
	busy := leaf("busy", "Busy")
	busy.Priority = prio(4)
	phase := node("phase", "Phase", leaf("inner", "Inner"))
	phase.Priority = prio(0)
	ids := env.importTree(t, node("root", "Root", late, urgent, busy, phase))
	env.move(t, ids["busy"], "x", domain.StatusInProgress)

	// in-progress first, then priority, then depth
	expectIDs(t, env.readyIDs(t, ids["root"], "x"), ids, "busy", "urgent", "phase", "inner", "late")

	items, err := env.Engine.ReadyWork(env.Ctx, engine.ReadyOptions{ScopeID: ids["root"], ActorID: "x", Types: []domain.ItemType{domain.ItemUnit}, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Item.ID != ids["busy"] || items[0].Status != domain.StatusInProgress || items[1].Item.ID != ids["urgent"] {
		t.Fatalf("unexpected filtered result %+v", items)
	}
	_, err = env.Engine.ReadyWork(env.Ctx, engine.ReadyOptions{ScopeID: ids["root"], ActorID: "x", Types: []domain.ItemType{"EPIC"}})
	wantKind(t, err, domain.KindInvalid)
	_, err = env.Engine.ReadyWork(env.Ctx, engine.ReadyOptions{ScopeID: "missing", ActorID: "x"})
	wantKind(t, err, domain.KindNotFound)
}

func TestGetReadyWorkDefaultLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Ready.DefaultLimit = 2 })
	ids := env.importTree(t, node("root", "Root", leaf("a", "A"), leaf("b", "B"), leaf("c", "C")))
	items, err := env.Engine.GetReadyWork(env.Ctx, ids["root"], "x", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected default limit 2, got %d", len(items))
	}
	items, err = env.Engine.GetReadyWork(env.Ctx, ids["root"], "x", nil, 3)
	if err != nil || len(items) != 3 {
		t.Fatalf("explicit limit: %d %v", len(items), err)
	}
}

func TestReadyWorkDepthGuard(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Ready.MaxDepth = 2 })
	ids := env.importTree(t, node("root", "Root", node("a", "A", node("b", "B", leaf("c", "C")))))
	_, err := env.Engine.ReadyWork(env.Ctx, engine.ReadyOptions{ScopeID: ids["root"], ActorID: "x"})
	wantKind(t, err, domain.KindInvalid)
}
