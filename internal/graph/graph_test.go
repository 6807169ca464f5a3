package graph

import (
	"reflect"
	"testing"
)

func TestWouldCycle(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	cases := []struct {
		from, to string
		want     bool
	}{
		{"a", "a", true},
		{"b", "a", true},
		{"c", "a", true},
		{"c", "b", true},
		{"a", "c", false},
		{"d", "a", false},
		{"a", "d", false},
	}
	for _, tc := range cases {
		if got := g.WouldCycle(tc.from, tc.to); got != tc.want {
			t.Fatalf("WouldCycle(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestReachesIgnoresEmptyPath(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	if g.Reaches("a", "a") {
		t.Fatalf("a should not reach itself without a cycle")
	}
	if !g.Reaches("a", "b") {
		t.Fatalf("a should reach b")
	}
}

func TestCyclesAcyclic(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("a", "c")
	if got := g.Cycles(); len(got) != 0 {
		t.Fatalf("expected no cycles, got %v", got)
	}
}

func TestCyclesCanonical(t *testing.T) {
	g := New()
	g.AddEdge("c", "a")
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("b", "a")
	g.AddEdge("x", "x")
	got := g.Cycles()
	want := [][]string{{"a", "b"}, {"a", "b", "c"}, {"x"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("cycles = %v, want %v", got, want)
	}
}

func TestAddEdgeDeduplicates(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")
	if got := g.Cycles(); !reflect.DeepEqual(got, [][]string{{"a", "b"}}) {
		t.Fatalf("cycles = %v, want one a-b cycle", got)
	}
}
