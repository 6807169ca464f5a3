// Package graph holds the in-memory BLOCKS digraph used for cycle checks
// and audits. An edge from -> to means from cannot start until to closes.
package graph

import (
	"slices"
)

// MaxCycles caps how many cycles Cycles reports for one sweep.
const MaxCycles = 1000

type Graph struct {
	out map[string][]string
}

func New() *Graph {
	return &Graph{out: map[string][]string{}}
}

// AddEdge records from -> to. Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to string) {
	if slices.Contains(g.out[from], to) {
		return
	}
	g.out[from] = append(g.out[from], to)
	if _, ok := g.out[to]; !ok {
		g.out[to] = nil
	}
}

// Reaches reports whether target is reachable from start by following
// edges. A node does not reach itself through the empty path.
func (g *Graph) Reaches(start, target string) bool {
	visited := map[string]struct{}{start: {}}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.out[current] {
			if next == target {
				return true
			}
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}
	return false
}

// WouldCycle returns true if adding from -> to would close a directed
// cycle, including the one-node cycle of a self-edge.
func (g *Graph) WouldCycle(from, to string) bool {
	if from == to {
		return true
	}
	return g.Reaches(to, from)
}

func (g *Graph) nodes() []string {
	ids := make([]string, 0, len(g.out))
	for id := range g.out {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Cycles returns the elementary cycles of the graph. Each cycle starts at
// its smallest node ID and the list is sorted, so the result is stable
// for a given edge set. At most MaxCycles are returned.
func (g *Graph) Cycles() [][]string {
	var res [][]string
	for _, comp := range g.components() {
		if len(comp) == 1 && !slices.Contains(g.out[comp[0]], comp[0]) {
			continue
		}
		member := map[string]bool{}
		for _, id := range comp {
			member[id] = true
		}
		slices.Sort(comp)
		for _, start := range comp {
			res = g.cyclesFrom(start, member, res)
			if len(res) >= MaxCycles {
				return sortCycles(res[:MaxCycles])
			}
			// cycles through start are all found; drop it from later searches
			delete(member, start)
		}
	}
	return sortCycles(res)
}

func (g *Graph) cyclesFrom(start string, member map[string]bool, res [][]string) [][]string {
	path := []string{start}
	onPath := map[string]bool{start: true}
	var walk func(current string)
	walk = func(current string) {
		for _, next := range g.out[current] {
			if len(res) >= MaxCycles {
				return
			}
			if !member[next] {
				continue
			}
			if next == start {
				res = append(res, slices.Clone(path))
				continue
			}
			if onPath[next] {
				continue
			}
			onPath[next] = true
			path = append(path, next)
			walk(next)
			path = path[:len(path)-1]
			onPath[next] = false
		}
	}
	walk(start)
	return res
}

// components returns the strongly connected components (Tarjan).
func (g *Graph) components() [][]string {
	index := 0
	indices := map[string]int{}
	low := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	var res [][]string

	var connect func(v string)
	connect = func(v string) {
		indices[v] = index
		low[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.out[v] {
			if _, seen := indices[w]; !seen {
				connect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], indices[w])
			}
		}
		if low[v] == indices[v] {
			var comp []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			res = append(res, comp)
		}
	}
	for _, id := range g.nodes() {
		if _, seen := indices[id]; !seen {
			connect(id)
		}
	}
	return res
}

func sortCycles(cycles [][]string) [][]string {
	slices.SortFunc(cycles, func(a, b []string) int {
		return slices.Compare(a, b)
	})
	return cycles
}
