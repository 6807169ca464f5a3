// Package tree indexes one item tree by parent so ancestor and descendant
// walks are bounded in-memory traversals.
package tree

import (
	"stepline/internal/domain"
)

type Index struct {
	items    map[string]domain.Item
	children map[string][]string
	order    []string
	maxDepth int
}

// New indexes items, keeping their input order for children lists.
// maxDepth <= 0 disables the depth guard.
func New(items []domain.Item, maxDepth int) *Index {
	idx := &Index{
		items:    make(map[string]domain.Item, len(items)),
		children: map[string][]string{},
		maxDepth: maxDepth,
	}
	for _, it := range items {
		idx.items[it.ID] = it
		idx.order = append(idx.order, it.ID)
		if it.ParentID != nil {
			idx.children[*it.ParentID] = append(idx.children[*it.ParentID], it.ID)
		}
	}
	return idx
}

func (idx *Index) Get(id string) (domain.Item, bool) {
	it, ok := idx.items[id]
	return it, ok
}

func (idx *Index) Children(id string) []string {
	return idx.children[id]
}

// Parent returns the parent ID if the parent is part of the index.
func (idx *Index) Parent(id string) (string, bool) {
	it, ok := idx.items[id]
	if !ok || it.ParentID == nil {
		return "", false
	}
	if _, ok := idx.items[*it.ParentID]; !ok {
		return "", false
	}
	return *it.ParentID, true
}

// Ancestors returns the chain from the parent up to the topmost indexed
// ancestor. It fails with an invalid error once the chain exceeds the
// depth guard, which also stops a corrupt parent loop.
func (idx *Index) Ancestors(id string) ([]string, error) {
	var res []string
	current := id
	for {
		parent, ok := idx.Parent(current)
		if !ok {
			return res, nil
		}
		res = append(res, parent)
		if idx.maxDepth > 0 && len(res) > idx.maxDepth {
			return nil, domain.Errorf(domain.KindInvalid, "item %s is nested deeper than %d levels", id, idx.maxDepth).
				With("max_depth", idx.maxDepth)
		}
		if len(res) > len(idx.order) {
			return nil, domain.Errorf(domain.KindInvalid, "parent chain of %s loops", id)
		}
		current = parent
	}
}

// Descendants returns every item below id, depth first, in child order.
func (idx *Index) Descendants(id string) []string {
	var res []string
	var walk func(string)
	walk = func(parent string) {
		for _, child := range idx.children[parent] {
			res = append(res, child)
			walk(child)
		}
	}
	walk(id)
	return res
}
