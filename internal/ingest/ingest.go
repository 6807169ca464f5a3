// Package ingest reads item trees from YAML (or JSON) documents.
package ingest

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"stepline/internal/domain"
	"stepline/internal/engine"
)

// Node is one item of a tree document.
type Node struct {
	Key      string           `yaml:"key,omitempty" json:"key,omitempty"`
	Title    string           `yaml:"title" json:"title"`
	Type     string           `yaml:"type,omitempty" json:"type,omitempty"`
	Content  string           `yaml:"content,omitempty" json:"content,omitempty"`
	Priority *int             `yaml:"priority,omitempty" json:"priority,omitempty"`
	Criteria *domain.Criteria `yaml:"criteria,omitempty" json:"criteria,omitempty"`
	BlocksOn []string         `yaml:"blocks_on,omitempty" json:"blocks_on,omitempty"`
	Children []Node           `yaml:"children,omitempty" json:"children,omitempty"`
}

// Parse decodes a tree document, rejecting unknown fields.
func Parse(data []byte) (engine.TreeNode, error) {
	var n Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&n); err != nil {
		return engine.TreeNode{}, domain.Errorf(domain.KindInvalid, "invalid tree document: %v", err)
	}
	return n.Tree()
}

// ParseFile reads and decodes the tree document at path.
func ParseFile(path string) (engine.TreeNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.TreeNode{}, err
	}
	return Parse(data)
}

// Tree converts the document into the engine's import form.
func (n Node) Tree() (engine.TreeNode, error) {
	return n.convert("")
}

func (n Node) convert(path string) (engine.TreeNode, error) {
	here := path + "/" + n.Title
	if strings.TrimSpace(n.Title) == "" {
		return engine.TreeNode{}, domain.Errorf(domain.KindInvalid, "node under %q has no title", path+"/")
	}
	typ := domain.ItemType(strings.ToUpper(strings.TrimSpace(n.Type)))
	if typ != "" && !typ.Valid() {
		return engine.TreeNode{}, domain.Errorf(domain.KindInvalid, "%s: unknown type %q", here, n.Type)
	}
	if typ == "" {
		typ = defaultType(path, len(n.Children))
	}
	out := engine.TreeNode{
		Key:      n.Key,
		Type:     typ,
		Title:    n.Title,
		Content:  n.Content,
		Priority: n.Priority,
		Criteria: n.Criteria,
		BlocksOn: n.BlocksOn,
	}
	if len(n.BlocksOn) > 0 && n.Key == "" {
		return engine.TreeNode{}, domain.Errorf(domain.KindInvalid, "%s: blocks_on needs a key on the node", here)
	}
	for _, c := range n.Children {
		child, err := c.convert(here)
		if err != nil {
			return engine.TreeNode{}, err
		}
		out.Children = append(out.Children, child)
	}
	return out, nil
}

// defaultType guesses a type from nesting when the document leaves it out.
func defaultType(parentPath string, children int) domain.ItemType {
	switch depth := strings.Count(parentPath, "/"); {
	case parentPath == "":
		return domain.ItemRoot
	case depth == 1 && children > 0:
		return domain.ItemPhase
	case depth >= 3:
		return domain.ItemSubunit
	default:
		return domain.ItemUnit
	}
}

// Summary is a one-line description of an import result.
func Summary(res engine.ImportResult) string {
	return fmt.Sprintf("imported %s %q: %d items, %d edges", res.Root.ID, res.Root.Title, res.Items, res.Edges)
}
