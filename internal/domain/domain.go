package domain

import "strings"

type ItemType string

const (
	ItemRoot    ItemType = "ROOT"
	ItemPhase   ItemType = "PHASE"
	ItemUnit    ItemType = "UNIT"
	ItemSubunit ItemType = "SUBUNIT"
)

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	switch t {
	case ItemRoot, ItemPhase, ItemUnit, ItemSubunit:
		return true
	}
	return false
}

type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusBlocked    Status = "BLOCKED"
	StatusClosed     Status = "CLOSED"
)

// Valid reports whether s is one of the four progress statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed:
		return true
	}
	return false
}

// ParseStatus accepts any casing and '-' in place of '_'.
func ParseStatus(in string) (Status, error) {
	s := Status(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(in), "-", "_")))
	if !s.Valid() {
		return "", Errorf(KindInvalid, "unknown status %q", in)
	}
	return s, nil
}

type EdgeKind string

const (
	EdgeBlocks  EdgeKind = "BLOCKS"
	EdgeRelated EdgeKind = "RELATED"
)

func (k EdgeKind) Valid() bool {
	return k == EdgeBlocks || k == EdgeRelated
}

// Criteria modes.
const (
	CriteriaNone      = "none"
	CriteriaAggregate = "aggregate"
	CriteriaEvidence  = "evidence"
)

// Criteria describes what an item needs before it may close.
type Criteria struct {
	Mode         string   `json:"mode" yaml:"mode" enum:"none,aggregate,evidence"`
	ContentKinds []string `json:"content_kinds,omitempty" yaml:"content_kinds,omitempty"`
	MinLength    int      `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MustInclude  []string `json:"must_include,omitempty" yaml:"must_include,omitempty"`
	Pattern      string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// RequiresEvidence is true when closing needs a passing submission
// rather than only closed children.
func (c *Criteria) RequiresEvidence() bool {
	return c != nil && c.Mode == CriteriaEvidence
}

type Item struct {
	ID        string    `json:"id"`
	ParentID  *string   `json:"parent_id,omitempty"`
	RootID    string    `json:"root_id"`
	Type      ItemType  `json:"type" enum:"ROOT,PHASE,UNIT,SUBUNIT"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	Priority  int       `json:"priority"`
	Criteria  *Criteria `json:"criteria,omitempty"`
	ChildSeq  int       `json:"-"`
	CreatedAt string    `json:"created_at" format:"date-time"`
}

// IsRoot reports whether the item is the root of its tree.
func (it Item) IsRoot() bool {
	return it.ParentID == nil
}

// Depth derives nesting depth from the hierarchical ID (root = 0).
func (it Item) Depth() int {
	return strings.Count(it.ID, ".")
}

// IsDescendantID reports whether id sits strictly below ancestorID,
// relying on child IDs extending their parent's ID.
func IsDescendantID(id, ancestorID string) bool {
	return len(id) > len(ancestorID)+1 && strings.HasPrefix(id, ancestorID+".")
}

type Edge struct {
	FromID    string   `json:"from_id"`
	ToID      string   `json:"to_id"`
	Kind      EdgeKind `json:"kind" enum:"BLOCKS,RELATED"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type Progress struct {
	ItemID      string  `json:"item_id"`
	ActorID     string  `json:"actor_id"`
	Status      Status  `json:"status" enum:"OPEN,IN_PROGRESS,BLOCKED,CLOSED"`
	StartedAt   *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	CloseReason *string `json:"close_reason,omitempty"`
	Version     int64   `json:"version"`
	UpdatedAt   string  `json:"updated_at,omitempty" format:"date-time"`
	// Persisted is false for the implicit OPEN record of an untouched pair.
	Persisted bool `json:"-"`
}

// DefaultProgress is the record every untouched (item, actor) pair reads as.
func DefaultProgress(itemID, actorID string) Progress {
	return Progress{ItemID: itemID, ActorID: actorID, Status: StatusOpen}
}

type Submission struct {
	ID           string `json:"id"`
	ItemID       string `json:"item_id"`
	ActorID      string `json:"actor_id"`
	Attempt      int    `json:"attempt"`
	Content      string `json:"content"`
	ContentKind  string `json:"content_kind"`
	Passed       bool   `json:"passed"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RootID     string `json:"root_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
