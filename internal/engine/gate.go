package engine

import (
	"context"
	"database/sql"
	"fmt"

	"stepline/internal/domain"
)

type GateDecision struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	BlockingChildID string `json:"blocking_child_id,omitempty"`
	MissingEvidence bool   `json:"missing_evidence,omitempty"`
}

func (d GateDecision) err() error {
	e := domain.Errorf(domain.KindClosureRefused, "%s", d.Reason)
	if d.BlockingChildID != "" {
		e = e.With("child_id", d.BlockingChildID)
	}
	if d.MissingEvidence {
		e = e.With("missing_evidence", true)
	}
	return e
}

// CanClose ignores the item's own status.
func (e Engine) CanClose(ctx context.Context, itemID, actorID string) (GateDecision, error) {
	if actorID == "" {
		return GateDecision{}, domain.Errorf(domain.KindInvalid, "actor_id is required")
	}
	tx, err := e.beginRead(ctx)
	if err != nil {
		return GateDecision{}, err
	}
	defer tx.Rollback()
	item, err := e.Repo.GetItem(ctx, tx, itemID)
	if err != nil {
		return GateDecision{}, err
	}
	d, err := e.canCloseTx(ctx, tx, item, actorID)
	if err != nil {
		return GateDecision{}, err
	}
	return d, tx.Commit()
}

func (e Engine) canCloseTx(ctx context.Context, tx *sql.Tx, item domain.Item, actorID string) (GateDecision, error) {
	children, err := e.Repo.ChildStatuses(ctx, tx, item.ID, actorID)
	if err != nil {
		return GateDecision{}, err
	}
	for _, c := range children {
		if c.Status != domain.StatusClosed {
			return GateDecision{
				Reason:          fmt.Sprintf("child %s %q is %s", c.ID, c.Title, c.Status),
				BlockingChildID: c.ID,
			}, nil
		}
	}
	if item.Criteria.RequiresEvidence() {
		ok, err := e.Repo.HasPassingSubmission(ctx, tx, item.ID, actorID)
		if err != nil {
			return GateDecision{}, err
		}
		if !ok {
			return GateDecision{
				Reason:          fmt.Sprintf("%q requires passing evidence before it can close", item.Title),
				MissingEvidence: true,
			}, nil
		}
	}
	return GateDecision{Allowed: true}, nil
}
