package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"stepline/internal/domain"
	"stepline/internal/events"
)

var allowedTransitions = map[domain.Status][]domain.Status{
	domain.StatusOpen:       {domain.StatusInProgress, domain.StatusBlocked},
	domain.StatusInProgress: {domain.StatusOpen, domain.StatusBlocked, domain.StatusClosed},
	domain.StatusBlocked:    {domain.StatusOpen, domain.StatusInProgress},
	domain.StatusClosed:     {domain.StatusOpen},
}

func ensureTransition(from, to domain.Status) error {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return nil
		}
	}
	return domain.Errorf(domain.KindInvalidTransition, "invalid status transition %s -> %s", from, to).
		With("from", from).With("to", to)
}

// AutoClosed is bottom-up.
type TransitionResult struct {
	ItemID     string          `json:"item_id"`
	ActorID    string          `json:"actor_id"`
	From       domain.Status   `json:"from"`
	To         domain.Status   `json:"to"`
	Progress   domain.Progress `json:"progress"`
	AutoClosed []string        `json:"auto_closed,omitempty"`
}

func (e Engine) Transition(ctx context.Context, itemID, actorID string, to domain.Status, reason string) (TransitionResult, error) {
	if actorID == "" {
		return TransitionResult{}, domain.Errorf(domain.KindInvalid, "actor_id is required")
	}
	if !to.Valid() {
		return TransitionResult{}, domain.Errorf(domain.KindInvalid, "unknown status %q", to)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetItem(ctx, tx, itemID)
	if err != nil {
		return TransitionResult{}, err
	}
	res, err := e.transitionTx(ctx, tx, item, actorID, to, reason)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{}, err
	}
	if to == domain.StatusClosed {
		res.AutoClosed = e.propagateClose(ctx, item, actorID)
	}
	return res, nil
}

func (e Engine) transitionTx(ctx context.Context, tx *sql.Tx, item domain.Item, actorID string, to domain.Status, reason string) (TransitionResult, error) {
	now := e.nowString()
	p, err := e.Repo.EnsureProgress(ctx, tx, item.ID, actorID, now)
	if err != nil {
		return TransitionResult{}, err
	}
	from := p.Status
	if err := ensureTransition(from, to); err != nil {
		return TransitionResult{}, err
	}
	if to == domain.StatusClosed {
		decision, err := e.canCloseTx(ctx, tx, item, actorID)
		if err != nil {
			return TransitionResult{}, err
		}
		if !decision.Allowed {
			return TransitionResult{}, decision.err()
		}
	}

	p.Status = to
	p.UpdatedAt = now
	switch to {
	case domain.StatusInProgress:
		if p.StartedAt == nil {
			p.StartedAt = &now
		}
	case domain.StatusClosed:
		p.CompletedAt = &now
		if reason != "" {
			r := reason
			p.CloseReason = &r
		} else {
			p.CloseReason = nil
		}
	case domain.StatusOpen:
		if from == domain.StatusClosed {
			p.CompletedAt = nil
			p.CloseReason = nil
		}
	}
	p, err = e.Repo.UpdateProgress(ctx, tx, p)
	if err != nil {
		return TransitionResult{}, err
	}
	payload := events.EventPayload{"from": from, "to": to}
	if reason != "" {
		payload["reason"] = reason
	}
	if err := e.Events.Append(ctx, tx, events.ProgressTransition, item.RootID, "item", item.ID, actorID, payload); err != nil {
		return TransitionResult{}, err
	}
	e.log().Debug("progress transition",
		slog.String("item_id", item.ID),
		slog.String("actor_id", actorID),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	return TransitionResult{ItemID: item.ID, ActorID: actorID, From: from, To: to, Progress: p}, nil
}

func (e Engine) GetProgress(ctx context.Context, itemID, actorID string) (domain.Progress, error) {
	if actorID == "" {
		return domain.Progress{}, domain.Errorf(domain.KindInvalid, "actor_id is required")
	}
	tx, err := e.beginRead(ctx)
	if err != nil {
		return domain.Progress{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetItem(ctx, tx, itemID); err != nil {
		return domain.Progress{}, err
	}
	p, err := e.Repo.GetProgress(ctx, tx, itemID, actorID)
	if err != nil {
		return domain.Progress{}, err
	}
	return p, tx.Commit()
}

const autoCloseReason = "auto-closed: all children complete"

// each step is its own transaction
func (e Engine) propagateClose(ctx context.Context, closed domain.Item, actorID string) []string {
	if !e.cfg().Progress.AutoClose {
		return nil
	}
	var res []string
	current := closed
	for !current.IsRoot() {
		parent, ok, err := e.autoCloseStep(ctx, *current.ParentID, current.ID, actorID)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrClosureRefused) {
				e.log().Debug("auto-close stopped", slog.String("item_id", *current.ParentID), slog.String("actor_id", actorID), slog.String("reason", err.Error()))
			} else {
				e.log().Error("auto-close failed", slog.String("item_id", *current.ParentID), slog.String("actor_id", actorID), slog.Any("error", err))
			}
			break
		}
		if !ok {
			break
		}
		res = append(res, parent.ID)
		current = parent
	}
	if len(res) > 0 {
		e.log().Info("auto-closed ancestors", slog.String("item_id", closed.ID), slog.String("actor_id", actorID), slog.Any("closed", res))
	}
	return res
}

func (e Engine) autoCloseStep(ctx context.Context, parentID, childID, actorID string) (domain.Item, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, false, err
	}
	defer tx.Rollback()

	parent, err := e.Repo.GetItem(ctx, tx, parentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Item{}, false, nil
		}
		return domain.Item{}, false, err
	}
	if parent.Criteria.RequiresEvidence() {
		return parent, false, nil
	}
	children, err := e.Repo.ChildStatuses(ctx, tx, parent.ID, actorID)
	if err != nil {
		return domain.Item{}, false, err
	}
	for _, c := range children {
		if c.Status != domain.StatusClosed {
			return parent, false, nil
		}
	}
	if _, err := e.transitionTx(ctx, tx, parent, actorID, domain.StatusClosed, autoCloseReason); err != nil {
		return domain.Item{}, false, err
	}
	if err := e.Events.Append(ctx, tx, events.ProgressAutoClosed, parent.RootID, "item", parent.ID, actorID, events.EventPayload{"trigger": childID}); err != nil {
		return domain.Item{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, false, err
	}
	return parent, true, nil
}
