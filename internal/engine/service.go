package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"stepline/internal/domain"
	"stepline/internal/events"
)

const maxBlockerTitles = 3

type StartResult struct {
	OK        bool          `json:"ok"`
	OldStatus domain.Status `json:"old_status"`
	NewStatus domain.Status `json:"new_status"`
	Message   string        `json:"message"`
}

func (e Engine) StartItem(ctx context.Context, itemID, actorID string) (StartResult, error) {
	if actorID == "" {
		return StartResult{}, domain.Errorf(domain.KindInvalid, "actor_id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return StartResult{}, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetItem(ctx, tx, itemID)
	if err != nil {
		return StartResult{}, err
	}
	p, err := e.Repo.GetProgress(ctx, tx, item.ID, actorID)
	if err != nil {
		return StartResult{}, err
	}
	if p.Status == domain.StatusClosed {
		return StartResult{}, domain.Errorf(domain.KindInvalidTransition, "%q is already closed; reopen it first", item.Title).
			With("from", p.Status).With("to", domain.StatusInProgress)
	}
	r, err := e.newResolver(ctx, tx, item.RootID, actorID)
	if err != nil {
		return StartResult{}, err
	}
	blockers, err := r.blockers(item.ID)
	if err != nil {
		return StartResult{}, err
	}
	if len(blockers) > 0 {
		titles := make([]string, 0, maxBlockerTitles)
		ids := make([]string, 0, len(blockers))
		for i, b := range blockers {
			if i < maxBlockerTitles {
				titles = append(titles, fmt.Sprintf("%q", b.Title))
			}
			ids = append(ids, b.ID)
		}
		msg := fmt.Sprintf("%q is blocked by %s", item.Title, strings.Join(titles, ", "))
		if extra := len(blockers) - maxBlockerTitles; extra > 0 {
			msg += fmt.Sprintf(" and %d more", extra)
		}
		return StartResult{}, domain.Errorf(domain.KindBlocked, "%s", msg).With("blocked_by", ids)
	}
	res, err := e.transitionTx(ctx, tx, item, actorID, domain.StatusInProgress, "")
	if err != nil {
		return StartResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return StartResult{}, err
	}
	return StartResult{
		OK:        true,
		OldStatus: res.From,
		NewStatus: res.To,
		Message:   fmt.Sprintf("started %q", item.Title),
	}, nil
}

type SubmitOptions struct {
	ItemID      string
	ActorID     string
	Content     string
	ContentKind string
	CloseOnPass bool
}

type SubmitResult struct {
	SubmissionID     string            `json:"submission_id"`
	AttemptNumber    int               `json:"attempt_number"`
	ValidationPassed bool              `json:"validation_passed"`
	Message          string            `json:"message,omitempty"`
	CanClose         bool              `json:"can_close"`
	Closed           *TransitionResult `json:"closed,omitempty"`
	CloseSkipped     string            `json:"close_skipped,omitempty"`
}

func (e Engine) SubmitEvidence(ctx context.Context, opts SubmitOptions) (SubmitResult, error) {
	if opts.ActorID == "" {
		return SubmitResult{}, domain.Errorf(domain.KindInvalid, "actor_id is required")
	}
	if opts.ContentKind == "" {
		opts.ContentKind = e.cfg().Validation.DefaultContentKind
	}
	item, err := e.Repo.GetItem(ctx, nil, opts.ItemID)
	if err != nil {
		return SubmitResult{}, err
	}
	passed, msg, err := e.validator().Validate(ctx, opts.Content, item.Criteria, opts.ContentKind)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("validate evidence: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SubmitResult{}, err
	}
	defer tx.Rollback()

	attempt, err := e.Repo.NextAttempt(ctx, tx, item.ID, opts.ActorID)
	if err != nil {
		return SubmitResult{}, err
	}
	sub := domain.Submission{
		ID:           uuid.NewString(),
		ItemID:       item.ID,
		ActorID:      opts.ActorID,
		Attempt:      attempt,
		Content:      opts.Content,
		ContentKind:  opts.ContentKind,
		Passed:       passed,
		ErrorMessage: msg,
		CreatedAt:    e.nowString(),
	}
	if err := e.Repo.InsertSubmission(ctx, tx, sub); err != nil {
		return SubmitResult{}, err
	}
	if err := e.Events.Append(ctx, tx, events.EvidenceSubmitted, item.RootID, "item", item.ID, opts.ActorID, events.EventPayload{
		"submission_id": sub.ID,
		"attempt":       attempt,
		"passed":        passed,
	}); err != nil {
		return SubmitResult{}, err
	}
	decision, err := e.canCloseTx(ctx, tx, item, opts.ActorID)
	if err != nil {
		return SubmitResult{}, err
	}
	progress, err := e.Repo.GetProgress(ctx, tx, item.ID, opts.ActorID)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SubmitResult{}, err
	}
	res := SubmitResult{
		SubmissionID:     sub.ID,
		AttemptNumber:    attempt,
		ValidationPassed: passed,
		Message:          msg,
		CanClose:         decision.Allowed,
	}
	e.log().Debug("evidence submitted",
		slog.String("item_id", item.ID),
		slog.String("actor_id", opts.ActorID),
		slog.Int("attempt", attempt),
		slog.Bool("passed", passed))
	if !opts.CloseOnPass || !passed {
		return res, nil
	}
	switch {
	case !decision.Allowed:
		res.CloseSkipped = decision.Reason
	case ensureTransition(progress.Status, domain.StatusClosed) != nil:
		res.CloseSkipped = fmt.Sprintf("%s is %s; only IN_PROGRESS items can be closed", item.ID, progress.Status)
	default:
		closed, err := e.Transition(ctx, item.ID, opts.ActorID, domain.StatusClosed, "evidence accepted")
		if err != nil {
			if domain.KindOf(err) == "" {
				return res, err
			}
			res.CloseSkipped = err.Error()
			break
		}
		res.Closed = &closed
	}
	return res, nil
}

func (e Engine) GetReadyWork(ctx context.Context, scopeID, actorID string, types []domain.ItemType, limit int) ([]ReadyItem, error) {
	if limit <= 0 {
		limit = e.cfg().Ready.DefaultLimit
	}
	return e.ReadyWork(ctx, ReadyOptions{ScopeID: scopeID, ActorID: actorID, Types: types, Limit: limit})
}

type ReopenResult struct {
	OK        bool          `json:"ok"`
	NewStatus domain.Status `json:"new_status"`
}

func (e Engine) ReopenItem(ctx context.Context, itemID, actorID, reason string) (ReopenResult, error) {
	if actorID == "" {
		return ReopenResult{}, domain.Errorf(domain.KindInvalid, "actor_id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReopenResult{}, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetItem(ctx, tx, itemID)
	if err != nil {
		return ReopenResult{}, err
	}
	p, err := e.Repo.GetProgress(ctx, tx, item.ID, actorID)
	if err != nil {
		return ReopenResult{}, err
	}
	if p.Status != domain.StatusClosed {
		return ReopenResult{}, domain.Errorf(domain.KindInvalidTransition, "%q is %s, only closed items can be reopened", item.Title, p.Status).
			With("from", p.Status).With("to", domain.StatusOpen)
	}
	res, err := e.transitionTx(ctx, tx, item, actorID, domain.StatusOpen, reason)
	if err != nil {
		return ReopenResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReopenResult{}, err
	}
	return ReopenResult{OK: true, NewStatus: res.To}, nil
}

func (e Engine) Submissions(ctx context.Context, itemID, actorID string) ([]domain.Submission, error) {
	tx, err := e.beginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetItem(ctx, tx, itemID); err != nil {
		return nil, err
	}
	subs, err := e.Repo.ListSubmissions(ctx, tx, itemID, actorID)
	if err != nil {
		return nil, err
	}
	return subs, tx.Commit()
}
