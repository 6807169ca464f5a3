package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stepline/internal/repo"
)

// Event types appended by the engine.
const (
	ItemCreated        = "item.created"
	ItemDeleted        = "item.deleted"
	EdgeAdded          = "edge.added"
	EdgeRemoved        = "edge.removed"
	ProgressTransition = "progress.transition"
	ProgressAutoClosed = "progress.auto_closed"
	EvidenceSubmitted  = "evidence.submitted"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction so it commits or
// rolls back together with the change it describes.
func (w Writer) Append(ctx context.Context, q repo.Querier, evtType, rootID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO events(ts,type,root_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339Nano), evtType, nullable(rootID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
