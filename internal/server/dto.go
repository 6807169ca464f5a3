package server

import (
	"encoding/json"

	"stepline/internal/domain"
	"stepline/internal/engine"
)

// Requests

type EdgeRequest struct {
	From string `json:"from" doc:"Item that waits"`
	To   string `json:"to" doc:"Item that must close first"`
	Kind string `json:"kind,omitempty" doc:"BLOCKS (default) or RELATED"`
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status" doc:"Target status (OPEN, IN_PROGRESS, BLOCKED, CLOSED)"`
	Reason string `json:"reason,omitempty"`
}

type EvidenceRequest struct {
	Content     string `json:"content"`
	ContentKind string `json:"content_kind,omitempty"`
	CloseOnPass bool   `json:"close_on_pass,omitempty"`
}

type DevLoginRequest struct {
	ActorID    string `json:"actor_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// Responses

type TreeResponse struct {
	Root  domain.Item   `json:"root"`
	Items []domain.Item `json:"items"`
	Edges []domain.Edge `json:"edges"`
}

type EdgeListResponse struct {
	Items []domain.Edge `json:"items"`
}

type CyclesResponse struct {
	Cycles [][]string `json:"cycles"`
}

type ReadyResponse struct {
	ActorID string             `json:"actor_id"`
	Items   []engine.ReadyItem `json:"items"`
}

type SubmissionListResponse struct {
	Items []domain.Submission `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	RootID     string         `json:"root_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		RootID:     evt.RootID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    decodeJSONMap(evt.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
