package engine

import (
	"context"
	"database/sql"
	"log/slog"

	"stepline/internal/domain"
	"stepline/internal/events"
	"stepline/internal/graph"
)

// AddEdge records that from waits on to.
func (e Engine) AddEdge(ctx context.Context, from, to string, kind domain.EdgeKind, actorID string) (domain.Edge, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Edge{}, err
	}
	defer tx.Rollback()

	edge, err := e.addEdgeTx(ctx, tx, from, to, kind, actorID)
	if err != nil {
		return domain.Edge{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Edge{}, err
	}
	e.log().Info("edge added", slog.String("from", from), slog.String("to", to), slog.String("kind", string(edge.Kind)))
	return edge, nil
}

func (e Engine) addEdgeTx(ctx context.Context, tx *sql.Tx, from, to string, kind domain.EdgeKind, actorID string) (domain.Edge, error) {
	if kind == "" {
		kind = domain.EdgeBlocks
	}
	if !kind.Valid() {
		return domain.Edge{}, domain.Errorf(domain.KindInvalid, "unknown edge kind %q", kind)
	}
	fromItem, err := e.Repo.GetItem(ctx, tx, from)
	if err != nil {
		return domain.Edge{}, err
	}
	toItem, err := e.Repo.GetItem(ctx, tx, to)
	if err != nil {
		return domain.Edge{}, err
	}
	exists, err := e.Repo.EdgeExists(ctx, tx, from, to, kind)
	if err != nil {
		return domain.Edge{}, err
	}
	if exists {
		return domain.Edge{}, domain.Errorf(domain.KindDuplicate, "edge %s -[%s]-> %s already exists", from, kind, to)
	}
	if kind == domain.EdgeBlocks {
		if err := e.checkBlocksEdge(ctx, tx, fromItem, toItem); err != nil {
			return domain.Edge{}, err
		}
	}
	edge := domain.Edge{FromID: from, ToID: to, Kind: kind, CreatedAt: e.nowString()}
	if err := e.Repo.InsertEdge(ctx, tx, edge); err != nil {
		return domain.Edge{}, err
	}
	if err := e.Events.Append(ctx, tx, events.EdgeAdded, fromItem.RootID, "edge", from, actorID, events.EventPayload{
		"from": from,
		"to":   to,
		"kind": kind,
	}); err != nil {
		return domain.Edge{}, err
	}
	return edge, nil
}

// checkBlocksEdge also refuses edges along one parent chain; those could never clear.
func (e Engine) checkBlocksEdge(ctx context.Context, tx *sql.Tx, from, to domain.Item) error {
	if from.ID == to.ID {
		return domain.Errorf(domain.KindCycleDetected, "item %s cannot block itself", from.ID).
			With("from", from.ID).With("to", to.ID)
	}
	if from.RootID != to.RootID {
		return domain.Errorf(domain.KindInvalid, "BLOCKS edges must stay within one tree: %s is in %s, %s is in %s",
			from.ID, from.RootID, to.ID, to.RootID)
	}
	if domain.IsDescendantID(from.ID, to.ID) || domain.IsDescendantID(to.ID, from.ID) {
		return domain.Errorf(domain.KindInvalid, "%s and %s are on one parent chain; a BLOCKS edge between them can never clear", from.ID, to.ID).
			With("from", from.ID).With("to", to.ID).With("reason", "same_parent_chain")
	}
	g, err := e.loadBlocksGraph(ctx, tx, from.RootID)
	if err != nil {
		return err
	}
	if g.WouldCycle(from.ID, to.ID) {
		return domain.Errorf(domain.KindCycleDetected, "%s already depends on %s; %s -> %s would close a cycle", to.ID, from.ID, from.ID, to.ID).
			With("from", from.ID).With("to", to.ID)
	}
	return nil
}

func (e Engine) loadBlocksGraph(ctx context.Context, q *sql.Tx, rootID string) (*graph.Graph, error) {
	edges, err := e.Repo.ListTreeEdges(ctx, q, rootID, domain.EdgeBlocks)
	if err != nil {
		return nil, err
	}
	g := graph.New()
	for _, edge := range edges {
		g.AddEdge(edge.FromID, edge.ToID)
	}
	return g, nil
}

func (e Engine) RemoveEdge(ctx context.Context, from, to, actorID string) ([]domain.Edge, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	removed, err := e.Repo.DeleteEdges(ctx, tx, from, to)
	if err != nil {
		return nil, err
	}
	fromItem, err := e.Repo.GetItem(ctx, tx, from)
	if err != nil {
		return nil, err
	}
	kinds := make([]domain.EdgeKind, 0, len(removed))
	for _, edge := range removed {
		kinds = append(kinds, edge.Kind)
	}
	if err := e.Events.Append(ctx, tx, events.EdgeRemoved, fromItem.RootID, "edge", from, actorID, events.EventPayload{
		"from":  from,
		"to":    to,
		"kinds": kinds,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.log().Info("edge removed", slog.String("from", from), slog.String("to", to))
	return removed, nil
}

// Dependencies: an empty kind means all.
func (e Engine) Dependencies(ctx context.Context, itemID string, kind domain.EdgeKind) ([]domain.Edge, error) {
	if kind != "" && !kind.Valid() {
		return nil, domain.Errorf(domain.KindInvalid, "unknown edge kind %q", kind)
	}
	tx, err := e.beginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetItem(ctx, tx, itemID); err != nil {
		return nil, err
	}
	edges, err := e.Repo.ListOutgoing(ctx, tx, itemID, kind)
	if err != nil {
		return nil, err
	}
	return edges, tx.Commit()
}

func (e Engine) Dependents(ctx context.Context, itemID string) ([]domain.Edge, error) {
	tx, err := e.beginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetItem(ctx, tx, itemID); err != nil {
		return nil, err
	}
	edges, err := e.Repo.ListIncoming(ctx, tx, itemID, domain.EdgeBlocks)
	if err != nil {
		return nil, err
	}
	return edges, tx.Commit()
}

func (e Engine) DetectCycles(ctx context.Context, rootID string) ([][]string, error) {
	tx, err := e.beginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	root, err := e.Repo.GetItem(ctx, tx, rootID)
	if err != nil {
		return nil, err
	}
	g, err := e.loadBlocksGraph(ctx, tx, root.RootID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	cycles := g.Cycles()
	if len(cycles) > 0 {
		e.log().Warn("blocking cycles found", slog.String("root_id", root.RootID), slog.Int("cycles", len(cycles)))
	}
	return cycles, nil
}

func (e Engine) TreeEdges(ctx context.Context, id string) ([]domain.Edge, error) {
	tx, err := e.beginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	it, err := e.Repo.GetItem(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	var res []domain.Edge
	for _, kind := range []domain.EdgeKind{domain.EdgeBlocks, domain.EdgeRelated} {
		edges, err := e.Repo.ListTreeEdges(ctx, tx, it.RootID, kind)
		if err != nil {
			return nil, err
		}
		res = append(res, edges...)
	}
	return res, tx.Commit()
}
