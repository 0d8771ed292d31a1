package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kairoshq/kairos/internal/kv"
	"github.com/kairoshq/kairos/pkg/types"
)

// UpsertEdge writes or refreshes an edge. Both projections (outgoing and
// incoming) are written in one atomic batch and always carry identical
// content. When the edge already exists, new evidence is appended up to
// the per-edge cap and confidence keeps the maximum seen.
func (s *Store) UpsertEdge(ctx context.Context, e *types.Edge) error {
	now := types.Timestamp(time.Now())

	existing, err := s.GetEdge(ctx, e.UserID, e.FromEntityID, e.Type, e.ToEntityID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil {
		e.CreatedAt = existing.CreatedAt
		if existing.Confidence > e.Confidence {
			e.Confidence = existing.Confidence
		}
		e.Verified = e.Verified || existing.Verified
		e.Evidence = mergeEdgeEvidence(existing.Evidence, e.Evidence)
		if e.Properties == nil {
			e.Properties = existing.Properties
		}
	} else {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	for i := range e.Evidence {
		if e.Evidence[i].CreatedAt == "" {
			e.Evidence[i].CreatedAt = now
		}
	}

	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("graph: marshal edge: %w", err)
	}

	part := edgePartition(e.UserID)
	err = s.kv.AtomicMultiWrite(ctx, []kv.Op{
		kv.Put(part, edgeOutSort(e.FromEntityID, e.Type, e.ToEntityID), value),
		kv.Put(part, edgeInSort(e.ToEntityID, e.Type, e.FromEntityID), value),
	})
	if err != nil {
		return mapKVError(err)
	}

	s.logger.Debug("edge upserted",
		zap.String("user_id", e.UserID),
		zap.String("from", e.FromEntityID),
		zap.String("to", e.ToEntityID),
		zap.String("type", string(e.Type)),
		zap.Bool("new", existing == nil))
	return nil
}

// GetEdge reads one edge via its outgoing projection.
func (s *Store) GetEdge(ctx context.Context, userID, fromID string, edgeType types.EdgeType, toID string) (*types.Edge, error) {
	item, err := s.kv.Get(ctx, edgePartition(userID), edgeOutSort(fromID, edgeType, toID))
	if err != nil {
		return nil, mapKVError(err)
	}

	var e types.Edge
	if err := json.Unmarshal(item.Value, &e); err != nil {
		return nil, fmt.Errorf("graph: unmarshal edge: %w", err)
	}
	return &e, nil
}

// EdgesFrom returns every edge leaving an entity.
func (s *Store) EdgesFrom(ctx context.Context, userID, entityID string) ([]*types.Edge, error) {
	return s.queryEdges(ctx, userID, edgeOutPrefix(entityID))
}

// EdgesTo returns every edge arriving at an entity.
func (s *Store) EdgesTo(ctx context.Context, userID, entityID string) ([]*types.Edge, error) {
	return s.queryEdges(ctx, userID, edgeInPrefix(entityID))
}

func (s *Store) queryEdges(ctx context.Context, userID, prefix string) ([]*types.Edge, error) {
	items, err := s.kv.QueryPrefix(ctx, edgePartition(userID), prefix, 0)
	if err != nil {
		return nil, err
	}

	edges := make([]*types.Edge, 0, len(items))
	for _, item := range items {
		var e types.Edge
		if err := json.Unmarshal(item.Value, &e); err != nil {
			return nil, fmt.Errorf("graph: unmarshal edge: %w", err)
		}
		edges = append(edges, &e)
	}
	return edges, nil
}

// DeleteEdge removes both projections of an edge atomically.
func (s *Store) DeleteEdge(ctx context.Context, userID, fromID string, edgeType types.EdgeType, toID string) error {
	part := edgePartition(userID)
	err := s.kv.AtomicMultiWrite(ctx, []kv.Op{
		kv.Delete(part, edgeOutSort(fromID, edgeType, toID)),
		kv.Delete(part, edgeInSort(toID, edgeType, fromID)),
	})
	return mapKVError(err)
}

// mergeEdgeEvidence appends new evidence items not already present
// (same meeting and quote), newest last, capped at MaxEdgeEvidence by
// dropping the oldest.
func mergeEdgeEvidence(existing, incoming []types.EdgeEvidence) []types.EdgeEvidence {
	merged := append([]types.EdgeEvidence(nil), existing...)
	for _, ev := range incoming {
		dup := false
		for _, have := range merged {
			if have.MeetingID == ev.MeetingID && have.Quote == ev.Quote {
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, ev)
		}
	}
	if len(merged) > types.MaxEdgeEvidence {
		merged = merged[len(merged)-types.MaxEdgeEvidence:]
	}
	return merged
}
