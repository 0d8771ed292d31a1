package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kairoshq/kairos/internal/kv"
	"github.com/kairoshq/kairos/pkg/types"
)

// MergeTopEvidence folds a new evidence item into an entity's inline top
// evidence list. The list keeps the most recent half plus the
// highest-confidence half of the cap; everything displaced is returned as
// overflow so the caller can persist it. Evidence is never dropped.
//
// The list is maintained newest first, so "most recent" is a prefix.
func MergeTopEvidence(current []types.MentionEvidence, ev types.MentionEvidence) (top, overflow []types.MentionEvidence) {
	for _, have := range current {
		if have.MeetingID == ev.MeetingID && have.SegmentID == ev.SegmentID && have.Quote == ev.Quote {
			return current, nil
		}
	}

	all := make([]types.MentionEvidence, 0, len(current)+1)
	all = append(all, ev)
	all = append(all, current...)

	if len(all) <= types.MaxTopEvidence {
		return all, nil
	}

	recentN := types.MaxTopEvidence / 2
	kept := make(map[int]bool, types.MaxTopEvidence)
	for i := 0; i < recentN; i++ {
		kept[i] = true
	}

	// Among the remainder, keep the highest-confidence half.
	rest := make([]int, 0, len(all)-recentN)
	for i := recentN; i < len(all); i++ {
		rest = append(rest, i)
	}
	sort.SliceStable(rest, func(a, b int) bool {
		return all[rest[a]].Confidence > all[rest[b]].Confidence
	})
	for i := 0; i < types.MaxTopEvidence-recentN && i < len(rest); i++ {
		kept[rest[i]] = true
	}

	for i, item := range all {
		if kept[i] {
			top = append(top, item)
		} else {
			overflow = append(overflow, item)
		}
	}
	return top, overflow
}

// overflowOps builds the write operations for evidence displaced from an
// entity's inline list. Each item gets a unique sort key so overflow never
// collides.
func (s *Store) overflowOps(userID, entityID string, overflow []types.MentionEvidence) []kv.Op {
	if len(overflow) == 0 {
		return nil
	}

	now := types.Timestamp(time.Now())
	ops := make([]kv.Op, 0, len(overflow))
	for _, ev := range overflow {
		item := types.EvidenceOverflowItem{
			UserID:    userID,
			EntityID:  entityID,
			Evidence:  ev,
			CreatedAt: now,
		}
		value, err := json.Marshal(item)
		if err != nil {
			continue
		}
		seq := uuid.NewString()[:8]
		ops = append(ops, kv.Put(overflowPartition(userID), overflowSort(entityID, now, seq), value))
	}
	return ops
}

// EvidenceOverflow returns an entity's overflowed evidence, oldest first.
func (s *Store) EvidenceOverflow(ctx context.Context, userID, entityID string, limit int) ([]types.EvidenceOverflowItem, error) {
	items, err := s.kv.QueryPrefix(ctx, overflowPartition(userID), overflowQueryPrefix(entityID), limit)
	if err != nil {
		return nil, err
	}

	out := make([]types.EvidenceOverflowItem, 0, len(items))
	for _, item := range items {
		var o types.EvidenceOverflowItem
		if err := json.Unmarshal(item.Value, &o); err != nil {
			return nil, fmt.Errorf("graph: unmarshal overflow item: %w", err)
		}
		out = append(out, o)
	}
	return out, nil
}
