// Package merge consolidates one entity into another. The merge is a
// saga: each step is individually idempotent and ordered so re-running
// after a partial failure converges to the same end state, with the
// audit record as the durable cursor.
package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kairoshq/kairos/internal/graph"
	"github.com/kairoshq/kairos/pkg/types"
)

// EntityIndexer keeps an external similarity index in step with merges:
// the absorbed source leaves the index, the enriched target re-enters it.
type EntityIndexer interface {
	IndexEntity(ctx context.Context, e *types.Entity) error
	RemoveEntity(ctx context.Context, userID, entityID string) error
}

// Coordinator performs audited entity merges.
type Coordinator struct {
	store   *graph.Store
	indexer EntityIndexer
	logger  *zap.Logger
}

// NewCoordinator creates a merge coordinator.
func NewCoordinator(store *graph.Store, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: store, logger: logger.Named("merge")}
}

// SetEntityIndexer attaches an optional profile index refreshed after a
// completed merge. Index failures are logged; the merge itself stands.
func (c *Coordinator) SetEntityIndexer(indexer EntityIndexer) {
	c.indexer = indexer
}

func (c *Coordinator) refreshIndex(ctx context.Context, from, to *types.Entity) {
	if c.indexer == nil {
		return
	}
	if err := c.indexer.RemoveEntity(ctx, from.UserID, from.ID); err != nil {
		c.logger.Warn("failed to drop merged entity from index",
			zap.String("entity_id", from.ID), zap.Error(err))
	}
	if err := c.indexer.IndexEntity(ctx, to); err != nil {
		c.logger.Warn("failed to reindex merge target",
			zap.String("entity_id", to.ID), zap.Error(err))
	}
}

// Merge consolidates fromID into toID. Safe to re-run: a completed merge
// returns its audit record without doing work, and a crashed merge
// resumes from the top, with every step converging on the same state.
func (c *Coordinator) Merge(ctx context.Context, userID, fromID, toID string) (*types.MergeAuditRecord, error) {
	if fromID == toID {
		return nil, fmt.Errorf("merge: cannot merge entity %s into itself", fromID)
	}

	rec, err := c.store.GetMergeAudit(ctx, userID, fromID, toID)
	if err != nil && !errors.Is(err, graph.ErrNotFound) {
		return nil, err
	}
	if rec != nil && rec.Status == types.MergeCompleted {
		return rec, nil
	}

	from, to, err := c.validatePair(ctx, userID, fromID, toID)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		rec = &types.MergeAuditRecord{
			UserID:       userID,
			FromEntityID: fromID,
			ToEntityID:   toID,
			Status:       types.MergePending,
			StartedAt:    types.Timestamp(time.Now()),
		}
		if err := c.store.CreateMergeAudit(ctx, rec); errors.Is(err, graph.ErrAlreadyExists) {
			// A concurrent merge of the same pair created the record first.
			rec, err = c.store.GetMergeAudit(ctx, userID, fromID, toID)
			if err != nil {
				return nil, err
			}
			if rec.Status == types.MergeCompleted {
				return rec, nil
			}
		} else if err != nil {
			return nil, err
		}
	}

	rec.Status = types.MergeInProgress
	rec.Error = ""
	if err := c.store.UpdateMergeAudit(ctx, rec); err != nil {
		return nil, err
	}

	if err := c.run(ctx, rec, from, to); err != nil {
		rec.Status = types.MergeFailed
		rec.Error = err.Error()
		if uerr := c.store.UpdateMergeAudit(ctx, rec); uerr != nil {
			c.logger.Error("failed to record merge failure",
				zap.String("from", fromID), zap.String("to", toID), zap.Error(uerr))
		}
		return nil, err
	}

	rec.Status = types.MergeCompleted
	rec.FinishedAt = types.Timestamp(time.Now())
	if err := c.store.UpdateMergeAudit(ctx, rec); err != nil {
		return nil, err
	}

	c.refreshIndex(ctx, from, to)
	c.logger.Info("merge completed",
		zap.String("user_id", userID),
		zap.String("from", fromID),
		zap.String("to", toID),
		zap.Int("mentions", rec.MentionsMigrated),
		zap.Int("edges", rec.EdgesMigrated),
		zap.Int("aliases", rec.AliasesMigrated))
	return rec, nil
}

// validatePair re-reads both entities and checks the merge is still
// legal. A source already merged into the target counts as done.
func (c *Coordinator) validatePair(ctx context.Context, userID, fromID, toID string) (*types.Entity, *types.Entity, error) {
	from, err := c.store.GetEntity(ctx, userID, fromID)
	if err != nil {
		return nil, nil, fmt.Errorf("merge: source: %w", err)
	}
	to, err := c.store.GetEntity(ctx, userID, toID)
	if err != nil {
		return nil, nil, fmt.Errorf("merge: target: %w", err)
	}

	if to.IsMerged() {
		return nil, nil, fmt.Errorf("merge: target %s is a tombstone", toID)
	}
	if from.IsMerged() && from.MergedInto != toID {
		return nil, nil, fmt.Errorf("merge: source %s already merged into %s", fromID, from.MergedInto)
	}
	if from.Type != to.Type {
		return nil, nil, fmt.Errorf("merge: type mismatch: %s is %s, %s is %s", fromID, from.Type, toID, to.Type)
	}
	return from, to, nil
}

func (c *Coordinator) run(ctx context.Context, rec *types.MergeAuditRecord, from, to *types.Entity) error {
	mentions, err := c.migrateMentions(ctx, from.UserID, from.ID, to.ID)
	if err != nil {
		return fmt.Errorf("migrate mentions: %w", err)
	}
	rec.MentionsMigrated = mentions

	edges, err := c.migrateEdges(ctx, from.UserID, from.ID, to.ID)
	if err != nil {
		return fmt.Errorf("migrate edges: %w", err)
	}
	rec.EdgesMigrated = edges

	aliases, err := c.absorbAttributes(ctx, from, to)
	if err != nil {
		return fmt.Errorf("absorb attributes: %w", err)
	}
	rec.AliasesMigrated = aliases

	if err := c.tombstone(ctx, from, to.ID); err != nil {
		return fmt.Errorf("tombstone source: %w", err)
	}
	return nil
}

// migrateMentions re-points every mention linked to the source. Each
// re-point is an independent guarded write, so a resumed run skips the
// mentions already moved (their index entries are gone).
func (c *Coordinator) migrateMentions(ctx context.Context, userID, fromID, toID string) (int, error) {
	ptrs, err := c.store.MentionPointersByEntity(ctx, userID, fromID)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, ptr := range ptrs {
		m, err := c.store.GetMention(ctx, userID, ptr.MeetingID, ptr.MentionID)
		if errors.Is(err, graph.ErrNotFound) {
			continue
		}
		if err != nil {
			return migrated, err
		}
		if m.LinkedEntityID != fromID {
			continue
		}

		m.LinkedEntityID = toID
		if err := c.store.UpdateMentionResolution(ctx, m, m.ResolutionState, fromID); err != nil {
			return migrated, err
		}
		migrated++
	}
	return migrated, nil
}

// migrateEdges rewrites every edge touching the source to the target.
// Each edge is upserted at its new endpoints first and deleted from the
// old ones second, so a crash in between leaves a duplicate that the
// next run's upsert deduplicates rather than a lost edge. Self-loops
// produced by the rewrite are dropped.
func (c *Coordinator) migrateEdges(ctx context.Context, userID, fromID, toID string) (int, error) {
	outgoing, err := c.store.EdgesFrom(ctx, userID, fromID)
	if err != nil {
		return 0, err
	}
	incoming, err := c.store.EdgesTo(ctx, userID, fromID)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, e := range outgoing {
		oldFrom, oldTo := e.FromEntityID, e.ToEntityID
		e.FromEntityID = toID
		if e.FromEntityID != e.ToEntityID {
			if err := c.store.UpsertEdge(ctx, e); err != nil {
				return migrated, err
			}
			migrated++
		}
		if err := c.store.DeleteEdge(ctx, userID, oldFrom, e.Type, oldTo); err != nil {
			return migrated, err
		}
	}
	for _, e := range incoming {
		if e.FromEntityID == fromID {
			// A self-loop on the source appeared in both lists and was
			// already handled above.
			continue
		}
		oldFrom, oldTo := e.FromEntityID, e.ToEntityID
		e.ToEntityID = toID
		if e.FromEntityID != e.ToEntityID {
			if err := c.store.UpsertEdge(ctx, e); err != nil {
				return migrated, err
			}
			migrated++
		}
		if err := c.store.DeleteEdge(ctx, userID, oldFrom, e.Type, oldTo); err != nil {
			return migrated, err
		}
	}
	return migrated, nil
}

// absorbAttributes unions the source's aliases and evidence onto the
// target and refreshes its counters, in one guarded entity update. The
// counters are recomputed from the migrated indexes rather than summed,
// so a resumed run cannot double-count.
func (c *Coordinator) absorbAttributes(ctx context.Context, from, to *types.Entity) (int, error) {
	ptrs, err := c.store.MentionPointersByEntity(ctx, to.UserID, to.ID)
	if err != nil {
		return 0, err
	}
	outgoing, err := c.store.EdgesFrom(ctx, to.UserID, to.ID)
	if err != nil {
		return 0, err
	}
	incoming, err := c.store.EdgesTo(ctx, to.UserID, to.ID)
	if err != nil {
		return 0, err
	}

	apply := func(target *types.Entity) (int, []types.MentionEvidence) {
		added := 0
		for _, alias := range from.Aliases {
			if !target.HasAlias(alias) {
				target.AddAlias(alias)
				added++
			}
		}

		var overflow []types.MentionEvidence
		for _, ev := range from.TopEvidence {
			top, spilled := graph.MergeTopEvidence(target.TopEvidence, ev)
			target.TopEvidence = top
			overflow = append(overflow, spilled...)
		}

		target.MentionCount = len(ptrs)
		target.EdgeCount = len(outgoing) + len(incoming)
		if from.LastSeen > target.LastSeen {
			target.LastSeen = from.LastSeen
		}
		if target.CanonicalName == "" && from.CanonicalName != "" {
			target.CanonicalName = from.CanonicalName
		}
		if target.Organization == "" {
			target.Organization = from.Organization
		}
		if target.Role == "" {
			target.Role = from.Role
		}
		for _, id := range from.RecentMeetingIDs {
			if !target.SeenInMeeting(id) && len(target.RecentMeetingIDs) < types.MaxRecentMeetings {
				target.RecentMeetingIDs = append(target.RecentMeetingIDs, id)
			}
		}
		return added, overflow
	}

	added, overflow := apply(to)
	err = c.store.UpdateEntity(ctx, to, overflow)
	if errors.Is(err, graph.ErrWriteConflict) {
		fresh, gerr := c.store.GetEntity(ctx, to.UserID, to.ID)
		if gerr != nil {
			return 0, gerr
		}
		added, overflow = apply(fresh)
		if err = c.store.UpdateEntity(ctx, fresh, overflow); err != nil {
			return 0, err
		}
		*to = *fresh
		return added, nil
	}
	if err != nil {
		return 0, err
	}
	return added, nil
}

// tombstone marks the source merged. Tombstones are permanent: the
// entity record stays, its aliases keep their index entries, and
// canonical resolution follows merged_into to the target.
func (c *Coordinator) tombstone(ctx context.Context, from *types.Entity, toID string) error {
	if from.IsMerged() {
		return nil
	}

	apply := func(e *types.Entity) {
		e.Status = types.StatusMerged
		e.MergedInto = toID
		e.MergedAt = types.Timestamp(time.Now())
	}

	apply(from)
	err := c.store.UpdateEntity(ctx, from, nil)
	if errors.Is(err, graph.ErrWriteConflict) {
		fresh, gerr := c.store.GetEntity(ctx, from.UserID, from.ID)
		if gerr != nil {
			return gerr
		}
		if fresh.IsMerged() {
			return nil
		}
		apply(fresh)
		return c.store.UpdateEntity(ctx, fresh, nil)
	}
	return err
}
