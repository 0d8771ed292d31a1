package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kairoshq/kairos/internal/kv"
	"github.com/kairoshq/kairos/pkg/types"
)

// MentionID derives a deterministic mention identifier from the mention's
// provenance. Reprocessing the same meeting produces the same IDs, which
// makes ingestion idempotent: the second create is a no-op.
func MentionID(meetingID, segmentID, mentionText string) string {
	h := sha256.Sum256([]byte(meetingID + "\x00" + segmentID + "\x00" + types.NormalizeText(mentionText)))
	return "mnt-" + hex.EncodeToString(h[:12])
}

// mentionCreateOps stamps the mention's creation time and builds the
// batch that writes it: the record itself, its state index entry, and the
// entity-mention index entry when the mention is already linked.
func mentionCreateOps(m *types.Mention) ([]kv.Op, error) {
	now := types.Timestamp(time.Now())
	if m.CreatedAt == "" {
		m.CreatedAt = now
	}

	value, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("graph: marshal mention: %w", err)
	}
	ptr, err := json.Marshal(MentionPointer{MeetingID: m.Evidence.MeetingID, MentionID: m.ID})
	if err != nil {
		return nil, fmt.Errorf("graph: marshal mention pointer: %w", err)
	}

	ops := []kv.Op{
		kv.PutIfAbsent(mentionPartition(m.UserID), mentionSort(m.Evidence.MeetingID, m.ID), value),
		kv.Put(mstatePartition(m.UserID), mstateSort(m.ResolutionState, m.ID), ptr),
	}
	if m.LinkedEntityID != "" {
		ops = append(ops, kv.Put(mentityPartition(m.UserID), mentitySort(m.LinkedEntityID, m.ID), ptr))
	}
	return ops, nil
}

// CreateMention writes a mention with its index entries. Returns
// ErrAlreadyExists when the mention was stored by a previous run.
func (s *Store) CreateMention(ctx context.Context, m *types.Mention) error {
	ops, err := mentionCreateOps(m)
	if err != nil {
		return err
	}

	if err := s.kv.AtomicMultiWrite(ctx, ops); err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return ErrAlreadyExists
		}
		return err
	}

	m.Version = 1
	s.logger.Debug("mention created",
		zap.String("user_id", m.UserID),
		zap.String("mention_id", m.ID),
		zap.String("state", string(m.ResolutionState)))
	return nil
}

// CreateMentionWithEntity writes a mention and the freshly created entity
// it links to in one atomic batch, so the mention can never commit
// without its entity. The entity carries a new identifier; the only key
// that can collide is the mention's, so a condition failure means the
// mention was stored by a previous run.
func (s *Store) CreateMentionWithEntity(ctx context.Context, m *types.Mention, e *types.Entity) error {
	mops, err := mentionCreateOps(m)
	if err != nil {
		return err
	}
	eops, err := entityCreateOps(e)
	if err != nil {
		return err
	}

	if err := s.kv.AtomicMultiWrite(ctx, append(mops, eops...)); err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return ErrAlreadyExists
		}
		return err
	}

	m.Version = 1
	e.Version = 1
	s.logger.Info("entity created",
		zap.String("user_id", e.UserID),
		zap.String("entity_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("status", string(e.Status)))
	return nil
}

// CreateLinkedMention writes a linked mention together with the guarded
// entity update carrying its side effects; both commit or neither does.
// Returns ErrAlreadyExists when the mention is already stored and
// ErrWriteConflict when the entity guard lost a race.
func (s *Store) CreateLinkedMention(ctx context.Context, m *types.Mention, e *types.Entity, overflow []types.MentionEvidence) error {
	mops, err := mentionCreateOps(m)
	if err != nil {
		return err
	}
	eops, err := s.entityUpdateOps(ctx, e, overflow)
	if err != nil {
		return err
	}

	if err := s.kv.AtomicMultiWrite(ctx, append(mops, eops...)); err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			// The batch carries two conditions; whether the mention exists
			// tells them apart.
			if _, gerr := s.GetMention(ctx, m.UserID, m.Evidence.MeetingID, m.ID); gerr == nil {
				return ErrAlreadyExists
			}
			return ErrWriteConflict
		}
		return err
	}

	m.Version = 1
	e.Version++
	return nil
}

// GetMention reads one mention.
func (s *Store) GetMention(ctx context.Context, userID, meetingID, mentionID string) (*types.Mention, error) {
	item, err := s.kv.Get(ctx, mentionPartition(userID), mentionSort(meetingID, mentionID))
	if err != nil {
		return nil, mapKVError(err)
	}

	var m types.Mention
	if err := json.Unmarshal(item.Value, &m); err != nil {
		return nil, fmt.Errorf("graph: unmarshal mention %s: %w", mentionID, err)
	}
	m.Version = item.Version
	return &m, nil
}

// UpdateMentionResolution transitions a mention to a new resolution state,
// moving its state index entry and maintaining the entity-mention index,
// guarded by the mention's version.
func (s *Store) UpdateMentionResolution(ctx context.Context, m *types.Mention, prevState types.ResolutionState, prevLinkedEntityID string) error {
	m.UpdatedAt = types.Timestamp(time.Now())

	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("graph: marshal mention: %w", err)
	}
	ptr, err := json.Marshal(MentionPointer{MeetingID: m.Evidence.MeetingID, MentionID: m.ID})
	if err != nil {
		return fmt.Errorf("graph: marshal mention pointer: %w", err)
	}

	ops := []kv.Op{
		kv.Update(mentionPartition(m.UserID), mentionSort(m.Evidence.MeetingID, m.ID), value, m.Version),
	}
	if prevState != m.ResolutionState {
		ops = append(ops,
			kv.Delete(mstatePartition(m.UserID), mstateSort(prevState, m.ID)),
			kv.Put(mstatePartition(m.UserID), mstateSort(m.ResolutionState, m.ID), ptr),
		)
	}
	if prevLinkedEntityID != m.LinkedEntityID {
		if prevLinkedEntityID != "" {
			ops = append(ops, kv.Delete(mentityPartition(m.UserID), mentitySort(prevLinkedEntityID, m.ID)))
		}
		if m.LinkedEntityID != "" {
			ops = append(ops, kv.Put(mentityPartition(m.UserID), mentitySort(m.LinkedEntityID, m.ID), ptr))
		}
	}

	if err := s.kv.AtomicMultiWrite(ctx, ops); err != nil {
		return mapKVError(err)
	}
	m.Version++
	return nil
}

// MentionsByMeeting returns every mention recorded for a meeting.
func (s *Store) MentionsByMeeting(ctx context.Context, userID, meetingID string) ([]*types.Mention, error) {
	items, err := s.kv.QueryPrefix(ctx, mentionPartition(userID), mentionMeetingPrefix(meetingID), 0)
	if err != nil {
		return nil, err
	}

	mentions := make([]*types.Mention, 0, len(items))
	for _, item := range items {
		var m types.Mention
		if err := json.Unmarshal(item.Value, &m); err != nil {
			return nil, fmt.Errorf("graph: unmarshal mention: %w", err)
		}
		m.Version = item.Version
		mentions = append(mentions, &m)
	}
	return mentions, nil
}

// MentionsByState returns mentions in the given resolution state via the
// state index. This is how the review surface lists ambiguous mentions.
func (s *Store) MentionsByState(ctx context.Context, userID string, state types.ResolutionState, limit int) ([]*types.Mention, error) {
	items, err := s.kv.QueryPrefix(ctx, mstatePartition(userID), mstateQueryPrefix(state), limit)
	if err != nil {
		return nil, err
	}
	return s.resolvePointers(ctx, userID, items)
}

// MentionsByEntity returns the mentions linked to an entity via the
// entity-mention index.
func (s *Store) MentionsByEntity(ctx context.Context, userID, entityID string, limit int) ([]*types.Mention, error) {
	items, err := s.kv.QueryPrefix(ctx, mentityPartition(userID), mentityQueryPrefix(entityID), limit)
	if err != nil {
		return nil, err
	}
	return s.resolvePointers(ctx, userID, items)
}

// MentionPointersByEntity returns just the index pointers for an entity's
// mentions. The merge coordinator iterates these without loading bodies
// it may not need.
func (s *Store) MentionPointersByEntity(ctx context.Context, userID, entityID string) ([]MentionPointer, error) {
	items, err := s.kv.QueryPrefix(ctx, mentityPartition(userID), mentityQueryPrefix(entityID), 0)
	if err != nil {
		return nil, err
	}

	ptrs := make([]MentionPointer, 0, len(items))
	for _, item := range items {
		var ptr MentionPointer
		if err := json.Unmarshal(item.Value, &ptr); err != nil {
			return nil, fmt.Errorf("graph: unmarshal mention pointer: %w", err)
		}
		ptrs = append(ptrs, ptr)
	}
	return ptrs, nil
}

func (s *Store) resolvePointers(ctx context.Context, userID string, items []kv.Item) ([]*types.Mention, error) {
	mentions := make([]*types.Mention, 0, len(items))
	for _, item := range items {
		var ptr MentionPointer
		if err := json.Unmarshal(item.Value, &ptr); err != nil {
			return nil, fmt.Errorf("graph: unmarshal mention pointer: %w", err)
		}
		m, err := s.GetMention(ctx, userID, ptr.MeetingID, ptr.MentionID)
		if errors.Is(err, ErrNotFound) {
			// Stale index entry; skip rather than fail the listing.
			s.logger.Warn("stale mention index entry",
				zap.String("user_id", userID),
				zap.String("mention_id", ptr.MentionID))
			continue
		}
		if err != nil {
			return nil, err
		}
		mentions = append(mentions, m)
	}
	return mentions, nil
}
