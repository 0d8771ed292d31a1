package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kairoshq/kairos/internal/kv"
	"github.com/kairoshq/kairos/pkg/types"
)

// CreateMergeAudit records the start of a merge. Creation is conditional:
// if an audit record for the same (from, to) pair already exists, the
// existing record is the cursor and ErrAlreadyExists is returned.
func (s *Store) CreateMergeAudit(ctx context.Context, rec *types.MergeAuditRecord) error {
	now := types.Timestamp(time.Now())
	if rec.CreatedAt == "" {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("graph: marshal merge audit: %w", err)
	}

	err = s.kv.CreateIfAbsent(ctx, kv.Item{
		Partition: mergePartition(rec.UserID),
		Sort:      mergeSort(rec.FromEntityID, rec.ToEntityID),
		Value:     value,
	})
	if errors.Is(err, kv.ErrConditionFailed) {
		return ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	rec.Version = 1
	return nil
}

// GetMergeAudit reads the audit record for a merge pair.
func (s *Store) GetMergeAudit(ctx context.Context, userID, fromID, toID string) (*types.MergeAuditRecord, error) {
	item, err := s.kv.Get(ctx, mergePartition(userID), mergeSort(fromID, toID))
	if err != nil {
		return nil, mapKVError(err)
	}

	var rec types.MergeAuditRecord
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return nil, fmt.Errorf("graph: unmarshal merge audit: %w", err)
	}
	rec.Version = item.Version
	return &rec, nil
}

// UpdateMergeAudit advances the audit cursor, guarded by its version.
func (s *Store) UpdateMergeAudit(ctx context.Context, rec *types.MergeAuditRecord) error {
	rec.UpdatedAt = types.Timestamp(time.Now())

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("graph: marshal merge audit: %w", err)
	}

	err = s.kv.ConditionalUpdate(ctx, mergePartition(rec.UserID), mergeSort(rec.FromEntityID, rec.ToEntityID), value, rec.Version)
	if err != nil {
		return mapKVError(err)
	}
	rec.Version++
	return nil
}

// seenIndexValue records which entities were observed in a meeting.
type seenIndexValue struct {
	MeetingID string   `json:"meeting_id"`
	StartedAt string   `json:"started_at"`
	EntityIDs []string `json:"entity_ids"`
}

// RecordMeetingEntities writes the seen index entry for a meeting: the set
// of entities linked during its processing. Reprocessing overwrites it.
func (s *Store) RecordMeetingEntities(ctx context.Context, userID, meetingID, startedAt string, entityIDs []string) error {
	if startedAt == "" {
		startedAt = types.Timestamp(time.Now())
	}
	value, err := json.Marshal(seenIndexValue{
		MeetingID: meetingID,
		StartedAt: startedAt,
		EntityIDs: entityIDs,
	})
	if err != nil {
		return fmt.Errorf("graph: marshal seen index: %w", err)
	}

	err = s.kv.AtomicMultiWrite(ctx, []kv.Op{
		kv.Put(seenPartition(userID), seenSort(startedAt, meetingID), value),
	})
	return mapKVError(err)
}

// RecentMeetingEntities returns the distinct entity IDs seen in meetings
// that started on or after the cutoff, scanning at most maxMeetings of the
// most recent meetings.
func (s *Store) RecentMeetingEntities(ctx context.Context, userID string, since time.Time, maxMeetings int) ([]string, error) {
	items, err := s.kv.QueryPrefix(ctx, seenPartition(userID), "MTG#", 0)
	if err != nil {
		return nil, err
	}

	// Sort keys are ascending by timestamp; walk the newest entries.
	cutoff := types.Timestamp(since)
	seen := make(map[string]bool)
	var ids []string
	meetings := 0
	for i := len(items) - 1; i >= 0 && meetings < maxMeetings; i-- {
		var entry seenIndexValue
		if err := json.Unmarshal(items[i].Value, &entry); err != nil {
			return nil, fmt.Errorf("graph: unmarshal seen index: %w", err)
		}
		if entry.StartedAt < cutoff {
			break
		}
		meetings++
		for _, id := range entry.EntityIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}
