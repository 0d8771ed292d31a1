package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kairoshq/kairos/internal/kv"
	"github.com/kairoshq/kairos/pkg/types"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("graph: not found")

	// ErrAlreadyExists indicates a create hit an existing record.
	ErrAlreadyExists = errors.New("graph: already exists")

	// ErrWriteConflict indicates a guarded write lost a race. Callers
	// re-read and retry once; a second loss propagates.
	ErrWriteConflict = errors.New("graph: write conflict")
)

// Store persists entities, mentions, and edges on a kv.Store, keeping
// every secondary index consistent with its primary via atomic batches.
type Store struct {
	kv     kv.Store
	logger *zap.Logger
}

// NewStore creates a graph store on the given backend.
func NewStore(backend kv.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: backend, logger: logger.Named("graph")}
}

// NewEntityID returns a fresh entity identifier.
func NewEntityID() string {
	return "ent-" + uuid.NewString()
}

type emailIndexValue struct {
	EntityID string `json:"entity_id"`
}

type aliasIndexValue struct {
	EntityID string `json:"entity_id"`
}

// MentionPointer locates a mention from an index item.
type MentionPointer struct {
	MeetingID string `json:"meeting_id"`
	MentionID string `json:"mention_id"`
}

func mapKVError(err error) error {
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, kv.ErrConditionFailed):
		return ErrWriteConflict
	default:
		return err
	}
}

// entityCreateOps stamps the entity's timestamps and builds the batch
// that writes it: the record itself, its alias index items, and the
// conditional email index item when a primary email is set.
func entityCreateOps(e *types.Entity) ([]kv.Op, error) {
	now := types.Timestamp(time.Now())
	if e.CreatedAt == "" {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("graph: marshal entity: %w", err)
	}

	ops := []kv.Op{
		kv.PutIfAbsent(entityPartition(e.UserID), entitySort(e.ID), value),
	}
	for _, alias := range e.Aliases {
		av, err := json.Marshal(aliasIndexValue{EntityID: e.ID})
		if err != nil {
			return nil, fmt.Errorf("graph: marshal alias index: %w", err)
		}
		ops = append(ops, kv.Put(aliasPartition(e.UserID), aliasSort(alias, e.ID), av))
	}
	if e.PrimaryEmail != "" {
		ev, err := json.Marshal(emailIndexValue{EntityID: e.ID})
		if err != nil {
			return nil, fmt.Errorf("graph: marshal email index: %w", err)
		}
		ops = append(ops, kv.PutIfAbsent(emailPartition(e.UserID), emailSort(e.PrimaryEmail), ev))
	}
	return ops, nil
}

// CreateEntity writes a new entity together with its alias index items
// and, when a primary email is set, the email index item. The email index
// is created conditionally: a concurrent create for the same email fails
// the whole batch with ErrAlreadyExists.
func (s *Store) CreateEntity(ctx context.Context, e *types.Entity) error {
	ops, err := entityCreateOps(e)
	if err != nil {
		return err
	}

	if err := s.kv.AtomicMultiWrite(ctx, ops); err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return ErrAlreadyExists
		}
		return err
	}

	e.Version = 1
	s.logger.Info("entity created",
		zap.String("user_id", e.UserID),
		zap.String("entity_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("status", string(e.Status)))
	return nil
}

// GetEntity reads one entity.
func (s *Store) GetEntity(ctx context.Context, userID, entityID string) (*types.Entity, error) {
	item, err := s.kv.Get(ctx, entityPartition(userID), entitySort(entityID))
	if err != nil {
		return nil, mapKVError(err)
	}

	var e types.Entity
	if err := json.Unmarshal(item.Value, &e); err != nil {
		return nil, fmt.Errorf("graph: unmarshal entity %s: %w", entityID, err)
	}
	e.Version = item.Version
	return &e, nil
}

// GetCanonicalEntity reads an entity and follows merge tombstones to the
// surviving entity. The chain is finite: merged_into always resolves.
func (s *Store) GetCanonicalEntity(ctx context.Context, userID, entityID string) (*types.Entity, error) {
	const maxHops = 16
	id := entityID
	for i := 0; i < maxHops; i++ {
		e, err := s.GetEntity(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if !e.IsMerged() {
			return e, nil
		}
		id = e.MergedInto
	}
	return nil, fmt.Errorf("graph: merge chain too deep starting at %s", entityID)
}

// entityUpdateOps builds the version-guarded entity replace plus the
// alias/email index rewrites and overflow writes that keep the secondary
// stores consistent with it.
func (s *Store) entityUpdateOps(ctx context.Context, e *types.Entity, overflow []types.MentionEvidence) ([]kv.Op, error) {
	prev, err := s.GetEntity(ctx, e.UserID, e.ID)
	if err != nil {
		return nil, err
	}

	e.UpdatedAt = types.Timestamp(time.Now())
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("graph: marshal entity: %w", err)
	}

	ops := []kv.Op{
		kv.Update(entityPartition(e.UserID), entitySort(e.ID), value, e.Version),
	}

	prevAliases := make(map[string]bool, len(prev.Aliases))
	for _, a := range prev.Aliases {
		prevAliases[a] = true
	}
	nextAliases := make(map[string]bool, len(e.Aliases))
	for _, a := range e.Aliases {
		nextAliases[a] = true
	}
	for _, a := range e.Aliases {
		if !prevAliases[a] {
			av, err := json.Marshal(aliasIndexValue{EntityID: e.ID})
			if err != nil {
				return nil, fmt.Errorf("graph: marshal alias index: %w", err)
			}
			ops = append(ops, kv.Put(aliasPartition(e.UserID), aliasSort(a, e.ID), av))
		}
	}
	for _, a := range prev.Aliases {
		if !nextAliases[a] {
			ops = append(ops, kv.Delete(aliasPartition(e.UserID), aliasSort(a, e.ID)))
		}
	}

	if e.PrimaryEmail != "" && prev.PrimaryEmail == "" {
		ev, err := json.Marshal(emailIndexValue{EntityID: e.ID})
		if err != nil {
			return nil, fmt.Errorf("graph: marshal email index: %w", err)
		}
		ops = append(ops, kv.PutIfAbsent(emailPartition(e.UserID), emailSort(e.PrimaryEmail), ev))
	}

	return append(ops, s.overflowOps(e.UserID, e.ID, overflow)...), nil
}

// UpdateEntity replaces an entity guarded by its version and rewrites the
// alias and email indexes to match, all in one atomic batch. overflow
// items, if any, are written in the same batch so evidence is never lost
// between the entity and its overflow store.
func (s *Store) UpdateEntity(ctx context.Context, e *types.Entity, overflow []types.MentionEvidence) error {
	ops, err := s.entityUpdateOps(ctx, e, overflow)
	if err != nil {
		return err
	}

	if err := s.kv.AtomicMultiWrite(ctx, ops); err != nil {
		return mapKVError(err)
	}
	e.Version++
	return nil
}

// GetEntityByEmail looks up an entity through the email index.
func (s *Store) GetEntityByEmail(ctx context.Context, userID, email string) (*types.Entity, error) {
	item, err := s.kv.Get(ctx, emailPartition(userID), emailSort(email))
	if err != nil {
		return nil, mapKVError(err)
	}

	var ref emailIndexValue
	if err := json.Unmarshal(item.Value, &ref); err != nil {
		return nil, fmt.Errorf("graph: unmarshal email index: %w", err)
	}
	return s.GetCanonicalEntity(ctx, userID, ref.EntityID)
}

// GetOrCreateByEmail returns the entity holding the email, creating a
// resolved Person entity when none exists. The create races safely: if a
// concurrent writer claims the email first, the winner's entity is
// returned.
func (s *Store) GetOrCreateByEmail(ctx context.Context, userID, email, displayName string) (*types.Entity, error) {
	if e, err := s.GetEntityByEmail(ctx, userID, email); err == nil {
		return e, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	e := &types.Entity{
		ID:           NewEntityID(),
		UserID:       userID,
		Type:         types.EntityPerson,
		DisplayName:  displayName,
		PrimaryEmail: email,
		Status:       types.StatusResolved,
	}
	if displayName != "" {
		e.AddAlias(types.NormalizeText(displayName))
	}

	err := s.CreateEntity(ctx, e)
	if errors.Is(err, ErrAlreadyExists) {
		// Lost the race; the email now resolves.
		return s.GetEntityByEmail(ctx, userID, email)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// QueryAliasPrefix returns the distinct entity IDs whose alias index
// entries start with the normalized prefix.
func (s *Store) QueryAliasPrefix(ctx context.Context, userID, normPrefix string, limit int) ([]string, error) {
	items, err := s.kv.QueryPrefix(ctx, aliasPartition(userID), aliasQueryPrefix(normPrefix), limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(items))
	var ids []string
	for _, item := range items {
		var ref aliasIndexValue
		if err := json.Unmarshal(item.Value, &ref); err != nil {
			return nil, fmt.Errorf("graph: unmarshal alias index: %w", err)
		}
		if !seen[ref.EntityID] {
			seen[ref.EntityID] = true
			ids = append(ids, ref.EntityID)
		}
	}
	return ids, nil
}
