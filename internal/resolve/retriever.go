package resolve

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kairoshq/kairos/internal/graph"
	"github.com/kairoshq/kairos/pkg/types"
)

// EmbeddingCandidateSource returns entity IDs whose stored profile
// embeddings are similar to the given text. Optional; wired only when an
// embedding generator and a vector index are configured.
type EmbeddingCandidateSource func(ctx context.Context, userID, text string) ([]string, error)

// Retriever assembles the candidate entity pool for a mention from four
// deterministic sources (alias index, attendee emails, speaker, recent
// meetings) plus the optional embedding source. The pool is deduplicated,
// restricted to the mention's entity type, and capped at MaxCandidates
// keeping the most recently seen.
type Retriever struct {
	store  *graph.Store
	embed  EmbeddingCandidateSource
	logger *zap.Logger
}

// NewRetriever creates a retriever. embed may be nil.
func NewRetriever(store *graph.Store, embed EmbeddingCandidateSource, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, embed: embed, logger: logger.Named("retriever")}
}

// Candidates returns the candidate pool for a mention.
func (r *Retriever) Candidates(ctx context.Context, m *types.Mention) ([]*types.Entity, error) {
	pool := make(map[string]*types.Entity)

	add := func(e *types.Entity) {
		if e == nil || e.IsMerged() || e.Type != m.Type {
			return
		}
		pool[e.ID] = e
	}
	addByID := func(id string) error {
		if _, ok := pool[id]; ok {
			return nil
		}
		e, err := r.store.GetCanonicalEntity(ctx, m.UserID, id)
		if errors.Is(err, graph.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		add(e)
		return nil
	}

	// Alias index, by normalized mention prefix.
	aliasIDs, err := r.store.QueryAliasPrefix(ctx, m.UserID, types.NormalizeText(m.MentionText), 0)
	if err != nil {
		return nil, err
	}
	for _, id := range aliasIDs {
		if err := addByID(id); err != nil {
			return nil, err
		}
	}

	// Attendees, gated on loose name plausibility.
	for _, email := range m.MeetingAttendeeEmails {
		e, err := r.store.GetEntityByEmail(ctx, m.UserID, email)
		if errors.Is(err, graph.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if entitySimilarity(m.MentionText, e) >= AttendeeGate {
			add(e)
		}
	}

	// The speaker is always a plausible referent of their own words.
	if m.SpeakerEmail != "" {
		e, err := r.store.GetEntityByEmail(ctx, m.UserID, m.SpeakerEmail)
		if err != nil && !errors.Is(err, graph.ErrNotFound) {
			return nil, err
		}
		add(e)
	}

	// Entities seen in recent meetings, loosely name-matched.
	since := time.Now().AddDate(0, 0, -LookbackDays)
	recentIDs, err := r.store.RecentMeetingEntities(ctx, m.UserID, since, LookbackMeetings)
	if err != nil {
		return nil, err
	}
	for _, id := range recentIDs {
		if _, ok := pool[id]; ok {
			continue
		}
		e, err := r.store.GetCanonicalEntity(ctx, m.UserID, id)
		if errors.Is(err, graph.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if entitySimilarity(m.MentionText, e) >= LooseSimilarity {
			add(e)
		}
	}

	// Optional embedding neighbours.
	if r.embed != nil {
		embedIDs, err := r.embed(ctx, m.UserID, m.MentionText+" "+m.LocalContext)
		if err != nil {
			// The embedding source is additive; a failure narrows the
			// pool instead of failing resolution.
			r.logger.Warn("embedding candidate source failed", zap.Error(err))
		} else {
			for _, id := range embedIDs {
				if err := addByID(id); err != nil {
					return nil, err
				}
			}
		}
	}

	candidates := make([]*types.Entity, 0, len(pool))
	for _, e := range pool {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].LastSeen != candidates[j].LastSeen {
			return candidates[i].LastSeen > candidates[j].LastSeen
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}

	r.logger.Debug("candidate pool assembled",
		zap.String("mention_text", m.MentionText),
		zap.Int("candidates", len(candidates)))
	return candidates, nil
}

// entitySimilarity is the best name similarity across the entity's
// display name, canonical name, and aliases.
func entitySimilarity(mentionText string, e *types.Entity) float64 {
	best := NameSimilarity(mentionText, e.DisplayName)
	if e.CanonicalName != "" {
		if s := NameSimilarity(mentionText, e.CanonicalName); s > best {
			best = s
		}
	}
	for _, alias := range e.Aliases {
		if s := NameSimilarity(mentionText, alias); s > best {
			best = s
		}
	}
	return best
}
