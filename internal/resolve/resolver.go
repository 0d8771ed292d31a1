package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kairoshq/kairos/internal/extract"
	"github.com/kairoshq/kairos/internal/graph"
	"github.com/kairoshq/kairos/internal/llm"
	"github.com/kairoshq/kairos/pkg/types"
)

// entailmentFloor is the minimum entailment confidence for writing an
// edge. Below it the relationship stays unrecorded.
const entailmentFloor = 0.5

// EntityIndexer maintains an external similarity index over entity
// profiles. The index is advisory: an indexing failure is logged and the
// pipeline continues.
type EntityIndexer interface {
	IndexEntity(ctx context.Context, e *types.Entity) error
	RemoveEntity(ctx context.Context, userID, entityID string) error
}

// Resolver runs the full pipeline for a meeting: attendee linking,
// extraction, mention resolution, side effects, and entailment-gated
// edge writes.
type Resolver struct {
	store     *graph.Store
	extractor *extract.Extractor
	retriever *Retriever
	scorer    Scorer
	generator llm.TextGenerator
	indexer   EntityIndexer
	logger    *zap.Logger
}

// NewResolver creates a resolver. generator gates edge writes; when nil,
// no edges are written.
func NewResolver(store *graph.Store, extractor *extract.Extractor, retriever *Retriever, scorer Scorer, generator llm.TextGenerator, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:     store,
		extractor: extractor,
		retriever: retriever,
		scorer:    scorer,
		generator: generator,
		logger:    logger.Named("resolve"),
	}
}

// SetEntityIndexer attaches an optional profile index that is refreshed
// whenever an entity is created or gains a mention.
func (r *Resolver) SetEntityIndexer(indexer EntityIndexer) {
	r.indexer = indexer
}

func (r *Resolver) indexEntity(ctx context.Context, e *types.Entity) {
	if r.indexer == nil {
		return
	}
	if err := r.indexer.IndexEntity(ctx, e); err != nil {
		r.logger.Warn("entity index update failed",
			zap.String("entity_id", e.ID), zap.Error(err))
	}
}

// MeetingResult summarizes one meeting's processing.
type MeetingResult struct {
	MeetingID   string `json:"meeting_id"`
	Mentions    int    `json:"mentions"`
	Linked      int    `json:"linked"`
	Ambiguous   int    `json:"ambiguous"`
	NewEntities int    `json:"new_entities"`
	Edges       int    `json:"edges"`

	// Degraded is set when extraction failed: the meeting and its
	// attendees are still recorded, mentions are not.
	Degraded bool `json:"degraded,omitempty"`
}

// ProcessMeeting ingests one meeting. Attendees with emails are linked
// deterministically first; extracted mentions are then resolved one by
// one. Reprocessing the same meeting is a no-op for mentions already
// stored.
func (r *Resolver) ProcessMeeting(ctx context.Context, meeting *types.Meeting) (*MeetingResult, error) {
	result := &MeetingResult{MeetingID: meeting.MeetingID}
	seenEntities := make(map[string]bool)

	attendeeByEmail, err := r.ensureAttendeeEntities(ctx, meeting)
	if err != nil {
		return nil, err
	}
	for _, e := range attendeeByEmail {
		seenEntities[e.ID] = true
	}

	verified, err := r.extractor.ExtractMentions(ctx, meeting)
	if errors.Is(err, extract.ErrExtractionDegraded) {
		r.logger.Warn("extraction degraded, recording meeting without mentions",
			zap.String("meeting_id", meeting.MeetingID), zap.Error(err))
		result.Degraded = true
	} else if err != nil {
		return nil, err
	}

	for _, vm := range verified {
		m := r.buildMention(meeting, vm)
		outcome, err := r.resolveMention(ctx, meeting, m)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", m.MentionText, err)
		}
		if outcome == nil {
			// Already stored by a previous run.
			continue
		}
		result.Mentions++
		switch outcome.ResolutionState {
		case types.StateLinked:
			result.Linked++
		case types.StateAmbiguous:
			result.Ambiguous++
		case types.StateNewEntityCreated:
			result.NewEntities++
		}
		if outcome.LinkedEntityID != "" {
			seenEntities[outcome.LinkedEntityID] = true
			edges, err := r.writeHintEdges(ctx, meeting, outcome)
			if err != nil {
				return nil, err
			}
			result.Edges += edges
		}
	}

	ids := make([]string, 0, len(seenEntities))
	for id := range seenEntities {
		ids = append(ids, id)
	}
	if err := r.store.RecordMeetingEntities(ctx, meeting.UserID, meeting.MeetingID, meeting.StartedAt, ids); err != nil {
		return nil, err
	}

	r.logger.Info("meeting processed",
		zap.String("meeting_id", meeting.MeetingID),
		zap.Int("mentions", result.Mentions),
		zap.Int("linked", result.Linked),
		zap.Int("ambiguous", result.Ambiguous),
		zap.Int("new_entities", result.NewEntities),
		zap.Bool("degraded", result.Degraded))
	return result, nil
}

// ensureAttendeeEntities resolves every attendee with an email to an
// entity, creating resolved Person entities as needed, and keeps their
// name aliases current.
func (r *Resolver) ensureAttendeeEntities(ctx context.Context, meeting *types.Meeting) (map[string]*types.Entity, error) {
	out := make(map[string]*types.Entity)
	for _, a := range meeting.Attendees {
		if a.Email == "" {
			continue
		}
		e, err := r.store.GetOrCreateByEmail(ctx, meeting.UserID, a.Email, a.Name)
		if err != nil {
			return nil, err
		}
		alias := types.NormalizeText(a.Name)
		if alias != "" && !e.HasAlias(alias) {
			if err := r.updateEntityRetry(ctx, e, func(fresh *types.Entity) []types.MentionEvidence {
				fresh.AddAlias(alias)
				return nil
			}); err != nil {
				return nil, err
			}
		}
		out[normalizedEmail(a.Email)] = e
	}
	return out, nil
}

func (r *Resolver) buildMention(meeting *types.Meeting, vm extract.VerifiedMention) *types.Mention {
	ex := vm.Mention

	var segment *types.TranscriptSegment
	for i := range meeting.Segments {
		if meeting.Segments[i].SegmentID == ex.SegmentID {
			segment = &meeting.Segments[i]
			break
		}
	}

	var t0, t1 float64
	if ex.T0 != nil && ex.T1 != nil {
		t0, t1 = *ex.T0, *ex.T1
	} else if segment != nil {
		t0, t1 = segment.T0, segment.T1
	}
	localContext := ex.LocalContext
	speaker := ""
	if segment != nil {
		if localContext == "" {
			localContext = segment.Text
		}
		speaker = segment.Speaker
	}

	return &types.Mention{
		ID:           graph.MentionID(meeting.MeetingID, ex.SegmentID, ex.MentionText),
		UserID:       meeting.UserID,
		MentionText:  ex.MentionText,
		Type:         types.EntityType(ex.Type),
		LocalContext: localContext,
		Evidence: types.MentionEvidence{
			MeetingID:  meeting.MeetingID,
			SegmentID:  ex.SegmentID,
			T0:         t0,
			T1:         t1,
			Quote:      ex.Quote,
			Confidence: ex.Confidence,
		},
		RoleHint:              ex.RoleHint,
		OrgHint:               ex.OrgHint,
		SpeakerEmail:          speaker,
		MeetingAttendeeEmails: meeting.AttendeeEmails(),
		Confidence:            ex.Confidence,
		ExtractorVersion:      extract.ExtractorVersion,
	}
}

// resolveMention decides a mention's resolution and persists it with all
// side effects. Returns nil when the mention already exists.
func (r *Resolver) resolveMention(ctx context.Context, meeting *types.Meeting, m *types.Mention) (*types.Mention, error) {
	// Tier 1: deterministic attendee match for Person mentions. Only an
	// attendee with an email can be hard-linked; a matched attendee
	// without one still goes through scoring, since without the email
	// there is no entity to link deterministically.
	if m.Type == types.EntityPerson {
		if match := MatchAttendee(m.MentionText, meeting.Attendees); match != nil && match.Attendee.Email != "" {
			e, err := r.store.GetOrCreateByEmail(ctx, m.UserID, match.Attendee.Email, match.Attendee.Name)
			if err != nil {
				return nil, err
			}
			// A deterministic email-backed link is certain regardless of
			// how fuzzy the name match was.
			return r.linkMention(ctx, m, e, 1.0)
		}
	}

	// Tier 2: retrieve and score.
	candidates, err := r.retriever.Candidates(ctx, m)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return r.createEntityForMention(ctx, m)
	}

	scores, err := r.scorer.ScoreCandidates(ctx, m, candidates)
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return r.createEntityForMention(ctx, m)
	}

	top := scores[0]
	margin := 1.0
	if len(scores) > 1 {
		margin = top.Score - scores[1].Score
	}

	switch {
	case top.Score >= HighConfidence && margin >= LinkMargin:
		for _, c := range candidates {
			if c.ID == top.EntityID {
				return r.linkMention(ctx, m, c, top.Score)
			}
		}
		return nil, fmt.Errorf("scored entity %s not in candidate pool", top.EntityID)

	case top.Score <= LowConfidence:
		return r.createEntityForMention(ctx, m)

	default:
		return r.markAmbiguous(ctx, m, scores)
	}
}

// linkMention persists a linked mention and its entity side effects in
// one atomic batch: the mention never commits without the entity update,
// so a failed run leaves nothing to heal. Retries once with a fresh read
// when the entity guard loses a race.
func (r *Resolver) linkMention(ctx context.Context, m *types.Mention, e *types.Entity, score float64) (*types.Mention, error) {
	m.ResolutionState = types.StateLinked
	m.LinkedEntityID = e.ID
	m.Confidence = score

	apply := linkSideEffects(m)
	overflow := apply(e)
	err := r.store.CreateLinkedMention(ctx, m, e, overflow)
	if errors.Is(err, graph.ErrWriteConflict) {
		fresh, gerr := r.store.GetEntity(ctx, e.UserID, e.ID)
		if gerr != nil {
			return nil, gerr
		}
		overflow = apply(fresh)
		if err = r.store.CreateLinkedMention(ctx, m, fresh, overflow); err == nil {
			*e = *fresh
		}
	}
	if errors.Is(err, graph.ErrAlreadyExists) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.indexEntity(ctx, e)
	return m, nil
}

// createEntityForMention creates a provisional entity from the mention
// and links to it.
func (r *Resolver) createEntityForMention(ctx context.Context, m *types.Mention) (*types.Mention, error) {
	e := &types.Entity{
		ID:           graph.NewEntityID(),
		UserID:       m.UserID,
		Type:         m.Type,
		DisplayName:  m.MentionText,
		Status:       types.StatusProvisional,
		Organization: m.OrgHint,
		Role:         m.RoleHint,
		MentionCount: 1,
		LastSeen:     types.Timestamp(time.Now()),
		TopEvidence:  []types.MentionEvidence{m.Evidence},
	}
	e.AddAlias(types.NormalizeText(m.MentionText))
	e.TouchMeeting(m.Evidence.MeetingID)

	m.ResolutionState = types.StateNewEntityCreated
	m.LinkedEntityID = e.ID

	// One batch: the mention must never commit without its entity, or
	// reprocessing would skip the mention and leave a dangling link.
	err := r.store.CreateMentionWithEntity(ctx, m, e)
	if errors.Is(err, graph.ErrAlreadyExists) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.indexEntity(ctx, e)
	r.logger.Info("provisional entity created",
		zap.String("user_id", m.UserID),
		zap.String("entity_id", e.ID),
		zap.String("display_name", e.DisplayName))
	return m, nil
}

// markAmbiguous persists the mention with its candidate set for review.
// An ambiguous mention never links an entity.
func (r *Resolver) markAmbiguous(ctx context.Context, m *types.Mention, scores []types.CandidateScore) (*types.Mention, error) {
	kept := make([]types.CandidateScore, 0, len(scores))
	for _, s := range scores {
		if s.Score >= LowConfidence {
			kept = append(kept, s)
		}
	}

	m.ResolutionState = types.StateAmbiguous
	m.LinkedEntityID = ""
	m.CandidateScores = kept
	m.CandidateEntityIDs = make([]string, len(kept))
	for i, s := range kept {
		m.CandidateEntityIDs[i] = s.EntityID
	}

	err := r.store.CreateMention(ctx, m)
	if errors.Is(err, graph.ErrAlreadyExists) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ConfirmMention resolves an ambiguous mention to a user-chosen entity.
// The chosen entity must be one of the stored candidates.
func (r *Resolver) ConfirmMention(ctx context.Context, userID, meetingID, mentionID, entityID string) (*types.Mention, error) {
	m, err := r.store.GetMention(ctx, userID, meetingID, mentionID)
	if err != nil {
		return nil, err
	}
	if m.ResolutionState != types.StateAmbiguous {
		return nil, fmt.Errorf("mention %s is not ambiguous", mentionID)
	}

	valid := false
	for _, id := range m.CandidateEntityIDs {
		if id == entityID {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("entity %s is not a candidate for mention %s", entityID, mentionID)
	}

	e, err := r.store.GetCanonicalEntity(ctx, userID, entityID)
	if err != nil {
		return nil, err
	}

	m.ResolutionState = types.StateLinked
	m.LinkedEntityID = e.ID
	m.Confidence = 1.0
	m.CandidateEntityIDs = nil
	m.CandidateScores = nil

	if err := r.store.UpdateMentionResolution(ctx, m, types.StateAmbiguous, ""); err != nil {
		return nil, err
	}
	if err := r.applyLinkSideEffects(ctx, e, m); err != nil {
		return nil, err
	}
	r.indexEntity(ctx, e)
	return m, nil
}

// linkSideEffects returns the entity mutation a newly linked mention
// implies: meeting ring, counts, evidence (with overflow), alias, and
// hint-derived caches.
func linkSideEffects(m *types.Mention) func(*types.Entity) []types.MentionEvidence {
	return func(fresh *types.Entity) []types.MentionEvidence {
		fresh.TouchMeeting(m.Evidence.MeetingID)
		fresh.MentionCount++
		fresh.LastSeen = types.Timestamp(time.Now())
		fresh.AddAlias(types.NormalizeText(m.MentionText))
		if m.OrgHint != "" {
			fresh.Organization = m.OrgHint
		}
		if m.RoleHint != "" {
			fresh.Role = m.RoleHint
		}
		top, overflow := graph.MergeTopEvidence(fresh.TopEvidence, m.Evidence)
		fresh.TopEvidence = top
		return overflow
	}
}

// applyLinkSideEffects updates an already stored mention's linked entity,
// retrying once on a write conflict.
func (r *Resolver) applyLinkSideEffects(ctx context.Context, e *types.Entity, m *types.Mention) error {
	return r.updateEntityRetry(ctx, e, linkSideEffects(m))
}

// updateEntityRetry applies a mutation to an entity and writes it,
// retrying once with a fresh read when the guarded write loses a race.
func (r *Resolver) updateEntityRetry(ctx context.Context, e *types.Entity, apply func(*types.Entity) []types.MentionEvidence) error {
	overflow := apply(e)
	err := r.store.UpdateEntity(ctx, e, overflow)
	if !errors.Is(err, graph.ErrWriteConflict) {
		return err
	}

	fresh, err := r.store.GetEntity(ctx, e.UserID, e.ID)
	if err != nil {
		return err
	}
	overflow = apply(fresh)
	if err := r.store.UpdateEntity(ctx, fresh, overflow); err != nil {
		return err
	}
	*e = *fresh
	return nil
}

// writeHintEdges writes the relationship edges a linked Person mention's
// verified org hint supports: the org entity is resolved or created, the
// quote is entailment-checked, and only a supported relationship becomes
// an edge.
func (r *Resolver) writeHintEdges(ctx context.Context, meeting *types.Meeting, m *types.Mention) (int, error) {
	if r.generator == nil || m.Type != types.EntityPerson || m.OrgHint == "" {
		return 0, nil
	}

	person, err := r.store.GetCanonicalEntity(ctx, m.UserID, m.LinkedEntityID)
	if err != nil {
		return 0, err
	}

	org, err := r.findOrCreateOrganization(ctx, m.UserID, m.OrgHint)
	if err != nil {
		return 0, err
	}

	entailed, confidence, err := r.checkEntailment(ctx, m.Evidence.Quote, person.DisplayName, org.DisplayName, types.EdgeWorksAt)
	if err != nil {
		// Edges are additive; an entailment failure skips the edge
		// rather than failing the meeting.
		r.logger.Warn("entailment check failed", zap.Error(err))
		return 0, nil
	}
	if !entailed || confidence < entailmentFloor {
		return 0, nil
	}

	edge := &types.Edge{
		UserID:       m.UserID,
		FromEntityID: person.ID,
		ToEntityID:   org.ID,
		Type:         types.EdgeWorksAt,
		MeetingID:    meeting.MeetingID,
		Evidence: []types.EdgeEvidence{{
			MeetingID: meeting.MeetingID,
			Quote:     m.Evidence.Quote,
			T0:        m.Evidence.T0,
			T1:        m.Evidence.T1,
		}},
		Confidence: confidence,
		Verified:   true,
	}
	if err := r.store.UpsertEdge(ctx, edge); err != nil {
		return 0, err
	}

	if err := r.updateEntityRetry(ctx, person, func(fresh *types.Entity) []types.MentionEvidence {
		fresh.EdgeCount++
		return nil
	}); err != nil {
		return 0, err
	}
	return 1, nil
}

// ProposeEdge entailment-gates and writes an arbitrary edge between two
// entities, with the quote as evidence. Used by the API surface.
func (r *Resolver) ProposeEdge(ctx context.Context, userID, fromID, toID string, edgeType types.EdgeType, meetingID, quote string) (*types.Edge, error) {
	if !types.IsValidEdgeType(edgeType) {
		return nil, fmt.Errorf("invalid edge type %q", edgeType)
	}

	from, err := r.store.GetCanonicalEntity(ctx, userID, fromID)
	if err != nil {
		return nil, err
	}
	to, err := r.store.GetCanonicalEntity(ctx, userID, toID)
	if err != nil {
		return nil, err
	}

	confidence := 1.0
	verified := false
	if r.generator != nil {
		entailed, c, err := r.checkEntailment(ctx, quote, from.DisplayName, to.DisplayName, edgeType)
		if err != nil {
			return nil, err
		}
		if !entailed || c < entailmentFloor {
			return nil, fmt.Errorf("quote does not support %s between %s and %s", edgeType, from.DisplayName, to.DisplayName)
		}
		confidence = c
		verified = true
	}

	edge := &types.Edge{
		UserID:       userID,
		FromEntityID: from.ID,
		ToEntityID:   to.ID,
		Type:         edgeType,
		MeetingID:    meetingID,
		Evidence:     []types.EdgeEvidence{{MeetingID: meetingID, Quote: quote}},
		Confidence:   confidence,
		Verified:     verified,
	}
	if err := r.store.UpsertEdge(ctx, edge); err != nil {
		return nil, err
	}
	return edge, nil
}

func (r *Resolver) checkEntailment(ctx context.Context, quote, fromName, toName string, edgeType types.EdgeType) (bool, float64, error) {
	raw, err := r.generator.Complete(ctx, llm.EdgeEntailmentPrompt(quote, fromName, toName, edgeType))
	if err != nil {
		return false, 0, err
	}
	resp, err := llm.ParseEntailmentResponse(raw)
	if err != nil {
		return false, 0, err
	}
	return resp.Entailed, resp.Confidence, nil
}

// findOrCreateOrganization resolves an org hint to an Organization
// entity by exact normalized alias, creating a provisional one when
// nothing matches.
func (r *Resolver) findOrCreateOrganization(ctx context.Context, userID, name string) (*types.Entity, error) {
	norm := types.NormalizeText(name)
	ids, err := r.store.QueryAliasPrefix(ctx, userID, norm, 0)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		e, err := r.store.GetCanonicalEntity(ctx, userID, id)
		if errors.Is(err, graph.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if e.Type == types.EntityOrganization && e.HasAlias(norm) {
			return e, nil
		}
	}

	e := &types.Entity{
		ID:          graph.NewEntityID(),
		UserID:      userID,
		Type:        types.EntityOrganization,
		DisplayName: name,
		Status:      types.StatusProvisional,
	}
	e.AddAlias(norm)
	if err := r.store.CreateEntity(ctx, e); err != nil {
		return nil, err
	}
	r.indexEntity(ctx, e)
	return e, nil
}

func normalizedEmail(email string) string {
	return strings.ToLower(email)
}
