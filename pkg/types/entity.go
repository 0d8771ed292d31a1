package types

import "time"

// Entity is a persistent identity in the knowledge graph: a person,
// organization, or project that accumulates evidence across meetings.
type Entity struct {
	ID          string     `json:"entity_id"`
	UserID      string     `json:"user_id"`
	Type        EntityType `json:"type"`
	DisplayName string     `json:"display_name"`

	// CanonicalName is the user-confirmed name, if any.
	CanonicalName string `json:"canonical_name,omitempty"`

	// PrimaryEmail is the deterministic identifier for a Person entity.
	// An entity with a primary email is resolved, not provisional.
	PrimaryEmail string `json:"primary_email,omitempty"`

	Aliases []string     `json:"aliases"`
	Status  EntityStatus `json:"status"`

	// MergedInto is set iff Status is StatusMerged. It always resolves,
	// directly or transitively, to a non-merged entity.
	MergedInto string `json:"merged_into,omitempty"`
	MergedAt   string `json:"merged_at,omitempty"`

	// Derived caches refreshed from verified mention hints.
	Organization string `json:"organization,omitempty"`
	Role         string `json:"role,omitempty"`

	// RecentMeetingIDs is a ring buffer of the meetings this entity was
	// last seen in, newest first, capped at MaxRecentMeetings.
	RecentMeetingIDs []string `json:"recent_meeting_ids,omitempty"`

	// TopEvidence holds the best inline evidence: the 5 most recent plus
	// the 5 highest-confidence items, capped at MaxTopEvidence. Excess
	// evidence moves to the overflow store.
	TopEvidence []MentionEvidence `json:"top_evidence,omitempty"`

	MentionCount int    `json:"mention_count"`
	EdgeCount    int    `json:"edge_count"`
	LastSeen     string `json:"last_seen,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`

	// Version is the store's conditional-update guard. It is assigned on
	// read and never serialized.
	Version int64 `json:"-"`
}

// IsMerged reports whether the entity is a merge tombstone.
func (e *Entity) IsMerged() bool {
	return e.Status == StatusMerged
}

// HasAlias reports whether the entity carries the given normalized alias.
func (e *Entity) HasAlias(alias string) bool {
	for _, a := range e.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}

// AddAlias appends a normalized alias if not already present.
func (e *Entity) AddAlias(alias string) {
	if alias == "" || e.HasAlias(alias) {
		return
	}
	e.Aliases = append(e.Aliases, alias)
}

// TouchMeeting records that the entity was seen in the given meeting,
// maintaining the bounded ring (newest first, no duplicates).
func (e *Entity) TouchMeeting(meetingID string) {
	ring := make([]string, 0, MaxRecentMeetings)
	ring = append(ring, meetingID)
	for _, id := range e.RecentMeetingIDs {
		if id == meetingID {
			continue
		}
		ring = append(ring, id)
		if len(ring) == MaxRecentMeetings {
			break
		}
	}
	e.RecentMeetingIDs = ring
}

// SeenInMeeting reports whether the meeting is in the entity's recent ring.
func (e *Entity) SeenInMeeting(meetingID string) bool {
	for _, id := range e.RecentMeetingIDs {
		if id == meetingID {
			return true
		}
	}
	return false
}

// MentionEvidence grounds a mention in the transcript: the verified quote
// plus its exact location.
type MentionEvidence struct {
	MeetingID  string  `json:"meeting_id"`
	SegmentID  string  `json:"segment_id"`
	T0         float64 `json:"t0"`
	T1         float64 `json:"t1"`
	Quote      string  `json:"quote"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Mention is one grounded occurrence of an entity-like reference in a
// transcript. Mentions are created once and mutated only to transition
// resolution state; they are never deleted.
type Mention struct {
	ID           string     `json:"mention_id"`
	UserID       string     `json:"user_id"`
	MentionText  string     `json:"mention_text"`
	Type         EntityType `json:"type"`
	LocalContext string     `json:"local_context"`

	Evidence MentionEvidence `json:"evidence"`

	// Hints from extraction; present only when independently verified.
	RoleHint string `json:"role_hint,omitempty"`
	OrgHint  string `json:"org_hint,omitempty"`

	SpeakerEmail          string   `json:"speaker_email,omitempty"`
	MeetingAttendeeEmails []string `json:"meeting_attendee_emails,omitempty"`

	ResolutionState ResolutionState `json:"resolution_state"`

	// LinkedEntityID is set iff ResolutionState is linked or
	// new_entity_created. An ambiguous mention never carries one.
	LinkedEntityID string `json:"linked_entity_id,omitempty"`

	// Candidate ids and scores are set iff ResolutionState is ambiguous.
	CandidateEntityIDs []string         `json:"candidate_entity_ids,omitempty"`
	CandidateScores    []CandidateScore `json:"candidate_scores,omitempty"`

	Confidence       float64 `json:"confidence"`
	ExtractorVersion string  `json:"extractor_version"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at,omitempty"`

	Version int64 `json:"-"`
}

// CandidateScore carries one candidate's confidence score with reasoning
// for transparency.
type CandidateScore struct {
	EntityID   string  `json:"entity_id"`
	Score      float64 `json:"score"`
	Confidence string  `json:"confidence,omitempty"` // HIGH | MEDIUM | LOW
	Reasoning  string  `json:"reasoning,omitempty"`
}

// EdgeEvidence grounds a relationship edge in the transcript.
type EdgeEvidence struct {
	MeetingID string  `json:"meeting_id"`
	Quote     string  `json:"quote"`
	T0        float64 `json:"t0"`
	T1        float64 `json:"t1"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// Edge is a directed, typed relationship between two entities. The store
// persists every edge twice (outgoing and incoming projection) so both
// traversal directions are prefix queries; the projections are written and
// deleted together atomically and always carry identical content.
type Edge struct {
	UserID       string   `json:"user_id"`
	FromEntityID string   `json:"from_entity_id"`
	ToEntityID   string   `json:"to_entity_id"`
	Type         EdgeType `json:"edge_type"`
	MeetingID    string   `json:"meeting_id"`

	// Properties carry type-specific attributes, e.g. {"label": "advisor"}
	// for RELATES_TO.
	Properties map[string]string `json:"properties,omitempty"`

	Evidence   []EdgeEvidence `json:"evidence,omitempty"`
	Confidence float64        `json:"confidence"`
	Verified   bool           `json:"verified"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// EvidenceOverflowItem is historical evidence beyond an entity's capped
// top evidence list.
type EvidenceOverflowItem struct {
	UserID    string          `json:"user_id"`
	EntityID  string          `json:"entity_id"`
	Evidence  MentionEvidence `json:"evidence"`
	CreatedAt string          `json:"created_at"`
}

// MergeAuditRecord is the durable cursor of an entity merge. Records are
// never deleted; a completed record makes re-running the same merge a no-op.
type MergeAuditRecord struct {
	UserID       string      `json:"user_id"`
	FromEntityID string      `json:"from_entity_id"`
	ToEntityID   string      `json:"to_entity_id"`
	Status       MergeStatus `json:"status"`

	MentionsMigrated int `json:"mentions_migrated"`
	EdgesMigrated    int `json:"edges_migrated"`
	AliasesMigrated  int `json:"aliases_migrated"`

	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`

	Version int64 `json:"-"`
}

// Timestamp formats a time in the canonical record format (RFC3339 UTC).
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
