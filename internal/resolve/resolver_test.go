package resolve_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairoshq/kairos/internal/extract"
	"github.com/kairoshq/kairos/internal/graph"
	"github.com/kairoshq/kairos/internal/kv"
	"github.com/kairoshq/kairos/internal/kv/sqlite"
	"github.com/kairoshq/kairos/internal/resolve"
	"github.com/kairoshq/kairos/pkg/types"
)

type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (g *scriptedGenerator) Complete(_ context.Context, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	i := g.calls
	if i >= len(g.responses) {
		i = len(g.responses) - 1
	}
	g.calls++
	return g.responses[i], nil
}

func (g *scriptedGenerator) GetModel() string { return "scripted" }

// faultyStore fails the Nth atomic batch to simulate a mid-pipeline
// storage outage.
type faultyStore struct {
	kv.Store
	mu     sync.Mutex
	failAt int
	calls  int
}

func (s *faultyStore) AtomicMultiWrite(ctx context.Context, ops []kv.Op) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls == s.failAt
	s.mu.Unlock()
	if fail {
		return errors.New("injected write failure")
	}
	return s.Store.AtomicMultiWrite(ctx, ops)
}

func newFaultyStore(t *testing.T, failAt int) *graph.Store {
	t.Helper()
	backend, err := sqlite.New(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return graph.NewStore(&faultyStore{Store: backend, failAt: failAt}, nil)
}

func newTestStore(t *testing.T) *graph.Store {
	t.Helper()
	backend, err := sqlite.New(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return graph.NewStore(backend, nil)
}

func newTestResolver(t *testing.T, store *graph.Store, extractionJSON string) *resolve.Resolver {
	t.Helper()
	extractor := extract.NewExtractor(&scriptedGenerator{responses: []string{extractionJSON}}, nil)
	retriever := resolve.NewRetriever(store, nil, nil)
	return resolve.NewResolver(store, extractor, retriever, resolve.FeatureScorer{}, nil, nil)
}

func samMeeting(meetingID string, attendees []types.AttendeeInfo) *types.Meeting {
	return &types.Meeting{
		UserID:    "u1",
		MeetingID: meetingID,
		Title:     "Weekly sync",
		StartedAt: types.Timestamp(time.Now()),
		Segments: []types.TranscriptSegment{{
			SegmentID: "seg-1",
			T0:        0,
			T1:        12,
			Speaker:   "maria@x.com",
			Text:      "I think Sam will send the deck over tomorrow.",
		}},
		Attendees: attendees,
	}
}

const samExtraction = `{"mentions":[{"mention_text":"Sam","type":"Person","quote":"Sam will send the deck over tomorrow","segment_id":"seg-1","t0":2,"t1":8,"confidence":0.9}]}`

func TestSoleAttendeeHardLink(t *testing.T) {
	store := newTestStore(t)
	r := newTestResolver(t, store, samExtraction)
	ctx := context.Background()

	meeting := samMeeting("mtg-1", []types.AttendeeInfo{
		{Name: "Samuel Johnson", Email: "sam@x.com"},
	})

	result, err := r.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Mentions)
	assert.Equal(t, 1, result.Linked)
	assert.False(t, result.Degraded)

	mentions, err := store.MentionsByMeeting(ctx, "u1", "mtg-1")
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	m := mentions[0]
	assert.Equal(t, types.StateLinked, m.ResolutionState)
	assert.Equal(t, 1.0, m.Confidence)

	e, err := store.GetEntity(ctx, "u1", m.LinkedEntityID)
	require.NoError(t, err)
	assert.Equal(t, "sam@x.com", e.PrimaryEmail)
	assert.Equal(t, types.StatusResolved, e.Status)
	assert.True(t, e.HasAlias("sam"))
	assert.True(t, e.HasAlias("samuel johnson"))
	assert.Equal(t, 1, e.MentionCount)
	require.Len(t, e.TopEvidence, 1)
	assert.Equal(t, "Sam will send the deck over tomorrow", e.TopEvidence[0].Quote)
	assert.True(t, e.SeenInMeeting("mtg-1"))
}

func TestTwoPlausibleAttendeesStayAmbiguous(t *testing.T) {
	store := newTestStore(t)
	r := newTestResolver(t, store, samExtraction)
	ctx := context.Background()

	// Both Sams are already known from earlier meetings, so the candidate
	// pool offers both via the alias index.
	samuel := &types.Entity{
		ID: graph.NewEntityID(), UserID: "u1", Type: types.EntityPerson,
		DisplayName: "Samuel Johnson", Status: types.StatusProvisional,
		Aliases: []string{"samuel johnson"},
	}
	williams := &types.Entity{
		ID: graph.NewEntityID(), UserID: "u1", Type: types.EntityPerson,
		DisplayName: "Sam Williams", Status: types.StatusProvisional,
		Aliases: []string{"sam williams"},
	}
	require.NoError(t, store.CreateEntity(ctx, samuel))
	require.NoError(t, store.CreateEntity(ctx, williams))

	meeting := samMeeting("mtg-2", []types.AttendeeInfo{
		{Name: "Samuel Johnson"},
		{Name: "Sam Williams"},
	})

	result, err := r.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Ambiguous)
	assert.Equal(t, 0, result.Linked)
	assert.Equal(t, 0, result.NewEntities)

	pending, err := store.MentionsByState(ctx, "u1", types.StateAmbiguous, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	m := pending[0]
	assert.Empty(t, m.LinkedEntityID)
	assert.ElementsMatch(t, []string{samuel.ID, williams.ID}, m.CandidateEntityIDs)
	require.Len(t, m.CandidateScores, 2)
	// The exact-token match outranks the prefix match, but not by enough.
	assert.Equal(t, williams.ID, m.CandidateScores[0].EntityID)
	assert.Less(t, m.CandidateScores[0].Score-m.CandidateScores[1].Score, resolve.LinkMargin)
}

func TestUnknownMentionCreatesProvisionalEntity(t *testing.T) {
	store := newTestStore(t)
	extraction := `{"mentions":[{"mention_text":"Priya","type":"Person","quote":"Priya is joining next week","segment_id":"seg-1","t0":1,"t1":4,"confidence":0.8}]}`
	r := newTestResolver(t, store, extraction)
	ctx := context.Background()

	meeting := &types.Meeting{
		UserID:    "u1",
		MeetingID: "mtg-3",
		StartedAt: types.Timestamp(time.Now()),
		Segments: []types.TranscriptSegment{{
			SegmentID: "seg-1", T0: 0, T1: 6,
			Text: "Priya is joining next week.",
		}},
	}

	result, err := r.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewEntities)

	mentions, err := store.MentionsByMeeting(ctx, "u1", "mtg-3")
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	m := mentions[0]
	assert.Equal(t, types.StateNewEntityCreated, m.ResolutionState)
	require.NotEmpty(t, m.LinkedEntityID)

	e, err := store.GetEntity(ctx, "u1", m.LinkedEntityID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProvisional, e.Status)
	assert.Equal(t, "Priya", e.DisplayName)
	assert.True(t, e.HasAlias("priya"))
	assert.Equal(t, 1, e.MentionCount)
	require.Len(t, e.TopEvidence, 1)
}

func TestReprocessingIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	r := newTestResolver(t, store, samExtraction)
	ctx := context.Background()

	meeting := samMeeting("mtg-4", []types.AttendeeInfo{
		{Name: "Samuel Johnson", Email: "sam@x.com"},
	})

	first, err := r.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Mentions)

	// The extractor proposes the same mention again; the deterministic
	// mention id makes the second run a no-op.
	r2 := newTestResolver(t, store, samExtraction)
	second, err := r2.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Mentions)

	mentions, err := store.MentionsByMeeting(ctx, "u1", "mtg-4")
	require.NoError(t, err)
	assert.Len(t, mentions, 1)

	e, err := store.GetEntityByEmail(ctx, "u1", "sam@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, e.MentionCount)
}

func TestConcurrentResolutionSharesOneEntity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	meetingFor := func(id string) *types.Meeting {
		return samMeeting(id, []types.AttendeeInfo{
			{Name: "Samuel Johnson", Email: "sam@x.com"},
		})
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"mtg-5a", "mtg-5b"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			r := newTestResolver(t, store, samExtraction)
			_, errs[i] = r.ProcessMeeting(ctx, meetingFor(id))
		}(i, id)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Exactly one entity holds the email; both mentions link to it.
	e, err := store.GetEntityByEmail(ctx, "u1", "sam@x.com")
	require.NoError(t, err)

	for _, id := range []string{"mtg-5a", "mtg-5b"} {
		mentions, err := store.MentionsByMeeting(ctx, "u1", id)
		require.NoError(t, err)
		require.Len(t, mentions, 1)
		assert.Equal(t, e.ID, mentions[0].LinkedEntityID)
	}
	assert.Equal(t, 2, e.MentionCount)
}

func TestDegradedExtractionStillRecordsMeeting(t *testing.T) {
	store := newTestStore(t)
	extractor := extract.NewExtractor(&scriptedGenerator{err: errors.New("model unavailable")}, nil)
	retriever := resolve.NewRetriever(store, nil, nil)
	r := resolve.NewResolver(store, extractor, retriever, resolve.FeatureScorer{}, nil, nil)
	ctx := context.Background()

	meeting := samMeeting("mtg-6", []types.AttendeeInfo{
		{Name: "Samuel Johnson", Email: "sam@x.com"},
	})

	result, err := r.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, 0, result.Mentions)

	// The attendee entity exists and the meeting is in the seen index.
	e, err := store.GetEntityByEmail(ctx, "u1", "sam@x.com")
	require.NoError(t, err)

	since := time.Now().AddDate(0, 0, -1)
	ids, err := store.RecentMeetingEntities(ctx, "u1", since, 10)
	require.NoError(t, err)
	assert.Contains(t, ids, e.ID)
}

func TestConfirmAmbiguousMention(t *testing.T) {
	store := newTestStore(t)
	r := newTestResolver(t, store, samExtraction)
	ctx := context.Background()

	samuel := &types.Entity{
		ID: graph.NewEntityID(), UserID: "u1", Type: types.EntityPerson,
		DisplayName: "Samuel Johnson", Status: types.StatusProvisional,
		Aliases: []string{"samuel johnson"},
	}
	williams := &types.Entity{
		ID: graph.NewEntityID(), UserID: "u1", Type: types.EntityPerson,
		DisplayName: "Sam Williams", Status: types.StatusProvisional,
		Aliases: []string{"sam williams"},
	}
	require.NoError(t, store.CreateEntity(ctx, samuel))
	require.NoError(t, store.CreateEntity(ctx, williams))

	meeting := samMeeting("mtg-7", []types.AttendeeInfo{
		{Name: "Samuel Johnson"},
		{Name: "Sam Williams"},
	})
	_, err := r.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)

	pending, err := store.MentionsByState(ctx, "u1", types.StateAmbiguous, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	mentionID := pending[0].ID

	// Confirming an entity outside the candidate set is rejected.
	stranger := &types.Entity{
		ID: graph.NewEntityID(), UserID: "u1", Type: types.EntityPerson,
		DisplayName: "Priya Patel", Status: types.StatusProvisional,
	}
	require.NoError(t, store.CreateEntity(ctx, stranger))
	_, err = r.ConfirmMention(ctx, "u1", "mtg-7", mentionID, stranger.ID)
	assert.Error(t, err)

	m, err := r.ConfirmMention(ctx, "u1", "mtg-7", mentionID, williams.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateLinked, m.ResolutionState)
	assert.Equal(t, williams.ID, m.LinkedEntityID)
	assert.Equal(t, 1.0, m.Confidence)
	assert.Empty(t, m.CandidateEntityIDs)

	// The mention moved out of the ambiguous index and onto the entity.
	pending, err = store.MentionsByState(ctx, "u1", types.StateAmbiguous, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	byEntity, err := store.MentionsByEntity(ctx, "u1", williams.ID, 0)
	require.NoError(t, err)
	require.Len(t, byEntity, 1)

	e, err := store.GetEntity(ctx, "u1", williams.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, e.MentionCount)
	assert.True(t, e.HasAlias("sam"))

	// Confirming twice fails: the mention is no longer ambiguous.
	_, err = r.ConfirmMention(ctx, "u1", "mtg-7", mentionID, williams.ID)
	assert.Error(t, err)
}

func TestFailedCreateLeavesNoDanglingMention(t *testing.T) {
	// The mention and its provisional entity land in one batch. A failed
	// run must leave neither behind, so reprocessing can fill them in.
	store := newFaultyStore(t, 1)
	extraction := `{"mentions":[{"mention_text":"Priya","type":"Person","quote":"Priya is joining next week","segment_id":"seg-1","t0":1,"t1":4,"confidence":0.8}]}`
	ctx := context.Background()

	meeting := &types.Meeting{
		UserID:    "u1",
		MeetingID: "mtg-10",
		StartedAt: types.Timestamp(time.Now()),
		Segments: []types.TranscriptSegment{{
			SegmentID: "seg-1", T0: 0, T1: 6,
			Text: "Priya is joining next week.",
		}},
	}

	r := newTestResolver(t, store, extraction)
	_, err := r.ProcessMeeting(ctx, meeting)
	require.Error(t, err)

	mentions, err := store.MentionsByMeeting(ctx, "u1", "mtg-10")
	require.NoError(t, err)
	assert.Empty(t, mentions)

	r2 := newTestResolver(t, store, extraction)
	result, err := r2.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewEntities)

	mentions, err = store.MentionsByMeeting(ctx, "u1", "mtg-10")
	require.NoError(t, err)
	require.Len(t, mentions, 1)

	e, err := store.GetEntity(ctx, "u1", mentions[0].LinkedEntityID)
	require.NoError(t, err)
	assert.Equal(t, 1, e.MentionCount)
}

func TestFailedLinkCommitsMentionAndCountsTogether(t *testing.T) {
	// Batch 1 creates the attendee entity; batch 2 carries the linked
	// mention plus the entity side effects. Failing batch 2 must leave
	// the mention unwritten and the counters untouched, and a retry must
	// commit both.
	store := newFaultyStore(t, 2)
	ctx := context.Background()

	meeting := samMeeting("mtg-11", []types.AttendeeInfo{
		{Name: "Samuel Johnson", Email: "sam@x.com"},
	})

	r := newTestResolver(t, store, samExtraction)
	_, err := r.ProcessMeeting(ctx, meeting)
	require.Error(t, err)

	mentions, err := store.MentionsByMeeting(ctx, "u1", "mtg-11")
	require.NoError(t, err)
	assert.Empty(t, mentions)

	e, err := store.GetEntityByEmail(ctx, "u1", "sam@x.com")
	require.NoError(t, err)
	assert.Equal(t, 0, e.MentionCount)

	r2 := newTestResolver(t, store, samExtraction)
	result, err := r2.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Linked)

	mentions, err = store.MentionsByMeeting(ctx, "u1", "mtg-11")
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, e.ID, mentions[0].LinkedEntityID)

	e, err = store.GetEntityByEmail(ctx, "u1", "sam@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, e.MentionCount)
}

// fixedScorer returns the same score for every candidate.
type fixedScorer struct{ score float64 }

func (s fixedScorer) ScoreCandidates(_ context.Context, _ *types.Mention, candidates []*types.Entity) ([]types.CandidateScore, error) {
	scores := make([]types.CandidateScore, len(candidates))
	for i, e := range candidates {
		scores[i] = types.CandidateScore{EntityID: e.ID, Score: s.score, Confidence: "LOW"}
	}
	return scores, nil
}

func TestScoreExactlyAtLowCreatesEntity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	known := &types.Entity{
		ID: graph.NewEntityID(), UserID: "u1", Type: types.EntityPerson,
		DisplayName: "Samuel Johnson", Status: types.StatusProvisional,
		Aliases: []string{"samuel johnson"},
	}
	require.NoError(t, store.CreateEntity(ctx, known))

	extraction := `{"mentions":[{"mention_text":"Samuel","type":"Person","quote":"Samuel is joining next week","segment_id":"seg-1","t0":1,"t1":4,"confidence":0.8}]}`
	extractor := extract.NewExtractor(&scriptedGenerator{responses: []string{extraction}}, nil)
	retriever := resolve.NewRetriever(store, nil, nil)
	r := resolve.NewResolver(store, extractor, retriever, fixedScorer{score: resolve.LowConfidence}, nil, nil)

	meeting := &types.Meeting{
		UserID:    "u1",
		MeetingID: "mtg-12",
		StartedAt: types.Timestamp(time.Now()),
		Segments: []types.TranscriptSegment{{
			SegmentID: "seg-1", T0: 0, T1: 6,
			Text: "Samuel is joining next week.",
		}},
	}

	// A best score exactly at the low threshold creates a provisional
	// entity rather than parking the mention as ambiguous.
	result, err := r.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewEntities)
	assert.Equal(t, 0, result.Ambiguous)

	mentions, err := store.MentionsByMeeting(ctx, "u1", "mtg-12")
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, types.StateNewEntityCreated, mentions[0].ResolutionState)
	assert.NotEqual(t, known.ID, mentions[0].LinkedEntityID)
}

// recordingIndexer captures profile index traffic.
type recordingIndexer struct {
	mu      sync.Mutex
	indexed []string
	removed []string
}

func (ri *recordingIndexer) IndexEntity(_ context.Context, e *types.Entity) error {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.indexed = append(ri.indexed, e.ID)
	return nil
}

func (ri *recordingIndexer) RemoveEntity(_ context.Context, _, entityID string) error {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.removed = append(ri.removed, entityID)
	return nil
}

func TestEntityIndexerSeesResolvedEntities(t *testing.T) {
	store := newTestStore(t)
	r := newTestResolver(t, store, samExtraction)
	idx := &recordingIndexer{}
	r.SetEntityIndexer(idx)
	ctx := context.Background()

	meeting := samMeeting("mtg-13", []types.AttendeeInfo{
		{Name: "Samuel Johnson", Email: "sam@x.com"},
	})
	_, err := r.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)

	e, err := store.GetEntityByEmail(ctx, "u1", "sam@x.com")
	require.NoError(t, err)
	assert.Contains(t, idx.indexed, e.ID)

	// A brand new provisional entity is indexed as well.
	extraction := `{"mentions":[{"mention_text":"Priya","type":"Person","quote":"Priya is joining next week","segment_id":"seg-1","t0":1,"t1":4,"confidence":0.8}]}`
	r2 := newTestResolver(t, store, extraction)
	r2.SetEntityIndexer(idx)
	meeting2 := &types.Meeting{
		UserID:    "u1",
		MeetingID: "mtg-14",
		StartedAt: types.Timestamp(time.Now()),
		Segments: []types.TranscriptSegment{{
			SegmentID: "seg-1", T0: 0, T1: 6,
			Text: "Priya is joining next week.",
		}},
	}
	_, err = r2.ProcessMeeting(ctx, meeting2)
	require.NoError(t, err)

	mentions, err := store.MentionsByMeeting(ctx, "u1", "mtg-14")
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Contains(t, idx.indexed, mentions[0].LinkedEntityID)
}

func TestVerifiedOrgHintWritesWorksAtEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	extraction := `{"mentions":[{"mention_text":"Sam","type":"Person","quote":"Sam from Acme will share the deck","segment_id":"seg-1","t0":1,"t1":6,"org_hint":"Acme","confidence":0.9}]}`
	extractor := extract.NewExtractor(&scriptedGenerator{responses: []string{extraction}}, nil)
	retriever := resolve.NewRetriever(store, nil, nil)
	entailer := &scriptedGenerator{responses: []string{`{"entailed":true,"confidence":0.9}`}}
	r := resolve.NewResolver(store, extractor, retriever, resolve.FeatureScorer{}, entailer, nil)

	meeting := &types.Meeting{
		UserID:    "u1",
		MeetingID: "mtg-8",
		StartedAt: types.Timestamp(time.Now()),
		Segments: []types.TranscriptSegment{{
			SegmentID: "seg-1", T0: 0, T1: 8,
			Text: "Sam from Acme will share the deck.",
		}},
		Attendees: []types.AttendeeInfo{{Name: "Samuel Johnson", Email: "sam@x.com"}},
	}

	result, err := r.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Linked)
	assert.Equal(t, 1, result.Edges)

	person, err := store.GetEntityByEmail(ctx, "u1", "sam@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Acme", person.Organization)
	assert.Equal(t, 1, person.EdgeCount)

	edges, err := store.EdgesFrom(ctx, "u1", person.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	edge := edges[0]
	assert.Equal(t, types.EdgeWorksAt, edge.Type)
	assert.True(t, edge.Verified)
	assert.Equal(t, 0.9, edge.Confidence)
	require.Len(t, edge.Evidence, 1)
	assert.Equal(t, "Sam from Acme will share the deck", edge.Evidence[0].Quote)

	org, err := store.GetEntity(ctx, "u1", edge.ToEntityID)
	require.NoError(t, err)
	assert.Equal(t, types.EntityOrganization, org.Type)
	assert.Equal(t, "Acme", org.DisplayName)
	assert.Equal(t, types.StatusProvisional, org.Status)
}

func TestUnsupportedEntailmentWritesNoEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	extraction := `{"mentions":[{"mention_text":"Sam","type":"Person","quote":"Sam from Acme will share the deck","segment_id":"seg-1","t0":1,"t1":6,"org_hint":"Acme","confidence":0.9}]}`
	extractor := extract.NewExtractor(&scriptedGenerator{responses: []string{extraction}}, nil)
	retriever := resolve.NewRetriever(store, nil, nil)
	entailer := &scriptedGenerator{responses: []string{`{"entailed":false,"confidence":0.2}`}}
	r := resolve.NewResolver(store, extractor, retriever, resolve.FeatureScorer{}, entailer, nil)

	meeting := &types.Meeting{
		UserID:    "u1",
		MeetingID: "mtg-9",
		StartedAt: types.Timestamp(time.Now()),
		Segments: []types.TranscriptSegment{{
			SegmentID: "seg-1", T0: 0, T1: 8,
			Text: "Sam from Acme will share the deck.",
		}},
		Attendees: []types.AttendeeInfo{{Name: "Samuel Johnson", Email: "sam@x.com"}},
	}

	result, err := r.ProcessMeeting(ctx, meeting)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Edges)

	person, err := store.GetEntityByEmail(ctx, "u1", "sam@x.com")
	require.NoError(t, err)
	edges, err := store.EdgesFrom(ctx, "u1", person.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)
}
