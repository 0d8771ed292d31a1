package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairoshq/kairos/internal/config"
	"github.com/kairoshq/kairos/internal/extract"
	"github.com/kairoshq/kairos/internal/graph"
	"github.com/kairoshq/kairos/internal/kv/sqlite"
	"github.com/kairoshq/kairos/internal/merge"
	"github.com/kairoshq/kairos/internal/resolve"
	"github.com/kairoshq/kairos/internal/server"
	"github.com/kairoshq/kairos/pkg/types"
)

type scriptedGenerator struct {
	response string
}

func (g *scriptedGenerator) Complete(context.Context, string) (string, error) {
	return g.response, nil
}

func (g *scriptedGenerator) GetModel() string { return "scripted" }

const samExtraction = `{"mentions":[{"mention_text":"Sam","type":"Person","quote":"Sam will send the deck over tomorrow","segment_id":"seg-1","t0":2,"t1":8,"confidence":0.9}]}`

func newTestServer(t *testing.T, cfg config.ServerConfig) (*httptest.Server, *graph.Store) {
	t.Helper()

	backend, err := sqlite.New(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	store := graph.NewStore(backend, nil)

	extractor := extract.NewExtractor(&scriptedGenerator{response: samExtraction}, nil)
	retriever := resolve.NewRetriever(store, nil, nil)
	resolver := resolve.NewResolver(store, extractor, retriever, resolve.FeatureScorer{}, nil, nil)
	merger := merge.NewCoordinator(store, nil)

	srv := server.New(cfg, store, resolver, merger, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func sampleMeeting(meetingID string) *types.Meeting {
	return &types.Meeting{
		UserID:    "default",
		MeetingID: meetingID,
		StartedAt: types.Timestamp(time.Now()),
		Segments: []types.TranscriptSegment{{
			SegmentID: "seg-1", T0: 0, T1: 12,
			Text: "I think Sam will send the deck over tomorrow.",
		}},
		Attendees: []types.AttendeeInfo{{Name: "Samuel Johnson", Email: "sam@x.com"}},
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, config.ServerConfig{})

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestIngestAndReadBack(t *testing.T) {
	ts, store := newTestServer(t, config.ServerConfig{})

	resp := postJSON(t, ts.URL+"/api/meetings", sampleMeeting("mtg-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result resolve.MeetingResult
	decodeBody(t, resp, &result)
	assert.Equal(t, 1, result.Linked)

	// Mentions by meeting.
	resp2, err := http.Get(ts.URL + "/api/meetings/mtg-1/mentions")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var mentionsResp struct {
		Mentions []*types.Mention `json:"mentions"`
	}
	decodeBody(t, resp2, &mentionsResp)
	require.Len(t, mentionsResp.Mentions, 1)
	entityID := mentionsResp.Mentions[0].LinkedEntityID

	// Entity read and alias search agree.
	resp3, err := http.Get(ts.URL + "/api/entities/" + entityID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	var e types.Entity
	decodeBody(t, resp3, &e)
	assert.Equal(t, "sam@x.com", e.PrimaryEmail)

	resp4, err := http.Get(ts.URL + "/api/entities?q=sam")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp4.StatusCode)
	var search struct {
		Entities []*types.Entity `json:"entities"`
	}
	decodeBody(t, resp4, &search)
	require.Len(t, search.Entities, 1)
	assert.Equal(t, entityID, search.Entities[0].ID)

	// The store saw the same writes the API reports.
	stored, err := store.GetEntity(context.Background(), "default", entityID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.MentionCount)
}

func TestPendingAndConfirm(t *testing.T) {
	ts, store := newTestServer(t, config.ServerConfig{})
	ctx := context.Background()

	samuel := &types.Entity{
		ID: graph.NewEntityID(), UserID: "default", Type: types.EntityPerson,
		DisplayName: "Samuel Johnson", Status: types.StatusProvisional,
		Aliases: []string{"samuel johnson"},
	}
	williams := &types.Entity{
		ID: graph.NewEntityID(), UserID: "default", Type: types.EntityPerson,
		DisplayName: "Sam Williams", Status: types.StatusProvisional,
		Aliases: []string{"sam williams"},
	}
	require.NoError(t, store.CreateEntity(ctx, samuel))
	require.NoError(t, store.CreateEntity(ctx, williams))

	meeting := sampleMeeting("mtg-2")
	meeting.Attendees = []types.AttendeeInfo{{Name: "Samuel Johnson"}, {Name: "Sam Williams"}}
	resp := postJSON(t, ts.URL+"/api/meetings", meeting)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result resolve.MeetingResult
	decodeBody(t, resp, &result)
	require.Equal(t, 1, result.Ambiguous)

	resp2, err := http.Get(ts.URL + "/api/mentions/pending")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var pending struct {
		Mentions []*types.Mention `json:"mentions"`
	}
	decodeBody(t, resp2, &pending)
	require.Len(t, pending.Mentions, 1)

	resp3 := postJSON(t, ts.URL+"/api/mentions/confirm", map[string]string{
		"meeting_id": "mtg-2",
		"mention_id": pending.Mentions[0].ID,
		"entity_id":  williams.ID,
	})
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	var confirmed types.Mention
	decodeBody(t, resp3, &confirmed)
	assert.Equal(t, types.StateLinked, confirmed.ResolutionState)
	assert.Equal(t, williams.ID, confirmed.LinkedEntityID)
}

func TestMergeEndpoint(t *testing.T) {
	ts, store := newTestServer(t, config.ServerConfig{})
	ctx := context.Background()

	a := &types.Entity{
		ID: graph.NewEntityID(), UserID: "default", Type: types.EntityPerson,
		DisplayName: "Sam W", Status: types.StatusProvisional, Aliases: []string{"sam w"},
	}
	b := &types.Entity{
		ID: graph.NewEntityID(), UserID: "default", Type: types.EntityPerson,
		DisplayName: "Sam Williams", Status: types.StatusProvisional, Aliases: []string{"sam williams"},
	}
	require.NoError(t, store.CreateEntity(ctx, a))
	require.NoError(t, store.CreateEntity(ctx, b))

	resp := postJSON(t, ts.URL+"/api/merges", map[string]string{
		"from_entity_id": a.ID,
		"to_entity_id":   b.ID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec types.MergeAuditRecord
	decodeBody(t, resp, &rec)
	assert.Equal(t, types.MergeCompleted, rec.Status)

	// The audit record is queryable.
	resp2, err := http.Get(ts.URL + "/api/merges/" + a.ID + "/" + b.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	// Merging into a tombstone is rejected.
	resp3 := postJSON(t, ts.URL+"/api/merges", map[string]string{
		"from_entity_id": b.ID,
		"to_entity_id":   a.ID,
	})
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
	resp3.Body.Close()
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestServer(t, config.ServerConfig{APIToken: "secret"})

	// Health stays open.
	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// API routes need the bearer token.
	resp2, err := http.Get(ts.URL + "/api/mentions/pending")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/mentions/pending", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
}

func TestBadPayloads(t *testing.T) {
	ts, _ := newTestServer(t, config.ServerConfig{})

	resp := postJSON(t, ts.URL+"/api/meetings", map[string]string{"title": "no id"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp2 := postJSON(t, ts.URL+"/api/mentions/confirm", map[string]string{"meeting_id": "m"})
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	resp2.Body.Close()

	resp3, err := http.Get(ts.URL + "/api/entities/ent-missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
	resp3.Body.Close()
}
