package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairoshq/kairos/pkg/types"
)

type fakeGenerator struct {
	response string
	err      error
}

func (g *fakeGenerator) Complete(context.Context, string) (string, error) {
	return g.response, g.err
}

func (g *fakeGenerator) GetModel() string { return "fake" }

func personEntity(id, name string) *types.Entity {
	e := &types.Entity{
		ID:          id,
		UserID:      "u1",
		Type:        types.EntityPerson,
		DisplayName: name,
		Status:      types.StatusProvisional,
	}
	e.AddAlias(types.NormalizeText(name))
	return e
}

func samMention() *types.Mention {
	return &types.Mention{
		UserID:      "u1",
		MentionText: "Sam",
		Type:        types.EntityPerson,
	}
}

func TestFeatureScorerOrdersBySimilarity(t *testing.T) {
	candidates := []*types.Entity{
		personEntity("ent-a", "Samuel Johnson"),
		personEntity("ent-b", "Sam Williams"),
		personEntity("ent-c", "Priya Patel"),
	}

	scores, err := FeatureScorer{}.ScoreCandidates(context.Background(), samMention(), candidates)
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Equal(t, "ent-b", scores[0].EntityID)
	assert.Equal(t, "ent-a", scores[1].EntityID)
	assert.Equal(t, "ent-c", scores[2].EntityID)
	assert.Equal(t, "HIGH", scores[0].Confidence)
	assert.Equal(t, "LOW", scores[2].Confidence)
}

func TestFeatureScorerBonuses(t *testing.T) {
	e := personEntity("ent-a", "Samuel Johnson")
	e.Organization = "Acme"
	e.Role = "CFO"
	e.PrimaryEmail = "sam@acme.com"

	m := samMention()
	m.OrgHint = "Acme"
	m.RoleHint = "CFO"
	m.MeetingAttendeeEmails = []string{"sam@acme.com"}

	scores, err := FeatureScorer{}.ScoreCandidates(context.Background(), m, []*types.Entity{e})
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.InDelta(t, 0.87+0.05+0.03+0.05, scores[0].Score, 1e-9)
	assert.Contains(t, scores[0].Reasoning, "org hint matches")
	assert.Contains(t, scores[0].Reasoning, "attendee of this meeting")
}

func TestSemanticScorerParsesModelScores(t *testing.T) {
	gen := &fakeGenerator{response: `{"candidates":[
		{"entity_id":"ent-a","score":0.92,"confidence":"HIGH","reasoning":"same person"},
		{"entity_id":"ent-b","score":0.2,"confidence":"LOW","reasoning":"different surname"}
	]}`}
	s := NewSemanticScorer(gen, nil)

	candidates := []*types.Entity{
		personEntity("ent-a", "Samuel Johnson"),
		personEntity("ent-b", "Sam Williams"),
	}
	scores, err := s.ScoreCandidates(context.Background(), samMention(), candidates)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, "ent-a", scores[0].EntityID)
	assert.Equal(t, 0.92, scores[0].Score)
}

func TestSemanticScorerFallsBackOnModelError(t *testing.T) {
	s := NewSemanticScorer(&fakeGenerator{err: errors.New("unavailable")}, nil)

	candidates := []*types.Entity{personEntity("ent-a", "Sam Williams")}
	scores, err := s.ScoreCandidates(context.Background(), samMention(), candidates)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, 0.90, scores[0].Score)
}

func TestSemanticScorerFillsIgnoredCandidates(t *testing.T) {
	// The model scored only one of two offered candidates; the other gets
	// a deterministic score so the pool stays complete.
	gen := &fakeGenerator{response: `{"candidates":[{"entity_id":"ent-a","score":0.4,"confidence":"LOW","reasoning":"weak"}]}`}
	s := NewSemanticScorer(gen, nil)

	candidates := []*types.Entity{
		personEntity("ent-a", "Priya Patel"),
		personEntity("ent-b", "Sam Williams"),
	}
	scores, err := s.ScoreCandidates(context.Background(), samMention(), candidates)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, "ent-b", scores[0].EntityID)
	assert.Equal(t, 0.90, scores[0].Score)
	assert.Equal(t, "ent-a", scores[1].EntityID)
	assert.Equal(t, 0.4, scores[1].Score)
}
