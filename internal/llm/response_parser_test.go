package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMentionResponse(t *testing.T) {
	raw := `{"mentions":[
		{"mention_text":"Sam","type":"Person","local_context":"intro","quote":"Sam will send the deck","segment_id":"seg-1","t0":10.0,"t1":14.5,"confidence":0.9},
		{"mention_text":"Acme","type":"Organization","local_context":"","quote":"the Acme contract","segment_id":"seg-2","t0":20,"t1":25,"confidence":0.8}
	]}`

	mentions, err := ParseMentionResponse(raw)
	require.NoError(t, err)
	require.Len(t, mentions, 2)
	assert.Equal(t, "Sam", mentions[0].MentionText)
	assert.Equal(t, "seg-1", mentions[0].SegmentID)
	require.NotNil(t, mentions[0].T1)
	assert.Equal(t, 14.5, *mentions[0].T1)
}

func TestParseMentionResponseSkipsInvalidEntries(t *testing.T) {
	raw := `{"mentions":[
		{"mention_text":"Sam","type":"Robot","quote":"q","segment_id":"s","confidence":0.9},
		{"mention_text":"","type":"Person","quote":"q","segment_id":"s","confidence":0.9},
		{"mention_text":"Sam","type":"Person","quote":"","segment_id":"s","confidence":0.9},
		{"mention_text":"Sam","type":"Person","quote":"q","segment_id":"","confidence":0.9},
		{"mention_text":"Sam","type":"Person","quote":"q","segment_id":"s","confidence":1.5},
		{"mention_text":"Ada","type":"Person","quote":"Ada joined","segment_id":"seg-3","confidence":0.7}
	]}`

	mentions, err := ParseMentionResponse(raw)
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, "Ada", mentions[0].MentionText)
	assert.Nil(t, mentions[0].T0)
	assert.Nil(t, mentions[0].T1)
}

func TestParseMentionResponseStripsMarkdownFences(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"mentions\":[{\"mention_text\":\"Sam\",\"type\":\"Person\",\"quote\":\"Sam spoke\",\"segment_id\":\"s1\",\"confidence\":0.9}]}\n```\nDone."

	mentions, err := ParseMentionResponse(raw)
	require.NoError(t, err)
	assert.Len(t, mentions, 1)
}

func TestParseMentionResponseMalformed(t *testing.T) {
	_, err := ParseMentionResponse("not json at all")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseMentionResponseQuoteWithBraces(t *testing.T) {
	raw := `{"mentions":[{"mention_text":"Sam","type":"Person","quote":"he said {literally} this","segment_id":"s1","confidence":0.9}]}`

	mentions, err := ParseMentionResponse(raw)
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, "he said {literally} this", mentions[0].Quote)
}

func TestParseCandidateScores(t *testing.T) {
	raw := `{"candidates":[
		{"entity_id":"e1","score":0.92,"confidence":"HIGH","reasoning":"same email"},
		{"entity_id":"e2","score":0.4,"confidence":"LOW","reasoning":"name only"},
		{"entity_id":"hallucinated","score":0.99,"confidence":"HIGH","reasoning":"made up"},
		{"entity_id":"e3","score":1.7,"confidence":"VERY HIGH","reasoning":"bad fields"}
	]}`

	scores, err := ParseCandidateScores(raw, []string{"e1", "e2", "e3"})
	require.NoError(t, err)
	require.Len(t, scores, 3)

	assert.Equal(t, "e1", scores[0].EntityID)
	assert.Equal(t, 0.92, scores[0].Score)

	// Unknown entity IDs are discarded.
	for _, s := range scores {
		assert.NotEqual(t, "hallucinated", s.EntityID)
	}

	// Out-of-range score is clamped, unknown confidence label downgraded.
	assert.Equal(t, 1.0, scores[2].Score)
	assert.Equal(t, "LOW", scores[2].Confidence)
}

func TestParseCandidateScoresMalformed(t *testing.T) {
	_, err := ParseCandidateScores(`{"candidates": "nope"}`, []string{"e1"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseEntailmentResponse(t *testing.T) {
	resp, err := ParseEntailmentResponse(`{"entailed":true,"confidence":0.85}`)
	require.NoError(t, err)
	assert.True(t, resp.Entailed)
	assert.Equal(t, 0.85, resp.Confidence)

	resp, err = ParseEntailmentResponse("```json\n{\"entailed\":false,\"confidence\":0.2}\n```")
	require.NoError(t, err)
	assert.False(t, resp.Entailed)

	_, err = ParseEntailmentResponse("")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestExtractJSONPrefersFirstCompleteObject(t *testing.T) {
	text := `prefix {"a": {"nested": 1}} suffix {"b": 2}`
	assert.Equal(t, `{"a": {"nested": 1}}`, extractJSON(text))
}
