package extract

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

func (f *fakeGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return f.response, f.err
}

func (f *fakeGenerator) GetModel() string { return "fake" }

func testMeeting() *types.Meeting {
	return &types.Meeting{
		UserID:    "u1",
		MeetingID: "mtg-1",
		Segments:  testSegments,
		Attendees: []types.AttendeeInfo{
			{Name: "Ada Chen", Email: "ada@acme.com"},
		},
	}
}

func TestExtractMentionsFiltersUngrounded(t *testing.T) {
	// One grounded mention, one with a fabricated quote.
	gen := &fakeGenerator{response: `{"mentions":[
		{"mention_text":"Sam","type":"Person","quote":"Sam from Acme will send the updated deck","segment_id":"seg-2","t0":10,"t1":18,"confidence":0.9},
		{"mention_text":"Priya","type":"Person","quote":"Priya agreed to lead the launch","segment_id":"seg-3","t0":20,"t1":28,"confidence":0.8}
	]}`}

	extractor := NewExtractor(gen, nil)
	verified, err := extractor.ExtractMentions(context.Background(), testMeeting())
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, "Sam", verified[0].Mention.MentionText)
}

func TestExtractMentionsDegradedOnModelFailure(t *testing.T) {
	extractor := NewExtractor(&fakeGenerator{err: errors.New("connection refused")}, nil)

	_, err := extractor.ExtractMentions(context.Background(), testMeeting())
	assert.ErrorIs(t, err, ErrExtractionDegraded)
}

func TestExtractMentionsDegradedOnMalformedResponse(t *testing.T) {
	extractor := NewExtractor(&fakeGenerator{response: "I could not find any entities."}, nil)

	_, err := extractor.ExtractMentions(context.Background(), testMeeting())
	assert.ErrorIs(t, err, ErrExtractionDegraded)
}

func TestExtractMentionsEmptyTranscript(t *testing.T) {
	extractor := NewExtractor(&fakeGenerator{}, nil)

	verified, err := extractor.ExtractMentions(context.Background(), &types.Meeting{MeetingID: "mtg-empty"})
	require.NoError(t, err)
	assert.Empty(t, verified)
}
