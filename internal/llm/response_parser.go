package llm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kairoshq/kairos/pkg/types"
)

// ErrMalformedResponse indicates the model returned something that could
// not be parsed as the expected JSON structure.
var ErrMalformedResponse = errors.New("llm: malformed response")

// MentionResponse is a single extracted mention as returned by the model.
// It is untrusted until the verifier grounds it against the transcript.
// T0 and T1 are pointers because models routinely omit them; nil means
// the model gave no timestamps, which is not the same as t=0.
type MentionResponse struct {
	MentionText  string   `json:"mention_text"`
	Type         string   `json:"type"`
	LocalContext string   `json:"local_context"`
	Quote        string   `json:"quote"`
	SegmentID    string   `json:"segment_id"`
	T0           *float64 `json:"t0"`
	T1           *float64 `json:"t1"`
	RoleHint     string   `json:"role_hint,omitempty"`
	OrgHint      string   `json:"org_hint,omitempty"`
	Confidence   float64  `json:"confidence"`
}

type mentionExtractionResponse struct {
	Mentions []MentionResponse `json:"mentions"`
}

// CandidateScoreResponse is one scored candidate from the scoring call.
type CandidateScoreResponse struct {
	EntityID   string  `json:"entity_id"`
	Score      float64 `json:"score"`
	Confidence string  `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type candidateScoringResponse struct {
	Candidates []CandidateScoreResponse `json:"candidates"`
}

// EntailmentResponse is the result of an edge entailment check.
type EntailmentResponse struct {
	Entailed   bool    `json:"entailed"`
	Confidence float64 `json:"confidence"`
}

// extractJSON extracts the first complete JSON object from a string that
// may contain extra text. Models add explanations before and after the
// JSON despite instructions; markdown fences are stripped first.
func extractJSON(text string) string {
	start := -1
	braceCount := 0
	inString := false
	escape := false

	for i := 0; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' && start != -1 {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{':
			if start == -1 {
				start = i
			}
			braceCount++
		case '}':
			if start == -1 {
				continue
			}
			braceCount--
			if braceCount == 0 {
				return text[start : i+1]
			}
		}
	}

	// No complete object found; return as-is and let the parser fail.
	return text
}

// ParseMentionResponse parses mention extraction JSON and filters out
// structurally invalid entries. An entry with an unknown type, a missing
// quote or segment, or an out-of-range confidence is skipped rather than
// failing the batch; grounding itself is checked later by the verifier.
// Returns ErrMalformedResponse only if the JSON itself cannot be parsed.
func ParseMentionResponse(raw string) ([]MentionResponse, error) {
	var resp mentionExtractionResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var valid []MentionResponse
	for _, m := range resp.Mentions {
		if m.MentionText == "" || m.Quote == "" || m.SegmentID == "" {
			continue
		}
		if !types.IsValidEntityType(types.EntityType(m.Type)) {
			continue
		}
		if m.Confidence < 0.0 || m.Confidence > 1.0 {
			continue
		}
		valid = append(valid, m)
	}
	return valid, nil
}

// ParseCandidateScores parses the scoring response and filters it to the
// candidate IDs that were actually offered. Scores for unknown entities
// are discarded; out-of-range scores are clamped to [0,1].
func ParseCandidateScores(raw string, offeredIDs []string) ([]CandidateScoreResponse, error) {
	var resp candidateScoringResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	offered := make(map[string]bool, len(offeredIDs))
	for _, id := range offeredIDs {
		offered[id] = true
	}

	var valid []CandidateScoreResponse
	for _, c := range resp.Candidates {
		if !offered[c.EntityID] {
			continue
		}
		if c.Score < 0 {
			c.Score = 0
		}
		if c.Score > 1 {
			c.Score = 1
		}
		switch c.Confidence {
		case "HIGH", "MEDIUM", "LOW":
		default:
			c.Confidence = "LOW"
		}
		valid = append(valid, c)
	}
	return valid, nil
}

// ParseEntailmentResponse parses an edge entailment response.
func ParseEntailmentResponse(raw string) (*EntailmentResponse, error) {
	var resp EntailmentResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Confidence < 0 {
		resp.Confidence = 0
	}
	if resp.Confidence > 1 {
		resp.Confidence = 1
	}
	return &resp, nil
}
