package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kairoshq/kairos/internal/llm"
	"github.com/kairoshq/kairos/pkg/types"
)

// Scorer scores candidate entities against a mention. Scores are in
// [0,1], best first.
type Scorer interface {
	ScoreCandidates(ctx context.Context, m *types.Mention, candidates []*types.Entity) ([]types.CandidateScore, error)
}

// FeatureScorer is the deterministic scorer: name similarity plus small
// bonuses for corroborating signals. It needs no model call and is the
// fallback when the semantic scorer is unavailable.
type FeatureScorer struct{}

// ScoreCandidates scores every candidate, best first.
func (FeatureScorer) ScoreCandidates(_ context.Context, m *types.Mention, candidates []*types.Entity) ([]types.CandidateScore, error) {
	scores := make([]types.CandidateScore, 0, len(candidates))
	for _, e := range candidates {
		score := entitySimilarity(m.MentionText, e)
		var signals []string
		signals = append(signals, fmt.Sprintf("name similarity %.2f", score))

		if m.OrgHint != "" && e.Organization != "" &&
			types.NormalizeText(m.OrgHint) == types.NormalizeText(e.Organization) {
			score += 0.05
			signals = append(signals, "org hint matches")
		}
		if m.RoleHint != "" && e.Role != "" &&
			types.NormalizeText(m.RoleHint) == types.NormalizeText(e.Role) {
			score += 0.03
			signals = append(signals, "role hint matches")
		}
		if e.PrimaryEmail != "" && containsEmail(m.MeetingAttendeeEmails, e.PrimaryEmail) {
			score += 0.05
			signals = append(signals, "attendee of this meeting")
		}
		if score > 1 {
			score = 1
		}

		scores = append(scores, types.CandidateScore{
			EntityID:   e.ID,
			Score:      score,
			Confidence: confidenceLabel(score),
			Reasoning:  strings.Join(signals, "; "),
		})
	}

	sortScores(scores)
	return scores, nil
}

// SemanticScorer scores all candidates in a single model call, falling
// back to the feature scorer when the model fails or returns garbage.
type SemanticScorer struct {
	generator llm.TextGenerator
	fallback  FeatureScorer
	logger    *zap.Logger
}

// NewSemanticScorer creates a semantic scorer.
func NewSemanticScorer(generator llm.TextGenerator, logger *zap.Logger) *SemanticScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticScorer{generator: generator, logger: logger.Named("scorer")}
}

// ScoreCandidates scores every candidate, best first.
func (s *SemanticScorer) ScoreCandidates(ctx context.Context, m *types.Mention, candidates []*types.Entity) ([]types.CandidateScore, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	raw, err := s.generator.Complete(ctx, llm.CandidateScoringPrompt(m, candidates))
	if err != nil {
		s.logger.Warn("semantic scoring unavailable, using feature scorer", zap.Error(err))
		return s.fallback.ScoreCandidates(ctx, m, candidates)
	}

	offered := make([]string, len(candidates))
	for i, c := range candidates {
		offered[i] = c.ID
	}
	parsed, err := llm.ParseCandidateScores(raw, offered)
	if err != nil {
		s.logger.Warn("semantic scoring response malformed, using feature scorer", zap.Error(err))
		return s.fallback.ScoreCandidates(ctx, m, candidates)
	}

	scored := make(map[string]bool, len(parsed))
	scores := make([]types.CandidateScore, 0, len(candidates))
	for _, p := range parsed {
		scored[p.EntityID] = true
		scores = append(scores, types.CandidateScore{
			EntityID:   p.EntityID,
			Score:      p.Score,
			Confidence: p.Confidence,
			Reasoning:  p.Reasoning,
		})
	}

	// Candidates the model ignored still get a deterministic score so the
	// pool stays complete.
	var missing []*types.Entity
	for _, c := range candidates {
		if !scored[c.ID] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		fallbackScores, _ := s.fallback.ScoreCandidates(ctx, m, missing)
		scores = append(scores, fallbackScores...)
	}

	sortScores(scores)
	return scores, nil
}

func sortScores(scores []types.CandidateScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
}

func confidenceLabel(score float64) string {
	switch {
	case score >= HighConfidence:
		return "HIGH"
	case score >= 0.5:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func containsEmail(emails []string, email string) bool {
	email = strings.ToLower(email)
	for _, e := range emails {
		if strings.ToLower(e) == email {
			return true
		}
	}
	return false
}
