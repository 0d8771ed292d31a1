// Package extract turns meeting transcripts into verified entity
// mentions. The model proposes mentions; the verifier grounds every one
// of them against the transcript before anything is persisted. An
// extraction that cannot be grounded is dropped, never stored.
package extract

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kairoshq/kairos/internal/llm"
	"github.com/kairoshq/kairos/pkg/types"
)

// ExtractorVersion tags stored mentions with the pipeline revision that
// produced them.
const ExtractorVersion = "extractor/1"

// ErrExtractionDegraded indicates the model call failed and no mentions
// could be extracted. Ingestion still records the meeting; mentions can
// be backfilled by reprocessing.
var ErrExtractionDegraded = errors.New("extract: extraction degraded")

// Extractor runs model extraction and verification for one meeting.
type Extractor struct {
	generator llm.TextGenerator
	logger    *zap.Logger
}

// NewExtractor creates an extractor on the given text generator.
func NewExtractor(generator llm.TextGenerator, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{generator: generator, logger: logger.Named("extract")}
}

// ExtractMentions extracts and verifies mentions for a meeting. Only
// verified mentions are returned; rejected ones are logged with their
// reasons. Returns ErrExtractionDegraded when the model is unavailable
// or its output is unusable.
func (e *Extractor) ExtractMentions(ctx context.Context, meeting *types.Meeting) ([]VerifiedMention, error) {
	if len(meeting.Segments) == 0 {
		return nil, nil
	}

	raw, err := e.generator.Complete(ctx, llm.MentionExtractionPrompt(meeting))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionDegraded, err)
	}

	candidates, err := llm.ParseMentionResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionDegraded, err)
	}

	verified := make([]VerifiedMention, 0, len(candidates))
	for _, c := range candidates {
		result := VerifyMention(c, meeting.Segments)
		if !result.Valid {
			e.logger.Info("mention rejected",
				zap.String("meeting_id", meeting.MeetingID),
				zap.String("mention_text", c.MentionText),
				zap.Strings("reasons", result.Errors))
			continue
		}
		if len(result.Warnings) > 0 {
			e.logger.Debug("mention hints stripped",
				zap.String("meeting_id", meeting.MeetingID),
				zap.String("mention_text", result.Mention.MentionText),
				zap.Strings("warnings", result.Warnings))
		}
		verified = append(verified, result)
	}

	e.logger.Info("extraction complete",
		zap.String("meeting_id", meeting.MeetingID),
		zap.Int("proposed", len(candidates)),
		zap.Int("verified", len(verified)))
	return verified, nil
}
