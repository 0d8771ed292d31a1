package extract

import (
	"strings"

	"github.com/kairoshq/kairos/internal/llm"
	"github.com/kairoshq/kairos/pkg/types"
)

// Blocking verification reasons. Any of these rejects the mention.
const (
	ReasonSegmentNotFound          = "segment_not_found"
	ReasonQuoteNotGrounded         = "quote_not_grounded"
	ReasonMentionNotInQuote        = "mention_not_in_quote"
	ReasonInvalidTimestamps        = "invalid_timestamps"
	ReasonTimestampsOutsideSegment = "timestamps_outside_segment"
)

// Non-blocking warnings. The mention survives with the offending hint
// stripped.
const (
	WarnRoleHintNotVerified = "role_hint_not_verified"
	WarnOrgHintNotVerified  = "org_hint_not_verified"
)

// VerifiedMention is the outcome of verifying one proposed mention.
// When Valid, Mention carries the cleaned extraction.
type VerifiedMention struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Mention  llm.MentionResponse
}

// VerifyMention checks a proposed mention against the transcript. The
// quote must appear verbatim (after normalization) in the named segment,
// or in that segment joined with an adjacent one for quotes that cross a
// segment boundary; the mention text must appear in the quote; timestamps,
// when given, must be ordered and inside the grounding window. Role and org hints are
// kept only when the quote itself contains them.
func VerifyMention(m llm.MentionResponse, segments []types.TranscriptSegment) VerifiedMention {
	result := VerifiedMention{Mention: m}

	idx := -1
	for i, seg := range segments {
		if seg.SegmentID == m.SegmentID {
			idx = i
			break
		}
	}
	if idx == -1 {
		result.Errors = append(result.Errors, ReasonSegmentNotFound)
		return result
	}
	seg := segments[idx]

	normQuote := types.NormalizeText(m.Quote)
	windowT0, windowT1 := seg.T0, seg.T1

	if !strings.Contains(types.NormalizeText(seg.Text), normQuote) {
		grounded := false
		if idx > 0 {
			prev := segments[idx-1]
			if strings.Contains(types.NormalizeText(prev.Text+" "+seg.Text), normQuote) {
				grounded = true
				windowT0 = prev.T0
			}
		}
		if !grounded && idx+1 < len(segments) {
			next := segments[idx+1]
			if strings.Contains(types.NormalizeText(seg.Text+" "+next.Text), normQuote) {
				grounded = true
				windowT1 = next.T1
			}
		}
		if !grounded {
			result.Errors = append(result.Errors, ReasonQuoteNotGrounded)
		}
	}

	if !strings.Contains(normQuote, types.NormalizeText(m.MentionText)) {
		result.Errors = append(result.Errors, ReasonMentionNotInQuote)
	}

	// Timestamps are optional; only a mention that carries both is held
	// to the grounding window.
	if m.T0 != nil && m.T1 != nil {
		if *m.T1 < *m.T0 {
			result.Errors = append(result.Errors, ReasonInvalidTimestamps)
		} else if *m.T0 < windowT0 || *m.T1 > windowT1 {
			result.Errors = append(result.Errors, ReasonTimestampsOutsideSegment)
		}
	}

	if m.RoleHint != "" && !strings.Contains(normQuote, types.NormalizeText(m.RoleHint)) {
		result.Warnings = append(result.Warnings, WarnRoleHintNotVerified)
		result.Mention.RoleHint = ""
	}
	if m.OrgHint != "" && !strings.Contains(normQuote, types.NormalizeText(m.OrgHint)) {
		result.Warnings = append(result.Warnings, WarnOrgHintNotVerified)
		result.Mention.OrgHint = ""
	}

	result.Valid = len(result.Errors) == 0
	return result
}
