package llm

import (
	"fmt"
	"strings"

	"github.com/kairoshq/kairos/pkg/types"
)

// MentionExtractionPrompt generates a strict JSON-only prompt that extracts
// entity mentions from a meeting transcript. Every mention must carry a
// verbatim quote and the segment it came from; ungrounded output is
// rejected downstream by the verifier.
func MentionExtractionPrompt(meeting *types.Meeting) string {
	var sb strings.Builder

	sb.WriteString(`TASK: Extract entity mentions from a meeting transcript.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

ENTITY TYPES (ONLY these 3):
- Person: Individual human
- Organization: Company, institution, or team
- Project: Named initiative, product, or work stream

RULES:
1. "quote" MUST be copied VERBATIM from exactly one transcript segment below.
2. "segment_id", "t0", "t1" MUST identify that segment.
3. "mention_text" MUST appear inside "quote".
4. "role_hint" and "org_hint" are optional; include them ONLY when the quote itself states them.
5. Do NOT invent mentions. Do NOT paraphrase quotes.
6. "confidence" is 0.0-1.0.

REQUIRED JSON STRUCTURE:
{"mentions":[{"mention_text":"...","type":"Person","local_context":"...","quote":"...","segment_id":"...","t0":0.0,"t1":0.0,"role_hint":"","org_hint":"","confidence":0.9}]}

ATTENDEES:
`)
	for _, a := range meeting.Attendees {
		if a.Email != "" {
			fmt.Fprintf(&sb, "- %s <%s>\n", a.Name, a.Email)
		} else {
			fmt.Fprintf(&sb, "- %s\n", a.Name)
		}
	}

	sb.WriteString("\nTRANSCRIPT SEGMENTS:\n")
	for _, seg := range meeting.Segments {
		fmt.Fprintf(&sb, "[%s t0=%.2f t1=%.2f speaker=%s] %s\n",
			seg.SegmentID, seg.T0, seg.T1, seg.Speaker, seg.Text)
	}

	sb.WriteString("\nYour response MUST start with { and end with }. Respond with JSON only.")
	return sb.String()
}

// CandidateScoringPrompt generates a strict JSON-only prompt that scores
// every candidate entity against one mention in a single call.
func CandidateScoringPrompt(mention *types.Mention, candidates []*types.Entity) string {
	var sb strings.Builder

	sb.WriteString(`TASK: Score how likely each candidate entity is the referent of a mention.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

RULES:
1. Score EVERY candidate listed below, no more, no less.
2. "score" is 0.0-1.0: 1.0 means certainly the same entity, 0.0 means certainly different.
3. "confidence" is one of: HIGH, MEDIUM, LOW.
4. "reasoning" is one short sentence citing the evidence.

REQUIRED JSON STRUCTURE:
{"candidates":[{"entity_id":"...","score":0.0,"confidence":"HIGH","reasoning":"..."}]}

MENTION:
`)
	fmt.Fprintf(&sb, "- text: %q\n- type: %s\n- context: %q\n- quote: %q\n",
		mention.MentionText, mention.Type, mention.LocalContext, mention.Evidence.Quote)
	if mention.RoleHint != "" {
		fmt.Fprintf(&sb, "- role hint: %q\n", mention.RoleHint)
	}
	if mention.OrgHint != "" {
		fmt.Fprintf(&sb, "- org hint: %q\n", mention.OrgHint)
	}

	sb.WriteString("\nCANDIDATES:\n")
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- id=%s name=%q type=%s", c.ID, c.DisplayName, c.Type)
		if c.PrimaryEmail != "" {
			fmt.Fprintf(&sb, " email=%s", c.PrimaryEmail)
		}
		if c.Organization != "" {
			fmt.Fprintf(&sb, " org=%q", c.Organization)
		}
		if c.Role != "" {
			fmt.Fprintf(&sb, " role=%q", c.Role)
		}
		if len(c.Aliases) > 0 {
			fmt.Fprintf(&sb, " aliases=%q", c.Aliases)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nYour response MUST start with { and end with }. Respond with JSON only.")
	return sb.String()
}

// EdgeEntailmentPrompt generates a strict JSON-only prompt that checks
// whether a quote actually entails a relationship between two entities.
// Edges are only written when the quote supports them.
func EdgeEntailmentPrompt(quote string, fromName, toName string, edgeType types.EdgeType) string {
	return fmt.Sprintf(`TASK: Decide whether a quote entails a relationship.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

RELATIONSHIP: does the quote state or clearly imply that %q %s %q?

RELATIONSHIP MEANINGS:
- WORKS_AT: person is employed by or works at the organization
- WORKS_ON: person works on the project
- RELATES_TO: the entities are substantively connected
- INTRODUCED: the first person introduced the second

RULES:
1. "entailed" is true ONLY if the quote itself supports the relationship. Background knowledge does not count.
2. "confidence" is 0.0-1.0.

REQUIRED JSON STRUCTURE:
{"entailed":false,"confidence":0.0}

QUOTE: %q

RELATIONSHIP TYPE: %s

Your response MUST start with { and end with }. Respond with JSON only.`,
		fromName, edgeVerb(edgeType), toName, quote, edgeType)
}

func edgeVerb(t types.EdgeType) string {
	switch t {
	case types.EdgeWorksAt:
		return "works at"
	case types.EdgeWorksOn:
		return "works on"
	case types.EdgeIntroduced:
		return "introduced"
	default:
		return "relates to"
	}
}

// ProfileText renders an entity as a short text profile for embedding.
func ProfileText(e *types.Entity) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%s (%s)", e.DisplayName, e.Type))
	if e.Role != "" {
		parts = append(parts, "role: "+e.Role)
	}
	if e.Organization != "" {
		parts = append(parts, "organization: "+e.Organization)
	}
	if len(e.Aliases) > 0 {
		parts = append(parts, "also known as: "+strings.Join(e.Aliases, ", "))
	}
	for _, ev := range e.TopEvidence {
		parts = append(parts, ev.Quote)
	}
	return strings.Join(parts, ". ")
}
