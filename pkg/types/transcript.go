package types

import "strings"

// TranscriptSegment is one ordered segment of a meeting transcript.
// Transcripts are stored as segments so extracted quotes can be verified
// against a specific portion of the source text.
type TranscriptSegment struct {
	SegmentID string  `json:"segment_id" yaml:"segment_id"`
	T0        float64 `json:"t0" yaml:"t0"`
	T1        float64 `json:"t1" yaml:"t1"`
	Speaker   string  `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	Text      string  `json:"text" yaml:"text"`
}

// AttendeeInfo is calendar attendee data used for deterministic entity
// resolution via email.
type AttendeeInfo struct {
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Meeting bundles the inbound data contract for one conversation: ordered
// transcript segments plus the attendee list.
type Meeting struct {
	UserID    string              `json:"user_id" yaml:"user_id"`
	MeetingID string              `json:"meeting_id" yaml:"meeting_id"`
	Title     string              `json:"title,omitempty" yaml:"title,omitempty"`
	StartedAt string              `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Segments  []TranscriptSegment `json:"segments" yaml:"segments"`
	Attendees []AttendeeInfo      `json:"attendees" yaml:"attendees"`
}

// AttendeeEmails returns the lowercased emails of attendees that have one.
func (m *Meeting) AttendeeEmails() []string {
	emails := make([]string, 0, len(m.Attendees))
	for _, a := range m.Attendees {
		if a.Email != "" {
			emails = append(emails, strings.ToLower(a.Email))
		}
	}
	return emails
}

// NormalizeText lowercases text, strips punctuation, and collapses
// whitespace. Quote grounding and alias lookups both normalize first so
// minor punctuation differences do not break verification.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}
