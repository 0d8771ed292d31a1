package resolve

import (
	"github.com/kairoshq/kairos/pkg/types"
)

// AttendeeMatch is a deterministic match between a mention and a meeting
// attendee.
type AttendeeMatch struct {
	Attendee types.AttendeeInfo
	Score    float64
}

// MatchAttendee finds the attendee a Person mention unambiguously refers
// to. The best attendee must score at least HighConfidence and lead the
// runner-up by at least LinkMargin; otherwise no attendee is returned and
// resolution falls through to candidate scoring. A sole plausible "Sam"
// among the attendees resolves; two Sams do not.
func MatchAttendee(mentionText string, attendees []types.AttendeeInfo) *AttendeeMatch {
	if len(attendees) == 0 {
		return nil
	}

	best, second := -1.0, -1.0
	var bestAttendee types.AttendeeInfo
	for _, a := range attendees {
		score := NameSimilarity(mentionText, a.Name)
		switch {
		case score > best:
			second = best
			best = score
			bestAttendee = a
		case score > second:
			second = score
		}
	}

	if best < HighConfidence {
		return nil
	}
	if second >= 0 && best-second < LinkMargin {
		return nil
	}
	return &AttendeeMatch{Attendee: bestAttendee, Score: best}
}
