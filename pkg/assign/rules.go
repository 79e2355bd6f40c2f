package assign

import "strings"

// Rule is one entry in the ordered assignment rule table. Rules are checked
// in table order and the first match wins; heuristics only run when no rule
// matches.
type Rule interface {
	// Name identifies the rule in assignment records and logs
	Name() string

	// Matches reports whether the rule applies to the meeting
	Matches(m Meeting) bool

	// Target returns the destination the rule assigns matching meetings to
	Target() Assignment
}

// TitleContainsRule matches meetings whose title contains a substring,
// case-insensitively.
type TitleContainsRule struct {
	RuleName  string
	Substring string
	Dest      Assignment
}

func (r TitleContainsRule) Name() string { return r.RuleName }

func (r TitleContainsRule) Matches(m Meeting) bool {
	return strings.Contains(strings.ToLower(m.Title), strings.ToLower(r.Substring))
}

func (r TitleContainsRule) Target() Assignment { return r.Dest }

// AttendeeCountRule matches meetings whose attendee count falls in an
// inclusive range. Max of 0 means unbounded.
type AttendeeCountRule struct {
	RuleName string
	Min      int
	Max      int
	Dest     Assignment
}

func (r AttendeeCountRule) Name() string { return r.RuleName }

func (r AttendeeCountRule) Matches(m Meeting) bool {
	n := m.AttendeeCount()
	if n < r.Min {
		return false
	}
	return r.Max == 0 || n <= r.Max
}

func (r AttendeeCountRule) Target() Assignment { return r.Dest }

// NamedAttendeeRule matches meetings where a specific address is present
type NamedAttendeeRule struct {
	RuleName string
	Email    string
	Dest     Assignment
}

func (r NamedAttendeeRule) Name() string { return r.RuleName }

func (r NamedAttendeeRule) Matches(m Meeting) bool {
	for _, attendee := range m.Attendees {
		if strings.EqualFold(attendee, r.Email) {
			return true
		}
	}
	return false
}

func (r NamedAttendeeRule) Target() Assignment { return r.Dest }

// RecurringRule matches recurring meetings
type RecurringRule struct {
	RuleName string
	Dest     Assignment
}

func (r RecurringRule) Name() string { return r.RuleName }

func (r RecurringRule) Matches(m Meeting) bool { return m.Recurring }

func (r RecurringRule) Target() Assignment { return r.Dest }
