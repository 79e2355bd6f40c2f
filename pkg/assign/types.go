package assign

import "time"

// Meeting is the calendar-side view of a recording session used to decide
// where its transcript and notes should be filed.
type Meeting struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Attendees []string  `json:"attendees"` // email addresses, excluding the local user
	Recurring bool      `json:"recurring"`
	StartsAt  time.Time `json:"starts_at"`
}

// AttendeeCount returns the number of attendees on the meeting
func (m Meeting) AttendeeCount() int { return len(m.Attendees) }

// Kind describes what a meeting was assigned to
type Kind string

const (
	KindUnassigned Kind = "unassigned"
	KindIndividual Kind = "individual"
	KindMixed      Kind = "mixed"
	KindGroup      Kind = "group"
)

// Assignment is the resolved destination for one meeting
type Assignment struct {
	MeetingID string    `json:"meeting_id"`
	Kind      Kind      `json:"kind"`
	PersonIDs []string  `json:"person_ids,omitempty"`
	GroupID   string    `json:"group_id,omitempty"`
	Rule      string    `json:"rule,omitempty"` // name of the rule that decided, empty for heuristics
	AppliedAt time.Time `json:"applied_at"`
}

// Person is a directory contact resolvable from an attendee address
type Person struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Group is a saved collection of people that meetings can be filed under
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

// Directory resolves attendees to known people and manages groups. The
// assignment engine is the only consumer; implementations may be backed by
// local storage or an external contact source.
type Directory interface {
	// PersonByEmail resolves one attendee address to a known person
	PersonByEmail(email string) (Person, bool)

	// FindOrCreatePerson resolves an attendee address, registering a new
	// person when the directory has never seen it
	FindOrCreatePerson(email string) (Person, error)

	// Groups returns all saved groups
	Groups() []Group

	// CreateGroup saves a new group over the given members and returns it
	CreateGroup(name string, memberIDs []string) (Group, error)
}
