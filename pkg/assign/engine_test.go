package assign

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeDirectory registers people on demand and tracks created groups
type fakeDirectory struct {
	known   map[string]Person
	groups  []Group
	created int
	added   int
}

func (d *fakeDirectory) PersonByEmail(email string) (Person, bool) {
	person, ok := d.known[email]
	return person, ok
}

func (d *fakeDirectory) FindOrCreatePerson(email string) (Person, error) {
	if person, ok := d.known[email]; ok {
		return person, nil
	}
	if d.known == nil {
		d.known = make(map[string]Person)
	}
	d.added++
	person := Person{ID: "person-" + email, Email: email}
	d.known[email] = person
	return person, nil
}

func (d *fakeDirectory) Groups() []Group { return d.groups }

func (d *fakeDirectory) CreateGroup(name string, memberIDs []string) (Group, error) {
	d.created++
	group := Group{
		ID:        fmt.Sprintf("group-%d", d.created),
		Name:      name,
		MemberIDs: memberIDs,
	}
	d.groups = append(d.groups, group)
	return group, nil
}

func meeting(id string, attendees ...string) Meeting {
	return Meeting{ID: id, Title: "Weekly Sync", Attendees: attendees}
}

func newTestEngine(dir *fakeDirectory) *Engine {
	return NewEngine(testLogger(), DefaultEngineConfig(), dir)
}

// assignAndApply runs the full determine-then-apply flow and returns the
// recorded assignment.
func assignAndApply(t *testing.T, engine *Engine, m Meeting) Assignment {
	t.Helper()
	assignment, err := engine.Assign(m)
	require.NoError(t, err)
	_, err = engine.Apply(m, assignment, time.Now())
	require.NoError(t, err)
	stored, ok := engine.Applied(m.ID)
	require.True(t, ok)
	return stored
}

func TestRuleTableWinsOverHeuristics(t *testing.T) {
	engine := newTestEngine(&fakeDirectory{})
	engine.AddRule(TitleContainsRule{
		RuleName:  "standup-to-team",
		Substring: "standup",
		Dest:      Assignment{Kind: KindGroup, GroupID: "group-team"},
	})

	m := meeting("m1", "a@example.com")
	m.Title = "Daily Standup"

	assignment, err := engine.Assign(m)
	require.NoError(t, err)
	assert.Equal(t, KindGroup, assignment.Kind)
	assert.Equal(t, "group-team", assignment.GroupID)
	assert.Equal(t, "standup-to-team", assignment.Rule)
	assert.Equal(t, "m1", assignment.MeetingID)
}

func TestRulesCheckedInOrder(t *testing.T) {
	engine := newTestEngine(&fakeDirectory{})
	engine.AddRule(RecurringRule{
		RuleName: "recurring-first",
		Dest:     Assignment{Kind: KindGroup, GroupID: "group-recurring"},
	})
	engine.AddRule(NamedAttendeeRule{
		RuleName: "vip-second",
		Email:    "vip@example.com",
		Dest:     Assignment{Kind: KindIndividual, PersonIDs: []string{"person-vip"}},
	})

	m := meeting("m1", "vip@example.com")
	m.Recurring = true

	assignment, err := engine.Assign(m)
	require.NoError(t, err)
	assert.Equal(t, "recurring-first", assignment.Rule, "first matching rule wins")
}

func TestHeuristicZeroAttendeesUnassigned(t *testing.T) {
	engine := newTestEngine(&fakeDirectory{})

	assignment, err := engine.Assign(meeting("m1"))
	require.NoError(t, err)
	assert.Equal(t, KindUnassigned, assignment.Kind)
	assert.Empty(t, assignment.PersonIDs)
}

func TestHeuristicOneAttendeeIndividual(t *testing.T) {
	engine := newTestEngine(&fakeDirectory{})

	stored := assignAndApply(t, engine, meeting("m1", "a@example.com"))
	assert.Equal(t, KindIndividual, stored.Kind)
	assert.Equal(t, []string{"person-a@example.com"}, stored.PersonIDs)
}

func TestHeuristicTwoAttendeesLinksBoth(t *testing.T) {
	engine := newTestEngine(&fakeDirectory{})

	stored := assignAndApply(t, engine, meeting("m1", "b@example.com", "a@example.com"))
	assert.Equal(t, KindIndividual, stored.Kind)
	assert.Equal(t, []string{"person-a@example.com", "person-b@example.com"}, stored.PersonIDs,
		"both attendees linked, in deterministic order")
}

func TestApplyRegistersUnknownAttendees(t *testing.T) {
	// Nobody is pre-seeded: both attendees must still end up linked.
	dir := &fakeDirectory{}
	engine := newTestEngine(dir)

	stored := assignAndApply(t, engine, meeting("m1", "new-a@example.com", "new-b@example.com"))
	assert.Equal(t, KindIndividual, stored.Kind)
	require.Len(t, stored.PersonIDs, 2)
	assert.Equal(t, 2, dir.added, "unknown attendees are registered, not dropped")
}

func TestHeuristicSmallMeetingMixed(t *testing.T) {
	engine := newTestEngine(&fakeDirectory{})

	stored := assignAndApply(t, engine, meeting("m1", "a@example.com", "b@example.com", "c@example.com"))
	assert.Equal(t, KindMixed, stored.Kind)
	assert.Len(t, stored.PersonIDs, 3)

	four, err := engine.Assign(meeting("m2", "a@example.com", "b@example.com", "c@example.com", "d@example.com"))
	require.NoError(t, err)
	assert.Equal(t, KindMixed, four.Kind)
}

func TestHeuristicLargeMeetingCreatesGroup(t *testing.T) {
	dir := &fakeDirectory{}
	engine := newTestEngine(dir)

	stored := assignAndApply(t, engine, meeting("m1",
		"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"))
	assert.Equal(t, KindGroup, stored.Kind)
	assert.Equal(t, "group-1", stored.GroupID)
	assert.Len(t, stored.PersonIDs, 5, "group records still link each participant")
	assert.Equal(t, 1, dir.created)
}

func TestAssignLeavesDirectoryUntouched(t *testing.T) {
	dir := &fakeDirectory{}
	engine := newTestEngine(dir)

	assignment, err := engine.Assign(meeting("m1",
		"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"))
	require.NoError(t, err)
	assert.Equal(t, KindGroup, assignment.Kind)
	assert.Empty(t, assignment.GroupID, "group creation is deferred to Apply")
	assert.Zero(t, dir.created)
	assert.Zero(t, dir.added)
}

func TestApplyReusesOverlappingGroup(t *testing.T) {
	dir := &fakeDirectory{}
	engine := newTestEngine(dir)

	first := assignAndApply(t, engine, meeting("m1",
		"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"))

	second := assignAndApply(t, engine, meeting("m2",
		"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"))
	assert.Equal(t, first.GroupID, second.GroupID, "identical roster reuses the group")
	assert.Equal(t, 1, dir.created)

	// A mostly different roster gets its own group.
	third := assignAndApply(t, engine, meeting("m3",
		"v@example.com", "w@example.com", "x@example.com", "y@example.com", "z@example.com"))
	assert.NotEqual(t, first.GroupID, third.GroupID)
	assert.Equal(t, 2, dir.created)
}

func TestAssignIsDeterministic(t *testing.T) {
	engine := newTestEngine(&fakeDirectory{})
	m := meeting("m1", "b@example.com", "a@example.com", "c@example.com")

	first, err := engine.Assign(m)
	require.NoError(t, err)
	second, err := engine.Assign(m)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestApplyIsIdempotent(t *testing.T) {
	engine := newTestEngine(&fakeDirectory{})
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	m := meeting("m1", "a@example.com")
	assignment, err := engine.Assign(m)
	require.NoError(t, err)

	changed, err := engine.Apply(m, assignment, now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = engine.Apply(m, assignment, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed, "same destination applied twice is a no-op")

	stored, ok := engine.Applied("m1")
	require.True(t, ok)
	assert.Equal(t, now, stored.AppliedAt, "original apply time preserved")
}

func TestApplyRecordsChangedDestination(t *testing.T) {
	engine := newTestEngine(&fakeDirectory{})
	now := time.Now()

	m := meeting("m1", "a@example.com")
	first := Assignment{MeetingID: "m1", Kind: KindIndividual, PersonIDs: []string{"person-a"}}
	changed, err := engine.Apply(m, first, now)
	require.NoError(t, err)
	assert.True(t, changed)

	second := Assignment{MeetingID: "m1", Kind: KindGroup, GroupID: "group-1"}
	changed, err = engine.Apply(m, second, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed, "different destination must be recorded")

	stored, _ := engine.Applied("m1")
	assert.Equal(t, KindGroup, stored.Kind)
}
