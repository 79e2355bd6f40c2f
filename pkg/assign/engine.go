package assign

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/errors"
)

// EngineConfig controls the assignment heuristics
type EngineConfig struct {
	// GroupThreshold is the attendee count above which a meeting is filed
	// under a group rather than individuals
	GroupThreshold int

	// OverlapThreshold is the minimum member overlap for reusing an
	// existing group instead of creating a new one
	OverlapThreshold float64
}

// DefaultEngineConfig returns the standard heuristic parameters
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		GroupThreshold:   4,
		OverlapThreshold: 0.7,
	}
}

// Engine decides where each meeting's record is filed. Rules are consulted
// in order first; attendee-count heuristics handle everything the rule table
// does not cover. Assign only determines the destination kind and never
// touches the directory; Apply resolves attendees to people, creates groups
// as needed, and records the result idempotently.
type Engine struct {
	logger    *logrus.Logger
	config    EngineConfig
	directory Directory

	rules   []Rule
	applied map[string]Assignment
	mutex   sync.RWMutex
}

// NewEngine creates an assignment engine over the given directory
func NewEngine(logger *logrus.Logger, config EngineConfig, directory Directory) *Engine {
	if config.GroupThreshold <= 0 {
		config.GroupThreshold = 4
	}
	if config.OverlapThreshold <= 0 {
		config.OverlapThreshold = 0.7
	}
	return &Engine{
		logger:    logger,
		config:    config,
		directory: directory,
		applied:   make(map[string]Assignment),
	}
}

// AddRule appends a rule to the end of the table
func (e *Engine) AddRule(rule Rule) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.rules = append(e.rules, rule)
}

// Assign resolves the destination kind for a meeting without recording it
// or mutating the directory. Deterministic for a given meeting and rule
// table.
func (e *Engine) Assign(m Meeting) (Assignment, error) {
	e.mutex.RLock()
	rules := e.rules
	e.mutex.RUnlock()

	for _, rule := range rules {
		if rule.Matches(m) {
			assignment := rule.Target()
			assignment.MeetingID = m.ID
			assignment.Rule = rule.Name()

			e.logger.WithFields(logrus.Fields{
				"meeting_id": m.ID,
				"rule":       rule.Name(),
				"kind":       assignment.Kind,
			}).Debug("Meeting matched assignment rule")
			return assignment, nil
		}
	}

	return e.heuristic(m), nil
}

// heuristic applies the attendee-count defaults when no rule matched. One or
// two attendees file under individuals, small meetings are mixed, anything
// past the group threshold files under a group.
func (e *Engine) heuristic(m Meeting) Assignment {
	count := m.AttendeeCount()
	assignment := Assignment{MeetingID: m.ID}

	switch {
	case count == 0:
		assignment.Kind = KindUnassigned
	case count <= 2:
		assignment.Kind = KindIndividual
	case count <= e.config.GroupThreshold:
		assignment.Kind = KindMixed
	default:
		assignment.Kind = KindGroup
	}

	e.logger.WithFields(logrus.Fields{
		"meeting_id": m.ID,
		"attendees":  count,
		"kind":       assignment.Kind,
	}).Debug("Meeting assigned by attendee-count heuristic")
	return assignment
}

// resolveAll maps every attendee address to a person ID, registering
// addresses the directory has never seen. Sorted so the result never
// depends on attendee ordering.
func (e *Engine) resolveAll(attendees []string) ([]string, error) {
	ids := make([]string, 0, len(attendees))
	for _, email := range attendees {
		person, err := e.directory.FindOrCreatePerson(email)
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve attendee").
				WithField("email", email)
		}
		ids = append(ids, person.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// groupFor reuses the existing group with the best member overlap above the
// threshold, creating a new group only when none qualifies.
func (e *Engine) groupFor(m Meeting, memberIDs []string) (Group, error) {
	var best Group
	bestOverlap := 0.0

	for _, group := range e.directory.Groups() {
		overlap := memberOverlap(memberIDs, group.MemberIDs)
		if overlap > bestOverlap {
			best = group
			bestOverlap = overlap
		}
	}

	if bestOverlap >= e.config.OverlapThreshold {
		e.logger.WithFields(logrus.Fields{
			"meeting_id": m.ID,
			"group_id":   best.ID,
			"overlap":    bestOverlap,
		}).Debug("Reusing existing group for meeting")
		return best, nil
	}

	name := m.Title
	if name == "" {
		name = fmt.Sprintf("Group of %d", len(memberIDs))
	}
	group, err := e.directory.CreateGroup(name, memberIDs)
	if err != nil {
		return Group{}, errors.Wrap(err, "failed to create group for meeting").
			WithField("meeting_id", m.ID)
	}
	return group, nil
}

// memberOverlap is the Jaccard overlap between two member sets
func memberOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}

	intersection := 0
	for _, id := range b {
		if set[id] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// Apply materializes an assignment against the directory and records it:
// every attendee resolves to a person (registered when unknown) so even
// group and mixed outcomes link each participant, and group destinations
// reuse or create a directory group. Applying the same destination twice is
// a no-op; the stored record keeps its original AppliedAt.
func (e *Engine) Apply(m Meeting, assignment Assignment, now time.Time) (bool, error) {
	if assignment.MeetingID == "" {
		return false, errors.Wrap(errors.ErrInvalidInput, "assignment has no meeting ID")
	}

	resolved, err := e.materialize(m, assignment)
	if err != nil {
		return false, err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if existing, ok := e.applied[resolved.MeetingID]; ok && sameDestination(existing, resolved) {
		return false, nil
	}

	resolved.AppliedAt = now
	e.applied[resolved.MeetingID] = resolved

	e.logger.WithFields(logrus.Fields{
		"meeting_id": resolved.MeetingID,
		"kind":       resolved.Kind,
		"people":     len(resolved.PersonIDs),
		"rule":       resolved.Rule,
	}).Info("Applied meeting assignment")
	return true, nil
}

// materialize fills in the directory side of a destination: person links
// for every attendee and the group to file under. Rule targets that already
// name people or a group are kept as-is.
func (e *Engine) materialize(m Meeting, assignment Assignment) (Assignment, error) {
	switch assignment.Kind {
	case KindIndividual, KindMixed:
		if len(assignment.PersonIDs) == 0 {
			ids, err := e.resolveAll(m.Attendees)
			if err != nil {
				return Assignment{}, err
			}
			assignment.PersonIDs = ids
		}

	case KindGroup:
		if assignment.GroupID == "" {
			ids, err := e.resolveAll(m.Attendees)
			if err != nil {
				return Assignment{}, err
			}
			group, err := e.groupFor(m, ids)
			if err != nil {
				return Assignment{}, err
			}
			assignment.GroupID = group.ID
			// Group records still link each participant individually.
			assignment.PersonIDs = ids
		}
	}
	return assignment, nil
}

// Applied returns the recorded assignment for a meeting
func (e *Engine) Applied(meetingID string) (Assignment, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	assignment, ok := e.applied[meetingID]
	return assignment, ok
}

func sameDestination(a, b Assignment) bool {
	if a.Kind != b.Kind || a.GroupID != b.GroupID || len(a.PersonIDs) != len(b.PersonIDs) {
		return false
	}
	for i := range a.PersonIDs {
		if a.PersonIDs[i] != b.PersonIDs[i] {
			return false
		}
	}
	return true
}
