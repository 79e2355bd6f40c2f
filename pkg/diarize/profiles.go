package diarize

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/errors"
	"meetrec-server/pkg/metrics"
)

// SpeakerProfile is a voice identity built up over a session. Profiles start
// transient and become confirmed once a name is attached.
type SpeakerProfile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Embedding   []float64 `json:"embedding"`
	SampleCount int       `json:"sample_count"`
	Confidence  float64   `json:"confidence"`
	IsSelf      bool      `json:"is_self"`
	Confirmed   bool      `json:"confirmed"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// clone returns a deep copy so callers never see live store state
func (p *SpeakerProfile) clone() *SpeakerProfile {
	cp := *p
	cp.Embedding = append([]float64(nil), p.Embedding...)
	return &cp
}

// ProfileStoreConfig controls matching and profile update behavior
type ProfileStoreConfig struct {
	// MatchThreshold is the minimum cosine similarity for an embedding to
	// be attributed to an existing profile
	MatchThreshold float64

	// MaxUpdateWeight caps how much a single new sample can shift a
	// profile's embedding, regardless of sample count
	MaxUpdateWeight float64

	// ExcludeSelf skips profiles marked IsSelf during matching so the
	// local user's own voice is never attributed to a remote speaker
	ExcludeSelf bool
}

// DefaultProfileStoreConfig returns the standard matching parameters
func DefaultProfileStoreConfig() ProfileStoreConfig {
	return ProfileStoreConfig{
		MatchThreshold:  0.7,
		MaxUpdateWeight: 0.3,
	}
}

// ProfileStore holds the known speaker profiles for a session and matches
// incoming embeddings against them. All methods are safe for concurrent use.
type ProfileStore struct {
	logger   *logrus.Logger
	config   ProfileStoreConfig
	profiles map[string]*SpeakerProfile
	mutex    sync.RWMutex
}

// NewProfileStore creates an empty profile store
func NewProfileStore(logger *logrus.Logger, config ProfileStoreConfig) *ProfileStore {
	if config.MatchThreshold <= 0 {
		config.MatchThreshold = 0.7
	}
	if config.MaxUpdateWeight <= 0 {
		config.MaxUpdateWeight = 0.3
	}
	return &ProfileStore{
		logger:   logger,
		config:   config,
		profiles: make(map[string]*SpeakerProfile),
	}
}

// Match returns the best-scoring profile for the embedding, or nil when no
// profile clears the similarity threshold. Self profiles are skipped when
// ExcludeSelf is set.
func (s *ProfileStore) Match(embedding []float64) (*SpeakerProfile, float64) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	best, score := s.matchLocked(embedding)
	if best == nil {
		return nil, score
	}
	return best.clone(), score
}

func (s *ProfileStore) matchLocked(embedding []float64) (*SpeakerProfile, float64) {
	var best *SpeakerProfile
	bestScore := 0.0

	for _, profile := range s.profiles {
		if s.config.ExcludeSelf && profile.IsSelf {
			continue
		}
		score := CosineSimilarity(embedding, profile.Embedding)
		if score > bestScore {
			best = profile
			bestScore = score
		}
	}

	if best == nil || bestScore < s.config.MatchThreshold {
		return nil, bestScore
	}
	return best, bestScore
}

// Observe matches the embedding and folds it into the winning profile, or
// creates a new transient profile when nothing matches. Returns the profile
// after the update, the match confidence, and whether a new profile was made.
func (s *ProfileStore) Observe(embedding []float64, at time.Time) (*SpeakerProfile, float64, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	matched, score := s.matchLocked(embedding)
	if matched != nil {
		s.updateLocked(matched, embedding, score, at)
		if metrics.SpeakerMatches != nil {
			metrics.SpeakerMatches.WithLabelValues("matched").Inc()
		}
		return matched.clone(), score, false
	}

	profile := &SpeakerProfile{
		ID:          uuid.New().String(),
		Embedding:   append([]float64(nil), embedding...),
		SampleCount: 1,
		Confidence:  score,
		CreatedAt:   at,
		LastSeenAt:  at,
	}
	s.profiles[profile.ID] = profile

	s.logger.WithFields(logrus.Fields{
		"profile_id": profile.ID,
		"best_score": score,
	}).Debug("Created transient speaker profile")

	if metrics.SpeakerMatches != nil {
		metrics.SpeakerMatches.WithLabelValues("new").Inc()
	}
	if metrics.SpeakerProfiles != nil {
		metrics.SpeakerProfiles.Set(float64(len(s.profiles)))
	}
	return profile.clone(), score, true
}

// updateLocked folds a new embedding into a profile with a weight that
// shrinks as the profile accumulates samples, capped so a single sample can
// never dominate an established profile.
func (s *ProfileStore) updateLocked(profile *SpeakerProfile, embedding []float64, score float64, at time.Time) {
	weight := 1.0 / float64(profile.SampleCount+1)
	if weight > s.config.MaxUpdateWeight {
		weight = s.config.MaxUpdateWeight
	}

	for i := range profile.Embedding {
		profile.Embedding[i] = (1-weight)*profile.Embedding[i] + weight*embedding[i]
	}
	normalize(profile.Embedding)

	profile.SampleCount++
	profile.Confidence = (1-weight)*profile.Confidence + weight*score
	profile.LastSeenAt = at
}

// Confirm attaches a name to a profile, promoting it from transient
func (s *ProfileStore) Confirm(id, name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	profile, ok := s.profiles[id]
	if !ok {
		return errors.Wrap(errors.ErrSpeakerNotFound, "cannot confirm unknown profile").
			WithField("profile_id", id)
	}
	profile.Name = name
	profile.Confirmed = true
	return nil
}

// MarkSelf flags a profile as the local user's own voice
func (s *ProfileStore) MarkSelf(id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	profile, ok := s.profiles[id]
	if !ok {
		return errors.Wrap(errors.ErrSpeakerNotFound, "cannot mark unknown profile").
			WithField("profile_id", id)
	}
	profile.IsSelf = true
	return nil
}

// Get returns a copy of the profile with the given ID
func (s *ProfileStore) Get(id string) (*SpeakerProfile, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	profile, ok := s.profiles[id]
	if !ok {
		return nil, false
	}
	return profile.clone(), true
}

// Profiles returns copies of all profiles, ordered by creation time
func (s *ProfileStore) Profiles() []*SpeakerProfile {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]*SpeakerProfile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		out = append(out, profile.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of profiles in the store
func (s *ProfileStore) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.profiles)
}
