package quality

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MetricsSource produces a point-in-time metrics snapshot for evaluation
type MetricsSource func() Metrics

// Report is one evaluated sample
type Report struct {
	Status    Status    `json:"status"`
	Issues    []Issue   `json:"issues"`
	SampledAt time.Time `json:"sampled_at"`
}

// SamplerConfig controls the evaluation cadence
type SamplerConfig struct {
	Interval time.Duration
}

// DefaultSamplerConfig returns the standard 5 second cadence
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{Interval: 5 * time.Second}
}

// Sampler periodically evaluates session quality and keeps the latest report
// available. Status transitions are logged; steady states are not.
type Sampler struct {
	logger   *logrus.Logger
	config   SamplerConfig
	source   MetricsSource
	onReport func(Report)

	latest Report
	mutex  sync.RWMutex
}

// NewSampler creates a sampler over the given metrics source
func NewSampler(logger *logrus.Logger, config SamplerConfig, source MetricsSource) *Sampler {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	return &Sampler{
		logger: logger,
		config: config,
		source: source,
		latest: Report{Status: StatusExcellent},
	}
}

// OnReport registers a callback fired after every evaluation
func (s *Sampler) OnReport(fn func(Report)) {
	s.onReport = fn
}

// Run evaluates on a fixed interval until the context is canceled
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sample(now)
		}
	}
}

// Sample evaluates one snapshot immediately and returns the report
func (s *Sampler) Sample(now time.Time) Report {
	status, issues := Evaluate(s.source())
	recordStatus(status, issues)

	report := Report{
		Status:    status,
		Issues:    issues,
		SampledAt: now,
	}

	s.mutex.Lock()
	previous := s.latest.Status
	s.latest = report
	s.mutex.Unlock()

	if previous != status {
		s.logger.WithFields(logrus.Fields{
			"from":   previous,
			"to":     status,
			"issues": len(issues),
		}).Info("Recording quality changed")
	}

	if s.onReport != nil {
		s.onReport(report)
	}
	return report
}

// Latest returns the most recent report
func (s *Sampler) Latest() Report {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.latest
}
