package quality

import (
	"fmt"
	"time"

	"meetrec-server/pkg/metrics"
)

// Status summarizes the overall health of a recording session
type Status string

const (
	StatusCritical  Status = "critical"
	StatusDegraded  Status = "degraded"
	StatusGood      Status = "good"
	StatusExcellent Status = "excellent"
)

// Severity ranks how badly an issue affects the recording
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IssueKind identifies a specific detectable problem
type IssueKind string

const (
	IssueMicDisconnected        IssueKind = "mic-disconnected"
	IssueSystemAudioUnavailable IssueKind = "system-audio-unavailable"
	IssueLowAudioLevel          IssueKind = "low-audio-level"
	IssueTranscriptionDelayed   IssueKind = "transcription-delayed"
	IssueDiarizationFailed      IssueKind = "diarization-failed"
	IssueDiskSpaceLow           IssueKind = "disk-space-low"
	IssueCPUOverload            IssueKind = "cpu-overload"
)

// Issue is one detected problem with a human-readable description
type Issue struct {
	Kind        IssueKind `json:"kind"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
}

// Metrics is a point-in-time snapshot of everything the evaluator inspects.
// Producers fill it; Evaluate never reads anything else.
type Metrics struct {
	MicConnected         bool
	SystemAudioAvailable bool
	AverageAudioLevel    float64
	DroppedFrames        int64
	TranscriptionLag     time.Duration
	DiarizationFailures  int64
	DiskFreeBytes        uint64
	CPULoadPercent       float64
}

// Fixed evaluation thresholds. These are deliberately not configurable so
// status meanings stay comparable across sessions.
const (
	lowLevelThreshold     = 0.01
	lagThreshold          = 10 * time.Second
	diarizationTolerance  = 5
	diskFloorBytes        = 1 << 30 // 1 GiB
	cpuCeilingPercent     = 70.0
	droppedFrameTolerance = 5
)

// Evaluate derives a status and issue list from a metrics snapshot. It is a
// pure function: the same snapshot always yields the same result.
func Evaluate(m Metrics) (Status, []Issue) {
	var issues []Issue

	if !m.MicConnected {
		issues = append(issues, Issue{
			Kind:        IssueMicDisconnected,
			Severity:    SeverityCritical,
			Description: "microphone input is disconnected",
		})
	}
	if !m.SystemAudioAvailable {
		issues = append(issues, Issue{
			Kind:        IssueSystemAudioUnavailable,
			Severity:    SeverityWarning,
			Description: "system audio is unavailable, recording microphone only",
		})
	}
	if m.MicConnected && m.AverageAudioLevel < lowLevelThreshold {
		issues = append(issues, Issue{
			Kind:        IssueLowAudioLevel,
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("average audio level %.4f is near silence", m.AverageAudioLevel),
		})
	}
	if m.TranscriptionLag > lagThreshold {
		issues = append(issues, Issue{
			Kind:        IssueTranscriptionDelayed,
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("transcription is %s behind live audio", m.TranscriptionLag.Round(time.Second)),
		})
	}
	if m.DiarizationFailures > diarizationTolerance {
		issues = append(issues, Issue{
			Kind:        IssueDiarizationFailed,
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("speaker identification failed %d times", m.DiarizationFailures),
		})
	}
	if m.DiskFreeBytes > 0 && m.DiskFreeBytes < diskFloorBytes {
		issues = append(issues, Issue{
			Kind:        IssueDiskSpaceLow,
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("only %d MiB of disk space remains", m.DiskFreeBytes/(1<<20)),
		})
	}
	// High CPU alone is not actionable; it only matters once the pipeline
	// starts shedding audio.
	if m.CPULoadPercent > cpuCeilingPercent && m.DroppedFrames > droppedFrameTolerance {
		issues = append(issues, Issue{
			Kind:        IssueCPUOverload,
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("CPU load at %.0f%% with %d dropped audio frames", m.CPULoadPercent, m.DroppedFrames),
		})
	}

	return statusFor(issues), issues
}

// statusFor ranks issues into an overall status: any critical issue makes
// the session critical, two or more warnings degrade it, a single warning
// still counts as good, and a clean snapshot is excellent.
func statusFor(issues []Issue) Status {
	warnings := 0
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return StatusCritical
		}
		warnings++
	}

	switch {
	case warnings >= 2:
		return StatusDegraded
	case warnings == 1:
		return StatusGood
	default:
		return StatusExcellent
	}
}

// gaugeValue maps a status onto the exported metric scale
func gaugeValue(s Status) float64 {
	switch s {
	case StatusExcellent:
		return 0
	case StatusGood:
		return 1
	case StatusDegraded:
		return 2
	default:
		return 3
	}
}

func recordStatus(s Status, issues []Issue) {
	if metrics.QualityStatus != nil {
		metrics.QualityStatus.Set(gaugeValue(s))
	}
	if metrics.QualityIssues != nil {
		metrics.QualityIssues.Reset()
		for _, issue := range issues {
			metrics.QualityIssues.WithLabelValues(string(issue.Kind), string(issue.Severity)).Set(1)
		}
	}
}
