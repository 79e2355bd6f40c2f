package stt

import (
	"sort"
	"sync"
	"time"

	"meetrec-server/pkg/metrics"
)

// TranscriptSegment is one attributed span of recognized speech.
// Segments start volatile and may be revised by later windows; once
// finalized they are immutable and strictly ordered.
type TranscriptSegment struct {
	Text       string    `json:"text"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	SpeakerID  string    `json:"speaker_id,omitempty"`
	Confidence float64   `json:"confidence"`

	// SpeakerConfidence is the diarization match confidence, when attributed.
	SpeakerConfidence float64 `json:"speaker_confidence,omitempty"`
	Final             bool    `json:"final"`

	// Placeholder marks a window whose transcription failed after retry.
	// The audio is accounted for but carries no text.
	Placeholder bool `json:"placeholder,omitempty"`
}

// WordCount returns the number of whitespace-separated words in the segment
func (s *TranscriptSegment) WordCount() int {
	count := 0
	inWord := false
	for _, r := range s.Text {
		if r == ' ' || r == '\t' || r == '\n' {
			inWord = false
			continue
		}
		if !inWord {
			count++
			inWord = true
		}
	}
	return count
}

// SegmentAssembler collects per-window segments, keeps them volatile for a
// settle delay, then finalizes them in monotonic, non-overlapping order.
type SegmentAssembler struct {
	settleDelay time.Duration
	sessionID   string

	mu        sync.Mutex
	volatile  []TranscriptSegment
	finalized []TranscriptSegment
	onFinal   func(TranscriptSegment)
}

// NewSegmentAssembler creates an assembler finalizing segments after the
// given settle delay
func NewSegmentAssembler(sessionID string, settleDelay time.Duration) *SegmentAssembler {
	return &SegmentAssembler{
		settleDelay: settleDelay,
		sessionID:   sessionID,
	}
}

// OnFinal registers a callback invoked for every finalized segment, in order.
// Must be set before segments are added.
func (a *SegmentAssembler) OnFinal(fn func(TranscriptSegment)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onFinal = fn
}

// Add merges new window output into the volatile tail. A later window may
// revise a volatile segment covering the same span; the newer result wins.
func (a *SegmentAssembler) Add(segments []TranscriptSegment) {
	if len(segments) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, seg := range segments {
		seg.Final = false
		a.volatile = a.mergeVolatileLocked(seg)
	}

	sort.SliceStable(a.volatile, func(i, j int) bool {
		return a.volatile[i].Start.Before(a.volatile[j].Start)
	})
}

// mergeVolatileLocked replaces an overlapping volatile segment or appends
func (a *SegmentAssembler) mergeVolatileLocked(seg TranscriptSegment) []TranscriptSegment {
	for i, existing := range a.volatile {
		// Same span revised by a later window: newer output replaces it,
		// unless the revision is a placeholder and the original carried text.
		if existing.Start.Equal(seg.Start) || (seg.Start.Before(existing.End) && existing.Start.Before(seg.End)) {
			if seg.Placeholder && !existing.Placeholder {
				return a.volatile
			}
			a.volatile[i] = seg
			return a.volatile
		}
	}
	return append(a.volatile, seg)
}

// AttributeSpeaker tags volatile segments overlapping the given span with a
// speaker. Finalized segments are never touched.
func (a *SegmentAssembler) AttributeSpeaker(start, end time.Time, speakerID string, confidence float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.volatile {
		seg := &a.volatile[i]
		if seg.Start.Before(end) && start.Before(seg.End) {
			seg.SpeakerID = speakerID
			seg.SpeakerConfidence = confidence
		}
	}
}

// FinalizeSettled finalizes every volatile segment that has had no chance of
// revision for the settle delay, measured against the given clock reading.
func (a *SegmentAssembler) FinalizeSettled(now time.Time) []TranscriptSegment {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := now.Add(-a.settleDelay)
	var settled []TranscriptSegment
	var remaining []TranscriptSegment

	for _, seg := range a.volatile {
		if seg.End.Before(cutoff) || seg.End.Equal(cutoff) {
			settled = append(settled, seg)
		} else {
			remaining = append(remaining, seg)
		}
	}
	a.volatile = remaining

	return a.finalizeLocked(settled)
}

// FinalizeAll finalizes every remaining volatile segment as-is. Called on
// session stop and on forced shutdown so accumulated speech is never dropped.
func (a *SegmentAssembler) FinalizeAll() []TranscriptSegment {
	a.mu.Lock()
	defer a.mu.Unlock()

	settled := a.volatile
	a.volatile = nil
	return a.finalizeLocked(settled)
}

// finalizeLocked commits segments while enforcing the ordering invariant:
// finalized starts are non-decreasing and spans never overlap.
func (a *SegmentAssembler) finalizeLocked(settled []TranscriptSegment) []TranscriptSegment {
	if len(settled) == 0 {
		return nil
	}

	sort.SliceStable(settled, func(i, j int) bool {
		return settled[i].Start.Before(settled[j].Start)
	})

	out := make([]TranscriptSegment, 0, len(settled))
	for _, seg := range settled {
		if n := len(a.finalized); n > 0 {
			prevEnd := a.finalized[n-1].End
			if seg.Start.Before(prevEnd) {
				// Clamp into the free region; drop if fully covered.
				if !seg.End.After(prevEnd) {
					continue
				}
				seg.Start = prevEnd
			}
		}
		seg.Final = true
		a.finalized = append(a.finalized, seg)
		out = append(out, seg)

		if a.onFinal != nil {
			a.onFinal(seg)
		}
		if metrics.SegmentsFinalized != nil {
			metrics.SegmentsFinalized.WithLabelValues(a.sessionID).Inc()
		}
	}
	return out
}

// Finalized returns a copy of all finalized segments in order
func (a *SegmentAssembler) Finalized() []TranscriptSegment {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]TranscriptSegment, len(a.finalized))
	copy(out, a.finalized)
	return out
}

// VolatileCount returns how many segments are still revisable
func (a *SegmentAssembler) VolatileCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.volatile)
}

// TranscriptText joins all finalized segment texts into one transcript
func (a *SegmentAssembler) TranscriptText() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []byte
	for _, seg := range a.finalized {
		if seg.Text == "" {
			continue
		}
		if len(out) > 0 {
			out = append(out, ' ')
		}
		out = append(out, seg.Text...)
	}
	return string(out)
}
