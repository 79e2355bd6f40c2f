package summarize

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/errors"
)

// Summarizer condenses a finished meeting transcript into a short summary.
// Implementations may call external models; the engine only sees this
// interface.
type Summarizer interface {
	// Name identifies the backend
	Name() string

	// Summarize condenses a transcript. The input has already been
	// truncated to the backend's budget.
	Summarize(ctx context.Context, transcript string) (string, error)
}

// TruncateToBudget trims a transcript to at most maxWords, keeping the
// opening and closing of the meeting since that is where agendas and action
// items live. A marker notes the removed middle.
func TruncateToBudget(transcript string, maxWords int) string {
	words := strings.Fields(transcript)
	if maxWords <= 0 || len(words) <= maxWords {
		return transcript
	}

	head := maxWords * 2 / 3
	tail := maxWords - head

	kept := make([]string, 0, maxWords+1)
	kept = append(kept, words[:head]...)
	kept = append(kept, "[...]")
	kept = append(kept, words[len(words)-tail:]...)
	return strings.Join(kept, " ")
}

// ExtractiveSummarizer picks the highest-scoring sentences from the
// transcript itself. No external model, fully deterministic, and good
// enough as the always-available fallback backend.
type ExtractiveSummarizer struct {
	logger       *logrus.Logger
	maxSentences int
}

// NewExtractiveSummarizer creates a summarizer emitting at most maxSentences
func NewExtractiveSummarizer(logger *logrus.Logger, maxSentences int) *ExtractiveSummarizer {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &ExtractiveSummarizer{logger: logger, maxSentences: maxSentences}
}

// Name identifies the backend
func (s *ExtractiveSummarizer) Name() string { return "extractive" }

// Summarize scores sentences by the frequency of their content words and
// returns the top scorers in original order.
func (s *ExtractiveSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "cannot summarize an empty transcript")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sentences := splitSentences(transcript)
	if len(sentences) <= s.maxSentences {
		return strings.Join(sentences, " "), nil
	}

	frequency := wordFrequency(transcript)

	type scored struct {
		index int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sentence := range sentences {
		words := contentWords(sentence)
		total := 0.0
		for _, w := range words {
			total += frequency[w]
		}
		if len(words) > 0 {
			ranked[i] = scored{index: i, score: total / float64(len(words))}
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	top := ranked[:s.maxSentences]
	sort.Slice(top, func(i, j int) bool {
		return top[i].index < top[j].index
	})

	out := make([]string, len(top))
	for i, item := range top {
		out[i] = sentences[item.index]
	}
	return strings.Join(out, " "), nil
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '?' || r == '!' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "to": true, "of": true,
	"in": true, "on": true, "at": true, "it": true, "we": true, "i": true,
	"you": true, "that": true, "this": true, "for": true, "with": true,
	"so": true, "be": true, "have": true, "has": true, "do": true, "just": true,
}

func contentWords(text string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == "" || stopWords[w] {
			continue
		}
		words = append(words, w)
	}
	return words
}

func wordFrequency(text string) map[string]float64 {
	frequency := make(map[string]float64)
	for _, w := range contentWords(text) {
		frequency[w]++
	}
	return frequency
}
