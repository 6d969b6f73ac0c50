package alliance

import (
	"github.com/Iron-Ham/council/internal/logging"
	"github.com/Iron-Ham/council/internal/metrics"
	"github.com/Iron-Ham/council/internal/pacing"
	"github.com/Iron-Ham/council/internal/persona"
	"github.com/Iron-Ham/council/internal/transcript"
)

// Probabilities control how often each detector's candidates survive.
type Probabilities struct {
	PostDebate float64
	Harsh      float64
	Random     float64
}

// DefaultProbabilities returns the production odds.
func DefaultProbabilities() Probabilities {
	return Probabilities{PostDebate: 0.4, Harsh: 0.5, Random: 0.1}
}

// Analyzer turns a transcript into at most one trigger per persona.
type Analyzer struct {
	src    pacing.Source
	probs  Probabilities
	logger *logging.Logger
}

// NewAnalyzer creates an Analyzer drawing from src.
func NewAnalyzer(src pacing.Source, probs Probabilities, logger *logging.Logger) *Analyzer {
	if src == nil {
		src = pacing.NewSource(0)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Analyzer{src: src, probs: probs, logger: logger.WithPhase("alliance")}
}

// Analyze runs every detector. Outnumbered candidates always survive;
// post-debate, harsh and random ones survive by chance. When one persona
// has several candidates the first wins, in detector order.
func (a *Analyzer) Analyze(msgs []transcript.Message) []Trigger {
	var all []Trigger
	for _, t := range DetectPostDebate(msgs) {
		if a.src.Float64() < a.probs.PostDebate {
			all = append(all, t)
		}
	}
	all = append(all, DetectOutnumbered(msgs)...)
	for _, t := range DetectHarshCriticism(msgs) {
		if a.src.Float64() < a.probs.Harsh {
			all = append(all, t)
		}
	}
	if t, ok := DetectRandom(a.src, a.probs.Random); ok {
		all = append(all, t)
	}

	out := dedupe(all)
	for _, t := range out {
		metrics.AllianceCandidate(string(t.Type))
	}
	a.logger.Debug("alliance analysis", "exchanges", len(transcript.Exchanges(msgs)), "candidates", len(all), "kept", len(out))
	return out
}

func dedupe(triggers []Trigger) []Trigger {
	seen := make(map[persona.ID]bool)
	var out []Trigger
	for _, t := range triggers {
		if seen[t.From] {
			continue
		}
		seen[t.From] = true
		out = append(out, t)
	}
	return out
}
