// Package classifier provides the learned binary risk signal for the
// payload detector. The model backend is optional: when it cannot be
// loaded the classifier degrades permanently to a word heuristic.
package classifier

import (
	"strings"
	"sync"
)

// maxTokens bounds classifier input to keep inference cost predictable.
const maxTokens = 512

// availability is the tri-state cache for the ML backend so a missing
// backend is probed at most once per process.
type availability int

const (
	availUnknown availability = iota
	availYes
	availNo
)

// Model scores text for injection risk in [0, 1].
type Model interface {
	Predict(text string) (float64, error)
}

// Classifier is the process-wide risk classifier singleton.
type Classifier struct {
	mu       sync.Mutex
	loadOnce sync.Once
	model    Model
	avail    availability
}

var (
	instance     *Classifier
	instanceOnce sync.Once
)

// Get returns the singleton Classifier.
func Get() *Classifier {
	instanceOnce.Do(func() {
		instance = &Classifier{}
	})
	return instance
}

// NewWithModel creates a standalone Classifier backed by the given model.
// Used in tests; the singleton is never touched. A nil model degrades to
// the heuristic, it never asserts availability.
func NewWithModel(m Model) *Classifier {
	c := &Classifier{model: m}
	c.loadOnce.Do(func() {})
	return c
}

// Available reports whether the learned backend is usable. The result is
// cached; once a load fails the classifier stays degraded.
func (c *Classifier) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.avail == availUnknown {
		c.probe()
	}
	return c.avail == availYes
}

// probe checks for a model backend. No in-process transformer runtime
// ships with this build, so the probe marks the backend absent; the
// heuristic path below carries detection from then on.
func (c *Classifier) probe() {
	if c.model != nil {
		c.avail = availYes
		return
	}
	c.avail = availNo
}

// Predict scores the text for injection risk in [0, 1]. Input is truncated
// to maxTokens whitespace tokens. Any model failure degrades permanently
// to the heuristic.
func (c *Classifier) Predict(text string) float64 {
	text = truncateTokens(text, maxTokens)

	if c.Available() {
		c.loadOnce.Do(func() {}) // model injected via NewWithModel is pre-loaded
		score, err := c.model.Predict(text)
		if err == nil {
			return clamp01(score)
		}
		c.mu.Lock()
		c.avail = availNo
		c.mu.Unlock()
	}

	return heuristicScore(text)
}

// heuristicScore is the fallback signal: +0.15 per suspicious word
// occurrence, floored at 0.1 and capped at 0.8.
func heuristicScore(text string) float64 {
	suspicious := []string{"ignore", "override", "forget", "pretend", "system", "admin"}
	lower := strings.ToLower(text)

	score := 0.1
	for _, word := range suspicious {
		score += 0.15 * float64(strings.Count(lower, word))
	}
	if score > 0.8 {
		return 0.8
	}
	return score
}

func truncateTokens(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) <= n {
		return text
	}
	return strings.Join(fields[:n], " ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
