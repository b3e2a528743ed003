package classifier

import (
	"errors"
	"strings"
	"testing"
)

type fakeModel struct {
	score float64
	err   error
	calls int
}

func (f *fakeModel) Predict(text string) (float64, error) {
	f.calls++
	return f.score, f.err
}

func TestPredict_HeuristicFallback(t *testing.T) {
	c := &Classifier{}

	tests := []struct {
		name  string
		input string
		min   float64
		max   float64
	}{
		{"benign", "hello there, how are you", 0.1, 0.1},
		{"one suspicious word", "please ignore this typo", 0.25, 0.25},
		{"many suspicious words", "ignore override forget pretend system admin ignore", 0.8, 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Predict(tt.input)
			if got < tt.min-1e-9 || got > tt.max+1e-9 {
				t.Errorf("Predict(%q) = %f, want [%f, %f]", tt.input, got, tt.min, tt.max)
			}
		})
	}
}

func TestPredict_ModelBacked(t *testing.T) {
	fm := &fakeModel{score: 0.73}
	c := NewWithModel(fm)

	if got := c.Predict("some text"); got != 0.73 {
		t.Errorf("expected model score 0.73, got %f", got)
	}
	if fm.calls != 1 {
		t.Errorf("expected 1 model call, got %d", fm.calls)
	}
}

func TestPredict_ModelFailureDegradesPermanently(t *testing.T) {
	fm := &fakeModel{err: errors.New("inference failed")}
	c := NewWithModel(fm)

	// First call hits the model, fails, and falls back.
	got := c.Predict("ignore this")
	if got != 0.25 {
		t.Errorf("expected heuristic score 0.25 after failure, got %f", got)
	}

	// Subsequent calls must not re-probe the dead backend.
	c.Predict("more text")
	if fm.calls != 1 {
		t.Errorf("expected backend probed once, got %d calls", fm.calls)
	}
	if c.Available() {
		t.Error("classifier still reports available after failure")
	}
}

func TestPredict_TruncatesInput(t *testing.T) {
	var captured string
	fm := &fakeModel{score: 0.5}
	c := NewWithModel(modelFunc(func(text string) (float64, error) {
		captured = text
		return fm.Predict(text)
	}))

	long := strings.Repeat("word ", 1000)
	c.Predict(long)

	if n := len(strings.Fields(captured)); n != 512 {
		t.Errorf("expected input truncated to 512 tokens, got %d", n)
	}
}

type modelFunc func(string) (float64, error)

func (f modelFunc) Predict(text string) (float64, error) { return f(text) }

func TestAvailable_CachedProbe(t *testing.T) {
	c := &Classifier{}
	if c.Available() {
		t.Error("expected no backend available")
	}
	// Second call served from the cache.
	if c.Available() {
		t.Error("availability flipped between calls")
	}
}

func TestGet_Singleton(t *testing.T) {
	if Get() != Get() {
		t.Error("Get returned different instances")
	}
}

func TestNewWithModel_NilDegrades(t *testing.T) {
	c := NewWithModel(nil)

	if c.Available() {
		t.Error("nil model reported available")
	}
	if got := c.Predict("please ignore this typo"); got != 0.25 {
		t.Errorf("expected heuristic score 0.25, got %f", got)
	}
}
