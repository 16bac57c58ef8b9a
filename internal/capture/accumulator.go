package capture

import (
	"strings"
	"sync"
)

// accumulator merges partial and final recognition results into one transcript.
//
// Partial results replace the in-progress tail but never touch committed text;
// final results append to committed text with a single-space join. The observed
// transcript never regresses in length except on Clear.
type accumulator struct {
	mu        sync.Mutex
	committed string
	partial   string
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

func (a *accumulator) ApplyPartial(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	a.partial = text
	a.mu.Unlock()
}

func (a *accumulator) ApplyFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	if a.committed == "" {
		a.committed = text
	} else {
		a.committed = a.committed + " " + text
	}
	a.partial = ""
	a.mu.Unlock()
}

// Current returns committed text plus the latest partial tail, if any.
func (a *accumulator) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.partial == "" {
		return a.committed
	}
	if a.committed == "" {
		return a.partial
	}
	return a.committed + " " + a.partial
}

// Committed returns only finalized text.
func (a *accumulator) Committed() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed
}

func (a *accumulator) Clear() {
	a.mu.Lock()
	a.committed = ""
	a.partial = ""
	a.mu.Unlock()
}
