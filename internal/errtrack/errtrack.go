// Package errtrack counts and rate-limits error logging per context, so a
// flapping topic or a broken payload stream cannot flood the log. After
// maxPerContext errors in one context further occurrences are counted but
// no longer logged.
package errtrack

import (
	"sync"

	"github.com/rs/zerolog"
)

// Kind classifies errors for logging and the status endpoint.
type Kind string

const (
	KindConnection Kind = "connection"
	KindCatalog    Kind = "catalog"
	KindParsing    Kind = "parsing"
	KindPublishing Kind = "publishing"
	KindStorage    Kind = "storage"
	KindUnknown    Kind = "unknown"
)

const defaultMaxPerContext = 10

type Tracker struct {
	mu            sync.Mutex
	counts        map[string]int
	maxPerContext int
	logger        zerolog.Logger
}

func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		counts:        make(map[string]int),
		maxPerContext: defaultMaxPerContext,
		logger:        logger,
	}
}

// Handle records an error under the given context. Parsing errors log at
// warn level (a bad message is dropped, the bridge keeps running);
// everything else logs at error level.
func (t *Tracker) Handle(err error, kind Kind, context string) {
	t.mu.Lock()
	t.counts[context]++
	count := t.counts[context]
	t.mu.Unlock()

	if count > t.maxPerContext {
		return
	}

	event := t.logger.Error()
	if kind == KindParsing {
		event = t.logger.Warn()
	}

	event = event.
		Err(err).
		Str("kind", string(kind)).
		Str("context", context).
		Int("count", count)

	if count == t.maxPerContext {
		event.Msg("error threshold reached, suppressing further errors for this context")
		return
	}

	event.Msg("handled error")
}

// Count returns the number of errors recorded for a context.
func (t *Tracker) Count(context string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[context]
}

// Total returns the number of errors recorded across all contexts.
func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, count := range t.counts {
		total += count
	}
	return total
}

// Counts returns a copy of the per-context counters for the status API.
func (t *Tracker) Counts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[string]int, len(t.counts))
	for context, count := range t.counts {
		counts[context] = count
	}
	return counts
}

// Reset clears one context, or every context when context is empty.
func (t *Tracker) Reset(context string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if context == "" {
		t.counts = make(map[string]int)
		return
	}
	delete(t.counts, context)
}
