package caption

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"vision-caption-client/internal/models"
	"vision-caption-client/internal/observability/logging"
	"vision-caption-client/internal/observability/metrics"
	"vision-caption-client/internal/protocol"
)

// Limits bound the memory held by an Assembler. Zero means unbounded.
type Limits struct {
	MaxActive  int // incomplete entries; oldest is evicted first
	MaxHistory int // terminal entry bodies kept for Entry lookups
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxActive:  256,
		MaxHistory: 256,
	}
}

// CompletionFunc receives a snapshot of an entry whose sentinel arrived.
type CompletionFunc func(entry models.CaptionEntry)

// Assembler keeps one accumulating buffer per capture id.
// OnToken is the only mutation path. Completed entries move out of the
// active set into a bounded history; their ids and final states are kept for
// the life of the Assembler so they are never recreated.
type Assembler struct {
	mu       sync.Mutex
	limits   Limits
	active   *orderedmap.OrderedMap[string, *entry]
	history  *orderedmap.OrderedMap[string, *entry]
	finished map[string]State

	onComplete CompletionFunc
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithMetrics overrides metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Assembler) { a.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// New creates an Assembler that calls onComplete for every completed caption.
func New(limits Limits, onComplete CompletionFunc, opts ...Option) *Assembler {
	a := &Assembler{
		limits:     limits,
		active:     orderedmap.New[string, *entry](),
		history:    orderedmap.New[string, *entry](),
		finished:   make(map[string]State),
		onComplete: onComplete,
		metrics:    metrics.DefaultMetrics,
		log:        logging.WithComponent("caption"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnToken applies one inbound token for id.
//
// The sentinel completes the entry (an empty one is created if no token came
// first) and hands it to the completion callback. Any other token is appended.
// Tokens for ids already completed or evicted are ignored.
func (a *Assembler) OnToken(id, token string) {
	a.mu.Lock()

	if st, ok := a.finished[id]; ok {
		a.mu.Unlock()
		a.log.Debug().
			Str("captureId", id).
			Str("state", st.String()).
			Msg("Token ignored for finished caption")
		return
	}

	e, exists := a.active.Get(id)

	if protocol.IsSentinel(token) {
		now := a.now()
		if !exists {
			e = newEntry(id, now)
		}
		// A fresh or active entry is always ASSEMBLING here.
		_ = e.complete(now)
		a.active.Delete(id)
		a.remember(e)
		snap := e.snapshot()
		activeCount := a.active.Len()
		a.mu.Unlock()

		a.metrics.SetCaptionsActive(activeCount)
		a.metrics.RecordCaptionCompleted(snap.CompletedAt.Sub(snap.FirstTokenAt).Seconds())
		a.log.Debug().
			Str("captureId", id).
			Int("tokens", snap.Tokens).
			Msg("Caption complete")

		if a.onComplete != nil {
			a.onComplete(snap)
		}
		return
	}

	if !exists {
		e = newEntry(id, a.now())
		a.active.Set(id, e)
	}
	_ = e.append(token)

	evicted := a.enforceActiveLimit()
	activeCount := a.active.Len()
	a.mu.Unlock()

	a.metrics.SetCaptionsActive(activeCount)
	for _, ev := range evicted {
		a.metrics.RecordCaptionEvicted()
		a.log.Warn().
			Str("captureId", ev.ID).
			Int("tokens", ev.Tokens).
			Msg("Evicted incomplete caption")
	}
}

// enforceActiveLimit evicts the oldest incomplete entries. Caller holds mu.
func (a *Assembler) enforceActiveLimit() []models.CaptionEntry {
	if a.limits.MaxActive <= 0 {
		return nil
	}
	var evicted []models.CaptionEntry
	for a.active.Len() > a.limits.MaxActive {
		oldest := a.active.Oldest()
		a.active.Delete(oldest.Key)
		oldest.Value.evict()
		a.remember(oldest.Value)
		evicted = append(evicted, oldest.Value.snapshot())
	}
	return evicted
}

// remember marks a terminal entry finished and keeps its body in the bounded
// history. Caller holds mu.
func (a *Assembler) remember(e *entry) {
	a.finished[e.id] = e.state
	a.history.Set(e.id, e)
	if a.limits.MaxHistory <= 0 {
		return
	}
	for a.history.Len() > a.limits.MaxHistory {
		a.history.Delete(a.history.Oldest().Key)
	}
}

// Entry returns a snapshot of the entry for id, active or remembered.
func (a *Assembler) Entry(id string) (models.CaptionEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.active.Get(id); ok {
		return e.snapshot(), true
	}
	if e, ok := a.history.Get(id); ok {
		return e.snapshot(), true
	}
	return models.CaptionEntry{}, false
}

// State returns the lifecycle state of the entry for id.
func (a *Assembler) State(id string) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.active.Get(id); ok {
		return e.state, true
	}
	if st, ok := a.finished[id]; ok {
		return st, true
	}
	return 0, false
}

// Active returns the number of incomplete entries.
func (a *Assembler) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active.Len()
}

// Snapshot returns all active entries, oldest first.
func (a *Assembler) Snapshot() []models.CaptionEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.CaptionEntry, 0, a.active.Len())
	for pair := a.active.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.snapshot())
	}
	return out
}
