package caption

import (
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-caption-client/internal/models"
	"vision-caption-client/internal/observability/metrics"
)

type completions struct {
	got []models.CaptionEntry
}

func (c *completions) record(e models.CaptionEntry) {
	c.got = append(c.got, e)
}

func newTestAssembler(limits Limits) (*Assembler, *completions, *metrics.Metrics) {
	c := &completions{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return New(limits, c.record, WithMetrics(m)), c, m
}

func TestAssembler_HelloThenEnd(t *testing.T) {
	a, c, _ := newTestAssembler(DefaultLimits())

	a.OnToken("abc", "hello")
	a.OnToken("abc", "<end>")

	require.Len(t, c.got, 1)
	assert.Equal(t, "abc", c.got[0].ID)
	assert.Equal(t, "hello", c.got[0].Text)
	assert.True(t, c.got[0].Complete)

	e, ok := a.Entry("abc")
	require.True(t, ok)
	assert.Equal(t, "hello", e.Text)
	assert.True(t, e.Complete)
	assert.Equal(t, 0, a.Active())
}

func TestAssembler_SentinelWithoutTokensYieldsEmptyCaption(t *testing.T) {
	a, c, _ := newTestAssembler(DefaultLimits())

	a.OnToken("xyz", "<end>")

	require.Len(t, c.got, 1)
	assert.Equal(t, "", c.got[0].Text)
	assert.Equal(t, 0, c.got[0].Tokens)

	e, ok := a.Entry("xyz")
	require.True(t, ok)
	assert.True(t, e.Complete)
	assert.Equal(t, "", e.Text)
}

func TestAssembler_TextIsSpaceJoinedInReceiptOrder(t *testing.T) {
	tokens := []string{"There", "is", "a", "step", "down,", "ahead|careful"}
	a, c, _ := newTestAssembler(DefaultLimits())

	for _, tok := range tokens {
		a.OnToken("id-1", tok)
	}
	a.OnToken("id-1", " <end>\n")

	require.Len(t, c.got, 1)
	assert.Equal(t, strings.Join(tokens, " "), c.got[0].Text)
	assert.Equal(t, len(tokens), c.got[0].Tokens)
}

func TestAssembler_InterleavedIDs(t *testing.T) {
	a, c, _ := newTestAssembler(DefaultLimits())

	a.OnToken("a", "red")
	a.OnToken("b", "blue")
	a.OnToken("a", "light")
	a.OnToken("b", "door")
	a.OnToken("b", "<end>")
	a.OnToken("a", "<end>")

	require.Len(t, c.got, 2)
	assert.Equal(t, "b", c.got[0].ID)
	assert.Equal(t, "blue door", c.got[0].Text)
	assert.Equal(t, "a", c.got[1].ID)
	assert.Equal(t, "red light", c.got[1].Text)
}

func TestAssembler_LateTokensIgnoredAfterCompletion(t *testing.T) {
	a, c, _ := newTestAssembler(DefaultLimits())

	a.OnToken("abc", "hello")
	a.OnToken("abc", "<end>")
	a.OnToken("abc", "again")
	a.OnToken("abc", "<end>")

	require.Len(t, c.got, 1, "an entry completes exactly once")
	e, _ := a.Entry("abc")
	assert.Equal(t, "hello", e.Text)
	assert.Equal(t, 0, a.Active())
}

func TestAssembler_EvictsOldestIncomplete(t *testing.T) {
	a, c, m := newTestAssembler(Limits{MaxActive: 2, MaxHistory: 10})

	a.OnToken("one", "a")
	a.OnToken("two", "b")
	a.OnToken("three", "c")

	assert.Equal(t, 2, a.Active())
	st, ok := a.State("one")
	require.True(t, ok)
	assert.Equal(t, StateEvicted, st)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptionsEvicted))

	// Sentinel for an evicted id does not resurrect it.
	a.OnToken("one", "<end>")
	assert.Empty(t, c.got)

	snap := a.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "two", snap[0].ID)
	assert.Equal(t, "three", snap[1].ID)
}

func TestAssembler_HistoryIsBounded(t *testing.T) {
	a, _, _ := newTestAssembler(Limits{MaxActive: 10, MaxHistory: 3})

	for i := 0; i < 5; i++ {
		a.OnToken(fmt.Sprintf("id-%d", i), "<end>")
	}

	_, ok := a.Entry("id-0")
	assert.False(t, ok, "oldest history entry should be forgotten")
	_, ok = a.Entry("id-4")
	assert.True(t, ok)
}

func TestAssembler_CompletedIDNeverRecreatedAfterHistoryTrim(t *testing.T) {
	a, c, _ := newTestAssembler(Limits{MaxActive: 4, MaxHistory: 1})

	a.OnToken("a", "x")
	a.OnToken("a", "<end>")
	a.OnToken("b", "<end>")

	_, ok := a.Entry("a")
	require.False(t, ok, "body of a should have aged out of history")

	a.OnToken("a", "late")
	a.OnToken("a", "<end>")

	assert.Equal(t, 0, a.Active())
	st, ok := a.State("a")
	require.True(t, ok)
	assert.Equal(t, StateComplete, st)

	require.Len(t, c.got, 2)
	assert.Equal(t, "a", c.got[0].ID)
	assert.Equal(t, "x", c.got[0].Text)
	assert.Equal(t, "b", c.got[1].ID)
}

func TestAssembler_EvictedIDNeverRecreatedAfterHistoryTrim(t *testing.T) {
	a, c, _ := newTestAssembler(Limits{MaxActive: 1, MaxHistory: 1})

	a.OnToken("a", "one")
	a.OnToken("b", "two") // evicts a
	a.OnToken("c", "<end>")
	a.OnToken("b", "<end>")

	a.OnToken("a", "again")

	assert.Equal(t, 0, a.Active())
	st, ok := a.State("a")
	require.True(t, ok)
	assert.Equal(t, StateEvicted, st)
	for _, e := range c.got {
		assert.NotEqual(t, "a", e.ID)
	}
}

func TestAssembler_CompletionMetrics(t *testing.T) {
	a, _, m := newTestAssembler(DefaultLimits())

	a.OnToken("abc", "hi")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptionsActive))

	a.OnToken("abc", "<end>")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CaptionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptionsCompleted))
}

func TestAssembler_UnknownEntry(t *testing.T) {
	a, _, _ := newTestAssembler(DefaultLimits())

	_, ok := a.Entry("missing")
	assert.False(t, ok)
	_, ok = a.State("missing")
	assert.False(t, ok)
}
