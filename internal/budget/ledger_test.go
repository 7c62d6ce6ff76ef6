package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

func TestLedger_PricesKnownModels(t *testing.T) {
	l := NewLedger(0, zaptest.NewLogger(t))

	l.AddUsage(schemas.Usage{Model: "gemini-1.5-flash", InputTokens: 1000, OutputTokens: 1000})
	assert.InDelta(t, 0.000075+0.0003, l.TotalUSD(), 1e-9)

	l.AddUsage(schemas.Usage{Model: "ollama", InputTokens: 50000, OutputTokens: 50000})
	assert.InDelta(t, 0.000075+0.0003, l.TotalUSD(), 1e-9, "local models cost nothing")
}

func TestLedger_UnknownModelUsesFallbackRate(t *testing.T) {
	l := NewLedger(0, zaptest.NewLogger(t))
	l.AddUsage(schemas.Usage{Model: "some-future-model", InputTokens: 1000, OutputTokens: 0})
	assert.InDelta(t, fallbackRate.input, l.TotalUSD(), 1e-9)
}

func TestLedger_PrefixMatchesVersionedModel(t *testing.T) {
	l := NewLedger(0, zaptest.NewLogger(t))
	l.AddUsage(schemas.Usage{Model: "gemini-1.5-flash-002", InputTokens: 1000, OutputTokens: 0})
	assert.InDelta(t, 0.000075, l.TotalUSD(), 1e-9)
}

func TestLedger_CeilingStops41stCall(t *testing.T) {
	// At a $1.00 ceiling with calls costing just over $0.025 each, call 40
	// crosses the ceiling and the gate must refuse anything after it.
	l := NewLedger(1.00, zaptest.NewLogger(t))

	// 1.5-pro: 1000 input tokens = $0.00125, 4800 output = $0.024.
	usage := schemas.Usage{Model: "gemini-1.5-pro", InputTokens: 1000, OutputTokens: 4800}

	issued := 0
	for range 100 {
		if l.Exceeded() {
			break
		}
		l.AddUsage(usage)
		issued++
	}

	assert.Equal(t, 40, issued)
	assert.True(t, l.Exceeded())
	assert.InDelta(t, 1.01, l.TotalUSD(), 1e-6)
	assert.Zero(t, l.RemainingUSD())
}

func TestLedger_ZeroCeilingIsUnlimited(t *testing.T) {
	l := NewLedger(0, zaptest.NewLogger(t))
	l.AddUsage(schemas.Usage{Model: "gemini-1.5-pro", InputTokens: 1_000_000, OutputTokens: 1_000_000})
	assert.False(t, l.Exceeded())
	assert.Zero(t, l.RemainingUSD())
}

func TestLedger_ExceededIsSticky(t *testing.T) {
	l := NewLedger(0.0001, zaptest.NewLogger(t))
	l.AddUsage(schemas.Usage{Model: "gemini-1.5-pro", InputTokens: 1000, OutputTokens: 0})
	require.True(t, l.Exceeded())
	l.AddUsage(schemas.Usage{Model: "ollama", InputTokens: 1, OutputTokens: 1})
	assert.True(t, l.Exceeded())
}

func TestLedger_ComputeAndSummary(t *testing.T) {
	l := NewLedger(5, zaptest.NewLogger(t))
	l.AddUsage(schemas.Usage{Model: "gemini-2.0-flash", InputTokens: 2000, OutputTokens: 500})
	l.AddCompute(90 * time.Second)

	s := l.Summarize(true)
	assert.InDelta(t, s.LLMUSD+s.ComputeUSD, s.TotalUSD, 1e-9)
	assert.Equal(t, 2000, s.TotalInputTokens)
	assert.Equal(t, 500, s.TotalOutputTokens)
	assert.Equal(t, 1, s.ReasoningCalls)
	assert.False(t, s.Exceeded)
	assert.InDelta(t, 5-s.TotalUSD, s.RemainingUSD, 1e-9)
	require.Len(t, s.LineItems, 3)
	assert.Equal(t, "compute", s.LineItems[2].Category)
	assert.InDelta(t, 90, s.LineItems[2].Quantity, 1e-9)

	assert.Empty(t, l.Summarize(false).LineItems)
}

func TestLedger_ConcurrentAdds(t *testing.T) {
	l := NewLedger(0, zaptest.NewLogger(t))
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.AddUsage(schemas.Usage{Model: "gemini-1.5-flash", InputTokens: 1000, OutputTokens: 0})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Calls())
	assert.InDelta(t, 50*0.000075, l.TotalUSD(), 1e-9)
}

func TestAdmission_BoundsConcurrency(t *testing.T) {
	a := NewAdmission(2, zaptest.NewLogger(t))

	rel1, ok := a.TryAcquire()
	require.True(t, ok)
	rel2, ok := a.TryAcquire()
	require.True(t, ok)
	_, ok = a.TryAcquire()
	assert.False(t, ok, "third slot must be refused")
	assert.EqualValues(t, 2, a.InFlight())

	rel1()
	rel1() // double release is a no-op
	assert.EqualValues(t, 1, a.InFlight())

	rel3, ok := a.TryAcquire()
	require.True(t, ok)
	rel3()
	rel2()
	assert.EqualValues(t, 0, a.InFlight())
}

func TestAdmission_AcquireRespectsContext(t *testing.T) {
	a := NewAdmission(1, zaptest.NewLogger(t))
	rel, err := a.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	rel()
}

func TestAdmission_CoercesNonPositiveCapacity(t *testing.T) {
	a := NewAdmission(0, zaptest.NewLogger(t))
	assert.EqualValues(t, 1, a.Capacity())
}
