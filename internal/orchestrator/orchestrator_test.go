package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/config"
	"github.com/vexlabs-io/lurehound/internal/monitor"
)

// fakeDriver is an in-memory BrowserDriver. Observation hashes are unique
// per capture so the duplicate-page pre-filter stays quiet, and Observe
// carries a small delay so batch runs actually overlap.
type fakeDriver struct {
	mu       sync.Mutex
	pool     *driverPool
	obsCount int
	url      string
	typed    map[string]string
	closed   bool
}

// driverPool tracks how many fake browsers are open at once.
type driverPool struct {
	mu      sync.Mutex
	open    int
	maxOpen int
	created int
}

func (p *driverPool) factory() DriverFactory {
	return func(context.Context) (schemas.BrowserDriver, error) {
		p.mu.Lock()
		p.created++
		p.open++
		if p.open > p.maxOpen {
			p.maxOpen = p.open
		}
		p.mu.Unlock()
		return &fakeDriver{pool: p, url: "https://lure.example/", typed: make(map[string]string)}, nil
	}
}

func (f *fakeDriver) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	return nil
}

func (f *fakeDriver) Observe(_ context.Context, withScreenshot bool) (*schemas.PageObservation, error) {
	time.Sleep(5 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obsCount++
	obs := &schemas.PageObservation{
		URL:         f.url,
		Title:       "Lure Exchange",
		VisibleText: "Welcome to Lure Exchange. Create your account and deposit crypto assets to start trading today.",
		HTML:        "<html><body><p>plain page</p></body></html>",
		CapturedAt:  time.Now(),
	}
	if withScreenshot {
		obs.ScreenshotPNG = make([]byte, 6000)
		obs.ScreenshotHash = fmt.Sprintf("hash-%d", f.obsCount)
	}
	return obs, nil
}

func (f *fakeDriver) Click(context.Context, string) error       { return nil }
func (f *fakeDriver) ClickByText(context.Context, string) error { return nil }

func (f *fakeDriver) TypeText(_ context.Context, sel, val string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[sel] = val
	return nil
}

func (f *fakeDriver) SetValue(ctx context.Context, sel, val string) error {
	return f.TypeText(ctx, sel, val)
}

func (f *fakeDriver) ReadValue(_ context.Context, sel string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typed[sel], nil
}

func (f *fakeDriver) SelectOption(context.Context, string, string) error { return nil }
func (f *fakeDriver) Scroll(context.Context, int) error                  { return nil }
func (f *fakeDriver) DismissOverlays(context.Context) error              { return nil }

func (f *fakeDriver) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	if f.pool != nil {
		f.pool.mu.Lock()
		f.pool.open--
		f.pool.mu.Unlock()
	}
	return nil
}

// doneReasoner answers every page with "done", walking the session through
// each stage without any browser interaction.
type doneReasoner struct {
	mu    sync.Mutex
	calls int
}

func (r *doneReasoner) AnalyzePage(context.Context, schemas.PageRequest) (schemas.Action, schemas.Usage, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return schemas.Action{Type: schemas.ActionDone, Rationale: "stage complete", Confidence: 0.9},
		schemas.Usage{Model: "gemini-2.0-flash", InputTokens: 1000, OutputTokens: 200}, nil
}

func (r *doneReasoner) BatchFill(context.Context, schemas.PageRequest, schemas.Identity) ([]schemas.Action, schemas.Usage, error) {
	return []schemas.Action{{Type: schemas.ActionDone, Confidence: 0.9}},
		schemas.Usage{Model: "gemini-2.0-flash", InputTokens: 1000, OutputTokens: 200}, nil
}

func (r *doneReasoner) Close() error { return nil }

// memStore records SaveSession calls in memory.
type memStore struct {
	mu    sync.Mutex
	saved []savedSession
	err   error
}

type savedSession struct {
	session *schemas.Session
	costUSD float64
	calls   int
}

func (m *memStore) SaveSession(_ context.Context, sess *schemas.Session, costUSD float64, calls int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, savedSession{session: sess, costUSD: costUSD, calls: calls})
	return nil
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Agent.BatchFill = false
	cfg.Playbooks.Enabled = false
	return cfg
}

func TestNew_RequiresReasonerAndDrivers(t *testing.T) {
	cfg := testConfig()
	logger := zaptest.NewLogger(t)

	_, err := New(cfg, Deps{}, logger)
	require.Error(t, err)

	_, err = New(cfg, Deps{Reasoner: &doneReasoner{}}, logger)
	require.Error(t, err)

	_, err = New(nil, Deps{Reasoner: &doneReasoner{}, Drivers: (&driverPool{}).factory()}, logger)
	require.Error(t, err)
}

func TestNew_FillsDefaultCollaborators(t *testing.T) {
	cfg := testConfig()
	o, err := New(cfg, Deps{
		Reasoner: &doneReasoner{},
		Drivers:  (&driverPool{}).factory(),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.NotNil(t, o.deps.Matcher)
	assert.NotNil(t, o.deps.Vault)
	require.NotNil(t, o.deps.Allowlist)
	assert.Greater(t, o.deps.Allowlist.Count(), 0)
	assert.Equal(t, int64(cfg.Admission.MaxConcurrent), o.Admission().Capacity())
}

func TestOrchestrator_InvestigatePersistsCompletedSession(t *testing.T) {
	cfg := testConfig()
	pool := &driverPool{}
	reasoner := &doneReasoner{}
	st := &memStore{}

	o, err := New(cfg, Deps{
		Reasoner: reasoner,
		Drivers:  pool.factory(),
		Store:    st,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	res := o.Investigate(context.Background(), "https://lure.example/")
	require.NoError(t, res.Err)
	require.NotNil(t, res.Session)

	assert.Equal(t, schemas.StateComplete, res.Session.State)
	assert.Equal(t, schemas.OutcomeCompleted, res.Session.Outcome)
	assert.Greater(t, res.CostUSD, 0.0)
	assert.Equal(t, reasoner.calls, res.Calls)
	assert.Greater(t, res.Duration, time.Duration(0))

	st.mu.Lock()
	defer st.mu.Unlock()
	require.Len(t, st.saved, 1)
	assert.Equal(t, res.Session.ID, st.saved[0].session.ID)
	assert.Equal(t, res.CostUSD, st.saved[0].costUSD)
	assert.Equal(t, res.Calls, st.saved[0].calls)

	pool.mu.Lock()
	defer pool.mu.Unlock()
	assert.Equal(t, 1, pool.created)
	assert.Equal(t, 0, pool.open, "driver must be closed when the investigation ends")
}

func TestOrchestrator_DriverFailureReportsError(t *testing.T) {
	cfg := testConfig()
	st := &memStore{}
	o, err := New(cfg, Deps{
		Reasoner: &doneReasoner{},
		Drivers: func(context.Context) (schemas.BrowserDriver, error) {
			return nil, errors.New("chrome refused to start")
		},
		Store: st,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	res := o.Investigate(context.Background(), "https://lure.example/")
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "open browser")
	assert.Nil(t, res.Session)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Empty(t, st.saved, "nothing to persist when the browser never opened")
}

func TestOrchestrator_BatchBoundsConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.Admission.MaxConcurrent = 2
	pool := &driverPool{}

	o, err := New(cfg, Deps{
		Reasoner: &doneReasoner{},
		Drivers:  pool.factory(),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	urls := []string{
		"https://a.lure.example/",
		"https://b.lure.example/",
		"https://c.lure.example/",
		"https://d.lure.example/",
		"https://e.lure.example/",
	}
	results := o.InvestigateAll(context.Background(), urls)
	require.Len(t, results, len(urls))

	for i, res := range results {
		assert.Equal(t, urls[i], res.URL, "results keep input order")
		require.NoError(t, res.Err)
		require.NotNil(t, res.Session)
		assert.Equal(t, schemas.OutcomeCompleted, res.Session.Outcome)
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()
	assert.Equal(t, len(urls), pool.created)
	assert.LessOrEqual(t, pool.maxOpen, 2, "admission bounds open browsers")
	assert.Equal(t, 0, pool.open)
}

func TestOrchestrator_BatchSurvivesOneBrokenSite(t *testing.T) {
	cfg := testConfig()
	pool := &driverPool{}
	inner := pool.factory()
	var calls int
	var mu sync.Mutex

	o, err := New(cfg, Deps{
		Reasoner: &doneReasoner{},
		Drivers: func(ctx context.Context) (schemas.BrowserDriver, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				return nil, errors.New("chrome refused to start")
			}
			return inner(ctx)
		},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	results := o.InvestigateAll(context.Background(), []string{
		"https://broken.lure.example/",
		"https://ok.lure.example/",
	})
	require.Len(t, results, 2)

	var failed, completed int
	for _, res := range results {
		if res.Err != nil {
			failed++
		} else {
			completed++
			assert.Equal(t, schemas.OutcomeCompleted, res.Session.Outcome)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, completed)
}

// probeSink hits the monitor API from inside the event stream, proving the
// bus is registered while the investigation runs.
type probeSink struct {
	server *monitor.Server
	mu     sync.Mutex
	bodies []string
}

func (p *probeSink) HandleEvent(monitor.Event) error {
	req := httptest.NewRequest("GET", "/investigations", nil)
	rec := httptest.NewRecorder()
	p.server.Router().ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Result().Body)
	p.mu.Lock()
	p.bodies = append(p.bodies, string(body))
	p.mu.Unlock()
	return nil
}

func TestOrchestrator_RegistersWithMonitorForTheRunOnly(t *testing.T) {
	cfg := testConfig()
	server := monitor.NewServer(zaptest.NewLogger(t))
	probe := &probeSink{server: server}

	o, err := New(cfg, Deps{
		Reasoner:   &doneReasoner{},
		Drivers:    (&driverPool{}).factory(),
		Monitor:    server,
		ExtraSinks: []monitor.Sink{probe},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	res := o.Investigate(context.Background(), "https://lure.example/")
	require.NoError(t, res.Err)
	require.NotNil(t, res.Session)

	probe.mu.Lock()
	require.NotEmpty(t, probe.bodies)
	visible := false
	for _, b := range probe.bodies {
		if strings.Contains(b, res.Session.ID) {
			visible = true
		}
	}
	probe.mu.Unlock()
	assert.True(t, visible, "running investigation must be listed by the monitor API")

	req := httptest.NewRequest("GET", "/investigations", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	after, _ := io.ReadAll(rec.Result().Body)
	assert.NotContains(t, string(after), res.Session.ID, "bus is unregistered after the run")
}
