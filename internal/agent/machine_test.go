package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/budget"
	"github.com/vexlabs-io/lurehound/internal/config"
	"github.com/vexlabs-io/lurehound/internal/identity"
	"github.com/vexlabs-io/lurehound/internal/monitor"
	"github.com/vexlabs-io/lurehound/internal/playbook"
	"github.com/vexlabs-io/lurehound/internal/wallet"
)

const (
	tronAddr = "TJYqaPn323M2C7x7E5E3ypEGVgKYxxrWW1"
	ethAddr  = "0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe"
)

// fakeBrowser is an in-memory BrowserDriver. Every observation carries a
// fresh screenshot hash so the duplicate-page pre-filter stays quiet.
type fakeBrowser struct {
	mu       sync.Mutex
	obsCount int
	visible  string
	html     string
	url      string
	typed    map[string]string
	clicks   []string
	navs     []string
	navErr   error
}

func newFakeBrowser(visible string) *fakeBrowser {
	return &fakeBrowser{
		visible: visible,
		html:    "<html><body><p>plain page</p></body></html>",
		url:     "https://acme-exchange.example/",
		typed:   make(map[string]string),
	}
}

func (f *fakeBrowser) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navErr != nil {
		return f.navErr
	}
	f.navs = append(f.navs, url)
	f.url = url
	return nil
}

func (f *fakeBrowser) Observe(_ context.Context, withScreenshot bool) (*schemas.PageObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obsCount++
	obs := &schemas.PageObservation{
		URL:         f.url,
		Title:       "Acme Exchange",
		VisibleText: f.visible,
		HTML:        f.html,
		CapturedAt:  time.Now(),
	}
	if withScreenshot {
		obs.ScreenshotPNG = make([]byte, 6000)
		obs.ScreenshotHash = fmt.Sprintf("hash-%d", f.obsCount)
	}
	return obs, nil
}

func (f *fakeBrowser) Click(_ context.Context, sel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, sel)
	return nil
}

func (f *fakeBrowser) ClickByText(context.Context, string) error { return nil }

func (f *fakeBrowser) TypeText(_ context.Context, sel, val string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[sel] = val
	return nil
}

func (f *fakeBrowser) SetValue(ctx context.Context, sel, val string) error {
	return f.TypeText(ctx, sel, val)
}

func (f *fakeBrowser) ReadValue(_ context.Context, sel string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typed[sel], nil
}

func (f *fakeBrowser) SelectOption(context.Context, string, string) error { return nil }
func (f *fakeBrowser) Scroll(context.Context, int) error                  { return nil }
func (f *fakeBrowser) DismissOverlays(context.Context) error              { return nil }

func (f *fakeBrowser) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeBrowser) Close() error { return nil }

// scriptedReasoner dispatches on the request intent and records every call.
type scriptedReasoner struct {
	mu      sync.Mutex
	analyze func(req schemas.PageRequest) (schemas.Action, error)
	batch   func(req schemas.PageRequest) ([]schemas.Action, error)
	calls   []schemas.PageRequest
}

var usage = schemas.Usage{Model: "gemini-2.0-flash", InputTokens: 1000, OutputTokens: 200}

func (s *scriptedReasoner) AnalyzePage(_ context.Context, req schemas.PageRequest) (schemas.Action, schemas.Usage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.analyze == nil {
		return schemas.Action{Type: schemas.ActionDone, Confidence: 0.9}, usage, nil
	}
	a, err := s.analyze(req)
	return a, usage, err
}

func (s *scriptedReasoner) BatchFill(_ context.Context, req schemas.PageRequest, _ schemas.Identity) ([]schemas.Action, schemas.Usage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.batch == nil {
		return []schemas.Action{{Type: schemas.ActionDone, Confidence: 0.9}}, usage, nil
	}
	acts, err := s.batch(req)
	return acts, usage, err
}

func (s *scriptedReasoner) Close() error { return nil }

func (s *scriptedReasoner) callsForIntent(intent string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Intent == intent {
			n++
		}
	}
	return n
}

type machineFixture struct {
	machine  *Machine
	browser  *fakeBrowser
	reasoner *scriptedReasoner
	bus      *monitor.Bus
	sink     *monitor.MemorySink
	ledger   *budget.Ledger
}

func newMachineFixture(t *testing.T, cfg *config.Config, browser *fakeBrowser, reasoner *scriptedReasoner, matcher *playbook.Matcher) *machineFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	bus := monitor.NewBus("test", logger)
	sink := monitor.NewMemorySink()
	bus.AddSink(sink)
	ledger := budget.NewLedger(cfg.Budget.CeilingUSD, logger)

	m := NewMachine(cfg, Deps{
		Driver:    browser,
		Reasoner:  reasoner,
		Matcher:   matcher,
		Vault:     identity.NewVault(),
		Ledger:    ledger,
		Bus:       bus,
		Allowlist: wallet.NewAllowlist(nil),
	}, logger)
	return &machineFixture{machine: m, browser: browser, reasoner: reasoner, bus: bus, sink: sink, ledger: ledger}
}

const richPageText = "Welcome to Acme Exchange. Create an account to start trading today. " +
	"Deposit USDT TRC20 to " + tronAddr + " after signing up."

func TestMachine_FullRunReachesComplete(t *testing.T) {
	browser := newFakeBrowser(richPageText)
	reasoner := &scriptedReasoner{
		analyze: func(req schemas.PageRequest) (schemas.Action, error) {
			switch req.Intent {
			case "EXTRACT_WALLETS":
				payload := `[{"token_symbol":"USDT","network_short":"trx","wallet_address":"` + tronAddr + `"},` +
					`{"token_symbol":"ETH","network_short":"eth","wallet_address":"` + ethAddr + `"}]`
				return schemas.Action{Type: schemas.ActionDone, Value: payload, Confidence: 0.9}, nil
			default:
				return schemas.Action{Type: schemas.ActionDone, Confidence: 0.9}, nil
			}
		},
		batch: func(schemas.PageRequest) ([]schemas.Action, error) {
			return []schemas.Action{
				{Type: schemas.ActionTypeText, Selector: "#email", Value: "a@b.test", Confidence: 0.9},
				{Type: schemas.ActionTypeText, Selector: "#password", Value: "Hx91!kqPz", Confidence: 0.9},
				{Type: schemas.ActionDone, Confidence: 0.9},
			}, nil
		},
	}
	fx := newMachineFixture(t, config.NewDefaultConfig(), browser, reasoner, nil)

	sess, err := fx.machine.Run(context.Background(), "https://acme-exchange.example/")
	require.NoError(t, err)

	assert.Equal(t, schemas.StateComplete, sess.State)
	assert.Equal(t, schemas.OutcomeCompleted, sess.Outcome)
	assert.NotEmpty(t, sess.IdentityID)
	assert.False(t, sess.EndedAt.IsZero())

	// The step log is gapless and every recorded state change is legal.
	require.NotEmpty(t, sess.Steps)
	for i, st := range sess.Steps {
		assert.Equal(t, i+1, st.Seq, "step %d has a sequence gap", i)
		if i > 0 {
			prev := sess.Steps[i-1].State
			if prev != st.State {
				assert.True(t, LegalTransition(prev, st.State),
					"illegal transition %s -> %s", prev, st.State)
			}
		}
	}

	// Email verification resolved without a single reasoning call.
	assert.Zero(t, reasoner.callsForIntent("CHECK_EMAIL_VERIFICATION"))

	// The typed registration fields are on the PII record.
	assert.Contains(t, sess.PIISubmitted, "#email")
	assert.Contains(t, sess.PIISubmitted, "#password")
	assert.Equal(t, "Hx91!kqPz", browser.typed["#password"])

	// Regex found the TRON address, the reasoner confirmed it and added the
	// ETH address; dedup is by (network, address).
	require.Len(t, sess.Wallets, 2)
	byNetwork := map[string]schemas.WalletAddress{}
	for _, w := range sess.Wallets {
		byNetwork[w.Network] = w
	}
	assert.Equal(t, tronAddr, byNetwork["trx"].Address)
	assert.Equal(t, schemas.MethodRegex, byNetwork["trx"].Method)
	assert.Equal(t, ethAddr, byNetwork["eth"].Address)
	assert.Equal(t, schemas.MethodLLMVerified, byNetwork["eth"].Method)

	// Every reasoning call hit the ledger.
	assert.Greater(t, fx.ledger.Calls(), 0)
	assert.Greater(t, fx.ledger.TotalUSD(), 0.0)

	summary := fx.ledger.Summarize(false)
	assert.Greater(t, summary.ComputeUSD, 0.0, "browser time accrues against the ceiling")
	assert.Greater(t, summary.TotalUSD, summary.LLMUSD, "total includes compute spend")

	// The bus saw the session bracketed by start and completion.
	events := fx.sink.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, monitor.EventSiteStarted, events[0].Type)
	assert.Equal(t, monitor.EventSiteCompleted, events[len(events)-1].Type)
}

func TestMachine_SubmitContextCarriesRegistrationPassword(t *testing.T) {
	browser := newFakeBrowser(richPageText)
	var submitContext string
	reasoner := &scriptedReasoner{}
	reasoner.analyze = func(req schemas.PageRequest) (schemas.Action, error) {
		if req.Intent == "SUBMIT_REGISTER" && submitContext == "" {
			submitContext = req.ExtraContext
		}
		return schemas.Action{Type: schemas.ActionDone, Confidence: 0.9}, nil
	}
	reasoner.batch = func(schemas.PageRequest) ([]schemas.Action, error) {
		return []schemas.Action{
			{Type: schemas.ActionTypeText, Selector: "#password", Value: "Qv7#mmd21", Confidence: 0.9},
			{Type: schemas.ActionDone, Confidence: 0.9},
		}, nil
	}
	fx := newMachineFixture(t, config.NewDefaultConfig(), browser, reasoner, nil)

	_, err := fx.machine.Run(context.Background(), "https://acme-exchange.example/")
	require.NoError(t, err)
	assert.Contains(t, submitContext, "Qv7#mmd21")
}

func TestMachine_BudgetGateStopsBeforeAnyReasoningCall(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Budget.CeilingUSD = 0.01
	browser := newFakeBrowser(richPageText)
	reasoner := &scriptedReasoner{}
	fx := newMachineFixture(t, cfg, browser, reasoner, nil)

	// Burn the whole ceiling before the run starts.
	fx.ledger.AddUsage(schemas.Usage{Model: "gemini-1.5-pro", InputTokens: 50_000, OutputTokens: 50_000})
	require.True(t, fx.ledger.Exceeded())

	sess, err := fx.machine.Run(context.Background(), "https://acme-exchange.example/")
	require.NoError(t, err)

	assert.Equal(t, schemas.OutcomeBudgetExceeded, sess.Outcome)
	assert.Equal(t, schemas.StateComplete, sess.State)
	assert.Empty(t, reasoner.calls, "no reasoning call may be issued past the ceiling")
}

func TestMachine_StepLimitForcesManualReview(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Agent.MaxSteps = 4
	cfg.Agent.StuckThresholds = map[string]int{"DEFAULT": 10}
	browser := newFakeBrowser(richPageText)
	var scrolls int
	reasoner := &scriptedReasoner{
		analyze: func(schemas.PageRequest) (schemas.Action, error) {
			scrolls++
			return schemas.Action{Type: schemas.ActionScroll, Value: fmt.Sprintf("%d", 100*scrolls), Confidence: 0.8}, nil
		},
	}
	fx := newMachineFixture(t, cfg, browser, reasoner, nil)

	sess, err := fx.machine.Run(context.Background(), "https://acme-exchange.example/")
	require.NoError(t, err)

	assert.Equal(t, schemas.StateManualReview, sess.State)
	assert.Equal(t, schemas.OutcomeManualReview, sess.Outcome)
	assert.Equal(t, 4, sess.StepCount())
	assert.Contains(t, sess.FailureReason, "steps")
}

func TestMachine_StuckEscalatesToGuidanceSkip(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Agent.StuckThresholds = map[string]int{"DEFAULT": 2}
	browser := newFakeBrowser(richPageText)
	var scrolls int
	reasoner := &scriptedReasoner{
		analyze: func(schemas.PageRequest) (schemas.Action, error) {
			scrolls++
			return schemas.Action{Type: schemas.ActionScroll, Value: fmt.Sprintf("%d", 100*scrolls), Confidence: 0.8}, nil
		},
	}
	fx := newMachineFixture(t, cfg, browser, reasoner, nil)

	// Stand in for the operator: answer the guidance request with a skip.
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if _, waiting := fx.bus.AwaitingGuidance(); waiting {
				_ = fx.bus.ProvideGuidance(monitor.GuidanceCommand{
					Action: monitor.GuidanceSkip,
					Reason: "site requires phone verification",
				})
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	sess, err := fx.machine.Run(context.Background(), "https://acme-exchange.example/")
	<-done
	require.NoError(t, err)

	assert.Equal(t, schemas.StateSkipped, sess.State)
	assert.Equal(t, schemas.OutcomeCompleted, sess.Outcome)
	assert.Equal(t, "site requires phone verification", sess.FailureReason)

	// Monitor view shows the suspension entering and leaving GUIDANCE_NEEDED.
	var entered, left bool
	for _, ev := range fx.sink.Events() {
		if ev.Type != monitor.EventStateChanged {
			continue
		}
		if ev.Data["new_state"] == string(schemas.StateGuidance) {
			entered = true
		}
		if ev.Data["old_state"] == string(schemas.StateGuidance) {
			left = true
			assert.Equal(t, string(schemas.StateSkipped), ev.Data["new_state"])
		}
	}
	assert.True(t, entered, "state_changed into GUIDANCE_NEEDED emitted")
	assert.True(t, left, "state_changed out of GUIDANCE_NEEDED emitted")
}

func TestMachine_InterjectedSkipEndsSessionWithoutReasoning(t *testing.T) {
	browser := newFakeBrowser(richPageText)
	reasoner := &scriptedReasoner{}
	fx := newMachineFixture(t, config.NewDefaultConfig(), browser, reasoner, nil)

	require.NoError(t, fx.bus.Interject(monitor.GuidanceCommand{
		Action: monitor.GuidanceSkip,
		Reason: "known dead site",
	}))

	sess, err := fx.machine.Run(context.Background(), "https://acme-exchange.example/")
	require.NoError(t, err)

	assert.Equal(t, schemas.StateSkipped, sess.State)
	assert.Empty(t, reasoner.calls)
}

func TestMachine_PlaybookCoversRegistration(t *testing.T) {
	pb := &playbook.Playbook{
		ID:         "acme_register",
		URLPattern: `acme-exchange\.example`,
		Enabled:    true,
		Steps: []playbook.Step{
			{Action: schemas.ActionClick, Selector: "#register-link"},
			{Action: schemas.ActionTypeText, Selector: "#email", Value: "{identity.email}"},
			{Action: schemas.ActionClick, Selector: "#submit"},
		},
	}
	matcher := playbook.NewMatcher()
	require.NoError(t, matcher.Register(pb))

	browser := newFakeBrowser(richPageText)
	reasoner := &scriptedReasoner{
		analyze: func(req schemas.PageRequest) (schemas.Action, error) {
			return schemas.Action{Type: schemas.ActionDone, Confidence: 0.9}, nil
		},
	}
	fx := newMachineFixture(t, config.NewDefaultConfig(), browser, reasoner, matcher)

	sess, err := fx.machine.Run(context.Background(), "https://acme-exchange.example/")
	require.NoError(t, err)

	assert.Equal(t, schemas.StateComplete, sess.State)

	// The first three steps came from the playbook, not from reasoning.
	require.GreaterOrEqual(t, sess.StepCount(), 3)
	for i := 0; i < 3; i++ {
		assert.Equal(t, schemas.TierPlaybook, sess.Steps[i].Tier)
	}
	assert.Contains(t, browser.clicks, "#register-link")
	assert.Contains(t, browser.clicks, "#submit")
	assert.NotEmpty(t, browser.typed["#email"])

	// Registration states never reached the reasoner.
	assert.Zero(t, reasoner.callsForIntent("FIND_REGISTER"))
	assert.Zero(t, reasoner.callsForIntent("FILL_REGISTER"))
	assert.Zero(t, reasoner.callsForIntent("SUBMIT_REGISTER"))
}

func TestMachine_LoadFailureFailsSession(t *testing.T) {
	browser := newFakeBrowser(richPageText)
	browser.navErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	fx := newMachineFixture(t, config.NewDefaultConfig(), browser, &scriptedReasoner{}, nil)

	sess, err := fx.machine.Run(context.Background(), "https://gone.example/")
	require.Error(t, err)

	assert.Equal(t, schemas.StateFailed, sess.State)
	assert.Equal(t, schemas.OutcomeFailed, sess.Outcome)
	assert.Equal(t, "site load failed", sess.FailureReason)
	assert.False(t, sess.EndedAt.IsZero())
}
