package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/browser"
	"github.com/vexlabs-io/lurehound/internal/budget"
	"github.com/vexlabs-io/lurehound/internal/config"
	"github.com/vexlabs-io/lurehound/internal/identity"
	"github.com/vexlabs-io/lurehound/internal/monitor"
	"github.com/vexlabs-io/lurehound/internal/playbook"
	"github.com/vexlabs-io/lurehound/internal/wallet"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Deps are the collaborators one session machine drives. Each session owns
// its driver, ledger, bus and detector exclusively; the reasoner and
// matcher are shared and internally synchronized.
type Deps struct {
	Driver    schemas.BrowserDriver
	Reasoner  schemas.Reasoner
	Matcher   *playbook.Matcher
	Vault     *identity.Vault
	Ledger    *budget.Ledger
	Bus       *monitor.Bus
	Allowlist *wallet.Allowlist
}

// Machine advances one investigation's session from INIT to a terminal
// state, one observe-decide-act cycle at a time. It is not safe for
// concurrent use; run one machine per goroutine.
type Machine struct {
	cfg    *config.Config
	deps   Deps
	logger *zap.Logger

	cascade   *Cascade
	resolver  *resolver
	detector  *Detector
	extractor *wallet.Extractor
	harvest   *wallet.Harvest

	session       *schemas.Session
	identity      *schemas.Identity
	lastPassword  string
	humanNote     string
	fallbackNote  string
	skipDOMDirect bool
	walletsPrimed bool
	piiFields     map[string]bool
	pagesVisited  []string
	pagesSeen     map[string]bool
}

// NewMachine wires a session machine from its dependencies.
func NewMachine(cfg *config.Config, deps Deps, logger *zap.Logger) *Machine {
	l := logger.Named("agent")
	return &Machine{
		cfg:       cfg,
		deps:      deps,
		logger:    l,
		cascade:   NewCascade(cfg.Cascade, l),
		resolver:  newResolver(deps.Driver, cfg.Agent.StepTimeout, l),
		detector:  NewDetector(cfg.Agent, l),
		extractor: wallet.NewExtractor(),
		harvest:   wallet.NewHarvest(),
		piiFields: make(map[string]bool),
		pagesSeen: make(map[string]bool),
	}
}

// Run drives the session to a terminal state. The returned session is
// always populated with whatever was gathered; the error is non-nil only
// for fatal conditions (driver failure at load, cancellation).
func (m *Machine) Run(ctx context.Context, targetURL string) (*schemas.Session, error) {
	sessionID := m.deps.Bus.ID()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	m.session = &schemas.Session{
		ID:        sessionID,
		TargetURL: targetURL,
		State:     schemas.StateInit,
		StartedAt: time.Now().UTC(),
	}
	m.deps.Bus.Emit(monitor.EventSiteStarted, map[string]any{
		"url": targetURL, "session_id": m.session.ID,
	})

	m.transition(schemas.StateLoadSite)
	loadStart := time.Now()
	err := m.loadSite(ctx, targetURL)
	m.deps.Ledger.AddCompute(time.Since(loadStart))
	if err != nil {
		m.session.State = schemas.StateFailed
		m.session.Outcome = schemas.OutcomeFailed
		m.session.FailureReason = "site load failed"
		m.finalize()
		return m.session, err
	}
	m.transition(schemas.StateFindRegister)
	m.tryPlaybook(ctx, targetURL)

	for !IsTerminal(m.session.State) {
		if err := ctx.Err(); err != nil {
			m.session.State = schemas.StateFailed
			m.session.Outcome = schemas.OutcomeFailed
			m.session.FailureReason = "session cancelled"
			m.finalize()
			return m.session, err
		}
		if m.session.StepCount() >= m.cfg.Agent.MaxSteps {
			m.logger.Warn("Step limit reached", zap.Int("max_steps", m.cfg.Agent.MaxSteps))
			m.session.State = schemas.StateManualReview
			m.session.FailureReason = fmt.Sprintf("exceeded %d steps", m.cfg.Agent.MaxSteps)
			break
		}
		if !m.reasoningAllowed() && m.session.Outcome == "" {
			m.logger.Warn("Cost ceiling reached, packaging partial results",
				zap.Float64("total_usd", m.deps.Ledger.TotalUSD()))
			m.deps.Bus.Emit(monitor.EventBudgetExceeded, map[string]any{
				"total_usd": m.deps.Ledger.TotalUSD(),
			})
			m.session.Outcome = schemas.OutcomeBudgetExceeded
			m.session.State = schemas.StateComplete
			break
		}
		stepStart := time.Now()
		m.step(ctx)
		// Browser time counts against the ceiling, so the gate above sees
		// compute spend accrue step by step.
		m.deps.Ledger.AddCompute(time.Since(stepStart))
	}

	m.finalize()
	return m.session, nil
}

func (m *Machine) loadSite(ctx context.Context, url string) error {
	if err := m.resolver.navigate(ctx, url); err != nil {
		return fmt.Errorf("load site: %w", err)
	}
	m.resolver.dismissOverlays(ctx)
	return nil
}

// tryPlaybook runs a matched playbook as the whole tier-one path. A full
// success covers registration end to end; a fallback hands the current
// page state to the cascade with the failure carried as prompt context.
func (m *Machine) tryPlaybook(ctx context.Context, url string) {
	if !m.cfg.Playbooks.Enabled || m.deps.Matcher == nil {
		return
	}
	pb := m.deps.Matcher.Match(url)
	if pb == nil {
		return
	}
	m.deps.Bus.Emit(monitor.EventPlaybookMatched, map[string]any{
		"playbook_id": pb.ID, "url": url,
	})

	exec := playbook.NewExecutor(m.deps.Driver, m.ensureIdentity(), func(c context.Context) error {
		obs, err := m.resolver.observe(c, false)
		if err != nil {
			return err
		}
		m.probeWallets(obs)
		return nil
	})
	res := exec.Execute(ctx, pb, url)

	for _, sr := range res.StepResults {
		m.recordStep(schemas.Action{
			Type:      sr.Action,
			Selector:  sr.Selector,
			Value:     sr.Value,
			Rationale: "playbook " + pb.ID,
		}, schemas.TierPlaybook, sr.Success, sr.Error, "", sr.Duration)
	}
	m.deps.Bus.Emit(monitor.EventPlaybookCompleted, map[string]any{
		"playbook_id": pb.ID, "success": res.Success, "completed_steps": res.CompletedSteps,
	})

	if res.Success {
		// Registration is scripted end to end; walk the machine forward to
		// the first state the playbook cannot cover.
		m.transition(schemas.StateFillRegister)
		m.transition(schemas.StateSubmitReg)
		m.transition(schemas.StateCheckEmail)
		return
	}
	if res.FellBack {
		m.fallbackNote = "A scripted flow for this site failed partway: " + res.FallbackReason +
			". Page state reflects the steps that did run."
	}
}

// step executes one observe-decide-act cycle.
func (m *Machine) step(ctx context.Context) {
	state := m.session.State

	if cmd, ok := m.deps.Bus.CheckInterject(); ok {
		m.logger.Info("Applying interjected guidance", zap.String("action", string(cmd.Action)))
		m.applyGuidance(ctx, cmd)
		return
	}
	if m.detector.IsStuck(state) {
		m.handleStuck(ctx)
		return
	}

	m.resolver.dismissOverlays(ctx)
	obs, err := m.resolver.observe(ctx, true)
	if err != nil {
		m.logger.Warn("Observation failed", zap.String("state", string(state)), zap.Error(err))
		m.detector.CountAttempt()
		m.sleep(ctx, 2*time.Second)
		return
	}
	m.notePage(obs.URL)
	m.probeWallets(obs)

	switch m.detector.Check(state, obs.VisibleText, len(obs.ScreenshotPNG), obs.ScreenshotHash) {
	case PreFilterBlankPage:
		if state == schemas.StateNavDeposit && m.detector.BlankExhausted(state) {
			m.logger.Warn("Deposit page blank after retries, skipping site")
			m.session.State = schemas.StateSkipped
			m.session.FailureReason = "deposit page blank or broken"
			return
		}
		if !m.detector.BlankExhausted(state) {
			wait := time.Duration(2+m.detector.BlankRetries()) * time.Second
			if wait > 5*time.Second {
				wait = 5 * time.Second
			}
			m.recordStep(schemas.Action{Type: schemas.ActionWait, Rationale: "blank page"},
				schemas.TierDOMDirect, true, "", obs.ScreenshotHash, wait)
			m.detector.CountAttempt()
			m.sleep(ctx, wait)
			return
		}
		// Retries spent; let the reasoner look at whatever is there.
	case PreFilterDuplicate:
		if m.detector.IsStuck(state) {
			return
		}
		m.recordStep(schemas.Action{Type: schemas.ActionWait, Rationale: "page unchanged"},
			schemas.TierDOMDirect, true, "", obs.ScreenshotHash, 2*time.Second)
		m.detector.CountAttempt()
		m.sleep(ctx, 2*time.Second)
		return
	}

	if m.detector.AttemptsInState() == 0 && milestoneStates[state] {
		m.deps.Bus.Emit(monitor.EventScreenshotUpdate, map[string]any{
			"state": string(state), "screenshot_hash": obs.ScreenshotHash,
		})
	}

	// Email verification resolves on DOM evidence alone.
	if state == schemas.StateCheckEmail {
		act := m.cascade.CheckEmail(obs)
		m.execute(ctx, act, schemas.TierDOMDirect, obs)
		return
	}

	extra := m.buildStateContext(ctx, obs)

	if state == schemas.StateExtractWallet && m.detector.AttemptsInState() == 0 {
		if primed := m.probeWallets(obs); primed > 0 || m.harvest.Len() > 0 {
			m.walletsPrimed = true
			extra += "\n\n" + m.primedWalletContext()
		}
	}

	if state == schemas.StateFillRegister && m.detector.AttemptsInState() == 0 && m.cfg.Agent.BatchFill {
		m.batchFill(ctx, obs, extra)
		return
	}

	insp := m.cascade.Inspect(state, obs)
	dec := m.cascade.Route(routeInput{
		state:          state,
		inspection:     insp,
		actionsInState: m.detector.AttemptsInState(),
		walletsPrimed:  m.walletsPrimed,
		skipDOMDirect:  m.skipDOMDirect,
	})
	m.skipDOMDirect = false

	if dec.Tier == schemas.TierDOMDirect {
		m.execute(ctx, *dec.DirectAction, schemas.TierDOMDirect, obs)
		return
	}

	if !m.reasoningAllowed() {
		return
	}
	req := schemas.PageRequest{
		Mode:         dec.Mode,
		PageText:     obs.VisibleText,
		Elements:     obs.Elements,
		ExtraContext: joinContext(extra, dec.ExtraContext),
		Intent:       string(state),
	}
	if dec.Mode == schemas.ReasonVision {
		req.ScreenshotPNG = obs.ScreenshotPNG
	}
	action, usage, err := m.deps.Reasoner.AnalyzePage(ctx, req)
	m.deps.Ledger.AddUsage(usage)
	if err != nil {
		m.logger.Warn("Reasoning call failed", zap.String("state", string(state)), zap.Error(err))
		m.detector.CountAttempt()
		return
	}
	m.execute(ctx, action, dec.Tier, obs)
}

// batchFill fills the whole registration form with one reasoning call. A
// stuck verdict degrades to the normal single-action path.
func (m *Machine) batchFill(ctx context.Context, obs *schemas.PageObservation, extra string) {
	if !m.reasoningAllowed() {
		return
	}
	req := schemas.PageRequest{
		Mode:          schemas.ReasonVision,
		PageText:      obs.VisibleText,
		Elements:      obs.Elements,
		ScreenshotPNG: obs.ScreenshotPNG,
		ExtraContext:  extra,
		Intent:        string(schemas.StateFillRegister),
	}
	actions, usage, err := m.deps.Reasoner.BatchFill(ctx, req, m.ensureIdentity())
	m.deps.Ledger.AddUsage(usage)
	if err != nil {
		m.logger.Warn("Batch fill failed", zap.Error(err))
		m.detector.CountAttempt()
		return
	}

	if len(actions) == 1 && actions[0].Type == schemas.ActionStuck {
		m.logger.Warn("Batch fill stuck, degrading to single actions",
			zap.String("rationale", truncate(actions[0].Rationale, 120)))
		action, usage, err := m.deps.Reasoner.AnalyzePage(ctx, req)
		m.deps.Ledger.AddUsage(usage)
		if err != nil {
			m.detector.CountAttempt()
			return
		}
		m.execute(ctx, action, schemas.TierVisionLLM, obs)
		return
	}

	m.logger.Info("Batch fill", zap.Int("actions", len(actions)))
	for _, a := range actions {
		if IsTerminal(m.session.State) || m.session.State != schemas.StateFillRegister {
			break
		}
		m.execute(ctx, a, schemas.TierVisionLLM, obs)
	}
}

// execute dispatches one action, records its Step, and runs the state
// bookkeeping that follows it.
func (m *Machine) execute(ctx context.Context, a schemas.Action, tier schemas.ResolutionTier, obs *schemas.PageObservation) {
	start := time.Now()
	success := true
	var errText string

	switch a.Type {
	case schemas.ActionClick:
		if err := m.resolver.click(ctx, a); err != nil {
			success = false
			errText = "click unresolved"
			m.detector.InvalidateHash()
		} else {
			m.sleep(ctx, 2*time.Second)
		}

	case schemas.ActionTypeText:
		actual, err := m.resolver.typeText(ctx, a.Selector, a.Value)
		if err != nil {
			success = false
			errText = "type unresolved"
			m.detector.InvalidateHash()
		} else if actual != a.Value {
			m.detector.RecordTypeMismatch(a.Selector, a.Value, actual)
		} else {
			m.detector.ClearTypeMismatch(a.Selector)
		}
		if success {
			m.noteTypedField(a)
		}

	case schemas.ActionSelect:
		if err := m.resolver.selectOption(ctx, a.Selector, a.Value); err != nil {
			success = false
			errText = "select unresolved"
			m.detector.InvalidateHash()
		}

	case schemas.ActionNavigate:
		if err := m.resolver.navigate(ctx, a.Value); err != nil {
			success = false
			errText = "navigate failed"
			m.detector.InvalidateHash()
		}

	case schemas.ActionScroll:
		pixels := 500
		if a.Value != "" {
			if v, err := strconv.Atoi(strings.TrimSpace(a.Value)); err == nil {
				pixels = v
			}
		}
		if err := m.resolver.scroll(ctx, pixels); err != nil {
			success = false
			errText = "scroll failed"
		}

	case schemas.ActionWait:
		secs := 2.0
		if a.Value != "" {
			if v, err := strconv.ParseFloat(strings.TrimSpace(a.Value), 64); err == nil {
				secs = v
			}
		}
		if secs > 10 {
			secs = 10
		}
		m.sleep(ctx, time.Duration(secs*float64(time.Second)))

	case schemas.ActionExtract:
		if fresh, err := m.resolver.observe(ctx, false); err == nil {
			m.probeWallets(fresh)
		}

	case schemas.ActionDone:
		m.recordStep(a, tier, true, "", obs.ScreenshotHash, time.Since(start))
		m.detector.RecordAction(a)
		m.emitAction(a, tier)
		m.handleDone(a)
		return

	case schemas.ActionStuck:
		m.recordStep(a, tier, true, "", obs.ScreenshotHash, time.Since(start))
		m.detector.RecordAction(a)
		m.emitAction(a, tier)
		m.handleStuckAction(ctx, a)
		return
	}

	m.recordStep(a, tier, success, errText, obs.ScreenshotHash, time.Since(start))
	m.detector.RecordAction(a)
	m.emitAction(a, tier)
}

// handleDone advances the state machine after a completed intent.
func (m *Machine) handleDone(a schemas.Action) {
	switch m.session.State {
	case schemas.StateFindRegister:
		m.transition(schemas.StateFillRegister)
	case schemas.StateFillRegister:
		m.transition(schemas.StateSubmitReg)
	case schemas.StateSubmitReg:
		m.transition(schemas.StateCheckEmail)
	case schemas.StateCheckEmail:
		m.transition(schemas.StateNavDeposit)
	case schemas.StateNavDeposit:
		m.transition(schemas.StateExtractWallet)
	case schemas.StateExtractWallet:
		m.ingestWalletPayload(a.Value)
		m.transition(schemas.StateComplete)
	default:
		m.transition(schemas.StateComplete)
	}
}

// handleStuckAction interprets an explicit stuck verdict from a decider.
func (m *Machine) handleStuckAction(ctx context.Context, a schemas.Action) {
	rationale := strings.ToLower(a.Rationale)

	if strings.Contains(rationale, "email verification") {
		m.logger.Warn("Email verification wall", zap.String("url", m.session.TargetURL))
		m.session.State = schemas.StateSkipped
		m.session.FailureReason = "email verification required"
		return
	}
	// Referral and invitation walls go to a human; everything else counts
	// toward the threshold first.
	if strings.Contains(rationale, "referral") || strings.Contains(rationale, "invitation code") {
		m.handleStuck(ctx)
		return
	}
	if m.detector.IsStuck(m.session.State) {
		m.handleStuck(ctx)
	}
}

// handleStuck suspends the session on the guidance channel until a human
// responds or the guidance timeout elapses.
func (m *Machine) handleStuck(ctx context.Context) {
	state := m.session.State
	snippet := ""
	currentURL := ""
	if obs, err := m.resolver.observe(ctx, false); err == nil {
		snippet = obs.VisibleText
		currentURL = obs.URL
	}

	timeout := m.cfg.Agent.GuidanceTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The session itself stays in its working state; GUIDANCE_NEEDED is
	// surfaced on the monitor so operators see the suspension.
	m.deps.Bus.Emit(monitor.EventStateChanged, map[string]any{
		"old_state": string(state),
		"new_state": string(schemas.StateGuidance),
	})
	cmd, err := m.deps.Bus.RequestGuidance(gctx, monitor.GuidanceRequest{
		SiteURL:      m.session.TargetURL,
		State:        string(state),
		ActionsTaken: m.detector.AttemptsInState(),
		Threshold:    m.detector.Threshold(state),
		CurrentURL:   currentURL,
		PageSnippet:  snippet,
	})
	if err != nil {
		m.logger.Warn("No guidance before timeout", zap.String("state", string(state)))
		m.session.State = schemas.StateManualReview
		m.session.FailureReason = fmt.Sprintf("stuck in %s, no guidance before timeout", state)
		m.emitGuidanceResolved()
		return
	}
	m.applyGuidance(ctx, cmd)
	m.emitGuidanceResolved()
}

// emitGuidanceResolved moves the monitor view off GUIDANCE_NEEDED once the
// suspension ends, whichever way it ended.
func (m *Machine) emitGuidanceResolved() {
	m.deps.Bus.Emit(monitor.EventStateChanged, map[string]any{
		"old_state": string(schemas.StateGuidance),
		"new_state": string(m.session.State),
	})
}

// applyGuidance executes a human command and gives the session a fresh
// attempt window with DOM-direct suppressed for one observation.
func (m *Machine) applyGuidance(ctx context.Context, cmd monitor.GuidanceCommand) {
	start := time.Now()
	switch cmd.Action {
	case monitor.GuidanceSkip:
		m.session.State = schemas.StateSkipped
		m.session.FailureReason = coalesce(cmd.Reason, "skipped by operator")
		return
	case monitor.GuidanceClick:
		a := schemas.Action{Type: schemas.ActionClick, Selector: cmd.Value, Rationale: "operator", Confidence: 1}
		err := m.resolver.click(ctx, a)
		m.recordStep(a, schemas.TierHuman, err == nil, errLabel(err, "click unresolved"), "", time.Since(start))
	case monitor.GuidanceType:
		field, text, _ := strings.Cut(cmd.Value, "|")
		a := schemas.Action{Type: schemas.ActionTypeText, Selector: field, Value: text, Rationale: "operator", Confidence: 1}
		actual, err := m.resolver.typeText(ctx, field, text)
		if err == nil && actual != text {
			m.detector.RecordTypeMismatch(field, text, actual)
		}
		m.recordStep(a, schemas.TierHuman, err == nil, errLabel(err, "type unresolved"), "", time.Since(start))
	case monitor.GuidanceGoto:
		a := schemas.Action{Type: schemas.ActionNavigate, Value: cmd.Value, Rationale: "operator", Confidence: 1}
		err := m.resolver.navigate(ctx, cmd.Value)
		m.recordStep(a, schemas.TierHuman, err == nil, errLabel(err, "navigate failed"), "", time.Since(start))
	case monitor.GuidanceContinue:
		if cmd.Value != "" {
			m.humanNote = cmd.Value
		}
	}
	m.detector.ResetAttempts()
	m.skipDOMDirect = true
}

// buildStateContext assembles the prompt context for the current state.
func (m *Machine) buildStateContext(ctx context.Context, obs *schemas.PageObservation) string {
	var parts []string
	state := m.session.State

	if state == schemas.StateFillRegister || state == schemas.StateSubmitReg {
		id := m.ensureIdentity()
		display := id
		if state == schemas.StateSubmitReg && m.lastPassword != "" {
			display.PasswordVariants = nil
		}
		if blob, err := json.MarshalIndent(display, "", "  "); err == nil {
			parts = append(parts, "Use this identity to fill the registration form:\n"+string(blob))
		}
	}
	if state == schemas.StateSubmitReg {
		if m.lastPassword != "" {
			parts = append(parts, "PASSWORD FOR THIS REGISTRATION: "+m.lastPassword+
				"\nUse this exact password wherever a password or confirmation is needed.")
		}
		if status := browser.FormFieldStatus(obs.Elements, func(sel string) (string, bool) {
			v, err := m.resolver.readBack(ctx, sel)
			return v, err == nil
		}); status != "" {
			parts = append(parts, status,
				"Fields with values above are already filled. Only fill fields marked EMPTY; "+
					"if everything is EMPTY the form cleared on a failed submit, so re-fill it all.")
		}
	}

	if mismatches := m.detector.TypeMismatches(); len(mismatches) > 0 {
		parts = append(parts, "TYPE VERIFICATION WARNINGS:\n- "+strings.Join(mismatches, "\n- ")+
			"\nThese fields may not have accepted the typed value. Click the field, clear it, retype.")
	}
	if m.fallbackNote != "" {
		parts = append(parts, m.fallbackNote)
		m.fallbackNote = ""
	}
	if m.humanNote != "" {
		parts = append(parts, "HUMAN OPERATOR INSTRUCTION: "+m.humanNote+"\nFollow this instruction.")
		m.humanNote = ""
	}
	return strings.Join(parts, "\n\n")
}

func (m *Machine) primedWalletContext() string {
	list := m.harvest.List()
	summaries := make([]string, 0, len(list))
	for _, w := range list {
		summaries = append(summaries, fmt.Sprintf("%s (%s) %s", w.Symbol, w.Network, truncate(w.Address, 16)))
	}
	return fmt.Sprintf("PRE-EXTRACTION found %d wallet addresses: %s. "+
		"Re-list every wallet address in your done response with token symbol and network for each.",
		len(list), strings.Join(summaries, ", "))
}

// probeWallets scans visible text opportunistically and returns how many
// new addresses the harvest accepted.
func (m *Machine) probeWallets(obs *schemas.PageObservation) int {
	if obs == nil || obs.VisibleText == "" {
		return 0
	}
	found := m.extractor.Scan(obs.VisibleText, "page_text", schemas.MethodRegex)
	added := m.harvest.AddAll(found)
	if added > 0 {
		for _, w := range found {
			m.deps.Bus.Emit(monitor.EventWalletFound, map[string]any{
				"symbol": w.Symbol, "network": w.Network, "address": w.Address, "source": w.Source,
			})
		}
	}
	return added
}

// walletPayload is one entry in a reasoner's final wallet listing.
type walletPayload struct {
	TokenLabel    string `json:"token_label"`
	TokenSymbol   string `json:"token_symbol"`
	NetworkLabel  string `json:"network_label"`
	NetworkShort  string `json:"network_short"`
	WalletAddress string `json:"wallet_address"`
}

// ingestWalletPayload parses the wallet JSON a done action carries in its
// value and merges it into the harvest. Reasoner-confirmed entries
// corroborate regex finds rather than duplicating them.
func (m *Machine) ingestWalletPayload(value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	var entries []walletPayload
	if err := json.UnmarshalFromString(value, &entries); err != nil {
		var wrapper map[string]jsoniter.RawMessage
		if err := json.UnmarshalFromString(value, &wrapper); err != nil {
			m.logger.Warn("Unparseable wallet payload", zap.String("prefix", truncate(value, 120)))
			return
		}
		for _, key := range []string{"wallets", "data", "addresses"} {
			if raw, ok := wrapper[key]; ok {
				if err := json.Unmarshal(raw, &entries); err == nil {
					break
				}
			}
		}
	}

	for _, e := range entries {
		addr := strings.TrimSpace(e.WalletAddress)
		if addr == "" {
			continue
		}
		network := strings.ToLower(strings.TrimSpace(e.NetworkShort))
		if network == "" {
			if p, ok := m.extractor.Classify(addr); ok {
				network = p.Network
			}
		}
		if m.harvest.Corroborate(network, addr) {
			continue
		}
		confidence := 0.7
		if e.NetworkShort != "" {
			confidence = 0.8
		}
		m.harvest.Add(schemas.WalletAddress{
			Symbol:       strings.ToUpper(e.TokenSymbol),
			Network:      network,
			Address:      addr,
			Source:       "llm",
			Method:       schemas.MethodLLMVerified,
			Confidence:   confidence,
			DiscoveredAt: time.Now().UTC(),
		})
	}
}

func (m *Machine) ensureIdentity() schemas.Identity {
	if m.identity == nil {
		id, err := m.deps.Vault.Generate(m.cfg.Identity.Locale)
		if err != nil {
			m.logger.Error("Identity generation failed", zap.Error(err))
			id = schemas.Identity{ID: uuid.NewString()}
		}
		m.identity = &id
		m.session.IdentityID = id.ID
	}
	return *m.identity
}

func (m *Machine) noteTypedField(a schemas.Action) {
	if m.session.State != schemas.StateFillRegister && m.session.State != schemas.StateSubmitReg {
		return
	}
	if !m.piiFields[a.Selector] {
		m.piiFields[a.Selector] = true
		m.session.PIISubmitted = append(m.session.PIISubmitted, a.Selector)
	}
	sel := strings.ToLower(a.Selector)
	if strings.Contains(sel, "password") && !strings.Contains(sel, "confirm") {
		m.lastPassword = a.Value
	}
}

func (m *Machine) notePage(url string) {
	if url == "" || m.pagesSeen[url] {
		return
	}
	m.pagesSeen[url] = true
	m.pagesVisited = append(m.pagesVisited, url)
}

func (m *Machine) reasoningAllowed() bool {
	if !m.cfg.Budget.Enabled {
		return true
	}
	return !m.deps.Ledger.Exceeded()
}

func (m *Machine) recordStep(a schemas.Action, tier schemas.ResolutionTier, success bool, errText, screenshotRef string, d time.Duration) {
	m.session.Steps = append(m.session.Steps, schemas.Step{
		Seq:           m.session.NextSeq(),
		State:         m.session.State,
		Action:        a,
		Tier:          tier,
		Success:       success,
		Error:         errText,
		ScreenshotRef: screenshotRef,
		DurationMS:    d.Milliseconds(),
		Timestamp:     time.Now().UTC(),
	})
}

func (m *Machine) emitAction(a schemas.Action, tier schemas.ResolutionTier) {
	m.deps.Bus.Emit(monitor.EventActionExecuted, map[string]any{
		"action":     string(a.Type),
		"selector":   truncate(a.Selector, 80),
		"tier":       string(tier),
		"confidence": a.Confidence,
	})
}

func (m *Machine) transition(to schemas.SessionState) {
	from := m.session.State
	if !LegalTransition(from, to) {
		m.logger.Warn("Non-standard transition", zap.String("from", string(from)), zap.String("to", string(to)))
	}
	m.logger.Info("State transition", zap.String("from", string(from)), zap.String("to", string(to)))
	m.session.State = to
	m.detector.ResetState()
	m.walletsPrimed = false
	m.skipDOMDirect = false
	m.deps.Bus.Emit(monitor.EventStateChanged, map[string]any{
		"old_state": string(from), "new_state": string(to),
	})
}

// finalize settles the outcome, filters the harvest through the
// allowlist, and stamps the end time.
func (m *Machine) finalize() {
	if m.session.Outcome == "" {
		switch m.session.State {
		case schemas.StateComplete, schemas.StateSkipped:
			m.session.Outcome = schemas.OutcomeCompleted
		case schemas.StateManualReview:
			m.session.Outcome = schemas.OutcomeManualReview
		case schemas.StateFailed:
			m.session.Outcome = schemas.OutcomeFailed
		default:
			m.session.State = schemas.StateManualReview
			m.session.Outcome = schemas.OutcomeManualReview
		}
	}

	accepted, discarded := m.deps.Allowlist.Filter(m.harvest.List())
	if len(discarded) > 0 {
		m.logger.Info("Wallets outside allowlist discarded", zap.Int("count", len(discarded)))
	}
	m.session.Wallets = accepted
	m.session.PagesVisited = m.pagesVisited
	m.session.EndedAt = time.Now().UTC()

	m.deps.Bus.Emit(monitor.EventSiteCompleted, map[string]any{
		"url":     m.session.TargetURL,
		"outcome": string(m.session.Outcome),
		"state":   string(m.session.State),
		"wallets": len(m.session.Wallets),
		"steps":   m.session.StepCount(),
	})
}

func (m *Machine) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func joinContext(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func errLabel(err error, label string) string {
	if err == nil {
		return ""
	}
	return label
}
