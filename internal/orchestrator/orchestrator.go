// File: internal/orchestrator/orchestrator.go
// Description: Runs the per-investigation pipeline. It is injected with
// configured components via interfaces and factories, keeping it decoupled
// and testable without a real browser or reasoning backend.

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/agent"
	"github.com/vexlabs-io/lurehound/internal/browser"
	"github.com/vexlabs-io/lurehound/internal/budget"
	"github.com/vexlabs-io/lurehound/internal/config"
	"github.com/vexlabs-io/lurehound/internal/identity"
	"github.com/vexlabs-io/lurehound/internal/monitor"
	"github.com/vexlabs-io/lurehound/internal/playbook"
	"github.com/vexlabs-io/lurehound/internal/store"
	"github.com/vexlabs-io/lurehound/internal/wallet"
)

// DriverFactory opens a fresh browser session for one investigation. The
// returned driver is closed by the orchestrator when the investigation ends.
type DriverFactory func(ctx context.Context) (schemas.BrowserDriver, error)

// Persister is the slice of the store the orchestrator needs. *store.Store
// satisfies it; tests substitute an in-memory recorder.
type Persister interface {
	SaveSession(ctx context.Context, sess *schemas.Session, costUSD float64, reasoningCalls int) error
}

// Deps carries the shared collaborators. Reasoner and Drivers are required;
// the rest default from config when nil.
type Deps struct {
	Reasoner  schemas.Reasoner
	Drivers   DriverFactory
	Matcher   *playbook.Matcher
	Allowlist *wallet.Allowlist
	Vault     *identity.Vault
	Store     Persister
	Monitor   *monitor.Server
	// ExtraSinks are attached to every investigation's event bus in
	// addition to the default logging sink.
	ExtraSinks []monitor.Sink
}

// Result is the outcome of one investigation attempt. Session is nil when
// the pipeline failed before the agent produced one.
type Result struct {
	URL      string
	Session  *schemas.Session
	CostUSD  float64
	Calls    int
	Duration time.Duration
	Err      error
}

// Orchestrator drives investigations end to end: admission, session run,
// persistence, monitor registration. Safe for concurrent use; the admission
// controller bounds how many investigations run at once.
type Orchestrator struct {
	cfg       *config.Config
	logger    *zap.Logger
	deps      Deps
	admission *budget.Admission
}

// New validates the dependency set and builds an orchestrator.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("orchestrator requires config and logger")
	}
	if deps.Reasoner == nil || deps.Drivers == nil {
		return nil, fmt.Errorf("orchestrator requires a reasoner and a driver factory")
	}
	if deps.Matcher == nil {
		deps.Matcher = playbook.NewMatcher()
		if cfg.Playbooks.Enabled && cfg.Playbooks.Dir != "" {
			deps.Matcher.RegisterMany(playbook.LoadDir(cfg.Playbooks.Dir))
		}
	}
	if deps.Allowlist == nil {
		al, err := wallet.LoadAllowlist(cfg.Wallet.AllowlistPath)
		if err != nil {
			return nil, fmt.Errorf("load wallet allowlist: %w", err)
		}
		deps.Allowlist = al
	}
	if deps.Vault == nil {
		deps.Vault = identity.NewVault(identity.WithProbeDomain(cfg.Identity.ProbeDomain))
	}
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		deps:      deps,
		admission: budget.NewAdmission(cfg.Admission.MaxConcurrent, logger),
	}, nil
}

// Admission exposes the concurrency controller, mainly for status reporting.
func (o *Orchestrator) Admission() *budget.Admission { return o.admission }

// Investigate runs the full pipeline against one URL: acquire an admission
// slot, open a browser, run the agent session, persist the outcome. The
// returned Result always carries the URL; Err is set on any stage failure.
func (o *Orchestrator) Investigate(ctx context.Context, targetURL string) Result {
	start := time.Now()
	res := Result{URL: targetURL}

	release, err := o.admission.Acquire(ctx)
	if err != nil {
		res.Err = fmt.Errorf("admission: %w", err)
		return res
	}
	defer release()

	investigationID := uuid.NewString()
	log := o.logger.With(
		zap.String("investigation_id", investigationID),
		zap.String("url", targetURL),
	)
	log.Info("Investigation admitted")

	bus := monitor.NewBus(investigationID, o.logger)
	bus.AddSink(monitor.NewLoggingSink(o.logger))
	for _, s := range o.deps.ExtraSinks {
		bus.AddSink(s)
	}
	if o.deps.Monitor != nil {
		o.deps.Monitor.Register(investigationID, bus)
		defer o.deps.Monitor.Unregister(investigationID)
	}

	driver, err := o.deps.Drivers(ctx)
	if err != nil {
		res.Err = fmt.Errorf("open browser: %w", err)
		res.Duration = time.Since(start)
		log.Error("Browser startup failed", zap.Error(err))
		return res
	}
	defer func() {
		if cerr := driver.Close(); cerr != nil {
			log.Warn("Browser close failed", zap.Error(cerr))
		}
	}()

	ledger := budget.NewLedger(o.ceiling(), o.logger)
	machine := agent.NewMachine(o.cfg, agent.Deps{
		Driver:    driver,
		Reasoner:  o.deps.Reasoner,
		Matcher:   o.deps.Matcher,
		Vault:     o.deps.Vault,
		Ledger:    ledger,
		Bus:       bus,
		Allowlist: o.deps.Allowlist,
	}, o.logger)

	sess, runErr := machine.Run(ctx, targetURL)
	res.Session = sess
	res.CostUSD = ledger.TotalUSD()
	res.Calls = ledger.Calls()
	res.Duration = time.Since(start)
	if runErr != nil {
		res.Err = runErr
	}

	if o.deps.Store != nil && sess != nil {
		if serr := o.deps.Store.SaveSession(ctx, sess, res.CostUSD, res.Calls); serr != nil {
			log.Error("Session persistence failed", zap.Error(serr))
			if res.Err == nil {
				res.Err = fmt.Errorf("persist session: %w", serr)
			}
		}
	}

	if sess != nil {
		log.Info("Investigation finished",
			zap.String("outcome", string(sess.Outcome)),
			zap.Int("steps", sess.StepCount()),
			zap.Int("wallets", len(sess.Wallets)),
			zap.Float64("cost_usd", res.CostUSD),
			zap.Duration("duration", res.Duration),
		)
	}
	return res
}

// InvestigateAll runs every URL through the pipeline concurrently. The
// admission controller bounds how many run at once; results come back in
// input order. The batch keeps going when individual investigations fail
// and only aborts early if ctx itself is cancelled.
func (o *Orchestrator) InvestigateAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = o.Investigate(gctx, u)
			// Individual failures are reported per-result, not as a
			// group error, so one broken site cannot sink the batch.
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors
	return results
}

func (o *Orchestrator) ceiling() float64 {
	if !o.cfg.Budget.Enabled {
		return 0
	}
	return o.cfg.Budget.CeilingUSD
}

// ChromeDrivers is the production DriverFactory: one headless browser
// session per investigation, configured from cfg.
func ChromeDrivers(cfg *config.Config, logger *zap.Logger) DriverFactory {
	return func(ctx context.Context) (schemas.BrowserDriver, error) {
		return browser.NewDriver(ctx, &cfg.Browser, logger)
	}
}

// Ensure the concrete store satisfies the narrow interface.
var _ Persister = (*store.Store)(nil)
