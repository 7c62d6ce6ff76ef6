package agent

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/config"
	"github.com/vexlabs-io/lurehound/internal/dominspect"
)

// Decision is the cascade's routing verdict for one step: which tier
// decides the action and with what context.
type Decision struct {
	Tier         schemas.ResolutionTier
	Mode         schemas.ReasonMode
	DirectAction *schemas.Action
	ExtraContext string
	Reason       string
}

// States where the DOM scorer runs before any reasoning call.
var domInspectableStates = map[schemas.SessionState]bool{
	schemas.StateFindRegister: true,
	schemas.StateNavDeposit:   true,
	schemas.StateCheckEmail:   true,
}

// Cascade routes each step to the cheapest tier able to resolve it:
// playbook, DOM direct, DOM assisted, text reasoning, vision reasoning,
// human. The playbook tier is handled upstream by the machine (a matched
// playbook runs as a unit before the step loop); Route covers the rest.
type Cascade struct {
	inspector *dominspect.Inspector
	cfg       config.CascadeConfig
	logger    *zap.Logger
}

// NewCascade builds the router with the configured thresholds.
func NewCascade(cfg config.CascadeConfig, logger *zap.Logger) *Cascade {
	return &Cascade{
		inspector: dominspect.NewInspector(cfg.DirectThreshold, cfg.AssistedThreshold),
		cfg:       cfg,
		logger:    logger.Named("cascade"),
	}
}

// Inspect runs the state's DOM scan and scores it. Returns nil when the
// state has no scanner, scanning is disabled, or the scan fails.
func (c *Cascade) Inspect(state schemas.SessionState, obs *schemas.PageObservation) *dominspect.Inspection {
	if !c.cfg.DOMInspection || !domInspectableStates[state] {
		return nil
	}

	var (
		scan *dominspect.ScanResult
		err  error
	)
	switch state {
	case schemas.StateFindRegister:
		scan, err = dominspect.ScanFindRegister(obs.HTML, obs.URL)
	case schemas.StateNavDeposit:
		scan, err = dominspect.ScanNavigateDeposit(obs.HTML, obs.URL)
	case schemas.StateCheckEmail:
		scan = dominspect.ScanCheckEmail(obs.VisibleText, obs.URL)
	}
	if err != nil {
		c.logger.Debug("DOM scan failed", zap.String("state", string(state)), zap.Error(err))
		return nil
	}
	if scan == nil {
		return nil
	}
	return c.inspector.Inspect(state, scan, 0)
}

// CheckEmail decides the email-verification state on DOM evidence alone.
// This state never reaches the reasoner: its outcome is binary and
// syntactically detectable, so the scan runs even when DOM inspection is
// globally disabled.
func (c *Cascade) CheckEmail(obs *schemas.PageObservation) schemas.Action {
	scan := dominspect.ScanCheckEmail(obs.VisibleText, obs.URL)
	insp := c.inspector.Inspect(schemas.StateCheckEmail, scan, 0)
	if insp != nil && insp.DirectAction != nil {
		return *insp.DirectAction
	}
	return schemas.Action{Type: schemas.ActionDone, Rationale: "no verification evidence", Confidence: 0.75}
}

// routeInput carries the signals Route needs beyond the inspection.
type routeInput struct {
	state          schemas.SessionState
	inspection     *dominspect.Inspection
	actionsInState int
	walletsPrimed  bool // opportunistic extraction already found wallets
	skipDOMDirect  bool // cooldown after human guidance
}

// Route picks the tier for one step. The DOM-direct path returns the
// concrete action so the caller can execute it without any reasoning call.
func (c *Cascade) Route(in routeInput) Decision {
	insp := in.inspection
	if insp != nil {
		if in.skipDOMDirect && insp.Outcome == dominspect.OutcomeDirect {
			// One observation after guidance the human's view wins over the
			// scorer, which was wrong enough to get the session stuck.
			c.logger.Debug("DOM direct suppressed post-guidance", zap.String("state", string(in.state)))
		} else {
			switch insp.Outcome {
			case dominspect.OutcomeDirect:
				if insp.DirectAction != nil {
					return Decision{
						Tier:         schemas.TierDOMDirect,
						DirectAction: insp.DirectAction,
						ExtraContext: insp.ContextSummary,
						Reason:       fmt.Sprintf("dom direct, confidence %d", insp.Confidence),
					}
				}
			case dominspect.OutcomeAssisted:
				// Narrowed candidates make the text prompt good enough; the
				// screenshot stays out of the call.
				return Decision{
					Tier:         schemas.TierDOMAssisted,
					Mode:         schemas.ReasonText,
					ExtraContext: insp.ContextSummary,
					Reason:       fmt.Sprintf("dom assisted, confidence %d", insp.Confidence),
				}
			}
		}
	}

	if in.state == schemas.StateSubmitReg && in.actionsInState > 0 {
		return Decision{
			Tier:   schemas.TierTextLLM,
			Mode:   schemas.ReasonText,
			Reason: "submit re-check after first action",
		}
	}
	if in.state == schemas.StateExtractWallet && in.walletsPrimed {
		return Decision{
			Tier:   schemas.TierTextLLM,
			Mode:   schemas.ReasonText,
			Reason: "wallets pre-extracted from page text",
		}
	}

	return Decision{
		Tier:   schemas.TierVisionLLM,
		Mode:   schemas.ReasonVision,
		Reason: "vision default",
	}
}
