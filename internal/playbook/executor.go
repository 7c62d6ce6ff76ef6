package playbook

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/observability"
)

// ExtractFunc harvests wallet addresses from the current page. The
// executor calls it for extract steps; finding nothing is not a failure.
type ExtractFunc func(ctx context.Context) error

// Executor runs a playbook's steps in order against the browser.
type Executor struct {
	driver   schemas.BrowserDriver
	identity schemas.Identity
	extract  ExtractFunc
	logger   *zap.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration)
}

// NewExecutor creates an Executor bound to a browser and an identity.
// extract may be nil, in which case extract steps are no-ops.
func NewExecutor(driver schemas.BrowserDriver, identity schemas.Identity, extract ExtractFunc) *Executor {
	return &Executor{
		driver:   driver,
		identity: identity,
		extract:  extract,
		logger:   observability.GetLogger().Named("playbook"),
		sleep:    sleepCtx,
	}
}

// Execute runs every step of the playbook, honoring per-step retries and
// the playbook's wall-clock budget. A failed step with FallbackToLLM set
// (on the step or the playbook) marks the result for cascade handoff
// instead of aborting the investigation.
func (e *Executor) Execute(ctx context.Context, pb *Playbook, url string) *Result {
	res := &Result{
		PlaybookID: pb.ID,
		URL:        url,
		TotalSteps: len(pb.Steps),
		StartedAt:  time.Now().UTC(),
	}

	start := time.Now()
	deadline := start.Add(pb.MaxDuration())

	allDone := true
	for idx, step := range pb.Steps {
		if err := ctx.Err(); err != nil {
			res.Error = fmt.Sprintf("canceled at step %d/%d: %v", idx+1, len(pb.Steps), err)
			allDone = false
			break
		}
		if time.Now().After(deadline) {
			res.Error = fmt.Sprintf("time budget exceeded at step %d/%d after %.1fs (budget %s)",
				idx+1, len(pb.Steps), time.Since(start).Seconds(), pb.MaxDuration())
			e.logger.Warn("Playbook over budget",
				zap.String("playbook_id", pb.ID), zap.String("detail", res.Error))
			if pb.FallbackToLLM {
				res.FellBack = true
				res.FallbackReason = "time budget exceeded"
			}
			allDone = false
			break
		}

		selector := ResolveTemplate(step.Selector, e.identity)
		value := ResolveTemplate(step.Value, e.identity)

		sr := e.executeStep(ctx, idx, step, selector, value)
		res.StepResults = append(res.StepResults, sr)

		if sr.Success {
			res.CompletedSteps++
			continue
		}

		allDone = false
		e.logger.Warn("Playbook step failed",
			zap.String("playbook_id", pb.ID),
			zap.Int("step", idx+1),
			zap.Int("total", len(pb.Steps)),
			zap.String("action", string(step.Action)),
			zap.String("selector", truncate(selector, 60)),
			zap.String("error", sr.Error))

		if step.FallbackToLLM {
			res.FellBack = true
			res.FallbackReason = fmt.Sprintf("step %d (%s %s) failed: %s",
				idx+1, step.Action, truncate(selector, 40), sr.Error)
			break
		}

		res.Error = fmt.Sprintf("step %d failed without fallback: %s %s",
			idx+1, step.Action, truncate(selector, 40))
		break
	}
	res.Success = allDone

	res.Duration = time.Since(start)
	res.CompletedAt = time.Now().UTC()

	e.logger.Info("Playbook finished",
		zap.String("playbook_id", pb.ID),
		zap.Bool("success", res.Success),
		zap.Int("completed_steps", res.CompletedSteps),
		zap.Int("total_steps", res.TotalSteps),
		zap.Duration("duration", res.Duration),
		zap.Bool("fell_back", res.FellBack))
	return res
}

func (e *Executor) executeStep(ctx context.Context, index int, step Step, selector, value string) StepResult {
	maxAttempts := 1 + step.RetryOnFailure
	stepStart := time.Now()
	lastErr := ""

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := e.dispatch(ctx, step.Action, selector, value)
		if err == nil {
			return StepResult{
				StepIndex: index,
				Action:    step.Action,
				Selector:  selector,
				Value:     redact(value, step.Action),
				Success:   true,
				Attempts:  attempt,
				Duration:  time.Since(stepStart),
			}
		}
		lastErr = err.Error()
		e.logger.Debug("Step attempt failed",
			zap.Int("step", index+1),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))

		if attempt < maxAttempts {
			// Progressive backoff: 1s, 2s, 3s, capped.
			e.sleep(ctx, time.Duration(min(attempt, 3))*time.Second)
		}
	}

	return StepResult{
		StepIndex: index,
		Action:    step.Action,
		Selector:  selector,
		Value:     redact(value, step.Action),
		Success:   false,
		Attempts:  maxAttempts,
		Error:     lastErr,
		Duration:  time.Since(stepStart),
	}
}

func (e *Executor) dispatch(ctx context.Context, action schemas.ActionType, selector, value string) error {
	switch action {
	case schemas.ActionClick:
		return e.driver.Click(ctx, selector)
	case schemas.ActionTypeText:
		return e.driver.TypeText(ctx, selector, value)
	case schemas.ActionSelect:
		return e.driver.SelectOption(ctx, selector, value)
	case schemas.ActionNavigate:
		return e.driver.Navigate(ctx, value)
	case schemas.ActionWait:
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil || secs <= 0 {
			secs = 2
		}
		if secs > 10 {
			secs = 10
		}
		e.sleep(ctx, time.Duration(secs*float64(time.Second)))
		return nil
	case schemas.ActionScroll:
		px, err := strconv.Atoi(value)
		if err != nil || px == 0 {
			px = 500
		}
		return e.driver.Scroll(ctx, px)
	case schemas.ActionExtract:
		if e.extract != nil {
			return e.extract(ctx)
		}
		return nil
	}
	return fmt.Errorf("unknown playbook action %q", action)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// redact masks typed values so synthetic PII never lands verbatim in
// result records or logs.
func redact(value string, action schemas.ActionType) string {
	if action == schemas.ActionTypeText && len(value) > 4 {
		return value[:2] + "***" + value[len(value)-2:]
	}
	return value
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
