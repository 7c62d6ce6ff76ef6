package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

// resolver executes abstract actions against the driver with an ordered
// fallback chain per action type and a per-call timeout on every driver
// call.
type resolver struct {
	driver      schemas.BrowserDriver
	stepTimeout time.Duration
	logger      *zap.Logger
}

func newResolver(driver schemas.BrowserDriver, stepTimeout time.Duration, logger *zap.Logger) *resolver {
	if stepTimeout <= 0 {
		stepTimeout = 25 * time.Second
	}
	return &resolver{driver: driver, stepTimeout: stepTimeout, logger: logger.Named("resolve")}
}

func (r *resolver) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()
	return fn(callCtx)
}

// click tries the selector first, then a visible-text search built from
// the selector or the action value.
func (r *resolver) click(ctx context.Context, a schemas.Action) error {
	if a.Selector != "" {
		err := r.call(ctx, func(c context.Context) error { return r.driver.Click(c, a.Selector) })
		if err == nil {
			return nil
		}
		r.logger.Debug("Selector click failed, trying text search",
			zap.String("selector", truncate(a.Selector, 80)))
	}

	for _, text := range clickTextCandidates(a) {
		if err := r.call(ctx, func(c context.Context) error { return r.driver.ClickByText(c, text) }); err == nil {
			return nil
		}
	}
	return fmt.Errorf("click: no strategy resolved %q", truncate(a.Selector, 80))
}

var selectorNoise = regexp.MustCompile(`[#.\[\]'"=:()>~+*^$|]`)

// clickTextCandidates derives visible-text search terms from the action.
func clickTextCandidates(a schemas.Action) []string {
	var out []string
	if a.Value != "" {
		out = append(out, a.Value)
	}
	if a.Selector != "" {
		cleaned := strings.TrimSpace(selectorNoise.ReplaceAllString(a.Selector, " "))
		for _, w := range strings.Fields(cleaned) {
			switch strings.ToLower(w) {
			case "a", "button", "div", "span", "input", "li", "nth-of-type":
			default:
				out = append(out, w)
			}
		}
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

// typeText types the value and verifies it by reading the field back. On
// a mismatch it retries with a synthetic property set, the path reactive
// UIs accept. Returns the final field content.
func (r *resolver) typeText(ctx context.Context, selector, value string) (string, error) {
	if err := r.call(ctx, func(c context.Context) error { return r.driver.TypeText(c, selector, value) }); err != nil {
		// Keystrokes failed outright; go straight to the synthetic set.
		if serr := r.call(ctx, func(c context.Context) error { return r.driver.SetValue(c, selector, value) }); serr != nil {
			return "", fmt.Errorf("type: keystrokes and synthetic set both failed: %w", err)
		}
	}

	actual, err := r.readBack(ctx, selector)
	if err != nil {
		// Could not verify; report the intended value and let the next
		// observation catch a lie.
		return value, nil
	}
	if actual == value {
		return actual, nil
	}

	if err := r.call(ctx, func(c context.Context) error { return r.driver.SetValue(c, selector, value) }); err != nil {
		return actual, nil
	}
	if again, err := r.readBack(ctx, selector); err == nil {
		return again, nil
	}
	return value, nil
}

func (r *resolver) readBack(ctx context.Context, selector string) (string, error) {
	var value string
	err := r.call(ctx, func(c context.Context) error {
		v, err := r.driver.ReadValue(c, selector)
		value = v
		return err
	})
	return value, err
}

func (r *resolver) selectOption(ctx context.Context, selector, value string) error {
	return r.call(ctx, func(c context.Context) error { return r.driver.SelectOption(c, selector, value) })
}

func (r *resolver) scroll(ctx context.Context, pixels int) error {
	return r.call(ctx, func(c context.Context) error { return r.driver.Scroll(c, pixels) })
}

func (r *resolver) navigate(ctx context.Context, url string) error {
	return r.call(ctx, func(c context.Context) error { return r.driver.Navigate(c, url) })
}

func (r *resolver) dismissOverlays(ctx context.Context) {
	_ = r.call(ctx, func(c context.Context) error { return r.driver.DismissOverlays(c) })
}

func (r *resolver) observe(ctx context.Context, withScreenshot bool) (*schemas.PageObservation, error) {
	var obs *schemas.PageObservation
	err := r.call(ctx, func(c context.Context) error {
		o, err := r.driver.Observe(c, withScreenshot)
		obs = o
		return err
	})
	return obs, err
}
