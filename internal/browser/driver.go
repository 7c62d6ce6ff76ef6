// Package browser implements the BrowserDriver contract on top of a
// headless Chrome instance driven over CDP.
package browser

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/config"
)

// visibleTextLimit bounds the text snapshot carried on every observation;
// reasoner prompts truncate further.
const visibleTextLimit = 20000

// Driver is a chromedp-backed implementation of schemas.BrowserDriver.
// One Driver owns one tab; investigations do not share tabs.
type Driver struct {
	cfg    *config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ schemas.BrowserDriver = (*Driver)(nil)

// NewDriver launches a browser tab ready for navigation.
func NewDriver(ctx context.Context, cfg *config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.IgnoreTLSErrors {
		// Scam infrastructure routinely serves broken or self-signed certs.
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	d := &Driver{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}

	// Connect the target eagerly so launch failures surface here rather
	// than on the first navigation.
	if err := chromedp.Run(tabCtx); err != nil {
		d.Close()
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	if err := chromedp.Run(tabCtx, emulation.SetDeviceMetricsOverride(
		int64(cfg.ViewportWidth), int64(cfg.ViewportHeight), 1.0, false)); err != nil {
		d.logger.Warn("Could not apply viewport override", zap.Error(err))
	}

	d.logger.Info("Browser tab ready",
		zap.Bool("headless", cfg.Headless),
		zap.Int("viewport_width", cfg.ViewportWidth),
		zap.Int("viewport_height", cfg.ViewportHeight))
	return d, nil
}

// run executes actions bound to both the tab lifetime and the caller's ctx.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(d.tabCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the URL and waits for the document body plus the
// configured settle period.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, d.cfg.NavigationTimeout)
	defer cancel()

	if err := d.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	if d.cfg.PostLoadWait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.cfg.PostLoadWait):
		}
	}
	return nil
}

// Observe snapshots the page: URL, title, visible text, outer HTML, the
// numbered element inventory, and optionally a screenshot.
func (d *Driver) Observe(ctx context.Context, withScreenshot bool) (*schemas.PageObservation, error) {
	var (
		url, title, html, text string
	)
	if err := d.run(ctx,
		chromedp.Location(&url),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &text),
	); err != nil {
		return nil, fmt.Errorf("capturing page snapshot: %w", err)
	}
	if len(text) > visibleTextLimit {
		text = text[:visibleTextLimit]
	}

	obs := &schemas.PageObservation{
		URL:         url,
		Title:       title,
		VisibleText: strings.TrimSpace(text),
		HTML:        html,
		Elements:    BuildInventory(html),
		CapturedAt:  time.Now().UTC(),
	}

	if withScreenshot {
		var png []byte
		if err := d.run(ctx, chromedp.FullScreenshot(&png, d.cfg.ScreenshotQuality)); err != nil {
			// A failed capture degrades the observation, it does not void it.
			d.logger.Warn("Screenshot capture failed", zap.Error(err))
		} else {
			obs.ScreenshotPNG = png
			obs.ScreenshotHash = HashScreenshot(png)
		}
	}

	d.logger.Debug("Page observed",
		zap.String("url", url),
		zap.Int("elements", len(obs.Elements)),
		zap.Int("text_len", len(obs.VisibleText)),
		zap.Bool("screenshot", withScreenshot))
	return obs, nil
}

// HashScreenshot returns the dedup key for a screenshot.
func HashScreenshot(png []byte) string {
	sum := md5.Sum(png)
	return hex.EncodeToString(sum[:])
}

// Click clicks the first visible match for the selector.
func (d *Driver) Click(ctx context.Context, selector string) error {
	if err := d.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	return nil
}

// ClickByText finds a visible clickable element by its text content and
// clicks it. Matching is case-insensitive on trimmed text.
func (d *Driver) ClickByText(ctx context.Context, text string) error {
	script := fmt.Sprintf(`(() => {
		const wanted = %q.trim().toLowerCase();
		const els = document.querySelectorAll('a, button, [role="button"], input[type="submit"], .btn, [class*="button"]');
		for (const el of els) {
			const t = (el.textContent || el.value || '').trim().toLowerCase();
			if (!t) continue;
			if (t === wanted || t.includes(wanted)) {
				const s = window.getComputedStyle(el);
				if (s.display === 'none' || s.visibility === 'hidden') continue;
				el.click();
				return true;
			}
		}
		return false;
	})()`, text)

	var clicked bool
	if err := d.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return fmt.Errorf("clicking by text %q: %w", text, err)
	}
	if !clicked {
		return fmt.Errorf("no visible clickable element matching %q", text)
	}
	return nil
}

// TypeText clears the field and types the value key by key.
func (d *Driver) TypeText(ctx context.Context, selector, value string) error {
	if err := d.run(ctx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("typing into %q: %w", selector, err)
	}
	return nil
}

// SetValue assigns the field value directly and fires input/change events.
// Reactive frameworks that intercept keystrokes still observe the update.
func (d *Driver) SetValue(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		const proto = el.tagName === 'TEXTAREA'
			? window.HTMLTextAreaElement.prototype
			: window.HTMLInputElement.prototype;
		const setter = Object.getOwnPropertyDescriptor(proto, 'value');
		if (setter && setter.set) { setter.set.call(el, %q); } else { el.value = %q; }
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, selector, value, value)

	var ok bool
	if err := d.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("setting value on %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("no element matching %q", selector)
	}
	return nil
}

// ReadValue reads back the field's current value.
func (d *Driver) ReadValue(ctx context.Context, selector string) (string, error) {
	var value string
	if err := d.run(ctx, chromedp.Value(selector, &value, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading value of %q: %w", selector, err)
	}
	return value, nil
}

// SelectOption picks an option in a <select> by value or visible label.
func (d *Driver) SelectOption(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
		const sel = document.querySelector(%q);
		if (!sel || sel.tagName !== 'SELECT') return false;
		const wanted = %q.trim().toLowerCase();
		for (const opt of sel.options) {
			if (opt.value.toLowerCase() === wanted || opt.text.trim().toLowerCase() === wanted) {
				sel.value = opt.value;
				sel.dispatchEvent(new Event('change', { bubbles: true }));
				return true;
			}
		}
		return false;
	})()`, selector, value)

	var ok bool
	if err := d.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("selecting %q in %q: %w", value, selector, err)
	}
	if !ok {
		return fmt.Errorf("no option %q in %q", value, selector)
	}
	return nil
}

// Scroll scrolls the viewport by the given pixel delta.
func (d *Driver) Scroll(ctx context.Context, pixels int) error {
	script := fmt.Sprintf(`window.scrollBy(0, %d)`, pixels)
	if err := d.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scrolling: %w", err)
	}
	return nil
}

// DismissOverlays closes cookie banners, consent dialogs and chat widgets
// that cover the page. Best effort: it clicks obvious accept/close
// controls and hides fixed full-viewport overlays.
func (d *Driver) DismissOverlays(ctx context.Context) error {
	script := `(() => {
		let dismissed = 0;
		const acceptWords = ['accept', 'agree', 'got it', 'ok', 'close', 'dismiss', 'allow', 'i understand'];
		const candidates = document.querySelectorAll(
			'[class*="cookie"] button, [id*="cookie"] button, [class*="consent"] button, ' +
			'[class*="gdpr"] button, [aria-label="Close"], [class*="modal"] [class*="close"]'
		);
		for (const el of candidates) {
			const t = (el.textContent || '').trim().toLowerCase();
			if (t === '' || acceptWords.some(w => t.includes(w))) {
				try { el.click(); dismissed++; } catch (e) {}
			}
		}
		const widgets = document.querySelectorAll(
			'[class*="livechat"], [class*="live-chat"], [id*="tawk"], [class*="intercom"], [class*="crisp"]'
		);
		for (const w of widgets) {
			try { w.style.display = 'none'; dismissed++; } catch (e) {}
		}
		return dismissed;
	})()`

	var dismissed int
	if err := d.run(ctx, chromedp.Evaluate(script, &dismissed)); err != nil {
		return fmt.Errorf("dismissing overlays: %w", err)
	}
	if dismissed > 0 {
		d.logger.Debug("Dismissed overlays", zap.Int("count", dismissed))
	}
	return nil
}

// CurrentURL returns the document URL.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return url, nil
}

// Close tears down the tab and the browser process.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	d.logger.Debug("Closing browser")
	if d.tabCancel != nil {
		d.tabCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	return nil
}

// combineContext derives a context canceled when either parent is done.
func combineContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
