// File: api/schemas/browser.go
package schemas

import (
	"context"
	"strings"
	"time"
)

// InteractiveElement is one numbered entry in the page's interactive-element
// inventory. The index is what reasoner prompts reference ("click element 4"),
// so it must be stable for the lifetime of a single observation.
type InteractiveElement struct {
	Index       int    `json:"index"`
	Tag         string `json:"tag"`
	ElementType string `json:"type,omitempty"` // input type, button type, etc.
	Name        string `json:"name,omitempty"`
	Label       string `json:"label,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Text        string `json:"text,omitempty"`
	Value       string `json:"value,omitempty"`
	Href        string `json:"href,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Selector    string `json:"selector"` // CSS selector usable by the driver.
}

// PageObservation is a point-in-time snapshot of the page as the agent sees
// it: URL, title, visible text, the numbered element inventory, and an
// optional downscaled screenshot.
type PageObservation struct {
	URL            string               `json:"url"`
	Title          string               `json:"title"`
	VisibleText    string               `json:"visible_text"`
	HTML           string               `json:"-"`
	Elements       []InteractiveElement `json:"elements"`
	ScreenshotPNG  []byte               `json:"-"`
	ScreenshotHash string               `json:"screenshot_hash,omitempty"`
	CapturedAt     time.Time            `json:"captured_at"`
}

// HasRegistrationForm reports whether the inventory contains both a password
// input and an email-like input, the cheapest structural signal that a
// registration form is on screen.
func (o *PageObservation) HasRegistrationForm() bool {
	var password, email bool
	for _, el := range o.Elements {
		switch el.ElementType {
		case "password":
			password = true
		case "email":
			email = true
		case "text":
			if containsAny(el.Name+" "+el.Placeholder+" "+el.Label, "email", "mail", "user") {
				email = true
			}
		}
	}
	return password && email
}

// BrowserDriver is the narrow contract the core holds against a browser
// automation backend. All calls are fallible and must honor ctx deadlines;
// the engine wraps every call in a per-call timeout.
type BrowserDriver interface {
	// Navigate loads url and waits for the document to settle.
	Navigate(ctx context.Context, url string) error
	// Observe captures the current PageObservation. withScreenshot controls
	// whether a (downscaled) screenshot is taken, since capture is expensive.
	Observe(ctx context.Context, withScreenshot bool) (*PageObservation, error)
	// Click dispatches a click on the element addressed by selector.
	Click(ctx context.Context, selector string) error
	// ClickByText finds a visible clickable element whose text matches and clicks it.
	ClickByText(ctx context.Context, text string) error
	// TypeText clears the field at selector and types value into it.
	TypeText(ctx context.Context, selector, value string) error
	// SetValue assigns the field value via a synthetic property set and fires
	// input/change events, for reactive UIs that swallow raw keystrokes.
	SetValue(ctx context.Context, selector, value string) error
	// ReadValue reads back the current value of the field at selector.
	ReadValue(ctx context.Context, selector string) (string, error)
	// SelectOption picks the option with the given value/label in a <select>.
	SelectOption(ctx context.Context, selector, value string) error
	// Scroll scrolls the viewport vertically by the given pixel delta.
	Scroll(ctx context.Context, pixels int) error
	// DismissOverlays opportunistically closes cookie banners, modals and
	// chat widgets. Best effort; errors are swallowed by callers.
	DismissOverlays(ctx context.Context) error
	// CurrentURL returns the document URL without a full observation.
	CurrentURL(ctx context.Context) (string, error)
	// Close releases the underlying browser resources.
	Close() error
}

func containsAny(haystack string, needles ...string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
