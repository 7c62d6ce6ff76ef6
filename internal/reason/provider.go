// Package reason wraps the reasoning backends behind a single gateway
// that the decision cascade calls. Providers are dumb transports; the
// gateway owns rate limiting, parsing, and usage accounting.
package reason

import (
	"context"
	"net/http"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

// generationRequest is the provider-level request shape.
type generationRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	// ImagePNG, when set, makes this a multimodal call.
	ImagePNG []byte
	JSONMode bool
}

// errorKind labels an upstream HTTP failure. Response bodies are never
// logged or wrapped into errors; they can carry keys or internal paths.
func errorKind(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth_rejected"
	case status == http.StatusNotFound:
		return "not_found"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "bad_request"
	default:
		return "unexpected_status"
	}
}

// provider is a concrete reasoning backend transport.
type provider interface {
	// generate returns the raw model text plus token usage.
	generate(ctx context.Context, req generationRequest) (string, schemas.Usage, error)
	// close releases transport resources.
	close() error
}
