package reason

import (
	"context"
	"fmt"
	"sync"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

// mockProvider replays scripted responses. It backs the "mock" provider
// setting for offline runs and is the test double for the gateway.
type mockProvider struct {
	mu        sync.Mutex
	responses []string
	calls     []generationRequest
	err       error
}

func newMockProvider(responses ...string) *mockProvider {
	return &mockProvider{responses: responses}
}

func (p *mockProvider) generate(_ context.Context, req generationRequest) (string, schemas.Usage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return "", schemas.Usage{}, p.err
	}
	if len(p.responses) == 0 {
		// Park the investigation rather than invent behavior.
		return `{"action": "stuck", "rationale": "mock provider has no scripted response", "confidence": 1.0}`,
			schemas.Usage{Model: req.Model}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, schemas.Usage{Model: req.Model, InputTokens: 100, OutputTokens: 50}, nil
}

func (p *mockProvider) close() error { return nil }

func (p *mockProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *mockProvider) lastCall() (generationRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return generationRequest{}, fmt.Errorf("no calls recorded")
	}
	return p.calls[len(p.calls)-1], nil
}
