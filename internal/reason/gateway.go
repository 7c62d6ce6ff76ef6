package reason

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Gateway implements schemas.Reasoner on top of a provider transport. One
// Gateway is shared by all concurrent investigations: its rate limiter is
// the only reasoning state sessions share.
type Gateway struct {
	provider provider
	cfg      config.ReasonerConfig
	limiter  *rate.Limiter
	logger   *zap.Logger
}

var _ schemas.Reasoner = (*Gateway)(nil)

func newGateway(p provider, cfg config.ReasonerConfig, logger *zap.Logger) *Gateway {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Gateway{
		provider: p,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		logger:   logger.Named("reason"),
	}
}

// modelFor picks the configured model for the request mode.
func (g *Gateway) modelFor(mode schemas.ReasonMode) string {
	if mode == schemas.ReasonVision {
		return g.cfg.VisionModel
	}
	return g.cfg.TextModel
}

// AnalyzePage submits one page snapshot and returns one structured action.
func (g *Gateway) AnalyzePage(ctx context.Context, req schemas.PageRequest) (schemas.Action, schemas.Usage, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return schemas.Action{}, schemas.Usage{}, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	gen := generationRequest{
		Model:        g.modelFor(req.Mode),
		SystemPrompt: coalesce(req.SystemPrompt, systemPrompt),
		UserPrompt:   buildUserPrompt(req),
		JSONMode:     true,
	}
	if req.Mode == schemas.ReasonVision {
		gen.ImagePNG = req.ScreenshotPNG
	}

	raw, usage, err := g.provider.generate(ctx, gen)
	if err != nil {
		return schemas.Action{}, usage, fmt.Errorf("reasoning call failed: %w", err)
	}

	action, err := parseAction(raw)
	if err != nil {
		g.logger.Error("Unparseable reasoner response",
			zap.Error(err), zap.String("raw", truncate(raw, 500)))
		return schemas.Action{
			Type:       schemas.ActionStuck,
			Rationale:  fmt.Sprintf("unparseable reasoner response: %v", err),
			Confidence: 1,
		}, usage, nil
	}

	g.logger.Info("Reasoner action",
		zap.String("mode", string(req.Mode)),
		zap.String("action", string(action.Type)),
		zap.String("selector", truncate(action.Selector, 80)),
		zap.Float64("confidence", action.Confidence))
	return action, usage, nil
}

// BatchFill asks for every form-fill action in one call. A failure or an
// empty result degrades to a single stuck action so the caller can fall
// back to one-action-at-a-time mode.
func (g *Gateway) BatchFill(ctx context.Context, req schemas.PageRequest, identity schemas.Identity) ([]schemas.Action, schemas.Usage, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, schemas.Usage{}, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	extra := identityContext(identity)
	if req.ExtraContext != "" {
		extra = req.ExtraContext + "\n" + extra
	}
	batchReq := req
	batchReq.ExtraContext = extra

	gen := generationRequest{
		Model:        g.modelFor(req.Mode),
		SystemPrompt: systemPrompt + batchFillAddendum,
		UserPrompt: buildUserPrompt(batchReq) +
			"\nReturn ALL form-fill actions as a JSON array. Only type, select and checkbox click actions.",
		JSONMode: true,
	}
	if req.Mode == schemas.ReasonVision {
		gen.ImagePNG = req.ScreenshotPNG
	}

	raw, usage, err := g.provider.generate(ctx, gen)
	if err != nil {
		return nil, usage, fmt.Errorf("batch reasoning call failed: %w", err)
	}

	actions, err := parseBatch(raw)
	if err != nil {
		g.logger.Error("Unparseable batch response",
			zap.Error(err), zap.String("raw", truncate(raw, 500)))
		return []schemas.Action{{
			Type:       schemas.ActionStuck,
			Rationale:  fmt.Sprintf("unparseable batch response: %v", err),
			Confidence: 1,
		}}, usage, nil
	}

	g.logger.Info("Batch fill resolved", zap.Int("actions", len(actions)))
	return actions, usage, nil
}

// Close releases the provider transport.
func (g *Gateway) Close() error { return g.provider.close() }

// rawAction tolerates the model's loose output: "reasoning" instead of
// "rationale", and non-string values (wallet arrays) in "value".
type rawAction struct {
	Action     string              `json:"action"`
	Selector   string              `json:"selector"`
	Value      jsoniter.RawMessage `json:"value"`
	Rationale  string              `json:"rationale"`
	Reasoning  string              `json:"reasoning"`
	Confidence float64             `json:"confidence"`
}

var validActionTypes = map[schemas.ActionType]bool{
	schemas.ActionClick:    true,
	schemas.ActionTypeText: true,
	schemas.ActionSelect:   true,
	schemas.ActionScroll:   true,
	schemas.ActionNavigate: true,
	schemas.ActionWait:     true,
	schemas.ActionExtract:  true,
	schemas.ActionDone:     true,
	schemas.ActionStuck:    true,
}

func parseAction(raw string) (schemas.Action, error) {
	text := stripFences(raw)

	var ra rawAction
	if err := json.UnmarshalFromString(text, &ra); err != nil {
		return schemas.Action{}, fmt.Errorf("decoding action: %w", err)
	}
	return convertAction(ra)
}

func convertAction(ra rawAction) (schemas.Action, error) {
	at := schemas.ActionType(strings.ToLower(strings.TrimSpace(ra.Action)))
	if !validActionTypes[at] {
		return schemas.Action{}, fmt.Errorf("unknown action type %q", ra.Action)
	}

	rationale := ra.Rationale
	if rationale == "" {
		rationale = ra.Reasoning
	}

	action := schemas.Action{
		Type:       at,
		Selector:   ra.Selector,
		Value:      decodeValue(ra.Value),
		Rationale:  rationale,
		Confidence: ra.Confidence,
	}
	action.ClampConfidence()
	return action, nil
}

// decodeValue unwraps a JSON string value; anything else (array, object,
// number) is kept as its raw JSON text.
func decodeValue(raw jsoniter.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func parseBatch(raw string) ([]schemas.Action, error) {
	text := stripFences(raw)

	var items []rawAction
	if err := json.UnmarshalFromString(text, &items); err != nil {
		// Accidental object wrapper: {"actions": [...]}.
		var wrapper map[string]jsoniter.RawMessage
		if werr := json.UnmarshalFromString(text, &wrapper); werr != nil {
			return nil, fmt.Errorf("decoding batch: %w", err)
		}
		found := false
		for _, key := range []string{"actions", "fills", "fields"} {
			if inner, ok := wrapper[key]; ok {
				if err := json.Unmarshal(inner, &items); err != nil {
					return nil, fmt.Errorf("decoding batch %q list: %w", key, err)
				}
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("batch object had no recognized action list")
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("batch was empty")
	}

	actions := make([]schemas.Action, 0, len(items))
	for _, ra := range items {
		action, err := convertAction(ra)
		if err != nil {
			continue // skip malformed items, keep the rest
		}
		// Batch mode only fills forms.
		switch action.Type {
		case schemas.ActionTypeText, schemas.ActionSelect, schemas.ActionClick:
			actions = append(actions, action)
		}
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("batch produced no usable fill actions")
	}
	return actions, nil
}

// stripFences removes a Markdown code fence wrapper if present.
func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	parts := strings.SplitN(text, "```", 3)
	if len(parts) < 2 {
		return text
	}
	text = parts[1]
	text = strings.TrimPrefix(text, "json")
	return strings.TrimSpace(text)
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
