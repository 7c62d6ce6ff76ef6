package reason

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/config"
)

// geminiProvider talks to the Gemini generateContent REST API.
type geminiProvider struct {
	apiKey       string
	endpoint     string // base endpoint; model is substituted per call
	httpClient   *http.Client
	logger       *zap.Logger
	cfg          config.ReasonerConfig
	maxRetryTime time.Duration
}

// -- Gemini API request/response structures (internal to this file) --

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig,omitempty"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func newGeminiProvider(cfg config.ReasonerConfig, logger *zap.Logger) (*geminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required (set LUREHOUND_REASONER_API_KEY)")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com/v1beta/models"
	}
	return &geminiProvider{
		apiKey:       cfg.APIKey,
		endpoint:     endpoint,
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.APITimeout},
		logger:       logger.Named("reason.gemini"),
		maxRetryTime: cfg.MaxRetryTime,
	}, nil
}

func (p *geminiProvider) generate(ctx context.Context, req generationRequest) (string, schemas.Usage, error) {
	payload := p.buildRequestPayload(req)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", schemas.Usage{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", p.endpoint, req.Model)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = p.maxRetryTime
	b.MaxInterval = 30 * time.Second

	var (
		content string
		usage   schemas.Usage
	)
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", p.apiKey)

		startTime := time.Now()
		resp, err := p.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			p.logger.Warn("Network error during reasoning request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return p.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload geminiResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(responsePayload.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := responsePayload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (reason: %s)", candidate.FinishReason)
		}

		p.logger.Info("Reasoning call complete (Gemini)",
			zap.String("model", req.Model),
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
		)

		content = candidate.Content.Parts[0].Text
		usage = schemas.Usage{
			Model:        req.Model,
			InputTokens:  responsePayload.UsageMetadata.PromptTokenCount,
			OutputTokens: responsePayload.UsageMetadata.CandidatesTokenCount,
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", schemas.Usage{}, err
	}
	return content, usage, nil
}

func (p *geminiProvider) buildRequestPayload(req generationRequest) geminiRequestPayload {
	parts := []geminiPart{}
	if len(req.ImagePNG) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: "image/png",
			Data:     base64.StdEncoding.EncodeToString(req.ImagePNG),
		}})
	}
	parts = append(parts, geminiPart{Text: req.UserPrompt})

	genConfig := geminiGenerationConfig{
		Temperature:     p.cfg.Temperature,
		MaxOutputTokens: p.cfg.MaxTokens,
	}
	if req.JSONMode {
		genConfig.ResponseMimeType = "application/json"
	}

	return geminiRequestPayload{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		SystemInstruction: &geminiSystemInstruction{
			Parts: []geminiPart{{Text: req.SystemPrompt}},
		},
		GenerationConfig: genConfig,
	}
}

func (p *geminiProvider) handleAPIError(statusCode int, body []byte) error {
	kind := errorKind(statusCode)
	p.logger.Error("Gemini API returned error status",
		zap.Int("status", statusCode), zap.String("kind", kind),
		zap.Int("body_bytes", len(body)))
	err := fmt.Errorf("gemini API error: %s (status %d, %d byte body)", kind, statusCode, len(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient; retry.
	default:
		return backoff.Permanent(err)
	}
}

func (p *geminiProvider) close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
