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

// ollamaProvider talks to a local Ollama daemon, for development without
// cloud spend. Vision calls need a multimodal local model.
type ollamaProvider struct {
	endpoint     string
	httpClient   *http.Client
	logger       *zap.Logger
	cfg          config.ReasonerConfig
	maxRetryTime time.Duration
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func newOllamaProvider(cfg config.ReasonerConfig, logger *zap.Logger) *ollamaProvider {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://127.0.0.1:11434"
	}
	return &ollamaProvider{
		endpoint:     endpoint,
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.APITimeout},
		logger:       logger.Named("reason.ollama"),
		maxRetryTime: cfg.MaxRetryTime,
	}
}

func (p *ollamaProvider) generate(ctx context.Context, req generationRequest) (string, schemas.Usage, error) {
	userMsg := ollamaMessage{Role: "user", Content: req.UserPrompt}
	if len(req.ImagePNG) > 0 {
		userMsg.Images = []string{base64.StdEncoding.EncodeToString(req.ImagePNG)}
	}

	payload := ollamaChatRequest{
		Model: req.Model,
		Messages: []ollamaMessage{
			{Role: "system", Content: req.SystemPrompt},
			userMsg,
		},
		Stream:  false,
		Options: map[string]any{"temperature": p.cfg.Temperature, "num_predict": p.cfg.MaxTokens},
	}
	if req.JSONMode {
		payload.Format = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", schemas.Usage{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = p.maxRetryTime

	var (
		content string
		usage   schemas.Usage
	)
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.endpoint+"/api/chat", bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(httpReq)
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
			kind := errorKind(resp.StatusCode)
			p.logger.Error("Ollama API returned error status",
				zap.Int("status", resp.StatusCode), zap.String("kind", kind),
				zap.Int("body_bytes", len(respBody)))
			err := fmt.Errorf("ollama API error: %s (status %d, %d byte body)", kind, resp.StatusCode, len(respBody))
			if resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}

		var chat ollamaChatResponse
		if err := json.Unmarshal(respBody, &chat); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		content = chat.Message.Content
		usage = schemas.Usage{
			Model:        req.Model,
			InputTokens:  chat.PromptEvalCount,
			OutputTokens: chat.EvalCount,
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", schemas.Usage{}, err
	}
	return content, usage, nil
}

func (p *ollamaProvider) close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
