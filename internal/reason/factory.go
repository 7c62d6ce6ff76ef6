package reason

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/config"
)

// NewReasoner builds the gateway for the configured provider.
func NewReasoner(cfg config.ReasonerConfig, logger *zap.Logger) (schemas.Reasoner, error) {
	var (
		p   provider
		err error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		p, err = newGeminiProvider(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini provider: %w", err)
		}
	case config.ProviderOllama:
		p = newOllamaProvider(cfg, logger)
	case config.ProviderMock:
		p = newMockProvider()
	default:
		return nil, fmt.Errorf("unknown reasoner provider %q", cfg.Provider)
	}

	logger.Named("reason").Info("Reasoner initialized",
		zap.String("provider", string(cfg.Provider)),
		zap.String("text_model", cfg.TextModel),
		zap.String("vision_model", cfg.VisionModel))
	return newGateway(p, cfg, logger), nil
}
