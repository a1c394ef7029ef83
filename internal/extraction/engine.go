package extraction

import (
	"context"
	"fmt"

	"docdigitizer/internal/config"
	"docdigitizer/internal/models"
)

// PageImage is the payload of one page handed to an engine.
type PageImage struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Engine turns page images into structured fields. Multi-page mode treats all
// pages as one logical document and returns a single result. Every failure,
// including unparseable output, is reported as an apperr engine error.
type Engine interface {
	Extract(ctx context.Context, pages []PageImage, multiPage bool) (models.StructuredFields, error)
}

// New builds the engine selected by cfg.Provider.
func New(ctx context.Context, cfg config.EngineConfig) (Engine, error) {
	switch cfg.Provider {
	case "gemini", "vertex":
		if cfg.Framework == "eino" {
			return NewEinoEngine(ctx, cfg)
		}
		return NewGenAIEngine(ctx, cfg)
	case "openai", "claude":
		return NewEinoEngine(ctx, cfg)
	default:
		return nil, fmt.Errorf("invalid engine provider: %s", cfg.Provider)
	}
}
