// Package provider selects the ai.ContentProvider backend from config.
package provider

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/portfolio-engine/internal/ai"
	"github.com/kiranshivaraju/portfolio-engine/internal/ai/anthropic"
	"github.com/kiranshivaraju/portfolio-engine/internal/ai/gemini"
	"github.com/kiranshivaraju/portfolio-engine/internal/ai/mock"
	"github.com/kiranshivaraju/portfolio-engine/internal/config"
)

// New constructs the content provider named by cfg.Provider. Called once at
// startup.
func New(ctx context.Context, cfg config.AIConfig) (ai.ContentProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	case "gemini":
		return gemini.NewProvider(ctx, cfg.Gemini, "")
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of anthropic, gemini, mock", cfg.Provider)
	}
}
