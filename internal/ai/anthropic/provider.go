package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kiranshivaraju/portfolio-engine/internal/ai"
	"github.com/kiranshivaraju/portfolio-engine/internal/config"
)

const (
	extractMaxTokens   = 4096
	narrativeMaxTokens = 1500
	enhanceMaxTokens   = 300
)

// Provider implements ai.ContentProvider using Anthropic's Messages API.
// Image generation is not offered.
type Provider struct {
	client sdk.Client
	model  string
}

// NewProvider builds a Provider. Extra request options are appended after the
// API key, which lets tests point the client at a local server.
func NewProvider(cfg config.AnthropicConfig, opts ...option.RequestOption) *Provider {
	all := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	return &Provider{
		client: sdk.NewClient(all...),
		model:  cfg.Model,
	}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Extract(ctx context.Context, text string) ([]byte, error) {
	reply, err := p.complete(ctx, ai.ExtractionSystem, ai.ExtractionPrompt(text), extractMaxTokens)
	if err != nil {
		return nil, err
	}
	return ai.ExtractJSON(reply)
}

func (p *Provider) Narrate(ctx context.Context, req ai.NarrativeRequest) (ai.Narrative, error) {
	reply, err := p.complete(ctx, ai.NarrativeSystem, ai.NarrativePrompt(req), narrativeMaxTokens)
	if err != nil {
		return ai.Narrative{}, err
	}
	return ai.DecodeNarrative(reply)
}

func (p *Provider) Enhance(ctx context.Context, req ai.EnhanceRequest) (string, error) {
	reply, err := p.complete(ctx, ai.EnhanceSystem, ai.EnhancePrompt(req), enhanceMaxTokens)
	if err != nil {
		return "", err
	}
	statement := ai.CleanStatement(reply)
	if statement == "" {
		return "", fmt.Errorf("%w: empty statement", ai.ErrInvalidResponse)
	}
	return statement, nil
}

func (p *Provider) GenerateImage(_ context.Context, _ ai.ImageRequest) (ai.ImageResult, error) {
	return ai.ImageResult{}, ai.ErrUnsupported
}

func (p *Provider) complete(ctx context.Context, system, prompt string, maxTokens int64) (string, error) {
	msg, err := p.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: maxTokens,
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", classify(ctx, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no text content (stop reason %s)", ai.ErrInvalidResponse, msg.StopReason)
	}
	return sb.String(), nil
}

// classify maps SDK failures onto the ai error sentinels.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ai.ErrInferenceTimeout, err)
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%w: anthropic status %d", ai.ErrRequestRejected, apiErr.StatusCode)
		}
	}
	return fmt.Errorf("%w: %v", ai.ErrProviderUnavailable, err)
}

var _ ai.ContentProvider = (*Provider)(nil)
