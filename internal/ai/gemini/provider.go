package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/portfolio-engine/internal/ai"
	"github.com/kiranshivaraju/portfolio-engine/internal/config"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// Provider implements ai.ContentProvider on the Gemini API. Text calls use
// GenerateContent; portraits use the Imagen model.
type Provider struct {
	client     *genai.Client
	model      string
	imageModel string
}

// NewProvider creates a Provider. baseURL overrides the API endpoint and is
// empty outside tests.
func NewProvider(ctx context.Context, cfg config.GeminiConfig, baseURL string) (*Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	return &Provider{client: client, model: model, imageModel: strings.TrimSpace(cfg.ImageModel)}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Extract(ctx context.Context, text string) ([]byte, error) {
	reply, err := p.generate(ctx, ai.ExtractionSystem, ai.ExtractionPrompt(text), true)
	if err != nil {
		return nil, err
	}
	return ai.ExtractJSON(reply)
}

func (p *Provider) Narrate(ctx context.Context, req ai.NarrativeRequest) (ai.Narrative, error) {
	reply, err := p.generate(ctx, ai.NarrativeSystem, ai.NarrativePrompt(req), true)
	if err != nil {
		return ai.Narrative{}, err
	}
	return ai.DecodeNarrative(reply)
}

func (p *Provider) Enhance(ctx context.Context, req ai.EnhanceRequest) (string, error) {
	reply, err := p.generate(ctx, ai.EnhanceSystem, ai.EnhancePrompt(req), false)
	if err != nil {
		return "", err
	}
	statement := ai.CleanStatement(reply)
	if statement == "" {
		return "", fmt.Errorf("%w: empty statement", ai.ErrInvalidResponse)
	}
	return statement, nil
}

// GenerateImage renders a portrait. The handle is the GCS URI when the API
// stored the image, otherwise a content digest of the returned bytes.
func (p *Provider) GenerateImage(ctx context.Context, req ai.ImageRequest) (ai.ImageResult, error) {
	if p.imageModel == "" {
		return ai.ImageResult{}, ai.ErrUnsupported
	}
	resp, err := p.client.Models.GenerateImages(ctx, p.imageModel, ai.ImagePrompt(req), &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return ai.ImageResult{}, classify(ctx, err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return ai.ImageResult{}, fmt.Errorf("%w: no image returned", ai.ErrInvalidResponse)
	}

	img := resp.GeneratedImages[0].Image
	if img.GCSURI != "" {
		return ai.ImageResult{Handle: img.GCSURI, MIMEType: img.MIMEType}, nil
	}
	if len(img.ImageBytes) == 0 {
		return ai.ImageResult{}, fmt.Errorf("%w: empty image", ai.ErrInvalidResponse)
	}
	sum := sha256.Sum256(img.ImageBytes)
	return ai.ImageResult{Handle: "sha256:" + hex.EncodeToString(sum[:]), MIMEType: img.MIMEType}, nil
}

func (p *Provider) generate(ctx context.Context, system, prompt string, jsonOut bool) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	if jsonOut {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", classify(ctx, err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || strings.TrimSpace(part.Text) == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(strings.TrimSpace(part.Text))
		}
	}

	output := builder.String()
	if output == "" {
		return "", fmt.Errorf("%w: gemini returned empty response", ai.ErrInvalidResponse)
	}
	return output, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ai.ErrInferenceTimeout, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%w: gemini status %d", ai.ErrRequestRejected, apiErr.Code)
		}
	}
	return fmt.Errorf("%w: %v", ai.ErrProviderUnavailable, err)
}

var _ ai.ContentProvider = (*Provider)(nil)
