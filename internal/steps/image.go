package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/internal/ai"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// ImageGeneration produces a portrait from the profile photo in a setting
// picked from the user's headline.
type ImageGeneration struct {
	store     store.PortfolioStore
	generator ai.ImageGenerator
	provider  string
	call      func(context.Context) (context.Context, context.CancelFunc)
	now       func() time.Time
}

// DefaultArchetype is used when no headline keyword matches.
const DefaultArchetype = "editorial"

var archetypes = []struct {
	archetype string
	keywords  []string
}{
	{"boardroom", []string{"founder", "ceo", "cto", "chief", "vp", "vice president", "director", "head of", "executive"}},
	{"creative-studio", []string{"design", "artist", "creative", "photograph", "writer", "illustrat"}},
	{"laboratory", []string{"scien", "research", "data", "analyst", "machine learning"}},
	{"tech-workspace", []string{"engineer", "developer", "programmer", "architect", "devops", "sre"}},
	{"city-street", []string{"marketing", "sales", "growth", "brand", "consult"}},
}

// ArchetypeFor picks the portrait archetype for a headline.
func ArchetypeFor(headline string) string {
	h := strings.ToLower(headline)
	for _, a := range archetypes {
		for _, k := range a.keywords {
			if strings.Contains(h, k) {
				return a.archetype
			}
		}
	}
	return DefaultArchetype
}

func (s *ImageGeneration) Execute(ctx context.Context, job models.Job) (models.StepOutput, error) {
	profile, err := s.store.GetProfile(ctx, job.UserID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("no profile for image generation", "user_id", job.UserID)
		return models.NoOp(models.StepImageGeneration, "no profile"), nil
	}
	if err != nil {
		return models.StepOutput{}, fmt.Errorf("load profile: %w", err)
	}
	if profile.PhotoHandle == "" {
		slog.Warn("profile has no photo", "user_id", job.UserID)
		return models.NoOp(models.StepImageGeneration, "no profile photo"), nil
	}

	archetype := ArchetypeFor(profile.Headline)
	callCtx, cancel := s.call(ctx)
	res, err := s.generator.GenerateImage(callCtx, ai.ImageRequest{PhotoHandle: profile.PhotoHandle, Archetype: archetype})
	cancel()
	if errors.Is(err, ai.ErrUnsupported) {
		slog.Warn("content provider cannot generate images", "user_id", job.UserID, "provider", s.provider)
		return models.NoOp(models.StepImageGeneration, "image generation not supported by provider"), nil
	}
	if err != nil {
		return models.StepOutput{}, providerError("generate image", err)
	}

	img := &models.GeneratedImage{
		ID:        uuid.New(),
		UserID:    job.UserID,
		Archetype: archetype,
		Handle:    res.Handle,
		Provider:  s.provider,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateGeneratedImage(ctx, img); err != nil {
		return models.StepOutput{}, fmt.Errorf("create generated image: %w", err)
	}

	slog.Info("image generated", "user_id", job.UserID, "image_id", img.ID, "archetype", archetype)
	return models.StepOutput{
		Kind:  models.StepImageGeneration,
		Image: &models.ImageOutput{ImageID: img.ID, Archetype: archetype, Handle: img.Handle},
	}, nil
}
