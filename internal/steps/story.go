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
	"github.com/kiranshivaraju/portfolio-engine/internal/scoring"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// Story writes the portfolio narrative from the user's role and top
// achievements.
type Story struct {
	store    store.PortfolioStore
	narrator ai.Narrator
	provider string
	call     func(context.Context) (context.Context, context.CancelFunc)
	now      func() time.Time
}

func (s *Story) Execute(ctx context.Context, job models.Job) (models.StepOutput, error) {
	achievements, err := s.store.ListAchievements(ctx, job.UserID)
	if err != nil {
		return models.StepOutput{}, fmt.Errorf("list achievements: %w", err)
	}
	if len(achievements) == 0 {
		slog.Warn("no achievements to write a story from", "user_id", job.UserID)
		return models.NoOp(models.StepStory, "no achievements"), nil
	}

	req := ai.NarrativeRequest{}
	profile, err := s.store.GetProfile(ctx, job.UserID)
	switch {
	case err == nil:
		req.DisplayName = profile.DisplayName
		req.Headline = profile.Headline
	case errors.Is(err, store.ErrNotFound):
		slog.Warn("no profile for story, using work history", "user_id", job.UserID)
	default:
		return models.StepOutput{}, fmt.Errorf("load profile: %w", err)
	}
	if req.Headline == "" {
		req.Headline, err = s.latestTitle(ctx, job.UserID)
		if err != nil {
			return models.StepOutput{}, err
		}
	}
	for _, r := range scoring.SelectTop(achievements) {
		req.Achievements = append(req.Achievements, statementOf(r.Achievement))
	}

	callCtx, cancel := s.call(ctx)
	n, err := s.narrator.Narrate(callCtx, req)
	cancel()
	if err != nil {
		return models.StepOutput{}, providerError("narrate", err)
	}

	story := &models.Story{
		ID:         uuid.New(),
		UserID:     job.UserID,
		Opener:     strings.TrimSpace(n.Opener),
		Paragraphs: n.Paragraphs,
		Quote:      strings.TrimSpace(n.Quote),
		Provider:   s.provider,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateStory(ctx, story); err != nil {
		return models.StepOutput{}, fmt.Errorf("create story: %w", err)
	}

	slog.Info("story written", "user_id", job.UserID, "story_id", story.ID, "paragraphs", len(story.Paragraphs))
	return models.StepOutput{
		Kind:  models.StepStory,
		Story: &models.StoryOutput{StoryID: story.ID, Paragraphs: len(story.Paragraphs)},
	}, nil
}

func (s *Story) latestTitle(ctx context.Context, userID string) (string, error) {
	exps, err := s.store.ListWorkExperiences(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list work experiences: %w", err)
	}
	for _, e := range exps {
		if e.Title != "" {
			return e.Title, nil
		}
	}
	return "", nil
}

// statementOf prefers the enhanced impact statement over the raw claim.
func statementOf(a models.Achievement) string {
	if a.ImpactStatement != nil && strings.TrimSpace(*a.ImpactStatement) != "" {
		return *a.ImpactStatement
	}
	return a.RawText
}
