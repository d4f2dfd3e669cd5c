package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/portfolio-engine/internal/completeness"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// Completeness measures every section and replaces the user's records.
type Completeness struct {
	store store.PortfolioStore
	now   func() time.Time
}

func (s *Completeness) Execute(ctx context.Context, job models.Job) (models.StepOutput, error) {
	in, err := s.inputs(ctx, job.UserID)
	if err != nil {
		return models.StepOutput{}, err
	}

	records := completeness.Evaluate(job.UserID, in, s.now().UTC())
	if err := s.store.UpsertCompletenessRecords(ctx, records); err != nil {
		return models.StepOutput{}, fmt.Errorf("upsert completeness records: %w", err)
	}

	sections := make(map[models.Section]models.Strategy, len(records))
	for _, r := range records {
		sections[r.Section] = r.Strategy
	}
	slog.Info("completeness evaluated", "user_id", job.UserID, "sections", len(records))
	return models.StepOutput{Kind: models.StepCompleteness, Completeness: &models.CompletenessOutput{Sections: sections}}, nil
}

func (s *Completeness) inputs(ctx context.Context, userID string) (completeness.Inputs, error) {
	var in completeness.Inputs
	var err error

	if in.Achievements, err = s.store.ListAchievements(ctx, userID); err != nil {
		return in, fmt.Errorf("list achievements: %w", err)
	}
	if in.Images, err = s.store.ListGeneratedImages(ctx, userID); err != nil {
		return in, fmt.Errorf("list generated images: %w", err)
	}
	if in.WorkExperiences, err = s.store.ListWorkExperiences(ctx, userID); err != nil {
		return in, fmt.Errorf("list work experiences: %w", err)
	}
	if in.Skills, err = s.store.ListSkills(ctx, userID); err != nil {
		return in, fmt.Errorf("list skills: %w", err)
	}
	if in.Offers, err = s.store.ListSkillOffers(ctx, userID); err != nil {
		return in, fmt.Errorf("list skill offers: %w", err)
	}
	story, err := s.store.GetLatestStory(ctx, userID)
	switch {
	case err == nil:
		in.Story = story
	case !errors.Is(err, store.ErrNotFound):
		return in, fmt.Errorf("load story: %w", err)
	}
	return in, nil
}
