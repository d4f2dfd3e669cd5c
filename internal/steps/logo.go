package steps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/portfolio-engine/internal/resolver"
	"github.com/kiranshivaraju/portfolio-engine/internal/resolver/logo"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// LogoResolution resolves a logo for every employer that lacks one. An
// employer nobody has a logo for is left alone; it never fails the step.
type LogoResolution struct {
	store    store.PortfolioStore
	resolver LogoResolver
	chain    []resolver.Provider
}

func (s *LogoResolution) Execute(ctx context.Context, job models.Job) (models.StepOutput, error) {
	exps, err := s.store.ListWorkExperiences(ctx, job.UserID)
	if err != nil {
		return models.StepOutput{}, fmt.Errorf("list work experiences: %w", err)
	}
	if len(exps) == 0 {
		slog.Warn("no work experiences to resolve logos for", "user_id", job.UserID)
		return models.NoOp(models.StepLogoResolution, "no work experiences"), nil
	}

	out := &models.LogoOutput{Providers: map[string]int{}}
	for _, exp := range exps {
		if exp.LogoURL != nil && *exp.LogoURL != "" {
			continue
		}
		domain := logo.DomainFor(exp.Company, exp.Domain)
		if domain == "" {
			slog.Debug("no domain for employer", "user_id", job.UserID, "company", exp.Company)
			continue
		}
		out.Attempted++

		res := s.resolver.Resolve(ctx, logo.Key(domain), s.chain)
		if err := ctx.Err(); err != nil {
			return models.StepOutput{}, err
		}
		if !res.Found {
			continue
		}
		if err := s.store.UpdateWorkExperienceLogo(ctx, exp.ID, res.Value, res.Provider, res.Fallback); err != nil {
			return models.StepOutput{}, fmt.Errorf("save logo for %s: %w", exp.Company, err)
		}
		out.Resolved++
		out.Providers[res.Provider]++
		if res.Fallback {
			out.Fallbacks++
		}
	}

	slog.Info("logo resolution complete", "user_id", job.UserID,
		"attempted", out.Attempted, "resolved", out.Resolved, "fallbacks", out.Fallbacks)
	return models.StepOutput{Kind: models.StepLogoResolution, Logo: out}, nil
}
