package steps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/internal/ai"
	"github.com/kiranshivaraju/portfolio-engine/internal/scoring"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// AchievementScoring enhances eligible achievements, scores and ranks all of
// them and writes a new ranking snapshot. Enhancement is best effort: a
// failed or rejected rewrite leaves the achievement as it was.
type AchievementScoring struct {
	store    store.PortfolioStore
	enhancer ai.Enhancer
	call     func(context.Context) (context.Context, context.CancelFunc)
	now      func() time.Time
}

func (s *AchievementScoring) Execute(ctx context.Context, job models.Job) (models.StepOutput, error) {
	achievements, err := s.store.ListAchievements(ctx, job.UserID)
	if err != nil {
		return models.StepOutput{}, fmt.Errorf("list achievements: %w", err)
	}
	if len(achievements) == 0 {
		slog.Warn("no achievements to score, writing empty ranking", "user_id", job.UserID)
	}

	enhanced := 0
	for i := range achievements {
		ok, err := s.enhance(ctx, &achievements[i])
		if err != nil {
			return models.StepOutput{}, err
		}
		if ok {
			enhanced++
		}
	}

	ranked := scoring.Rank(achievements)
	scored := make([]models.Achievement, 0, len(ranked))
	for _, r := range ranked {
		a := r.Achievement
		a.Score = r.Breakdown.Total
		a.EvidenceScore = r.Breakdown.EvidenceStrength
		scored = append(scored, a)
	}
	if err := s.store.UpdateAchievements(ctx, scored); err != nil {
		return models.StepOutput{}, fmt.Errorf("update achievements: %w", err)
	}

	snapshot := scoring.Snapshot(job.UserID, ranked, s.now().UTC())
	if err := s.store.CreateRanking(ctx, &snapshot); err != nil {
		return models.StepOutput{}, fmt.Errorf("create ranking: %w", err)
	}

	top := make([]uuid.UUID, 0, scoring.TopN)
	for _, r := range ranked {
		if len(top) == scoring.TopN {
			break
		}
		top = append(top, r.Achievement.ID)
	}

	slog.Info("achievements scored", "user_id", job.UserID, "scored", len(ranked), "enhanced", enhanced, "ranking_id", snapshot.ID)
	return models.StepOutput{
		Kind: models.StepAchievementScoring,
		Scoring: &models.ScoringOutput{
			RankingID: snapshot.ID,
			Scored:    len(ranked),
			Enhanced:  enhanced,
			Top:       top,
		},
	}, nil
}

// enhance rewrites a into an impact statement when it needs one. Only
// cancellation of ctx is returned as an error.
func (s *AchievementScoring) enhance(ctx context.Context, a *models.Achievement) (bool, error) {
	if !scoring.NeedsEnhancement(*a) {
		return false, nil
	}
	mode, _, _ := scoring.ProvenanceFor(*a)

	callCtx, cancel := s.call(ctx)
	statement, err := s.enhancer.Enhance(callCtx, ai.EnhanceRequest{Text: a.RawText, Metric: a.Metric, Mode: mode})
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		level := slog.LevelWarn
		if !ai.Retryable(err) {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "enhancement failed, keeping raw text", "achievement_id", a.ID, "error", err)
		return false, nil
	}

	if err := scoring.ApplyEnhancement(a, statement); err != nil {
		slog.Warn("enhancement rejected", "achievement_id", a.ID, "error", err)
		return false, nil
	}
	return true, nil
}
