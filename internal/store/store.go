package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid run status transition")

// ErrStatusConflict is returned when a run changed status between the read
// and the conditional update of a transition.
var ErrStatusConflict = errors.New("run status changed concurrently")

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// RunStore persists pipeline runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.PipelineRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error)
	GetLatestRun(ctx context.Context, userID string, step models.StepKind) (*models.PipelineRun, error)
	ListLatestRuns(ctx context.Context, userID string) ([]*models.PipelineRun, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus, opts ...RunUpdateOption) error
}

// PortfolioStore persists the records pipeline steps read and write.
type PortfolioStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)

	ReplaceExtraction(ctx context.Context, userID string, exps []models.WorkExperience, achievements []models.Achievement, skills []models.Skill) error
	ListWorkExperiences(ctx context.Context, userID string) ([]models.WorkExperience, error)
	UpdateWorkExperienceLogo(ctx context.Context, id uuid.UUID, url, provider string, fallback bool) error

	ListAchievements(ctx context.Context, userID string) ([]models.Achievement, error)
	UpdateAchievements(ctx context.Context, achievements []models.Achievement) error
	CreateRanking(ctx context.Context, ranking *models.AchievementRanking) error
	GetLatestRanking(ctx context.Context, userID string) (*models.AchievementRanking, error)

	ListSkills(ctx context.Context, userID string) ([]models.Skill, error)
	ReplaceSkillOffers(ctx context.Context, userID string, offers []models.SkillOffer) error
	ListSkillOffers(ctx context.Context, userID string) ([]models.SkillOffer, error)

	CreateStory(ctx context.Context, story *models.Story) error
	GetLatestStory(ctx context.Context, userID string) (*models.Story, error)

	CreateGeneratedImage(ctx context.Context, img *models.GeneratedImage) error
	ListGeneratedImages(ctx context.Context, userID string) ([]models.GeneratedImage, error)

	UpsertCompletenessRecords(ctx context.Context, records []models.CompletenessRecord) error
	ListCompletenessRecords(ctx context.Context, userID string) ([]models.CompletenessRecord, error)

	GetResolvedAsset(ctx context.Context, key string) (*models.ResolvedAsset, error)
	UpsertResolvedAsset(ctx context.Context, asset *models.ResolvedAsset) error
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	RunStore
	PortfolioStore
}

// RunUpdate carries the optional fields of a status transition.
type RunUpdate struct {
	ErrorMessage *string
	Output       *models.StepOutput
	Attempts     *int
}

type RunUpdateOption func(*RunUpdate)

// ApplyRunUpdateOptions folds opts into a RunUpdate.
func ApplyRunUpdateOptions(opts ...RunUpdateOption) RunUpdate {
	var u RunUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithErrorMessage(msg string) RunUpdateOption {
	return func(p *RunUpdate) {
		p.ErrorMessage = &msg
	}
}

func WithOutput(out models.StepOutput) RunUpdateOption {
	return func(p *RunUpdate) {
		p.Output = &out
	}
}

func WithAttempts(n int) RunUpdateOption {
	return func(p *RunUpdate) {
		p.Attempts = &n
	}
}

// validTransitions lists the target states reachable from each state. A
// write of the current state is always accepted as a no-op.
var validTransitions = map[models.RunStatus][]models.RunStatus{
	models.RunStatusQueued:  {models.RunStatusRunning, models.RunStatusCanceled, models.RunStatusFailed},
	models.RunStatusRunning: {models.RunStatusSucceeded, models.RunStatusFailed, models.RunStatusQueued},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to models.RunStatus) bool {
	if from == to {
		return true
	}
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
