package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("portfolio_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newRun(userID string, step models.StepKind, created time.Time) *models.PipelineRun {
	return &models.PipelineRun{
		ID:        uuid.New(),
		UserID:    userID,
		Step:      step,
		Status:    models.RunStatusQueued,
		Input:     models.StepInput{DocumentID: "doc-1"},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGetByPrefix(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "backend",
		KeyHash:   "$2a$10$hash",
		KeyPrefix: "pe_abcd1",
		Scopes:    []string{"pipeline:write"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	assert.ErrorIs(t, s.CreateAPIKey(ctx, key), store.ErrDuplicateKey)

	keys, err := s.GetAPIKeyByPrefix(ctx, "pe_abcd1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{"pipeline:write"}, keys[0].Scopes)
	assert.Nil(t, keys[0].LastUsedAt)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "pe_abcd1")
	require.NoError(t, err)
	assert.NotNil(t, keys[0].LastUsedAt)
}

// --- Pipeline Run Tests ---

func TestRun_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	run := newRun("user-1", models.StepStory, time.Now().UTC())
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning))
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning), "same-state write is a no-op")

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusQueued,
		store.WithErrorMessage("provider unavailable"), store.WithAttempts(1)))
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning))

	out := models.StepOutput{Kind: models.StepStory, Story: &models.StoryOutput{StoryID: uuid.New(), Paragraphs: 3}}
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusSucceeded, store.WithOutput(out)))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.ErrorMessage)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Output)
	assert.Equal(t, out.Story.StoryID, got.Output.Story.StoryID)
	assert.Equal(t, "doc-1", got.Input.DocumentID)

	err = s.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestRun_LatestPerStep(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	older := newRun("user-1", models.StepIngest, base)
	newer := newRun("user-1", models.StepIngest, base.Add(time.Second))
	other := newRun("user-1", models.StepCompleteness, base)
	foreign := newRun("user-2", models.StepIngest, base.Add(time.Hour))
	for _, r := range []*models.PipelineRun{older, newer, other, foreign} {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	latest, err := s.GetLatestRun(ctx, "user-1", models.StepIngest)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	_, err = s.GetLatestRun(ctx, "user-1", models.StepStory)
	assert.ErrorIs(t, err, store.ErrNotFound)

	runs, err := s.ListLatestRuns(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []uuid.UUID{runs[0].ID, runs[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{newer.ID, other.ID}, ids)
}

func TestRun_CancelQueued(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	run := newRun("user-1", models.StepImageGeneration, time.Now().UTC())
	require.NoError(t, s.CreateRun(ctx, run))
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusCanceled))

	err := s.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

// --- Portfolio Tests ---

func TestExtraction_ReplaceAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	expID := uuid.New()
	exps := []models.WorkExperience{{ID: expID, Company: "Acme", Title: "Engineer", StartDate: "2020-01", CreatedAt: now}}
	achievements := []models.Achievement{
		{ID: uuid.New(), WorkExperienceID: &expID, RawText: "Grew revenue 40%", Metric: &models.Metric{Value: 40, Unit: "%", Scope: "company-wide"},
			Provenance: models.ProvenanceUser, Confidence: 1, Position: 0, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.New(), RawText: "Mentored interns", Provenance: models.ProvenanceUser, Confidence: 1, Position: 1, CreatedAt: now, UpdatedAt: now},
	}
	skills := []models.Skill{{ID: uuid.New(), Name: "Go", Category: "backend"}}

	require.NoError(t, s.ReplaceExtraction(ctx, "user-1", exps, achievements, skills))
	// A second ingest replaces rather than appends.
	require.NoError(t, s.ReplaceExtraction(ctx, "user-1", exps, achievements, skills))

	gotExps, err := s.ListWorkExperiences(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, gotExps, 1)
	assert.Equal(t, "Acme", gotExps[0].Company)
	assert.Nil(t, gotExps[0].LogoURL)

	require.NoError(t, s.UpdateWorkExperienceLogo(ctx, expID, "https://logo/acme.png", "clearbit", false))
	gotExps, err = s.ListWorkExperiences(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, gotExps[0].LogoURL)
	assert.Equal(t, "https://logo/acme.png", *gotExps[0].LogoURL)

	gotAch, err := s.ListAchievements(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, gotAch, 2)
	require.NotNil(t, gotAch[0].Metric)
	assert.Equal(t, "company-wide", gotAch[0].Metric.Scope)
	assert.Nil(t, gotAch[1].Metric)

	statement := "Grew revenue 40% across the company"
	gotAch[0].ImpactStatement = &statement
	gotAch[0].Score = 0.82
	gotAch[0].Provenance = models.ProvenanceModelPolish
	require.NoError(t, s.UpdateAchievements(ctx, gotAch))

	gotAch, err = s.ListAchievements(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Grew revenue 40%", gotAch[0].RawText)
	require.NotNil(t, gotAch[0].ImpactStatement)
	assert.Equal(t, statement, *gotAch[0].ImpactStatement)
	assert.Equal(t, models.ProvenanceModelPolish, gotAch[0].Provenance)
	assert.InDelta(t, 0.82, gotAch[0].Score, 1e-9)

	gotSkills, err := s.ListSkills(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, gotSkills, 1)
}

func TestRanking_Latest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.GetLatestRanking(ctx, "user-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	first := &models.AchievementRanking{ID: uuid.New(), UserID: "user-1", Entries: []models.RankingEntry{}, Algorithm: "weighted-log-v1",
		Weights: models.ScoringWeights{Metric: 0.4, Scope: 0.3, Evidence: 0.3}, CreatedAt: now}
	second := &models.AchievementRanking{ID: uuid.New(), UserID: "user-1", Algorithm: "weighted-log-v1",
		Entries:   []models.RankingEntry{{AchievementID: uuid.New(), Rank: 1, Score: 0.9}},
		Weights:   models.ScoringWeights{Metric: 0.4, Scope: 0.3, Evidence: 0.3},
		CreatedAt: now.Add(time.Second)}
	require.NoError(t, s.CreateRanking(ctx, first))
	require.NoError(t, s.CreateRanking(ctx, second))

	got, err := s.GetLatestRanking(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, 1, got.Entries[0].Rank)
	assert.Equal(t, 0.4, got.Weights.Metric)
}

func TestSkillOffers_Replace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	first := []models.SkillOffer{{ID: uuid.New(), Title: "Backend", Skills: []string{"Go"}, AchievementIDs: []uuid.UUID{}, CreatedAt: now}}
	second := []models.SkillOffer{
		{ID: uuid.New(), Title: "Data", Skills: []string{"SQL", "dbt"}, AchievementIDs: []uuid.UUID{uuid.New()}, Position: 0, CreatedAt: now},
		{ID: uuid.New(), Title: "Cloud", Skills: []string{"AWS"}, AchievementIDs: []uuid.UUID{}, Position: 1, CreatedAt: now},
	}
	require.NoError(t, s.ReplaceSkillOffers(ctx, "user-1", first))
	require.NoError(t, s.ReplaceSkillOffers(ctx, "user-1", second))

	got, err := s.ListSkillOffers(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Data", got[0].Title)
	assert.Equal(t, []string{"SQL", "dbt"}, got[0].Skills)
	assert.Equal(t, second[0].AchievementIDs, got[0].AchievementIDs)
}

func TestStoryAndImages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.GetLatestStory(ctx, "user-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	story := &models.Story{ID: uuid.New(), UserID: "user-1", Opener: "Hi", Paragraphs: []string{"a", "b"}, Quote: "q", Provider: "mock", CreatedAt: now}
	require.NoError(t, s.CreateStory(ctx, story))
	got, err := s.GetLatestStory(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Paragraphs)

	img := &models.GeneratedImage{ID: uuid.New(), UserID: "user-1", Archetype: "builder", Handle: "img://1", Provider: "mock", CreatedAt: now}
	require.NoError(t, s.CreateGeneratedImage(ctx, img))
	images, err := s.ListGeneratedImages(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "builder", images[0].Archetype)
}

func TestCompleteness_UpsertReplaces(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertCompletenessRecords(ctx, []models.CompletenessRecord{
		{UserID: "user-1", Section: models.SectionStory, Score: 0, MissingFields: []string{"story"}, Strategy: models.StrategyHide, UpdatedAt: now},
	}))
	require.NoError(t, s.UpsertCompletenessRecords(ctx, []models.CompletenessRecord{
		{UserID: "user-1", Section: models.SectionStory, Score: 0.8, MissingFields: []string{"quote"}, Strategy: models.StrategyPolish, UpdatedAt: now},
	}))

	records, err := s.ListCompletenessRecords(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StrategyPolish, records[0].Strategy)
	assert.Equal(t, []string{"quote"}, records[0].MissingFields)
}

func TestResolvedAsset_Upsert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	_, err := s.GetResolvedAsset(ctx, "logo:acme.com")
	assert.ErrorIs(t, err, store.ErrNotFound)

	asset := &models.ResolvedAsset{Key: "logo:acme.com", URL: "https://a", Provider: "favicon-service", Fallback: true, ResolvedAt: time.Now().UTC()}
	require.NoError(t, s.UpsertResolvedAsset(ctx, asset))
	asset.URL, asset.Provider, asset.Fallback = "https://b", "clearbit", false
	require.NoError(t, s.UpsertResolvedAsset(ctx, asset))

	got, err := s.GetResolvedAsset(ctx, "logo:acme.com")
	require.NoError(t, err)
	assert.Equal(t, "https://b", got.URL)
	assert.False(t, got.Fallback)
}

func TestDocumentAndProfile_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	_, err := s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
