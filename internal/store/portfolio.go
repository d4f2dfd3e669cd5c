package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// --- Documents & Profiles ---

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var d models.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, filename, text, created_at FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.UserID, &d.Filename, &d.Text, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, display_name, headline, photo_handle FROM profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.Headline, &p.PhotoHandle)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// --- Extraction ---

// ReplaceExtraction swaps the user's work history, achievements and skills
// for a freshly extracted set in one transaction.
func (s *PostgresStore) ReplaceExtraction(ctx context.Context, userID string, exps []models.WorkExperience, achievements []models.Achievement, skills []models.Skill) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace extraction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"achievements", "skills", "work_experiences"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, e := range exps {
		_, err := tx.Exec(ctx,
			`INSERT INTO work_experiences (id, user_id, company, title, domain, start_date, end_date, description, position, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, userID, e.Company, e.Title, e.Domain, e.StartDate, e.EndDate, e.Description, e.Position, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert work experience: %w", err)
		}
	}

	for _, a := range achievements {
		metric, err := nullableJSON(a.Metric)
		if err != nil {
			return fmt.Errorf("marshal metric: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO achievements (id, user_id, work_experience_id, raw_text, metric, impact_statement,
			   evidence_score, score, provenance, confidence, requires_review, position, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			a.ID, userID, a.WorkExperienceID, a.RawText, metric, a.ImpactStatement,
			a.EvidenceScore, a.Score, string(a.Provenance), a.Confidence, a.RequiresReview, a.Position, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert achievement: %w", err)
		}
	}

	for _, sk := range skills {
		_, err := tx.Exec(ctx,
			`INSERT INTO skills (id, user_id, name, category) VALUES ($1, $2, $3, $4)`,
			sk.ID, userID, sk.Name, sk.Category)
		if err != nil {
			return fmt.Errorf("insert skill: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace extraction: %w", err)
	}
	return nil
}

// --- Work Experiences ---

func (s *PostgresStore) ListWorkExperiences(ctx context.Context, userID string) ([]models.WorkExperience, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, company, title, domain, start_date, end_date, description,
		        logo_url, logo_provider, logo_fallback, position, created_at, updated_at
		 FROM work_experiences WHERE user_id = $1 ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("list work experiences: %w", err)
	}
	defer rows.Close()

	exps := []models.WorkExperience{}
	for rows.Next() {
		var e models.WorkExperience
		if err := rows.Scan(&e.ID, &e.UserID, &e.Company, &e.Title, &e.Domain, &e.StartDate, &e.EndDate,
			&e.Description, &e.LogoURL, &e.LogoProvider, &e.LogoFallback, &e.Position, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan work experience: %w", err)
		}
		exps = append(exps, e)
	}
	return exps, rows.Err()
}

func (s *PostgresStore) UpdateWorkExperienceLogo(ctx context.Context, id uuid.UUID, url, provider string, fallback bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_experiences SET logo_url = $2, logo_provider = $3, logo_fallback = $4, updated_at = NOW()
		 WHERE id = $1`, id, url, provider, fallback)
	if err != nil {
		return fmt.Errorf("update work experience logo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Achievements & Rankings ---

func (s *PostgresStore) ListAchievements(ctx context.Context, userID string) ([]models.Achievement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, work_experience_id, raw_text, metric, impact_statement, evidence_score, score,
		        provenance, confidence, requires_review, position, created_at, updated_at
		 FROM achievements WHERE user_id = $1 ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()

	achievements := []models.Achievement{}
	for rows.Next() {
		var (
			a          models.Achievement
			metric     []byte
			provenance string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.WorkExperienceID, &a.RawText, &metric, &a.ImpactStatement,
			&a.EvidenceScore, &a.Score, &provenance, &a.Confidence, &a.RequiresReview, &a.Position,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		a.Provenance = models.Provenance(provenance)
		if len(metric) > 0 {
			a.Metric = &models.Metric{}
			if err := json.Unmarshal(metric, a.Metric); err != nil {
				return nil, fmt.Errorf("decode metric: %w", err)
			}
		}
		achievements = append(achievements, a)
	}
	return achievements, rows.Err()
}

// UpdateAchievements writes the derived fields of each achievement. RawText
// is never updated.
func (s *PostgresStore) UpdateAchievements(ctx context.Context, achievements []models.Achievement) error {
	if len(achievements) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update achievements: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now().UTC()
	for _, a := range achievements {
		_, err := tx.Exec(ctx,
			`UPDATE achievements SET impact_statement = $2, evidence_score = $3, score = $4, provenance = $5,
			   confidence = $6, requires_review = $7, updated_at = $8
			 WHERE id = $1`,
			a.ID, a.ImpactStatement, a.EvidenceScore, a.Score, string(a.Provenance), a.Confidence, a.RequiresReview, now)
		if err != nil {
			return fmt.Errorf("update achievement %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update achievements: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateRanking(ctx context.Context, r *models.AchievementRanking) error {
	entries, err := json.Marshal(r.Entries)
	if err != nil {
		return fmt.Errorf("marshal ranking entries: %w", err)
	}
	weights, err := json.Marshal(r.Weights)
	if err != nil {
		return fmt.Errorf("marshal ranking weights: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO achievement_rankings (id, user_id, entries, algorithm, weights, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.UserID, entries, r.Algorithm, weights, r.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create ranking: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLatestRanking(ctx context.Context, userID string) (*models.AchievementRanking, error) {
	var (
		r                models.AchievementRanking
		entries, weights []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, entries, algorithm, weights, created_at FROM achievement_rankings
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID,
	).Scan(&r.ID, &r.UserID, &entries, &r.Algorithm, &weights, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest ranking: %w", err)
	}
	if err := json.Unmarshal(entries, &r.Entries); err != nil {
		return nil, fmt.Errorf("decode ranking entries: %w", err)
	}
	if err := json.Unmarshal(weights, &r.Weights); err != nil {
		return nil, fmt.Errorf("decode ranking weights: %w", err)
	}
	return &r, nil
}

// --- Skills & Offers ---

func (s *PostgresStore) ListSkills(ctx context.Context, userID string) ([]models.Skill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, category FROM skills WHERE user_id = $1 ORDER BY category, name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	skills := []models.Skill{}
	for rows.Next() {
		var sk models.Skill
		if err := rows.Scan(&sk.ID, &sk.UserID, &sk.Name, &sk.Category); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		skills = append(skills, sk)
	}
	return skills, rows.Err()
}

func (s *PostgresStore) ReplaceSkillOffers(ctx context.Context, userID string, offers []models.SkillOffer) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace skill offers: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM skill_offers WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear skill offers: %w", err)
	}
	for _, o := range offers {
		_, err := tx.Exec(ctx,
			`INSERT INTO skill_offers (id, user_id, title, skills, achievement_ids, position, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, userID, o.Title, o.Skills, o.AchievementIDs, o.Position, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert skill offer: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace skill offers: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSkillOffers(ctx context.Context, userID string) ([]models.SkillOffer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, skills, achievement_ids, position, created_at
		 FROM skill_offers WHERE user_id = $1 ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("list skill offers: %w", err)
	}
	defer rows.Close()

	offers := []models.SkillOffer{}
	for rows.Next() {
		var o models.SkillOffer
		if err := rows.Scan(&o.ID, &o.UserID, &o.Title, &o.Skills, &o.AchievementIDs, &o.Position, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan skill offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// --- Stories & Images ---

func (s *PostgresStore) CreateStory(ctx context.Context, st *models.Story) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stories (id, user_id, opener, paragraphs, quote, provider, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		st.ID, st.UserID, st.Opener, st.Paragraphs, st.Quote, st.Provider, st.CreatedAt)
	if err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLatestStory(ctx context.Context, userID string) (*models.Story, error) {
	var st models.Story
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, opener, paragraphs, quote, provider, created_at FROM stories
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID,
	).Scan(&st.ID, &st.UserID, &st.Opener, &st.Paragraphs, &st.Quote, &st.Provider, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest story: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) CreateGeneratedImage(ctx context.Context, img *models.GeneratedImage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO generated_images (id, user_id, archetype, handle, provider, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		img.ID, img.UserID, img.Archetype, img.Handle, img.Provider, img.CreatedAt)
	if err != nil {
		return fmt.Errorf("create generated image: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGeneratedImages(ctx context.Context, userID string) ([]models.GeneratedImage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, archetype, handle, provider, created_at FROM generated_images
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list generated images: %w", err)
	}
	defer rows.Close()

	images := []models.GeneratedImage{}
	for rows.Next() {
		var img models.GeneratedImage
		if err := rows.Scan(&img.ID, &img.UserID, &img.Archetype, &img.Handle, &img.Provider, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generated image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// --- Completeness ---

// UpsertCompletenessRecords replaces the live record of each (user, section).
func (s *PostgresStore) UpsertCompletenessRecords(ctx context.Context, records []models.CompletenessRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert completeness: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		_, err := tx.Exec(ctx,
			`INSERT INTO completeness_records (user_id, section, score, missing_fields, strategy, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (user_id, section) DO UPDATE SET
			   score = EXCLUDED.score,
			   missing_fields = EXCLUDED.missing_fields,
			   strategy = EXCLUDED.strategy,
			   updated_at = EXCLUDED.updated_at`,
			r.UserID, string(r.Section), r.Score, r.MissingFields, string(r.Strategy), r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert completeness %s: %w", r.Section, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert completeness: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCompletenessRecords(ctx context.Context, userID string) ([]models.CompletenessRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, section, score, missing_fields, strategy, updated_at
		 FROM completeness_records WHERE user_id = $1 ORDER BY section`, userID)
	if err != nil {
		return nil, fmt.Errorf("list completeness records: %w", err)
	}
	defer rows.Close()

	records := []models.CompletenessRecord{}
	for rows.Next() {
		var (
			r                 models.CompletenessRecord
			section, strategy string
		)
		if err := rows.Scan(&r.UserID, &section, &r.Score, &r.MissingFields, &strategy, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan completeness record: %w", err)
		}
		r.Section = models.Section(section)
		r.Strategy = models.Strategy(strategy)
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Resolved Assets ---

func (s *PostgresStore) GetResolvedAsset(ctx context.Context, key string) (*models.ResolvedAsset, error) {
	var a models.ResolvedAsset
	err := s.pool.QueryRow(ctx,
		`SELECT key, url, provider, fallback, resolved_at FROM resolved_assets WHERE key = $1`, key,
	).Scan(&a.Key, &a.URL, &a.Provider, &a.Fallback, &a.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get resolved asset: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) UpsertResolvedAsset(ctx context.Context, a *models.ResolvedAsset) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resolved_assets (key, url, provider, fallback, resolved_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET
		   url = EXCLUDED.url, provider = EXCLUDED.provider,
		   fallback = EXCLUDED.fallback, resolved_at = EXCLUDED.resolved_at`,
		a.Key, a.URL, a.Provider, a.Fallback, a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("upsert resolved asset: %w", err)
	}
	return nil
}

// nullableJSON marshals v, mapping a nil pointer to SQL NULL.
func nullableJSON(v *models.Metric) (any, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
