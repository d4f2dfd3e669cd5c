package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/internal/ai"
	"github.com/kiranshivaraju/portfolio-engine/internal/pipeline"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

const defaultSkillCategory = "general"

// Ingest extracts work history, achievements and skills from the job's
// document and replaces what was stored for the user.
type Ingest struct {
	store     store.PortfolioStore
	extractor ai.Extractor
	call      func(context.Context) (context.Context, context.CancelFunc)
}

func (s *Ingest) Execute(ctx context.Context, job models.Job) (models.StepOutput, error) {
	if job.DocumentID == "" {
		return models.StepOutput{}, fmt.Errorf("%w: ingest requires a document_id", pipeline.ErrValidation)
	}

	doc, err := s.store.GetDocument(ctx, job.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("ingest document not found", "user_id", job.UserID, "document_id", job.DocumentID)
		return models.NoOp(models.StepIngest, "document not found"), nil
	}
	if err != nil {
		return models.StepOutput{}, fmt.Errorf("load document: %w", err)
	}
	if doc.UserID != job.UserID {
		return models.StepOutput{}, fmt.Errorf("%w: document %s does not belong to user %s", pipeline.ErrValidation, doc.ID, job.UserID)
	}
	if strings.TrimSpace(doc.Text) == "" {
		slog.Warn("ingest document has no text", "user_id", job.UserID, "document_id", doc.ID)
		return models.NoOp(models.StepIngest, "document has no text"), nil
	}

	callCtx, cancel := s.call(ctx)
	raw, err := s.extractor.Extract(callCtx, doc.Text)
	cancel()
	if err != nil {
		return models.StepOutput{}, providerError("extract", err)
	}
	ex, err := ai.DecodeExtraction(raw)
	if err != nil {
		return models.StepOutput{}, fmt.Errorf("decode extraction: %w", err)
	}

	exps, achievements, skills := buildRecords(job.UserID, ex)
	if err := s.store.ReplaceExtraction(ctx, job.UserID, exps, achievements, skills); err != nil {
		return models.StepOutput{}, fmt.Errorf("replace extraction: %w", err)
	}

	slog.Info("ingest complete", "user_id", job.UserID, "document_id", doc.ID,
		"work_experiences", len(exps), "achievements", len(achievements), "skills", len(skills))
	return models.StepOutput{
		Kind: models.StepIngest,
		Ingest: &models.IngestOutput{
			DocumentID:      doc.ID,
			WorkExperiences: len(exps),
			Achievements:    len(achievements),
			Skills:          len(skills),
		},
	}, nil
}

// buildRecords turns an extraction into store records. Achievements are
// linked to the experience whose company they name; skills are de-duplicated
// case-insensitively.
func buildRecords(userID string, ex ai.Extraction) ([]models.WorkExperience, []models.Achievement, []models.Skill) {
	exps := make([]models.WorkExperience, 0, len(ex.WorkExperiences))
	byCompany := make(map[string]uuid.UUID, len(ex.WorkExperiences))
	for i, e := range ex.WorkExperiences {
		company := strings.TrimSpace(e.Company)
		if company == "" {
			continue
		}
		id := uuid.New()
		exps = append(exps, models.WorkExperience{
			ID:          id,
			UserID:      userID,
			Company:     company,
			Title:       strings.TrimSpace(e.Title),
			Domain:      strings.TrimSpace(e.Domain),
			StartDate:   e.StartDate,
			EndDate:     e.EndDate,
			Description: strings.TrimSpace(e.Description),
			Position:    i,
		})
		key := strings.ToLower(company)
		if _, ok := byCompany[key]; !ok {
			byCompany[key] = id
		}
	}

	achievements := make([]models.Achievement, 0, len(ex.Achievements))
	for _, a := range ex.Achievements {
		text := strings.TrimSpace(a.Text)
		if text == "" {
			continue
		}
		rec := models.Achievement{
			ID:         uuid.New(),
			UserID:     userID,
			RawText:    text,
			Metric:     a.Metric,
			Provenance: models.ProvenanceUser,
			Confidence: 1,
			Position:   len(achievements),
		}
		if id, ok := byCompany[strings.ToLower(strings.TrimSpace(a.Company))]; ok {
			expID := id
			rec.WorkExperienceID = &expID
		}
		achievements = append(achievements, rec)
	}

	skills := make([]models.Skill, 0, len(ex.Skills))
	seen := make(map[string]bool, len(ex.Skills))
	for _, sk := range ex.Skills {
		name := strings.TrimSpace(sk.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		category := strings.ToLower(strings.TrimSpace(sk.Category))
		if category == "" {
			category = defaultSkillCategory
		}
		skills = append(skills, models.Skill{ID: uuid.New(), UserID: userID, Name: name, Category: category})
	}
	return exps, achievements, skills
}
