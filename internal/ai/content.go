// Package ai defines the content collaborators pipeline steps call and the
// prompt and decoding helpers shared by the provider implementations.
package ai

import (
	"context"

	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// Extraction is the structured content pulled out of a source document.
type Extraction struct {
	WorkExperiences []ExtractedExperience  `json:"work_experiences"`
	Achievements    []ExtractedAchievement `json:"achievements"`
	Skills          []ExtractedSkill       `json:"skills"`
}

type ExtractedExperience struct {
	Company     string `json:"company"`
	Title       string `json:"title,omitempty"`
	Domain      string `json:"domain,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	Description string `json:"description,omitempty"`
}

// ExtractedAchievement is one claim as written in the source. Company links
// it to a work experience by name when the model could tell.
type ExtractedAchievement struct {
	Text    string         `json:"text"`
	Company string         `json:"company,omitempty"`
	Metric  *models.Metric `json:"metric,omitempty"`
}

type ExtractedSkill struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// NarrativeRequest is the material a story is written from.
type NarrativeRequest struct {
	DisplayName  string
	Headline     string
	Achievements []string
}

type Narrative struct {
	Opener     string   `json:"opener"`
	Paragraphs []string `json:"paragraphs"`
	Quote      string   `json:"quote,omitempty"`
}

// EnhanceRequest asks for an impact statement. Mode is model_polish when the
// claim carries a metric and model_context otherwise.
type EnhanceRequest struct {
	Text   string
	Metric *models.Metric
	Mode   models.Provenance
}

type ImageRequest struct {
	PhotoHandle string
	Archetype   string
	Prompt      string
}

// ImageResult references a generated asset. Handle is opaque to the engine.
type ImageResult struct {
	Handle   string
	MIMEType string
}

// Extractor returns the raw JSON extraction for a document's text. Callers
// validate it with DecodeExtraction.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]byte, error)
}

type Narrator interface {
	Narrate(ctx context.Context, req NarrativeRequest) (Narrative, error)
}

// Enhancer rewrites an achievement into an impact statement. Implementations
// must not add, drop or change numbers; callers verify this.
type Enhancer interface {
	Enhance(ctx context.Context, req EnhanceRequest) (string, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error)
}

// ContentProvider bundles every collaborator a provider backend offers.
type ContentProvider interface {
	Name() string
	Extractor
	Narrator
	Enhancer
	ImageGenerator
}
