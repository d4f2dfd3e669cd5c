package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// StepOutput is a tagged union of the per-step result shapes. Exactly one
// variant matching Kind is set.
type StepOutput struct {
	Kind         StepKind            `json:"kind"`
	Skipped      string              `json:"skipped,omitempty"`
	Ingest       *IngestOutput       `json:"ingest,omitempty"`
	Logo         *LogoOutput         `json:"logo_resolution,omitempty"`
	Scoring      *ScoringOutput      `json:"achievement_scoring,omitempty"`
	Story        *StoryOutput        `json:"story,omitempty"`
	SkillOffers  *SkillOffersOutput  `json:"skill_offers,omitempty"`
	Image        *ImageOutput        `json:"image_generation,omitempty"`
	Completeness *CompletenessOutput `json:"completeness,omitempty"`
}

// IngestOutput summarises what the ingest step wrote.
type IngestOutput struct {
	DocumentID      string `json:"document_id"`
	WorkExperiences int    `json:"work_experiences"`
	Achievements    int    `json:"achievements"`
	Skills          int    `json:"skills"`
}

// LogoOutput summarises one logo-resolution pass over a user's employers.
type LogoOutput struct {
	Attempted int            `json:"attempted"`
	Resolved  int            `json:"resolved"`
	Fallbacks int            `json:"fallbacks"`
	Providers map[string]int `json:"providers,omitempty"`
}

// ScoringOutput points at the ranking snapshot the scoring step produced.
type ScoringOutput struct {
	RankingID uuid.UUID   `json:"ranking_id"`
	Scored    int         `json:"scored"`
	Enhanced  int         `json:"enhanced"`
	Top       []uuid.UUID `json:"top"`
}

// StoryOutput references the generated narrative.
type StoryOutput struct {
	StoryID    uuid.UUID `json:"story_id"`
	Paragraphs int       `json:"paragraphs"`
}

// SkillOffersOutput lists the offers produced for the user.
type SkillOffersOutput struct {
	Offers []string `json:"offers"`
}

// ImageOutput references the generated image asset.
type ImageOutput struct {
	ImageID   uuid.UUID `json:"image_id"`
	Archetype string    `json:"archetype"`
	Handle    string    `json:"handle"`
}

// CompletenessOutput carries the strategy decided per section.
type CompletenessOutput struct {
	Sections map[Section]Strategy `json:"sections"`
}

// NoOp builds a succeeded-but-empty output for kind, recording why the step
// had nothing to do.
func NoOp(kind StepKind, reason string) StepOutput {
	return StepOutput{Kind: kind, Skipped: reason}
}

// Validate checks that the populated variant matches Kind.
func (o StepOutput) Validate() error {
	if o.Kind == "" {
		return errors.New("step output: kind is required")
	}
	set := map[StepKind]bool{
		StepIngest:             o.Ingest != nil,
		StepLogoResolution:     o.Logo != nil,
		StepAchievementScoring: o.Scoring != nil,
		StepStory:              o.Story != nil,
		StepSkillOffers:        o.SkillOffers != nil,
		StepImageGeneration:    o.Image != nil,
		StepCompleteness:       o.Completeness != nil,
	}
	if _, ok := set[o.Kind]; !ok {
		return fmt.Errorf("step output: unknown kind %q", o.Kind)
	}
	for kind, present := range set {
		if present && kind != o.Kind {
			return fmt.Errorf("step output: %s variant set on %s output", kind, o.Kind)
		}
	}
	if !set[o.Kind] && o.Skipped == "" {
		return fmt.Errorf("step output: %s variant missing", o.Kind)
	}
	return nil
}
