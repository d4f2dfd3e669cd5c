package models

import (
	"time"

	"github.com/google/uuid"
)

// Provenance records where an achievement's current statement came from.
type Provenance string

const (
	ProvenanceUser         Provenance = "user"
	ProvenanceModelPolish  Provenance = "model_polish"
	ProvenanceModelContext Provenance = "model_context"
	ProvenanceTemplate     Provenance = "template"
)

// Metric is the quantified part of an achievement claim.
type Metric struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Scope string  `json:"scope,omitempty"`
}

// Achievement is a single claim from a user's history. RawText is never
// rewritten after ingestion; enhancement lands in ImpactStatement.
type Achievement struct {
	ID               uuid.UUID  `db:"id"                 json:"id"`
	UserID           string     `db:"user_id"            json:"user_id"`
	WorkExperienceID *uuid.UUID `db:"work_experience_id" json:"work_experience_id,omitempty"`
	RawText          string     `db:"raw_text"           json:"raw_text"`
	Metric           *Metric    `db:"metric"             json:"metric,omitempty"`
	ImpactStatement  *string    `db:"impact_statement"   json:"impact_statement,omitempty"`
	EvidenceScore    float64    `db:"evidence_score"     json:"evidence_score"`
	Score            float64    `db:"score"              json:"score"`
	Provenance       Provenance `db:"provenance"         json:"provenance"`
	Confidence       float64    `db:"confidence"         json:"confidence"`
	RequiresReview   bool       `db:"requires_review"    json:"requires_review"`
	Position         int        `db:"position"           json:"position"`
	CreatedAt        time.Time  `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"         json:"updated_at"`
}

// HasMetric reports whether the achievement carries a quantified metric.
func (a Achievement) HasMetric() bool {
	return a.Metric != nil
}

// HasScope reports whether a scope description was stated.
func (a Achievement) HasScope() bool {
	return a.Metric != nil && a.Metric.Scope != ""
}

// RankingEntry is one position in a ranking snapshot.
type RankingEntry struct {
	AchievementID uuid.UUID `json:"achievement_id"`
	Rank          int       `json:"rank"`
	Score         float64   `json:"score"`
}

// ScoringWeights is the weight vector a ranking was computed with.
type ScoringWeights struct {
	Metric   float64 `json:"metric"`
	Scope    float64 `json:"scope"`
	Evidence float64 `json:"evidence"`
}

// AchievementRanking is an immutable snapshot of a user's ranked
// achievements. The most recent snapshot supersedes earlier ones.
type AchievementRanking struct {
	ID        uuid.UUID      `db:"id"         json:"id"`
	UserID    string         `db:"user_id"    json:"user_id"`
	Entries   []RankingEntry `db:"entries"    json:"entries"`
	Algorithm string         `db:"algorithm"  json:"algorithm"`
	Weights   ScoringWeights `db:"weights"    json:"weights"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Document is an uploaded source file whose text has already been extracted
// by the upload path.
type Document struct {
	ID        string    `db:"id"         json:"id"`
	UserID    string    `db:"user_id"    json:"user_id"`
	Filename  string    `db:"filename"   json:"filename"`
	Text      string    `db:"text"       json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WorkExperience is one role in the user's history.
type WorkExperience struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	UserID       string     `db:"user_id"       json:"user_id"`
	Company      string     `db:"company"       json:"company"`
	Title        string     `db:"title"         json:"title"`
	Domain       string     `db:"domain"        json:"domain,omitempty"`
	StartDate    string     `db:"start_date"    json:"start_date,omitempty"`
	EndDate      string     `db:"end_date"      json:"end_date,omitempty"`
	Description  string     `db:"description"   json:"description,omitempty"`
	LogoURL      *string    `db:"logo_url"      json:"logo_url,omitempty"`
	LogoProvider *string    `db:"logo_provider" json:"logo_provider,omitempty"`
	LogoFallback bool       `db:"logo_fallback" json:"logo_fallback"`
	Position     int        `db:"position"      json:"position"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at"    json:"updated_at,omitempty"`
}

// Skill is a named capability extracted from source material.
type Skill struct {
	ID       uuid.UUID `db:"id"       json:"id"`
	UserID   string    `db:"user_id"  json:"user_id"`
	Name     string    `db:"name"     json:"name"`
	Category string    `db:"category" json:"category"`
}

// SkillOffer groups skills into a service the user can pitch.
type SkillOffer struct {
	ID             uuid.UUID   `db:"id"              json:"id"`
	UserID         string      `db:"user_id"         json:"user_id"`
	Title          string      `db:"title"           json:"title"`
	Skills         []string    `db:"skills"          json:"skills"`
	AchievementIDs []uuid.UUID `db:"achievement_ids" json:"achievement_ids"`
	Position       int         `db:"position"        json:"position"`
	CreatedAt      time.Time   `db:"created_at"      json:"created_at"`
}

// Story is the narrative copy generated for a user's portfolio.
type Story struct {
	ID         uuid.UUID `db:"id"         json:"id"`
	UserID     string    `db:"user_id"    json:"user_id"`
	Opener     string    `db:"opener"     json:"opener"`
	Paragraphs []string  `db:"paragraphs" json:"paragraphs"`
	Quote      string    `db:"quote"      json:"quote"`
	Provider   string    `db:"provider"   json:"provider"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// GeneratedImage references an image produced by the image collaborator.
type GeneratedImage struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	UserID    string    `db:"user_id"    json:"user_id"`
	Archetype string    `db:"archetype"  json:"archetype"`
	Handle    string    `db:"handle"     json:"handle"`
	Provider  string    `db:"provider"   json:"provider"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Profile is the subset of the user profile the pipeline reads.
type Profile struct {
	UserID      string `db:"user_id"      json:"user_id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Headline    string `db:"headline"     json:"headline"`
	PhotoHandle string `db:"photo_handle" json:"photo_handle,omitempty"`
}

// ResolvedAsset is the outcome of a successful cascading resolution.
type ResolvedAsset struct {
	Key        string    `db:"key"         json:"key"`
	URL        string    `db:"url"         json:"url"`
	Provider   string    `db:"provider"    json:"provider"`
	Fallback   bool      `db:"fallback"    json:"fallback"`
	ResolvedAt time.Time `db:"resolved_at" json:"resolved_at"`
}
