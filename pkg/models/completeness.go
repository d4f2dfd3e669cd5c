package models

import "time"

// Section is a portfolio content area measured by the completeness engine.
type Section string

const (
	SectionImages       Section = "images"
	SectionAchievements Section = "achievements"
	SectionLogos        Section = "logos"
	SectionWorkHistory  Section = "work_history"
	SectionSkills       Section = "skills"
	SectionStory        Section = "story"
	SectionNavigation   Section = "navigation"
)

// AllSections lists sections in evaluation order; navigation is last because
// it summarises the others.
var AllSections = []Section{
	SectionImages,
	SectionAchievements,
	SectionLogos,
	SectionWorkHistory,
	SectionSkills,
	SectionStory,
	SectionNavigation,
}

// Strategy is the fill action chosen for a section.
type Strategy string

const (
	StrategyComplete    Strategy = "complete"
	StrategyPolish      Strategy = "polish"
	StrategyContext     Strategy = "context"
	StrategyQualitative Strategy = "qualitative"
	StrategyTemplate    Strategy = "template"
	StrategyHide        Strategy = "hide"
)

// strategyOrder ranks strategies from best to worst coverage.
var strategyOrder = map[Strategy]int{
	StrategyComplete:    5,
	StrategyPolish:      4,
	StrategyContext:     3,
	StrategyQualitative: 2,
	StrategyTemplate:    1,
	StrategyHide:        0,
}

// Rank returns the ordinal of s, higher meaning better coverage.
func (s Strategy) Rank() int {
	return strategyOrder[s]
}

// CompletenessRecord is the live coverage measurement for one section of one
// user's portfolio. Each completeness run replaces the previous record.
type CompletenessRecord struct {
	UserID        string    `db:"user_id"        json:"user_id"`
	Section       Section   `db:"section"        json:"section"`
	Score         float64   `db:"score"          json:"score"`
	MissingFields []string  `db:"missing_fields" json:"missing_fields"`
	Strategy      Strategy  `db:"strategy"       json:"strategy"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}
