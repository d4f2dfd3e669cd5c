// Package completeness measures how much of each portfolio section is filled
// in and decides how the renderer should fill the gaps.
package completeness

import (
	"strings"
	"time"

	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// Targets a section must reach for full count credit.
const (
	TargetAchievements    = 6
	TargetImages          = 4
	TargetWorkExperiences = 3
	TargetSkills          = 8
	TargetOffers          = 3
	TargetStoryParagraphs = 3
)

// Strategy thresholds, evaluated highest-first. Shared by every section.
const (
	thresholdComplete    = 0.9
	thresholdPolish      = 0.7
	thresholdContext     = 0.5
	thresholdQualitative = 0.3
)

// DecideStrategy maps a coverage score to a fill strategy.
func DecideStrategy(score float64) models.Strategy {
	switch {
	case score >= thresholdComplete:
		return models.StrategyComplete
	case score >= thresholdPolish:
		return models.StrategyPolish
	case score >= thresholdContext:
		return models.StrategyContext
	case score >= thresholdQualitative:
		return models.StrategyQualitative
	case score > 0:
		return models.StrategyTemplate
	default:
		return models.StrategyHide
	}
}

// Observation is the measured coverage of one section.
type Observation struct {
	Section       models.Section
	Score         float64
	MissingFields []string
}

// Inputs is everything the engine looks at for one user.
type Inputs struct {
	Achievements    []models.Achievement
	Images          []models.GeneratedImage
	WorkExperiences []models.WorkExperience
	Skills          []models.Skill
	Offers          []models.SkillOffer
	Story           *models.Story
}

// ObserveAchievements scores the achievements section.
func ObserveAchievements(as []models.Achievement) Observation {
	obs := Observation{Section: models.SectionAchievements, MissingFields: []string{}}
	if len(as) == 0 {
		obs.MissingFields = append(obs.MissingFields, "achievements")
		return obs
	}

	var withMetric, withImpact int
	for _, a := range as {
		if a.HasMetric() {
			withMetric++
		}
		if a.ImpactStatement != nil && strings.TrimSpace(*a.ImpactStatement) != "" {
			withImpact++
		}
	}
	n := float64(len(as))
	obs.Score = 0.4*ratio(len(as), TargetAchievements) + 0.4*clamp01(float64(withMetric)/n) + 0.2*clamp01(float64(withImpact)/n)

	if len(as) < TargetAchievements {
		obs.MissingFields = append(obs.MissingFields, "achievement_count")
	}
	if withMetric < len(as) {
		obs.MissingFields = append(obs.MissingFields, "metrics")
	}
	if withImpact < len(as) {
		obs.MissingFields = append(obs.MissingFields, "impact_statements")
	}
	return obs.clamped()
}

// ObserveImages scores the images section.
func ObserveImages(images []models.GeneratedImage) Observation {
	obs := Observation{
		Section:       models.SectionImages,
		Score:         ratio(len(images), TargetImages),
		MissingFields: []string{},
	}
	if len(images) == 0 {
		obs.MissingFields = append(obs.MissingFields, "images")
	} else if len(images) < TargetImages {
		obs.MissingFields = append(obs.MissingFields, "image_count")
	}
	return obs
}

// ObserveLogos scores logo coverage across work experiences. A fallback logo
// earns half credit.
func ObserveLogos(exps []models.WorkExperience) Observation {
	obs := Observation{Section: models.SectionLogos, MissingFields: []string{}}
	if len(exps) == 0 {
		obs.MissingFields = append(obs.MissingFields, "work_experiences")
		return obs
	}

	var sum float64
	var missing, fallback bool
	for _, e := range exps {
		switch {
		case e.LogoURL == nil || *e.LogoURL == "":
			missing = true
		case e.LogoFallback:
			sum += 0.5
			fallback = true
		default:
			sum++
		}
	}
	obs.Score = sum / float64(len(exps))
	if missing {
		obs.MissingFields = append(obs.MissingFields, "logos")
	}
	if fallback {
		obs.MissingFields = append(obs.MissingFields, "logo_quality")
	}
	return obs.clamped()
}

// ObserveWorkHistory scores the work history section.
func ObserveWorkHistory(exps []models.WorkExperience) Observation {
	obs := Observation{Section: models.SectionWorkHistory, MissingFields: []string{}}
	if len(exps) == 0 {
		obs.MissingFields = append(obs.MissingFields, "work_experiences")
		return obs
	}

	var present int
	missing := map[string]bool{}
	for _, e := range exps {
		for field, v := range map[string]string{
			"title":       e.Title,
			"company":     e.Company,
			"start_date":  e.StartDate,
			"description": e.Description,
		} {
			if strings.TrimSpace(v) != "" {
				present++
			} else {
				missing[field] = true
			}
		}
	}
	fieldRatio := float64(present) / float64(4*len(exps))
	obs.Score = 0.5*ratio(len(exps), TargetWorkExperiences) + 0.5*fieldRatio

	if len(exps) < TargetWorkExperiences {
		obs.MissingFields = append(obs.MissingFields, "work_experience_count")
	}
	for _, field := range []string{"title", "company", "start_date", "description"} {
		if missing[field] {
			obs.MissingFields = append(obs.MissingFields, field)
		}
	}
	return obs.clamped()
}

// ObserveSkills scores skills and the offers grouped from them.
func ObserveSkills(skills []models.Skill, offers []models.SkillOffer) Observation {
	obs := Observation{
		Section:       models.SectionSkills,
		Score:         0.6*ratio(len(skills), TargetSkills) + 0.4*ratio(len(offers), TargetOffers),
		MissingFields: []string{},
	}
	if len(skills) == 0 {
		obs.MissingFields = append(obs.MissingFields, "skills")
	} else if len(skills) < TargetSkills {
		obs.MissingFields = append(obs.MissingFields, "skill_count")
	}
	if len(offers) < TargetOffers {
		obs.MissingFields = append(obs.MissingFields, "skill_offers")
	}
	return obs.clamped()
}

// ObserveStory scores the narrative section.
func ObserveStory(story *models.Story) Observation {
	obs := Observation{Section: models.SectionStory, MissingFields: []string{}}
	if story == nil {
		obs.MissingFields = append(obs.MissingFields, "story")
		return obs
	}

	var paragraphs int
	for _, p := range story.Paragraphs {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}
	hasOpener := strings.TrimSpace(story.Opener) != ""
	hasQuote := strings.TrimSpace(story.Quote) != ""

	obs.Score = 0.4*boolScore(hasOpener) + 0.4*ratio(paragraphs, TargetStoryParagraphs) + 0.2*boolScore(hasQuote)
	if !hasOpener {
		obs.MissingFields = append(obs.MissingFields, "opener")
	}
	if paragraphs < TargetStoryParagraphs {
		obs.MissingFields = append(obs.MissingFields, "paragraphs")
	}
	if !hasQuote {
		obs.MissingFields = append(obs.MissingFields, "quote")
	}
	return obs.clamped()
}

// ObserveNavigation scores navigation as the fraction of content sections
// that will be rendered.
func ObserveNavigation(others []Observation) Observation {
	obs := Observation{Section: models.SectionNavigation, MissingFields: []string{}}
	if len(others) == 0 {
		return obs
	}
	var visible int
	for _, o := range others {
		if DecideStrategy(o.Score) != models.StrategyHide {
			visible++
		} else {
			obs.MissingFields = append(obs.MissingFields, string(o.Section))
		}
	}
	obs.Score = float64(visible) / float64(len(others))
	return obs.clamped()
}

// Observe measures every section in models.AllSections order.
func Observe(in Inputs) []Observation {
	content := []Observation{
		ObserveImages(in.Images),
		ObserveAchievements(in.Achievements),
		ObserveLogos(in.WorkExperiences),
		ObserveWorkHistory(in.WorkExperiences),
		ObserveSkills(in.Skills, in.Offers),
		ObserveStory(in.Story),
	}
	return append(content, ObserveNavigation(content))
}

// Evaluate observes every section and returns the records to upsert for
// userID.
func Evaluate(userID string, in Inputs, now time.Time) []models.CompletenessRecord {
	obs := Observe(in)
	records := make([]models.CompletenessRecord, 0, len(obs))
	for _, o := range obs {
		records = append(records, models.CompletenessRecord{
			UserID:        userID,
			Section:       o.Section,
			Score:         o.Score,
			MissingFields: o.MissingFields,
			Strategy:      DecideStrategy(o.Score),
			UpdatedAt:     now,
		})
	}
	return records
}

func (o Observation) clamped() Observation {
	o.Score = clamp01(o.Score)
	return o
}

func ratio(n, target int) float64 {
	return clamp01(float64(n) / float64(target))
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
