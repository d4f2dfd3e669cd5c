package steps

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/internal/scoring"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// MaxOffers bounds the skill offers produced per user.
const MaxOffers = 3

// SkillOffers groups skills by category and turns the categories best
// backed by top achievements into offers.
type SkillOffers struct {
	store store.PortfolioStore
	now   func() time.Time
}

type skillGroup struct {
	category string
	skills   []string
	support  []uuid.UUID
	weight   float64
	order    int
}

func (s *SkillOffers) Execute(ctx context.Context, job models.Job) (models.StepOutput, error) {
	skills, err := s.store.ListSkills(ctx, job.UserID)
	if err != nil {
		return models.StepOutput{}, fmt.Errorf("list skills: %w", err)
	}
	if len(skills) == 0 {
		slog.Warn("no skills to build offers from", "user_id", job.UserID)
		return models.NoOp(models.StepSkillOffers, "no skills"), nil
	}
	achievements, err := s.store.ListAchievements(ctx, job.UserID)
	if err != nil {
		return models.StepOutput{}, fmt.Errorf("list achievements: %w", err)
	}

	groups := buildOfferGroups(skills, scoring.SelectTop(achievements))
	now := s.now().UTC()
	offers := make([]models.SkillOffer, 0, len(groups))
	titles := make([]string, 0, len(groups))
	for i, g := range groups {
		title := offerTitle(g.category)
		offers = append(offers, models.SkillOffer{
			ID:             uuid.New(),
			UserID:         job.UserID,
			Title:          title,
			Skills:         g.skills,
			AchievementIDs: g.support,
			Position:       i,
			CreatedAt:      now,
		})
		titles = append(titles, title)
	}

	if err := s.store.ReplaceSkillOffers(ctx, job.UserID, offers); err != nil {
		return models.StepOutput{}, fmt.Errorf("replace skill offers: %w", err)
	}
	slog.Info("skill offers built", "user_id", job.UserID, "offers", len(offers))
	return models.StepOutput{Kind: models.StepSkillOffers, SkillOffers: &models.SkillOffersOutput{Offers: titles}}, nil
}

// buildOfferGroups groups skills by category, attaches the top achievements
// that mention one of the category's skills, and returns at most MaxOffers
// groups ordered by number of supporting achievements, then their combined
// score, then skill count. Remaining ties keep first-seen category order.
func buildOfferGroups(skills []models.Skill, top []scoring.Ranked) []skillGroup {
	byCategory := map[string]*skillGroup{}
	var groups []*skillGroup
	for _, sk := range skills {
		cat := strings.ToLower(strings.TrimSpace(sk.Category))
		if cat == "" {
			cat = defaultSkillCategory
		}
		g, ok := byCategory[cat]
		if !ok {
			g = &skillGroup{category: cat, order: len(groups)}
			byCategory[cat] = g
			groups = append(groups, g)
		}
		g.skills = append(g.skills, sk.Name)
	}

	for _, g := range groups {
		for _, r := range top {
			if mentionsAny(statementOf(r.Achievement)+" "+r.Achievement.RawText, g.skills) {
				g.support = append(g.support, r.Achievement.ID)
				g.weight += r.Breakdown.Total
			}
		}
		if g.support == nil {
			g.support = []uuid.UUID{}
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if len(a.support) != len(b.support) {
			return len(a.support) > len(b.support)
		}
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		if len(a.skills) != len(b.skills) {
			return len(a.skills) > len(b.skills)
		}
		return a.order < b.order
	})

	if len(groups) > MaxOffers {
		groups = groups[:MaxOffers]
	}
	out := make([]skillGroup, len(groups))
	for i, g := range groups {
		out[i] = *g
	}
	return out
}

func mentionsAny(text string, names []string) bool {
	text = strings.ToLower(text)
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && containsWord(text, n) {
			return true
		}
	}
	return false
}

// containsWord reports whether word occurs in text without letters or
// digits directly on either side.
func containsWord(text, word string) bool {
	for start := 0; start < len(text); {
		i := strings.Index(text[start:], word)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(word)
		before, _ := utf8.DecodeLastRuneInString(text[:i])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		start = i + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func offerTitle(category string) string {
	r, size := utf8.DecodeRuneInString(category)
	if r == utf8.RuneError {
		return category
	}
	return string(unicode.ToUpper(r)) + category[size:]
}
