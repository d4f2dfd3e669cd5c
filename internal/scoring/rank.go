package scoring

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// TopN is the number of achievements featured on a portfolio.
const TopN = 6

// Ranked is an achievement with its computed score and 1-based rank.
type Ranked struct {
	Achievement models.Achievement
	Breakdown   Breakdown
	Rank        int
}

// Rank scores every achievement and sorts them by descending score. Ties
// keep their input order.
func Rank(achievements []models.Achievement) []Ranked {
	ranked := make([]Ranked, len(achievements))
	for i, a := range achievements {
		ranked[i] = Ranked{Achievement: a, Breakdown: Score(a)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Breakdown.Total > ranked[j].Breakdown.Total
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// SelectTop returns the first TopN ranked achievements.
func SelectTop(achievements []models.Achievement) []Ranked {
	ranked := Rank(achievements)
	if len(ranked) > TopN {
		ranked = ranked[:TopN]
	}
	return ranked
}

// Snapshot builds an immutable ranking record for userID from ranked.
func Snapshot(userID string, ranked []Ranked, now time.Time) models.AchievementRanking {
	entries := make([]models.RankingEntry, 0, len(ranked))
	for _, r := range ranked {
		entries = append(entries, models.RankingEntry{
			AchievementID: r.Achievement.ID,
			Rank:          r.Rank,
			Score:         r.Breakdown.Total,
		})
	}
	return models.AchievementRanking{
		ID:        uuid.New(),
		UserID:    userID,
		Entries:   entries,
		Algorithm: Algorithm,
		Weights:   DefaultWeights,
		CreatedAt: now,
	}
}
