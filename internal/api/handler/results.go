package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/portfolio-engine/internal/api/response"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// Results reads what the pipeline produced. store.Store satisfies it.
type Results interface {
	GetLatestRanking(ctx context.Context, userID string) (*models.AchievementRanking, error)
	ListCompletenessRecords(ctx context.Context, userID string) ([]models.CompletenessRecord, error)
}

type completenessResponse struct {
	UserID   string                      `json:"user_id"`
	Sections []models.CompletenessRecord `json:"sections"`
}

// NewRankingHandler returns the handler for
// GET /api/v1/achievements/{userID}/ranking.
func NewRankingHandler(res Results) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDParam(w, r)
		if !ok {
			return
		}
		ranking, err := res.GetLatestRanking(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, ranking)
	}
}

// NewCompletenessHandler returns the handler for
// GET /api/v1/completeness/{userID}. A user never evaluated gets an empty
// section list.
func NewCompletenessHandler(res Results) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDParam(w, r)
		if !ok {
			return
		}
		records, err := res.ListCompletenessRecords(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if records == nil {
			records = []models.CompletenessRecord{}
		}
		response.JSON(w, completenessResponse{UserID: userID, Sections: records})
	}
}
