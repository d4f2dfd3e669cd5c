package steps_test

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/internal/resolver"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// memStore is an in-memory store.PortfolioStore for one process.
type memStore struct {
	mu           sync.Mutex
	documents    map[string]models.Document
	profiles     map[string]models.Profile
	exps         map[string][]models.WorkExperience
	achievements map[string][]models.Achievement
	skills       map[string][]models.Skill
	offers       map[string][]models.SkillOffer
	rankings     []models.AchievementRanking
	stories      []models.Story
	images       []models.GeneratedImage
	completeness map[string]map[models.Section]models.CompletenessRecord
	assets       map[string]models.ResolvedAsset
}

var _ store.PortfolioStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		documents:    map[string]models.Document{},
		profiles:     map[string]models.Profile{},
		exps:         map[string][]models.WorkExperience{},
		achievements: map[string][]models.Achievement{},
		skills:       map[string][]models.Skill{},
		offers:       map[string][]models.SkillOffer{},
		completeness: map[string]map[models.Section]models.CompletenessRecord{},
		assets:       map[string]models.ResolvedAsset{},
	}
}

func (m *memStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (m *memStore) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) ReplaceExtraction(_ context.Context, userID string, exps []models.WorkExperience, achievements []models.Achievement, skills []models.Skill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exps[userID] = append([]models.WorkExperience(nil), exps...)
	m.achievements[userID] = append([]models.Achievement(nil), achievements...)
	m.skills[userID] = append([]models.Skill(nil), skills...)
	return nil
}

func (m *memStore) ListWorkExperiences(_ context.Context, userID string) ([]models.WorkExperience, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.WorkExperience(nil), m.exps[userID]...), nil
}

func (m *memStore) UpdateWorkExperienceLogo(_ context.Context, id uuid.UUID, url, provider string, fallback bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for user, exps := range m.exps {
		for i := range exps {
			if exps[i].ID == id {
				u, p := url, provider
				m.exps[user][i].LogoURL = &u
				m.exps[user][i].LogoProvider = &p
				m.exps[user][i].LogoFallback = fallback
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (m *memStore) ListAchievements(_ context.Context, userID string) ([]models.Achievement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Achievement(nil), m.achievements[userID]...), nil
}

func (m *memStore) UpdateAchievements(_ context.Context, achievements []models.Achievement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range achievements {
		list := m.achievements[a.UserID]
		for i := range list {
			if list[i].ID == a.ID {
				raw := list[i].RawText
				list[i] = a
				list[i].RawText = raw
			}
		}
	}
	return nil
}

func (m *memStore) CreateRanking(_ context.Context, r *models.AchievementRanking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rankings = append(m.rankings, *r)
	return nil
}

func (m *memStore) GetLatestRanking(_ context.Context, userID string) (*models.AchievementRanking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rankings) - 1; i >= 0; i-- {
		if m.rankings[i].UserID == userID {
			r := m.rankings[i]
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListSkills(_ context.Context, userID string) ([]models.Skill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Skill(nil), m.skills[userID]...), nil
}

func (m *memStore) ReplaceSkillOffers(_ context.Context, userID string, offers []models.SkillOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[userID] = append([]models.SkillOffer(nil), offers...)
	return nil
}

func (m *memStore) ListSkillOffers(_ context.Context, userID string) ([]models.SkillOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SkillOffer(nil), m.offers[userID]...), nil
}

func (m *memStore) CreateStory(_ context.Context, st *models.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stories = append(m.stories, *st)
	return nil
}

func (m *memStore) GetLatestStory(_ context.Context, userID string) (*models.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.stories) - 1; i >= 0; i-- {
		if m.stories[i].UserID == userID {
			s := m.stories[i]
			return &s, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) CreateGeneratedImage(_ context.Context, img *models.GeneratedImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = append(m.images, *img)
	return nil
}

func (m *memStore) ListGeneratedImages(_ context.Context, userID string) ([]models.GeneratedImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GeneratedImage
	for _, img := range m.images {
		if img.UserID == userID {
			out = append(out, img)
		}
	}
	return out, nil
}

func (m *memStore) UpsertCompletenessRecords(_ context.Context, records []models.CompletenessRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if m.completeness[r.UserID] == nil {
			m.completeness[r.UserID] = map[models.Section]models.CompletenessRecord{}
		}
		m.completeness[r.UserID][r.Section] = r
	}
	return nil
}

func (m *memStore) ListCompletenessRecords(_ context.Context, userID string) ([]models.CompletenessRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CompletenessRecord
	for _, s := range models.AllSections {
		if r, ok := m.completeness[userID][s]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) GetResolvedAsset(_ context.Context, key string) (*models.ResolvedAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (m *memStore) UpsertResolvedAsset(_ context.Context, a *models.ResolvedAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.Key] = *a
	return nil
}

// fakeResolver answers from a fixed table keyed by cache key and records
// what it was asked.
type fakeResolver struct {
	mu      sync.Mutex
	results map[string]resolver.Result
	asked   []string
}

func (f *fakeResolver) Resolve(_ context.Context, key string, _ []resolver.Provider) resolver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, key)
	return f.results[key]
}

func (f *fakeResolver) askedFor(domain string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.asked {
		if strings.HasSuffix(k, domain) {
			return true
		}
	}
	return false
}
