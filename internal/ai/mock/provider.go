package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/portfolio-engine/internal/ai"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// MockProvider satisfies ai.ContentProvider for tests and local runs.
type MockProvider struct {
	Name_             string
	ExtractFunc       func(ctx context.Context, text string) ([]byte, error)
	NarrateFunc       func(ctx context.Context, req ai.NarrativeRequest) (ai.Narrative, error)
	EnhanceFunc       func(ctx context.Context, req ai.EnhanceRequest) (string, error)
	GenerateImageFunc func(ctx context.Context, req ai.ImageRequest) (ai.ImageResult, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Extract(ctx context.Context, text string) ([]byte, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, text)
	}
	return []byte(`{"work_experiences":[],"achievements":[],"skills":[]}`), nil
}

func (m *MockProvider) Narrate(ctx context.Context, req ai.NarrativeRequest) (ai.Narrative, error) {
	if m.NarrateFunc != nil {
		return m.NarrateFunc(ctx, req)
	}
	return ai.Narrative{}, nil
}

func (m *MockProvider) Enhance(ctx context.Context, req ai.EnhanceRequest) (string, error) {
	if m.EnhanceFunc != nil {
		return m.EnhanceFunc(ctx, req)
	}
	return req.Text, nil
}

func (m *MockProvider) GenerateImage(ctx context.Context, req ai.ImageRequest) (ai.ImageResult, error) {
	if m.GenerateImageFunc != nil {
		return m.GenerateImageFunc(ctx, req)
	}
	return ai.ImageResult{}, nil
}

// NewMockProvider returns a MockProvider with deterministic responses derived
// from its input.
//
// Extraction understands a small line format:
//
//	@ Company | Title | start | end
//	- achievement text
//	Skills: Go, SQL (backend)
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_:       "mock",
		ExtractFunc: func(_ context.Context, text string) ([]byte, error) { return extract(text) },
		NarrateFunc: func(_ context.Context, req ai.NarrativeRequest) (ai.Narrative, error) {
			name := req.DisplayName
			if name == "" {
				name = "this professional"
			}
			paragraphs := make([]string, 0, 3)
			for i := 0; i < 3; i++ {
				if i < len(req.Achievements) {
					paragraphs = append(paragraphs, req.Achievements[i])
				} else {
					paragraphs = append(paragraphs, fmt.Sprintf("%s brings steady craft to every project.", name))
				}
			}
			return ai.Narrative{
				Opener:     fmt.Sprintf("Meet %s, %s.", name, strings.ToLower(orDefault(req.Headline, "a builder"))),
				Paragraphs: paragraphs,
				Quote:      "Good work speaks for itself.",
			}, nil
		},
		EnhanceFunc: func(_ context.Context, req ai.EnhanceRequest) (string, error) {
			text := strings.TrimSpace(req.Text)
			if text == "" {
				return "", ai.ErrInvalidResponse
			}
			return strings.ToUpper(text[:1]) + text[1:], nil
		},
		GenerateImageFunc: func(_ context.Context, req ai.ImageRequest) (ai.ImageResult, error) {
			return ai.ImageResult{Handle: "mock://image/" + req.Archetype, MIMEType: "image/png"}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_:       "mock-failing",
		ExtractFunc: func(_ context.Context, _ string) ([]byte, error) { return nil, err },
		NarrateFunc: func(_ context.Context, _ ai.NarrativeRequest) (ai.Narrative, error) {
			return ai.Narrative{}, err
		},
		EnhanceFunc: func(_ context.Context, _ ai.EnhanceRequest) (string, error) { return "", err },
		GenerateImageFunc: func(_ context.Context, _ ai.ImageRequest) (ai.ImageResult, error) {
			return ai.ImageResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		ExtractFunc: func(ctx context.Context, _ string) ([]byte, error) {
			<-ctx.Done()
			return nil, ai.ErrInferenceTimeout
		},
		NarrateFunc: func(ctx context.Context, _ ai.NarrativeRequest) (ai.Narrative, error) {
			<-ctx.Done()
			return ai.Narrative{}, ai.ErrInferenceTimeout
		},
		EnhanceFunc: func(ctx context.Context, _ ai.EnhanceRequest) (string, error) {
			<-ctx.Done()
			return "", ai.ErrInferenceTimeout
		},
		GenerateImageFunc: func(ctx context.Context, _ ai.ImageRequest) (ai.ImageResult, error) {
			<-ctx.Done()
			return ai.ImageResult{}, ai.ErrInferenceTimeout
		},
	}
}

var metricPattern = regexp.MustCompile(`(\$)?(\d+(?:\.\d+)?)\s*(%|x|users|customers|hours)?`)

func extract(text string) ([]byte, error) {
	ex := ai.Extraction{
		WorkExperiences: []ai.ExtractedExperience{},
		Achievements:    []ai.ExtractedAchievement{},
		Skills:          []ai.ExtractedSkill{},
	}
	company := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "@"):
			fields := strings.Split(strings.TrimSpace(strings.TrimPrefix(line, "@")), "|")
			exp := ai.ExtractedExperience{Company: strings.TrimSpace(fields[0])}
			if exp.Company == "" {
				continue
			}
			if len(fields) > 1 {
				exp.Title = strings.TrimSpace(fields[1])
			}
			if len(fields) > 2 {
				exp.StartDate = strings.TrimSpace(fields[2])
			}
			if len(fields) > 3 {
				exp.EndDate = strings.TrimSpace(fields[3])
			}
			company = exp.Company
			ex.WorkExperiences = append(ex.WorkExperiences, exp)
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
			body := strings.TrimSpace(line[2:])
			if body == "" {
				continue
			}
			ex.Achievements = append(ex.Achievements, ai.ExtractedAchievement{
				Text: body, Company: company, Metric: parseMetric(body),
			})
		case strings.HasPrefix(strings.ToLower(line), "skills:"):
			category := ""
			list := line[len("skills:"):]
			if open := strings.LastIndex(list, "("); open >= 0 && strings.HasSuffix(list, ")") {
				category = strings.TrimSpace(list[open+1 : len(list)-1])
				list = list[:open]
			}
			for _, name := range strings.Split(list, ",") {
				if name = strings.TrimSpace(name); name != "" {
					ex.Skills = append(ex.Skills, ai.ExtractedSkill{Name: name, Category: category})
				}
			}
		}
	}
	return json.Marshal(ex)
}

func parseMetric(text string) *models.Metric {
	for _, m := range metricPattern.FindAllStringSubmatch(text, -1) {
		unit := m[3]
		if m[1] == "$" {
			unit = "$"
		}
		if unit == "" {
			continue
		}
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		return &models.Metric{Value: value, Unit: unit}
	}
	return nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

var _ ai.ContentProvider = (*MockProvider)(nil)
