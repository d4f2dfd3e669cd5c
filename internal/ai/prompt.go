package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/portfolio-engine/internal/schemas"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// maxDocumentChars bounds how much source text is sent for extraction.
const maxDocumentChars = 60000

const ExtractionSystem = `You extract structured career data from resumes and similar documents.
Reply with a single JSON object and nothing else, shaped as:
{"work_experiences":[{"company":"","title":"","domain":"","start_date":"","end_date":"","description":""}],
 "achievements":[{"text":"","company":"","metric":{"value":0,"unit":"","scope":""}}],
 "skills":[{"name":"","category":""}]}
Copy achievement text verbatim. Only include a metric when the text states a number.
Use "%" for percentages, "$" for money, "users" for people counts, "hours" for time saved and "x" for multipliers.`

const NarrativeSystem = `You write short first-person portfolio stories.
Reply with a single JSON object and nothing else: {"opener":"","paragraphs":["","",""],"quote":""}.
Write exactly three paragraphs. Never invent numbers that are not in the input.`

const EnhanceSystem = `You rewrite a single career achievement as one concise impact statement.
Keep every number exactly as written. Do not add numbers. Reply with the statement only.`

// ExtractionPrompt builds the user message for an extraction call.
func ExtractionPrompt(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > maxDocumentChars {
		text = text[:maxDocumentChars]
	}
	return "Document:\n" + text
}

func NarrativePrompt(req NarrativeRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\nRole: %s\nTop achievements:\n", req.DisplayName, req.Headline)
	for _, a := range req.Achievements {
		fmt.Fprintf(&sb, "- %s\n", a)
	}
	return sb.String()
}

func EnhancePrompt(req EnhanceRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Achievement: %s\n", req.Text)
	if req.Mode == models.ProvenanceModelContext {
		sb.WriteString("The claim has no metric. Describe its qualitative impact without quantifying it.\n")
	} else if req.Metric != nil {
		fmt.Fprintf(&sb, "Metric: %g %s", req.Metric.Value, req.Metric.Unit)
		if req.Metric.Scope != "" {
			fmt.Fprintf(&sb, " (%s)", req.Metric.Scope)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ImagePrompt describes the portrait to generate for an archetype.
func ImagePrompt(req ImageRequest) string {
	if req.Prompt != "" {
		return req.Prompt
	}
	return fmt.Sprintf("Professional editorial portrait in a %s setting, natural light, clean background.", req.Archetype)
}

// ExtractJSON returns the outermost JSON object in s, dropping code fences or
// prose a model wrapped around it.
func ExtractJSON(s string) ([]byte, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrInvalidResponse)
	}
	return []byte(s[start : end+1]), nil
}

// DecodeExtraction validates raw against the extraction schema and decodes it.
func DecodeExtraction(raw []byte) (Extraction, error) {
	raw = bytes.TrimSpace(raw)
	if err := schemas.ValidateExtraction(raw); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	var ex Extraction
	if err := json.Unmarshal(raw, &ex); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return ex, nil
}

// DecodeNarrative extracts, validates and decodes a narrative reply.
func DecodeNarrative(reply string) (Narrative, error) {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return Narrative{}, err
	}
	if err := schemas.ValidateNarrative(raw); err != nil {
		return Narrative{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	var n Narrative
	if err := json.Unmarshal(raw, &n); err != nil {
		return Narrative{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return n, nil
}

// CleanStatement trims whitespace and wrapping quotes from a one-line reply.
func CleanStatement(reply string) string {
	s := strings.TrimSpace(reply)
	s = strings.Trim(s, "\"“”")
	return strings.TrimSpace(s)
}
