package lesson

import (
	"context"
	"regexp"
	"strings"
)

// Content is the structured outline extracted from a lesson document.
type Content struct {
	Introduction    string `json:"introduction"`
	Body            string `json:"body"`
	Conclusion      string `json:"conclusion"`
	PainPoints      string `json:"pain_points,omitempty"`
	VocabularyNotes string `json:"vocabulary_notes,omitempty"`
}

// Analyzer turns raw lesson text into a structured outline. The session core
// never calls this directly; only the HTTP lesson endpoints do, so a slow or
// failing analyzer cannot stall the realtime protocol.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*Content, error)
}

// OutlineAnalyzer is a local heuristic analyzer: first fifth of the
// paragraphs is the introduction, last 15% the conclusion, the rest the
// body. Capitalized multi-word phrases are surfaced as vocabulary terms.
// It stands in wherever a hosted analysis service is not configured.
type OutlineAnalyzer struct{}

// NewOutlineAnalyzer creates the heuristic analyzer.
func NewOutlineAnalyzer() *OutlineAnalyzer {
	return &OutlineAnalyzer{}
}

var termRegex = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`)

// Analyze splits the document into outline sections.
func (a *OutlineAnalyzer) Analyze(ctx context.Context, text string) (*Content, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paragraphs := splitParagraphs(text)

	introEnd := (len(paragraphs) + 4) / 5             // ceil(20%)
	conclusionStart := len(paragraphs) * 85 / 100 // floor(85%)
	if conclusionStart <= introEnd {
		conclusionStart = len(paragraphs)
	}

	content := &Content{
		Introduction: strings.Join(paragraphs[:introEnd], "\n\n"),
		Body:         strings.Join(paragraphs[introEnd:conclusionStart], "\n\n"),
		Conclusion:   strings.Join(paragraphs[conclusionStart:], "\n\n"),
	}
	if content.Introduction == "" {
		content.Introduction = "Introduction not identified in the document."
	}
	if content.Body == "" {
		content.Body = "Main content not identified in the document."
	}
	if content.Conclusion == "" {
		content.Conclusion = "Conclusion not identified in the document."
	}

	if terms := extractVocabularyTerms(text); len(terms) > 0 {
		content.VocabularyNotes = "Key terms: " + strings.Join(terms, ", ")
	}
	return content, nil
}

func splitParagraphs(text string) []string {
	raw := regexp.MustCompile(`\r?\n\r?\n`).Split(text, -1)
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

func extractVocabularyTerms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, match := range termRegex.FindAllString(text, -1) {
		if seen[match] {
			continue
		}
		seen[match] = true
		terms = append(terms, match)
		if len(terms) == 10 {
			break
		}
	}
	return terms
}
