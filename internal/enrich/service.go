package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/mailscope-backend/internal/platform/logger"
	"github.com/yungbote/mailscope-backend/internal/platform/openai"
)

// TargetLanguage is the canonical language every enriched body ends up in.
const TargetLanguage = "en"

const cleanupSystemPrompt = `You clean raw emails for a search index.
Remove security banners (for example "EXTERNAL EMAIL", "This message came from outside your organization"),
link-rewriting artifacts from gateways such as proofpoint.com, barracuda.com or mimecast.com,
signatures, legal disclaimers, tracking pixels and quoted earlier messages in the thread.
Keep every sentence the sender actually wrote. Do not paraphrase or summarize.
Detect the language of the remaining text and report it as a lowercase ISO 639-1 code.`

const translateSystemPrompt = `You translate email text into English.
Preserve meaning, names, numbers, dates and formatting. Do not add commentary.
If the text is already English, return it unchanged and set was_translated to false.`

const summarizeSystemPrompt = `You summarize one email for a search index.
Write a dense plain-text summary that keeps the concrete facts: who, what,
amounts, dates, decisions and requested actions. No preamble, no bullet labels.`

const threadSummarySystemPrompt = `You summarize an email conversation for a search index.
The messages are in chronological order. Write a short plain-text narrative of
what happened across the whole thread: decisions, open questions and who owes
whom what. No preamble.`

type CleanupInput struct {
	Subject  string
	From     string
	To       string
	Date     string
	BodyText string
	BodyHTML string
}

type CleanupResult struct {
	Body     string
	Language string
}

type TranslateResult struct {
	Text             string
	WasTranslated    bool
	DetectedLanguage string
}

// Service wraps the model calls of the process stage. Every method returns
// validated output or an error; callers decide retry semantics.
type Service struct {
	log *logger.Logger
	ai  openai.Client
}

func NewService(log *logger.Logger, ai openai.Client) *Service {
	return &Service{
		log: log.With("service", "EnrichService"),
		ai:  ai,
	}
}

var cleanupSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"clean_text": map[string]any{
			"type":        "string",
			"description": "The cleaned body with all boilerplate removed.",
		},
		"language": map[string]any{
			"type":        "string",
			"description": "Lowercase ISO 639-1 code of the cleaned text.",
		},
		"removed_blocks": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type": map[string]any{
						"type": "string",
						"enum": []string{"banner", "signature", "legal", "thread", "tracking", "other"},
					},
					"reason": map[string]any{"type": "string"},
				},
				"required":             []string{"type", "reason"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"clean_text", "language", "removed_blocks"},
	"additionalProperties": false,
}

func (s *Service) Cleanup(ctx context.Context, in CleanupInput) (*CleanupResult, error) {
	body := strings.TrimSpace(in.BodyText)
	if body == "" {
		body = strings.TrimSpace(in.BodyHTML)
	}
	if body == "" {
		return nil, fmt.Errorf("cleanup: empty body")
	}

	user := fmt.Sprintf("Subject: %s\nFrom: %s\nTo: %s\nDate: %s\n\n%s",
		in.Subject, in.From, in.To, in.Date, body)

	obj, err := s.ai.GenerateJSON(ctx, cleanupSystemPrompt, user, "email_cleanup_output", cleanupSchema)
	if err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}

	cleanText, _ := obj["clean_text"].(string)
	cleanText = strings.TrimSpace(cleanText)
	if cleanText == "" {
		return nil, fmt.Errorf("cleanup: model returned empty clean_text")
	}
	language := normalizeLanguage(obj["language"])
	if language == "" {
		return nil, fmt.Errorf("cleanup: model returned no language")
	}

	if blocks, ok := obj["removed_blocks"].([]any); ok && len(blocks) > 0 {
		s.log.Debug("Email cleanup removed blocks", "count", len(blocks))
	}
	return &CleanupResult{Body: cleanText, Language: language}, nil
}

var translateSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"translated_text":   map[string]any{"type": "string"},
		"was_translated":    map[string]any{"type": "boolean"},
		"detected_language": map[string]any{"type": []string{"string", "null"}},
	},
	"required":             []string{"translated_text", "was_translated", "detected_language"},
	"additionalProperties": false,
}

func (s *Service) Translate(ctx context.Context, text string) (*TranslateResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("translate: empty input")
	}

	obj, err := s.ai.GenerateJSON(ctx, translateSystemPrompt, text, "translation_output", translateSchema)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}

	translated, _ := obj["translated_text"].(string)
	translated = strings.TrimSpace(translated)
	if translated == "" {
		return nil, fmt.Errorf("translate: model returned empty translated_text")
	}
	wasTranslated, _ := obj["was_translated"].(bool)
	return &TranslateResult{
		Text:             translated,
		WasTranslated:    wasTranslated,
		DetectedLanguage: normalizeLanguage(obj["detected_language"]),
	}, nil
}

func (s *Service) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("summarize: empty input")
	}
	out, err := s.ai.GenerateText(ctx, summarizeSystemPrompt, text)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("summarize: model returned empty summary")
	}
	return out, nil
}

// SummarizeThread summarizes the messages of one conversation, oldest first.
func (s *Service) SummarizeThread(ctx context.Context, bodies []string) (string, error) {
	var filtered []string
	for _, b := range bodies {
		b = strings.TrimSpace(b)
		if b != "" {
			filtered = append(filtered, b)
		}
	}
	if len(filtered) == 0 {
		return "", fmt.Errorf("summarize thread: no messages")
	}

	var sb strings.Builder
	for i, b := range filtered {
		fmt.Fprintf(&sb, "--- Message %d ---\n%s\n\n", i+1, b)
	}
	out, err := s.ai.GenerateText(ctx, threadSummarySystemPrompt, sb.String())
	if err != nil {
		return "", fmt.Errorf("summarize thread: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("summarize thread: model returned empty summary")
	}
	return out, nil
}

func normalizeLanguage(v any) string {
	s, _ := v.(string)
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	// "en-US" style tags collapse to the primary subtag.
	if i := strings.IndexAny(s, "-_"); i > 0 {
		s = s[:i]
	}
	if len(s) != 2 {
		return ""
	}
	return s
}
