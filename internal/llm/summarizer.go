package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/shared"
	"github.com/openai/openai-go/v2/shared/constant"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// SummarizerOptions configures the excerpt summarizer.
type SummarizerOptions struct {
	Client       *Client
	Model        string
	Temperature  float64
	MaxRunes     int
	SystemPrompt string
}

// Summarizer writes short story excerpts through a chat completion model.
type Summarizer struct {
	client         *Client
	logger         *logrus.Logger
	model          string
	temperature    float64
	maxRunes       int
	systemPrompt   string
	responseFormat openai.ChatCompletionNewParamsResponseFormatUnion
}

const (
	defaultSummarizerSystemPrompt = `You write teaser excerpts for a bilingual site of urban legends and curious stories.
Summarise the story in one or two sentences without revealing its ending. Answer in the requested language only.
Do not use markdown or HTML.`
	defaultSummarizerTemperature = 0.3
	defaultExcerptRunes          = 200
)

var languageNames = map[string]string{
	"sq": "Albanian",
	"en": "English",
}

// NewSummarizer constructs a Summarizer.
func NewSummarizer(opts SummarizerOptions) (*Summarizer, error) {
	if opts.Client == nil {
		return nil, eris.New("llm client is required")
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, eris.New("summarizer model is required")
	}

	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultSummarizerTemperature
	}

	maxRunes := opts.MaxRunes
	if maxRunes <= 0 {
		maxRunes = defaultExcerptRunes
	}

	systemPrompt := strings.TrimSpace(opts.SystemPrompt)
	if systemPrompt == "" {
		systemPrompt = defaultSummarizerSystemPrompt
	}

	return &Summarizer{
		client:         opts.Client,
		logger:         opts.Client.logger,
		model:          model,
		temperature:    temperature,
		maxRunes:       maxRunes,
		systemPrompt:   systemPrompt,
		responseFormat: buildExcerptResponseFormat(maxRunes),
	}, nil
}

// Summarize returns an excerpt of text in language ("sq" or "en").
func (s *Summarizer) Summarize(ctx context.Context, text, language string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", eris.New("text is required")
	}

	languageName, ok := languageNames[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return "", eris.Errorf("unsupported language %q", language)
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(s.systemPrompt),
			openai.UserMessage(fmt.Sprintf("Write an excerpt in %s of at most %d characters for this story. Return JSON that matches the provided schema.\n\n%s", languageName, s.maxRunes, text)),
		},
		ResponseFormat: s.responseFormat,
		Temperature:    openai.Float(s.temperature),
	}

	fields := logrus.Fields{"language": language, "model": s.model}

	completion, err := s.client.chat.New(ctx, params)
	if err != nil {
		s.logError(fields, err, "requesting chat completion")
		return "", eris.Wrap(err, "requesting chat completion")
	}

	if len(completion.Choices) == 0 {
		err := eris.New("llm completion returned no choices")
		s.logError(fields, err, "processing chat completion")
		return "", err
	}

	choice := completion.Choices[0]
	if reason := strings.TrimSpace(choice.FinishReason); strings.EqualFold(reason, "content_filter") {
		err := eris.New("llm blocked the request via content filter")
		s.logError(fields, err, "summarizer blocked")
		return "", err
	}

	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		err := eris.Errorf("llm refused to summarise: %s", refusal)
		s.logError(fields, err, "summarizer refused")
		return "", err
	}

	excerpt, err := s.parseExcerpt(choice.Message.Content)
	if err != nil {
		s.logError(fields, err, "parsing llm response")
		return "", err
	}

	return excerpt, nil
}

type excerptPayload struct {
	Excerpt string `json:"excerpt"`
}

func (s *Summarizer) parseExcerpt(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "```"), "```")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return "", eris.New("llm response content is empty")
	}

	var payload excerptPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return "", eris.Wrap(err, "decoding llm response json")
	}

	excerpt := strings.Join(strings.Fields(payload.Excerpt), " ")
	if excerpt == "" {
		return "", eris.New("llm response missing excerpt field")
	}

	// Clamp to the teaser limit.
	if utf8.RuneCountInString(excerpt) > s.maxRunes {
		excerpt = strings.TrimSpace(string([]rune(excerpt)[:s.maxRunes-1])) + "…"
	}

	return excerpt, nil
}

func (s *Summarizer) logError(fields logrus.Fields, err error, message string) {
	if s.logger == nil || err == nil {
		return
	}

	entry := s.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}

func buildExcerptResponseFormat(maxRunes int) openai.ChatCompletionNewParamsResponseFormatUnion {
	schema := map[string]any{
		"type":                 "object",
		"required":             []string{"excerpt"},
		"additionalProperties": false,
		"properties": map[string]any{
			"excerpt": map[string]any{
				"type":        "string",
				"maxLength":   maxRunes,
				"description": "Plain text teaser of the story in the requested language.",
			},
		},
	}

	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        "story_excerpt",
				Description: openai.String("Structured story excerpt payload"),
				Strict:      openai.Bool(true),
				Schema:      schema,
			},
			Type: constant.ValueOf[constant.JSONSchema](),
		},
	}
}
