package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/starford/scholia/internal/apperr"
	"github.com/starford/scholia/internal/models"
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// OpenAI implements Client on top of the chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI builds a client. An empty BaseURL uses the library default.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		c.HTTPClient = cfg.HTTPClient
	}
	logger.Info("analysis: client initialised",
		slog.String("base_url", c.BaseURL),
		slog.String("model", cfg.Model))
	return &OpenAI{
		client: openai.NewClientWithConfig(c),
		model:  cfg.Model,
		logger: logger,
	}
}

var _ Client = (*OpenAI)(nil)

// ExtractText sends the image as a data URI part and returns the transcription.
func (o *OpenAI) ExtractText(ctx context.Context, imageBase64, mimeType string) (string, error) {
	if imageBase64 == "" || mimeType == "" {
		return "", fmt.Errorf("%w: image and mime type are required", apperr.ErrExtractionFailed)
	}
	msg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: extractPrompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + mimeType + ";base64," + imageBase64,
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	}
	out, err := o.complete(ctx, []openai.ChatCompletionMessage{msg}, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrExtractionFailed, err)
	}
	text := strings.TrimSpace(out)
	if text == "" {
		return "", fmt.Errorf("%w: empty transcription", apperr.ErrExtractionFailed)
	}
	return text, nil
}

// Analyze returns summary points and quiz questions for content.
func (o *OpenAI) Analyze(ctx context.Context, content string) (Result, error) {
	out, err := o.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: analyzeSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: content},
	}, true)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", apperr.ErrAnalysisFailed, err)
	}
	var res Result
	if err := decodeJSON(out, &res); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", apperr.ErrAnalysisFailed, err)
	}
	res.Summary = nonBlank(res.Summary)
	res.Questions = nonBlank(res.Questions)
	return res, nil
}

// Evaluate grades items against reference.
func (o *OpenAI) Evaluate(ctx context.Context, reference string, items []GradeItem) ([]Evaluation, error) {
	if len(items) == 0 {
		return []Evaluation{}, nil
	}
	payload, err := json.Marshal(map[string]any{"answers": items})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", apperr.ErrEvaluationFailed, err)
	}
	out, err := o.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(evaluateSystemPrompt, reference)},
		{Role: openai.ChatMessageRoleUser, Content: string(payload)},
	}, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrEvaluationFailed, err)
	}
	var res struct {
		Results []Evaluation `json:"results"`
	}
	if err := decodeJSON(out, &res); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", apperr.ErrEvaluationFailed, err)
	}
	if res.Results == nil {
		res.Results = []Evaluation{}
	}
	return res.Results, nil
}

// Chat answers message grounded in noteContent, replaying prior turns.
func (o *OpenAI) Chat(ctx context.Context, noteContent string, prior []Turn, message string) (Reply, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(prior)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(chatSystemPrompt, noteContent),
	})
	for _, t := range prior {
		role := openai.ChatMessageRoleUser
		if t.Role == models.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	out, err := o.complete(ctx, msgs, true)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", apperr.ErrChatFailed, err)
	}
	var reply Reply
	if err := decodeJSON(out, &reply); err != nil {
		return Reply{}, fmt.Errorf("%w: decode response: %v", apperr.ErrChatFailed, err)
	}
	if strings.TrimSpace(reply.Text) == "" {
		return Reply{}, fmt.Errorf("%w: empty reply", apperr.ErrChatFailed)
	}
	if a := reply.Attachment; a != nil {
		if (a.Type != models.AttachmentCode && a.Type != models.AttachmentImage) || a.Content == "" {
			reply.Attachment = nil
		}
	}
	return reply, nil
}

func (o *OpenAI) complete(ctx context.Context, msgs []openai.ChatCompletionMessage, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.logger.Error("analysis: completion failed", slog.String("model", o.model), slog.String("error", err.Error()))
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}
	o.logger.Debug("analysis: completion received",
		slog.String("model", o.model),
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return resp.Choices[0].Message.Content, nil
}

// decodeJSON tolerates replies wrapped in a Markdown code fence.
func decodeJSON(s string, v any) error {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return json.Unmarshal([]byte(s), v)
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
