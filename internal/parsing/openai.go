package parsing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/ratelimit"
	"github.com/go-resty/resty/v2"
)

const (
	defaultParseTimeout = 30 * time.Second
	defaultModel        = "gpt-4o-mini"

	// rateLimitScope is the limiter bucket shared by all parse calls.
	rateLimitScope = "parse"
)

const systemPrompt = "You extract structured stamp personalizations from " +
	"e-commerce order variation text. Respond with strict JSON only, no prose. " +
	"The JSON object has keys: variations (object of string to string), " +
	"hasMultiple (boolean), personalizations (array of arrays of {id, value}), " +
	"originalVariations (string). Field ids must come from the provided field " +
	"descriptors; never invent ids."

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

var _ Parser = (*OpenAIParser)(nil)

// OpenAIParser calls a chat-completions compatible endpoint to turn raw
// variation text into structured personalizations. Calls are throttled
// through the shared rate limiter to stay inside the API quota.
type OpenAIParser struct {
	client  *resty.Client
	baseURL string
	apiKey  string
	model   string
	limiter ratelimit.RateLimiter
}

func NewOpenAIParser(baseURL, apiKey, model string, limiter ratelimit.RateLimiter) (*OpenAIParser, error) {
	client := resty.New()
	client.SetTimeout(defaultParseTimeout)
	client.SetRetryCount(0)

	return NewOpenAIParserWithClient(baseURL, apiKey, model, limiter, client)
}

func NewOpenAIParserWithClient(
	baseURL, apiKey, model string,
	limiter ratelimit.RateLimiter,
	client *resty.Client,
) (*OpenAIParser, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBase == "" {
		trimmedBase = "https://api.openai.com/v1"
	}
	trimmedModel := strings.TrimSpace(model)
	if trimmedModel == "" {
		trimmedModel = defaultModel
	}

	return &OpenAIParser{
		client:  client,
		baseURL: trimmedBase,
		apiKey:  strings.TrimSpace(apiKey),
		model:   trimmedModel,
		limiter: limiter,
	}, nil
}

func (p *OpenAIParser) Parse(ctx context.Context, req Request) (*Result, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("parser is not initialized")
	}
	if strings.TrimSpace(req.RawText) == "" {
		return nil, fmt.Errorf("%w: empty variation text", domain.ErrParsing)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, rateLimitScope); err != nil {
			return nil, fmt.Errorf("%w: rate limiter wait failed: %v", domain.ErrParsing, err)
		}
	}

	userPrompt, err := buildUserPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParsing, err)
	}

	payload := chatRequest{
		Model:       p.model,
		Temperature: 0,
		ResponseFormat: &chatFormat{
			Type: "json_object",
		},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+p.apiKey).
		SetBody(payload).
		Post(p.baseURL + "/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", domain.ErrParsing, err)
	}
	if response.StatusCode() < http.StatusOK || response.StatusCode() >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: collaborator returned status %d: %s",
			domain.ErrParsing, response.StatusCode(), strings.TrimSpace(response.String()))
	}

	var chat chatResponse
	if err := json.Unmarshal(response.Body(), &chat); err != nil {
		return nil, fmt.Errorf("%w: invalid response envelope: %v", domain.ErrParsing, err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: collaborator returned no choices", domain.ErrParsing)
	}

	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	var result Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("%w: collaborator returned non-JSON content: %v", domain.ErrParsing, err)
	}

	return normalizeResult(&result, req), nil
}

// buildUserPrompt embeds the raw text and field descriptors as a JSON payload
// so the collaborator never has to guess at quoting.
func buildUserPrompt(req Request) (string, error) {
	payload := struct {
		VariationText string                   `json:"variationText"`
		Fields        []domain.FieldDescriptor `json:"fields,omitempty"`
	}{
		VariationText: req.RawText,
		Fields:        req.Fields,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode prompt payload: %w", err)
	}
	return string(encoded), nil
}
