package empathy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	defaultAnthropicMaxTokens = 1024
	defaultTemperature        = 0.7
)

var (
	// ErrGeneratorDisabled is returned by the disabled generator on every call.
	ErrGeneratorDisabled = errors.New("empathy: text generation is not configured")
	errEmptyCompletion   = errors.New("empathy: completion contained no choices")
	errMissingAPIKey     = errors.New("empathy: api key is required")
	errMissingModel      = errors.New("empathy: model is required")
)

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// LangchainGenerator adapts a langchaingo chat model to Generator.
type LangchainGenerator struct {
	model llms.Model
}

// NewOpenAIGenerator builds a generator on top of langchaingo's OpenAI client.
func NewOpenAIGenerator(cfg OpenAIConfig) (*LangchainGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errMissingAPIKey
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errMissingModel
	}
	options := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithResponseFormat(&openai.ResponseFormat{Type: "json_object"}),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		options = append(options, openai.WithBaseURL(baseURL))
	}
	model, err := openai.New(options...)
	if err != nil {
		return nil, fmt.Errorf("empathy: create openai client: %w", err)
	}
	return NewLangchainGenerator(model), nil
}

// NewLangchainGenerator wraps any langchaingo model.
func NewLangchainGenerator(model llms.Model) *LangchainGenerator {
	return &LangchainGenerator{model: model}
}

func (g *LangchainGenerator) Generate(ctx context.Context, systemInstruction, userText string) (string, error) {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemInstruction)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(userText)},
		},
	}
	response, err := g.model.GenerateContent(ctx, messages, llms.WithTemperature(defaultTemperature))
	if err != nil {
		return "", err
	}
	if response == nil || len(response.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return response.Choices[0].Content, nil
}

// AnthropicConfig configures the Anthropic Messages backend.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// AnthropicGenerator calls the Anthropic Messages API.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicGenerator builds a generator on top of the Anthropic SDK.
func NewAnthropicGenerator(cfg AnthropicConfig) (*AnthropicGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errMissingAPIKey
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errMissingModel
	}
	requestOptions := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(baseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicGenerator{
		client:    anthropic.NewClient(requestOptions...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}, nil
}

func (g *AnthropicGenerator) Generate(ctx context.Context, systemInstruction, userText string) (string, error) {
	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemInstruction}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userText)),
		},
	})
	if err != nil {
		return "", err
	}
	var reply strings.Builder
	for _, block := range message.Content {
		reply.WriteString(block.Text)
	}
	if reply.Len() == 0 {
		return "", errEmptyCompletion
	}
	return reply.String(), nil
}

// DisabledGenerator stands in when no backend is configured.
type DisabledGenerator struct{}

func (DisabledGenerator) Generate(context.Context, string, string) (string, error) {
	return "", ErrGeneratorDisabled
}
