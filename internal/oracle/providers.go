package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Provider names accepted by NewClient.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ErrNoAPIKey is returned when a provider is selected without credentials.
var ErrNoAPIKey = errors.New("no API key configured")

// ProviderConfig selects and parameterises a provider.
type ProviderConfig struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
	APIKey      string
}

// NewClient builds the Client named by cfg.Provider.
func NewClient(ctx context.Context, cfg ProviderConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Provider, ErrNoAPIKey)
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	case ProviderAnthropic:
		return NewAnthropic(cfg), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Gemini calls the Google Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    ProviderConfig
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg ProviderConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) Complete(ctx context.Context, p Prompt) (string, error) {
	conf := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.cfg.Temperature)),
	}
	if g.cfg.MaxTokens > 0 {
		conf.MaxOutputTokens = int32(g.cfg.MaxTokens)
	}
	if p.System != "" {
		conf.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(p.User), conf)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned no text")
	}
	return text, nil
}

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    ProviderConfig
}

// NewAnthropic creates an Anthropic client.
func NewAnthropic(cfg ProviderConfig) *Anthropic {
	return &Anthropic{client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)), cfg: cfg}
}

func (a *Anthropic) Complete(ctx context.Context, p Prompt) (string, error) {
	maxTokens := int64(a.cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)),
		},
		Temperature: anthropic.Float(a.cfg.Temperature),
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic returned no text")
	}
	return sb.String(), nil
}

// OpenAI calls the OpenAI chat completions API.
type OpenAI struct {
	client *openai.Client
	cfg    ProviderConfig
}

// NewOpenAI creates an OpenAI client.
func NewOpenAI(cfg ProviderConfig) *OpenAI {
	return &OpenAI{client: openai.NewClient(cfg.APIKey), cfg: cfg}
}

func (o *OpenAI) Complete(ctx context.Context, p Prompt) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if p.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               o.cfg.Model,
		Messages:            msgs,
		MaxCompletionTokens: o.cfg.MaxTokens,
		Temperature:         float32(o.cfg.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
