package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"funchatgo/internal/config"
	"funchatgo/internal/conversation"
	"funchatgo/internal/models"
)

const defaultMaxTokens = 3000

// ChatModel adapts an eino tool-calling chat model to the conversation loop.
type ChatModel struct {
	model model.ToolCallingChatModel
	name  string
}

// NewChatModel builds the chat model for a configured provider.
func NewChatModel(ctx context.Context, provider string, cfg config.ProviderConfig) (*ChatModel, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider %s: model required", provider)
	}
	var chatModel model.ToolCallingChatModel
	var err error

	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: cfg.APIKey,
		})
		if cerr != nil {
			return nil, fmt.Errorf("new gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		maxTokens := cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultMaxTokens
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return Wrap(chatModel, provider+"/"+cfg.Model), nil
}

// Wrap adapts an existing eino model.
func Wrap(m model.ToolCallingChatModel, name string) *ChatModel {
	return &ChatModel{model: m, name: name}
}

func (c *ChatModel) Name() string {
	return c.name
}

// Stream sends history to the model, advertising functions as tools.
func (c *ChatModel) Stream(ctx context.Context, history []models.Message, functions []*schema.ToolInfo) (conversation.DeltaStream, error) {
	m := c.model
	if len(functions) > 0 {
		bound, err := c.model.WithTools(functions)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		m = bound
	}
	reader, err := m.Stream(ctx, ToSchemaMessages(history))
	if err != nil {
		return nil, fmt.Errorf("generate ai stream failed: %w", err)
	}
	return newDeltaReader(reader), nil
}
