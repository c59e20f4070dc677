package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// ChatService is the chat completion service interface.
type ChatService interface {
	// Complete sends a system and user prompt and returns the raw
	// completion text.
	Complete(ctx context.Context, system, user string) (string, error)
}

type chatService struct {
	client     *openai.Client
	model      string
	maxRetries int
}

// NewChatService creates a new ChatService.
func NewChatService(cfg *ChatConfig) (ChatService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("chat API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &chatService{
		client:     client,
		model:      cfg.Model,
		maxRetries: maxRetries,
	}, nil
}

func (s *chatService) Complete(ctx context.Context, system, user string) (string, error) {
	var result string
	err := doWithRetry(ctx, s.maxRetries, func() error {
		req := openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		}

		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return fmt.Errorf("create chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
