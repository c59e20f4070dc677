package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// EmbeddingService is the vector embedding service interface.
type EmbeddingService interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int
}

type embeddingService struct {
	client     *openai.Client
	model      string
	dimensions int
	maxRetries int
}

// NewEmbeddingService creates a new EmbeddingService.
func NewEmbeddingService(cfg *EmbeddingConfig) (EmbeddingService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding API key is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", cfg.Dimensions)
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

	return &embeddingService{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxRetries: maxRetries,
	}, nil
}

func (s *embeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

func (s *embeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	// Newlines degrade embedding quality on some models.
	cleaned := make([]string, len(texts))
	for i, text := range texts {
		cleaned[i] = strings.ReplaceAll(strings.ReplaceAll(text, "\n", " "), "\r", " ")
	}

	var vectors [][]float32
	err := doWithRetry(ctx, s.maxRetries, func() error {
		req := openai.EmbeddingRequest{
			Input: cleaned,
			Model: openai.EmbeddingModel(s.model),
		}

		resp, err := s.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return fmt.Errorf("create embeddings failed: %w", err)
		}
		if len(resp.Data) == 0 {
			return errors.New("empty embedding response")
		}

		vectors = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			if len(data.Embedding) != s.dimensions {
				// Wrong dimension would corrupt the vector store; never retry.
				return Permanent(fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dimensions, len(data.Embedding)))
			}
			vectors[i] = data.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return vectors, nil
}

func (s *embeddingService) Dimensions() int {
	return s.dimensions
}
