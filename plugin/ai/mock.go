package ai

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
)

// MockEmbeddingService is a deterministic EmbeddingService for testing.
// Identical text always yields an identical vector.
type MockEmbeddingService struct {
	mu         sync.Mutex
	dimensions int
	calls      int
	failWith   error
}

// NewMockEmbeddingService creates a new MockEmbeddingService.
func NewMockEmbeddingService(dimensions int) *MockEmbeddingService {
	return &MockEmbeddingService{dimensions: dimensions}
}

// FailWith makes every subsequent call return err.
func (m *MockEmbeddingService) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Calls returns how many embedding requests were made.
func (m *MockEmbeddingService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *MockEmbeddingService) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failWith != nil {
		return nil, m.failWith
	}
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = m.vectorFor(text)
	}
	return vectors, nil
}

func (m *MockEmbeddingService) Dimensions() int {
	return m.dimensions
}

// vectorFor hashes the text into a deterministic pseudo-embedding.
func (m *MockEmbeddingService) vectorFor(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vector := make([]float32, m.dimensions)
	for i := range vector {
		seed = seed*6364136223846793005 + 1442695040888963407
		vector[i] = float32(seed%1000) / 1000.0
	}
	return vector
}

// MockChatService is a scripted ChatService for testing.
type MockChatService struct {
	mu       sync.Mutex
	response string
	failWith error
	calls    int
}

// NewMockChatService creates a MockChatService that always answers response.
func NewMockChatService(response string) *MockChatService {
	return &MockChatService{response: response}
}

// FailWith makes every subsequent call return err.
func (m *MockChatService) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Calls returns how many completions were requested.
func (m *MockChatService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockChatService) Complete(_ context.Context, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failWith != nil {
		return "", m.failWith
	}
	return m.response, nil
}
