package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// openaiEmbedder is an Embedder backed by any OpenAI-compatible embedding
// endpoint (openai, siliconflow, ollama, dashscope, ...). It is the
// alternative to the default Gemini embedder for deployments that keep
// embeddings off the generation account.
type openaiEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder creates an Embedder for an OpenAI-compatible provider.
func NewOpenAIEmbedder(apiKey, baseURL, model string) Embedder {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &openaiEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}
}

func (s *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(s.model),
	}
	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}
