package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/evrenesat/askygo/internal/config"
	"github.com/evrenesat/askygo/internal/retry"
)

// OpenAIProvider implements Provider using an OpenAI-compatible embeddings
// endpoint, retrying transient failures with jittered exponential backoff.
type OpenAIProvider struct {
	client       *openai.Client
	model        string
	dimension    int
	maxBatchSize int
	retryConfig  retry.Config
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider builds an OpenAIProvider from the embeddings config section.
func NewOpenAIProvider(cfg config.EmbeddingsConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embeddings: api_key is required for the openai provider")
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	dim := cfg.Dimension
	if dim <= 0 {
		dim = dimensionForModel(model)
	}

	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 96
	}

	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(oaiCfg),
		model:        model,
		dimension:    dim,
		maxBatchSize: maxBatch,
		retryConfig: retry.Config{
			MaxAttempts:  4,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Factor:       2.0,
			Jitter:       true,
		},
	}, nil
}

func dimensionForModel(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	default:
		return 1536
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai:" + p.model }

// Dimension implements Provider.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// MaxBatchSize implements Provider.
func (p *OpenAIProvider) MaxBatchSize() int { return p.maxBatchSize }

// Embed implements Provider.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embeddings: no vector returned for single text")
	}
	return vectors[0], nil
}

// EmbedBatch implements Provider, splitting texts into MaxBatchSize-sized
// requests and retrying each request independently.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.maxBatchSize {
		end := start + p.maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, result := retry.DoWithValue(ctx, p.retryConfig, func() ([][]float32, error) {
			resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: texts[start:end],
				Model: openai.EmbeddingModel(p.model),
			})
			if err != nil {
				return nil, err
			}

			out := make([][]float32, len(resp.Data))
			for _, d := range resp.Data {
				out[d.Index] = d.Embedding
			}
			return out, nil
		})
		if result.Err != nil {
			return nil, fmt.Errorf("embeddings: batch [%d:%d] failed after %d attempts: %w", start, end, result.Attempts, result.Err)
		}

		results = append(results, batch...)
	}

	return results, nil
}
