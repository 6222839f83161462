package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/DreamCats/ctxportal/internal/config"
	"github.com/DreamCats/ctxportal/internal/errs"
	"github.com/DreamCats/ctxportal/internal/logging"
)

const sampleText = "dimension check"

// LocalProvider encodes with a neural model served by Ollama's native
// /api/embed endpoint.
type LocalProvider struct {
	baseURL   string
	model     string
	dimension int
	batchSize int
	policy    retryPolicy
	client    *http.Client
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// NewLocalProvider creates the provider and fixes its dimension: the
// configured value, or the length of one sample encoding.
func NewLocalProvider(ctx context.Context, cfg *config.EmbeddingConfig) (*LocalProvider, error) {
	if cfg.Model == "" {
		return nil, &errs.ConfigurationError{Field: "embedding.model", Reason: "local provider requires a model"}
	}
	host := strings.TrimSuffix(cfg.Endpoint, "/")
	host = strings.TrimSuffix(host, "/v1")
	if host == "" {
		return nil, &errs.ConfigurationError{Field: "embedding.endpoint", Reason: "local provider requires an endpoint"}
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	p := &LocalProvider{
		baseURL:   host,
		model:     cfg.Model,
		dimension: cfg.Dimensions,
		batchSize: batchSize,
		policy:    retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: cfg.RetryBaseDelay},
		client:    &http.Client{Timeout: cfg.Timeout},
	}

	if p.dimension == 0 {
		vecs, err := p.embed(ctx, []string{sampleText})
		if err != nil {
			return nil, fmt.Errorf("failed to detect dimension of local model %s: %w", cfg.Model, err)
		}
		p.dimension = len(vecs[0])
		logging.Info("Detected local embedding dimension", map[string]interface{}{
			"model":     cfg.Model,
			"dimension": p.dimension,
		})
	}
	return p, nil
}

func (p *LocalProvider) Identity() string { return "local_" + p.model }

func (p *LocalProvider) Dimension() int { return p.dimension }

// Encode sends texts to the model in batches and checks every vector
// against the fixed dimension.
func (p *LocalProvider) Encode(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for i, v := range vecs {
			if len(v) != p.dimension {
				return nil, &errs.EncodingFailure{
					Provider: p.Identity(),
					Attempts: 1,
					Err:      fmt.Errorf("embedding %d has dimension %d, want %d", start+i, len(v), p.dimension),
				}
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *LocalProvider) embed(ctx context.Context, texts []string) ([][]float64, error) {
	requestID := uuid.NewString()
	var vecs [][]float64
	err := withRetry(ctx, p.Identity(), requestID, p.policy, func() error {
		var err error
		vecs, err = p.post(ctx, texts)
		return err
	})
	return vecs, err
}

func (p *LocalProvider) post(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errs.TransientProviderError{Provider: p.Identity(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := fmt.Errorf("Ollama API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 256))
		if isRetryableStatus(resp.StatusCode) {
			return nil, &errs.TransientProviderError{Provider: p.Identity(), StatusCode: resp.StatusCode, Err: apiErr}
		}
		return nil, apiErr
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}
