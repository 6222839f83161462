package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/DreamCats/ctxportal/internal/config"
	"github.com/DreamCats/ctxportal/internal/errs"
	"github.com/DreamCats/ctxportal/internal/logging"
)

// openAIModelDimensions are the native output sizes of the known models.
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider calls the OpenAI embeddings API.
type OpenAIProvider struct {
	apiKey     string
	endpoint   string
	model      string
	dimensions int
	override   bool // request a non-native dimension
	batchSize  int
	policy     retryPolicy
	client     *http.Client
}

// OpenAIEmbeddingRequest is the request format for OpenAI API
type OpenAIEmbeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// OpenAIEmbeddingResponse is the response from OpenAI API
type OpenAIEmbeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
		Object    string    `json:"object"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIProvider creates a provider from the resolved credential. A
// missing credential fails here, before any request is made.
func NewOpenAIProvider(cfg *config.EmbeddingConfig) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, &errs.ConfigurationError{
			Field:  "embedding.api_key",
			Reason: "openai provider requires an API key (set embedding.api_key or " + config.APIKeyEnv + ")",
		}
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	native, known := openAIModelDimensions[model]
	dims := cfg.Dimensions
	switch {
	case dims == 0 && !known:
		return nil, &errs.ConfigurationError{
			Field:  "embedding.dimensions",
			Reason: fmt.Sprintf("model %s has no known dimension; set embedding.dimensions", model),
		}
	case dims == 0:
		dims = native
	}

	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	return &OpenAIProvider{
		apiKey:     apiKey,
		endpoint:   endpoint,
		model:      model,
		dimensions: dims,
		override:   dims != native,
		batchSize:  batchSize,
		policy:     retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: cfg.RetryBaseDelay},
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Identity is "openai_<model>", suffixed with the dimension when a
// non-native size is requested.
func (c *OpenAIProvider) Identity() string {
	id := "openai_" + c.model
	if c.override {
		id += "_" + strconv.Itoa(c.dimensions)
	}
	return id
}

func (c *OpenAIProvider) Dimension() int { return c.dimensions }

// Encode validates the whole batch before any request, then sends it in
// chunks of the configured batch size.
func (c *OpenAIProvider) Encode(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, errs.Invalid(fmt.Sprintf("texts[%d]", i), "must be a non-empty string")
		}
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		requestID := uuid.NewString()
		var vecs [][]float64
		err := withRetry(ctx, c.Identity(), requestID, c.policy, func() error {
			var err error
			vecs, err = c.embedBatch(ctx, requestID, texts[start:end])
			return err
		})
		if err != nil {
			logging.Error("Embedding request failed", map[string]interface{}{
				"provider":   c.Identity(),
				"request_id": requestID,
				"batch":      end - start,
				"error":      err.Error(),
			})
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *OpenAIProvider) embedBatch(ctx context.Context, requestID string, texts []string) ([][]float64, error) {
	req := OpenAIEmbeddingRequest{
		Input: texts,
		Model: c.model,
	}
	if c.override {
		req.Dimensions = c.dimensions
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errs.TransientProviderError{Provider: c.Identity(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.TransientProviderError{Provider: c.Identity(), StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(body), 256))
		if isRetryableStatus(resp.StatusCode) {
			return nil, &errs.TransientProviderError{Provider: c.Identity(), StatusCode: resp.StatusCode, Err: apiErr}
		}
		return nil, apiErr
	}

	var apiResp OpenAIEmbeddingResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	embeddings := make([][]float64, len(texts))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("invalid embedding index: %d", data.Index)
		}
		if embeddings[data.Index] != nil {
			return nil, fmt.Errorf("duplicate embedding index: %d", data.Index)
		}
		if len(data.Embedding) != c.dimensions {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", data.Index, len(data.Embedding), c.dimensions)
		}
		embeddings[data.Index] = data.Embedding
	}

	logging.Debug("Embedding batch encoded", map[string]interface{}{
		"provider":      c.Identity(),
		"request_id":    requestID,
		"batch":         len(texts),
		"prompt_tokens": apiResp.Usage.PromptTokens,
	})
	return embeddings, nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
