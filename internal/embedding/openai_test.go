package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DreamCats/ctxportal/internal/config"
	"github.com/DreamCats/ctxportal/internal/errs"
)

// newOpenAIServer answers /embeddings with dim-sized vectors. statuses, if
// set, are returned in order before the server starts succeeding.
func newOpenAIServer(t *testing.T, dim int, statuses []int) *httptest.Server {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			w.Write([]byte(`{"error":{"message":"try later"}}`))
			return
		}

		var req OpenAIEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var resp OpenAIEmbeddingResponse
		resp.Model = req.Model
		for i, in := range req.Input {
			vec := make([]float64, dim)
			vec[0] = float64(len(in))
			vec[dim-1] = float64(i + 1)
			resp.Data = append(resp.Data, struct {
				Embedding []float64 `json:"embedding"`
				Index     int       `json:"index"`
				Object    string    `json:"object"`
			}{Embedding: vec, Index: i, Object: "embedding"})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openAIConfig(endpoint string) *config.EmbeddingConfig {
	cfg := &config.EmbeddingConfig{
		Provider:       "openai",
		Model:          "text-embedding-3-small",
		Endpoint:       endpoint,
		BatchSize:      2,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		Timeout:        5 * time.Second,
	}
	cfg.SetAPIKey("sk-very-secret")
	return cfg
}

func TestOpenAIRequiresCredential(t *testing.T) {
	cfg := openAIConfig("http://127.0.0.1:0")
	cfg.SetAPIKey("")

	_, err := NewOpenAIProvider(cfg)
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
	assert.Contains(t, err.Error(), config.APIKeyEnv)
}

func TestOpenAIIdentityAndDimension(t *testing.T) {
	cfg := openAIConfig("")
	p, err := NewOpenAIProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai_text-embedding-3-small", p.Identity())
	assert.Equal(t, 1536, p.Dimension())

	cfg.Model = "text-embedding-3-large"
	p, err = NewOpenAIProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3072, p.Dimension())

	cfg.Dimensions = 256
	p, err = NewOpenAIProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai_text-embedding-3-large_256", p.Identity())

	cfg.Model = "someone-elses-model"
	cfg.Dimensions = 0
	_, err = NewOpenAIProvider(cfg)
	assert.True(t, errs.IsConfiguration(err))
}

func TestOpenAIEncodeBatches(t *testing.T) {
	srv := newOpenAIServer(t, 1536, nil)
	p, err := NewOpenAIProvider(openAIConfig(srv.URL))
	require.NoError(t, err)

	vecs, err := p.Encode(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 1536)
	}
	// Inputs keep their order across the two requests.
	assert.Equal(t, 1.0, vecs[0][0])
	assert.Equal(t, 2.0, vecs[1][0])
	assert.Equal(t, 3.0, vecs[2][0])

	empty, err := p.Encode(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOpenAIValidatesBeforeRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(openAIConfig(srv.URL))
	require.NoError(t, err)

	_, err = p.Encode(context.Background(), []string{"fine", "  "})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestOpenAIRetriesTransientFailures(t *testing.T) {
	srv := newOpenAIServer(t, 1536, []int{http.StatusTooManyRequests, http.StatusBadGateway})
	p, err := NewOpenAIProvider(openAIConfig(srv.URL))
	require.NoError(t, err)

	vecs, err := p.Encode(context.Background(), []string{"retry me"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
}

func TestOpenAIGivesUpAfterMaxRetries(t *testing.T) {
	srv := newOpenAIServer(t, 1536, []int{503, 503, 503, 503, 503})
	p, err := NewOpenAIProvider(openAIConfig(srv.URL))
	require.NoError(t, err)

	_, err = p.Encode(context.Background(), []string{"x"})
	require.Error(t, err)

	var failure *errs.EncodingFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 4, failure.Attempts)
	assert.True(t, errs.IsTransient(err))
	assert.NotContains(t, err.Error(), "sk-very-secret")
}

func TestOpenAIPermanentErrorIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "Bearer sk-very-secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(openAIConfig(srv.URL))
	require.NoError(t, err)

	_, err = p.Encode(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.False(t, errs.IsTransient(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.True(t, strings.Contains(err.Error(), "401"))
}

func TestOpenAIRejectsWrongDimension(t *testing.T) {
	srv := newOpenAIServer(t, 8, nil)
	p, err := NewOpenAIProvider(openAIConfig(srv.URL))
	require.NoError(t, err)

	_, err = p.Encode(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestOpenAIRejectsDuplicateIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp OpenAIEmbeddingResponse
		for i := 0; i < 2; i++ {
			resp.Data = append(resp.Data, struct {
				Embedding []float64 `json:"embedding"`
				Index     int       `json:"index"`
				Object    string    `json:"object"`
			}{Embedding: make([]float64, 1536), Index: 0, Object: "embedding"})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(openAIConfig(srv.URL))
	require.NoError(t, err)
	require.Equal(t, 1536, p.Dimension())

	_, err = p.Encode(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate embedding index")
}

func TestOpenAICredentialFromEnvironment(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "sk-from-env")
	cfg, err := config.Parse([]byte("embedding:\n  provider: openai\n"))
	require.NoError(t, err)

	p, err := NewOpenAIProvider(&cfg.Embedding)
	require.NoError(t, err)
	assert.Equal(t, "openai_text-embedding-3-small", p.Identity())

	os.Unsetenv(config.APIKeyEnv)
	// Resolved once at load; later environment changes do not matter.
	_, err = NewOpenAIProvider(&cfg.Embedding)
	assert.NoError(t, err)
}
