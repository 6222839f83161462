package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/DreamCats/ctxportal/internal/config"
	"github.com/DreamCats/ctxportal/internal/errs"
	"github.com/DreamCats/ctxportal/internal/logging"
)

// Provider turns text into fixed-dimension vectors.
//
// Identity is the key vectors are stored under. It must be stable for a
// configuration and change whenever the configuration changes the vector
// space.
type Provider interface {
	Encode(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
	Identity() string
}

// Fitter is implemented by providers whose vector space is learned from the
// corpus. Fit replaces the vocabulary; Encode never changes it.
type Fitter interface {
	Fit(ctx context.Context, corpus []string) error
	Fitted() bool
}

// Snapshotter exports and restores a fitted state so a later process can
// transform against the same vocabulary.
type Snapshotter interface {
	Snapshot() ([]byte, error)
	RestoreSnapshot(data []byte) error
}

// ErrNotFitted is returned by Encode on a lexical provider that has never
// been fitted or restored.
var ErrNotFitted = errors.New("tfidf: vocabulary not fitted")

const (
	ProviderTFIDF  = "tfidf"
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"
)

// NewProvider builds the provider named by cfg.Provider. Local and OpenAI
// providers are wrapped in the on-disk encode cache when cfg.CachePath is
// set; callers should Close the result if it implements io.Closer.
func NewProvider(ctx context.Context, cfg *config.EmbeddingConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)

	switch cfg.Provider {
	case ProviderTFIDF:
		lex, err := NewLexical(cfg.MaxFeatures)
		if err != nil {
			return nil, err
		}
		return lex, nil
	case ProviderLocal:
		p, err = NewLocalProvider(ctx, cfg)
	case ProviderOpenAI:
		p, err = NewOpenAIProvider(cfg)
	default:
		return nil, &errs.ConfigurationError{
			Field:  "embedding.provider",
			Reason: fmt.Sprintf("unsupported embedding provider: %s", cfg.Provider),
		}
	}
	if err != nil {
		return nil, err
	}

	if cfg.CachePath == "" {
		return p, nil
	}
	cached, err := NewCachedProvider(cfg.CachePath, p)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	logging.Debug("Embedding cache enabled", map[string]interface{}{
		"path":     cfg.CachePath,
		"identity": p.Identity(),
	})
	return cached, nil
}
