package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/DreamCats/ctxportal/internal/logging"
	"github.com/DreamCats/ctxportal/internal/store"
)

// CachedProvider memoizes another provider's vectors in a bbolt file. Each
// inner identity gets its own bucket, keyed by sha256 of the text.
type CachedProvider struct {
	inner  Provider
	db     *bbolt.DB
	bucket []byte
}

// NewCachedProvider opens (or creates) the cache at path.
func NewCachedProvider(path string, inner Provider) (*CachedProvider, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	bucket := []byte(inner.Identity())
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	return &CachedProvider{inner: inner, db: db, bucket: bucket}, nil
}

func (c *CachedProvider) Identity() string { return c.inner.Identity() }

func (c *CachedProvider) Dimension() int { return c.inner.Dimension() }

// Encode serves hits from the cache and sends all misses to the inner
// provider in one call.
func (c *CachedProvider) Encode(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float64, len(texts))
	keys := make([][]byte, len(texts))
	var missIdx []int

	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(c.bucket)
		for i, t := range texts {
			sum := sha256.Sum256([]byte(t))
			keys[i] = sum[:]
			data := b.Get(keys[i])
			if data == nil {
				missIdx = append(missIdx, i)
				continue
			}
			vec, err := store.DecodeVector(data, c.inner.Dimension())
			if err != nil {
				missIdx = append(missIdx, i)
				continue
			}
			out[i] = vec
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}

	if len(missIdx) == 0 {
		return out, nil
	}

	misses := make([]string, len(missIdx))
	for j, i := range missIdx {
		misses[j] = texts[i]
	}
	vecs, err := c.inner.Encode(ctx, misses)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
	}

	err = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(c.bucket)
		for j, i := range missIdx {
			if err := b.Put(keys[i], store.EncodeVector(vecs[j])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// The vectors are valid; only memoization failed.
		logging.Warn("Failed to write embedding cache", map[string]interface{}{
			"identity": c.Identity(),
			"error":    err.Error(),
		})
	}

	logging.Debug("Embedding cache lookup", map[string]interface{}{
		"identity": c.Identity(),
		"hits":     len(texts) - len(missIdx),
		"misses":   len(missIdx),
	})
	return out, nil
}

// Close closes the cache file.
func (c *CachedProvider) Close() error {
	return c.db.Close()
}
