package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DreamCats/ctxportal/internal/embedding"
	"github.com/DreamCats/ctxportal/internal/errs"
	"github.com/DreamCats/ctxportal/internal/logging"
	"github.com/DreamCats/ctxportal/internal/semantic"
	"github.com/DreamCats/ctxportal/internal/store"
)

// VocabularyStore persists a fitted provider's snapshot.
type VocabularyStore interface {
	SaveVocabulary(ctx context.Context, model string, payload []byte) error
	LoadVocabulary(ctx context.Context, model string) ([]byte, error)
}

// ProgressReporter receives one tick per rebuilt kind.
type ProgressReporter interface {
	Start(total int)
	Increment()
	Finish()
}

// RefreshResult summarises one Refresh call.
type RefreshResult struct {
	Kind     store.ItemKind `json:"item_type"`
	Encoded  int            `json:"encoded"`
	Skipped  int            `json:"skipped"`  // missing rows or empty text
	Orphaned int            `json:"orphaned"` // deleted while encoding
}

// RebuildReport summarises RebuildAll. Failed holds the error text per kind;
// Err returns the error itself.
type RebuildReport struct {
	Provider  string                    `json:"provider"`
	Succeeded map[store.ItemKind]int    `json:"succeeded"`
	Failed    map[store.ItemKind]string `json:"failed,omitempty"`
	Cancelled bool                      `json:"cancelled"`
	Duration  time.Duration             `json:"duration"`

	causes map[store.ItemKind]error
}

// Err returns the error that failed kind, or nil.
func (r *RebuildReport) Err(kind store.ItemKind) error {
	return r.causes[kind]
}

// Coordinator keeps item_embeddings current for one provider. Refresh and
// RebuildAll are serialized.
type Coordinator struct {
	provider embedding.Provider
	vectors  VectorIndex
	source   SourceStore
	vocab    VocabularyStore
	progress ProgressReporter

	mu sync.Mutex
}

// NewCoordinator creates a coordinator. vocab may be nil when the provider
// has nothing to persist.
func NewCoordinator(provider embedding.Provider, vectors VectorIndex, source SourceStore, vocab VocabularyStore) *Coordinator {
	return &Coordinator{
		provider: provider,
		vectors:  vectors,
		source:   source,
		vocab:    vocab,
	}
}

// SetProgress installs a reporter for RebuildAll. nil disables reporting.
func (c *Coordinator) SetProgress(p ProgressReporter) {
	c.mu.Lock()
	c.progress = p
	c.mu.Unlock()
}

// Restore loads the last persisted vocabulary into an unfitted provider. A
// missing snapshot is not an error; the provider stays unfitted.
func (c *Coordinator) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.restoreLocked(ctx)
	return err
}

func (c *Coordinator) restoreLocked(ctx context.Context) (bool, error) {
	fitter, ok := c.provider.(embedding.Fitter)
	if !ok || fitter.Fitted() {
		return true, nil
	}
	snap, ok := c.provider.(embedding.Snapshotter)
	if !ok || c.vocab == nil {
		return false, nil
	}

	payload, err := c.vocab.LoadVocabulary(ctx, c.provider.Identity())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := snap.RestoreSnapshot(payload); err != nil {
		logging.Warn("Discarding unreadable vocabulary", map[string]interface{}{
			"provider": c.provider.Identity(),
			"error":    err.Error(),
		})
		return false, nil
	}
	if !fitter.Fitted() {
		// An empty corpus was fitted last time; refit now that there may be text.
		return false, nil
	}
	logging.Info("Restored lexical vocabulary", map[string]interface{}{
		"provider":  c.provider.Identity(),
		"dimension": c.provider.Dimension(),
	})
	return true, nil
}

// Refresh re-embeds the given items of one kind, or every item of the kind
// when ids is empty. Text is encoded with no transaction open and written in
// one atomic batch. An unfitted lexical provider is fitted by a full rebuild
// first, which also covers the requested items.
func (c *Coordinator) Refresh(ctx context.Context, kind store.ItemKind, ids ...int64) (*RefreshResult, error) {
	if _, err := store.ParseKind(string(kind)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fitted, err := c.restoreLocked(ctx)
	if err != nil {
		return nil, err
	}
	if !fitted {
		logging.Info("Provider not fitted, rebuilding all embeddings", map[string]interface{}{
			"provider": c.provider.Identity(),
			"trigger":  string(kind),
		})
		report, err := c.rebuildLocked(ctx)
		if err != nil {
			return nil, err
		}
		if err := report.Err(kind); err != nil {
			return nil, err
		}
		if report.Cancelled {
			return nil, ctx.Err()
		}
		return &RefreshResult{Kind: kind, Encoded: report.Succeeded[kind]}, nil
	}

	return c.refreshLocked(ctx, kind, ids, false)
}

// refreshLocked encodes the items and writes their vectors. With replace set
// the kind's existing vectors for this provider are swapped out in the same
// transaction, which drops rows left over from an older vocabulary.
func (c *Coordinator) refreshLocked(ctx context.Context, kind store.ItemKind, ids []int64, replace bool) (*RefreshResult, error) {
	if len(ids) == 0 {
		var err error
		ids, err = c.source.ListIDs(ctx, kind)
		if err != nil {
			return nil, err
		}
	}

	result := &RefreshResult{Kind: kind}
	var (
		texts []string
		keep  []int64
	)
	for _, id := range ids {
		rec, err := c.source.GetItem(ctx, kind, id)
		if err != nil {
			return nil, err
		}
		text, ok := semantic.Extract(rec)
		if !ok || text == "" {
			result.Skipped++
			continue
		}
		texts = append(texts, text)
		keep = append(keep, id)
	}
	model := c.provider.Identity()
	if len(texts) == 0 {
		if replace {
			if _, err := c.vectors.ReplaceKind(ctx, model, kind, nil); err != nil {
				return nil, err
			}
		}
		return result, nil
	}

	vecs, err := c.provider.Encode(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("provider %s returned %d vectors for %d texts", c.provider.Identity(), len(vecs), len(texts))
	}

	batch := make([]store.Embedding, 0, len(vecs))
	for i, vec := range vecs {
		if len(vec) == 0 {
			return nil, &errs.EncodingFailure{
				Provider: model,
				Attempts: 1,
				Err:      fmt.Errorf("empty vector for %s %d", kind, keep[i]),
			}
		}
		batch = append(batch, store.Embedding{
			Kind:        kind,
			ItemID:      keep[i],
			Model:       model,
			Vector:      vec,
			TextContent: texts[i],
		})
	}

	var res store.UpsertResult
	if replace {
		res, err = c.vectors.ReplaceKind(ctx, model, kind, batch)
	} else {
		res, err = c.vectors.UpsertBatch(ctx, batch)
	}
	if err != nil {
		return nil, err
	}
	result.Encoded = res.Written
	result.Orphaned = res.Orphaned
	return result, nil
}

// RebuildAll re-embeds every record. A fitting provider is re-fitted over
// the whole corpus first and its vocabulary persisted. Kinds are processed
// in store.AllKinds order; a failing kind is recorded and the rest continue.
// Cancellation is checked between kinds.
func (c *Coordinator) RebuildAll(ctx context.Context) (*RebuildReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuildLocked(ctx)
}

func (c *Coordinator) rebuildLocked(ctx context.Context) (*RebuildReport, error) {
	start := time.Now()
	report := &RebuildReport{
		Provider:  c.provider.Identity(),
		Succeeded: make(map[store.ItemKind]int),
		Failed:    make(map[store.ItemKind]string),
		causes:    make(map[store.ItemKind]error),
	}

	if fitter, ok := c.provider.(embedding.Fitter); ok {
		if err := c.fit(ctx, fitter); err != nil {
			return nil, err
		}
	}

	if c.progress != nil {
		c.progress.Start(len(store.AllKinds))
		defer c.progress.Finish()
	}

	for _, kind := range store.AllKinds {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		res, err := c.refreshLocked(ctx, kind, nil, true)
		if err != nil {
			report.Failed[kind] = err.Error()
			report.causes[kind] = err
			logging.Error("Failed to rebuild embeddings", map[string]interface{}{
				"item_type": string(kind),
				"error":     err.Error(),
			})
		} else {
			report.Succeeded[kind] = res.Encoded
		}
		if c.progress != nil {
			c.progress.Increment()
		}
	}

	report.Duration = time.Since(start)
	logging.Info("Rebuilt embeddings", map[string]interface{}{
		"provider":  report.Provider,
		"succeeded": len(report.Succeeded),
		"failed":    len(report.Failed),
		"cancelled": report.Cancelled,
		"elapsed":   report.Duration.String(),
	})
	return report, nil
}

// fit re-fits over every record and persists the snapshot. Vectors from the
// previous vocabulary are replaced kind by kind as the rebuild proceeds.
func (c *Coordinator) fit(ctx context.Context, fitter embedding.Fitter) error {
	var corpus []string
	for _, kind := range store.AllKinds {
		ids, err := c.source.ListIDs(ctx, kind)
		if err != nil {
			return err
		}
		for _, id := range ids {
			rec, err := c.source.GetItem(ctx, kind, id)
			if err != nil {
				return err
			}
			if text, ok := semantic.Extract(rec); ok && text != "" {
				corpus = append(corpus, text)
			}
		}
	}

	if err := fitter.Fit(ctx, corpus); err != nil {
		return fmt.Errorf("fit %s: %w", c.provider.Identity(), err)
	}

	if snap, ok := c.provider.(embedding.Snapshotter); ok && c.vocab != nil {
		payload, err := snap.Snapshot()
		if err != nil {
			return err
		}
		if err := c.vocab.SaveVocabulary(ctx, c.provider.Identity(), payload); err != nil {
			return err
		}
	}

	logging.Info("Fitted lexical vocabulary", map[string]interface{}{
		"provider":  c.provider.Identity(),
		"documents": len(corpus),
		"dimension": c.provider.Dimension(),
	})
	return nil
}
