// Package retrieval scores stored vectors against a query and keeps the
// vector table in step with the source records.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DreamCats/ctxportal/internal/embedding"
	"github.com/DreamCats/ctxportal/internal/errs"
	"github.com/DreamCats/ctxportal/internal/logging"
	"github.com/DreamCats/ctxportal/internal/store"
)

// SourceStore is the read side of the relational store.
type SourceStore interface {
	ListIDs(ctx context.Context, kind store.ItemKind) ([]int64, error)
	// GetItem returns (nil, nil) when the row no longer exists.
	GetItem(ctx context.Context, kind store.ItemKind, id int64) (store.Record, error)
}

// VectorIndex is the subset of *store.VectorStore used here.
type VectorIndex interface {
	UpsertBatch(ctx context.Context, batch []store.Embedding) (store.UpsertResult, error)
	QueryByProvider(ctx context.Context, model string, kinds []store.ItemKind, dimension int) (*store.VectorScan, error)
	ReplaceKind(ctx context.Context, model string, kind store.ItemKind, batch []store.Embedding) (store.UpsertResult, error)
}

// SearchOptions holds the defaults applied to requests that leave a field
// unset.
type SearchOptions struct {
	TopK          int
	MinSimilarity float64
}

// DefaultSearchOptions returns default search options
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		TopK:          5,
		MinSimilarity: 0.1,
	}
}

// SearchRequest describes one semantic search. A nil MinSimilarity uses the
// engine default; an explicit value, including 0, is honoured.
type SearchRequest struct {
	Query         string
	TopK          int
	Kinds         []store.ItemKind
	MinSimilarity *float64
}

// SearchResult is one hydrated hit.
type SearchResult struct {
	Kind      store.ItemKind `json:"item_type"`
	ID        int64          `json:"item_id"`
	Score     float64        `json:"similarity_score"`
	Phase     string         `json:"phase,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Text      string         `json:"text_content"`
	Record    store.Record   `json:"item_data"`
}

// SearchResponse carries the ranked results plus scan diagnostics.
type SearchResponse struct {
	Provider   string         `json:"provider"`
	Results    []SearchResult `json:"results"`
	Candidates int            `json:"candidates"`
	Skipped    int            `json:"skipped_rows"`
}

// Engine runs semantic search under a single provider.
type Engine struct {
	provider embedding.Provider
	vectors  VectorIndex
	source   SourceStore
	defaults SearchOptions
}

// NewEngine creates a search engine
func NewEngine(provider embedding.Provider, vectors VectorIndex, source SourceStore, defaults SearchOptions) *Engine {
	if defaults.TopK <= 0 {
		defaults.TopK = DefaultSearchOptions().TopK
	}
	return &Engine{
		provider: provider,
		vectors:  vectors,
		source:   source,
		defaults: defaults,
	}
}

type candidate struct {
	row   store.Embedding
	score float64
}

// Search embeds the query, scores every vector stored under the provider's
// identity and returns the best matches. Any failure is a SearchFailure; an
// empty result is not a failure.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	fail := func(err error) error {
		return &errs.SearchFailure{Query: req.Query, Err: err}
	}

	if strings.TrimSpace(req.Query) == "" {
		return nil, fail(errs.Invalid("query", "must not be blank"))
	}
	if req.TopK < 0 {
		return nil, fail(errs.Invalid("top_k", fmt.Sprintf("must not be negative, got %d", req.TopK)))
	}
	for _, k := range req.Kinds {
		if _, err := store.ParseKind(string(k)); err != nil {
			return nil, fail(errs.Invalid("item_types", err.Error()))
		}
	}

	topK := req.TopK
	if topK == 0 {
		topK = e.defaults.TopK
	}
	minSim := e.defaults.MinSimilarity
	if req.MinSimilarity != nil {
		minSim = *req.MinSimilarity
	}

	start := time.Now()
	identity := e.provider.Identity()

	vecs, err := e.provider.Encode(ctx, []string{req.Query})
	if err != nil {
		return nil, fail(fmt.Errorf("embed query: %w", err))
	}
	if len(vecs) != 1 {
		return nil, fail(fmt.Errorf("embed query: provider returned %d vectors", len(vecs)))
	}
	query := vecs[0]
	if isZero(query) {
		logging.Warn("Zero-magnitude embedding detected", map[string]interface{}{
			"provider": identity,
			"query":    req.Query,
		})
	}

	scan, err := e.vectors.QueryByProvider(ctx, identity, req.Kinds, len(query))
	if err != nil {
		return nil, fail(err)
	}

	var kept []candidate
	for _, row := range scan.Rows {
		score := embedding.Cosine(query, row.Vector)
		if score < minSim {
			continue
		}
		kept = append(kept, candidate{row: row, score: score})
	}

	results := make([]SearchResult, 0, len(kept))
	for _, c := range kept {
		rec, err := e.source.GetItem(ctx, c.row.Kind, c.row.ItemID)
		if err != nil {
			return nil, fail(err)
		}
		if rec == nil {
			logging.Debug("Dropping stale embedding", map[string]interface{}{
				"item_type": c.row.Kind,
				"item_id":   c.row.ItemID,
			})
			continue
		}
		results = append(results, SearchResult{
			Kind:      c.row.Kind,
			ID:        c.row.ItemID,
			Score:     c.score,
			Phase:     rec.RecordPhase(),
			Timestamp: rec.RecordTime(),
			Text:      c.row.TextContent,
			Record:    rec,
		})
	}

	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}

	logging.Debug("Semantic search", map[string]interface{}{
		"provider":   identity,
		"candidates": len(scan.Rows),
		"skipped":    scan.Skipped,
		"results":    len(results),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})

	return &SearchResponse{
		Provider:   identity,
		Results:    results,
		Candidates: len(scan.Rows),
		Skipped:    scan.Skipped,
	}, nil
}

// sortResults orders by score, then newest first, then kind and id so equal
// inputs always produce the same order.
func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
}

func isZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
