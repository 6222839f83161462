// Package portal wires the store, the embedding provider and the retrieval
// engine into one handle. Every write that creates or changes a record
// refreshes its embedding before returning.
package portal

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/DreamCats/ctxportal/internal/config"
	"github.com/DreamCats/ctxportal/internal/embedding"
	"github.com/DreamCats/ctxportal/internal/logging"
	"github.com/DreamCats/ctxportal/internal/retrieval"
	"github.com/DreamCats/ctxportal/internal/store"
)

// Portal is the application handle shared by the CLI and the MCP server.
type Portal struct {
	cfg       *config.Config
	workspace string

	db       *store.DB
	vectors  *store.VectorStore
	provider embedding.Provider
	engine   *retrieval.Engine
	sync     *retrieval.Coordinator
}

// Open opens the workspace database and builds the configured provider. A
// persisted lexical vocabulary is restored so searches work without a
// rebuild.
func Open(ctx context.Context, cfg *config.Config, workspace string) (*Portal, error) {
	db, err := store.Open(cfg.ResolveDatabasePath(workspace))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	provider, err := embedding.NewProvider(ctx, &cfg.Embedding)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	p, err := New(ctx, cfg, workspace, db, provider)
	if err != nil {
		closeProvider(provider)
		db.Close()
		return nil, err
	}
	return p, nil
}

// New assembles a portal around an open database and a provider. The portal
// takes ownership of both.
func New(ctx context.Context, cfg *config.Config, workspace string, db *store.DB, provider embedding.Provider) (*Portal, error) {
	vectors := store.NewVectorStore(db)
	p := &Portal{
		cfg:       cfg,
		workspace: workspace,
		db:        db,
		vectors:   vectors,
		provider:  provider,
		engine: retrieval.NewEngine(provider, vectors, db, retrieval.SearchOptions{
			TopK:          cfg.Search.DefaultTopK,
			MinSimilarity: cfg.Search.MinSimilarity,
		}),
		sync: retrieval.NewCoordinator(provider, vectors, db, db),
	}

	if err := p.sync.Restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore vocabulary: %w", err)
	}

	logging.Info("Portal opened", map[string]interface{}{
		"database": db.Path(),
		"provider": provider.Identity(),
	})
	return p, nil
}

// Close releases the provider cache and the database.
func (p *Portal) Close() error {
	closeProvider(p.provider)
	return p.db.Close()
}

func closeProvider(provider embedding.Provider) {
	if c, ok := provider.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logging.Warn("Failed to close embedding provider", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Config returns the configuration the portal was opened with.
func (p *Portal) Config() *config.Config {
	return p.cfg
}

// Workspace returns the workspace root.
func (p *Portal) Workspace() string {
	return p.workspace
}

// Provider returns the active embedding provider.
func (p *Portal) Provider() embedding.Provider {
	return p.provider
}

// DB returns the underlying store for read-only access.
func (p *Portal) DB() *store.DB {
	return p.db
}

// SetProgress installs a reporter for rebuilds. nil disables it.
func (p *Portal) SetProgress(r retrieval.ProgressReporter) {
	p.sync.SetProgress(r)
}

// RefreshError reports that a record was committed but its embedding could
// not be refreshed. The record exists; its vector is stale until the next
// refresh or rebuild.
type RefreshError struct {
	Kind store.ItemKind
	IDs  []int64
	Err  error
}

func (e *RefreshError) Error() string {
	if len(e.IDs) == 1 {
		return fmt.Sprintf("%s %d saved but embedding refresh failed: %v", e.Kind, e.IDs[0], e.Err)
	}
	return fmt.Sprintf("%d %s records saved but embedding refresh failed: %v", len(e.IDs), e.Kind, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// refresh re-embeds ids of kind after their commit.
func (p *Portal) refresh(ctx context.Context, kind store.ItemKind, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.sync.Refresh(ctx, kind, ids...); err != nil {
		logging.Warn("Embedding refresh failed", map[string]interface{}{
			"item_type": string(kind),
			"ids":       ids,
			"error":     err.Error(),
		})
		return &RefreshError{Kind: kind, IDs: append([]int64(nil), ids...), Err: err}
	}
	return nil
}

// Status summarises the workspace.
type Status struct {
	Database     string                   `json:"database"`
	SizeBytes    int64                    `json:"size_bytes"`
	CurrentPhase string                   `json:"current_phase"`
	Items        map[store.ItemKind]int64 `json:"items"`
	Embeddings   map[string]int64         `json:"embeddings"`
	Provider     string                   `json:"provider"`
	Dimension    int                      `json:"dimension"`
	Fitted       bool                     `json:"fitted"`
	CheckedAt    time.Time                `json:"checked_at"`
}

// Status collects row counts, vector counts per provider and the current
// phase.
func (p *Portal) Status(ctx context.Context) (*Status, error) {
	stats, err := p.db.Stats(ctx)
	if err != nil {
		return nil, err
	}
	phase, err := p.db.CurrentPhase(ctx)
	if err != nil {
		return nil, err
	}

	fitted := true
	if f, ok := p.provider.(embedding.Fitter); ok {
		fitted = f.Fitted()
	}
	return &Status{
		Database:     p.db.Path(),
		SizeBytes:    stats.SizeBytes,
		CurrentPhase: phase,
		Items:        stats.Items,
		Embeddings:   stats.Embeddings,
		Provider:     p.provider.Identity(),
		Dimension:    p.provider.Dimension(),
		Fitted:       fitted,
		CheckedAt:    time.Now().UTC(),
	}, nil
}
