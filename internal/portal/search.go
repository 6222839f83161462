package portal

import (
	"context"

	"github.com/DreamCats/ctxportal/internal/memorybank"
	"github.com/DreamCats/ctxportal/internal/retrieval"
	"github.com/DreamCats/ctxportal/internal/store"
)

// SemanticSearch ranks stored records against query under the active
// provider.
func (p *Portal) SemanticSearch(ctx context.Context, req retrieval.SearchRequest) (*retrieval.SearchResponse, error) {
	return p.engine.Search(ctx, req)
}

// RAGAssist searches the kinds relevant to mode and renders a context block.
func (p *Portal) RAGAssist(ctx context.Context, query, mode string, topK int) (*retrieval.RAGResponse, error) {
	return p.engine.Assist(ctx, query, mode, topK)
}

// RebuildEmbeddings refits the provider if needed and re-embeds every
// record.
func (p *Portal) RebuildEmbeddings(ctx context.Context) (*retrieval.RebuildReport, error) {
	return p.sync.RebuildAll(ctx)
}

// RefreshKind re-embeds every record of one kind.
func (p *Portal) RefreshKind(ctx context.Context, kind store.ItemKind) (*retrieval.RefreshResult, error) {
	return p.sync.Refresh(ctx, kind)
}

// MemoryBankDir returns the configured memory-bank directory, anchored at
// the workspace.
func (p *Portal) MemoryBankDir() string {
	return p.cfg.ResolveMemoryBankDir(p.workspace)
}

// ImportMemoryBank loads dir (the configured directory when empty) and
// embeds the new rows with one refresh per kind. Rows committed before an
// import failure are still refreshed; the import error takes precedence
// over a refresh error in the result.
func (p *Portal) ImportMemoryBank(ctx context.Context, dir string) (*memorybank.ImportReport, error) {
	if dir == "" {
		dir = p.MemoryBankDir()
	}
	report, importErr := memorybank.Import(ctx, dir, p.db)
	if report == nil {
		return nil, importErr
	}

	batches := []struct {
		kind store.ItemKind
		ids  []int64
	}{
		{store.KindDecision, report.Decisions},
		{store.KindProgress, report.Progress},
		{store.KindPattern, report.Patterns},
		{store.KindCustomData, report.CustomData},
	}
	var refreshErr error
	for _, b := range batches {
		if err := p.refresh(ctx, b.kind, b.ids...); err != nil && refreshErr == nil {
			refreshErr = err
		}
	}
	if importErr != nil {
		return report, importErr
	}
	return report, refreshErr
}

// ExportMemoryBank writes the store into dir (the configured directory when
// empty).
func (p *Portal) ExportMemoryBank(ctx context.Context, dir string) (*memorybank.ExportReport, error) {
	if dir == "" {
		dir = p.MemoryBankDir()
	}
	return memorybank.Export(ctx, dir, p.db)
}
