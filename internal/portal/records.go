package portal

import (
	"context"

	"github.com/DreamCats/ctxportal/internal/store"
)

// LogDecision stores a decision and embeds it. On a refresh failure the id
// is returned together with a *RefreshError.
func (p *Portal) LogDecision(ctx context.Context, summary, rationale string, tags []string) (int64, error) {
	id, err := p.db.LogDecision(ctx, summary, rationale, tags)
	if err != nil {
		return 0, err
	}
	return id, p.refresh(ctx, store.KindDecision, id)
}

func (p *Portal) GetDecisions(ctx context.Context, filter store.DecisionFilter) ([]*store.Decision, error) {
	return p.db.GetDecisions(ctx, filter)
}

func (p *Portal) SearchDecisions(ctx context.Context, term string, limit int) ([]*store.Decision, error) {
	return p.db.SearchDecisions(ctx, term, limit)
}

func (p *Portal) DeleteDecision(ctx context.Context, id int64) error {
	return p.db.DeleteDecision(ctx, id)
}

// LogProgress stores a progress entry and embeds it.
func (p *Portal) LogProgress(ctx context.Context, description, status string, parentID *int64) (int64, error) {
	id, err := p.db.LogProgress(ctx, description, status, parentID)
	if err != nil {
		return 0, err
	}
	return id, p.refresh(ctx, store.KindProgress, id)
}

// UpdateProgress applies update and re-embeds the entry.
func (p *Portal) UpdateProgress(ctx context.Context, id int64, update store.ProgressUpdate) error {
	if err := p.db.UpdateProgress(ctx, id, update); err != nil {
		return err
	}
	return p.refresh(ctx, store.KindProgress, id)
}

func (p *Portal) GetProgress(ctx context.Context, filter store.ProgressFilter) ([]*store.Progress, error) {
	return p.db.GetProgress(ctx, filter)
}

func (p *Portal) DeleteProgress(ctx context.Context, id int64) error {
	return p.db.DeleteProgress(ctx, id)
}

// LogPattern stores a system pattern and embeds it.
func (p *Portal) LogPattern(ctx context.Context, name, description string, tags []string) (int64, error) {
	id, err := p.db.LogPattern(ctx, name, description, tags)
	if err != nil {
		return 0, err
	}
	return id, p.refresh(ctx, store.KindPattern, id)
}

func (p *Portal) GetPatterns(ctx context.Context, filter store.PatternFilter) ([]*store.Pattern, error) {
	return p.db.GetPatterns(ctx, filter)
}

func (p *Portal) DeletePattern(ctx context.Context, id int64) error {
	return p.db.DeletePattern(ctx, id)
}

// LogCustomData stores value under (category, key) and embeds the new row.
func (p *Portal) LogCustomData(ctx context.Context, category, key string, value any) (int64, error) {
	id, err := p.db.LogCustomData(ctx, category, key, value)
	if err != nil {
		return 0, err
	}
	return id, p.refresh(ctx, store.KindCustomData, id)
}

func (p *Portal) GetCustomData(ctx context.Context, category, key string) (*store.CustomDatum, error) {
	return p.db.GetCustomData(ctx, category, key)
}

func (p *Portal) ListCustomData(ctx context.Context, category string) ([]*store.CustomDatum, error) {
	return p.db.ListCustomData(ctx, category)
}

func (p *Portal) SearchCustomData(ctx context.Context, term, category string, limit int) ([]*store.CustomDatum, error) {
	return p.db.SearchCustomData(ctx, term, category, limit)
}

func (p *Portal) DeleteCustomData(ctx context.Context, category, key string) ([]int64, error) {
	return p.db.DeleteCustomData(ctx, category, key)
}

// Phases

func (p *Portal) CurrentPhase(ctx context.Context) (string, error) {
	return p.db.CurrentPhase(ctx)
}

func (p *Portal) ListPhases(ctx context.Context) ([]*store.Phase, error) {
	return p.db.ListPhases(ctx)
}

func (p *Portal) TransitionToNextPhase(ctx context.Context) (string, error) {
	return p.db.TransitionToNextPhase(ctx)
}

func (p *Portal) SetPhaseDeliverables(ctx context.Context, phase, deliverables string) error {
	return p.db.SetPhaseDeliverables(ctx, phase, deliverables)
}

// Context documents

func (p *Portal) GetContext(ctx context.Context, doc store.ContextDoc) (map[string]any, error) {
	return p.db.GetContext(ctx, doc)
}

func (p *Portal) UpdateContext(ctx context.Context, doc store.ContextDoc, content, patch map[string]any) (map[string]any, error) {
	return p.db.UpdateContext(ctx, doc, content, patch)
}
