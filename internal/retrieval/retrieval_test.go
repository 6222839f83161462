package retrieval

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DreamCats/ctxportal/internal/embedding"
	"github.com/DreamCats/ctxportal/internal/errs"
	"github.com/DreamCats/ctxportal/internal/store"
)

func newTestStore(t *testing.T) (*store.DB, *store.VectorStore) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "context.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, store.NewVectorStore(db)
}

func newLexical(t *testing.T) *embedding.Lexical {
	t.Helper()
	l, err := embedding.NewLexical(5000)
	require.NoError(t, err)
	return l
}

// stubProvider maps each text to a fixed vector; unknown text gets axis 0.
type stubProvider struct {
	dim     int
	vectors map[string][]float64
	fail    func(texts []string) error
	calls   int
}

func (s *stubProvider) Encode(_ context.Context, texts []string) ([][]float64, error) {
	s.calls++
	if s.fail != nil {
		if err := s.fail(texts); err != nil {
			return nil, err
		}
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if v, ok := s.vectors[t]; ok {
			out[i] = v
			continue
		}
		v := make([]float64, s.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (s *stubProvider) Dimension() int   { return s.dim }
func (s *stubProvider) Identity() string { return "stub" }

func floatPtr(f float64) *float64 { return &f }

func TestSearchRanksAuthDecisions(t *testing.T) {
	db, vs := newTestStore(t)
	ctx := context.Background()

	rotation, err := db.LogDecision(ctx, "auth token rotation", "", nil)
	require.NoError(t, err)
	_, err = db.LogDecision(ctx, "database indexing strategy", "", nil)
	require.NoError(t, err)
	expiry, err := db.LogDecision(ctx, "auth session expiry", "", nil)
	require.NoError(t, err)

	lex := newLexical(t)
	coord := NewCoordinator(lex, vs, db, db)
	report, err := coord.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Succeeded[store.KindDecision])
	assert.Empty(t, report.Failed)

	engine := NewEngine(lex, vs, db, DefaultSearchOptions())
	resp, err := engine.Search(ctx, SearchRequest{Query: "authentication", TopK: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	got := []int64{resp.Results[0].ID, resp.Results[1].ID}
	assert.ElementsMatch(t, []int64{rotation, expiry}, got)
	assert.Equal(t, rotation, resp.Results[0].ID)
	assert.GreaterOrEqual(t, resp.Results[0].Score, resp.Results[1].Score)
	assert.Equal(t, "tfidf", resp.Provider)

	d, ok := resp.Results[0].Record.(*store.Decision)
	require.True(t, ok)
	assert.Equal(t, "auth token rotation", d.Summary)
	assert.Equal(t, "research", resp.Results[0].Phase)
}

func TestRefreshFitsUnfittedProvider(t *testing.T) {
	db, vs := newTestStore(t)
	ctx := context.Background()

	id, err := db.LogDecision(ctx, "adopt sqlite", "single file", nil)
	require.NoError(t, err)
	_, err = db.LogPattern(ctx, "Repository", "wraps data access", nil)
	require.NoError(t, err)

	lex := newLexical(t)
	coord := NewCoordinator(lex, vs, db, db)

	res, err := coord.Refresh(ctx, store.KindDecision, id)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Encoded)
	assert.True(t, lex.Fitted())

	// The rebuild covered every kind and persisted the vocabulary.
	n, err := vs.Count(ctx, "tfidf")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = db.LoadVocabulary(ctx, "tfidf")
	require.NoError(t, err)

	// A fresh provider picks the vocabulary back up without refitting.
	restored := newLexical(t)
	require.NoError(t, NewCoordinator(restored, vs, db, db).Restore(ctx))
	assert.True(t, restored.Fitted())
	assert.Equal(t, lex.Dimension(), restored.Dimension())
}

func TestRestoreWithoutSnapshotLeavesProviderUnfitted(t *testing.T) {
	db, vs := newTestStore(t)
	lex := newLexical(t)

	require.NoError(t, NewCoordinator(lex, vs, db, db).Restore(context.Background()))
	assert.False(t, lex.Fitted())
}

func TestRefreshAfterUpdateReplacesRow(t *testing.T) {
	db, vs := newTestStore(t)
	ctx := context.Background()

	id, err := db.LogProgress(ctx, "draft schema", "TODO", nil)
	require.NoError(t, err)

	lex := newLexical(t)
	coord := NewCoordinator(lex, vs, db, db)
	_, err = coord.RebuildAll(ctx)
	require.NoError(t, err)

	desc := "finalize schema"
	require.NoError(t, db.UpdateProgress(ctx, id, store.ProgressUpdate{Description: &desc}))
	_, err = coord.Refresh(ctx, store.KindProgress, id)
	require.NoError(t, err)
	_, err = coord.Refresh(ctx, store.KindProgress, id)
	require.NoError(t, err)

	n, err := vs.CountForItem(ctx, store.KindProgress, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e, err := vs.Get(ctx, store.KindProgress, id, "tfidf")
	require.NoError(t, err)
	assert.Equal(t, "finalize schema", e.TextContent)
}

func TestRefreshSkipsMissingRows(t *testing.T) {
	db, vs := newTestStore(t)
	ctx := context.Background()

	id, err := db.LogDecision(ctx, "keep", "", nil)
	require.NoError(t, err)

	stub := &stubProvider{dim: 3}
	coord := NewCoordinator(stub, vs, db, nil)

	res, err := coord.Refresh(ctx, store.KindDecision, id, 404)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Encoded)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, stub.calls, "one encode call per refresh")

	_, err = coord.Refresh(ctx, store.ItemKind("notes"))
	assert.Error(t, err)
}

func TestRebuildRecordsFailedKind(t *testing.T) {
	db, vs := newTestStore(t)
	ctx := context.Background()

	boom, err := db.LogDecision(ctx, "boom", "", nil)
	require.NoError(t, err)
	_, err = db.LogProgress(ctx, "fine", "TODO", nil)
	require.NoError(t, err)
	_, err = vs.Upsert(ctx, store.Embedding{Kind: store.KindDecision, ItemID: boom, Model: "stub", Vector: []float64{1, 0}})
	require.NoError(t, err)

	stub := &stubProvider{dim: 2, fail: func(texts []string) error {
		for _, t := range texts {
			if strings.HasPrefix(t, "boom") {
				return &errs.EncodingFailure{Provider: "stub", Attempts: 1, Err: errors.New("rejected")}
			}
		}
		return nil
	}}
	report, err := NewCoordinator(stub, vs, db, nil).RebuildAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.Failed, store.KindDecision)
	assert.Equal(t, 1, report.Succeeded[store.KindProgress])
	assert.Equal(t, 0, report.Succeeded[store.KindPattern])
	assert.False(t, report.Cancelled)

	var failure *errs.EncodingFailure
	assert.ErrorAs(t, report.Err(store.KindDecision), &failure)
	assert.Nil(t, report.Err(store.KindProgress))

	// The failed kind keeps its previous vector.
	n, err := vs.CountForItem(ctx, store.KindDecision, boom)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRefreshTriggeredRebuildKeepsErrorType(t *testing.T) {
	db, vs := newTestStore(t)
	ctx := context.Background()

	// Only stop words, so fitting yields an empty vocabulary.
	id, err := db.LogDecision(ctx, "and the", "", nil)
	require.NoError(t, err)

	_, err = NewCoordinator(newLexical(t), vs, db, db).Refresh(ctx, store.KindDecision, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrNotFitted)
}

func TestEmptyVocabularyIsRefitted(t *testing.T) {
	db, vs := newTestStore(t)
	ctx := context.Background()

	lex := newLexical(t)
	report, err := NewCoordinator(lex, vs, db, db).RebuildAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Failed)
	assert.False(t, lex.Fitted())

	id, err := db.LogDecision(ctx, "auth token rotation", "", nil)
	require.NoError(t, err)

	// A fresh provider restores the empty snapshot and must refit.
	fresh := newLexical(t)
	coord := NewCoordinator(fresh, vs, db, db)
	require.NoError(t, coord.Restore(ctx))
	assert.False(t, fresh.Fitted())

	res, err := coord.Refresh(ctx, store.KindDecision, id)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Encoded)
	assert.True(t, fresh.Fitted())

	e, err := vs.Get(ctx, store.KindDecision, id, "tfidf")
	require.NoError(t, err)
	assert.Len(t, e.Vector, fresh.Dimension())
}

func TestRefreshRejectsEmptyVectors(t *testing.T) {
	db, vs := newTestStore(t)
	ctx := context.Background()

	id, err := db.LogDecision(ctx, "x", "", nil)
	require.NoError(t, err)

	stub := &stubProvider{dim: 2, vectors: map[string][]float64{"x. ": {}}}
	_, err = NewCoordinator(stub, vs, db, nil).Refresh(ctx, store.KindDecision, id)
	require.Error(t, err)
	var failure *errs.EncodingFailure
	assert.ErrorAs(t, err, &failure)

	n, err := vs.CountForItem(ctx, store.KindDecision, id)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type countingReporter struct {
	total, ticks int
	finished     bool
}

func (r *countingReporter) Start(total int) { r.total = total }
func (r *countingReporter) Increment()      { r.ticks++ }
func (r *countingReporter) Finish()         { r.finished = true }

func TestRebuildCancellation(t *testing.T) {
	db, vs := newTestStore(t)
	_, err := db.LogDecision(context.Background(), "anything", "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reporter := &countingReporter{}
	coord := NewCoordinator(&stubProvider{dim: 2}, vs, db, nil)
	coord.SetProgress(reporter)

	report, err := coord.RebuildAll(ctx)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Empty(t, report.Succeeded)
	assert.Equal(t, 4, reporter.total)
	assert.Equal(t, 0, reporter.ticks)
	assert.True(t, reporter.finished)
}

func TestSearchValidation(t *testing.T) {
	db, vs := newTestStore(t)
	engine := NewEngine(&stubProvider{dim: 2}, vs, db, DefaultSearchOptions())

	_, err := engine.Search(context.Background(), SearchRequest{Query: "   "})
	require.Error(t, err)
	assert.True(t, errs.IsSearchFailure(err))
	assert.True(t, errs.IsValidation(err))

	_, err = engine.Search(context.Background(), SearchRequest{Query: "x", Kinds: []store.ItemKind{"notes"}})
	assert.True(t, errs.IsValidation(err))

	_, err = engine.Search(context.Background(), SearchRequest{Query: "x", TopK: -1})
	assert.True(t, errs.IsValidation(err))
}

func TestSearchEncodeFailureIsSearchFailure(t *testing.T) {
	db, vs := newTestStore(t)
	stub := &stubProvider{dim: 2, fail: func([]string) error {
		return &errs.EncodingFailure{Provider: "stub", Attempts: 4, Err: &errs.TransientProviderError{Provider: "stub", StatusCode: 503, Err: errors.New("down")}}
	}}
	engine := NewEngine(stub, vs, db, DefaultSearchOptions())

	_, err := engine.Search(context.Background(), SearchRequest{Query: "anything"})
	require.Error(t, err)
	assert.True(t, errs.IsSearchFailure(err))
	assert.True(t, errs.IsTransient(err))
}

func TestSearchUnfittedLexicalFails(t *testing.T) {
	db, vs := newTestStore(t)
	engine := NewEngine(newLexical(t), vs, db, DefaultSearchOptions())

	_, err := engine.Search(context.Background(), SearchRequest{Query: "anything"})
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrNotFitted)
}

func TestSearchFiltersAndDiagnostics(t *testing.T) {
	db, vs := newTestStore(t)
	ctx := context.Background()

	dec, err := db.LogDecision(ctx, "decision", "", nil)
	require.NoError(t, err)
	prog, err := db.LogProgress(ctx, "progress", "TODO", nil)
	require.NoError(t, err)
	stale, err := db.LogDecision(ctx, "stale", "", nil)
	require.NoError(t, err)

	_, err = vs.UpsertBatch(ctx, []store.Embedding{
		{Kind: store.KindDecision, ItemID: dec, Model: "stub", Vector: []float64{1, 0}},
		{Kind: store.KindProgress, ItemID: prog, Model: "stub", Vector: []float64{1, 1}},
		{Kind: store.KindDecision, ItemID: stale, Model: "stub", Vector: []float64{1, 0}},
		{Kind: store.KindDecision, ItemID: dec, Model: "other", Vector: []float64{1, 0}},
	})
	require.NoError(t, err)

	// Remove the source row behind the vector store's back.
	_, err = db.SQLDB().Exec("DELETE FROM decisions WHERE id = ?", stale)
	require.NoError(t, err)
	// A ragged blob is skipped and counted.
	_, err = db.SQLDB().Exec(
		"INSERT INTO item_embeddings (item_type, item_id, embedding_model, embedding, text_content, created_at) VALUES ('progress', 77, 'stub', ?, '', ?)",
		make([]byte, 12), time.Now().UTC().Format(store.TimestampLayout),
	)
	require.NoError(t, err)

	engine := NewEngine(&stubProvider{dim: 2}, vs, db, DefaultSearchOptions())

	resp, err := engine.Search(ctx, SearchRequest{Query: "q"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, dec, resp.Results[0].ID)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
	assert.Equal(t, prog, resp.Results[1].ID)
	assert.InDelta(t, 0.7071, resp.Results[1].Score, 1e-3)
	assert.Equal(t, 1, resp.Skipped)
	assert.Equal(t, 3, resp.Candidates)

	resp, err = engine.Search(ctx, SearchRequest{Query: "q", Kinds: []store.ItemKind{store.KindProgress}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, store.KindProgress, resp.Results[0].Kind)

	resp, err = engine.Search(ctx, SearchRequest{Query: "q", MinSimilarity: floatPtr(0.9)})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	resp, err = engine.Search(ctx, SearchRequest{Query: "q", TopK: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
}

func TestSearchZeroQueryVector(t *testing.T) {
	db, vs := newTestStore(t)
	ctx := context.Background()

	id, err := db.LogDecision(ctx, "x", "", nil)
	require.NoError(t, err)
	_, err = vs.Upsert(ctx, store.Embedding{Kind: store.KindDecision, ItemID: id, Model: "stub", Vector: []float64{1, 0}})
	require.NoError(t, err)

	stub := &stubProvider{dim: 2, vectors: map[string][]float64{"nothing": {0, 0}}}
	engine := NewEngine(stub, vs, db, DefaultSearchOptions())

	resp, err := engine.Search(ctx, SearchRequest{Query: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	resp, err = engine.Search(ctx, SearchRequest{Query: "nothing", MinSimilarity: floatPtr(0)})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Zero(t, resp.Results[0].Score)
}

func TestSortResultsTieBreaks(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	results := []SearchResult{
		{Kind: store.KindProgress, ID: 1, Score: 0.5, Timestamp: older},
		{Kind: store.KindDecision, ID: 2, Score: 0.5, Timestamp: older},
		{Kind: store.KindDecision, ID: 3, Score: 0.5, Timestamp: newer},
		{Kind: store.KindDecision, ID: 4, Score: 0.9, Timestamp: older},
		{Kind: store.KindDecision, ID: 1, Score: 0.5, Timestamp: older},
	}
	sortResults(results)

	var order []int64
	for _, r := range results {
		order = append(order, r.ID)
	}
	assert.Equal(t, []int64{4, 3, 1, 2, 1}, order)
	assert.Equal(t, store.KindDecision, results[2].Kind)
	assert.Equal(t, store.KindProgress, results[4].Kind)
}

func TestKindsForMode(t *testing.T) {
	assert.Equal(t, []store.ItemKind{store.KindDecision, store.KindPattern}, KindsForMode("sparc-architect"))
	assert.Equal(t, []store.ItemKind{store.KindProgress}, KindsForMode("sparc-qa-analyst"))
	assert.Nil(t, KindsForMode(""))
	assert.Nil(t, KindsForMode("sparc-unknown"))
	assert.Len(t, Modes(), 6)

	// Callers cannot mutate the table.
	k := KindsForMode("sparc-qa-analyst")
	k[0] = store.KindCustomData
	assert.Equal(t, []store.ItemKind{store.KindProgress}, KindsForMode("sparc-qa-analyst"))
}

func TestAssist(t *testing.T) {
	db, vs := newTestStore(t)
	ctx := context.Background()

	_, err := db.LogDecision(ctx, "auth token rotation", "rotate weekly", nil)
	require.NoError(t, err)
	_, err = db.LogProgress(ctx, "implement auth token refresh", "TODO", nil)
	require.NoError(t, err)
	_, err = db.LogPattern(ctx, "Token bucket", "auth rate limiting", nil)
	require.NoError(t, err)

	lex := newLexical(t)
	_, err = NewCoordinator(lex, vs, db, db).RebuildAll(ctx)
	require.NoError(t, err)

	engine := NewEngine(lex, vs, db, DefaultSearchOptions())
	resp, err := engine.Assist(ctx, "auth token", "sparc-architect", 5)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.NotEqual(t, store.KindProgress, r.Kind)
	}
	assert.True(t, strings.HasPrefix(resp.Context, "[1] "))
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil))
	out := FormatContext([]SearchResult{
		{Kind: store.KindDecision, ID: 7, Score: 0.5, Phase: "design", Text: "use sqlite. "},
		{Kind: store.KindProgress, ID: 2, Score: 0.25, Text: "ship"},
	})
	assert.Equal(t, "[1] decisions #7 (0.500, design): use sqlite.\n[2] progress #2 (0.250): ship\n", out)
}
