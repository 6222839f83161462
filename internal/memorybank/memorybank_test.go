package memorybank

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DreamCats/ctxportal/internal/store"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestParseDecisions(t *testing.T) {
	entries, err := ParseDecisions(strings.NewReader(`# Decisions

- Use SQLite; single file deployment; (storage, ops)
- Adopt cobra
- Split services; clear ownership; easier scaling
not a bullet
- ; empty summary
`))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, DecisionEntry{Summary: "Use SQLite", Rationale: "single file deployment", Tags: []string{"storage", "ops"}}, entries[0])
	assert.Equal(t, DecisionEntry{Summary: "Adopt cobra"}, entries[1])
	assert.Equal(t, "clear ownership; easier scaling", entries[2].Rationale)
}

func TestParseStatus(t *testing.T) {
	entries, err := ParseStatus(strings.NewReader(`- [DONE] write schema
- [IN_PROGRESS]   wire search
- no status here
- [broken
`))
	require.NoError(t, err)
	assert.Equal(t, []ProgressEntry{
		{Status: "DONE", Description: "write schema"},
		{Status: "IN_PROGRESS", Description: "wire search"},
	}, entries)
}

func TestParsePatterns(t *testing.T) {
	entries, err := ParsePatterns(strings.NewReader(`# Patterns
preamble is ignored

## Repository
Wraps data access.

Keeps SQL in one place.

## Token bucket
Rate limiting.
`))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Repository", entries[0].Name)
	assert.Equal(t, "Wraps data access.\n\nKeeps SQL in one place.", entries[0].Description)
	assert.Equal(t, PatternEntry{Name: "Token bucket", Description: "Rate limiting."}, entries[1])
}

func openDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "context.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "context/core-decisions.md", "- Use SQLite; single file; (storage)\n- Adopt cobra\n")
	writeFile(t, dir, "context/core-patterns.md", "## Repository\nWraps data access.\n")
	writeFile(t, dir, "context/glossary.json", `{"RAG": "retrieval augmented generation", "limits": {"qps": 100}}`)
	writeFile(t, dir, "context/nested/deep/settings.json", `{"mode": "strict"}`)
	writeFile(t, dir, "context/broken.json", `{not json`)
	writeFile(t, dir, "context/notes.md", "- ignored; because; (name)\n")
	writeFile(t, dir, "phases/research-status.md", "- [DONE] survey\n- [TODO] prototype\n")

	db := openDB(t)
	ctx := context.Background()
	report, err := Import(ctx, dir, db)
	require.NoError(t, err)

	assert.Len(t, report.Decisions, 2)
	assert.Len(t, report.Progress, 2)
	assert.Len(t, report.Patterns, 1)
	assert.Len(t, report.CustomData, 3)
	assert.Equal(t, []string{"context/broken.json"}, report.Skipped)
	assert.Equal(t, 8, report.Total())

	d, err := db.GetDecision(ctx, report.Decisions[0])
	require.NoError(t, err)
	assert.Equal(t, "Use SQLite", d.Summary)
	assert.Equal(t, []string{"storage"}, d.Tags)

	c, err := db.GetCustomData(ctx, "glossary", "limits")
	require.NoError(t, err)
	assert.JSONEq(t, `{"qps":100}`, c.Value)

	c, err = db.GetCustomData(ctx, "settings", "mode")
	require.NoError(t, err)
	assert.Equal(t, `"strict"`, c.Value)
}

func TestImportMissingDir(t *testing.T) {
	_, err := Import(context.Background(), filepath.Join(t.TempDir(), "nope"), openDB(t))
	assert.Error(t, err)
}

type failingSink struct{ *store.DB }

func (failingSink) LogDecision(context.Context, string, string, []string) (int64, error) {
	return 0, errors.New("disk full")
}

func TestImportStopsOnSinkError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "context/a-decisions.md", "- one\n")

	_, err := Import(context.Background(), dir, failingSink{openDB(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

type progressFailingSink struct{ *store.DB }

func (progressFailingSink) LogProgress(context.Context, string, string, *int64) (int64, error) {
	return 0, errors.New("disk full")
}

func TestImportAbortKeepsPartialReport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "context/a-decisions.md", "- sqlite indexes; speed\n")
	writeFile(t, dir, "phases/research-status.md", "- [TODO] survey\n")

	db := openDB(t)
	report, err := Import(context.Background(), dir, progressFailingSink{db})
	require.Error(t, err)
	require.NotNil(t, report)
	require.Len(t, report.Decisions, 1)

	d, err := db.GetDecision(context.Background(), report.Decisions[0])
	require.NoError(t, err)
	assert.Equal(t, "sqlite indexes", d.Summary)
}

func TestImportSkipsFileWithRejectedRecord(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "context/a-decisions.md", "- sqlite indexes; speed\n")
	writeFile(t, dir, "context/cfg.json", `{"": 1}`)
	writeFile(t, dir, "context/limits.json", `{"qps": 100}`)

	report, err := Import(context.Background(), dir, openDB(t))
	require.NoError(t, err)
	assert.Len(t, report.Decisions, 1)
	assert.Len(t, report.CustomData, 1)
	assert.Equal(t, []string{"context/cfg.json"}, report.Skipped)
}

func TestExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openDB(t)

	_, err := src.LogDecision(ctx, "Use SQLite", "single file", []string{"storage", "ops"})
	require.NoError(t, err)
	_, err = src.LogDecision(ctx, "Adopt cobra", "", nil)
	require.NoError(t, err)
	_, err = src.LogProgress(ctx, "write schema", "DONE", nil)
	require.NoError(t, err)
	_, err = src.LogPattern(ctx, "Repository", "Wraps data access.", nil)
	require.NoError(t, err)
	_, err = src.LogCustomData(ctx, "glossary", "RAG", "old")
	require.NoError(t, err)
	_, err = src.LogCustomData(ctx, "glossary", "RAG", "retrieval augmented generation")
	require.NoError(t, err)

	dir := t.TempDir()
	report, err := Export(ctx, dir, src)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"context/imported-decisions.md",
		"phases/imported-status.md",
		"context/imported-patterns.md",
		"context/glossary.json",
	}, report.Files)

	data, err := os.ReadFile(filepath.Join(dir, "context", "imported-decisions.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "- Use SQLite; single file; (storage, ops)\n- Adopt cobra; \n")

	dst := openDB(t)
	imported, err := Import(ctx, dir, dst)
	require.NoError(t, err)
	assert.Len(t, imported.Decisions, 2)
	assert.Len(t, imported.Progress, 1)
	assert.Len(t, imported.Patterns, 1)
	assert.Len(t, imported.CustomData, 1)

	decisions, err := dst.GetDecisions(ctx, store.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "Adopt cobra", decisions[0].Summary)
	assert.Equal(t, []string{"storage", "ops"}, decisions[1].Tags)

	c, err := dst.GetCustomData(ctx, "glossary", "RAG")
	require.NoError(t, err)
	assert.Equal(t, `"retrieval augmented generation"`, c.Value)
}

func TestExportEmptyStoreWritesNothing(t *testing.T) {
	dir := t.TempDir()
	report, err := Export(context.Background(), dir, openDB(t))
	require.NoError(t, err)
	assert.Empty(t, report.Files)
}
