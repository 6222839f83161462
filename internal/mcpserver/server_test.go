package mcpserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DreamCats/ctxportal/internal/config"
	"github.com/DreamCats/ctxportal/internal/portal"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	ws := t.TempDir()
	p, err := portal.Open(context.Background(), cfg, ws)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return New(p, "test"), ws
}

func TestToolsAreRegistered(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.newMCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"ctxportal_log_decision", "ctxportal_get_decisions", "ctxportal_search_decisions",
		"ctxportal_log_progress", "ctxportal_update_progress", "ctxportal_get_progress",
		"ctxportal_log_pattern", "ctxportal_get_patterns",
		"ctxportal_log_custom_data", "ctxportal_get_custom_data",
		"ctxportal_semantic_search", "ctxportal_rag_assist", "ctxportal_rebuild_embeddings",
		"ctxportal_get_phase", "ctxportal_transition_phase",
		"ctxportal_get_context", "ctxportal_update_context",
		"ctxportal_status", "ctxportal_sync_memory_bank",
	}, names)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "ctxportal_log_decision",
		Arguments: map[string]any{"summary": "Use SQLite", "rationale": "single file"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
}

func TestDecisionTools(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, logged, err := s.logDecisionTool(ctx, nil, LogDecisionInput{Summary: "auth token rotation", Tags: []string{"auth"}})
	require.NoError(t, err)
	assert.NotZero(t, logged.ID)
	assert.Empty(t, logged.Warning)

	_, _, err = s.logDecisionTool(ctx, nil, LogDecisionInput{Summary: "database indexing strategy", Tags: []string{"db"}})
	require.NoError(t, err)

	_, list, err := s.getDecisionsTool(ctx, nil, GetDecisionsInput{TagsAny: []string{"auth"}})
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "auth token rotation", list.Items[0]["summary"])

	_, found, err := s.searchDecisionsTool(ctx, nil, SearchDecisionsInput{Term: "indexing"})
	require.NoError(t, err)
	assert.Equal(t, 1, found.Count)

	_, _, err = s.searchDecisionsTool(ctx, nil, SearchDecisionsInput{})
	assert.Error(t, err)
}

func TestSemanticSearchTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, logged, err := s.logDecisionTool(ctx, nil, LogDecisionInput{Summary: "auth token rotation"})
	require.NoError(t, err)
	_, _, err = s.logPatternTool(ctx, nil, LogPatternInput{Name: "Repository", Description: "database access layer"})
	require.NoError(t, err)

	_, rebuilt, err := s.rebuildTool(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, "tfidf", rebuilt.Provider)
	assert.Empty(t, rebuilt.Failed)

	_, out, err := s.semanticSearchTool(ctx, nil, SemanticSearchInput{Query: "auth token", ItemTypes: []string{"decisions"}})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, logged.ID, out.Results[0].ItemID)
	assert.Equal(t, "decisions", out.Results[0].ItemType)
	assert.Equal(t, "auth token rotation", out.Results[0].ItemData["summary"])
	assert.NotEmpty(t, out.Results[0].Timestamp)

	_, _, err = s.semanticSearchTool(ctx, nil, SemanticSearchInput{Query: "x", ItemTypes: []string{"symbols"}})
	assert.Error(t, err)

	_, rag, err := s.ragTool(ctx, nil, RAGInput{Query: "database", Mode: "unknown"})
	require.NoError(t, err)
	assert.Len(t, rag.ItemTypes, 4)
}

func TestProgressAndCustomDataTools(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, logged, err := s.logProgressTool(ctx, nil, LogProgressInput{Description: "write schema"})
	require.NoError(t, err)

	done := "DONE"
	_, updated, err := s.updateProgressTool(ctx, nil, UpdateProgressInput{ID: logged.ID, Status: &done})
	require.NoError(t, err)
	assert.True(t, updated.Updated)

	_, _, err = s.updateProgressTool(ctx, nil, UpdateProgressInput{ID: logged.ID})
	assert.Error(t, err)

	_, list, err := s.getProgressTool(ctx, nil, GetProgressInput{Status: "DONE"})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)

	_, _, err = s.logCustomDataTool(ctx, nil, LogCustomDataInput{Category: "glossary", Key: "WAL", Value: "write-ahead log"})
	require.NoError(t, err)
	_, _, err = s.logCustomDataTool(ctx, nil, LogCustomDataInput{Category: "limits", Key: "qps", Value: map[string]any{"max": 100}})
	require.NoError(t, err)

	_, one, err := s.getCustomDataTool(ctx, nil, GetCustomDataInput{Category: "glossary", Key: "WAL"})
	require.NoError(t, err)
	require.Equal(t, 1, one.Count)
	assert.Equal(t, `"write-ahead log"`, one.Items[0]["value"])

	_, missing, err := s.getCustomDataTool(ctx, nil, GetCustomDataInput{Category: "glossary", Key: "nope"})
	require.NoError(t, err)
	assert.Zero(t, missing.Count)

	_, all, err := s.getCustomDataTool(ctx, nil, GetCustomDataInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Count)

	_, searched, err := s.getCustomDataTool(ctx, nil, GetCustomDataInput{Search: "ahead"})
	require.NoError(t, err)
	assert.Equal(t, 1, searched.Count)
}

func TestPhaseAndContextTools(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, phase, err := s.getPhaseTool(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, "research", phase.CurrentPhase)
	assert.Len(t, phase.Phases, 12)

	_, moved, err := s.transitionPhaseTool(ctx, nil, TransitionInput{Deliverables: "survey notes"})
	require.NoError(t, err)
	assert.Equal(t, "research", moved.Completed)
	assert.Equal(t, "specification", moved.CurrentPhase)

	_, phase, err = s.getPhaseTool(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, "survey notes", phase.Phases[0].Deliverables)
	assert.NotEmpty(t, phase.Phases[0].CompletionDate)

	_, doc, err := s.getContextTool(ctx, nil, ContextInput{Context: "product"})
	require.NoError(t, err)
	assert.Empty(t, doc.Data)

	_, doc, err = s.updateContextTool(ctx, nil, UpdateContextInput{
		Context: "active",
		Content: map[string]any{"focus": "search", "blocker": "none"},
		Patch:   map[string]any{"blocker": "__DELETE__"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"focus": "search"}, doc.Data)

	_, _, err = s.updateContextTool(ctx, nil, UpdateContextInput{Context: "active"})
	assert.Error(t, err)
	_, _, err = s.getContextTool(ctx, nil, ContextInput{Context: "system"})
	assert.Error(t, err)
}

func TestStatusAndSyncTools(t *testing.T) {
	s, ws := newTestServer(t)
	ctx := context.Background()

	_, st, err := s.statusTool(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.False(t, st.Fitted)
	assert.NotEmpty(t, st.Warning)

	bank := filepath.Join(ws, "memory-bank", "context")
	require.NoError(t, os.MkdirAll(bank, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bank, "core-decisions.md"), []byte("- Use SQLite; single file\n"), 0o644))

	_, imported, err := s.syncTool(ctx, nil, SyncInput{})
	require.NoError(t, err)
	assert.Equal(t, "import", imported.Direction)
	assert.Equal(t, 1, imported.Counts["decisions"])

	_, st, err = s.statusTool(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.True(t, st.Fitted)
	assert.Equal(t, int64(1), st.Items["decisions"])
	assert.Equal(t, int64(1), st.Embeddings["tfidf"])
	assert.Empty(t, st.Warning)

	out := t.TempDir()
	_, exported, err := s.syncTool(ctx, nil, SyncInput{Direction: "export", Dir: out})
	require.NoError(t, err)
	assert.Equal(t, []string{"context/imported-decisions.md"}, exported.Files)

	_, _, err = s.syncTool(ctx, nil, SyncInput{Direction: "sideways"})
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2*1024*1024))
}
