package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DreamCats/ctxportal/internal/logging"
	"github.com/DreamCats/ctxportal/internal/portal"
	"github.com/DreamCats/ctxportal/internal/retrieval"
	"github.com/DreamCats/ctxportal/internal/store"
)

// Server exposes a portal over MCP stdio.
type Server struct {
	portal  *portal.Portal
	version string
}

// New creates a new MCP server wrapper. The caller keeps ownership of p.
func New(p *portal.Portal, version string) *Server {
	return &Server{portal: p, version: version}
}

// Run starts the MCP stdio server and blocks until the client disconnects
// or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.newMCPServer().Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) newMCPServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "ctxportal",
		Title:   "Context Portal",
		Version: s.version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_log_decision",
		Description: "Record an architectural or product decision. The decision is stamped with the current lifecycle phase and embedded for semantic search.",
	}, s.logDecisionTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_get_decisions",
		Description: "List decisions newest first, optionally filtered by tags (tags_all: every tag, tags_any: at least one).",
	}, s.getDecisionsTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_search_decisions",
		Description: "Keyword search over decision summaries and rationales.",
	}, s.searchDecisionsTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_log_progress",
		Description: "Record a task or status entry, optionally under a parent entry.",
	}, s.logProgressTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_update_progress",
		Description: "Change the status, description or parent of a progress entry. At least one field is required.",
	}, s.updateProgressTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_get_progress",
		Description: "List progress entries newest first, optionally filtered by status or parent.",
	}, s.getProgressTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_log_pattern",
		Description: "Record a named system pattern.",
	}, s.logPatternTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_get_patterns",
		Description: "List system patterns newest first, optionally filtered by tags.",
	}, s.getPatternsTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_log_custom_data",
		Description: "Store any JSON value under a category and key. Earlier values for the same key are kept; reads return the latest.",
	}, s.logCustomDataTool)
	mcp.AddTool(server, &mcp.Tool{
		Name: "ctxportal_get_custom_data",
		Description: `Read custom data.

- category + key: the latest value for that key
- category only: every row in the category
- search: substring match over keys and values (optionally within category)
- nothing: every row`,
	}, s.getCustomDataTool)

	mcp.AddTool(server, &mcp.Tool{
		Name: "ctxportal_semantic_search",
		Description: `Rank stored decisions, progress, patterns and custom data by meaning.

Results carry a cosine similarity in [-1, 1] and the full record. Use item_types
to restrict the kinds searched and min_similarity to drop weak matches.`,
	}, s.semanticSearchTool)
	mcp.AddTool(server, &mcp.Tool{
		Name: "ctxportal_rag_assist",
		Description: `Retrieve context for a task and render it as a numbered text block.

The mode selects the record kinds searched:
` + modeHelp(),
	}, s.ragTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_rebuild_embeddings",
		Description: "Re-embed every record under the active provider. Lexical providers are re-fitted over the whole corpus first.",
	}, s.rebuildTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_get_phase",
		Description: "Show the current lifecycle phase and the status of every phase.",
	}, s.getPhaseTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_transition_phase",
		Description: "Complete the current lifecycle phase and activate the next one.",
	}, s.transitionPhaseTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_get_context",
		Description: "Read the product or active context document.",
	}, s.getContextTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_update_context",
		Description: "Replace (content) and/or patch (patch) the product or active context document.",
	}, s.updateContextTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_status",
		Description: "Show record counts, embedding counts per provider, the active provider and the current phase.",
	}, s.statusTool)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ctxportal_sync_memory_bank",
		Description: "Import records from, or export them to, the markdown memory-bank directory.",
	}, s.syncTool)

	return server
}

func modeHelp() string {
	var b strings.Builder
	for _, mode := range retrieval.Modes() {
		kinds := retrieval.KindsForMode(mode)
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		fmt.Fprintf(&b, "- %s: %s\n", mode, strings.Join(names, ", "))
	}
	b.WriteString("- anything else: every kind")
	return b.String()
}

// refreshWarning turns a RefreshError into a warning: the record was saved,
// so the tool call succeeds.
func refreshWarning(err error) (string, error) {
	if err == nil {
		return "", nil
	}
	var refreshErr *portal.RefreshError
	if errors.As(err, &refreshErr) {
		return refreshErr.Error(), nil
	}
	return "", err
}

func (s *Server) logDecisionTool(ctx context.Context, _ *mcp.CallToolRequest, input LogDecisionInput) (*mcp.CallToolResult, LoggedOutput, error) {
	id, err := s.portal.LogDecision(ctx, input.Summary, input.Rationale, input.Tags)
	warning, err := refreshWarning(err)
	if err != nil {
		return nil, LoggedOutput{}, err
	}
	return nil, LoggedOutput{ID: id, Warning: warning}, nil
}

func (s *Server) getDecisionsTool(ctx context.Context, _ *mcp.CallToolRequest, input GetDecisionsInput) (*mcp.CallToolResult, RecordsOutput, error) {
	decisions, err := s.portal.GetDecisions(ctx, store.DecisionFilter{
		Limit:   input.Limit,
		TagsAll: input.TagsAll,
		TagsAny: input.TagsAny,
	})
	if err != nil {
		return nil, RecordsOutput{}, err
	}
	return recordsOutput(decisions)
}

func (s *Server) searchDecisionsTool(ctx context.Context, _ *mcp.CallToolRequest, input SearchDecisionsInput) (*mcp.CallToolResult, RecordsOutput, error) {
	if strings.TrimSpace(input.Term) == "" {
		return nil, RecordsOutput{}, fmt.Errorf("term is required")
	}
	decisions, err := s.portal.SearchDecisions(ctx, input.Term, input.Limit)
	if err != nil {
		return nil, RecordsOutput{}, err
	}
	return recordsOutput(decisions)
}

func (s *Server) logProgressTool(ctx context.Context, _ *mcp.CallToolRequest, input LogProgressInput) (*mcp.CallToolResult, LoggedOutput, error) {
	id, err := s.portal.LogProgress(ctx, input.Description, input.Status, input.ParentID)
	warning, err := refreshWarning(err)
	if err != nil {
		return nil, LoggedOutput{}, err
	}
	return nil, LoggedOutput{ID: id, Warning: warning}, nil
}

func (s *Server) updateProgressTool(ctx context.Context, _ *mcp.CallToolRequest, input UpdateProgressInput) (*mcp.CallToolResult, UpdatedOutput, error) {
	err := s.portal.UpdateProgress(ctx, input.ID, store.ProgressUpdate{
		Status:      input.Status,
		Description: input.Description,
		ParentID:    input.ParentID,
	})
	warning, err := refreshWarning(err)
	if err != nil {
		return nil, UpdatedOutput{}, err
	}
	return nil, UpdatedOutput{ID: input.ID, Updated: true, Warning: warning}, nil
}

func (s *Server) getProgressTool(ctx context.Context, _ *mcp.CallToolRequest, input GetProgressInput) (*mcp.CallToolResult, RecordsOutput, error) {
	items, err := s.portal.GetProgress(ctx, store.ProgressFilter{
		Status:   input.Status,
		ParentID: input.ParentID,
		Limit:    input.Limit,
	})
	if err != nil {
		return nil, RecordsOutput{}, err
	}
	return recordsOutput(items)
}

func (s *Server) logPatternTool(ctx context.Context, _ *mcp.CallToolRequest, input LogPatternInput) (*mcp.CallToolResult, LoggedOutput, error) {
	id, err := s.portal.LogPattern(ctx, input.Name, input.Description, input.Tags)
	warning, err := refreshWarning(err)
	if err != nil {
		return nil, LoggedOutput{}, err
	}
	return nil, LoggedOutput{ID: id, Warning: warning}, nil
}

func (s *Server) getPatternsTool(ctx context.Context, _ *mcp.CallToolRequest, input GetPatternsInput) (*mcp.CallToolResult, RecordsOutput, error) {
	patterns, err := s.portal.GetPatterns(ctx, store.PatternFilter{TagsAll: input.TagsAll, Limit: input.Limit})
	if err != nil {
		return nil, RecordsOutput{}, err
	}
	return recordsOutput(patterns)
}

func (s *Server) logCustomDataTool(ctx context.Context, _ *mcp.CallToolRequest, input LogCustomDataInput) (*mcp.CallToolResult, LoggedOutput, error) {
	id, err := s.portal.LogCustomData(ctx, input.Category, input.Key, input.Value)
	warning, err := refreshWarning(err)
	if err != nil {
		return nil, LoggedOutput{}, err
	}
	return nil, LoggedOutput{ID: id, Warning: warning}, nil
}

func (s *Server) getCustomDataTool(ctx context.Context, _ *mcp.CallToolRequest, input GetCustomDataInput) (*mcp.CallToolResult, RecordsOutput, error) {
	var (
		rows []*store.CustomDatum
		err  error
	)
	switch {
	case input.Search != "":
		rows, err = s.portal.SearchCustomData(ctx, input.Search, input.Category, 0)
	case input.Category != "" && input.Key != "":
		var row *store.CustomDatum
		row, err = s.portal.GetCustomData(ctx, input.Category, input.Key)
		if errors.Is(err, store.ErrNotFound) {
			err = nil
		}
		if row != nil {
			rows = []*store.CustomDatum{row}
		}
	default:
		rows, err = s.portal.ListCustomData(ctx, input.Category)
	}
	if err != nil {
		return nil, RecordsOutput{}, err
	}
	return recordsOutput(rows)
}

func (s *Server) semanticSearchTool(ctx context.Context, _ *mcp.CallToolRequest, input SemanticSearchInput) (*mcp.CallToolResult, SemanticSearchOutput, error) {
	kinds, err := parseKinds(input.ItemTypes)
	if err != nil {
		return nil, SemanticSearchOutput{}, err
	}
	resp, err := s.portal.SemanticSearch(ctx, retrieval.SearchRequest{
		Query:         input.Query,
		TopK:          input.TopK,
		Kinds:         kinds,
		MinSimilarity: input.MinSimilarity,
	})
	if err != nil {
		return nil, SemanticSearchOutput{}, err
	}

	hits, err := mapResults(resp.Results)
	if err != nil {
		return nil, SemanticSearchOutput{}, err
	}
	return nil, SemanticSearchOutput{
		Query:      input.Query,
		Provider:   resp.Provider,
		Count:      len(hits),
		Candidates: resp.Candidates,
		Skipped:    resp.Skipped,
		Results:    hits,
	}, nil
}

func (s *Server) ragTool(ctx context.Context, _ *mcp.CallToolRequest, input RAGInput) (*mcp.CallToolResult, RAGOutput, error) {
	resp, err := s.portal.RAGAssist(ctx, input.Query, input.Mode, input.TopK)
	if err != nil {
		return nil, RAGOutput{}, err
	}
	hits, err := mapResults(resp.Results)
	if err != nil {
		return nil, RAGOutput{}, err
	}

	kinds := resp.Kinds
	if kinds == nil {
		kinds = store.AllKinds
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return nil, RAGOutput{
		Query:     input.Query,
		Mode:      resp.Mode,
		ItemTypes: names,
		Context:   resp.Context,
		Results:   hits,
	}, nil
}

func (s *Server) rebuildTool(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, RebuildOutput, error) {
	report, err := s.portal.RebuildEmbeddings(ctx)
	if err != nil {
		return nil, RebuildOutput{}, err
	}
	out := RebuildOutput{
		Provider:  report.Provider,
		Succeeded: make(map[string]int, len(report.Succeeded)),
		Failed:    make(map[string]string, len(report.Failed)),
		Cancelled: report.Cancelled,
		Duration:  report.Duration.Round(time.Millisecond).String(),
	}
	for k, n := range report.Succeeded {
		out.Succeeded[string(k)] = n
	}
	for k, msg := range report.Failed {
		out.Failed[string(k)] = msg
	}
	return nil, out, nil
}

func (s *Server) getPhaseTool(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, PhaseOutput, error) {
	current, err := s.portal.CurrentPhase(ctx)
	if err != nil {
		return nil, PhaseOutput{}, err
	}
	phases, err := s.portal.ListPhases(ctx)
	if err != nil {
		return nil, PhaseOutput{}, err
	}

	out := PhaseOutput{CurrentPhase: current, Phases: make([]PhaseInfo, 0, len(phases))}
	for _, p := range phases {
		info := PhaseInfo{Name: p.Name, Status: p.Status, Deliverables: p.Deliverables}
		if p.CompletionDate != nil {
			info.CompletionDate = p.CompletionDate.UTC().Format(time.RFC3339)
		}
		out.Phases = append(out.Phases, info)
	}
	return nil, out, nil
}

func (s *Server) transitionPhaseTool(ctx context.Context, _ *mcp.CallToolRequest, input TransitionInput) (*mcp.CallToolResult, TransitionOutput, error) {
	current, err := s.portal.CurrentPhase(ctx)
	if err != nil {
		return nil, TransitionOutput{}, err
	}
	if input.Deliverables != "" {
		if err := s.portal.SetPhaseDeliverables(ctx, current, input.Deliverables); err != nil {
			return nil, TransitionOutput{}, err
		}
	}
	next, err := s.portal.TransitionToNextPhase(ctx)
	if err != nil {
		return nil, TransitionOutput{}, err
	}
	return nil, TransitionOutput{Completed: current, CurrentPhase: next}, nil
}

func (s *Server) getContextTool(ctx context.Context, _ *mcp.CallToolRequest, input ContextInput) (*mcp.CallToolResult, ContextOutput, error) {
	doc, err := store.ParseContextDoc(input.Context)
	if err != nil {
		return nil, ContextOutput{}, err
	}
	data, err := s.portal.GetContext(ctx, doc)
	if err != nil {
		return nil, ContextOutput{}, err
	}
	return nil, ContextOutput{Context: string(doc), Data: ensureMap(data)}, nil
}

func (s *Server) updateContextTool(ctx context.Context, _ *mcp.CallToolRequest, input UpdateContextInput) (*mcp.CallToolResult, ContextOutput, error) {
	doc, err := store.ParseContextDoc(input.Context)
	if err != nil {
		return nil, ContextOutput{}, err
	}
	if input.Content == nil && len(input.Patch) == 0 {
		return nil, ContextOutput{}, fmt.Errorf("content or patch is required")
	}
	data, err := s.portal.UpdateContext(ctx, doc, input.Content, input.Patch)
	if err != nil {
		return nil, ContextOutput{}, err
	}
	return nil, ContextOutput{Context: string(doc), Data: ensureMap(data)}, nil
}

func (s *Server) statusTool(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, StatusOutput, error) {
	st, err := s.portal.Status(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}

	out := StatusOutput{
		Database:     st.Database,
		Size:         formatBytes(st.SizeBytes),
		CurrentPhase: st.CurrentPhase,
		Items:        make(map[string]int64, len(st.Items)),
		Embeddings:   st.Embeddings,
		Provider:     st.Provider,
		Dimension:    st.Dimension,
		Fitted:       st.Fitted,
	}
	var total int64
	for k, n := range st.Items {
		out.Items[string(k)] = n
		total += n
	}
	switch {
	case !st.Fitted:
		out.Warning = "Lexical vocabulary not fitted yet. Run ctxportal_rebuild_embeddings or log a record."
	case total > 0 && st.Embeddings[st.Provider] == 0:
		out.Warning = "No embeddings for the active provider. Semantic search will return nothing until a rebuild."
	}
	return nil, out, nil
}

func (s *Server) syncTool(ctx context.Context, _ *mcp.CallToolRequest, input SyncInput) (*mcp.CallToolResult, SyncOutput, error) {
	dir := input.Dir
	if dir == "" {
		dir = s.portal.MemoryBankDir()
	}

	switch strings.ToLower(strings.TrimSpace(input.Direction)) {
	case "", "import":
		report, err := s.portal.ImportMemoryBank(ctx, dir)
		warning, err := refreshWarning(err)
		if err != nil {
			return nil, SyncOutput{}, err
		}
		return nil, SyncOutput{
			Direction: "import",
			Dir:       dir,
			Counts: map[string]int{
				string(store.KindDecision):   len(report.Decisions),
				string(store.KindProgress):   len(report.Progress),
				string(store.KindPattern):    len(report.Patterns),
				string(store.KindCustomData): len(report.CustomData),
			},
			Skipped: report.Skipped,
			Warning: warning,
		}, nil
	case "export":
		report, err := s.portal.ExportMemoryBank(ctx, dir)
		if err != nil {
			return nil, SyncOutput{}, err
		}
		return nil, SyncOutput{Direction: "export", Dir: dir, Files: report.Files}, nil
	default:
		return nil, SyncOutput{}, fmt.Errorf("direction must be import or export, got %q", input.Direction)
	}
}

func parseKinds(names []string) ([]store.ItemKind, error) {
	if len(names) == 0 {
		return nil, nil
	}
	kinds := make([]store.ItemKind, 0, len(names))
	for _, name := range names {
		k, err := store.ParseKind(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func mapResults(results []retrieval.SearchResult) ([]SearchHit, error) {
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		data, err := toMap(r.Record)
		if err != nil {
			return nil, err
		}
		hits = append(hits, SearchHit{
			ItemType:        string(r.Kind),
			ItemID:          r.ID,
			SimilarityScore: r.Score,
			Phase:           r.Phase,
			Timestamp:       r.Timestamp.UTC().Format(time.RFC3339Nano),
			TextContent:     r.Text,
			ItemData:        data,
		})
	}
	return hits, nil
}

func recordsOutput[T any](records []T) (*mcp.CallToolResult, RecordsOutput, error) {
	items := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		m, err := toMap(rec)
		if err != nil {
			return nil, RecordsOutput{}, err
		}
		items = append(items, m)
	}
	return nil, RecordsOutput{Count: len(items), Items: items}, nil
}

// toMap flattens a record through its JSON form.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		logging.Debug("Record is not a JSON object", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return ensureMap(out), nil
}

func ensureMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// formatBytes formats bytes to human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
