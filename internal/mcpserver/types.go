package mcpserver

// Timestamps and records are passed as strings and plain maps so the
// inferred output schemas stay simple JSON objects.

// LogDecisionInput defines inputs for ctxportal_log_decision.
type LogDecisionInput struct {
	Summary   string   `json:"summary" jsonschema:"one-line decision summary"`
	Rationale string   `json:"rationale,omitempty" jsonschema:"why the decision was made"`
	Tags      []string `json:"tags,omitempty" jsonschema:"tags for filtering"`
}

// LoggedOutput is returned by every log tool. Warning is set when the record
// was saved but its embedding could not be refreshed.
type LoggedOutput struct {
	ID      int64  `json:"id"`
	Warning string `json:"warning,omitempty"`
}

// GetDecisionsInput defines inputs for ctxportal_get_decisions.
type GetDecisionsInput struct {
	Limit   int      `json:"limit,omitempty" jsonschema:"maximum number of decisions, newest first"`
	TagsAll []string `json:"tags_all,omitempty" jsonschema:"only decisions carrying every one of these tags"`
	TagsAny []string `json:"tags_any,omitempty" jsonschema:"only decisions carrying at least one of these tags"`
}

// SearchDecisionsInput defines inputs for ctxportal_search_decisions.
type SearchDecisionsInput struct {
	Term  string `json:"term" jsonschema:"substring to match in summary or rationale"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// LogProgressInput defines inputs for ctxportal_log_progress.
type LogProgressInput struct {
	Description string `json:"description" jsonschema:"task description"`
	Status      string `json:"status,omitempty" jsonschema:"status such as TODO, IN_PROGRESS or DONE (default TODO)"`
	ParentID    *int64 `json:"parent_id,omitempty" jsonschema:"id of the parent progress entry"`
}

// UpdateProgressInput defines inputs for ctxportal_update_progress.
type UpdateProgressInput struct {
	ID          int64   `json:"id" jsonschema:"progress entry id"`
	Status      *string `json:"status,omitempty" jsonschema:"new status"`
	Description *string `json:"description,omitempty" jsonschema:"new description"`
	ParentID    *int64  `json:"parent_id,omitempty" jsonschema:"new parent id"`
}

// UpdatedOutput is returned by update tools.
type UpdatedOutput struct {
	ID      int64  `json:"id"`
	Updated bool   `json:"updated"`
	Warning string `json:"warning,omitempty"`
}

// GetProgressInput defines inputs for ctxportal_get_progress.
type GetProgressInput struct {
	Status   string `json:"status,omitempty" jsonschema:"only entries with this status"`
	ParentID *int64 `json:"parent_id,omitempty" jsonschema:"only children of this entry"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of entries, newest first"`
}

// LogPatternInput defines inputs for ctxportal_log_pattern.
type LogPatternInput struct {
	Name        string   `json:"name" jsonschema:"pattern name"`
	Description string   `json:"description,omitempty" jsonschema:"what the pattern is and where it applies"`
	Tags        []string `json:"tags,omitempty" jsonschema:"tags for filtering"`
}

// GetPatternsInput defines inputs for ctxportal_get_patterns.
type GetPatternsInput struct {
	TagsAll []string `json:"tags_all,omitempty" jsonschema:"only patterns carrying every one of these tags"`
	Limit   int      `json:"limit,omitempty" jsonschema:"maximum number of patterns, newest first"`
}

// LogCustomDataInput defines inputs for ctxportal_log_custom_data.
type LogCustomDataInput struct {
	Category string `json:"category" jsonschema:"category, e.g. glossary"`
	Key      string `json:"key" jsonschema:"key within the category"`
	Value    any    `json:"value" jsonschema:"any JSON value"`
}

// GetCustomDataInput defines inputs for ctxportal_get_custom_data.
type GetCustomDataInput struct {
	Category string `json:"category,omitempty" jsonschema:"category to read; empty lists every category"`
	Key      string `json:"key,omitempty" jsonschema:"key to read; empty lists the whole category"`
	Search   string `json:"search,omitempty" jsonschema:"substring to match in keys and values instead of an exact read"`
}

// RecordsOutput lists records of one kind.
type RecordsOutput struct {
	Count int              `json:"count"`
	Items []map[string]any `json:"items"`
}

// SemanticSearchInput defines inputs for ctxportal_semantic_search.
type SemanticSearchInput struct {
	Query         string   `json:"query" jsonschema:"natural language query"`
	TopK          int      `json:"top_k,omitempty" jsonschema:"number of results to return"`
	ItemTypes     []string `json:"item_types,omitempty" jsonschema:"restrict to decisions, progress, system_patterns or custom_data"`
	MinSimilarity *float64 `json:"min_similarity,omitempty" jsonschema:"drop results scoring below this cosine similarity"`
}

// SearchHit is one semantic search result.
type SearchHit struct {
	ItemType        string         `json:"item_type"`
	ItemID          int64          `json:"item_id"`
	SimilarityScore float64        `json:"similarity_score"`
	Phase           string         `json:"phase,omitempty"`
	Timestamp       string         `json:"timestamp"`
	TextContent     string         `json:"text_content"`
	ItemData        map[string]any `json:"item_data"`
}

// SemanticSearchOutput is the output for ctxportal_semantic_search.
type SemanticSearchOutput struct {
	Query      string      `json:"query"`
	Provider   string      `json:"provider"`
	Count      int         `json:"count"`
	Candidates int         `json:"candidates"`
	Skipped    int         `json:"skipped_rows"`
	Results    []SearchHit `json:"results"`
}

// RAGInput defines inputs for ctxportal_rag_assist.
type RAGInput struct {
	Query string `json:"query" jsonschema:"question or task description"`
	Mode  string `json:"mode,omitempty" jsonschema:"working mode that selects the record kinds to search"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of results to include"`
}

// RAGOutput is the output for ctxportal_rag_assist.
type RAGOutput struct {
	Query     string      `json:"query"`
	Mode      string      `json:"mode,omitempty"`
	ItemTypes []string    `json:"item_types"`
	Context   string      `json:"context"`
	Results   []SearchHit `json:"results"`
}

// EmptyInput is used by tools that take no arguments.
type EmptyInput struct{}

// RebuildOutput is the output for ctxportal_rebuild_embeddings.
type RebuildOutput struct {
	Provider  string            `json:"provider"`
	Succeeded map[string]int    `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
	Cancelled bool              `json:"cancelled"`
	Duration  string            `json:"duration"`
}

// PhaseInfo describes one lifecycle phase.
type PhaseInfo struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	CompletionDate string `json:"completion_date,omitempty"`
	Deliverables   string `json:"deliverables,omitempty"`
}

// PhaseOutput is the output for ctxportal_get_phase.
type PhaseOutput struct {
	CurrentPhase string      `json:"current_phase"`
	Phases       []PhaseInfo `json:"phases"`
}

// TransitionInput defines inputs for ctxportal_transition_phase.
type TransitionInput struct {
	Deliverables string `json:"deliverables,omitempty" jsonschema:"deliverables note recorded on the phase being completed"`
}

// TransitionOutput is the output for ctxportal_transition_phase.
type TransitionOutput struct {
	Completed    string `json:"completed"`
	CurrentPhase string `json:"current_phase"`
}

// ContextInput defines inputs for ctxportal_get_context.
type ContextInput struct {
	Context string `json:"context" jsonschema:"product or active"`
}

// UpdateContextInput defines inputs for ctxportal_update_context.
type UpdateContextInput struct {
	Context string         `json:"context" jsonschema:"product or active"`
	Content map[string]any `json:"content,omitempty" jsonschema:"replaces the whole document"`
	Patch   map[string]any `json:"patch,omitempty" jsonschema:"merged key by key; the value __DELETE__ removes a key"`
}

// ContextOutput is the output for the context tools.
type ContextOutput struct {
	Context string         `json:"context"`
	Data    map[string]any `json:"data"`
}

// StatusOutput is the output for ctxportal_status.
type StatusOutput struct {
	Database     string           `json:"database"`
	Size         string           `json:"size"`
	CurrentPhase string           `json:"current_phase"`
	Items        map[string]int64 `json:"items"`
	Embeddings   map[string]int64 `json:"embeddings"`
	Provider     string           `json:"provider"`
	Dimension    int              `json:"dimension"`
	Fitted       bool             `json:"fitted"`
	Warning      string           `json:"warning,omitempty"`
}

// SyncInput defines inputs for ctxportal_sync_memory_bank.
type SyncInput struct {
	Direction string `json:"direction,omitempty" jsonschema:"import (default) or export"`
	Dir       string `json:"dir,omitempty" jsonschema:"memory-bank directory; defaults to the configured one"`
}

// SyncOutput is the output for ctxportal_sync_memory_bank.
type SyncOutput struct {
	Direction string         `json:"direction"`
	Dir       string         `json:"dir"`
	Counts    map[string]int `json:"counts,omitempty"`
	Files     []string       `json:"files,omitempty"`
	Skipped   []string       `json:"skipped_files,omitempty"`
	Warning   string         `json:"warning,omitempty"`
}
