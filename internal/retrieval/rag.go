package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/DreamCats/ctxportal/internal/store"
)

// modeKinds biases retrieval toward the record kinds each working mode
// cares about.
var modeKinds = map[string][]store.ItemKind{
	"sparc-specification-writer": {store.KindDecision},
	"sparc-domain-intelligence":  {store.KindCustomData, store.KindDecision},
	"sparc-architect":            {store.KindDecision, store.KindPattern},
	"sparc-code-implementer":     {store.KindProgress, store.KindPattern},
	"sparc-security-reviewer":    {store.KindCustomData, store.KindPattern},
	"sparc-qa-analyst":           {store.KindProgress},
}

// KindsForMode returns the kind filter for mode. Unknown or empty modes
// search every kind (nil).
func KindsForMode(mode string) []store.ItemKind {
	kinds, ok := modeKinds[strings.TrimSpace(mode)]
	if !ok {
		return nil
	}
	out := make([]store.ItemKind, len(kinds))
	copy(out, kinds)
	return out
}

// Modes lists the known modes in sorted order.
func Modes() []string {
	modes := make([]string, 0, len(modeKinds))
	for m := range modeKinds {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}

// RAGResponse is the context bundle handed to an assistant.
type RAGResponse struct {
	Mode    string           `json:"mode,omitempty"`
	Kinds   []store.ItemKind `json:"item_types,omitempty"`
	Results []SearchResult   `json:"results"`
	Context string           `json:"context"`
}

// Assist runs a mode-filtered search and renders the hits as a plain-text
// context block.
func (e *Engine) Assist(ctx context.Context, query, mode string, topK int) (*RAGResponse, error) {
	kinds := KindsForMode(mode)
	resp, err := e.Search(ctx, SearchRequest{Query: query, TopK: topK, Kinds: kinds})
	if err != nil {
		return nil, err
	}
	return &RAGResponse{
		Mode:    mode,
		Kinds:   kinds,
		Results: resp.Results,
		Context: FormatContext(resp.Results),
	}, nil
}

// FormatContext renders results as numbered lines, best first.
func FormatContext(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s #%d (%.3f", i+1, r.Kind, r.ID, r.Score)
		if r.Phase != "" {
			fmt.Fprintf(&b, ", %s", r.Phase)
		}
		fmt.Fprintf(&b, "): %s\n", strings.TrimSpace(r.Text))
	}
	return b.String()
}
