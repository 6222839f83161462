package memorybank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/DreamCats/ctxportal/internal/logging"
	"github.com/DreamCats/ctxportal/internal/store"
)

// Source supplies the records to export. *store.DB satisfies it.
type Source interface {
	GetDecisions(ctx context.Context, filter store.DecisionFilter) ([]*store.Decision, error)
	GetProgress(ctx context.Context, filter store.ProgressFilter) ([]*store.Progress, error)
	GetPatterns(ctx context.Context, filter store.PatternFilter) ([]*store.Pattern, error)
	ListCustomData(ctx context.Context, category string) ([]*store.CustomDatum, error)
}

// ExportReport lists the files written.
type ExportReport struct {
	Files []string `json:"files"`
}

// Export writes the store into dir, overwriting earlier exports. Kinds with
// no records produce no file. Records are written oldest first so that a
// re-import preserves their order.
func Export(ctx context.Context, dir string, src Source) (*ExportReport, error) {
	report := &ExportReport{}
	write := func(rel string, data []byte) error {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(full), err)
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", full, err)
		}
		report.Files = append(report.Files, rel)
		return nil
	}

	decisions, err := src.GetDecisions(ctx, store.DecisionFilter{})
	if err != nil {
		return nil, err
	}
	if len(decisions) > 0 {
		var b bytes.Buffer
		b.WriteString("# Imported Decisions\n\n")
		for i := len(decisions) - 1; i >= 0; i-- {
			d := decisions[i]
			fmt.Fprintf(&b, "- %s; %s", oneLine(d.Summary), oneLine(d.Rationale))
			if len(d.Tags) > 0 {
				fmt.Fprintf(&b, "; (%s)", strings.Join(d.Tags, ", "))
			}
			b.WriteString("\n")
		}
		if err := write("context/imported-decisions.md", b.Bytes()); err != nil {
			return nil, err
		}
	}

	progress, err := src.GetProgress(ctx, store.ProgressFilter{})
	if err != nil {
		return nil, err
	}
	if len(progress) > 0 {
		sort.SliceStable(progress, func(i, j int) bool { return progress[i].ID < progress[j].ID })
		var b bytes.Buffer
		b.WriteString("# Imported Progress\n\n")
		for _, p := range progress {
			fmt.Fprintf(&b, "- [%s] %s\n", p.Status, oneLine(p.Description))
		}
		if err := write("phases/imported-status.md", b.Bytes()); err != nil {
			return nil, err
		}
	}

	patterns, err := src.GetPatterns(ctx, store.PatternFilter{})
	if err != nil {
		return nil, err
	}
	if len(patterns) > 0 {
		sort.SliceStable(patterns, func(i, j int) bool { return patterns[i].ID < patterns[j].ID })
		var b bytes.Buffer
		b.WriteString("# Imported Patterns\n\n")
		for _, p := range patterns {
			fmt.Fprintf(&b, "## %s\n\n%s\n\n", oneLine(p.Name), strings.TrimSpace(p.Description))
		}
		if err := write("context/imported-patterns.md", b.Bytes()); err != nil {
			return nil, err
		}
	}

	custom, err := src.ListCustomData(ctx, "")
	if err != nil {
		return nil, err
	}
	// Rows come ordered by category, key, id; the last row per key wins.
	byCategory := make(map[string]map[string]json.RawMessage)
	for _, c := range custom {
		if byCategory[c.Category] == nil {
			byCategory[c.Category] = make(map[string]json.RawMessage)
		}
		raw := json.RawMessage(c.Value)
		if !json.Valid(raw) {
			quoted, _ := json.Marshal(c.Value)
			raw = quoted
		}
		byCategory[c.Category][c.Key] = raw
	}
	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)
	for _, cat := range categories {
		data, err := json.MarshalIndent(byCategory[cat], "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", cat, err)
		}
		if err := write("context/"+safeFileName(cat)+".json", append(data, '\n')); err != nil {
			return nil, err
		}
	}

	logging.Info("Exported memory bank", map[string]interface{}{
		"dir":   dir,
		"files": len(report.Files),
	})
	return report, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func safeFileName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "uncategorized"
	}
	return s
}
