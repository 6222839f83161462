// Package memorybank mirrors the store to and from a directory of markdown
// and JSON files.
//
// Layout:
//
//	context/*-decisions.md   - summary; rationale; (tag, tag)
//	context/*-patterns.md    ## name, followed by the description
//	context/**/*.json        category = file stem, one record per top-level key
//	phases/*-status.md       - [status] description
package memorybank

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/DreamCats/ctxportal/internal/errs"
	"github.com/DreamCats/ctxportal/internal/logging"
)

const (
	decisionsGlob = "context/*-decisions.md"
	patternsGlob  = "context/*-patterns.md"
	customGlob    = "context/**/*.json"
	statusGlob    = "phases/*-status.md"
)

// Sink receives imported records. *store.DB satisfies it.
type Sink interface {
	LogDecision(ctx context.Context, summary, rationale string, tags []string) (int64, error)
	LogProgress(ctx context.Context, description, status string, parentID *int64) (int64, error)
	LogPattern(ctx context.Context, name, description string, tags []string) (int64, error)
	LogCustomData(ctx context.Context, category, key string, value any) (int64, error)
}

// ImportReport lists the ids created per kind and the files that could not
// be read.
type ImportReport struct {
	Decisions  []int64  `json:"decisions"`
	Progress   []int64  `json:"progress"`
	Patterns   []int64  `json:"system_patterns"`
	CustomData []int64  `json:"custom_data"`
	Skipped    []string `json:"skipped_files,omitempty"`
}

// Total returns the number of records created.
func (r *ImportReport) Total() int {
	return len(r.Decisions) + len(r.Progress) + len(r.Patterns) + len(r.CustomData)
}

// DecisionEntry is one parsed decision line.
type DecisionEntry struct {
	Summary   string
	Rationale string
	Tags      []string
}

// ProgressEntry is one parsed status line.
type ProgressEntry struct {
	Status      string
	Description string
}

// PatternEntry is one "## name" block.
type PatternEntry struct {
	Name        string
	Description string
}

// Import reads every recognised file under dir into sink. Unreadable or
// malformed files are logged and listed in the report, as are files holding
// a record the sink rejects as invalid. Any other sink error stops the
// import; the report returned with it lists the records already created.
func Import(ctx context.Context, dir string, sink Sink) (*ImportReport, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("memory bank directory not found: %s", dir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("memory bank path is not a directory: %s", dir)
	}

	fsys := os.DirFS(dir)
	report := &ImportReport{}

	err = eachFile(fsys, decisionsGlob, report, func(name string, r io.Reader) error {
		entries, err := ParseDecisions(r)
		if err != nil {
			return err
		}
		for _, e := range entries {
			id, err := sink.LogDecision(ctx, e.Summary, e.Rationale, e.Tags)
			if err != nil {
				return fromSink(err)
			}
			report.Decisions = append(report.Decisions, id)
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	err = eachFile(fsys, statusGlob, report, func(name string, r io.Reader) error {
		entries, err := ParseStatus(r)
		if err != nil {
			return err
		}
		for _, e := range entries {
			id, err := sink.LogProgress(ctx, e.Description, e.Status, nil)
			if err != nil {
				return fromSink(err)
			}
			report.Progress = append(report.Progress, id)
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	err = eachFile(fsys, patternsGlob, report, func(name string, r io.Reader) error {
		entries, err := ParsePatterns(r)
		if err != nil {
			return err
		}
		for _, e := range entries {
			id, err := sink.LogPattern(ctx, e.Name, e.Description, nil)
			if err != nil {
				return fromSink(err)
			}
			report.Patterns = append(report.Patterns, id)
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	err = eachFile(fsys, customGlob, report, func(name string, r io.Reader) error {
		var doc map[string]json.RawMessage
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		category := strings.TrimSuffix(path.Base(name), path.Ext(name))
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			id, err := sink.LogCustomData(ctx, category, k, doc[k])
			if err != nil {
				return fromSink(err)
			}
			report.CustomData = append(report.CustomData, id)
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	logging.Info("Imported memory bank", map[string]interface{}{
		"dir":             dir,
		"decisions":       len(report.Decisions),
		"progress":        len(report.Progress),
		"system_patterns": len(report.Patterns),
		"custom_data":     len(report.CustomData),
		"skipped_files":   len(report.Skipped),
	})
	return report, nil
}

// sinkError marks a failure of the destination, which aborts the import
// instead of skipping the file.
type sinkError struct{ err error }

// fromSink skips the file on a rejected record and aborts on anything else.
func fromSink(err error) error {
	if errs.IsValidation(err) {
		return err
	}
	return sinkError{err}
}

func (e sinkError) Error() string { return e.err.Error() }
func (e sinkError) Unwrap() error { return e.err }

func eachFile(fsys fs.FS, pattern string, report *ImportReport, fn func(name string, r io.Reader) error) error {
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)

	for _, name := range matches {
		f, err := fsys.Open(name)
		if err != nil {
			report.Skipped = append(report.Skipped, name)
			logging.Warn("Skipping unreadable memory bank file", map[string]interface{}{"file": name, "error": err.Error()})
			continue
		}
		err = fn(name, f)
		f.Close()
		if err == nil {
			continue
		}
		if se, ok := err.(sinkError); ok {
			return se.err
		}
		report.Skipped = append(report.Skipped, name)
		logging.Warn("Skipping malformed memory bank file", map[string]interface{}{"file": name, "error": err.Error()})
	}
	return nil
}

// ParseDecisions reads "- summary; rationale; (tag, tag)" lines. The
// rationale and the parenthesised tag group are optional.
func ParseDecisions(r io.Reader) ([]DecisionEntry, error) {
	var out []DecisionEntry
	err := eachBullet(r, func(content string) {
		parts := strings.Split(content, ";")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		var tags []string
		if last := parts[len(parts)-1]; len(parts) > 1 && strings.HasPrefix(last, "(") && strings.HasSuffix(last, ")") {
			for _, t := range strings.Split(last[1:len(last)-1], ",") {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
			parts = parts[:len(parts)-1]
		}

		e := DecisionEntry{Summary: parts[0], Tags: tags}
		if len(parts) > 1 {
			e.Rationale = strings.Join(parts[1:], "; ")
		}
		if e.Summary != "" {
			out = append(out, e)
		}
	})
	return out, err
}

// ParseStatus reads "- [status] description" lines; bullets without a
// status are ignored.
func ParseStatus(r io.Reader) ([]ProgressEntry, error) {
	var out []ProgressEntry
	err := eachBullet(r, func(content string) {
		if !strings.HasPrefix(content, "[") {
			return
		}
		end := strings.Index(content, "]")
		if end == -1 {
			return
		}
		e := ProgressEntry{
			Status:      strings.TrimSpace(content[1:end]),
			Description: strings.TrimSpace(content[end+1:]),
		}
		if e.Description != "" {
			out = append(out, e)
		}
	})
	return out, err
}

// ParsePatterns reads "## name" headings; the lines up to the next heading
// form the description.
func ParsePatterns(r io.Reader) ([]PatternEntry, error) {
	var (
		out     []PatternEntry
		current *PatternEntry
		desc    []string
	)
	flush := func() {
		if current != nil && current.Name != "" {
			current.Description = strings.TrimSpace(strings.Join(desc, "\n"))
			out = append(out, *current)
		}
		desc = nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "## ") {
			flush()
			current = &PatternEntry{Name: strings.TrimSpace(line[3:])}
			continue
		}
		if current != nil {
			desc = append(desc, strings.TrimRight(line, " \t"))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return out, nil
}

func eachBullet(r io.Reader, fn func(content string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "- ") {
			fn(strings.TrimSpace(line[2:]))
		}
	}
	return scanner.Err()
}
