// Package semantic renders source records as the canonical text that gets
// embedded.
package semantic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DreamCats/ctxportal/internal/logging"
	"github.com/DreamCats/ctxportal/internal/store"
)

// Extract returns the text to embed for rec. ok is false for a nil record or
// an unknown kind; callers skip those. Extract does no I/O.
func Extract(rec store.Record) (text string, ok bool) {
	switch r := rec.(type) {
	case *store.Decision:
		if r == nil {
			return "", false
		}
		return r.Summary + ". " + r.Rationale, true
	case *store.Progress:
		if r == nil {
			return "", false
		}
		return r.Description, true
	case *store.Pattern:
		if r == nil {
			return "", false
		}
		return r.Name + ". " + r.Description, true
	case *store.CustomDatum:
		if r == nil {
			return "", false
		}
		return fmt.Sprintf("%s/%s: %s", r.Category, r.Key, renderValue(r)), true
	}
	return "", false
}

// renderValue unwraps a JSON string and compacts any other JSON value. Text
// that is not JSON is used verbatim.
func renderValue(c *store.CustomDatum) string {
	raw := strings.TrimSpace(c.Value)

	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		logging.Warn("Custom data value is not valid JSON, embedding raw text", map[string]interface{}{
			"id":       c.ID,
			"category": c.Category,
			"key":      c.Key,
		})
		return c.Value
	}
	return buf.String()
}
