package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ItemKind names a source record kind. The string is also the item_type
// stored in item_embeddings.
type ItemKind string

const (
	KindDecision   ItemKind = "decisions"
	KindProgress   ItemKind = "progress"
	KindPattern    ItemKind = "system_patterns"
	KindCustomData ItemKind = "custom_data"
)

// AllKinds lists every kind in rebuild order.
var AllKinds = []ItemKind{KindDecision, KindProgress, KindPattern, KindCustomData}

// ParseKind validates a kind string.
func ParseKind(s string) (ItemKind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown item type %q", s)
}

func (k ItemKind) table() string {
	// The kind strings double as table names; this switch keeps arbitrary
	// input out of SQL text.
	switch k {
	case KindDecision:
		return "decisions"
	case KindProgress:
		return "progress"
	case KindPattern:
		return "system_patterns"
	case KindCustomData:
		return "custom_data"
	}
	panic(fmt.Sprintf("store: unknown item kind %q", string(k)))
}

// Record is implemented by every source record type.
type Record interface {
	RecordKind() ItemKind
	RecordID() int64
	RecordPhase() string
	RecordTime() time.Time
}

// Decision represents an architectural or product decision
type Decision struct {
	ID        int64     `json:"id"`
	Summary   string    `json:"summary"`
	Rationale string    `json:"rationale"`
	Tags      []string  `json:"tags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	PhaseName string    `json:"phase_name,omitempty"`
}

// Progress represents a task or status entry
type Progress struct {
	ID          int64     `json:"id"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	ParentID    *int64    `json:"parent_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	PhaseName   string    `json:"phase_name,omitempty"`
}

// Pattern represents a named system pattern
type Pattern struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	PhaseName   string    `json:"phase_name,omitempty"`
}

// CustomDatum is a categorized key/value fact. Value holds the stored JSON
// text exactly as persisted.
type CustomDatum struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	PhaseName string    `json:"phase_name,omitempty"`
}

func (d *Decision) RecordKind() ItemKind  { return KindDecision }
func (d *Decision) RecordID() int64       { return d.ID }
func (d *Decision) RecordPhase() string   { return d.PhaseName }
func (d *Decision) RecordTime() time.Time { return d.Timestamp }

func (p *Progress) RecordKind() ItemKind  { return KindProgress }
func (p *Progress) RecordID() int64       { return p.ID }
func (p *Progress) RecordPhase() string   { return p.PhaseName }
func (p *Progress) RecordTime() time.Time { return p.Timestamp }

func (p *Pattern) RecordKind() ItemKind  { return KindPattern }
func (p *Pattern) RecordID() int64       { return p.ID }
func (p *Pattern) RecordPhase() string   { return p.PhaseName }
func (p *Pattern) RecordTime() time.Time { return p.Timestamp }

func (c *CustomDatum) RecordKind() ItemKind  { return KindCustomData }
func (c *CustomDatum) RecordID() int64       { return c.ID }
func (c *CustomDatum) RecordPhase() string   { return c.PhaseName }
func (c *CustomDatum) RecordTime() time.Time { return c.Timestamp }

// Phase represents a lifecycle phase row
type Phase struct {
	Name           string     `json:"name"`
	Position       int        `json:"position"`
	Status         string     `json:"status"`
	CompletionDate *time.Time `json:"completion_date,omitempty"`
	Deliverables   string     `json:"deliverables,omitempty"`
}

// Embedding is one stored vector for an item under one embedding model.
type Embedding struct {
	Kind        ItemKind
	ItemID      int64
	Model       string
	Vector      []float64
	TextContent string
	CreatedAt   time.Time
}
