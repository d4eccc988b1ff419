package harness

import (
	"maps"
	"time"

	"github.com/roach88/tandem/internal/ir"
)

// Epoch is time zero for scenario timestamps: a record's at is seconds after
// it.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Doc is the record type scenarios operate on: a key, a scope, a creation
// time and free-form fields.
type Doc struct {
	Key       string         `json:"key"`
	Scope     string         `json:"scope"`
	CreatedAt time.Time      `json:"created_at"`
	Fields    map[string]any `json:"fields"`
}

// DocKind returns the kind used for a scenario. Docs sort by creation time.
// Their fields identify a logical creation.
func DocKind(name string) ir.Kind[Doc] {
	return ir.Kind[Doc]{
		Name:  name,
		Key:   func(d Doc) string { return d.Key },
		Scope: func(d Doc) string { return d.Scope },
		Less:  func(a, b Doc) bool { return a.CreatedAt.Before(b.CreatedAt) },
		Content: func(d Doc) map[string]any {
			if d.Fields == nil {
				return map[string]any{}
			}
			return d.Fields
		},
		Stamp: func(d Doc, key, scope string, at time.Time) Doc {
			d.Key, d.Scope, d.CreatedAt = key, scope, at
			return d
		},
	}
}

// withFields returns a copy of d with fields merged over its own.
func (d Doc) withFields(fields map[string]any) Doc {
	merged := make(map[string]any, len(d.Fields)+len(fields))
	maps.Copy(merged, d.Fields)
	maps.Copy(merged, fields)
	d.Fields = merged
	return d
}

// TraceEvent records one action and the replica it left behind.
type TraceEvent struct {
	Step   int      `json:"step"`
	Action string   `json:"action"`
	Target string   `json:"target,omitempty"`
	Async  bool     `json:"async,omitempty"`
	Error  string   `json:"error,omitempty"`
	Keys   []string `json:"keys"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause matched.
	Pass bool `json:"pass"`

	// Trace holds one event per action step, plus one per async operation
	// collected by await.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
