package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tandem/internal/ir"
)

// Scenario is a conformance scenario: remote seed data and a sequence of
// steps run against one engine.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Kind names the record kind. Records are Docs whatever the name.
	Kind string `yaml:"kind"`

	// Seed is stored on the remote before the first step, unpublished.
	Seed []RecordSpec `yaml:"seed,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`
}

// RecordSpec describes a remote record.
type RecordSpec struct {
	Key    string         `yaml:"key"`
	Scope  string         `yaml:"scope,omitempty"`
	At     int            `yaml:"at"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Doc converts the seed entry to a record. An empty scope becomes fallback.
func (r RecordSpec) Doc(fallback string) Doc {
	scope := r.Scope
	if scope == "" {
		scope = fallback
	}
	return Doc{
		Key:       r.Key,
		Scope:     scope,
		CreatedAt: Epoch.Add(time.Duration(r.At) * time.Second),
		Fields:    r.Fields,
	}
}

// Step is one scenario step. Exactly one action field is set, except for
// steps that only carry an expect clause.
type Step struct {
	Bind    string         `yaml:"bind,omitempty"`
	Unbind  bool           `yaml:"unbind,omitempty"`
	Refetch bool           `yaml:"refetch,omitempty"`
	Create  map[string]any `yaml:"create,omitempty"`
	Update  *UpdateStep    `yaml:"update,omitempty"`
	Delete  string         `yaml:"delete,omitempty"`
	Push    *ChangeStep    `yaml:"push,omitempty"`
	Partner *ChangeStep    `yaml:"partner,omitempty"`
	Fail    string         `yaml:"fail,omitempty"`
	Hold    string         `yaml:"hold,omitempty"`
	Release string         `yaml:"release,omitempty"`
	Drop    bool           `yaml:"drop,omitempty"`
	Await   bool           `yaml:"await,omitempty"`

	// Async runs bind, refetch, create, update or delete in the background.
	Async bool `yaml:"async,omitempty"`

	// Expect is checked after the step settles.
	Expect *Expect `yaml:"expect,omitempty"`
}

// UpdateStep patches fields of the record under Key.
type UpdateStep struct {
	Key    string         `yaml:"key"`
	Fields map[string]any `yaml:"fields"`
}

// ChangeStep is a change made outside the engine under test.
type ChangeStep struct {
	Op     string     `yaml:"op"`
	Record RecordSpec `yaml:"record"`
}

// Expect is a set of checks against the engine. Unset fields are not
// checked.
type Expect struct {
	// Keys is the replica's keys in display order.
	Keys []string `yaml:"keys,omitempty"`

	// Count is the number of records in the replica.
	Count *int `yaml:"count,omitempty"`

	// Pending is the number of unresolved creates.
	Pending *int `yaml:"pending,omitempty"`

	// Stale is the engine's stale flag.
	Stale *bool `yaml:"stale,omitempty"`

	// Scope is the bound scope.
	Scope *string `yaml:"scope,omitempty"`

	// Error is the error code of the step's own operation, or "none".
	Error string `yaml:"error,omitempty"`

	// Errors are the error codes collected by await, in start order. An
	// empty string means success.
	Errors []string `yaml:"errors,omitempty"`

	// Fields maps a key to a subset of its record's fields.
	Fields map[string]map[string]any `yaml:"fields,omitempty"`

	// Remote is the remote's keys for the bound scope.
	Remote []string `yaml:"remote,omitempty"`
}

// Action names.
const (
	ActionBind    = "bind"
	ActionUnbind  = "unbind"
	ActionRefetch = "refetch"
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionPush    = "push"
	ActionPartner = "partner"
	ActionFail    = "fail"
	ActionHold    = "hold"
	ActionRelease = "release"
	ActionDrop    = "drop"
	ActionAwait   = "await"
)

// Gate names for hold and release.
const (
	GateFetch     = "fetch"
	GateMutations = "mutations"
)

// ErrorNone in an expect clause asserts the operation succeeded.
const ErrorNone = "none"

// Action returns the step's action name, or "" for an expect-only step.
// It assumes the step is valid.
func (s Step) Action() string {
	names := s.actions()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func (s Step) actions() []string {
	var names []string
	add := func(set bool, name string) {
		if set {
			names = append(names, name)
		}
	}
	add(s.Bind != "", ActionBind)
	add(s.Unbind, ActionUnbind)
	add(s.Refetch, ActionRefetch)
	add(s.Create != nil, ActionCreate)
	add(s.Update != nil, ActionUpdate)
	add(s.Delete != "", ActionDelete)
	add(s.Push != nil, ActionPush)
	add(s.Partner != nil, ActionPartner)
	add(s.Fail != "", ActionFail)
	add(s.Hold != "", ActionHold)
	add(s.Release != "", ActionRelease)
	add(s.Drop, ActionDrop)
	add(s.Await, ActionAwait)
	return names
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is invalid.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "expects:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every scenario named by paths. A directory contributes
// its *.yaml and *.yml files in name order.
func LoadScenarios(paths ...string) ([]*Scenario, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		var found []string
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(p, pattern))
			if err != nil {
				return nil, err
			}
			found = append(found, matches...)
		}
		sort.Strings(found)
		files = append(files, found...)
	}

	scenarios := make([]*Scenario, 0, len(files))
	for _, f := range files {
		s, err := LoadScenario(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, r := range s.Seed {
		if r.Key == "" {
			return fmt.Errorf("seed[%d]: key is required", i)
		}
		if r.Scope == "" {
			return fmt.Errorf("seed[%d]: scope is required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

// validateStep validates a single step based on its action.
func validateStep(step Step) error {
	names := step.actions()
	switch {
	case len(names) > 1:
		return fmt.Errorf("exactly one action allowed, got %v", names)
	case len(names) == 0 && step.Expect == nil:
		return fmt.Errorf("an action or an expect clause is required")
	}
	action := step.Action()
	if err := validateExpect(action, step); err != nil {
		return err
	}
	if action == "" {
		if step.Async {
			return fmt.Errorf("async requires an action")
		}
		return nil
	}

	if step.Async {
		switch action {
		case ActionBind, ActionRefetch, ActionCreate, ActionUpdate, ActionDelete:
		default:
			return fmt.Errorf("%s cannot run async", action)
		}
	}

	switch action {
	case ActionUpdate:
		if step.Update.Key == "" {
			return fmt.Errorf("update: key is required")
		}
	case ActionPush, ActionPartner:
		if _, err := ir.ParseOperation(changeOp(step)); err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
	case ActionFail:
		switch step.Fail {
		case string(ir.OpInsert), string(ir.OpUpdate), string(ir.OpDelete), GateFetch:
		default:
			return fmt.Errorf("fail: unknown target %q", step.Fail)
		}
	case ActionHold, ActionRelease:
		gate := step.Hold + step.Release
		if gate != GateFetch && gate != GateMutations {
			return fmt.Errorf("%s: unknown gate %q", action, gate)
		}
	}
	return nil
}

// validateExpect checks that error expectations refer to an outcome the
// step produces.
func validateExpect(action string, step Step) error {
	if step.Expect == nil {
		return nil
	}
	if step.Expect.Error != "" {
		switch action {
		case ActionBind, ActionUnbind, ActionRefetch, ActionCreate, ActionUpdate, ActionDelete, ActionPartner:
			if step.Async {
				return fmt.Errorf("expect.error on an async step; use await and expect.errors")
			}
		default:
			return fmt.Errorf("expect.error requires an operation, got %q", action)
		}
	}
	if step.Expect.Errors != nil && action != ActionAwait {
		return fmt.Errorf("expect.errors requires await")
	}
	return nil
}

func changeOp(step Step) string {
	if step.Push != nil {
		return step.Push.Op
	}
	if step.Partner != nil {
		return step.Partner.Op
	}
	return ""
}
