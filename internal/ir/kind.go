package ir

import (
	"errors"
	"fmt"
	"time"
)

// Kind describes one entity type to the generic replica machinery.
//
// A Kind replaces per-entity copies of the fetch/mutate/subscribe logic: the
// engine, the store and every gateway are parameterized by it.
type Kind[R any] struct {
	// Name identifies the kind in logs, storage tables and channels.
	Name string

	// Key returns the record's unique key.
	Key func(R) string

	// Scope returns the pairing the record belongs to.
	Scope func(R) string

	// Less orders records for display. Ties are broken by key.
	Less func(a, b R) bool

	// Content returns the domain fields that identify a logical creation.
	// Server-assigned fields (key, timestamps) must be left out.
	Content func(R) map[string]any

	// Stamp returns a copy of r carrying key, scope and creation time.
	Stamp func(r R, key, scope string, at time.Time) R
}

// Validate reports a Kind with missing functions.
func (k Kind[R]) Validate() error {
	var errs []error
	if k.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if k.Key == nil {
		errs = append(errs, errors.New("key function is required"))
	}
	if k.Scope == nil {
		errs = append(errs, errors.New("scope function is required"))
	}
	if k.Less == nil {
		errs = append(errs, errors.New("less function is required"))
	}
	if k.Content == nil {
		errs = append(errs, errors.New("content function is required"))
	}
	if k.Stamp == nil {
		errs = append(errs, errors.New("stamp function is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("kind %q: %w", k.Name, errors.Join(errs...))
	}
	return nil
}

// Compare is a total order over records: Less first, then key.
func (k Kind[R]) Compare(a, b R) int {
	switch {
	case k.Less(a, b):
		return -1
	case k.Less(b, a):
		return 1
	}
	ka, kb := k.Key(a), k.Key(b)
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	}
	return 0
}

// Before reports whether a sorts before b under Compare.
func (k Kind[R]) Before(a, b R) bool {
	return k.Compare(a, b) < 0
}
