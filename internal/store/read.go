package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/tandem/internal/ir"
)

// Row is a stored record.
type Row struct {
	Kind    string
	Key     string
	Scope   string
	Payload []byte
	Seq     int64
}

// Change is one entry of the change log.
type Change struct {
	Seq     int64
	Kind    string
	Scope   string
	Op      ir.Operation
	Key     string
	Payload []byte
}

// Records returns every record of kind in scope.
// Results are ordered ORDER BY seq ASC, key ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) Records(ctx context.Context, kind, scope string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, key, scope_id, payload, seq
		FROM records
		WHERE kind = ? AND scope_id = ?
		ORDER BY seq ASC, key COLLATE BINARY ASC
	`, kind, scope)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var (
			r       Row
			payload string
		)
		if err := rows.Scan(&r.Kind, &r.Key, &r.Scope, &payload, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Payload = []byte(payload)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Get returns the record of kind under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, kind, key string) (Row, error) {
	var (
		r       Row
		payload string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, key, scope_id, payload, seq
		FROM records
		WHERE kind = ? AND key = ?
	`, kind, key).Scan(&r.Kind, &r.Key, &r.Scope, &payload, &r.Seq)
	if err == sql.ErrNoRows {
		return Row{}, fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
	}
	if err != nil {
		return Row{}, fmt.Errorf("get record: %w", err)
	}
	r.Payload = []byte(payload)
	return r, nil
}

// ChangesSince returns up to limit changes of kind in scope with seq greater
// than since, in seq order. A limit <= 0 returns every change.
func (s *Store) ChangesSince(ctx context.Context, kind, scope string, since int64, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, scope_id, op, key, payload
		FROM changes
		WHERE kind = ? AND scope_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, kind, scope, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	out := []Change{}
	for rows.Next() {
		var (
			c       Change
			op      string
			payload string
		)
		if err := rows.Scan(&c.Seq, &c.Kind, &c.Scope, &op, &c.Key, &payload); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		if c.Op, err = ir.ParseOperation(op); err != nil {
			return nil, fmt.Errorf("change %d: %w", c.Seq, err)
		}
		c.Payload = []byte(payload)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return out, nil
}

// LatestSeq returns the seq of the newest change of kind in scope, or 0.
func (s *Store) LatestSeq(ctx context.Context, kind, scope string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM changes
		WHERE kind = ? AND scope_id = ?
	`, kind, scope).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return seq, nil
}
