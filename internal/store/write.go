package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/tandem/internal/ir"
)

// Insert stores a new record and logs the change. It returns the change seq.
// A key that is already stored fails with ErrExists.
func (s *Store) Insert(ctx context.Context, kind, scope, key string, payload []byte) (int64, error) {
	return s.write(ctx, ir.OpInsert, kind, scope, key, payload)
}

// Update replaces a stored record and logs the change. It returns the change
// seq. A missing key fails with ErrNotFound.
func (s *Store) Update(ctx context.Context, kind, scope, key string, payload []byte) (int64, error) {
	return s.write(ctx, ir.OpUpdate, kind, scope, key, payload)
}

// Delete removes a record and logs the change with the deleted payload.
// Deleting a missing key is not an error: deleted is false and nothing is
// logged.
func (s *Store) Delete(ctx context.Context, kind, scope, key string) (seq int64, deleted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("delete: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var payload string
	err = tx.QueryRowContext(ctx, `
		SELECT payload FROM records
		WHERE kind = ? AND key = ? AND scope_id = ?
	`, kind, key, scope).Scan(&payload)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("delete: read record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM records WHERE kind = ? AND key = ?
	`, kind, key); err != nil {
		return 0, false, fmt.Errorf("delete: %w", err)
	}

	seq, err = appendChange(ctx, tx, ir.OpDelete, kind, scope, key, []byte(payload))
	if err != nil {
		return 0, false, fmt.Errorf("delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("delete: commit: %w", err)
	}
	return seq, true, nil
}

func (s *Store) write(ctx context.Context, op ir.Operation, kind, scope, key string, payload []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback() // No-op if committed

	seq, err := appendChange(ctx, tx, op, kind, scope, key, payload)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var result sql.Result
	switch op {
	case ir.OpInsert:
		result, err = tx.ExecContext(ctx, `
			INSERT INTO records (kind, key, scope_id, payload, seq)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(kind, key) DO NOTHING
		`, kind, key, scope, string(payload), seq)
	case ir.OpUpdate:
		result, err = tx.ExecContext(ctx, `
			UPDATE records SET payload = ?, seq = ?
			WHERE kind = ? AND key = ? AND scope_id = ?
		`, string(payload), seq, kind, key, scope)
	default:
		return 0, fmt.Errorf("unsupported operation %q", op)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: write record: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		if op == ir.OpInsert {
			return 0, fmt.Errorf("%s %s %q: %w", op, kind, key, ErrExists)
		}
		return 0, fmt.Errorf("%s %s %q: %w", op, kind, key, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", op, err)
	}
	return seq, nil
}

// appendChange logs a change inside tx and returns its seq.
func appendChange(ctx context.Context, tx *sql.Tx, op ir.Operation, kind, scope, key string, payload []byte) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO changes (kind, scope_id, op, key, payload)
		VALUES (?, ?, ?, ?, ?)
	`, kind, scope, string(op), key, string(payload))
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append change: last insert id: %w", err)
	}
	return seq, nil
}
