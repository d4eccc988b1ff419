package gateway

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/roach88/tandem/internal/ir"
)

// Envelope is the wire form of a change event on pub/sub transports and in
// the SQLite change log.
type Envelope struct {
	Op     string          `json:"op"`
	Kind   string          `json:"kind"`
	Scope  string          `json:"scope"`
	Key    string          `json:"key"`
	Seq    int64           `json:"seq"`
	Record json.RawMessage `json:"record"`
}

// EncodeRecord serializes a record payload.
func EncodeRecord[R any](r R) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a record payload.
func DecodeRecord[R any](data []byte) (R, error) {
	var r R
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

// NewEnvelope wraps a change for the wire.
func NewEnvelope[R any](k ir.Kind[R], op ir.Operation, seq int64, r R) (Envelope, error) {
	payload, err := EncodeRecord(r)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Op:     string(op),
		Kind:   k.Name,
		Scope:  k.Scope(r),
		Key:    k.Key(r),
		Seq:    seq,
		Record: payload,
	}, nil
}

// MarshalEnvelope is NewEnvelope followed by JSON encoding.
func MarshalEnvelope[R any](k ir.Kind[R], op ir.Operation, seq int64, r R) ([]byte, error) {
	env, err := NewEnvelope(k, op, seq, r)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEvent turns an envelope back into a typed change event.
func DecodeEvent[R any](env Envelope) (ir.ChangeEvent[R], error) {
	op, err := ir.ParseOperation(env.Op)
	if err != nil {
		return ir.ChangeEvent[R]{}, err
	}
	r, err := DecodeRecord[R](env.Record)
	if err != nil {
		return ir.ChangeEvent[R]{}, err
	}
	return ir.ChangeEvent[R]{Op: op, Scope: env.Scope, Record: r, Seq: env.Seq}, nil
}

// UnmarshalEvent parses wire bytes into a change event.
func UnmarshalEvent[R any](data []byte) (ir.ChangeEvent[R], Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ir.ChangeEvent[R]{}, env, fmt.Errorf("decode envelope: %w", err)
	}
	ev, err := DecodeEvent[R](env)
	return ev, env, err
}
