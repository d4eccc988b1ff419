package ir

import "fmt"

// Operation is the kind of write carried by a mutation or change event.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ParseOperation converts a wire string into an Operation.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OpInsert, OpUpdate, OpDelete:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// ChangeEvent is an authoritative change observed on the remote source.
//
// Events for one key arrive in commit order. Nothing is promised across keys.
// Seq is the gateway's own sequence number; zero when the gateway has none.
type ChangeEvent[R any] struct {
	Op     Operation
	Scope  string
	Record R
	Seq    int64
}

// Ack is the remote acknowledgement of a mutation.
//
// For inserts Key carries the key assigned by the remote source.
type Ack struct {
	Key string
	Seq int64
}
