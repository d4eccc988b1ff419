package cli

import (
	"bytes"
	"context"
	"fmt"
	"maps"

	"github.com/goccy/go-json"

	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/entity"
	"github.com/roach88/tandem/internal/gateway"
	"github.com/roach88/tandem/internal/ir"
)

// Replica is an engine with its record type erased, so commands can work on
// any kind named on the command line. Records cross it as JSON objects.
type Replica interface {
	Name() string
	Run(ctx context.Context) error
	Stop()
	Flush(ctx context.Context) error
	Bind(ctx context.Context, scope string) error
	Status() engine.Status
	Keys() []string
	Records() ([]map[string]any, error)
	Create(ctx context.Context, data []byte) (string, error)
	Update(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

type typedReplica[R any] struct {
	*engine.Engine[R]
}

// NewReplica builds the replica for the kind called name over b.
func NewReplica(b *Backend, name string, opts ...engine.EngineOption) (Replica, error) {
	opts = append([]engine.EngineOption{
		engine.WithLogger(b.logger),
		engine.WithStrict(b.cfg.Strict),
	}, opts...)

	switch name {
	case entity.KindTransactions:
		return newTypedReplica(b, entity.Transactions, opts)
	case entity.KindHabits:
		return newTypedReplica(b, entity.Habits, opts)
	case entity.KindHabitCompletions:
		return newTypedReplica(b, entity.HabitCompletions, opts)
	case entity.KindGoals:
		return newTypedReplica(b, entity.Goals, opts)
	case entity.KindJournalEntries:
		return newTypedReplica(b, entity.JournalEntries, opts)
	case entity.KindMessages:
		return newTypedReplica(b, entity.Messages, opts)
	case entity.KindTravelMilestones:
		return newTypedReplica(b, entity.TravelMilestones, opts)
	}
	return nil, fmt.Errorf("unknown kind %q (see 'tandem kinds')", name)
}

func newTypedReplica[R any](b *Backend, kind ir.Kind[R], opts []engine.EngineOption) (Replica, error) {
	eng, err := engine.New(kind, gatewayFor(b, kind), opts...)
	if err != nil {
		return nil, err
	}
	return typedReplica[R]{eng}, nil
}

func (r typedReplica[R]) Records() ([]map[string]any, error) {
	list := r.List()
	out := make([]map[string]any, 0, len(list))
	for _, rec := range list {
		obj, err := toObject(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (r typedReplica[R]) Create(ctx context.Context, data []byte) (string, error) {
	draft, err := gateway.DecodeRecord[R](data)
	if err != nil {
		return "", err
	}
	temp, err := r.Engine.Create(ctx, draft)
	if err != nil {
		return "", err
	}
	return r.Kind().Key(temp), nil
}

// Update merges the JSON object data over the record's fields.
func (r typedReplica[R]) Update(ctx context.Context, key string, data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	// Reject fields that do not fit the record before anything is sent.
	if cur, ok := r.Get(key); ok {
		if _, err := merge(cur, fields); err != nil {
			return err
		}
	}

	_, err = r.Engine.Update(ctx, key, func(cur R) R {
		next, err := merge(cur, fields)
		if err != nil {
			return cur
		}
		return next
	})
	return err
}

func merge[R any](cur R, fields map[string]any) (R, error) {
	obj, err := toObject(cur)
	if err != nil {
		return cur, err
	}
	maps.Copy(obj, fields)
	return fromObject[R](obj)
}

func toObject[R any](rec R) (map[string]any, error) {
	data, err := gateway.EncodeRecord(rec)
	if err != nil {
		return nil, err
	}
	obj, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return obj, nil
}

// decodeObject parses a JSON object keeping numbers exact.
func decodeObject(data []byte) (map[string]any, error) {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return obj, nil
}

func fromObject[R any](obj map[string]any) (R, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		var zero R
		return zero, fmt.Errorf("encode fields: %w", err)
	}
	return gateway.DecodeRecord[R](data)
}
