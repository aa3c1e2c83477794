// Package docstore defines the push-capable document store the comment system
// is built on, with in-memory and Redis implementations.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"classroom/internal/config"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when the addressed document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrConflict is returned when an atomic set mutation keeps losing its
// optimistic transaction.
var ErrConflict = errors.New("document changed concurrently")

// Document is a point-in-time snapshot of a stored document. Each field holds
// its JSON encoded value.
type Document struct {
	ID     string
	Exists bool
	Fields map[string]json.RawMessage
}

// Decode unmarshals field into dst. It reports false when the field is absent.
func (d *Document) Decode(field string, dst any) (bool, error) {
	if d == nil || !d.Exists {
		return false, nil
	}
	raw, ok := d.Fields[field]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode field %q: %w", field, err)
	}
	return true, nil
}

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store is the document store contract. UpdateFields replaces whole fields;
// AddToSetField and RemoveFromSetField are atomic on the server side.
type Store interface {
	Get(ctx context.Context, id string) (*Document, error)
	// Subscribe delivers the current state immediately (Exists=false when the
	// document is absent) and then every committed change, in commit order.
	Subscribe(ctx context.Context, id string, onChange func(*Document)) (Unsubscribe, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	AddToSetField(ctx context.Context, id, field, value string) error
	RemoveFromSetField(ctx context.Context, id, field, value string) error
	Create(ctx context.Context, fields map[string]any) (string, error)
	Delete(ctx context.Context, id string) error
}

// Open builds the Store selected by cfg.DocstoreDriver. rdb is required for the
// redis driver.
func Open(cfg *config.Config, rdb *redis.Client) (Store, error) {
	switch cfg.DocstoreDriver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverRedis:
		if rdb == nil {
			return nil, errors.New("redis document store requires a redis client")
		}
		return NewRedisStore(rdb, cfg.DocstoreNamespace), nil
	default:
		return nil, fmt.Errorf("unknown document store driver %q", cfg.DocstoreDriver)
	}
}

func encodeFields(fields map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(fields))
	for name, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", name, err)
		}
		out[name] = raw
	}
	return out, nil
}

func decodeSet(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}
	var set []string
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("decode set: %w", err)
	}
	return set, nil
}

// addToSet returns the set with value appended, and false when value was already present.
func addToSet(set []string, value string) ([]string, bool) {
	for _, v := range set {
		if v == value {
			return set, false
		}
	}
	return append(set, value), true
}

// removeFromSet returns the set without value, and false when value was absent.
func removeFromSet(set []string, value string) ([]string, bool) {
	out := make([]string, 0, len(set))
	removed := false
	for _, v := range set {
		if v == value {
			removed = true
			continue
		}
		out = append(out, v)
	}
	return out, removed
}

func cloneFields(fields map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
