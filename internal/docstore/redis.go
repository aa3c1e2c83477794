package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"classroom/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// idField marks a hash as an existing document even when it has no other fields.
const idField = "_id"

const defaultMaxTxRetries = 16

// RedisStore keeps each document in a Redis hash `<namespace>:<id>` whose
// fields hold JSON values. Every write publishes the document id on
// `<namespace>:<id>:changes`; subscribers re-read the hash on notification.
type RedisStore struct {
	rdb          *redis.Client
	namespace    string
	maxTxRetries int
	logger       *observability.StoreLogger
}

// NewRedisStore creates a RedisStore for documents under namespace.
func NewRedisStore(rdb *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "docs"
	}
	return &RedisStore{
		rdb:          rdb,
		namespace:    namespace,
		maxTxRetries: defaultMaxTxRetries,
		logger:       observability.NewStoreLogger(namespace),
	}
}

// Key returns the hash key of document id.
func (s *RedisStore) Key(id string) string {
	return s.namespace + ":" + id
}

// Channel returns the change notification channel of document id.
func (s *RedisStore) Channel(id string) string {
	return s.Key(id) + ":changes"
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Document, error) {
	values, err := s.rdb.HGetAll(ctx, s.Key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.Key(id), err)
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}
	doc := &Document{ID: id, Exists: true, Fields: make(map[string]json.RawMessage, len(values))}
	for name, value := range values {
		if name == idField {
			continue
		}
		doc.Fields[name] = json.RawMessage(value)
	}
	return doc, nil
}

func (s *RedisStore) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	encoded, err := encodeFields(fields)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(encoded))
	for name, raw := range encoded {
		values[name] = string(raw)
	}
	return s.update(ctx, id, func(_ *redis.Tx) (map[string]any, error) {
		return values, nil
	})
}

func (s *RedisStore) AddToSetField(ctx context.Context, id, field, value string) error {
	return s.mutateSet(ctx, id, field, func(set []string) ([]string, bool) {
		return addToSet(set, value)
	})
}

func (s *RedisStore) RemoveFromSetField(ctx context.Context, id, field, value string) error {
	return s.mutateSet(ctx, id, field, func(set []string) ([]string, bool) {
		return removeFromSet(set, value)
	})
}

func (s *RedisStore) mutateSet(ctx context.Context, id, field string, fn func([]string) ([]string, bool)) error {
	return s.update(ctx, id, func(tx *redis.Tx) (map[string]any, error) {
		raw, err := tx.HGet(ctx, s.Key(id), field).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		set, err := decodeSet(json.RawMessage(raw))
		if err != nil {
			return nil, err
		}
		next, changed := fn(set)
		if !changed {
			return nil, nil
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return nil, err
		}
		return map[string]any{field: string(encoded)}, nil
	})
}

// update runs a WATCH/MULTI transaction on the document hash. compute reads
// through tx and returns the fields to write, or nil for no change. The
// transaction is retried while another client modifies the hash.
func (s *RedisStore) update(ctx context.Context, id string, compute func(tx *redis.Tx) (map[string]any, error)) error {
	key := s.Key(id)
	for attempt := 0; attempt < s.maxTxRetries; attempt++ {
		wrote := false
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrNotFound
			}
			values, err := compute(tx)
			if err != nil || len(values) == 0 {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, values)
				return nil
			})
			wrote = err == nil
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		if wrote {
			s.publish(ctx, id)
		}
		return nil
	}
	return fmt.Errorf("update %s: %w", key, ErrConflict)
}

func (s *RedisStore) Create(ctx context.Context, fields map[string]any) (string, error) {
	encoded, err := encodeFields(fields)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	values := make(map[string]any, len(encoded)+1)
	values[idField] = id
	for name, raw := range encoded {
		values[name] = string(raw)
	}
	if err := s.rdb.HSet(ctx, s.Key(id), values).Err(); err != nil {
		return "", fmt.Errorf("create %s: %w", s.Key(id), err)
	}
	s.publish(ctx, id)
	return id, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, s.Key(id)).Result()
	if err != nil {
		return fmt.Errorf("delete %s: %w", s.Key(id), err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.publish(ctx, id)
	return nil
}

// publish notifies subscribers. A lost notification only delays the next
// emission, so failures are logged and not returned.
func (s *RedisStore) publish(ctx context.Context, id string) {
	if err := s.rdb.Publish(ctx, s.Channel(id), id).Err(); err != nil {
		s.logger.LogError(ctx, err, "publish", map[string]interface{}{"document_id": id})
	}
}

func (s *RedisStore) Subscribe(ctx context.Context, id string, onChange func(*Document)) (Unsubscribe, error) {
	sub := s.rdb.Subscribe(ctx, s.Channel(id))
	// Wait for the confirmation so no change committed after this call is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.Channel(id), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := sub.Channel()

	emit := func() {
		defer func() {
			if r := recover(); r != nil {
				observability.GlobalLogger.Error("panic in document subscriber",
					"document_id", id, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		doc, err := s.Get(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			doc = &Document{ID: id}
		case err != nil:
			if ctx.Err() == nil {
				s.logger.LogError(ctx, err, "subscribe", map[string]interface{}{"document_id": id})
			}
			return
		}
		onChange(doc)
	}

	go func() {
		defer func() { _ = sub.Close() }()
		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				emit()
			}
		}
	}()

	return Unsubscribe(cancel), nil
}
