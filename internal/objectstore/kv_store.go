package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/tts-proxy/internal/core"
	"github.com/nats-io/nats.go"
)

// NatsKeyValueStore implements core.KeyValueStore on a JetStream KV bucket.
// Only the latest revision of each key is kept.
type NatsKeyValueStore struct {
	bucket string
	kv     nats.KeyValue
}

// NewKeyValue creates the bucket or binds to it if it already exists.
func NewKeyValue(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsKeyValueStore, error) {
	kv, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Session records for the %s bucket.", bucketName),
		History:     1,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !bucketExists(err) {
			return nil, fmt.Errorf("failed to create key-value bucket '%s': %w", bucketName, err)
		}

		kv, err = jetstreamContext.KeyValue(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing key-value bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsKeyValueStore{bucket: bucketName, kv: kv}, nil
}

// Get returns the current value of key, or core.ErrNotFound.
func (n *NatsKeyValueStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := n.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: key '%s' in bucket '%s'", core.ErrNotFound, key, n.bucket)
		}

		return nil, fmt.Errorf("failed to get key '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return entry.Value(), nil
}

// Put stores value under key.
func (n *NatsKeyValueStore) Put(_ context.Context, key string, value []byte) error {
	_, err := n.kv.Put(key, value)
	if err != nil {
		return fmt.Errorf("failed to put key '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (n *NatsKeyValueStore) Delete(_ context.Context, key string) error {
	err := n.kv.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete key '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
