// Package cache stores derived document results keyed by content hash.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is not cached.
var ErrMiss = errors.New("cache: miss")

// Cache stores JSON-serialisable values.
type Cache interface {
	// Get decodes the cached value for key into dst, or returns ErrMiss.
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// Key derives a cache key from a namespace and document bytes.
func Key(namespace string, data []byte) string {
	sum := sha256.Sum256(data)
	return namespace + ":" + hex.EncodeToString(sum[:])
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, any) error                { return ErrMiss }
func (Noop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Noop) Ping(context.Context) error                            { return nil }
