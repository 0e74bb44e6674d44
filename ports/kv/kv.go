// Package kv is the key-value port used to persist processor claims on
// stores that offer no query language.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrExists           = errors.New("key exists")
	ErrRevisionMismatch = errors.New("revision mismatch")
)

// Entry is a stored value. Revision increases on every write of the key.
type Entry struct {
	Data     []byte
	Revision uint64
}

// PutOptions makes writes conditional.
type PutOptions struct {
	// Create fails the write with ErrExists when the key is present.
	Create bool
	// Revision, when non-zero, fails the write with ErrRevisionMismatch
	// unless the stored entry has exactly this revision.
	Revision uint64
	// TTL expires the entry. Stores that only support bucket level expiry
	// ignore it.
	TTL time.Duration
}

type Store interface {
	// Put returns the revision of the written entry.
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (uint64, error)
	Get(ctx context.Context, key string) (Entry, error)
	Delete(ctx context.Context, key string) error
}

func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return store.Put(ctx, key, data, opts)
}

// Get decodes the value at key and returns it with its revision.
func Get[T any](ctx context.Context, store Store, key string) (out T, rev uint64, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return out, 0, err
	}
	if err = json.Unmarshal(entry.Data, &out); err != nil {
		return out, 0, err
	}
	return out, entry.Revision, nil
}
