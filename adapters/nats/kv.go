package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/modelmycode/cqrs-framework/ports/kv"
)

type KvConfig struct {
	Connect Connector
	Log     *slog.Logger
	Bucket  string
	// TTL expires entries of the whole bucket. JetStream has no per key
	// expiry, so kv.PutOptions.TTL is ignored.
	TTL time.Duration
}

// KvStore implements kv.Store on a JetStream key-value bucket. Revisions are
// the bucket's entry revisions.
type KvStore struct {
	closeNc closeFunc
	kv      jetstream.KeyValue
	log     *slog.Logger
}

func NewKvStore(ctx context.Context, cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  jetstream.FileStorage,
		TTL:      cfg.TTL,
		MaxBytes: 16 * 1024 * 1024,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}

	return &KvStore{
		closeNc: closeNc,
		kv:      bucket,
		log:     log.With(slog.String("kv", cfg.Bucket)),
	}, nil
}

func (k *KvStore) Close() error {
	k.closeNc()
	return nil
}

func (k *KvStore) Put(ctx context.Context, key string, data []byte, opts kv.PutOptions) (rev uint64, err error) {
	// a failed conditional write surfaces as a wrong last sequence
	conflict := kv.ErrRevisionMismatch
	switch {
	case opts.Create:
		conflict = kv.ErrExists
		rev, err = k.kv.Create(ctx, key, data)
	case opts.Revision != 0:
		rev, err = k.kv.Update(ctx, key, data, opts.Revision)
	default:
		rev, err = k.kv.Put(ctx, key, data)
	}
	if err != nil {
		return 0, mapKvError(key, err, conflict)
	}
	k.log.Debug("put", slog.String("key", key), slog.Uint64("revision", rev))
	return rev, nil
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	entry, err := k.kv.Get(ctx, key)
	if err != nil {
		return kv.Entry{}, mapKvError(key, err, kv.ErrRevisionMismatch)
	}
	return kv.Entry{Data: entry.Value(), Revision: entry.Revision()}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if err := k.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return mapKvError(key, err, kv.ErrRevisionMismatch)
	}
	return nil
}

func mapKvError(key string, err, conflict error) error {
	var apiErr *jetstream.APIError
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return fmt.Errorf("%w: %s", kv.ErrNotFound, key)
	case errors.Is(err, jetstream.ErrKeyExists),
		errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence:
		return fmt.Errorf("%w: %s", conflict, key)
	}
	return fmt.Errorf("kv %s: %w", key, err)
}

var _ kv.Store = (*KvStore)(nil)
