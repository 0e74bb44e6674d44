package nats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelmycode/cqrs-framework/core/processor"
	"github.com/modelmycode/cqrs-framework/core/processor/processortest"
	"github.com/modelmycode/cqrs-framework/ports/kv"
)

func TestNats_KvStore(t *testing.T) {
	store, err := NewKvStore(t.Context(), KvConfig{Connect: NewTestContainer(t), Bucket: "test"})
	require.NoError(t, err)
	defer store.Close()
	ctx := t.Context()

	t.Run("conditional writes", func(t *testing.T) {
		_, err := store.Get(ctx, "k1")
		require.ErrorIs(t, err, kv.ErrNotFound)

		rev, err := store.Put(ctx, "k1", []byte("one"), kv.PutOptions{Create: true})
		require.NoError(t, err)

		_, err = store.Put(ctx, "k1", []byte("again"), kv.PutOptions{Create: true})
		require.ErrorIs(t, err, kv.ErrExists)

		next, err := store.Put(ctx, "k1", []byte("two"), kv.PutOptions{Revision: rev})
		require.NoError(t, err)
		require.Greater(t, next, rev)

		_, err = store.Put(ctx, "k1", []byte("three"), kv.PutOptions{Revision: rev})
		require.ErrorIs(t, err, kv.ErrRevisionMismatch)

		entry, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, "two", string(entry.Data))
		require.Equal(t, next, entry.Revision)

		require.NoError(t, store.Delete(ctx, "k1"))
		require.NoError(t, store.Delete(ctx, "k1"))
		_, err = store.Get(ctx, "k1")
		require.ErrorIs(t, err, kv.ErrNotFound)

		_, err = store.Put(ctx, "k1", []byte("new"), kv.PutOptions{Create: true})
		require.NoError(t, err)
	})

	t.Run("token store", func(t *testing.T) {
		processortest.TestTokenStore(t, processor.NewKVTokenStore(store, nil))
	})
}
