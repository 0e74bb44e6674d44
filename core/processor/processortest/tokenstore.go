// Package processortest holds conformance checks shared by TokenStore
// implementations.
package processortest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelmycode/cqrs-framework/core/es"
	"github.com/modelmycode/cqrs-framework/core/processor"
)

// TestTokenStore runs the TokenStore contract against store. Records are
// keyed by subtest name, so the store must not hold records from an earlier
// run. The store must stamp UpdatedAt with the wall clock.
func TestTokenStore(t *testing.T, store processor.TokenStore) {
	t.Helper()

	id := func(t *testing.T) string { return processor.TokenID("test", t.Name()) }

	t.Run("read missing", func(t *testing.T) {
		rec, err := store.Read(t.Context(), id(t))
		require.NoError(t, err)
		require.Nil(t, rec)
	})

	t.Run("create", func(t *testing.T) {
		ctx := t.Context()
		before := time.Now().Add(-time.Minute)
		require.NoError(t, store.Create(ctx, id(t), "node-a-1", es.NoToken))

		rec, err := store.Read(ctx, id(t))
		require.NoError(t, err)
		require.NotNil(t, rec)
		require.Equal(t, id(t), rec.TokenID)
		require.Equal(t, "node-a-1", rec.ClientID)
		require.EqualValues(t, -1, rec.Token)
		require.True(t, rec.UpdatedAt.After(before), "updated_at %s", rec.UpdatedAt)

		require.ErrorIs(t, store.Create(ctx, id(t), "node-b-1", 5), processor.ErrTokenExists)
	})

	t.Run("set client id", func(t *testing.T) {
		ctx := t.Context()
		require.NoError(t, store.Create(ctx, id(t), "node-a-1", 3))
		require.NoError(t, store.SetClientID(ctx, id(t), "node-b-2"))

		rec := mustRead(ctx, t, store, id(t))
		require.Equal(t, "node-b-2", rec.ClientID)
		require.EqualValues(t, 3, rec.Token)

		// release
		require.NoError(t, store.SetClientID(ctx, id(t), ""))
		require.Empty(t, mustRead(ctx, t, store, id(t)).ClientID)
	})

	t.Run("set token", func(t *testing.T) {
		ctx := t.Context()
		require.NoError(t, store.Create(ctx, id(t), "node-a-1", -1))
		for _, tok := range []int64{0, 1, 1, 7} {
			require.NoError(t, store.SetToken(ctx, id(t), tok))
		}
		rec := mustRead(ctx, t, store, id(t))
		require.EqualValues(t, 7, rec.Token)
		require.Equal(t, "node-a-1", rec.ClientID)

		require.ErrorIs(t, store.SetToken(ctx, id(t), 6), processor.ErrTokenRegression)
		require.EqualValues(t, 7, mustRead(ctx, t, store, id(t)).Token)
	})

	t.Run("update missing", func(t *testing.T) {
		ctx := t.Context()
		require.ErrorIs(t, store.SetToken(ctx, id(t), 1), processor.ErrTokenNotFound)
		require.ErrorIs(t, store.SetClientID(ctx, id(t), "x"), processor.ErrTokenNotFound)
	})
}

func mustRead(ctx context.Context, t *testing.T, store processor.TokenStore, tokenID string) *processor.ClaimRecord {
	t.Helper()
	rec, err := store.Read(ctx, tokenID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}
