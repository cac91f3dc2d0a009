package shared

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageFromQuery(t *testing.T) {
	p := PageFromQuery(url.Values{"limit": {"9000"}, "offset": {"-3"}})
	require.Equal(t, Page{Limit: 500, Offset: 0}, p)

	p = PageFromQuery(url.Values{})
	require.Equal(t, 50, p.Limit)
}

func TestMemoryIdempotency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotency()
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "inventory"))
	err := store.CheckAndInsert(ctx, "k1", "inventory")
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	require.ErrorIs(t, err, ErrDuplicateRequest)
	require.NoError(t, store.Delete(ctx, "k1"))
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "inventory"))
	require.Error(t, store.CheckAndInsert(ctx, "", "inventory"))
}

func TestActorContext(t *testing.T) {
	ctx := ContextWithActor(context.Background(), 42)
	require.Equal(t, int64(42), ActorFromContext(ctx))
	require.Zero(t, ActorFromContext(context.Background()))
}
