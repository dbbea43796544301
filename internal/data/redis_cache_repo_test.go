package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/testutil"
)

func TestRedisCacheRepo_SetGetDelete(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewRedisCacheRepo(client)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "draftmill:test:key", `{"total":3}`, time.Minute))

	got, err := repo.Get(ctx, "draftmill:test:key")
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":3}`, got)

	require.NoError(t, repo.Delete(ctx, "draftmill:test:key"))

	_, err = repo.Get(ctx, "draftmill:test:key")
	assert.ErrorIs(t, err, core.ErrCacheMiss)
}

func TestRedisCacheRepo_GetMissingKey(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewRedisCacheRepo(client)

	_, err := repo.Get(context.Background(), "draftmill:test:absent")
	assert.ErrorIs(t, err, core.ErrCacheMiss)
}

func TestRedisCacheRepo_TTLExpiry(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewRedisCacheRepo(client)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "draftmill:test:short", "snapshot", 50*time.Millisecond))

	got, err := repo.Get(ctx, "draftmill:test:short")
	require.NoError(t, err)
	assert.Equal(t, "snapshot", got)

	time.Sleep(100 * time.Millisecond)

	_, err = repo.Get(ctx, "draftmill:test:short")
	assert.ErrorIs(t, err, core.ErrCacheMiss)
}

func TestRedisCacheRepo_EmptyKeyRejected(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewRedisCacheRepo(client)
	ctx := context.Background()

	require.Error(t, repo.Set(ctx, "", "value", time.Minute))
	_, err := repo.Get(ctx, "")
	require.Error(t, err)
	require.Error(t, repo.Delete(ctx, ""))
}

func TestRedisCacheRepo_Health(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewRedisCacheRepo(client)

	assert.NoError(t, repo.Health(context.Background()))
}
