package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/parkpal/internal/database/testutil"
)

func TestDatabaseStoreIncrementWindow(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	current := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	store := NewDatabaseStore(db, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "alice|POST /api/reports", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	current = current.Add(20 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "alice|POST /api/reports", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.Equal(t, 40*time.Second, ttl)

	got, err := store.Get(ctx, "alice|POST /api/reports")
	require.NoError(t, err)
	require.EqualValues(t, 2, got)

	current = current.Add(time.Minute)
	count, ttl, err = store.IncrementWithTTL(ctx, "alice|POST /api/reports", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)
}

func TestDatabaseStorePurgeExpired(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	current := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	store := NewDatabaseStore(db, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	_, _, err := store.IncrementWithTTL(ctx, "short", time.Second)
	require.NoError(t, err)
	_, _, err = store.IncrementWithTTL(ctx, "long", time.Hour)
	require.NoError(t, err)

	current = current.Add(time.Minute)
	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	got, err := store.Get(ctx, "long")
	require.NoError(t, err)
	require.EqualValues(t, 1, got)

	require.NoError(t, store.Delete(ctx, "long"))
	got, err = store.Get(ctx, "long")
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestDatabaseStoreNil(t *testing.T) {
	require.Nil(t, NewDatabaseStore(nil))

	var store *DatabaseStore
	_, _, err := store.IncrementWithTTL(context.Background(), "k", time.Second)
	require.Error(t, err)
}
