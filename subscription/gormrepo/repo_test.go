package gormrepo

import (
	"context"
	"testing"
	"time"

	"github.com/covergen/go-session-service/subscription"
	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRepo(t *testing.T) *Repo {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	repo, err := New(db)
	require.NoError(t, err)
	return repo
}

func TestGetUnknownUser(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.Get(context.Background(), "user-1")
	require.True(t, errors.Is(err, subscription.ErrNotFound))
}

func TestUpsertInsertsThenReplaces(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	periodEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert(ctx, &subscription.Record{
		UserID:         "user-1",
		Tier:           subscription.TierPro,
		Status:         subscription.StatusActive,
		CustomerID:     "cus-1",
		SubscriptionID: "sub-1",
	}))

	rec, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, subscription.TierPro, rec.Tier)
	require.Equal(t, "cus-1", rec.CustomerID)
	require.Nil(t, rec.CurrentPeriodEnd)

	// Second upsert replaces the row wholesale.
	require.NoError(t, repo.Upsert(ctx, &subscription.Record{
		UserID:           "user-1",
		Tier:             subscription.TierProPlus,
		Status:           subscription.StatusTrialing,
		CustomerID:       "cus-1",
		SubscriptionID:   "sub-2",
		CurrentPeriodEnd: &periodEnd,
	}))

	rec, err = repo.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, subscription.TierProPlus, rec.Tier)
	require.Equal(t, subscription.StatusTrialing, rec.Status)
	require.Equal(t, "sub-2", rec.SubscriptionID)
	require.NotNil(t, rec.CurrentPeriodEnd)
	require.True(t, periodEnd.Equal(*rec.CurrentPeriodEnd))
}

func TestRecordsAreIsolatedPerUser(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &subscription.Record{
		UserID: "user-1",
		Tier:   subscription.TierPro,
		Status: subscription.StatusActive,
	}))
	require.NoError(t, repo.Upsert(ctx, &subscription.Record{
		UserID: "user-2",
		Tier:   subscription.TierFree,
		Status: subscription.StatusActive,
	}))

	rec, err := repo.Get(ctx, "user-2")
	require.NoError(t, err)
	require.Equal(t, subscription.TierFree, rec.Tier)
}
