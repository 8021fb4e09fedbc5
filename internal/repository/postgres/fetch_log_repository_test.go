package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/andresuchdata/fetchers/internal/config"
	"github.com/andresuchdata/fetchers/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchLogRepository(t *testing.T) {
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()

	db, err := NewDB(ctx, &config.DatabaseConfig{Enabled: true, URL: url})
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(ctx))

	repo := NewFetchLogRepository(db)
	key := "drive," + uuid.NewString()
	base := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)

	first := &domain.FetchRecord{
		ID:        uuid.NewString(),
		Backend:   "msgraph",
		Key:       key,
		Outcome:   "exhausted",
		Attempts:  3,
		Error:     "could not fetch",
		Scopes:    []string{"https://graph.microsoft.com/.default"},
		SleptMs:   3000,
		StartedAt: base,
	}
	second := &domain.FetchRecord{
		ID:          uuid.NewString(),
		Backend:     "msgraph",
		Key:         key,
		Outcome:     domain.OutcomeSpooled,
		Attempts:    1,
		Size:        128,
		SpooledPath: "/tmp/spooled-temp-1.dat",
		StartedAt:   base.Add(time.Second),
	}
	require.NoError(t, repo.Record(ctx, first))
	require.NoError(t, repo.Record(ctx, second))

	got, err := repo.Recent(ctx, "msgraph", key, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.True(t, got[0].Succeeded())
	assert.Equal(t, int64(128), got[0].Size)
	assert.Equal(t, first.ID, got[1].ID)
	assert.Equal(t, []string{"https://graph.microsoft.com/.default"}, got[1].Scopes)
	assert.Equal(t, 3, got[1].Attempts)

	got, err = repo.Recent(ctx, "msgraph", key, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
