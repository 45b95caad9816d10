package database

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func exercise(t *testing.T, db Database) {
	_, err := db.Get("job.missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.Set("job.1", `{"state":"queued"}`, time.Hour))

	data, err := db.Get("job.1")
	require.NoError(t, err)
	assert.Equal(t, `{"state":"queued"}`, data)

	require.NoError(t, db.Set("job.1", `{"state":"processing"}`, 0))
	data, err = db.Get("job.1")
	require.NoError(t, err)
	assert.Equal(t, `{"state":"processing"}`, data)

	require.NoError(t, db.Delete("job.1"))
	_, err = db.Get("job.1")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.Delete("job.1"))
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestMemoryExpiration(t *testing.T) {
	now := time.Date(2024, 1, 12, 12, 0, 0, 0, time.UTC)
	db := &memory{entries: make(map[string]entry), now: func() time.Time { return now }}

	require.NoError(t, db.Set("k", "v", time.Minute))

	_, err := db.Get("k")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = db.Get("k")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	defer container.Terminate(ctx)

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	options, err := redis.ParseURL(uri)
	require.NoError(t, err)

	db, err := NewRedis(options)
	require.NoError(t, err)
	defer db.Close()

	exercise(t, db)
}
