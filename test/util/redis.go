// Package util provides test utilities shared by store and service tests.
package util

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/legatus-hq/legatus/pkg/store"
)

var (
	// Shared connection URL for all tests in local dev
	sharedRedisURL string
	containerOnce  sync.Once
	containerErr   error
)

// SetupTestRedis returns a connected store client against a clean Redis.
// - CI: connects to an external Redis from CI_REDIS_URL
// - Local: starts a shared testcontainer once per package
//
// The database is flushed on setup, so tests in one package must not run in
// parallel against it.
func SetupTestRedis(t *testing.T) *store.Client {
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	url := getOrCreateSharedRedis(t)

	client, err := store.NewClient(ctx, url)
	require.NoError(t, err)
	require.NoError(t, client.Redis().FlushAll(ctx).Err())

	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

// getOrCreateSharedRedis returns a Redis URL for testing.
// In CI, uses CI_REDIS_URL. In local dev, creates a shared testcontainer once.
func getOrCreateSharedRedis(t *testing.T) string {
	if ciRedisURL := os.Getenv("CI_REDIS_URL"); ciRedisURL != "" {
		t.Log("Using external Redis from CI_REDIS_URL")
		return ciRedisURL
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared Redis testcontainer for all tests")

		container, err := redismodule.Run(ctx,
			"redis:7-alpine",
			testcontainers.WithWaitStrategy(
				wait.ForLog("Ready to accept connections").
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("failed to start redis container: %w", err)
			return
		}

		url, err := container.ConnectionString(ctx)
		if err != nil {
			containerErr = fmt.Errorf("failed to get connection string: %w", err)
			return
		}

		sharedRedisURL = url
		t.Logf("Shared container ready: %s", sharedRedisURL)
	})

	require.NoError(t, containerErr, "Failed to setup shared test container")
	return sharedRedisURL
}
