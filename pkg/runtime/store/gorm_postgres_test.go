//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) PostgresConfig {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("hostd_test"),
		postgres.WithUsername("hostd"),
		postgres.WithPassword("hostd"),
		testcontainers.WithWaitStrategyAndDeadline(3*time.Minute,
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return PostgresConfig{
		Host:     host,
		Port:     port.Int(),
		Database: "hostd_test",
		User:     "hostd",
		Password: "hostd",
	}
}

func TestPostgresStore(t *testing.T) {
	pg := startPostgres(t)

	runServiceStoreSuite(t, func(t *testing.T) ServiceStore {
		cfg := Config{Type: TypePostgres, Postgres: pg}
		cfg.ApplyDefaults(t.TempDir())
		s, err := New(context.Background(), cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
