package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// PostgresDSN starts a shared Postgres container once per test binary and
// returns a DSN pointing at an empty flowpick_test database.
func PostgresDSN(t *testing.T) string {
	t.Helper()

	pgOnce.Do(func() {
		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		pgC, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					wait.ForLog("ready to accept connections"),
					// Verify SQL connectivity through the mapped port, not just the log line.
					wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
						return fmt.Sprintf("postgres://flowpick:flowpick@%s:%s/flowpick_test?sslmode=disable", host, port.Port())
					}).WithQuery("SELECT 1"),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "flowpick",
				"POSTGRES_PASSWORD": "flowpick",
				"POSTGRES_DB":       "flowpick_test",
			}),
		)
		if err != nil {
			pgErr = err
			return
		}

		t.Cleanup(func() {
			testcontainers.CleanupContainer(t, pgC)
		})

		endpoint, err := pgC.Endpoint(ctx, "")
		if err != nil {
			_ = pgC.Terminate(context.Background())
			pgErr = err
			return
		}

		pgDSN = fmt.Sprintf("postgres://flowpick:flowpick@%s/flowpick_test?sslmode=disable", endpoint)
	})

	require.NoError(t, pgErr, "starting postgres container")
	return pgDSN
}
