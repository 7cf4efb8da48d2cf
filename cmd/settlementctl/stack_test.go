package main

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureCommands(t *testing.T) *[]string {
	t.Helper()
	var calls []string
	prev := runner
	runner = func(_ context.Context, name string, args ...string) error {
		calls = append(calls, strings.Join(append([]string{name}, args...), " "))
		return nil
	}
	t.Cleanup(func() { runner = prev })
	return &calls
}

func TestStackCommands(t *testing.T) {
	testCases := []struct {
		args []string
		want string
	}{
		{[]string{"up"}, "docker compose -f docker-compose.yml up --build -d"},
		{[]string{"up", "--skip-build", "--detached=false", "api"}, "docker compose -f docker-compose.yml up api"},
		{[]string{"build", "--no-cache", "worker"}, "docker compose -f docker-compose.yml build --no-cache worker"},
		{[]string{"down", "-v"}, "docker compose -f docker-compose.yml down -v"},
		{[]string{"logs", "--follow", "api", "worker"}, "docker compose -f docker-compose.yml logs --follow api worker"},
		{[]string{"-f", "other.yml", "down"}, "docker compose -f other.yml down"},
		{[]string{"run", "worker"}, "go run ./cmd/worker"},
		{[]string{"test", "--race"}, "go test -race ./..."},
	}
	for _, tc := range testCases {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			calls := captureCommands(t)
			_, err := execute(t, "", tc.args...)
			require.NoError(t, err)
			assert.Equal(t, []string{tc.want}, *calls)
		})
	}
}

func TestStackRejectsUnknownService(t *testing.T) {
	calls := captureCommands(t)
	_, err := execute(t, "", "up", "frontend")
	assert.Error(t, err)
	assert.Empty(t, *calls)
}

func TestComposeFileDefinesStack(t *testing.T) {
	data, err := os.ReadFile("../../docker-compose.yml")
	require.NoError(t, err)
	compose := string(data)
	for _, svc := range stackServices {
		assert.Contains(t, compose, "\n  "+svc+":\n")
	}
	for _, env := range []string{"SETTLEMENTOPS_DB_DRIVER: postgres", "DATABASE_URL:", "SETTLEMENTOPS_STORAGE: minio", "S3_ENDPOINT:", "REDIS_ADDR:"} {
		assert.Contains(t, compose, env)
	}
}
