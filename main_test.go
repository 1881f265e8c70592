package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "bookfed.db")
	configPath = filepath.Join(dir, "config.yaml")
	content := "conf:\n" +
		"  sslDomain: books.example\n" +
		"  dbPath: " + dbPath + "\n" +
		"  logLevel: error\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	return configPath, dbPath
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func openTestDB(t *testing.T, path string) *db.DB {
	t.Helper()
	database, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestUserCommands(t *testing.T) {
	cfg, dbPath := writeTestConfig(t)

	require.NoError(t, run(t, "--config", cfg, "user", "create", "alice", "--name", "Alice", "--manual"))
	require.NoError(t, run(t, "--config", cfg, "user", "post", "alice", "first shelf of the year", "--privacy", "unlisted"))
	assert.Error(t, run(t, "--config", cfg, "user", "post", "nobody", "hello"))

	database := openTestDB(t, dbPath)
	ctx := context.Background()

	alice, err := database.ReadLocalActorByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "https://books.example/user/alice", alice.ActorURI)
	assert.Equal(t, "Alice", alice.DisplayName)
	assert.True(t, alice.ManuallyApprovesFollowers)
	assert.NotEmpty(t, alice.PrivateKeyPem)

	statuses, err := database.ReadStatusesByActor(ctx, alice.Id, 10)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "first shelf of the year", statuses[0].Content)
	assert.Equal(t, domain.PrivacyUnlisted, statuses[0].Privacy)
}

func TestServerCommands(t *testing.T) {
	cfg, dbPath := writeTestConfig(t)

	require.NoError(t, run(t, "--config", cfg, "server", "block", "Spam.Example"))
	require.NoError(t, run(t, "--config", cfg, "server", "health", "spam.example"))

	database := openTestDB(t, dbPath)
	server, err := database.ReadServerByName(context.Background(), "spam.example")
	require.NoError(t, err)
	assert.True(t, server.Blocked())

	require.NoError(t, run(t, "--config", cfg, "server", "unblock", "spam.example"))
	server, err = database.ReadServerByName(context.Background(), "spam.example")
	require.NoError(t, err)
	assert.False(t, server.Blocked())
}
