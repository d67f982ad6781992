package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-subscriber-notify/internal/infra/db/sqlite"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCommand()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "api", "migrate"})
}

func TestServe_RequiresToken(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("DATABASE_URL", "")

	_, err := execRoot(t, "serve", "--config", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_TOKEN")
}

func TestMigrate_RequiresDatabase(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DATABASE_URL", "")

	_, err := execRoot(t, "migrate", "--config", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestMigrate_JSONToSQLite(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	src := filepath.Join(dir, "subscribers.json")
	require.NoError(t, os.WriteFile(src, []byte(`{
  "7": {"first_name": "Ada", "username": "ada", "subscribed_at": "2024-01-02T03:04:05Z"},
  "100": null
}`), 0o644))
	dbPath := filepath.Join(dir, "subs.db")
	t.Setenv("DATABASE_URL", dbPath)

	before, err := os.ReadFile(src)
	require.NoError(t, err)

	out, err := execRoot(t, "migrate", "--config", filepath.Join(dir, "missing.yaml"), "--from", src)
	require.NoError(t, err)
	assert.Contains(t, out, "migrated 2 subscribers")

	after, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, before, after, "migrate must not rewrite its source")

	logger := zerolog.New(io.Discard)
	gdb, err := sqlite.OpenDB(dbPath, &logger)
	require.NoError(t, err)
	repo := sqlite.NewSubscriberRepo(gdb, &logger)
	defer repo.Close()

	subs, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.NotNil(t, subs[7].Username)
	assert.Equal(t, "ada", *subs[7].Username)
	require.NotNil(t, subs[7].SubscribedAt)
	assert.Equal(t, 2024, subs[7].SubscribedAt.Year())
}

func TestMigrate_CorruptSourceFails(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	src := filepath.Join(dir, "subscribers.json")
	require.NoError(t, os.WriteFile(src, []byte("{broken"), 0o644))
	t.Setenv("DATABASE_URL", filepath.Join(dir, "subs.db"))

	_, err := execRoot(t, "migrate", "--config", filepath.Join(dir, "missing.yaml"), "--from", src)
	require.Error(t, err)

	b, readErr := os.ReadFile(src)
	require.NoError(t, readErr)
	assert.Equal(t, "{broken", string(b))
}
