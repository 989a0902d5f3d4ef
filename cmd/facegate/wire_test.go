package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/facegate/pkg/config"
	"github.com/pario-ai/facegate/pkg/models"
)

func testCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	var path string
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	cmd.Flags().StringVarP(&path, "config", "c", defaultConfigPath, "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig(testCommand(t), defaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfigExplicitMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	_, err := loadConfig(testCommand(t, "--config", path), path)
	assert.Error(t, err)
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "facegate.db")
	cfg.Cache.Backend = "memory"
	cfg.Log.Output = &discard{}

	ref := filepath.Join(dir, "alice.jpg")
	require.NoError(t, os.WriteFile(ref, []byte("alice"), 0o644))
	cfg.Gallery.Entries = []models.GalleryEntry{{ID: "alice", SourceRef: ref}}
	return cfg
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }

func TestNewAppWiresServices(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	<-a.matcher.Start(ctx)
	info := a.status.CacheInfo()
	assert.Equal(t, 1, info.Coverage.CachedEntries)
	assert.Equal(t, 1, info.Cache.PersistentCount)

	// Without a comparator URL every comparison fails and the run ends unmatched.
	outcome := a.matcher.Search(ctx, "cHJvYmU=", a.matcher.Gallery(), nil)
	assert.Equal(t, models.StateNoMatch, outcome.State)
	assert.Equal(t, models.UnknownID, outcome.BestID)

	a.monitor.Flush()
	runs, err := a.history.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	rec, err := a.attendance.Mark(ctx, "alice", 0.9)
	require.NoError(t, err)
	assert.False(t, rec.Synced)
}

func TestNewAppRejectsBadGallery(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Gallery.Path = filepath.Join(t.TempDir(), "missing.json")

	_, err := newApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewAppSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.Cache.Backend = "sqlite"

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	<-a.matcher.Start(ctx)
	require.NoError(t, a.Close())

	// The persisted snapshot survives a restart.
	b, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	assert.Equal(t, 1, b.status.CacheInfo().Cache.PersistentCount)
}

func TestComparatorNotConfigured(t *testing.T) {
	cfg := newTestConfig(t)
	gw := newComparator(cfg.Comparator, zerolog.Nop(), nil)
	_, err := gw.Compare(context.Background(), "a", "b")
	assert.True(t, errors.Is(err, errComparatorNotConfigured))
}
