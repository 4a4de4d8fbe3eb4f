package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/site-monitor/core"
)

func migrationConfig(t *testing.T) core.Config {
	config := core.GetDefaultConfig()
	config.Storage.Path = filepath.Join(t.TempDir(), "monitor.db")
	return config
}

func TestMigration_ImportsTargets(t *testing.T) {
	config := migrationConfig(t)
	csvPath := filepath.Join(t.TempDir(), "targets.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"owner_id,name,url,kind,interval_seconds,timeout_seconds,failure_threshold\n"+
			"team-a,Home,https://example.com,uptime,60,10,\n"+
			"team-a,Docs,https://docs.example.com,seo,300,20,5\n"+
			"team-a,Broken,not a url,uptime,60,10,\n"+
			"team-b,Slow,https://slow.example.com,performance,sixty,10,\n"), 0644))

	report, err := NewMigration(config, csvPath, false, true, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)
	assert.Len(t, report.Failed, 2)
	assert.Contains(t, report.Failed[0], "line 4")

	// a second run skips what is already there
	report, err = NewMigration(config, csvPath, true, false, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Imported)
	assert.Equal(t, 2, report.Skipped)

	backups, err := filepath.Glob(config.Storage.Path + ".backup.*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	store := core.NewSQLiteStore(config.Storage, nil)
	require.NoError(t, store.Initialize(context.Background()))
	defer store.Close()
	targets, err := store.ListTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 2)
	byName := make(map[string]*core.MonitorTarget)
	for _, target := range targets {
		byName[target.Name] = target
	}
	assert.Equal(t, 3, byName["Home"].FailureThreshold)
	assert.Equal(t, 5, byName["Docs"].FailureThreshold)
	assert.Equal(t, core.CheckKindSEO, byName["Docs"].Kind)
}

func TestMigration_SchemaOnly(t *testing.T) {
	config := migrationConfig(t)
	_, err := NewMigration(config, "", false, false, nil).Run(context.Background())
	require.NoError(t, err)
	_, err = os.Stat(config.Storage.Path)
	assert.NoError(t, err)
}

func TestMigration_MissingColumns(t *testing.T) {
	config := migrationConfig(t)
	csvPath := filepath.Join(t.TempDir(), "targets.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("name,url\nHome,https://example.com\n"), 0644))

	_, err := NewMigration(config, csvPath, false, false, nil).Run(context.Background())
	assert.Error(t, err)
}
