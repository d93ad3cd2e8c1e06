package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "bot", "migrate"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestMigrate_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "coldwatch.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("log:\n  level: error\ndatabase:\n  type: sqlite\n  path: %s\n", dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	root := newRootCommand()
	root.SetArgs([]string{"migrate", "--config", cfgPath})
	require.NoError(t, root.ExecuteContext(t.Context()))

	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestServe_FailsWithoutBroker(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("log:\n  level: error\ndatabase:\n  path: %s\n", filepath.Join(dir, "coldwatch.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	root := newRootCommand()
	root.SetArgs([]string{"serve", "--config", cfgPath})
	err := root.ExecuteContext(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT_HOST")
}
