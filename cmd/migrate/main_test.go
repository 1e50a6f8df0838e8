package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestMigrate_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	ctx := context.Background()

	applied, skipped, err := migrate(ctx, dbPath)
	require.NoError(t, err)
	assert.Contains(t, applied, "001_initial_schema")
	assert.Empty(t, skipped)

	applied, skipped, err = migrate(ctx, dbPath)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Contains(t, skipped, "001_initial_schema")
}

func TestRun_SeedsRulesOnce(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chat.db")
	seed := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(`rules:
  - key: greeting
    text: "Welcome!"
  - key: deposit
    keywords: [deposit, top up]
    text: "Open the wallet page to deposit."
    priority: 10
`), 0600))

	ctx := context.Background()
	require.NoError(t, run(ctx, dbPath, seed))

	n, err := seedRules(ctx, dbPath, seed)
	require.NoError(t, err)
	assert.Zero(t, n, "second seed must not duplicate rules")
}

func TestRun_RejectsTraversal(t *testing.T) {
	err := run(context.Background(), "../../chat.db", "")
	assert.Error(t, err)
}
