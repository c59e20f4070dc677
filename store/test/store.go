// Package test provides the store test harness backed by SQLite.
package test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chanticle/chanticle/internal/profile"
	"github.com/chanticle/chanticle/store"
	"github.com/chanticle/chanticle/store/db"
)

// NewTestingStore creates a migrated SQLite-backed store in a temp
// directory. Vector search is unavailable on SQLite; tests needing it
// run against PostgreSQL in CI.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()

	dir := t.TempDir()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		Data:   dir,
		DSN:    filepath.Join(dir, "chanticle_test.db"),
	}
	driver, err := db.NewDBDriver(p)
	require.NoError(t, err)

	st := store.New(driver, p)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}
