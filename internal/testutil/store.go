package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/progsync/internal/bus"
	"github.com/roach88/progsync/internal/keys"
	"github.com/roach88/progsync/internal/store"
)

// Env is a store, bus and resolver wired together for component tests.
type Env struct {
	Store    *store.Store
	Bus      *bus.Bus
	Resolver *keys.Resolver
	Events   *bus.Recorder
	Service  *FakeService
}

// NewEnv opens a fresh SQLite store under t.TempDir and records every
// event published on the bus. Everything is closed by t.Cleanup.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "progsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	b := bus.New()
	rec := bus.NewRecorder(b)
	t.Cleanup(rec.Stop)

	return &Env{
		Store:    s,
		Bus:      b,
		Resolver: keys.New(s, keys.Options{Bus: b}),
		Events:   rec,
		Service:  NewFakeService(),
	}
}
