package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progsync/internal/model"
)

func TestLedger_SaveLoadRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	unit := model.Unit{ModuleSlug: "signature-based-detection", Type: model.UnitLesson, Code: "sig-1"}

	_, found, err := s.LoadLedger(ctx, "42", unit)
	require.NoError(t, err)
	assert.False(t, found)

	flushed := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, s.SaveLedger(ctx, LedgerEntry{User: "42", Unit: unit, PendingSeconds: 30, LastFlushAt: flushed}))
	require.NoError(t, s.SaveLedger(ctx, LedgerEntry{User: "42", Unit: unit, PendingSeconds: 45, LastFlushAt: flushed}))

	got, found, err := s.LoadLedger(ctx, "42", unit)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(45), got.PendingSeconds)
	assert.True(t, flushed.Equal(got.LastFlushAt))
	assert.Equal(t, unit, got.Unit)
}

func TestLedger_ScopedByUser(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	unit := model.Unit{ModuleSlug: "m", Type: model.UnitOverview}

	require.NoError(t, s.SaveLedger(ctx, LedgerEntry{User: "1", Unit: unit, PendingSeconds: 15}))

	_, found, err := s.LoadLedger(ctx, "2", unit)
	require.NoError(t, err)
	assert.False(t, found, "ledger entries never leak across identities")
}

func TestLedger_PendingLedgersSkipsZero(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := model.Unit{ModuleSlug: "m", Type: model.UnitLesson, Code: "b"}
	b := model.Unit{ModuleSlug: "m", Type: model.UnitLesson, Code: "a"}
	c := model.Unit{ModuleSlug: "m", Type: model.UnitQuiz, Code: "m1"}
	require.NoError(t, s.SaveLedger(ctx, LedgerEntry{User: "1", Unit: a, PendingSeconds: 15}))
	require.NoError(t, s.SaveLedger(ctx, LedgerEntry{User: "1", Unit: b, PendingSeconds: 30}))
	require.NoError(t, s.SaveLedger(ctx, LedgerEntry{User: "1", Unit: c, PendingSeconds: 0}))

	pending, err := s.PendingLedgers(ctx, "1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].Unit.Code)
	assert.Equal(t, "b", pending[1].Unit.Code)
	assert.True(t, pending[0].LastFlushAt.IsZero())
}

func TestLedger_Delete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	unit := model.Unit{ModuleSlug: "m", Type: model.UnitPractical}

	require.NoError(t, s.SaveLedger(ctx, LedgerEntry{User: "1", Unit: unit, PendingSeconds: 15}))
	require.NoError(t, s.DeleteLedger(ctx, "1", unit))

	_, found, err := s.LoadLedger(ctx, "1", unit)
	require.NoError(t, err)
	assert.False(t, found)
}
