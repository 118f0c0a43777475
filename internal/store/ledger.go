package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/progsync/internal/model"
)

// LedgerEntry is the durable copy of a time accumulator's ledger.
// PendingSeconds includes any delta currently in flight, so a crash between
// send and acknowledgement re-sends it rather than losing it.
type LedgerEntry struct {
	User           model.UserID
	Unit           model.Unit
	PendingSeconds int64
	LastFlushAt    time.Time
}

// SaveLedger upserts the ledger entry for (user, unit).
func (s *Store) SaveLedger(ctx context.Context, e LedgerEntry) error {
	var lastFlush int64
	if !e.LastFlushAt.IsZero() {
		lastFlush = e.LastFlushAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO time_ledger (user_id, module_slug, unit_type, unit_code, pending_seconds, last_flush_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, module_slug, unit_type, unit_code)
		DO UPDATE SET pending_seconds = excluded.pending_seconds, last_flush_at = excluded.last_flush_at
	`, string(e.User), e.Unit.ModuleSlug, string(e.Unit.Type), e.Unit.Code, e.PendingSeconds, lastFlush)
	if err != nil {
		return fmt.Errorf("save ledger %s: %w", e.Unit, err)
	}
	return nil
}

// LoadLedger returns the ledger entry for (user, unit), if any.
func (s *Store) LoadLedger(ctx context.Context, user model.UserID, unit model.Unit) (LedgerEntry, bool, error) {
	var pending, lastFlush int64
	err := s.db.QueryRowContext(ctx, `
		SELECT pending_seconds, last_flush_at FROM time_ledger
		WHERE user_id = ? AND module_slug = ? AND unit_type = ? AND unit_code = ?
	`, string(user), unit.ModuleSlug, string(unit.Type), unit.Code).Scan(&pending, &lastFlush)
	if errors.Is(err, sql.ErrNoRows) {
		return LedgerEntry{}, false, nil
	}
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("load ledger %s: %w", unit, err)
	}
	return ledgerEntry(user, unit, pending, lastFlush), true, nil
}

// PendingLedgers lists entries for user with a non-zero pending delta,
// ordered by unit so recovery is deterministic.
func (s *Store) PendingLedgers(ctx context.Context, user model.UserID) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_slug, unit_type, unit_code, pending_seconds, last_flush_at FROM time_ledger
		WHERE user_id = ? AND pending_seconds > 0
		ORDER BY module_slug ASC, unit_type ASC, unit_code ASC
	`, string(user))
	if err != nil {
		return nil, fmt.Errorf("pending ledgers: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var unit model.Unit
		var unitType string
		var pending, lastFlush int64
		if err := rows.Scan(&unit.ModuleSlug, &unitType, &unit.Code, &pending, &lastFlush); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		unit.Type = model.UnitType(unitType)
		out = append(out, ledgerEntry(user, unit, pending, lastFlush))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending ledgers: %w", err)
	}
	return out, nil
}

// DeleteLedger removes the entry for (user, unit).
func (s *Store) DeleteLedger(ctx context.Context, user model.UserID, unit model.Unit) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM time_ledger
		WHERE user_id = ? AND module_slug = ? AND unit_type = ? AND unit_code = ?
	`, string(user), unit.ModuleSlug, string(unit.Type), unit.Code)
	if err != nil {
		return fmt.Errorf("delete ledger %s: %w", unit, err)
	}
	return nil
}

func ledgerEntry(user model.UserID, unit model.Unit, pending, lastFlush int64) LedgerEntry {
	e := LedgerEntry{User: user, Unit: unit, PendingSeconds: pending}
	if lastFlush > 0 {
		e.LastFlushAt = time.UnixMilli(lastFlush)
	}
	return e
}
