// Package timeacc accumulates visible time on a unit and flushes it to the
// Remote Progress Service.
//
// The ledger has two parts: pending seconds, which only grow while the
// unit is visible, and at most one in-flight delta. A flush moves pending
// into flight; success drops the in-flight delta and failure adds it back.
// Both parts are persisted together, so a crash between send and
// acknowledgement re-sends the delta on the next open. Delivery is
// at-least-once.
package timeacc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/progsync/internal/bus"
	"github.com/roach88/progsync/internal/clock"
	"github.com/roach88/progsync/internal/metrics"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/remote"
	"github.com/roach88/progsync/internal/store"
)

// Default timer periods.
const (
	DefaultTick     = 15 * time.Second
	DefaultFlush    = 60 * time.Second
	DefaultCheck    = 5 * time.Second
	DefaultRealtime = time.Second
)

// Config holds timer periods. Zero values select the defaults.
type Config struct {
	Tick  time.Duration
	Flush time.Duration
	Check time.Duration
	// Realtime enables the once-per-second UI tick event.
	Realtime       bool
	RealtimePeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.Flush <= 0 {
		c.Flush = DefaultFlush
	}
	if c.Check <= 0 {
		c.Check = DefaultCheck
	}
	if c.RealtimePeriod <= 0 {
		c.RealtimePeriod = DefaultRealtime
	}
	return c
}

// Ledger persists pending seconds. *store.Store implements it.
type Ledger interface {
	SaveLedger(ctx context.Context, e store.LedgerEntry) error
	LoadLedger(ctx context.Context, user model.UserID, unit model.Unit) (store.LedgerEntry, bool, error)
	DeleteLedger(ctx context.Context, user model.UserID, unit model.Unit) error
}

// Options configures an Accumulator.
type Options struct {
	Ledger  Ledger
	Service remote.Service
	Bus     *bus.Bus
	Clock   clock.Clock
	Config  Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Accumulator is the time ledger of one (user, unit).
//
// Thread-safety: All methods are safe for concurrent use. At most one
// flush is in flight at a time.
type Accumulator struct {
	user    model.UserID
	unit    model.Unit
	ledger  Ledger
	svc     remote.Service
	bus     *bus.Bus
	clock   clock.Clock
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	pending   int64
	inflight  int64
	flushDone chan struct{} // non-nil while a flush is in flight
	lastSent  time.Time
	visible   bool
	realtime  int64
	closed    bool
	stopping  bool

	stop    chan struct{}
	stopped sync.Once
	runWG   sync.WaitGroup
}

// New opens the accumulator for unit, recovering any persisted pending
// seconds. The unit starts visible.
func New(ctx context.Context, user model.UserID, unit model.Unit, opts Options) (*Accumulator, error) {
	if err := unit.Validate(); err != nil {
		return nil, fmt.Errorf("time accumulator: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	a := &Accumulator{
		user:    user,
		unit:    unit,
		ledger:  opts.Ledger,
		svc:     opts.Service,
		bus:     opts.Bus,
		clock:   clock.Or(opts.Clock),
		cfg:     opts.Config.withDefaults(),
		log:     log.With("component", "timeacc", "unit", unit.String()),
		metrics: opts.Metrics,
		visible: true,
		stop:    make(chan struct{}),
	}
	a.lastSent = a.clock.Now()

	if a.ledger != nil && !user.IsAnonymous() {
		e, found, err := a.ledger.LoadLedger(ctx, user, unit)
		if err != nil {
			return nil, fmt.Errorf("time accumulator: %w", err)
		}
		if found && e.PendingSeconds > 0 {
			a.pending = e.PendingSeconds
			a.log.Info("recovered pending time", "seconds", e.PendingSeconds)
		}
	}
	a.metrics.SetPending(unit.ModuleSlug, a.pending)
	return a, nil
}

// Unit returns the tracked unit.
func (a *Accumulator) Unit() model.Unit {
	return a.unit
}

// enabled reports whether time is attributed at all. The anonymous learner
// has no server identity to attribute it to.
func (a *Accumulator) enabled() bool {
	return !a.user.IsAnonymous()
}

// Pending returns pending plus in-flight seconds.
func (a *Accumulator) Pending() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending + a.inflight
}

// Visible reports the current visibility.
func (a *Accumulator) Visible() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visible
}

// Tick adds one tick period to the ledger if the unit is visible.
func (a *Accumulator) Tick(ctx context.Context) {
	a.mu.Lock()
	if a.closed || !a.visible || !a.enabled() {
		a.mu.Unlock()
		return
	}
	a.pending += int64(a.cfg.Tick / time.Second)
	e := a.entryLocked()
	a.mu.Unlock()

	a.log.Debug("tick", "pending", e.PendingSeconds)
	a.persist(ctx, e)
}

// RealtimeTick publishes the UI-only elapsed counter while visible.
func (a *Accumulator) RealtimeTick() {
	a.mu.Lock()
	if a.closed || !a.visible || !a.enabled() {
		a.mu.Unlock()
		return
	}
	a.realtime += int64(a.cfg.RealtimePeriod / time.Second)
	elapsed := a.realtime
	a.mu.Unlock()

	a.bus.Publish(bus.TimeTick{Module: a.unit.ModuleSlug, Elapsed: elapsed})
}

// SetVisibility records a visibility change. Becoming hidden forces a flush.
func (a *Accumulator) SetVisibility(ctx context.Context, visible bool) error {
	a.mu.Lock()
	was := a.visible
	a.visible = visible
	a.mu.Unlock()

	if was && !visible {
		a.log.Debug("hidden, forcing flush")
		_, err := a.Flush(ctx, true)
		return err
	}
	return nil
}

// Flush sends the pending delta. Without force it only sends once the flush
// period has elapsed since the last send. It reports whether a delta was
// sent successfully. When another flush is in flight it returns at once.
func (a *Accumulator) Flush(ctx context.Context, force bool) (bool, error) {
	a.mu.Lock()
	if !a.enabled() || a.svc == nil || a.flushDone != nil {
		a.mu.Unlock()
		return false, nil
	}
	now := a.clock.Now()
	if !force && now.Sub(a.lastSent) < a.cfg.Flush {
		a.mu.Unlock()
		return false, nil
	}
	delta := a.pending
	if delta <= 0 {
		a.mu.Unlock()
		return false, nil
	}
	a.pending = 0
	a.inflight = delta
	a.lastSent = now
	done := make(chan struct{})
	a.flushDone = done
	a.mu.Unlock()

	total, err := a.svc.RecordTime(ctx, a.user, remote.TimeEvent{
		Module:       a.unit.ModuleSlug,
		UnitType:     a.unit.Type,
		UnitCode:     a.unit.Code,
		DeltaSeconds: delta,
	})

	a.mu.Lock()
	a.inflight = 0
	if err != nil {
		a.pending += delta
	} else {
		a.realtime = 0
	}
	e := a.entryLocked()
	a.flushDone = nil
	close(done)
	a.mu.Unlock()

	a.persist(ctx, e)
	if err != nil {
		a.log.Warn("flush failed, delta re-queued", "seconds", delta, "error", err)
		a.metrics.Requeued(delta)
		return false, fmt.Errorf("flush %s: %w", a.unit, err)
	}
	a.log.Debug("flushed", "seconds", delta, "total", total)
	a.metrics.Flushed(delta)
	a.bus.Publish(bus.TimeUpdated{Module: a.unit.ModuleSlug, TotalSeconds: total})
	return true, nil
}

// Run drives the tick, flush-check and optional realtime timers until ctx
// is done or Close is called. Periodic flushes run in the background and
// are not cancelled by ctx.
func (a *Accumulator) Run(ctx context.Context) {
	a.mu.Lock()
	if a.stopping {
		a.mu.Unlock()
		return
	}
	a.runWG.Add(1)
	a.mu.Unlock()
	defer a.runWG.Done()

	tick := time.NewTicker(a.cfg.Tick)
	defer tick.Stop()
	check := time.NewTicker(a.cfg.Check)
	defer check.Stop()

	var realtime <-chan time.Time
	if a.cfg.Realtime {
		rt := time.NewTicker(a.cfg.RealtimePeriod)
		defer rt.Stop()
		realtime = rt.C
	}

	flushCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case <-tick.C:
			a.Tick(ctx)
		case <-realtime:
			a.RealtimeTick()
		case <-check.C:
			a.runWG.Add(1)
			go func() {
				defer a.runWG.Done()
				if _, err := a.Flush(flushCtx, false); err != nil {
					a.log.Debug("periodic flush failed", "error", err)
				}
			}()
		}
	}
}

// Close stops the timers, waits for an in-flight flush, then flushes
// whatever is pending synchronously. A drained ledger row is removed.
// Close is idempotent.
func (a *Accumulator) Close(ctx context.Context) error {
	a.mu.Lock()
	a.stopping = true
	a.mu.Unlock()
	a.stopped.Do(func() { close(a.stop) })
	a.runWG.Wait()

	a.mu.Lock()
	done := a.flushDone
	a.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	_, err := a.Flush(ctx, true)

	a.mu.Lock()
	a.closed = true
	drained := a.pending+a.inflight == 0
	a.mu.Unlock()

	if err == nil && drained && a.enabled() && a.ledger != nil {
		if derr := a.ledger.DeleteLedger(ctx, a.user, a.unit); derr != nil {
			a.log.Warn("ledger delete failed", "error", derr)
		}
	}
	return err
}

// entryLocked snapshots the durable ledger. Caller holds a.mu.
func (a *Accumulator) entryLocked() store.LedgerEntry {
	return store.LedgerEntry{
		User:           a.user,
		Unit:           a.unit,
		PendingSeconds: a.pending + a.inflight,
		LastFlushAt:    a.lastSent,
	}
}

func (a *Accumulator) persist(ctx context.Context, e store.LedgerEntry) {
	a.metrics.SetPending(a.unit.ModuleSlug, e.PendingSeconds)
	if a.ledger == nil {
		return
	}
	if err := a.ledger.SaveLedger(ctx, e); err != nil {
		a.log.Warn("ledger save failed", "error", err)
	}
}
