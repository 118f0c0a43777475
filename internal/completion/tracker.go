// Package completion tracks which lessons and flag units of a module a
// learner has completed.
//
// Completion is monotonic. The local cache is written synchronously and is
// the source of truth for the UI; the server is told asynchronously through
// the outbox and is merged back in by Refresh.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/progsync/internal/bus"
	"github.com/roach88/progsync/internal/catalog"
	"github.com/roach88/progsync/internal/keys"
	"github.com/roach88/progsync/internal/metrics"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/outbox"
	"github.com/roach88/progsync/internal/remote"
)

// Options configures a Tracker. Service and Outbox may be nil, in which
// case the tracker is local-only.
type Options struct {
	Resolver *keys.Resolver
	Service  remote.Service
	Outbox   *outbox.Outbox
	Bus      *bus.Bus
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Tracker is the completion state of one module for one learner.
//
// Thread-safety: Tracker is safe for concurrent use.
type Tracker struct {
	module  *catalog.Module
	user    model.UserID
	res     *keys.Resolver
	svc     remote.Service
	out     *outbox.Outbox
	bus     *bus.Bus
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	server map[string]bool
}

// New creates a tracker for module and user.
func New(module *catalog.Module, user model.UserID, opts Options) *Tracker {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		module:  module,
		user:    user,
		res:     opts.Resolver,
		svc:     opts.Service,
		out:     opts.Outbox,
		bus:     opts.Bus,
		log:     log.With("component", "completion", "module", module.Slug),
		metrics: opts.Metrics,
		server:  make(map[string]bool),
	}
}

// Module returns the tracked module.
func (t *Tracker) Module() *catalog.Module {
	return t.module
}

func (t *Tracker) lessonsFact() keys.Fact {
	return keys.ModuleFact(t.module.Slug, keys.SuffixCompletedLessons)
}

// remoteEnabled reports whether server calls are possible for this learner.
func (t *Tracker) remoteEnabled() bool {
	return !t.user.IsAnonymous() && t.svc != nil && t.out != nil
}

// MarkComplete records lessonID as complete. It reports whether the lesson
// was newly completed. Legacy title-slug ids are normalized first.
// The remote call is enqueued; its failure never reverts the local state.
func (t *Tracker) MarkComplete(ctx context.Context, lessonID string) (bool, error) {
	if lessonID == "" {
		return false, fmt.Errorf("mark complete: lesson id is required")
	}
	id := t.module.NormalizeLessonID(lessonID)

	t.mu.Lock()
	local := t.localIDs(ctx)
	if contains(local, id) {
		t.mu.Unlock()
		return false, nil
	}
	if err := t.res.WriteSet(ctx, t.lessonsFact(), t.user, append(local, id)); err != nil {
		t.mu.Unlock()
		return false, fmt.Errorf("mark complete %s: %w", id, err)
	}
	t.mu.Unlock()

	t.log.Debug("lesson completed", "lesson", id)
	t.metrics.Completed()
	t.bus.Publish(bus.UnitUpdated{Module: t.module.Slug, UnitType: model.UnitLesson, UnitCode: id})
	t.push(id)
	return true, nil
}

// push enqueues the server call for one lesson.
func (t *Tracker) push(id string) {
	if !t.remoteEnabled() {
		return
	}
	t.out.Enqueue(outbox.Job{
		Op: remote.OpMarkLesson,
		Run: func(ctx context.Context) error {
			if err := t.svc.MarkLessonComplete(ctx, t.user, t.module.Slug, id); err != nil {
				return err
			}
			t.mu.Lock()
			t.server[id] = true
			t.mu.Unlock()
			return nil
		},
		OnError: func(err error) {
			t.log.Warn("lesson delivery failed, re-sent on next refresh", "lesson", id, "error", err)
		},
	})
}

// IsComplete reports whether the lesson is complete locally or on the
// server as last seen by Refresh.
func (t *Tracker) IsComplete(ctx context.Context, lessonID string) bool {
	id := t.module.NormalizeLessonID(lessonID)
	return contains(t.CompletedIDs(ctx), id)
}

// CompletedIDs returns the raw union of local and server ids, sorted. It may
// hold ids the catalog does not declare; Count is the capped figure that
// progress uses.
func (t *Tracker) CompletedIDs(ctx context.Context) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := make(map[string]bool)
	for _, id := range t.localIDs(ctx) {
		set[id] = true
	}
	for id := range t.server {
		set[id] = true
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of completed lessons, capped at the module's
// lesson total so stray server ids never push progress past 100%.
func (t *Tracker) Count(ctx context.Context) int {
	n := len(t.CompletedIDs(ctx))
	if total := len(t.module.Lessons); n > total {
		return total
	}
	return n
}

// Refresh pulls the server's completed ids and merges them into the local
// cache. Lessons known only locally are re-sent, so a completion whose
// first delivery failed eventually reaches the server.
func (t *Tracker) Refresh(ctx context.Context) error {
	if t.user.IsAnonymous() || t.svc == nil {
		return nil
	}
	ids, err := t.svc.CompletedLessons(ctx, t.user, t.module.Slug)
	if err != nil {
		t.log.Warn("refresh failed", "error", err)
		return fmt.Errorf("refresh %s: %w", t.module.Slug, err)
	}

	t.mu.Lock()
	local := t.localIDs(ctx)
	server := make(map[string]bool, len(ids))
	for _, id := range ids {
		server[t.module.NormalizeLessonID(id)] = true
	}
	t.server = server

	var added []string
	for id := range server {
		if !contains(local, id) {
			added = append(added, id)
		}
	}
	var unsent []string
	for _, id := range local {
		if !server[id] {
			unsent = append(unsent, id)
		}
	}
	if len(added) > 0 {
		if err := t.res.WriteSet(ctx, t.lessonsFact(), t.user, append(local, added...)); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("refresh %s: %w", t.module.Slug, err)
		}
	}
	t.mu.Unlock()

	sort.Strings(added)
	for _, id := range added {
		t.bus.Publish(bus.UnitUpdated{Module: t.module.Slug, UnitType: model.UnitLesson, UnitCode: id})
	}
	sort.Strings(unsent)
	for _, id := range unsent {
		t.push(id)
	}
	if len(added) > 0 || len(unsent) > 0 {
		t.log.Info("completions merged", "from_server", len(added), "resent", len(unsent))
	}
	return nil
}

// CompleteUnit marks a flag unit (overview, practical, assessment) complete
// and reports whether it was newly completed.
func (t *Tracker) CompleteUnit(ctx context.Context, unitType model.UnitType) (bool, error) {
	suffix, ok := keys.UnitSuffix(unitType)
	if !ok {
		return false, fmt.Errorf("complete unit: %q is not a flag unit", unitType)
	}
	f := keys.ModuleFact(t.module.Slug, suffix)
	if t.res.ReadBool(ctx, f, t.user) {
		return false, nil
	}
	if err := t.res.WriteBool(ctx, f, t.user, true); err != nil {
		return false, fmt.Errorf("complete unit %s: %w", unitType, err)
	}

	t.metrics.Completed()
	t.bus.Publish(bus.UnitUpdated{Module: t.module.Slug, UnitType: unitType})
	if t.remoteEnabled() {
		rec := remote.UnitRecord{Module: t.module.Slug, UnitType: unitType, Completed: true}
		t.out.Enqueue(outbox.Job{
			Op:  remote.OpRecordUnit,
			Run: func(ctx context.Context) error { return t.svc.RecordUnit(ctx, t.user, rec) },
		})
	}
	return true, nil
}

// UnitComplete reports whether a flag unit is complete.
func (t *Tracker) UnitComplete(ctx context.Context, unitType model.UnitType) bool {
	suffix, ok := keys.UnitSuffix(unitType)
	if !ok {
		return false
	}
	return t.res.ReadBool(ctx, keys.ModuleFact(t.module.Slug, suffix), t.user)
}

// localIDs reads the cached set, normalizing legacy ids in place.
// Caller holds t.mu.
func (t *Tracker) localIDs(ctx context.Context) []string {
	ids := t.res.ReadSet(ctx, t.lessonsFact(), t.user)
	changed := false
	for i, id := range ids {
		if n := t.module.NormalizeLessonID(id); n != id {
			ids[i] = n
			changed = true
		}
	}
	if changed {
		if err := t.res.WriteSet(ctx, t.lessonsFact(), t.user, ids); err != nil {
			t.log.Warn("legacy id rewrite failed", "error", err)
		}
		ids = t.res.ReadSet(ctx, t.lessonsFact(), t.user)
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
