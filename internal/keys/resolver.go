package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/roach88/progsync/internal/bus"
	"github.com/roach88/progsync/internal/metrics"
	"github.com/roach88/progsync/internal/model"
)

// SweepMarkerKey records that the shared-key sweep has run on this device.
// Its value is the identity that performed it.
const SweepMarkerKey = "progsync:meta:shared-sweep:v1"

// Cache is the durable key/value store the resolver reads and writes.
// *store.Store implements it.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Options configures a Resolver.
type Options struct {
	Bus     *bus.Bus
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Resolver maps facts to keys and performs read-time migration.
//
// Thread-safety: Resolver is safe for concurrent use. Two processes sharing
// one cache may both migrate the same value; the writes are identical.
type Resolver struct {
	cache   Cache
	bus     *bus.Bus
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	swept bool
}

// New creates a resolver over cache.
func New(cache Cache, opts Options) *Resolver {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		cache:   cache,
		bus:     opts.Bus,
		log:     log.With("component", "keys"),
		metrics: opts.Metrics,
	}
}

// Cache returns the underlying cache.
func (r *Resolver) Cache() Cache {
	return r.cache
}

// Resolve returns the canonical key of f for user.
func (r *Resolver) Resolve(f Fact, user model.UserID) string {
	return f.Canonical(user)
}

// Read returns the value of f for user, walking the fallback chain.
// A value found under a non-canonical key is written back under the
// canonical key; failure of that write is logged and ignored.
func (r *Resolver) Read(ctx context.Context, f Fact, user model.UserID) (string, bool, error) {
	canonical := f.Canonical(user)
	allowShared := user.IsAnonymous() || !r.sweptOnDevice(ctx)

	for _, v := range readChain {
		key, ok := f.Key(v, user)
		if !ok {
			continue
		}
		if v != SchemaCanonical && key == canonical {
			continue
		}
		if v.Shared() && !allowShared {
			continue
		}
		val, found, err := r.cache.Get(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("read %s: %w", f, err)
		}
		if !found {
			continue
		}
		if v != SchemaCanonical {
			r.migrate(ctx, f, v, canonical, val)
		}
		return val, true, nil
	}
	return "", false, nil
}

func (r *Resolver) migrate(ctx context.Context, f Fact, from SchemaVersion, canonical, val string) {
	if err := r.cache.Set(ctx, canonical, val); err != nil {
		r.log.Warn("key migration failed", "fact", f.String(), "from", from.String(), "error", err)
		return
	}
	r.log.Info("migrated key", "fact", f.String(), "from", from.String(), "to", canonical)
	r.metrics.Migrated(from.String())
	r.bus.Publish(bus.StorageChanged{Key: canonical, Migrated: true})
}

// Write stores val under the canonical key of f.
func (r *Resolver) Write(ctx context.Context, f Fact, user model.UserID, val string) error {
	key := f.Canonical(user)
	if err := r.cache.Set(ctx, key, val); err != nil {
		return fmt.Errorf("write %s: %w", f, err)
	}
	r.bus.Publish(bus.StorageChanged{Key: key})
	return nil
}

// WriteTransitional stores val under the canonical key and, for an
// identified user, also under the user-suffixed key that older readers use.
func (r *Resolver) WriteTransitional(ctx context.Context, f Fact, user model.UserID, val string) error {
	if err := r.Write(ctx, f, user, val); err != nil {
		return err
	}
	if key, ok := f.Key(SchemaUserSuffixed, user); ok {
		if err := r.cache.Set(ctx, key, val); err != nil {
			return fmt.Errorf("write %s transitional: %w", f, err)
		}
	}
	return nil
}

// Delete removes every key of f that Read would return for user: the
// canonical and user-suffixed shapes, and the shared shapes while user
// still reads them (the anonymous learner, or anyone before the sweep).
func (r *Resolver) Delete(ctx context.Context, f Fact, user model.UserID) error {
	allowShared := user.IsAnonymous() || !r.sweptOnDevice(ctx)
	for _, v := range readChain {
		if v.Shared() && !allowShared {
			continue
		}
		key, ok := f.Key(v, user)
		if !ok {
			continue
		}
		if err := r.cache.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", f, err)
		}
	}
	r.bus.Publish(bus.StorageChanged{Key: f.Canonical(user)})
	return nil
}

// ReadBool reads a "true"/"false" fact. Anything else reads as false.
func (r *Resolver) ReadBool(ctx context.Context, f Fact, user model.UserID) bool {
	val, found := r.readQuiet(ctx, f, user)
	return found && val == "true"
}

// WriteBool stores a boolean fact.
func (r *Resolver) WriteBool(ctx context.Context, f Fact, user model.UserID, v bool) error {
	return r.Write(ctx, f, user, strconv.FormatBool(v))
}

// ReadInt reads an integer fact. Missing or malformed values read as 0.
func (r *Resolver) ReadInt(ctx context.Context, f Fact, user model.UserID) int {
	val, found := r.readQuiet(ctx, f, user)
	if !found {
		return 0
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		r.log.Debug("malformed int fact", "fact", f.String(), "value", val)
		return 0
	}
	return n
}

// WriteInt stores an integer fact.
func (r *Resolver) WriteInt(ctx context.Context, f Fact, user model.UserID, n int) error {
	return r.Write(ctx, f, user, strconv.Itoa(n))
}

// ReadSet reads a JSON string-array fact. Missing or malformed values read
// as the empty set.
func (r *Resolver) ReadSet(ctx context.Context, f Fact, user model.UserID) []string {
	var ids []string
	if !r.ReadJSON(ctx, f, user, &ids) {
		return nil
	}
	return dedupe(ids)
}

// WriteSet stores ids as a sorted, de-duplicated JSON array.
func (r *Resolver) WriteSet(ctx context.Context, f Fact, user model.UserID, ids []string) error {
	return r.WriteJSON(ctx, f, user, dedupe(ids))
}

// ReadJSON decodes a JSON fact into v. It reports false when the fact is
// missing or malformed; v is left untouched in that case.
func (r *Resolver) ReadJSON(ctx context.Context, f Fact, user model.UserID, v any) bool {
	val, found := r.readQuiet(ctx, f, user)
	if !found {
		return false
	}
	if err := json.Unmarshal([]byte(val), v); err != nil {
		r.log.Debug("malformed json fact", "fact", f.String(), "error", err)
		return false
	}
	return true
}

// WriteJSON encodes v and stores it.
func (r *Resolver) WriteJSON(ctx context.Context, f Fact, user model.UserID, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f, err)
	}
	return r.Write(ctx, f, user, string(raw))
}

// readQuiet is Read with cache errors logged and treated as absent.
func (r *Resolver) readQuiet(ctx context.Context, f Fact, user model.UserID) (string, bool) {
	val, found, err := r.Read(ctx, f, user)
	if err != nil {
		r.log.Warn("cache read failed", "fact", f.String(), "error", err)
		return "", false
	}
	return val, found
}

// sweptOnDevice reports whether the marker exists. The positive answer is
// cached; the marker is never removed.
func (r *Resolver) sweptOnDevice(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.swept {
		return true
	}
	_, found, err := r.cache.Get(ctx, SweepMarkerKey)
	if err != nil {
		r.log.Warn("sweep marker read failed", "error", err)
		return false
	}
	r.swept = found
	return found
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return []string{}
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
