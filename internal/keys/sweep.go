package keys

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/progsync/internal/bus"
	"github.com/roach88/progsync/internal/model"
)

// SweepResult reports what a sweep did.
type SweepResult struct {
	AlreadyDone bool
	Adopted     int
	Purged      int
}

// Sweep runs the one-time shared-key sweep on behalf of user: every fact
// whose canonical key is missing adopts the shared value (migrating it),
// then every shared key of every fact is deleted and the marker is set.
//
// The sweep never runs for the anonymous learner. Once the marker exists it
// is a no-op for every identity.
func (r *Resolver) Sweep(ctx context.Context, user model.UserID, facts []Fact) (SweepResult, error) {
	if user.IsAnonymous() {
		return SweepResult{}, nil
	}
	if r.sweptOnDevice(ctx) {
		return SweepResult{AlreadyDone: true}, nil
	}

	var res SweepResult
	for _, f := range facts {
		_, hadCanonical, err := r.cache.Get(ctx, f.Canonical(user))
		if err != nil {
			return res, fmt.Errorf("sweep %s: %w", f, err)
		}
		if hadCanonical {
			continue
		}
		_, found, err := r.Read(ctx, f, user)
		if err != nil {
			return res, fmt.Errorf("sweep %s: %w", f, err)
		}
		if found {
			res.Adopted++
		}
	}

	for _, f := range facts {
		for _, v := range []SchemaVersion{SchemaAnonymous, SchemaPreNamespace} {
			key, ok := f.Key(v, user)
			if !ok {
				continue
			}
			_, found, err := r.cache.Get(ctx, key)
			if err != nil {
				return res, fmt.Errorf("sweep %s: %w", f, err)
			}
			if !found {
				continue
			}
			if err := r.cache.Delete(ctx, key); err != nil {
				return res, fmt.Errorf("sweep %s: %w", f, err)
			}
			res.Purged++
		}
	}

	if err := r.cache.Set(ctx, SweepMarkerKey, string(user)); err != nil {
		return res, fmt.Errorf("sweep marker: %w", err)
	}
	r.mu.Lock()
	r.swept = true
	r.mu.Unlock()

	r.log.Info("shared keys swept", "user", user.String(), "adopted", res.Adopted, "purged", res.Purged)
	r.metrics.PurgedShared(res.Purged)
	r.bus.Publish(bus.ProgressMigrated{User: user, Adopted: res.Adopted, Purged: res.Purged})
	return res, nil
}

// LegacyKeys lists every key of the pre-namespace family shape
// ("<name>-...") for the given module slugs and quiz codes, sorted. After
// a sweep these are values no known fact claims.
func (r *Resolver) LegacyKeys(ctx context.Context, names []string) ([]string, error) {
	seen := make(map[string]bool)
	for _, name := range names {
		found, err := r.cache.Keys(ctx, name+"-")
		if err != nil {
			return nil, fmt.Errorf("legacy keys %s: %w", name, err)
		}
		for _, k := range found {
			seen[k] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
