package cache

import (
	"context"
	"strconv"

	cacheerrors "github.com/vaultcache/vaultcache/pkg/errors"
)

// Loader produces a value on a cache miss. The second return is false when
// the key has no value; that outcome is negatively cached.
type Loader func(ctx context.Context) (interface{}, bool, error)

// loadOutcome carries a loader result through the single-flight group.
type loadOutcome struct {
	value interface{}
	found bool
}

// GetWithLoader reads a key, falling back to the loader on a miss. Concurrent
// misses for the same key coalesce onto one loader invocation; keys known to
// resolve to no value short-circuit through the negative cache.
func (e *Engine) GetWithLoader(ctx context.Context, key string, loader Loader, opts *GetOptions) (interface{}, bool, error) {
	if loader == nil {
		return nil, false, cacheerrors.New(cacheerrors.ErrCodeInvalidInput, "loader must not be nil")
	}

	if value, ok, err := e.Get(key, opts); err != nil || ok {
		return value, ok, err
	}

	if e.negativeCached(key) {
		return nil, false, nil
	}

	result, err, _ := e.flight.Do(key, func() (interface{}, error) {
		// Double-check: a concurrent writer may have populated the key while
		// this call waited its turn.
		if value, ok, getErr := e.Get(key, opts); getErr == nil && ok {
			return loadOutcome{value: value, found: true}, nil
		}

		value, found, loadErr := e.invokeLoader(ctx, loader)
		now := e.clock.NowMillis()

		if loadErr != nil {
			e.storeNegative(key, now+e.cfg.ErrorNullTTL.Milliseconds())
			return nil, loadErr
		}
		if !found || value == nil {
			e.storeNegative(key, now+e.cfg.NullValueTTL.Milliseconds())
			return loadOutcome{}, nil
		}

		if setErr := e.fastSet(key, value); setErr != nil {
			// The loaded value is still good even if it does not fit.
			e.logger.Warn("loader result not cached", map[string]interface{}{
				"key": key, "error": setErr.Error(),
			})
		}
		return loadOutcome{value: value, found: true}, nil
	})
	if err != nil {
		return nil, false, err
	}

	outcome := result.(loadOutcome)
	return outcome.value, outcome.found, nil
}

// invokeLoader runs the loader through the engine's resilience wrappers:
// retryable failures are re-attempted, and a persistently failing origin
// trips the breaker so further misses are rejected without calling it.
func (e *Engine) invokeLoader(ctx context.Context, loader Loader) (interface{}, bool, error) {
	var value interface{}
	var found bool

	invoke := func(ctx context.Context) error {
		v, f, err := loader(ctx)
		if err != nil {
			return err
		}
		value, found = v, f
		return nil
	}

	run := invoke
	if e.retryer != nil {
		attempt := run
		run = func(ctx context.Context) error {
			return e.retryer.DoWithContext(ctx, attempt)
		}
	}
	if e.breaker != nil {
		guarded := run
		run = func(ctx context.Context) error {
			return e.breaker.ExecuteWithContext(ctx, guarded)
		}
	}

	if err := run(ctx); err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// negativeCached reports whether the key has an unexpired negative record,
// reaping it lazily if expired.
func (e *Engine) negativeCached(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	expiry, found := e.nullCache[key]
	if !found {
		return false
	}
	if e.clock.NowMillis() >= expiry {
		delete(e.nullCache, key)
		return false
	}
	return true
}

func (e *Engine) storeNegative(key string, expiry int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.destroyed {
		e.nullCache[key] = expiry
	}
}

// fastSet is the loader path's insert: no access control and no dependency
// setup, but the same sizing, capacity, and LRU discipline as Set.
func (e *Engine) fastSet(key string, value interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return cacheerrors.New(cacheerrors.ErrCodeUnknown, "engine destroyed")
	}

	now := e.clock.NowMillis()
	effKey := key
	version := ""
	if e.cfg.VersionAware {
		version = strconv.FormatInt(now, 10)
		effKey = key + "@" + version
	}

	newSize := e.estimator.Estimate(effKey, value).Total
	if newSize > e.cfg.MaxMemory {
		return cacheerrors.Newf(cacheerrors.ErrCodeMemoryLimitExceeded,
			"entry of %d bytes exceeds cache capacity", newSize).WithKey(key)
	}

	existing := e.items[effKey]
	var oldSize int64
	if existing != nil {
		oldSize = existing.Size
	}
	if err := e.ensureCapacityLocked(effKey, newSize-oldSize, existing == nil); err != nil {
		return err
	}

	entry := &Entry{
		Value:        value,
		Created:      now,
		LastAccessed: now,
		TTLSeconds:   e.cfg.DefaultTTLSeconds,
		Size:         newSize,
		Version:      version,
		Hash:         contentHash(value),
	}
	if existing != nil {
		entry.element = existing.element
		e.items[effKey] = entry
		e.evictList.MoveToFront(entry.element)
	} else {
		entry.element = e.evictList.PushFront(effKey)
		e.items[effKey] = entry
	}
	e.memoryUsage += newSize - oldSize
	e.level = e.pressureLevelLocked()
	return nil
}
