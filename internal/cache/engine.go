package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vaultcache/vaultcache/internal/circuit"
	"github.com/vaultcache/vaultcache/internal/secure"
	"github.com/vaultcache/vaultcache/internal/watch"
	cacheerrors "github.com/vaultcache/vaultcache/pkg/errors"
	"github.com/vaultcache/vaultcache/pkg/logutil"
	"github.com/vaultcache/vaultcache/pkg/retry"
)

// accessTimeAlpha weights new samples in the moving-average access time.
const accessTimeAlpha = 0.1

// hotKeyIdleMillis is how long an untouched hot-key counter survives.
const hotKeyIdleMillis = 24 * 60 * 60 * 1000

// maxTTLSeconds bounds caller-supplied TTLs.
const maxTTLSeconds = 30 * 24 * 60 * 60

// Config configures an Engine.
type Config struct {
	// MaxEntries caps the number of entries. Must be positive.
	MaxEntries int

	// MaxMemory caps the accounted byte usage. Must be positive.
	MaxMemory int64

	// DefaultTTLSeconds applies when Set is called with a zero TTL.
	DefaultTTLSeconds int

	// CheckInterval paces the cleanup tick driving maybeGC.
	CheckInterval time.Duration

	// StatsInterval paces pressure recomputation and size recalibration.
	StatsInterval time.Duration

	// PreciseSizing forces the structural size walk for every value.
	PreciseSizing bool

	// VersionAware enables versioned effective keys and dependency
	// validation by default.
	VersionAware bool

	// NullValueTTL is the negative-cache lifetime for loader misses.
	NullValueTTL time.Duration

	// ErrorNullTTL is the short negative-cache lifetime after loader errors.
	ErrorNullTTL time.Duration

	// Thresholds partition memory usage into pressure levels.
	Thresholds PressureThresholds
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:        10000,
		MaxMemory:         256 * 1024 * 1024,
		DefaultTTLSeconds: 3600,
		CheckInterval:     30 * time.Second,
		StatsInterval:     time.Second,
		NullValueTTL:      300 * time.Second,
		ErrorNullTTL:      60 * time.Second,
		Thresholds:        DefaultPressureThresholds(),
	}
}

// Deps are the engine's injectable collaborators. Zero values select
// defaults: system clock, discarding logger, no encryption, no access
// control, loaders invoked bare.
type Deps struct {
	Clock     Clock
	Logger    *logutil.Logger
	Encryptor *secure.Encryptor
	Access    *secure.AccessController

	// Breaker, when set, guards every loader invocation so a failing
	// origin sheds load instead of being hammered on each miss.
	Breaker *circuit.Breaker

	// Retryer, when set, re-attempts loader invocations that fail with
	// retryable cache errors.
	Retryer *retry.Retryer
}

// Engine is the cache façade. All structural operations serialize on a
// single mutex, so public operations are linearizable with respect to one
// another.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	clock     Clock
	logger    *logutil.Logger
	estimator *SizeEstimator
	encryptor *secure.Encryptor
	access    *secure.AccessController
	breaker   *circuit.Breaker
	retryer   *retry.Retryer

	items     map[string]*Entry
	evictList *list.List

	hits            uint64
	misses          uint64
	evictions       uint64
	expiredRemovals uint64
	memoryUsage     int64
	avgAccessMicros float64

	hotKeys   map[string]*hotKey
	depGraph  map[string]map[string]struct{}
	watchers  *watch.Registry
	nullCache map[string]int64
	flight    singleflight.Group

	level            PressureLevel
	lastGC           int64
	lastFullGC       int64
	lastRecalibrated int64

	done      chan struct{}
	wg        sync.WaitGroup
	destroyed bool
}

// NewEngine builds and starts an engine. The background sweeper and stats
// tasks run until Destroy.
func NewEngine(cfg *Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxEntries <= 0 || cfg.MaxMemory <= 0 {
		return nil, cacheerrors.New(cacheerrors.ErrCodeConfiguration, "maxEntries and maxMemory must be positive")
	}
	if cfg.DefaultTTLSeconds <= 0 {
		cfg.DefaultTTLSeconds = 3600
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Second
	}
	if cfg.NullValueTTL <= 0 {
		cfg.NullValueTTL = 300 * time.Second
	}
	if cfg.ErrorNullTTL <= 0 {
		cfg.ErrorNullTTL = 60 * time.Second
	}
	if cfg.Thresholds == (PressureThresholds{}) {
		cfg.Thresholds = DefaultPressureThresholds()
	}
	if err := cfg.Thresholds.validate(); err != nil {
		return nil, err
	}

	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logutil.Discard()
	}

	now := clock.NowMillis()
	e := &Engine{
		cfg:              *cfg,
		clock:            clock,
		logger:           logger.WithComponent("engine"),
		estimator:        NewSizeEstimator(cfg.PreciseSizing),
		encryptor:        deps.Encryptor,
		access:           deps.Access,
		breaker:          deps.Breaker,
		retryer:          deps.Retryer,
		items:            make(map[string]*Entry),
		evictList:        list.New(),
		hotKeys:          make(map[string]*hotKey),
		depGraph:         make(map[string]map[string]struct{}),
		nullCache:        make(map[string]int64),
		lastGC:           now,
		lastFullGC:       now,
		lastRecalibrated: now,
		done:             make(chan struct{}),
	}

	watchers, err := watch.NewRegistry(e.invalidateDependents, logger)
	if err != nil {
		// Watcher failures are tolerated: entries stay subject to TTL and
		// stat-based freshness only.
		e.logger.Warn("file watching unavailable", map[string]interface{}{"error": err.Error()})
	} else {
		e.watchers = watchers
	}

	e.wg.Add(2)
	go e.cleanupLoop()
	go e.statsLoop()

	return e, nil
}

// Set inserts or replaces a value. A zero ttlSeconds selects the default
// TTL.
func (e *Engine) Set(key string, value interface{}, ttlSeconds int, opts *SetOptions) error {
	if key == "" {
		return cacheerrors.New(cacheerrors.ErrCodeInvalidInput, "key must not be empty")
	}
	if value == nil {
		return cacheerrors.New(cacheerrors.ErrCodeInvalidInput, "value must be present").WithKey(key)
	}
	if ttlSeconds < 0 || ttlSeconds > maxTTLSeconds {
		return cacheerrors.Newf(cacheerrors.ErrCodeInvalidInput, "ttl %d out of range", ttlSeconds).WithKey(key)
	}
	if ttlSeconds == 0 {
		ttlSeconds = e.cfg.DefaultTTLSeconds
	}
	if e.access != nil {
		if err := e.access.Allow(secure.OpSet, key); err != nil {
			return err
		}
	}

	var o SetOptions
	if opts != nil {
		o = *opts
	}

	// Source-file timestamp snapshot happens before the critical section.
	var fileTS int64
	if o.SourceFile != "" {
		if fi, err := os.Stat(o.SourceFile); err == nil {
			fileTS = fi.ModTime().UnixMilli()
		} else {
			e.logger.Warn("source file not readable at set", map[string]interface{}{
				"key": key, "source": o.SourceFile, "error": err.Error(),
			})
		}
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return cacheerrors.New(cacheerrors.ErrCodeUnknown, "engine destroyed")
	}
	effKey, err := e.setLocked(key, value, ttlSeconds, o, fileTS)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	// Watcher registration and old-version cleanup run outside the critical
	// section.
	if o.SourceFile != "" && len(o.Dependencies) > 0 {
		go e.registerWatchers(effKey, o.SourceFile, o.Dependencies)
	}
	if e.cfg.VersionAware {
		go e.cleanupOldVersions(key)
	}

	return nil
}

// setLocked performs the insert-or-replace under the engine mutex and
// returns the effective key written.
func (e *Engine) setLocked(key string, value interface{}, ttlSeconds int, o SetOptions, fileTS int64) (string, error) {
	now := e.clock.NowMillis()
	effKey := key
	version := ""
	if e.cfg.VersionAware {
		version = o.Version
		if version == "" {
			version = strconv.FormatInt(now, 10)
		}
		effKey = key + "@" + version
	}

	stored := value
	encrypted := false
	if e.encryptor != nil && e.encryptor.IsSensitive(key, value) {
		rec, err := e.encryptor.Encrypt(value)
		if err != nil {
			return effKey, err
		}
		stored = rec
		encrypted = true
	}

	newSize := e.estimator.Estimate(effKey, stored).Total
	if newSize > e.cfg.MaxMemory {
		return effKey, cacheerrors.Newf(cacheerrors.ErrCodeMemoryLimitExceeded,
			"entry of %d bytes exceeds cache capacity", newSize).WithKey(key)
	}

	existing := e.items[effKey]
	var oldSize int64
	if existing != nil {
		oldSize = existing.Size
	}
	if err := e.ensureCapacityLocked(effKey, newSize-oldSize, existing == nil); err != nil {
		return effKey, err
	}

	entry := &Entry{
		Value:         stored,
		Created:       now,
		LastAccessed:  now,
		TTLSeconds:    ttlSeconds,
		Size:          newSize,
		Encrypted:     encrypted,
		Version:       version,
		Hash:          contentHash(stored),
		Dependencies:  o.Dependencies,
		SourceFile:    o.SourceFile,
		FileTimestamp: fileTS,
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
	return effKey, nil
}

// Get reads a value. The second return is false on a miss; the "absent"
// outcome is never conflated with a stored nil.
func (e *Engine) Get(key string, opts *GetOptions) (interface{}, bool, error) {
	start := time.Now()
	if key == "" {
		return nil, false, cacheerrors.New(cacheerrors.ErrCodeInvalidInput, "key must not be empty")
	}
	if e.access != nil {
		if err := e.access.Allow(secure.OpGet, baseKey(key)); err != nil {
			return nil, false, err
		}
	}

	var o GetOptions
	if opts != nil {
		o = *opts
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getLocked(key, o, start)
}

// getLocked performs the read under the engine mutex: effective-key
// resolution, freshness checks, LRU touch, and decryption.
func (e *Engine) getLocked(key string, o GetOptions, start time.Time) (interface{}, bool, error) {
	now := e.clock.NowMillis()

	var entry *Entry
	var effKey string
	if e.cfg.VersionAware {
		if o.Version != "" {
			effKey = key + "@" + o.Version
			entry = e.items[effKey]
		} else {
			effKey, entry = e.latestVersionLocked(key)
		}
	} else {
		effKey = key
		entry = e.items[key]
	}
	if entry == nil {
		e.recordMissLocked()
		return nil, false, nil
	}

	validateDeps := e.cfg.VersionAware
	if o.ValidateDependencies != nil {
		validateDeps = *o.ValidateDependencies
	}

	if reason := staleReason(entry, now, validateDeps); reason != staleNone {
		e.removeEntryLocked(effKey, reason == staleExpired)
		e.recordMissLocked()
		return nil, false, nil
	}

	entry.LastAccessed = now
	entry.accessCount++
	e.evictList.MoveToFront(entry.element)

	value := entry.Value
	if entry.Encrypted {
		rec, ok := value.(*secure.CipherRecord)
		if !ok || e.encryptor == nil {
			return nil, false, cacheerrors.New(cacheerrors.ErrCodeUnknown, "entry marked encrypted but not decryptable").WithKey(effKey)
		}
		plain, err := e.encryptor.Decrypt(rec)
		if err != nil {
			// Decryption failures do not invalidate the entry.
			return nil, false, cacheerrors.New(cacheerrors.ErrCodeUnknown, "failed to decrypt entry").
				WithKey(effKey).WithCause(err)
		}
		value = plain
	}

	e.recordHitLocked(baseKey(effKey), now, time.Since(start))
	return value, true, nil
}

// Delete removes a key. In version-aware mode every version of the base key
// is removed. Returns whether any deletion happened.
func (e *Engine) Delete(key string) (bool, error) {
	if key == "" {
		return false, cacheerrors.New(cacheerrors.ErrCodeInvalidInput, "key must not be empty")
	}
	if e.access != nil {
		if err := e.access.Allow(secure.OpDelete, baseKey(key)); err != nil {
			return false, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteLocked(key), nil
}

// deleteLocked removes a key, or in version-aware mode the key plus every
// effective key of the form key@version.
func (e *Engine) deleteLocked(key string) bool {
	deleted := false
	if _, ok := e.items[key]; ok {
		e.removeEntryLocked(key, false)
		deleted = true
	}
	if e.cfg.VersionAware {
		prefix := key + "@"
		for k := range e.items {
			if strings.HasPrefix(k, prefix) {
				e.removeEntryLocked(k, false)
				deleted = true
			}
		}
	}
	return deleted
}

// Clear drops every entry and resets all counters, hits and misses included.
func (e *Engine) Clear() error {
	if e.access != nil {
		if err := e.access.Allow(secure.OpClear, ""); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.items = make(map[string]*Entry)
	e.evictList.Init()
	e.memoryUsage = 0
	e.hits = 0
	e.misses = 0
	e.evictions = 0
	e.expiredRemovals = 0
	e.avgAccessMicros = 0
	e.hotKeys = make(map[string]*hotKey)
	e.nullCache = make(map[string]int64)
	e.depGraph = make(map[string]map[string]struct{})
	e.level = PressureLow
	return nil
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{
		Hits:            e.hits,
		Misses:          e.misses,
		TotalEntries:    len(e.items),
		MemoryUsage:     e.memoryUsage,
		MaxMemory:       e.cfg.MaxMemory,
		MaxEntries:      e.cfg.MaxEntries,
		Evictions:       e.evictions,
		ExpiredRemovals: e.expiredRemovals,
		AvgAccessMicros: e.avgAccessMicros,
		PressureLevel:   e.level.String(),
		LastGCMillis:    e.lastGC,
	}
	if total := e.hits + e.misses; total > 0 {
		stats.HitRate = float64(e.hits) / float64(total)
	}
	return stats
}

// WatchPath registers a standalone file watcher, optionally binding a cache
// key so modification invalidates it.
func (e *Engine) WatchPath(path string, key string) (bool, error) {
	if e.watchers == nil {
		return false, nil
	}
	if err := e.watchers.Watch(path); err != nil {
		return false, err
	}
	if key != "" {
		e.mu.Lock()
		e.addDependentLocked(path, key)
		e.mu.Unlock()
	}
	return true, nil
}

// UnwatchPath stops watching a path and drops its dependent set.
func (e *Engine) UnwatchPath(path string) bool {
	if e.watchers == nil {
		return false
	}
	removed := e.watchers.Unwatch(path)
	e.mu.Lock()
	delete(e.depGraph, path)
	e.mu.Unlock()
	return removed
}

// Destroy stops background tasks, closes all watchers, and clears state.
// Destroy is idempotent.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	close(e.done)
	e.mu.Unlock()

	e.wg.Wait()
	if e.watchers != nil {
		_ = e.watchers.Close()
	}

	e.mu.Lock()
	e.items = make(map[string]*Entry)
	e.evictList.Init()
	e.memoryUsage = 0
	e.hotKeys = make(map[string]*hotKey)
	e.nullCache = make(map[string]int64)
	e.depGraph = make(map[string]map[string]struct{})
	e.mu.Unlock()
}

// Internal helpers. All *Locked methods require the engine mutex.

// ensureCapacityLocked evicts from the LRU tail until the pending mutation
// fits both limits, skipping the key being replaced. On failure the cache is
// left as evicted-so-far but the mutation must not proceed.
func (e *Engine) ensureCapacityLocked(skipKey string, delta int64, adding bool) error {
	overCount := func() bool {
		count := len(e.items)
		if adding {
			count++
		}
		return count > e.cfg.MaxEntries
	}

	for e.memoryUsage+delta > e.cfg.MaxMemory || overCount() {
		victim := e.tailVictimLocked(skipKey)
		if victim == "" {
			break
		}
		e.removeEntryLocked(victim, false)
		e.evictions++
	}

	if e.memoryUsage+delta > e.cfg.MaxMemory {
		return cacheerrors.Newf(cacheerrors.ErrCodeMemoryLimitExceeded,
			"cannot free %d bytes", delta).WithKey(skipKey)
	}
	if overCount() {
		return cacheerrors.New(cacheerrors.ErrCodeCacheFull, "entry limit cannot be satisfied").WithKey(skipKey)
	}
	return nil
}

// tailVictimLocked returns the least recently used key other than skipKey.
func (e *Engine) tailVictimLocked(skipKey string) string {
	for el := e.evictList.Back(); el != nil; el = el.Prev() {
		key := el.Value.(string)
		if key != skipKey {
			return key
		}
	}
	return ""
}

// removeEntryLocked unlinks an entry from the map, the LRU list, the
// accounting, and the dependency graph.
func (e *Engine) removeEntryLocked(key string, expired bool) {
	entry, ok := e.items[key]
	if !ok {
		return
	}
	if entry.element != nil {
		e.evictList.Remove(entry.element)
	}
	delete(e.items, key)
	e.memoryUsage -= entry.Size
	if expired {
		e.expiredRemovals++
	}

	if entry.SourceFile != "" {
		e.removeDependentLocked(entry.SourceFile, key)
	}
	for _, dep := range entry.Dependencies {
		e.removeDependentLocked(dep, key)
	}
}

func (e *Engine) recordHitLocked(base string, now int64, elapsed time.Duration) {
	e.hits++

	hk := e.hotKeys[base]
	if hk == nil {
		hk = &hotKey{}
		e.hotKeys[base] = hk
	}
	hk.count++
	hk.lastAccessed = now

	sample := float64(elapsed.Microseconds())
	if e.avgAccessMicros == 0 {
		e.avgAccessMicros = sample
	} else {
		e.avgAccessMicros = e.avgAccessMicros*(1-accessTimeAlpha) + sample*accessTimeAlpha
	}
}

func (e *Engine) recordMissLocked() {
	e.misses++
}

// recalibrateLocked recomputes the byte accounting from the entries
// themselves, zeroing any drift.
func (e *Engine) recalibrateLocked(now int64) {
	var total int64
	for _, entry := range e.items {
		total += entry.Size
	}
	if total != e.memoryUsage {
		e.logger.Debug("memory accounting recalibrated", map[string]interface{}{
			"drift": e.memoryUsage - total,
		})
		e.memoryUsage = total
	}
	e.lastRecalibrated = now
}

// cleanupLoop drives maybeGC at the configured check interval.
func (e *Engine) cleanupLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.MaybeGC()
		}
	}
}

// statsLoop refreshes the pressure level and recalibrates accounting.
func (e *Engine) statsLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.mu.Lock()
			now := e.clock.NowMillis()
			e.recalibrateLocked(now)
			e.level = e.pressureLevelLocked()
			e.mu.Unlock()
		}
	}
}

// contentHash fingerprints the stored form of a value.
func contentHash(value interface{}) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:8])
}
