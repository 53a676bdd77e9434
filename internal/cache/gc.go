package cache

import (
	"math"
	"sort"
	"time"

	cacheerrors "github.com/vaultcache/vaultcache/pkg/errors"
)

// PressureLevel classifies memory usage relative to capacity and drives GC
// pacing and eviction policy.
type PressureLevel int

const (
	PressureLow PressureLevel = iota
	PressureMedium
	PressureHigh
	PressureCritical
)

// String returns the string representation of the pressure level.
func (p PressureLevel) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PressureThresholds partition the usage ratio into pressure levels.
type PressureThresholds struct {
	Low      float64 `yaml:"low" json:"low"`
	Medium   float64 `yaml:"medium" json:"medium"`
	High     float64 `yaml:"high" json:"high"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// DefaultPressureThresholds returns the default partition.
func DefaultPressureThresholds() PressureThresholds {
	return PressureThresholds{Low: 0.50, Medium: 0.70, High: 0.85, Critical: 0.95}
}

func (t PressureThresholds) validate() error {
	if t.Low <= 0 || t.Low >= t.Medium || t.Medium >= t.High || t.High >= t.Critical || t.Critical > 1 {
		return cacheerrors.New(cacheerrors.ErrCodeConfiguration,
			"pressure thresholds must satisfy 0 < low < medium < high < critical <= 1")
	}
	return nil
}

// GC pacing: cool-down between smart cycles per pressure level, and the
// ceiling after which a full cycle is forced.
var gcCooldownMillis = map[PressureLevel]int64{
	PressureLow:      120000,
	PressureMedium:   30000,
	PressureHigh:     15000,
	PressureCritical: 5000,
}

const fullGCIntervalMillis = 600000

// Eviction targets for smart and aggressive phases.
const (
	smartEvictFraction      = 0.20
	aggressiveEvictFraction = 0.40
)

// SetPressureThresholds replaces the pressure partition.
func (e *Engine) SetPressureThresholds(t PressureThresholds) error {
	if err := t.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Thresholds = t
	e.level = e.pressureLevelLocked()
	return nil
}

// pressureLevelLocked computes the level from the current usage ratio.
func (e *Engine) pressureLevelLocked() PressureLevel {
	u := float64(e.memoryUsage) / float64(e.cfg.MaxMemory)
	t := e.cfg.Thresholds
	switch {
	case u <= t.Low:
		return PressureLow
	case u <= t.Medium:
		return PressureMedium
	case u <= t.High:
		return PressureHigh
	default:
		return PressureCritical
	}
}

// MaybeGC runs a collection cycle if the pressure-dependent cool-down has
// elapsed, or a full cycle if one is overdue. Returns nil when nothing ran.
func (e *Engine) MaybeGC() *GCResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.NowMillis()
	if now-e.lastFullGC >= fullGCIntervalMillis {
		result := e.runFullGCLocked(now)
		return &result
	}
	if now-e.lastGC >= gcCooldownMillis[e.level] {
		result := e.runSmartGCLocked(now)
		return &result
	}
	return nil
}

// ForceGC runs a cycle immediately. Aggressive mode adds largest-first
// eviction regardless of pressure level.
func (e *Engine) ForceGC(aggressive bool) GCResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.NowMillis()
	start := time.Now()

	var result GCResult
	result.Aggressive = aggressive

	freed, removed := e.sweepExpiredLocked(now)
	result.FreedBytes += freed
	result.EntriesRemoved += removed

	freed, removed = e.smartEvictLocked(now, smartEvictFraction)
	result.FreedBytes += freed
	result.EntriesRemoved += removed

	if aggressive {
		freed, removed = e.aggressiveEvictLocked(aggressiveEvictFraction)
		result.FreedBytes += freed
		result.EntriesRemoved += removed
	}

	e.cleanupAuxiliaryLocked(now)
	e.recalibrateLocked(now)
	e.level = e.pressureLevelLocked()
	e.lastGC = now

	result.DurationMicros = time.Since(start).Microseconds()
	return result
}

// runSmartGCLocked is the paced cycle: expired sweep always, weighted
// eviction at HIGH and above, largest-first eviction at CRITICAL, then
// auxiliary cleanup.
func (e *Engine) runSmartGCLocked(now int64) GCResult {
	start := time.Now()
	var result GCResult

	freed, removed := e.sweepExpiredLocked(now)
	result.FreedBytes += freed
	result.EntriesRemoved += removed

	level := e.pressureLevelLocked()
	if level >= PressureHigh {
		freed, removed = e.smartEvictLocked(now, smartEvictFraction)
		result.FreedBytes += freed
		result.EntriesRemoved += removed
	}
	if level >= PressureCritical {
		result.Aggressive = true
		freed, removed = e.aggressiveEvictLocked(aggressiveEvictFraction)
		result.FreedBytes += freed
		result.EntriesRemoved += removed
	}

	e.cleanupAuxiliaryLocked(now)
	e.level = e.pressureLevelLocked()
	e.lastGC = now

	result.DurationMicros = time.Since(start).Microseconds()

	if result.EntriesRemoved > 0 {
		e.logger.Debug("gc cycle complete", map[string]interface{}{
			"freed_bytes": result.FreedBytes,
			"removed":     result.EntriesRemoved,
			"level":       level.String(),
		})
	}
	return result
}

// runFullGCLocked sweeps expired entries, aggressively cleans auxiliary
// data, recalibrates accounting, and rebuilds the LRU list to repair any
// bookkeeping drift.
func (e *Engine) runFullGCLocked(now int64) GCResult {
	start := time.Now()
	var result GCResult

	freed, removed := e.sweepExpiredLocked(now)
	result.FreedBytes += freed
	result.EntriesRemoved += removed

	// Aggressive auxiliary cleanup: hot keys idle beyond an hour, the whole
	// expired portion of the negative cache.
	const fullGCHotKeyIdle = 60 * 60 * 1000
	for base, hk := range e.hotKeys {
		if now-hk.lastAccessed > fullGCHotKeyIdle {
			delete(e.hotKeys, base)
		}
	}
	for key, expiry := range e.nullCache {
		if now >= expiry {
			delete(e.nullCache, key)
		}
	}

	e.recalibrateLocked(now)
	e.rebuildLRULocked()
	e.level = e.pressureLevelLocked()
	e.lastGC = now
	e.lastFullGC = now

	result.DurationMicros = time.Since(start).Microseconds()
	return result
}

// sweepExpiredLocked removes every entry past its TTL.
func (e *Engine) sweepExpiredLocked(now int64) (int64, int) {
	var freed int64
	var removed int
	for key, entry := range e.items {
		if now > entry.Created+int64(entry.TTLSeconds)*1000 {
			freed += entry.Size
			e.removeEntryLocked(key, true)
			removed++
		}
	}
	return freed, removed
}

// smartEvictLocked evicts ascending-weight entries until the target fraction
// of current usage is freed. The weight favors recently and frequently
// accessed small entries.
func (e *Engine) smartEvictLocked(now int64, fraction float64) (int64, int) {
	if len(e.items) == 0 {
		return 0, 0
	}
	target := int64(float64(e.memoryUsage) * fraction)
	if target <= 0 {
		return 0, 0
	}

	type weighted struct {
		key    string
		weight float64
		size   int64
	}
	candidates := make([]weighted, 0, len(e.items))
	for key, entry := range e.items {
		recency := math.Max(0, 1-float64(now-entry.LastAccessed)/86400000)
		frequency := math.Min(1, math.Log(float64(entry.accessCount)+1)/10)
		sizeInverse := math.Max(0, 1-float64(entry.Size)/1048576)
		candidates = append(candidates, weighted{
			key:    key,
			weight: 0.4*recency + 0.4*frequency + 0.2*sizeInverse,
			size:   entry.Size,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].weight < candidates[j].weight
	})

	var freed int64
	var removed int
	for _, c := range candidates {
		if freed >= target {
			break
		}
		e.removeEntryLocked(c.key, false)
		e.evictions++
		freed += c.size
		removed++
	}
	return freed, removed
}

// aggressiveEvictLocked evicts the largest entries first until the target
// fraction of current usage is freed.
func (e *Engine) aggressiveEvictLocked(fraction float64) (int64, int) {
	if len(e.items) == 0 {
		return 0, 0
	}
	target := int64(float64(e.memoryUsage) * fraction)
	if target <= 0 {
		return 0, 0
	}

	type sized struct {
		key  string
		size int64
	}
	candidates := make([]sized, 0, len(e.items))
	for key, entry := range e.items {
		candidates = append(candidates, sized{key: key, size: entry.Size})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].size > candidates[j].size
	})

	var freed int64
	var removed int
	for _, c := range candidates {
		if freed >= target {
			break
		}
		e.removeEntryLocked(c.key, false)
		e.evictions++
		freed += c.size
		removed++
	}
	return freed, removed
}

// cleanupAuxiliaryLocked drops idle hot-key counters and expired negative
// cache records.
func (e *Engine) cleanupAuxiliaryLocked(now int64) {
	for base, hk := range e.hotKeys {
		if now-hk.lastAccessed > hotKeyIdleMillis {
			delete(e.hotKeys, base)
		}
	}
	for key, expiry := range e.nullCache {
		if now >= expiry {
			delete(e.nullCache, key)
		}
	}
}

// rebuildLRULocked reconstructs the eviction list by descending
// lastAccessed, repairing any prior drift between the list and the map.
func (e *Engine) rebuildLRULocked() {
	type accessed struct {
		key  string
		last int64
	}
	ordered := make([]accessed, 0, len(e.items))
	for key, entry := range e.items {
		ordered = append(ordered, accessed{key: key, last: entry.LastAccessed})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].last > ordered[j].last
	})

	e.evictList.Init()
	for _, a := range ordered {
		e.items[a.key].element = e.evictList.PushBack(a.key)
	}
}
