package cache

import (
	"container/list"
)

// Entry represents one cached value and its bookkeeping.
type Entry struct {
	// Value holds the stored payload: the caller's value, or a
	// *secure.CipherRecord when Encrypted is set.
	Value interface{}

	// Created is the insertion time in engine-clock milliseconds.
	Created int64

	// LastAccessed updates on every hit.
	LastAccessed int64

	// TTLSeconds is the expiry horizon from Created.
	TTLSeconds int

	// Size is the engine's byte estimate of the stored form, used for
	// accounting.
	Size int64

	// Encrypted marks Value as a cipher record.
	Encrypted bool

	// Version is the caller-supplied or clock-derived tag in version-aware
	// mode.
	Version string

	// Hash is a short hex content fingerprint taken at insertion.
	Hash string

	// Dependencies are external files whose modification invalidates this
	// entry.
	Dependencies []string

	// SourceFile is the primary producing file, if any.
	SourceFile string

	// FileTimestamp is the source file's mtime snapshot (ms) at insertion.
	FileTimestamp int64

	accessCount int64
	element     *list.Element
}

// SetOptions carries the optional inputs to Set.
type SetOptions struct {
	// Version tags the entry in version-aware mode. Empty derives a
	// timestamp version.
	Version string

	// Dependencies are file paths whose modification invalidates the entry.
	Dependencies []string

	// SourceFile is the primary producing file.
	SourceFile string
}

// GetOptions carries the optional inputs to Get.
type GetOptions struct {
	// Version selects an exact version in version-aware mode. Empty resolves
	// the latest version.
	Version string

	// ValidateDependencies forces or suppresses dependency mtime checks.
	// Nil defaults to the engine's version-aware setting.
	ValidateDependencies *bool
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Hits            uint64  `json:"hits"`
	Misses          uint64  `json:"misses"`
	HitRate         float64 `json:"hit_rate"`
	TotalEntries    int     `json:"total_entries"`
	MemoryUsage     int64   `json:"memory_usage"`
	MaxMemory       int64   `json:"max_memory"`
	MaxEntries      int     `json:"max_entries"`
	Evictions       uint64  `json:"evictions"`
	ExpiredRemovals uint64  `json:"expired_removals"`
	AvgAccessMicros float64 `json:"avg_access_micros"`
	PressureLevel   string  `json:"pressure_level"`
	LastGCMillis    int64   `json:"last_gc_millis"`
}

// GCResult reports the outcome of a collection cycle.
type GCResult struct {
	FreedBytes     int64 `json:"freed_bytes"`
	EntriesRemoved int   `json:"entries_removed"`
	DurationMicros int64 `json:"duration_micros"`
	Aggressive     bool  `json:"aggressive"`
}

// BatchSetItem is one item of a SetMany call.
type BatchSetItem struct {
	Key        string
	Value      interface{}
	TTLSeconds int
	Options    SetOptions
}

// BatchFailure names an item that a batch operation could not apply.
type BatchFailure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// BatchSetResult reports per-key outcomes of SetMany.
type BatchSetResult struct {
	Success []string       `json:"success"`
	Failed  []BatchFailure `json:"failed"`
}

// FoundItem is one hit of a GetMany call.
type FoundItem struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// BatchGetResult reports the hits and misses of GetMany.
type BatchGetResult struct {
	Found   []FoundItem `json:"found"`
	Missing []string    `json:"missing"`
}

// BatchDeleteResult reports per-key outcomes of DeleteMany.
type BatchDeleteResult struct {
	Success []string `json:"success"`
	Failed  []string `json:"failed"`
}

// hotKey tracks access frequency per base key.
type hotKey struct {
	count        int64
	lastAccessed int64
}
