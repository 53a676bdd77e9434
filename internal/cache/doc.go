/*
Package cache implements the vaultcache engine: a bounded in-process
key/value cache with LRU eviction, TTL expiration, version-aware
invalidation, opportunistic encryption, access control, and a
memory-pressure-driven garbage collector.

# Architecture

One Engine owns every structure; a single mutex serializes all structural
operations, making the public API linearizable:

	┌──────────────────────────────────────────────┐
	│                 Engine façade                │
	│  Set / Get / Delete / Clear / batches        │
	│  GetWithLoader / ForceGC / Stats / Destroy   │
	└──────────────────────────────────────────────┘
	     │           │            │           │
	┌─────────┐ ┌─────────┐ ┌──────────┐ ┌─────────┐
	│ entry   │ │ LRU     │ │ dep      │ │ negative│
	│ map     │ │ list    │ │ graph    │ │ cache   │
	└─────────┘ └─────────┘ └──────────┘ └─────────┘
	     │           │            │
	┌─────────┐ ┌─────────┐ ┌──────────┐
	│ size    │ │ pressure│ │ file     │
	│ estimate│ │ GC      │ │ watchers │
	└─────────┘ └─────────┘ └──────────┘

# Reads

A read resolves the effective key (latest version in version-aware mode),
applies the freshness checks in order (TTL, source-file mtime, dependency
mtimes), touches the LRU, decrypts when needed, and records statistics.
Stale entries are deleted and surface as misses, never as errors.

# Writes

A write validates access, estimates the stored size, encrypts values that
match the sensitivity patterns, evicts from the LRU tail until both the byte
and entry caps hold, and inserts at the head. Watcher registration and
old-version cleanup are scheduled outside the critical section.

# Memory pressure

The usage ratio partitions into low/medium/high/critical pressure levels.
The paced collector sweeps expired entries on every cycle, adds
weighted-score eviction at high pressure, and largest-first eviction at
critical pressure. A full cycle additionally recalibrates the byte
accounting and rebuilds the LRU list from access times.

# Loaders

GetWithLoader coalesces concurrent misses for one key onto a single loader
invocation and negatively caches "no value" outcomes, so hot misses stay
cheap.

# Clocking

All TTL and GC decisions read the injected Clock, so tests drive expiry and
pacing deterministically without sleeping.
*/
package cache
