package cache

import (
	"os"
	"time"

	"github.com/vaultcache/vaultcache/internal/secure"
	cacheerrors "github.com/vaultcache/vaultcache/pkg/errors"
)

// SetMany applies a batch of sets under one mutex acquisition. A single
// upfront capacity pre-check evicts proactively; items that still would not
// fit are reported in the failed list without mutating the cache.
func (e *Engine) SetMany(items []BatchSetItem) BatchSetResult {
	result := BatchSetResult{}

	type prepared struct {
		item   BatchSetItem
		fileTS int64
	}
	work := make([]prepared, 0, len(items))

	for _, item := range items {
		if item.Key == "" || item.Value == nil {
			result.Failed = append(result.Failed, BatchFailure{Key: item.Key, Reason: string(cacheerrors.ErrCodeInvalidInput)})
			continue
		}
		if item.TTLSeconds < 0 || item.TTLSeconds > maxTTLSeconds {
			result.Failed = append(result.Failed, BatchFailure{Key: item.Key, Reason: string(cacheerrors.ErrCodeInvalidInput)})
			continue
		}
		if e.access != nil {
			if err := e.access.Allow(secure.OpSet, item.Key); err != nil {
				result.Failed = append(result.Failed, BatchFailure{Key: item.Key, Reason: string(cacheerrors.CodeOf(err))})
				continue
			}
		}
		p := prepared{item: item}
		if item.Options.SourceFile != "" {
			if fi, err := os.Stat(item.Options.SourceFile); err == nil {
				p.fileTS = fi.ModTime().UnixMilli()
			}
		}
		work = append(work, p)
	}

	type followup struct {
		effKey string
		opts   SetOptions
		base   string
	}
	var followups []followup

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		for _, p := range work {
			result.Failed = append(result.Failed, BatchFailure{Key: p.item.Key, Reason: string(cacheerrors.ErrCodeUnknown)})
		}
		return result
	}

	// Upfront pre-check: items that can never fit drop straight to the
	// failed list; the rest size the batch's total demand, which is evicted
	// for ahead of the per-item work.
	var needed int64
	fitting := work[:0]
	for _, p := range work {
		size := e.estimator.Estimate(p.item.Key, p.item.Value).Total
		if size > e.cfg.MaxMemory {
			result.Failed = append(result.Failed, BatchFailure{Key: p.item.Key, Reason: string(cacheerrors.ErrCodeMemoryLimitExceeded)})
			continue
		}
		needed += size
		fitting = append(fitting, p)
	}
	work = fitting
	for e.memoryUsage+needed > e.cfg.MaxMemory {
		victim := e.tailVictimLocked("")
		if victim == "" {
			break
		}
		e.removeEntryLocked(victim, false)
		e.evictions++
	}

	for _, p := range work {
		ttl := p.item.TTLSeconds
		if ttl == 0 {
			ttl = e.cfg.DefaultTTLSeconds
		}
		effKey, err := e.setLocked(p.item.Key, p.item.Value, ttl, p.item.Options, p.fileTS)
		if err != nil {
			result.Failed = append(result.Failed, BatchFailure{Key: p.item.Key, Reason: string(cacheerrors.CodeOf(err))})
			continue
		}
		result.Success = append(result.Success, p.item.Key)
		if p.item.Options.SourceFile != "" && len(p.item.Options.Dependencies) > 0 {
			followups = append(followups, followup{effKey: effKey, opts: p.item.Options, base: p.item.Key})
		} else if e.cfg.VersionAware {
			followups = append(followups, followup{base: p.item.Key})
		}
	}
	e.mu.Unlock()

	for _, f := range followups {
		if f.effKey != "" {
			go e.registerWatchers(f.effKey, f.opts.SourceFile, f.opts.Dependencies)
		}
		if e.cfg.VersionAware {
			go e.cleanupOldVersions(f.base)
		}
	}

	return result
}

// GetMany reads a batch of keys under one mutex acquisition, partitioning
// them into found pairs and missing keys. Keys that error (access, decrypt)
// count as missing.
func (e *Engine) GetMany(keys []string, opts *GetOptions) BatchGetResult {
	start := time.Now()
	result := BatchGetResult{}

	var o GetOptions
	if opts != nil {
		o = *opts
	}

	allowed := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			result.Missing = append(result.Missing, key)
			continue
		}
		if e.access != nil {
			if err := e.access.Allow(secure.OpGet, baseKey(key)); err != nil {
				result.Missing = append(result.Missing, key)
				continue
			}
		}
		allowed = append(allowed, key)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, key := range allowed {
		value, ok, err := e.getLocked(key, o, start)
		if err != nil || !ok {
			result.Missing = append(result.Missing, key)
			continue
		}
		result.Found = append(result.Found, FoundItem{Key: key, Value: value})
	}
	return result
}

// DeleteMany removes a batch of keys under one mutex acquisition, reporting
// per-key success. Keys that were absent or denied land in the failed list.
func (e *Engine) DeleteMany(keys []string) BatchDeleteResult {
	result := BatchDeleteResult{}

	allowed := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			result.Failed = append(result.Failed, key)
			continue
		}
		if e.access != nil {
			if err := e.access.Allow(secure.OpDelete, baseKey(key)); err != nil {
				result.Failed = append(result.Failed, key)
				continue
			}
		}
		allowed = append(allowed, key)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, key := range allowed {
		if e.deleteLocked(key) {
			result.Success = append(result.Success, key)
		} else {
			result.Failed = append(result.Failed, key)
		}
	}
	return result
}
