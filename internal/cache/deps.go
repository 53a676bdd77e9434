package cache

import (
	"os"
)

// staleKind classifies why an entry failed a freshness check.
type staleKind int

const (
	staleNone staleKind = iota
	staleExpired
	staleSourceChanged
	staleDependencyChanged
)

// staleReason applies the freshness checks in order: TTL, source-file
// timestamp, dependency mtimes. An unreadable path counts as invalidation,
// not as an error.
func staleReason(entry *Entry, now int64, validateDeps bool) staleKind {
	if now > entry.Created+int64(entry.TTLSeconds)*1000 {
		return staleExpired
	}

	if entry.SourceFile != "" && entry.FileTimestamp > 0 {
		fi, err := os.Stat(entry.SourceFile)
		if err != nil || fi.ModTime().UnixMilli() > entry.FileTimestamp {
			return staleSourceChanged
		}
	}

	if validateDeps && len(entry.Dependencies) > 0 {
		for _, dep := range entry.Dependencies {
			fi, err := os.Stat(dep)
			if err != nil || fi.ModTime().UnixMilli() > entry.Created {
				return staleDependencyChanged
			}
		}
	}

	return staleNone
}

// registerWatchers watches the source file and every dependency of an entry,
// accumulating the reverse index from path to dependent keys. Failures are
// logged and tolerated; the entry stays cached under TTL and stat-based
// freshness.
func (e *Engine) registerWatchers(effKey, sourceFile string, dependencies []string) {
	if e.watchers == nil {
		return
	}

	paths := make([]string, 0, len(dependencies)+1)
	paths = append(paths, sourceFile)
	paths = append(paths, dependencies...)

	for _, path := range paths {
		if err := e.watchers.Watch(path); err != nil {
			e.logger.Warn("watcher registration failed", map[string]interface{}{
				"path": path, "key": effKey, "error": err.Error(),
			})
			continue
		}
		e.mu.Lock()
		if !e.destroyed {
			e.addDependentLocked(path, effKey)
		}
		e.mu.Unlock()
	}
}

// invalidateDependents deletes every entry registered against a modified
// path, then clears the dependent set. The watcher itself is retained so
// later registrations against the same path keep working.
func (e *Engine) invalidateDependents(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dependents := e.depGraph[path]
	if len(dependents) == 0 {
		return
	}

	for key := range dependents {
		e.removeEntryLocked(key, false)
	}
	delete(e.depGraph, path)

	e.logger.Debug("invalidated dependents", map[string]interface{}{
		"path": path, "count": len(dependents),
	})
}

func (e *Engine) addDependentLocked(path, key string) {
	set := e.depGraph[path]
	if set == nil {
		set = make(map[string]struct{})
		e.depGraph[path] = set
	}
	set[key] = struct{}{}
}

func (e *Engine) removeDependentLocked(path, key string) {
	if set := e.depGraph[path]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(e.depGraph, path)
		}
	}
}
