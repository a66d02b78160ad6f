package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/packsmith/packsmith/internal/utils/logger"
)

// Satisfy reconciles the declared package set with what is on disk:
// tracked-but-missing packages are installed, managed-but-untracked
// packages are removed, and transactions deferred by locked files are
// retried. Old backups are pruned first.
func (e *Engine) Satisfy(ctx context.Context) map[string]Result {
	log := logger.Logger()
	e.pruneBackups()

	results := map[string]Result{}

	available := e.catalog.ListAvailablePackages(ctx)

	onDisk := map[string]bool{}
	entries, err := os.ReadDir(e.host.PackagesDirectory())
	if err != nil && !os.IsNotExist(err) {
		log.Warnf("Could not scan packages directory: %v", err)
		return results
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()

		// Deferred transactions first.
		if e.hasMarker(name, cleanupMarker) {
			results[name] = e.remove(Task{Action: ActionRemove, Name: name})
			continue
		}
		if e.hasMarker(name, reinstallMarker) {
			if pkg, ok := available[name]; ok {
				if task, err := e.taskFor(name, "", &pkg); err == nil {
					task.Action = ActionReinstall
					results[name] = e.Apply(ctx, task)
					continue
				}
			}
			log.Warnf("Cannot finish deferred reinstall of %s: package unavailable", name)
			continue
		}

		if _, err := os.Stat(filepath.Join(e.host.PackagesDirectory(), name, recordFile)); err == nil {
			onDisk[name] = true
		}
	}

	tracked := map[string]bool{}
	for _, name := range e.trackedPackages() {
		tracked[name] = true
	}

	for name := range tracked {
		if onDisk[name] {
			continue
		}
		pkg, ok := available[name]
		if !ok {
			log.Warnf("Tracked package %s is not available; leaving it missing", name)
			continue
		}
		task, err := e.taskFor(name, "", &pkg)
		if err != nil {
			results[name] = Result{Status: StatusFailed, Err: err}
			continue
		}
		task.Action = ActionInstall
		results[name] = e.Apply(ctx, task)
	}

	for name := range onDisk {
		if tracked[name] {
			continue
		}
		results[name] = e.remove(Task{Action: ActionRemove, Name: name})
	}

	return results
}

// pruneBackups removes timestamped backup folders older than the
// configured maximum age, going by directory modification time.
func (e *Engine) pruneBackups() {
	log := logger.Logger()
	entries, err := os.ReadDir(e.backupDir)
	if err != nil {
		return
	}
	cutoff := e.now().Add(-e.backupMaxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(e.backupDir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				log.Warnf("Could not prune backup %s: %v", path, err)
			}
		}
	}
}
