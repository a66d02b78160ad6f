package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/packsmith/packsmith/internal/archive"
	"github.com/packsmith/packsmith/internal/utils/logger"
)

// Status is the per-task outcome. Deferred means files were locked and
// the transaction will be finished by Satisfy at the next startup.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusDeferred Status = "deferred"
	StatusSkipped  Status = "skipped"
)

type Result struct {
	Status Status
	Err    error
}

// Apply executes one task. Per-package serialization is the caller's
// concern; Run provides it for batches.
func (e *Engine) Apply(ctx context.Context, task Task) Result {
	switch task.Action {
	case ActionNone:
		return Result{Status: StatusSkipped}
	case ActionPull:
		return e.pull(ctx, task)
	case ActionRemove:
		return e.remove(task)
	case ActionInstall, ActionUpgrade, ActionDowngrade, ActionReinstall, ActionOverwrite:
		return e.installArchive(ctx, task)
	default:
		return Result{Status: StatusFailed, Err: fmt.Errorf("unknown action %q for %s", task.Action, task.Name)}
	}
}

func (e *Engine) installArchive(ctx context.Context, task Task) Result {
	log := logger.Logger()
	if task.Release == nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("no release selected for %s", task.Name)}
	}

	data, err := e.fetcher.Fetch(ctx, task.Release.URL)
	if err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("downloading %s: %w", task.Name, err)}
	}
	if task.Package != nil && task.Package.Signing != nil {
		if err := e.verifyArchive(ctx, task.Name, data, task.Release.URL, task.Package.Signing); err != nil {
			return Result{Status: StatusFailed, Err: err}
		}
	}

	disabled := e.disableFor(task.Name, string(task.Action))
	defer e.reenableFor(disabled, string(task.Action))

	pkgDir := e.packageDir(task.Name)
	if _, err := os.Stat(pkgDir); err == nil {
		if err := e.backup(task.Name); err != nil {
			return Result{Status: StatusFailed, Err: fmt.Errorf("backing up %s: %w", task.Name, err)}
		}
	}

	staging := filepath.Join(e.workDir, "packsmith-"+uuid.NewString())
	defer os.RemoveAll(staging)
	if _, err := archive.Extract(archive.Kind(task.Release.URL), data, staging); err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("extracting %s: %w", task.Name, err)}
	}

	locked := false
	if l, err := clearDir(pkgDir); err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("clearing %s: %w", task.Name, err)}
	} else if l {
		locked = true
	}
	if err := os.MkdirAll(pkgDir, 0755); err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("creating %s: %w", task.Name, err)}
	}
	if l, err := copyTree(staging, pkgDir); err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("installing %s: %w", task.Name, err)}
	} else if l {
		locked = true
	}

	record := &Record{Version: task.Release.Version}
	if task.Package != nil {
		record.URL = task.Package.Homepage
		record.Description = task.Package.Description
	}
	if err := e.writeRecord(task.Name, record); err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("recording %s: %w", task.Name, err)}
	}
	if err := e.track(task.Name); err != nil {
		return Result{Status: StatusFailed, Err: err}
	}

	if task.OldName != "" && task.OldName != task.Name {
		e.retireRenamed(task.OldName)
	}

	if locked {
		// Finish at next startup; not a user-facing failure.
		if err := e.writeMarker(task.Name, reinstallMarker); err != nil {
			log.Warnf("could not write deferral marker for %s: %v", task.Name, err)
		}
		log.Infof("Deferred completion of %s: files in use", task.Name)
		return Result{Status: StatusDeferred}
	}
	log.Infof("%s %s %s", titleFor(task.Action), task.Name, task.Release.Version)
	return Result{Status: StatusOK}
}

func (e *Engine) remove(task Task) Result {
	log := logger.Logger()
	pkgDir := e.packageDir(task.Name)

	disabled := e.disableFor(task.Name, "remove")
	// Removed packages stay disabled; only reenable on failure.

	if _, err := os.Stat(pkgDir); err == nil {
		if err := e.backup(task.Name); err != nil {
			e.reenableFor(disabled, "remove")
			return Result{Status: StatusFailed, Err: fmt.Errorf("backing up %s: %w", task.Name, err)}
		}
	}

	if err := e.untrack(task.Name); err != nil {
		e.reenableFor(disabled, "remove")
		return Result{Status: StatusFailed, Err: err}
	}

	locked, err := clearDir(pkgDir)
	if err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("removing %s: %w", task.Name, err)}
	}
	if locked {
		if err := e.writeMarker(task.Name, cleanupMarker); err != nil {
			log.Warnf("could not write deferral marker for %s: %v", task.Name, err)
		}
		log.Infof("Deferred removal of %s: files in use", task.Name)
		return Result{Status: StatusDeferred}
	}
	if err := os.Remove(pkgDir); err != nil && !os.IsNotExist(err) {
		return Result{Status: StatusFailed, Err: fmt.Errorf("removing %s: %w", task.Name, err)}
	}
	log.Infof("Removed %s", task.Name)
	return Result{Status: StatusOK}
}

func (e *Engine) pull(ctx context.Context, task Task) Result {
	if task.Upgrader == nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("no upgrader for %s", task.Name)}
	}
	disabled := e.disableFor(task.Name, "upgrade")
	defer e.reenableFor(disabled, "upgrade")
	if err := task.Upgrader.Pull(ctx, e.packageDir(task.Name)); err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("pulling %s: %w", task.Name, err)}
	}
	logger.Logger().Infof("Pulled %s", task.Name)
	return Result{Status: StatusOK}
}

// retireRenamed drops the old directory and record after a rename was
// installed under the new name. Locked files defer like a removal.
func (e *Engine) retireRenamed(oldName string) {
	log := logger.Logger()
	if err := e.untrack(oldName); err != nil {
		log.Warnf("could not untrack renamed package %s: %v", oldName, err)
	}
	if err := e.backup(oldName); err != nil {
		log.Warnf("could not back up renamed package %s: %v", oldName, err)
	}
	oldDir := e.packageDir(oldName)
	locked, err := clearDir(oldDir)
	if err != nil {
		log.Warnf("could not remove renamed package %s: %v", oldName, err)
		return
	}
	if locked {
		if err := e.writeMarker(oldName, cleanupMarker); err != nil {
			log.Warnf("could not write deferral marker for %s: %v", oldName, err)
		}
		return
	}
	if err := os.Remove(oldDir); err != nil && !os.IsNotExist(err) {
		log.Warnf("could not remove renamed package %s: %v", oldName, err)
	}
}

func (e *Engine) disableFor(name, reason string) []string {
	if e.disabler == nil {
		return nil
	}
	return e.disabler.Disable([]string{name}, reason)
}

func (e *Engine) reenableFor(names []string, reason string) {
	if e.disabler == nil || len(names) == 0 {
		return
	}
	e.disabler.Reenable(names, reason)
}

func (e *Engine) writeMarker(name, marker string) error {
	dir := e.packageDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, marker), nil, 0644)
}

func (e *Engine) hasMarker(name, marker string) bool {
	_, err := os.Stat(filepath.Join(e.packageDir(name), marker))
	return err == nil
}

// backup copies the live package directory under a timestamped folder.
func (e *Engine) backup(name string) error {
	stamp := e.now().Format("20060102150405")
	dest := filepath.Join(e.backupDir, stamp, name)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	if _, err := copyTree(e.packageDir(name), dest); err != nil {
		return err
	}
	return nil
}

// clearDir removes dir's contents. Entries that cannot be removed
// because they are in use are left behind and reported as locked;
// other errors abort.
func clearDir(dir string) (locked bool, err error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				locked = true
				continue
			}
			return locked, err
		}
	}
	return locked, nil
}

// copyTree copies src's contents into dst, which must exist. Locked
// destination files are skipped and reported.
func copyTree(src, dst string) (locked bool, err error) {
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := copyFile(path, target, info.Mode().Perm()); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				locked = true
				return nil
			}
			return err
		}
		return nil
	})
	return locked, err
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func titleFor(a Action) string {
	switch a {
	case ActionInstall:
		return "Installed"
	case ActionUpgrade:
		return "Upgraded"
	case ActionDowngrade:
		return "Downgraded"
	case ActionReinstall:
		return "Reinstalled"
	case ActionOverwrite:
		return "Overwrote"
	default:
		return "Applied"
	}
}
