// Package engine executes install, upgrade, remove and satisfy
// transactions against the on-disk package tree. It is the only
// component allowed to write inside a package directory, and it always
// disables a package before touching its files.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/packsmith/packsmith/internal/hostenv"
	"github.com/packsmith/packsmith/internal/source"
	"github.com/packsmith/packsmith/internal/utils/general/slice"
)

const (
	recordFile      = "package-metadata.json"
	cleanupMarker   = "packsmith.cleanup"
	reinstallMarker = "packsmith.reinstall"

	installedPackagesKey = "installed_packages"
)

// Record is the persisted per-package install record.
type Record struct {
	Version     string `json:"version"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Catalog supplies the merged view of what is available remotely.
// Implemented by registry.Resolver.
type Catalog interface {
	ListAvailablePackages(ctx context.Context) map[string]source.Package
	RenamedPackages() map[string]string
}

// Disabler marks packages ignored around mutations. Implemented by
// disabler.Disabler.
type Disabler interface {
	Disable(names []string, reason string) []string
	Reenable(names []string, reason string)
}

// Fetcher downloads release archives and signing material.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config wires an Engine. Host, Catalog and Fetcher are required.
type Config struct {
	Host     hostenv.Host
	Catalog  Catalog
	Fetcher  Fetcher
	Disabler Disabler

	// BackupDir receives timestamped copies of package directories
	// before they are replaced or removed. Defaults to a "Backup"
	// sibling of the packages directory.
	BackupDir string
	// WorkDir holds per-transaction staging directories. Defaults to
	// the system temp directory.
	WorkDir string
	// BackupMaxAge bounds how long pruning keeps old backups.
	BackupMaxAge time.Duration
	// VCSWorkers bounds concurrent incoming-change probes.
	VCSWorkers int

	now func() time.Time
}

type Engine struct {
	host     hostenv.Host
	catalog  Catalog
	fetcher  Fetcher
	disabler Disabler

	backupDir    string
	workDir      string
	backupMaxAge time.Duration
	vcsWorkers   int
	now          func() time.Time
}

func New(cfg Config) (*Engine, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("engine requires a host")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("engine requires a fetcher")
	}
	e := &Engine{
		host:         cfg.Host,
		catalog:      cfg.Catalog,
		fetcher:      cfg.Fetcher,
		disabler:     cfg.Disabler,
		backupDir:    cfg.BackupDir,
		workDir:      cfg.WorkDir,
		backupMaxAge: cfg.BackupMaxAge,
		vcsWorkers:   cfg.VCSWorkers,
		now:          cfg.now,
	}
	if e.backupDir == "" {
		e.backupDir = filepath.Join(filepath.Dir(cfg.Host.PackagesDirectory()), "Backup")
	}
	if e.workDir == "" {
		e.workDir = os.TempDir()
	}
	if e.backupMaxAge <= 0 {
		e.backupMaxAge = 14 * 24 * time.Hour
	}
	if e.vcsWorkers <= 0 {
		e.vcsWorkers = 4
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

func (e *Engine) packageDir(name string) string {
	return filepath.Join(e.host.PackagesDirectory(), name)
}

// ReadRecord loads a package's install record, or nil if the package
// has none (unmanaged or not installed).
func (e *Engine) ReadRecord(name string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(e.packageDir(name), recordFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading record for %s: %w", name, err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing record for %s: %w", name, err)
	}
	return &r, nil
}

func (e *Engine) writeRecord(name string, r *Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(e.packageDir(name), recordFile), data, 0644)
}

// trackedPackages returns the declared package set from host settings.
func (e *Engine) trackedPackages() []string {
	v, ok := e.host.GetSetting(installedPackagesKey)
	if !ok {
		return nil
	}
	names, _ := slice.ConvertToStringSlice(v)
	return names
}

func (e *Engine) track(name string) error {
	names := e.trackedPackages()
	if slice.Contains(names, name) {
		return nil
	}
	names = append(names, name)
	sort.Strings(names)
	return e.setTracked(names)
}

func (e *Engine) untrack(name string) error {
	names := e.trackedPackages()
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return e.setTracked(out)
}

func (e *Engine) setTracked(names []string) error {
	return e.host.SetSetting(installedPackagesKey, slice.ConvertToInterfaceSlice(names))
}

// InstalledPackages lists the on-disk packages that carry an install
// record, sorted by name.
func (e *Engine) InstalledPackages() ([]string, error) {
	entries, err := os.ReadDir(e.host.PackagesDirectory())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing packages directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(e.host.PackagesDirectory(), entry.Name(), recordFile)); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
