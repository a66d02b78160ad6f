// Package library keeps shared runtime dependencies satisfied across
// installed packages. Libraries are installed once into a
// variant-keyed root and tracked through wheel-style dist-info
// manifests; a library stays installed as long as any installed
// package still declares it.
package library

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/packsmith/packsmith/internal/archive"
	"github.com/packsmith/packsmith/internal/source"
	"github.com/packsmith/packsmith/internal/utils/logger"
)

const dependenciesFile = "dependencies.json"

// Library identifies one shared dependency. Name comparisons are
// case-insensitive; VariantKey pins the runtime variant the library
// was built for.
type Library struct {
	Name       string
	VariantKey string
}

// Key is the identity used for equality and ordering.
func (l Library) Key() string {
	return strings.ToLower(l.Name) + "@" + l.VariantKey
}

// Catalog supplies library packages by name, the same merged view the
// engine uses.
type Catalog interface {
	ListAvailablePackages(ctx context.Context) map[string]source.Package
}

// Fetcher downloads library archives.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Manager installs and garbage-collects libraries for one runtime
// variant.
type Manager struct {
	root        string // shared library root for this variant
	variant     string
	platform    string
	hostVersion string
	catalog     Catalog
	fetcher     Fetcher
	workDir     string
}

func NewManager(root, variant, platform, hostVersion string, catalog Catalog, fetcher Fetcher) *Manager {
	return &Manager{
		root:        filepath.Join(root, variant),
		variant:     variant,
		platform:    platform,
		hostVersion: hostVersion,
		catalog:     catalog,
		fetcher:     fetcher,
		workDir:     os.TempDir(),
	}
}

// FindRequired returns the union, across every package directory under
// packagesDir, of declared libraries whose platform selector matches
// this manager's platform. Names are normalized case-insensitively and
// sorted.
func (m *Manager) FindRequired(packagesDir string) ([]string, error) {
	entries, err := os.ReadDir(packagesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning packages directory: %w", err)
	}

	seen := map[string]string{} // lowercase -> declared casing
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(packagesDir, entry.Name(), dependenciesFile)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var declared map[string][]string // platform selector -> library names
		if err := json.Unmarshal(data, &declared); err != nil {
			logger.Logger().Warnf("Skipping malformed %s: %v", path, err)
			continue
		}
		for selector, names := range declared {
			if !selectorMatches(selector, m.platform) {
				continue
			}
			for _, name := range names {
				if _, ok := seen[strings.ToLower(name)]; !ok {
					seen[strings.ToLower(name)] = name
				}
			}
		}
	}

	required := make([]string, 0, len(seen))
	for _, name := range seen {
		required = append(required, name)
	}
	sort.Slice(required, func(i, j int) bool {
		return strings.ToLower(required[i]) < strings.ToLower(required[j])
	})
	return required, nil
}

// Installed lists the libraries present in the variant root, going by
// their dist-info manifests.
func (m *Manager) Installed() ([]Library, error) {
	entries, err := os.ReadDir(m.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var libs []Library
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), ".dist-info") {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), ".dist-info")
		if i := strings.LastIndex(base, "-"); i > 0 {
			base = base[:i]
		}
		libs = append(libs, Library{Name: base, VariantKey: m.variant})
	}
	sort.Slice(libs, func(i, j int) bool { return libs[i].Key() < libs[j].Key() })
	return libs, nil
}

// InstallLibraries installs any required library that is not already
// present. Failures are per-library.
func (m *Manager) InstallLibraries(ctx context.Context, required []string) map[string]error {
	results := map[string]error{}

	installed, err := m.Installed()
	if err != nil {
		for _, name := range required {
			results[name] = err
		}
		return results
	}
	have := map[string]bool{}
	for _, lib := range installed {
		have[strings.ToLower(lib.Name)] = true
	}

	var missing []string
	for _, name := range required {
		if !have[strings.ToLower(name)] {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return results
	}

	available := m.catalog.ListAvailablePackages(ctx)
	for _, name := range missing {
		if err := m.installOne(ctx, name, available); err != nil {
			results[name] = err
			logger.Logger().Warnf("Could not install library %s: %v", name, err)
		} else {
			logger.Logger().Infof("Installed library %s", name)
		}
	}
	return results
}

func (m *Manager) installOne(ctx context.Context, name string, available map[string]source.Package) error {
	pkg, ok := lookupCaseInsensitive(available, name)
	if !ok {
		return fmt.Errorf("library %s is not available", name)
	}
	release := source.SelectRelease(&pkg, m.platform, m.hostVersion)
	if release == nil {
		return fmt.Errorf("no compatible release of library %s", name)
	}

	data, err := m.fetcher.Fetch(ctx, release.URL)
	if err != nil {
		return fmt.Errorf("downloading library %s: %w", name, err)
	}

	staging := filepath.Join(m.workDir, "packsmith-lib-"+uuid.NewString())
	defer os.RemoveAll(staging)
	written, err := archive.Extract(archive.Kind(release.URL), data, staging)
	if err != nil {
		return fmt.Errorf("extracting library %s: %w", name, err)
	}

	if err := os.MkdirAll(m.root, 0755); err != nil {
		return err
	}
	var files []string
	for abs := range written {
		rel, err := filepath.Rel(staging, abs)
		if err != nil {
			return err
		}
		dest := filepath.Join(m.root, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := os.Rename(abs, dest); err != nil {
			return fmt.Errorf("placing %s: %w", rel, err)
		}
		files = append(files, rel)
	}
	sort.Strings(files)

	return writeDistInfo(m.root, pkg.Name, release.Version, pkg.Description, pkg.Homepage, files)
}

// Cleanup removes every installed library not in required, deleting
// the files its RECORD lists and then the manifest itself.
func (m *Manager) Cleanup(required []string) error {
	keep := map[string]bool{}
	for _, name := range required {
		keep[strings.ToLower(name)] = true
	}

	entries, err := os.ReadDir(m.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), ".dist-info") {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), ".dist-info")
		name := base
		if i := strings.LastIndex(base, "-"); i > 0 {
			name = base[:i]
		}
		if keep[strings.ToLower(name)] {
			continue
		}

		paths, err := readRecordPaths(m.root, entry.Name())
		if err != nil {
			logger.Logger().Warnf("Could not read manifest for %s: %v", name, err)
			continue
		}
		for _, rel := range paths {
			if err := os.Remove(filepath.Join(m.root, rel)); err != nil && !os.IsNotExist(err) {
				logger.Logger().Warnf("Could not remove %s: %v", rel, err)
			}
		}
		if err := os.RemoveAll(filepath.Join(m.root, entry.Name())); err != nil {
			logger.Logger().Warnf("Could not remove manifest for %s: %v", name, err)
		}
		removeEmptyDirs(m.root)
		logger.Logger().Infof("Removed orphaned library %s", name)
	}
	return nil
}

// removeEmptyDirs prunes directories left empty after a cleanup pass.
func removeEmptyDirs(root string) {
	var dirs []string
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	// Deepest first so parents empty out as children go.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			os.Remove(dir)
		}
	}
}

func lookupCaseInsensitive(pkgs map[string]source.Package, name string) (source.Package, bool) {
	if pkg, ok := pkgs[name]; ok {
		return pkg, true
	}
	for k, pkg := range pkgs {
		if strings.EqualFold(k, name) {
			return pkg, true
		}
	}
	return source.Package{}, false
}

// selectorMatches applies the platform selector grammar used by
// release metadata: "*", exact "os-arch", or a bare "os".
func selectorMatches(selector, platform string) bool {
	if selector == "*" || selector == platform {
		return true
	}
	if i := strings.Index(platform, "-"); i > 0 {
		return selector == platform[:i]
	}
	return false
}
