// Package disabler marks packages ignored while the engine mutates
// their files. Mutating an active package can corrupt host state, so
// every transaction disables first and reenables after.
package disabler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/packsmith/packsmith/internal/hostenv"
	"github.com/packsmith/packsmith/internal/utils/general/slice"
	"github.com/packsmith/packsmith/internal/utils/logger"
)

const ignoredPackagesKey = "ignored_packages"

// Safe fallbacks for host settings that may reference assets inside a
// package being disabled.
var defaultAssetSettings = map[string]string{
	"color_scheme": "Packages/Default/Default.color-scheme",
	"theme":        "Packages/Default/Default.theme",
}

type Option func(*Disabler)

// WithSettleDelay overrides how long reenabling waits before restoring
// swapped asset references.
func WithSettleDelay(d time.Duration) Option {
	return func(dis *Disabler) { dis.settle = d }
}

// WithAssetSettings replaces the watched setting keys and their safe
// defaults.
func WithAssetSettings(settings map[string]string) Option {
	return func(dis *Disabler) { dis.assetSettings = settings }
}

type Disabler struct {
	host          hostenv.Host
	settle        time.Duration
	assetSettings map[string]string

	mu      sync.Mutex
	swapped map[string]map[string]any // package -> setting key -> prior value
	events  map[string]string         // package -> reason of the open audit event
}

func New(host hostenv.Host, opts ...Option) *Disabler {
	d := &Disabler{
		host:          host,
		settle:        700 * time.Millisecond,
		assetSettings: defaultAssetSettings,
		swapped:       map[string]map[string]any{},
		events:        map[string]string{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Disable marks each package ignored and returns the subset this call
// actually changed. Already-ignored packages are skipped so a later
// Reenable with the returned subset only restores what this call did.
func (d *Disabler) Disable(names []string, reason string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ignored := d.ignoredLocked()
	var changed []string
	for _, name := range names {
		if ignored[name] {
			continue
		}
		ignored[name] = true
		changed = append(changed, name)
		d.events[name] = reason
		d.swapAssetsLocked(name)
		logger.Logger().Debugf("Disabled %s (%s)", name, reason)
	}
	if len(changed) > 0 {
		d.writeIgnoredLocked(ignored)
	}
	return changed
}

// Reenable clears ignored-state for the named packages and restores
// any swapped asset references after a settle delay, then closes the
// audit event.
func (d *Disabler) Reenable(names []string, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ignored := d.ignoredLocked()
	changed := false
	for _, name := range names {
		if !ignored[name] {
			continue
		}
		delete(ignored, name)
		changed = true

		if priors, ok := d.swapped[name]; ok {
			delete(d.swapped, name)
			d.host.Schedule(func() {
				for key, value := range priors {
					if err := d.host.SetSetting(key, value); err != nil {
						logger.Logger().Warnf("Could not restore %s after reenabling %s: %v", key, name, err)
					}
				}
			}, d.settle)
		}

		opened := d.events[name]
		delete(d.events, name)
		logger.Logger().Debugf("Reenabled %s (%s, disabled for %s)", name, reason, opened)
	}
	if changed {
		d.writeIgnoredLocked(ignored)
	}
}

// IsDisabled reports whether a package is currently ignored.
func (d *Disabler) IsDisabled(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ignoredLocked()[name]
}

// swapAssetsLocked points any watched setting that references an asset
// inside the package at its safe default, remembering the prior value.
func (d *Disabler) swapAssetsLocked(name string) {
	prefix := fmt.Sprintf("Packages/%s/", name)
	for key, fallback := range d.assetSettings {
		value, ok := d.host.GetSetting(key)
		if !ok {
			continue
		}
		s, ok := value.(string)
		if !ok || !strings.HasPrefix(s, prefix) {
			continue
		}
		if d.swapped[name] == nil {
			d.swapped[name] = map[string]any{}
		}
		d.swapped[name][key] = value
		if err := d.host.SetSetting(key, fallback); err != nil {
			logger.Logger().Warnf("Could not swap %s while disabling %s: %v", key, name, err)
		}
	}
}

func (d *Disabler) ignoredLocked() map[string]bool {
	ignored := map[string]bool{}
	v, ok := d.host.GetSetting(ignoredPackagesKey)
	if !ok {
		return ignored
	}
	names, _ := slice.ConvertToStringSlice(v)
	for _, name := range names {
		ignored[name] = true
	}
	return ignored
}

func (d *Disabler) writeIgnoredLocked(ignored map[string]bool) {
	names := make([]string, 0, len(ignored))
	for name := range ignored {
		names = append(names, name)
	}
	sort.Strings(names)
	if err := d.host.SetSetting(ignoredPackagesKey, slice.ConvertToInterfaceSlice(names)); err != nil {
		logger.Logger().Warnf("Could not persist ignored packages: %v", err)
	}
}
