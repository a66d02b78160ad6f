// Package hostenv is the seam between the engine and the host
// application it manages packages for. The core only ever talks to the
// Host interface; the filesystem-backed implementation here serves the
// CLI and tests, while an embedding host supplies its own.
package hostenv

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/packsmith/packsmith/internal/utils/logger"
)

// Host exposes the primitives the core uses to interact with its
// environment. Settings values are JSON-compatible.
type Host interface {
	GetSetting(key string) (any, bool)
	SetSetting(key string, value any) error

	// Schedule enqueues fn to run on the host's own thread after delay.
	// Enqueue order is preserved; execution time is otherwise
	// unspecified.
	Schedule(fn func(), delay time.Duration)

	PackagesDirectory() string
	ShowMessage(msg string)
	ActiveHostVersion() string
	PlatformSelector() string
}

// Scheduler is a single-consumer task queue drained on its own
// goroutine. The core only enqueues; it never assumes when tasks run,
// only that enqueue order is preserved.
type Scheduler struct {
	tasks chan scheduledTask
	done  chan struct{}
	once  sync.Once
}

type scheduledTask struct {
	fn    func()
	delay time.Duration
}

func NewScheduler() *Scheduler {
	s := &Scheduler{
		tasks: make(chan scheduledTask, 128),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *Scheduler) drain() {
	for task := range s.tasks {
		if task.delay > 0 {
			time.Sleep(task.delay)
		}
		task.fn()
	}
	close(s.done)
}

// Enqueue adds fn to the queue. Enqueueing after Close panics, like
// sending on a closed channel would; Close is expected only at process
// shutdown.
func (s *Scheduler) Enqueue(fn func(), delay time.Duration) {
	s.tasks <- scheduledTask{fn: fn, delay: delay}
}

// Close stops the consumer after the queued tasks finish and waits for
// the drain to complete.
func (s *Scheduler) Close() {
	s.once.Do(func() { close(s.tasks) })
	<-s.done
}

// FSHost is a filesystem-backed Host: settings live in a JSON file,
// messages go to the log. Used by the CLI and by tests.
type FSHost struct {
	packagesDir  string
	settingsPath string
	hostVersion  string
	platform     string
	scheduler    *Scheduler

	mu       sync.Mutex
	settings map[string]any
}

// NewFSHost loads (or initializes) settings from settingsPath.
func NewFSHost(packagesDir, settingsPath, hostVersion string) (*FSHost, error) {
	h := &FSHost{
		packagesDir:  packagesDir,
		settingsPath: settingsPath,
		hostVersion:  hostVersion,
		platform:     defaultPlatformSelector(),
		scheduler:    NewScheduler(),
		settings:     map[string]any{},
	}

	data, err := os.ReadFile(settingsPath)
	if err == nil {
		if err := json.Unmarshal(data, &h.settings); err != nil {
			return nil, fmt.Errorf("parsing settings file %s: %w", settingsPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	return h, nil
}

func (h *FSHost) GetSetting(key string) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.settings[key]
	return v, ok
}

func (h *FSHost) SetSetting(key string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings[key] = value
	return h.persistLocked()
}

func (h *FSHost) persistLocked() error {
	data, err := json.MarshalIndent(h.settings, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(h.settingsPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(h.settingsPath, data, 0644)
}

func (h *FSHost) Schedule(fn func(), delay time.Duration) {
	h.scheduler.Enqueue(fn, delay)
}

func (h *FSHost) PackagesDirectory() string { return h.packagesDir }

func (h *FSHost) ShowMessage(msg string) {
	logger.Logger().Info(msg)
}

func (h *FSHost) ActiveHostVersion() string { return h.hostVersion }

func (h *FSHost) PlatformSelector() string { return h.platform }

// Close flushes the scheduler queue.
func (h *FSHost) Close() { h.scheduler.Close() }

func defaultPlatformSelector() string {
	osName := runtime.GOOS
	if osName == "darwin" {
		osName = "osx"
	}
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x64"
	case "386":
		arch = "x32"
	}
	return osName + "-" + arch
}
