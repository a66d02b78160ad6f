// Package vcs upgrades packages that live as working copies instead of
// managed archives. A package directory containing VCS metadata is
// never overwritten by the engine; it is pulled through the upgrader
// that claims it.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/packsmith/packsmith/internal/utils/logger"
)

// Upgrader handles one version control system.
type Upgrader interface {
	Name() string
	// Managed reports whether dir is a working copy of this VCS.
	Managed(dir string) bool
	// Incoming reports whether the upstream has commits the working
	// copy lacks.
	Incoming(ctx context.Context, dir string) (bool, error)
	// Pull brings the working copy up to date.
	Pull(ctx context.Context, dir string) error
}

// Upgraders returns the supported upgraders in probe order.
func Upgraders() []Upgrader {
	return []Upgrader{&GitUpgrader{}, &HgUpgrader{}}
}

// ForDir returns the upgrader managing dir, or nil if the directory is
// not a working copy.
func ForDir(dir string) Upgrader {
	for _, u := range Upgraders() {
		if u.Managed(dir) {
			return u
		}
	}
	return nil
}

func run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%s binary not found: %w", name, err)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	logger.Logger().Debugf("Exec: [%s %s] in %s", name, strings.Join(args, " "), dir)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(errOut.String()))
	}
	return out.Bytes(), nil
}

// GitUpgrader updates git working copies.
type GitUpgrader struct{}

func (g *GitUpgrader) Name() string { return "git" }

func (g *GitUpgrader) Managed(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	// .git may be a gitdir pointer file in worktrees
	return err == nil && (info.IsDir() || info.Mode().IsRegular())
}

func (g *GitUpgrader) Incoming(ctx context.Context, dir string) (bool, error) {
	if _, err := run(ctx, dir, "git", "fetch", "--quiet"); err != nil {
		return false, err
	}
	out, err := run(ctx, dir, "git", "log", "--oneline", "..FETCH_HEAD")
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(out)) > 0, nil
}

func (g *GitUpgrader) Pull(ctx context.Context, dir string) error {
	_, err := run(ctx, dir, "git", "pull", "--ff-only", "--quiet")
	return err
}

// HgUpgrader updates mercurial working copies.
type HgUpgrader struct{}

func (h *HgUpgrader) Name() string { return "hg" }

func (h *HgUpgrader) Managed(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".hg"))
	return err == nil && info.IsDir()
}

func (h *HgUpgrader) Incoming(ctx context.Context, dir string) (bool, error) {
	out, err := run(ctx, dir, "hg", "incoming", "--quiet")
	if err != nil {
		// hg exits 1 when there is nothing incoming
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, err
	}
	return len(bytes.TrimSpace(out)) > 0, nil
}

func (h *HgUpgrader) Pull(ctx context.Context, dir string) error {
	if _, err := run(ctx, dir, "hg", "pull"); err != nil {
		return err
	}
	_, err := run(ctx, dir, "hg", "update")
	return err
}
