package engine

import (
	"github.com/packsmith/packsmith/internal/source"
	"github.com/packsmith/packsmith/internal/vcs"
	"github.com/packsmith/packsmith/internal/version"
)

// Action is what the engine should do for one package.
type Action string

const (
	ActionInstall   Action = "install"
	ActionUpgrade   Action = "upgrade"
	ActionDowngrade Action = "downgrade"
	ActionReinstall Action = "reinstall"
	ActionOverwrite Action = "overwrite"
	ActionPull      Action = "pull"
	ActionRemove    Action = "remove"
	ActionNone      Action = "none"
)

// State is everything classification looks at for one package.
type State struct {
	HasRecord        bool
	InstalledVersion string
	UnderVCS         bool
	Incoming         bool
	AvailableVersion string
}

// Classify maps a package's state to the action to take. It is a pure
// function of its argument so the decision table can be tested without
// touching the filesystem or network.
func Classify(s State) Action {
	if !s.HasRecord {
		return ActionInstall
	}
	if s.UnderVCS {
		if s.Incoming {
			return ActionPull
		}
		return ActionNone
	}
	if s.InstalledVersion == "" {
		return ActionOverwrite
	}
	switch version.Compare(s.AvailableVersion, s.InstalledVersion) {
	case 1:
		return ActionUpgrade
	case -1:
		return ActionDowngrade
	default:
		return ActionReinstall
	}
}

// Task is one unit of work for the runner. Built fresh each planning
// pass, never persisted.
type Task struct {
	Action  Action
	Name    string
	OldName string // set when the package was renamed upstream

	InstalledVersion string
	Package          *source.Package
	Release          *source.Release
	Upgrader         vcs.Upgrader

	incoming bool
}
