package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/packsmith/packsmith/internal/source"
	"github.com/packsmith/packsmith/internal/utils/general/slice"
	"github.com/packsmith/packsmith/internal/utils/logger"
	"github.com/packsmith/packsmith/internal/vcs"
)

// PlanInstall builds tasks for explicitly requested package names.
// Unknown names fail the plan; a requested package that is already
// installed classifies as a reinstall or upgrade instead of an error.
func (e *Engine) PlanInstall(ctx context.Context, names []string) ([]Task, error) {
	available := e.catalog.ListAvailablePackages(ctx)
	renames := e.renameMap()

	var tasks []Task
	for _, name := range names {
		if to, ok := renames[name]; ok {
			name = to
		}
		pkg, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("package %s is not available for this platform", name)
		}
		task, err := e.taskFor(name, "", &pkg)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	e.resolveVCSTasks(ctx, tasks)
	return tasks, nil
}

// PlanRemove builds remove tasks for installed packages.
func (e *Engine) PlanRemove(names []string) ([]Task, error) {
	var tasks []Task
	for _, name := range names {
		record, err := e.ReadRecord(name)
		if err != nil {
			return nil, err
		}
		if record == nil && !e.isTracked(name) {
			return nil, fmt.Errorf("package %s is not installed", name)
		}
		tasks = append(tasks, Task{Action: ActionRemove, Name: name})
	}
	return tasks, nil
}

// PlanUpgrades classifies every installed package against the merged
// catalog. VCS working copies are probed for incoming changes on a
// bounded worker pool.
func (e *Engine) PlanUpgrades(ctx context.Context) ([]Task, error) {
	available := e.catalog.ListAvailablePackages(ctx)
	renames := e.renameMap()

	installed, err := e.InstalledPackages()
	if err != nil {
		return nil, err
	}

	var tasks []Task
	for _, name := range installed {
		targetName := name
		oldName := ""
		if to, ok := renames[name]; ok && to != name {
			targetName, oldName = to, name
		}
		pkg, ok := available[targetName]
		if !ok {
			// Nothing upstream knows about this package; leave it be.
			continue
		}
		task, err := e.taskFor(name, oldName, &pkg)
		if err != nil {
			logger.Logger().Warnf("Skipping %s: %v", name, err)
			continue
		}
		task.Name = targetName
		tasks = append(tasks, task)
	}
	e.resolveVCSTasks(ctx, tasks)
	return tasks, nil
}

// taskFor classifies one package without probing its VCS state; the
// caller resolves VCS tasks afterwards through the probe pool. dirName
// is the on-disk directory (the old name for a pending rename);
// oldName is non-empty when a rename migration applies.
func (e *Engine) taskFor(dirName, oldName string, pkg *source.Package) (Task, error) {
	release := source.SelectRelease(pkg, e.host.PlatformSelector(), e.host.ActiveHostVersion())
	if release == nil {
		return Task{}, fmt.Errorf("no compatible release")
	}

	record, err := e.ReadRecord(dirName)
	if err != nil {
		return Task{}, err
	}

	task := Task{
		Name:    dirName,
		OldName: oldName,
		Package: pkg,
		Release: release,
	}
	if record != nil {
		task.InstalledVersion = record.Version
	}

	state := State{
		HasRecord:        record != nil,
		AvailableVersion: release.Version,
	}
	if record != nil {
		state.InstalledVersion = record.Version
		if up := vcs.ForDir(e.packageDir(dirName)); up != nil {
			task.Upgrader = up
			state.UnderVCS = true
		}
	}
	task.Action = Classify(state)
	return task, nil
}

// resolveVCSTasks fills in incoming-change state for working-copy
// tasks and reclassifies them as PULL or NONE.
func (e *Engine) resolveVCSTasks(ctx context.Context, tasks []Task) {
	e.probeIncoming(ctx, tasks)
	for i := range tasks {
		if tasks[i].Upgrader == nil {
			continue
		}
		tasks[i].Action = Classify(State{HasRecord: true, UnderVCS: true, Incoming: tasks[i].incoming})
	}
}

type probeJob struct {
	index int
}

// probeIncoming runs incoming-change probes for VCS tasks on a bounded
// pool. Probe failures log a warning and leave the task as NONE.
func (e *Engine) probeIncoming(ctx context.Context, tasks []Task) {
	jobs := make(chan probeJob)
	var wg sync.WaitGroup

	for w := 0; w < e.vcsWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				t := &tasks[job.index]
				dir := e.packageDir(t.Name)
				if t.OldName != "" {
					dir = e.packageDir(t.OldName)
				}
				incoming, err := t.Upgrader.Incoming(ctx, dir)
				if err != nil {
					logger.Logger().Warnf("Probe failed for %s: %v", t.Name, err)
					continue
				}
				t.incoming = incoming
			}
		}()
	}
	for i := range tasks {
		if tasks[i].Upgrader != nil {
			jobs <- probeJob{index: i}
		}
	}
	close(jobs)
	wg.Wait()
}

func (e *Engine) renameMap() map[string]string {
	if e.catalog == nil {
		return nil
	}
	return e.catalog.RenamedPackages()
}

func (e *Engine) isTracked(name string) bool {
	return slice.Contains(e.trackedPackages(), name)
}
