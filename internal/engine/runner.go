package engine

import (
	"context"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/packsmith/packsmith/internal/utils/logger"
)

// Run executes a batch of tasks and reports each outcome separately;
// one failed package never aborts the rest. Tasks for the same package
// name are serialized by running the batch on a single goroutine.
func (e *Engine) Run(ctx context.Context, tasks []Task, progress io.Writer) map[string]Result {
	bar := progressbar.NewOptions(len(tasks),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("Applying changes"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	results := make(map[string]Result, len(tasks))
	for _, task := range tasks {
		if _, done := results[task.Name]; done {
			_ = bar.Add(1)
			continue
		}
		results[task.Name] = e.Apply(ctx, task)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	ok, failed, deferred := 0, 0, 0
	for name, r := range results {
		switch r.Status {
		case StatusOK:
			ok++
		case StatusDeferred:
			deferred++
		case StatusFailed:
			failed++
			logger.Logger().Errorf("%s: %v", name, r.Err)
		}
	}
	logger.Logger().Infof("Done: %d succeeded, %d failed, %d deferred", ok, failed, deferred)
	return results
}
