package follower

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JobRunner executes the derived-artifact job for every task of one event.
type JobRunner struct {
	job    Job
	limit  int
	logger *zap.Logger
}

// NewJobRunner builds a runner. limit <= 0 runs every task in its own goroutine.
func NewJobRunner(job Job, limit int, logger *zap.Logger) *JobRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobRunner{job: job, limit: limit, logger: logger}
}

// RunAll runs all tasks concurrently, waits for every started task and
// returns the first failure. Remaining tasks see a cancelled context once one
// has failed.
func (r *JobRunner) RunAll(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 || r.job == nil {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for _, task := range tasks {
		g.Go(func() error {
			if err := r.job.Run(gctx, task); err != nil {
				r.logger.Warn("derived job failed",
					zap.String("package", task.Package),
					zap.String("version", task.Version),
					zap.Int64("sequence", task.Sequence),
					zap.Error(err),
				)
				return fmt.Errorf("%w: %s@%s: %w", ErrJob, task.Package, task.Version, err)
			}
			return nil
		})
	}
	return g.Wait()
}
