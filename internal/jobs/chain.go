package jobs

import (
	"context"

	"github.com/JakeFAU/depfollow/internal/follower"
)

// Chain runs jobs in order for each task and stops at the first error.
// Nil entries are skipped.
func Chain(jobs ...follower.Job) follower.Job {
	var kept []follower.Job
	for _, j := range jobs {
		if j != nil {
			kept = append(kept, j)
		}
	}
	switch len(kept) {
	case 0:
		return Noop()
	case 1:
		return kept[0]
	}
	return follower.JobFunc(func(ctx context.Context, task follower.Task) error {
		for _, j := range kept {
			if err := j.Run(ctx, task); err != nil {
				return err
			}
		}
		return nil
	})
}

// Noop returns a job that always succeeds.
func Noop() follower.Job {
	return follower.JobFunc(func(context.Context, follower.Task) error { return nil })
}
