package follower

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Processor turns one change event into persisted dependency records plus a
// fan-out of derived jobs, and advances the checkpoint once both succeed.
type Processor struct {
	store      Store
	normalizer Normalizer
	runner     *JobRunner
	tracker    *SequenceTracker
	clock      Clock
	logger     *zap.Logger
}

// NewProcessor wires a Processor.
func NewProcessor(
	store Store,
	normalizer Normalizer,
	runner *JobRunner,
	tracker *SequenceTracker,
	clock Clock,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = wallClock{}
	}
	return &Processor{
		store:      store,
		normalizer: normalizer,
		runner:     runner,
		tracker:    tracker,
		clock:      clock,
		logger:     logger,
	}
}

// Process handles one event. On error the checkpoint is left untouched so the
// same event is fetched again after a restart.
func (p *Processor) Process(ctx context.Context, evt ChangeEvent) (Result, error) {
	start := p.clock.Now()
	if !evt.Document.IsPublish() {
		if err := p.tracker.Advance(ctx, evt.Sequence); err != nil {
			return Result{}, err
		}
		p.logger.Debug("skipped non-publish change", zap.Int64("sequence", evt.Sequence))
		return Result{
			Sequence: evt.Sequence,
			Outcome:  OutcomeSkipped,
			Duration: p.clock.Now().Sub(start),
		}, nil
	}

	pkg := p.normalizer.Normalize(evt.Document)
	ops, tasks, err := buildWork(pkg, evt.Sequence)
	if err != nil {
		return Result{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(ops) == 0 {
			return nil
		}
		if err := p.store.Batch(gctx, ops); err != nil {
			return fmt.Errorf("%w: write dependencies for %s: %w", ErrStore, pkg.Name, err)
		}
		return nil
	})
	g.Go(func() error {
		return p.runner.RunAll(gctx, tasks)
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("process sequence %d: %w", evt.Sequence, err)
	}

	if err := p.tracker.Advance(ctx, evt.Sequence); err != nil {
		return Result{}, err
	}
	p.logger.Debug("processed publish change",
		zap.Int64("sequence", evt.Sequence),
		zap.String("package", pkg.Name),
		zap.Int("versions", len(ops)),
	)
	return Result{
		Sequence: evt.Sequence,
		Outcome:  OutcomeProcessed,
		Package:  pkg.Name,
		Versions: len(ops),
		Duration: p.clock.Now().Sub(start),
	}, nil
}

// buildWork derives the batch and job tasks for a normalized package. Versions
// are visited in sorted order so replays produce identical batches.
func buildWork(pkg Package, seq int64) ([]BatchOp, []Task, error) {
	versions := make([]string, 0, len(pkg.Versions))
	for v := range pkg.Versions {
		versions = append(versions, v)
	}
	sort.Strings(versions)

	ops := make([]BatchOp, 0, len(versions))
	tasks := make([]Task, 0, len(versions))
	for _, v := range versions {
		deps := pkg.Versions[v].Dependencies
		value, err := EncodeDependencies(deps)
		if err != nil {
			return nil, nil, fmt.Errorf("encode dependencies for %s@%s: %w", pkg.Name, v, err)
		}
		ops = append(ops, BatchOp{
			Type:  OpPut,
			Key:   DependencyKey(pkg.Name, v),
			Value: value,
		})
		tasks = append(tasks, Task{
			Package:      pkg.Name,
			Version:      v,
			Sequence:     seq,
			Dependencies: deps,
		})
	}
	return ops, tasks, nil
}
