package follower

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/progress"
)

var tracer = otel.Tracer("github.com/JakeFAU/depfollow/internal/follower")

// Config controls Follower behavior.
type Config struct {
	// FromSequence seeds the checkpoint when the store holds none. Zero
	// means "from the beginning of the feed".
	FromSequence int64
	// JobConcurrency bounds derived jobs per event; zero is unbounded.
	JobConcurrency int
	// RunID tags progress events; a random ID is used when zero.
	RunID uuid.UUID
}

// Follower is the admission gate between the change feed and the processor.
// Exactly one event is in flight at a time: the next event is only pulled
// after the previous one was processed and checkpointed.
type Follower struct {
	source     ChangeSource
	store      Store
	normalizer Normalizer
	job        Job
	emitter    progress.Emitter
	clock      Clock
	cfg        Config
	logger     *zap.Logger
}

// New validates cfg and constructs a Follower. No I/O happens here.
func New(
	cfg Config,
	source ChangeSource,
	store Store,
	normalizer Normalizer,
	job Job,
	emitter progress.Emitter,
	clock Clock,
	logger *zap.Logger,
) (*Follower, error) {
	if _, err := checkSigned(cfg.FromSequence); err != nil {
		return nil, err
	}
	if cfg.JobConcurrency < 0 {
		return nil, fmt.Errorf("job concurrency must be >= 0, got %d", cfg.JobConcurrency)
	}
	if source == nil {
		return nil, errors.New("change source is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if normalizer == nil {
		return nil, errors.New("normalizer is required")
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{
		source:     source,
		store:      store,
		normalizer: normalizer,
		job:        job,
		emitter:    emitter,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Run resumes from the checkpoint and processes events until ctx is
// cancelled, the feed ends, or an event fails. Cancelling ctx stops further
// pulls and releases the stream; an event already being processed runs to
// completion. A processing or transport error halts the loop and is returned.
func (f *Follower) Run(ctx context.Context) error {
	tracker := NewSequenceTracker(f.store, f.cfg.FromSequence, f.logger)
	since, err := tracker.Read(ctx)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	stream, err := f.source.Open(ctx, since)
	if err != nil {
		return fmt.Errorf("%w: open feed since %d: %w", ErrTransport, since, err)
	}
	release := context.AfterFunc(ctx, func() {
		if cerr := stream.Close(); cerr != nil {
			f.logger.Debug("close change stream on stop", zap.Error(cerr))
		}
	})
	defer func() {
		release()
		if cerr := stream.Close(); cerr != nil {
			f.logger.Debug("close change stream", zap.Error(cerr))
		}
	}()

	processor := NewProcessor(
		f.store,
		f.normalizer,
		NewJobRunner(f.job, f.cfg.JobConcurrency, f.logger),
		tracker,
		f.clock,
		f.logger,
	)

	f.logger.Info("follower started", zap.Int64("since", since))
	f.emit(progress.Event{Stage: progress.StageFollowStart, Sequence: since})

	err = f.loop(ctx, stream, processor)

	note := ""
	if err != nil {
		note = err.Error()
	}
	f.emit(progress.Event{Stage: progress.StageFollowStop, Sequence: tracker.Current(), Note: note})
	f.logger.Info("follower stopped", zap.Int64("checkpoint", tracker.Current()), zap.Error(err))
	return err
}

func (f *Follower) loop(ctx context.Context, stream ChangeStream, processor *Processor) error {
	// In-flight work must not be aborted by a stop request.
	work := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		evt, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}

		res, err := f.process(work, processor, evt)
		if err != nil {
			f.logger.Error("change processing failed; halting",
				zap.Int64("sequence", evt.Sequence),
				zap.Error(err),
			)
			f.emit(progress.Event{Stage: progress.StageChangeFailed, Sequence: evt.Sequence, Note: err.Error()})
			return err
		}
		f.emitResult(res)
	}
}

func (f *Follower) process(ctx context.Context, processor *Processor, evt ChangeEvent) (Result, error) {
	ctx, span := tracer.Start(ctx, "follower.process",
		trace.WithAttributes(attribute.Int64("registry.sequence", evt.Sequence)),
	)
	defer span.End()

	res, err := processor.Process(ctx, evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "change processing failed")
		return res, err
	}
	span.SetAttributes(
		attribute.String("registry.package", res.Package),
		attribute.Int("registry.versions", res.Versions),
	)
	return res, nil
}

func (f *Follower) emitResult(res Result) {
	evt := progress.Event{
		Sequence: res.Sequence,
		Package:  res.Package,
		Versions: res.Versions,
		Dur:      res.Duration,
	}
	switch res.Outcome {
	case OutcomeProcessed:
		evt.Stage = progress.StageChangeProcessed
	default:
		evt.Stage = progress.StageChangeSkipped
	}
	f.emit(evt)
}

func (f *Follower) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(f.cfg.RunID)
	evt.TS = f.clock.Now().UTC()
	f.emitter.Emit(evt)
}

// Start runs the follower on its own goroutine.
func (f *Follower) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		h.err = f.Run(ctx)
	}()
	return h
}

// Handle controls a follower started with Start.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Stop requests a cooperative stop. It does not wait; use Wait for that.
func (h *Handle) Stop() {
	h.cancel()
}

// Done is closed once the control loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Running reports whether the control loop is still active.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the loop exits and returns its error, if any.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
