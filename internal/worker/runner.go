package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dontdude/goscribe/internal/audio"
	"github.com/dontdude/goscribe/internal/domain"
	"github.com/dontdude/goscribe/internal/log"
)

// Runner takes a single job from the uploaded file to its transcript.
// It holds no per-batch state and may be shared by any number of goroutines.
type Runner struct {
	converter domain.Converter
	pool      *Pool
	// bus is optional, nil disables progress events.
	bus domain.EventBus
}

// NewRunner returns a runner converting with converter and transcribing on pool.
func NewRunner(converter domain.Converter, pool *Pool, bus domain.EventBus) *Runner {
	return &Runner{
		converter: converter,
		pool:      pool,
		bus:       bus,
	}
}

// Run executes the job: convert, acquire a slot, validate the audio, invoke the engine.
// Every failure is returned as data in the Outcome.
// The uploaded and normalized files are left on disk for the caller to remove.
func (r *Runner) Run(ctx context.Context, job domain.Job) domain.Outcome {
	ctx = log.ContextAttrs(ctx, slog.String("file", job.Name))
	start := time.Now()

	// 1. Normalize; a conversion failure never touches the pool
	r.publish(ctx, job, domain.StageConverting, nil)
	normalized, err := r.converter.Convert(ctx, job.Path)
	if err != nil {
		return r.fail(ctx, job, classify(err, domain.ErrConversion))
	}

	// 2. Pick the engine state
	slot := r.pool.Acquire()
	ctx = log.ContextAttrs(ctx, slog.Int("slot", slot.Index()))

	// 3. Enforce the engine sample format before invoking it
	clip, err := audio.Load(normalized)
	if err != nil {
		return r.fail(ctx, job, err)
	}
	clip, err = audio.Prepare(clip)
	if err != nil {
		return r.fail(ctx, job, err)
	}

	// 4. Transcribe with exclusive use of the slot
	r.publish(ctx, job, domain.StageTranscribing, nil)
	text, err := slot.Transcribe(ctx, clip.Samples)
	if err != nil {
		return r.fail(ctx, job, classify(err, domain.ErrEngine))
	}

	slog.InfoContext(ctx, "Job completed", "duration", time.Since(start).Milliseconds())
	r.publish(ctx, job, domain.StageDone, nil)
	return domain.Outcome{Name: job.Name, Text: text}
}

func (r *Runner) fail(ctx context.Context, job domain.Job, err error) domain.Outcome {
	slog.WarnContext(ctx, "Job failed", "kind", domain.Kind(err), "error", err)
	r.publish(ctx, job, domain.StageFailed, err)
	return domain.Outcome{Name: job.Name, Err: err}
}

// classify makes sure err carries the sentinel of the step that produced it.
func classify(err, kind error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// publish never affects the outcome of a job; bus errors are only logged.
func (r *Runner) publish(ctx context.Context, job domain.Job, stage domain.Stage, jobErr error) {
	if r.bus == nil || job.BatchID == "" {
		return
	}
	ev := domain.Event{
		BatchID: job.BatchID,
		File:    job.Name,
		Stage:   stage,
		Time:    time.Now().UTC(),
	}
	if jobErr != nil {
		ev.Error = jobErr.Error()
	}
	if err := r.bus.Publish(ctx, ev); err != nil {
		slog.WarnContext(ctx, "Failed to publish progress", "stage", stage, "error", err)
	}
}
