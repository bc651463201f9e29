// Package app assembles the transcription core from configuration.
// Both the HTTP server and the CLI start through New.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/dontdude/goscribe/internal/config"
	"github.com/dontdude/goscribe/internal/domain"
	"github.com/dontdude/goscribe/internal/platform/docker"
	"github.com/dontdude/goscribe/internal/platform/events"
	"github.com/dontdude/goscribe/internal/platform/ffmpeg"
	"github.com/dontdude/goscribe/internal/platform/whisper"
	"github.com/dontdude/goscribe/internal/spool"
	"github.com/dontdude/goscribe/internal/worker"
)

// App owns every long lived resource of the process.
type App struct {
	Spool      *spool.Spool
	Pool       *worker.Pool
	Bus        domain.EventBus
	Dispatcher *worker.Dispatcher

	// closers are released in reverse order by Close.
	closers []io.Closer
}

// New runs the startup checks and builds the core. Any failure wraps domain.ErrStartup
// and leaves nothing open.
func New(ctx context.Context, cfg config.Config) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// 1. Temp dir for uploads and normalized audio
	a.Spool, err = spool.New(cfg.TmpDir)
	if err != nil {
		return nil, err
	}

	// 2. Engine states, created once for the lifetime of the process
	engine, err := whisper.New(whisper.Options{
		Binary:     cfg.WhisperPath,
		ModelPath:  cfg.ModelPath,
		Language:   cfg.Language,
		Translate:  cfg.Translate,
		Threads:    cfg.Threads,
		ScratchDir: filepath.Join(cfg.TmpDir, "states"),
	})
	if err != nil {
		return nil, err
	}
	states, err := engine.States(cfg.States)
	if err != nil {
		return nil, err
	}
	a.Pool, err = worker.NewPool(states...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Pool)

	// 3. Converter
	converter, err := newConverter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := converter.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	// 4. Progress events
	a.Bus, err = newBus(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Bus)

	a.Dispatcher = worker.NewDispatcher(worker.NewRunner(converter, a.Pool, a.Bus))
	slog.Info("Transcription core ready",
		"states", a.Pool.Size(), "converter", cfg.Converter, "redis", cfg.RedisAddr != "")
	return a, nil
}

func newConverter(ctx context.Context, cfg config.Config) (domain.Converter, error) {
	switch cfg.Converter {
	case config.ConverterExec:
		return ffmpeg.New(ctx, cfg.FFmpegPath)
	case config.ConverterDocker:
		return docker.NewConverter(ctx, cfg.FFmpegImage, cfg.TmpDir)
	default:
		return nil, fmt.Errorf("unknown converter %q: %w", cfg.Converter, domain.ErrStartup)
	}
}

func newBus(ctx context.Context, cfg config.Config) (domain.EventBus, error) {
	if cfg.RedisAddr == "" {
		return events.NewMemoryBus(), nil
	}
	return events.NewRedisBus(ctx, cfg.RedisAddr, cfg.EventsChannel)
}

// Close releases the bus, the converter and the engine states.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
