// Package whisper provides engine states backed by the whisper.cpp command line tool.
//
// The model is verified once at startup; every state owns a scratch directory
// where the validated samples are written before each invocation.
package whisper

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dontdude/goscribe/internal/audio"
	"github.com/dontdude/goscribe/internal/domain"
)

const maxMessage = 512

// Options configures the engine.
type Options struct {
	// Binary is the whisper-cli executable, looked up in PATH when not absolute.
	Binary    string
	ModelPath string
	Language  string
	Translate bool
	// Threads per invocation, 0 keeps the engine default.
	Threads int
	// ScratchDir holds one subdirectory per state.
	ScratchDir string
}

// Engine creates states sharing one model.
type Engine struct {
	opts Options
}

// New verifies that the binary and the model exist. Either one missing is a startup failure.
func New(opts Options) (*Engine, error) {
	bin, err := exec.LookPath(opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("whisper binary %s not found: %w: %w", opts.Binary, err, domain.ErrStartup)
	}
	opts.Binary = bin

	info, err := os.Stat(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("model path %s does not exist: %w: %w", opts.ModelPath, err, domain.ErrStartup)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("model path %s is not a file: %w", opts.ModelPath, domain.ErrStartup)
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	return &Engine{opts: opts}, nil
}

// States creates n states. On error the states created so far are closed.
func (e *Engine) States(n int) ([]domain.State, error) {
	states := make([]domain.State, 0, n)
	for i := range n {
		st, err := e.NewState(i)
		if err != nil {
			for _, s := range states {
				_ = s.Close()
			}
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}

// NewState prepares the scratch directory of state index.
func (e *Engine) NewState(index int) (*State, error) {
	dir := filepath.Join(e.opts.ScratchDir, strconv.Itoa(index))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w: %w", dir, err, domain.ErrStartup)
	}
	slog.Debug("Engine state created", "slot", index, "dir", dir)
	return &State{
		opts:  e.opts,
		dir:   dir,
		input: filepath.Join(dir, "input.wav"),
	}, nil
}

// State is one execution context. It reuses a single scratch file and is not safe for concurrent use.
type State struct {
	opts  Options
	dir   string
	input string
}

var _ domain.State = (*State)(nil)

// Args returns the command line for transcribing file.
func (s *State) Args(file string) []string {
	args := []string{
		"-m", s.opts.ModelPath,
		"-f", file,
		"-l", s.opts.Language,
		"-nt",
		"-np",
	}
	if s.opts.Translate {
		args = append(args, "-tr")
	}
	if s.opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(s.opts.Threads))
	}
	return args
}

// Transcribe writes samples to the scratch file and runs the engine on it.
// Each transcript segment becomes one line of the returned text.
func (s *State) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", fmt.Errorf("no audio samples: %w", domain.ErrEngine)
	}
	err := audio.Save(s.input, audio.Clip{
		Channels:   audio.Channels,
		SampleRate: audio.SampleRate,
		Samples:    samples,
	})
	if err != nil {
		return "", fmt.Errorf("writing engine input: %w: %w", err, domain.ErrEngine)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, s.opts.Binary, s.Args(s.input)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxMessage {
			msg = msg[len(msg)-maxMessage:]
		}
		return "", fmt.Errorf("whisper: %w: %s: %w", err, msg, domain.ErrEngine)
	}

	text, err := Segments(&stdout)
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w: %w", err, domain.ErrEngine)
	}
	slog.DebugContext(ctx, "Engine finished",
		"samples", len(samples),
		"duration", time.Since(start).Milliseconds())
	return text, nil
}

// Segments joins the non-empty lines printed by the engine, one segment per line.
func Segments(r io.Reader) (string, error) {
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), scanner.Err()
}

// Close removes the scratch directory.
func (s *State) Close() error {
	if err := os.RemoveAll(s.dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
