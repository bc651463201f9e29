// Package ffmpeg normalizes uploaded media into the WAV format the engine expects.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dontdude/goscribe/internal/domain"
)

// maxMessage bounds how much tool output ends up in an error.
const maxMessage = 512

// Converter runs a local ffmpeg binary.
type Converter struct {
	path string
}

var _ domain.Converter = (*Converter)(nil)

// New resolves the ffmpeg binary and verifies it runs.
func New(ctx context.Context, path string) (*Converter, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found at %s: %w: %w", path, err, domain.ErrStartup)
	}
	if err := exec.CommandContext(ctx, resolved, "-version").Run(); err != nil {
		return nil, fmt.Errorf("running %s -version: %w: %w", resolved, err, domain.ErrStartup)
	}
	slog.Info("FFmpeg converter initialized", "path", resolved)
	return &Converter{path: resolved}, nil
}

// Args returns the ffmpeg arguments converting in to 16 kHz mono pcm_s16le at out.
func Args(in, out string) []string {
	return []string{
		"-nostdin",
		"-y",
		"-i", in,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", "16000",
		out,
	}
}

// Convert writes the normalized audio next to the input and returns its path.
func (c *Converter) Convert(ctx context.Context, inputPath string) (string, error) {
	out := domain.NormalizedPath(inputPath)
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.path, Args(inputPath, out)...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg %s: %w: %s: %w",
			filepath.Base(inputPath), err, Tail(output.String(), maxMessage), domain.ErrConversion)
	}

	slog.DebugContext(ctx, "Converted", "output", filepath.Base(out), "duration", time.Since(start).Milliseconds())
	return out, nil
}

// Tail returns the last n bytes of s, trimmed, starting at a line boundary when possible.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return s
}
