package ffmpeg_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dontdude/goscribe/internal/domain"
	"github.com/dontdude/goscribe/internal/platform/ffmpeg"

	"github.com/stretchr/testify/require"
)

// Tests executing freshly written scripts are not parallel, to avoid ETXTBSY on exec.

// fakeFFmpeg writes a shell script standing in for ffmpeg: it answers -version
// and copies its input (the argument after -i) to the last argument.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"-version\" ]; then echo 'ffmpeg version fake'; exit 0; fi\n" +
		body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const copyBody = `
in=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
cp "$in" "$out"
`

func TestConvert(t *testing.T) {
	conv, err := ffmpeg.New(t.Context(), fakeFFmpeg(t, copyBody))
	require.NoError(t, err)

	in := filepath.Join(t.TempDir(), "0b7d.blob")
	require.NoError(t, os.WriteFile(in, []byte("RIFF"), 0o600))

	out, err := conv.Convert(t.Context(), in)
	require.NoError(t, err)
	require.Equal(t, domain.NormalizedPath(in), out)
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "RIFF", string(b))
}

func TestConvertFailure(t *testing.T) {
	conv, err := ffmpeg.New(t.Context(), fakeFFmpeg(t, "echo 'moov atom not found' 1>&2\nexit 1\n"))
	require.NoError(t, err)

	_, err = conv.Convert(t.Context(), filepath.Join(t.TempDir(), "x.blob"))
	require.ErrorIs(t, err, domain.ErrConversion)
	require.ErrorContains(t, err, "exit status 1")
	require.ErrorContains(t, err, "moov atom not found")
}

func TestNewMissing(t *testing.T) {
	t.Parallel()
	_, err := ffmpeg.New(t.Context(), filepath.Join(t.TempDir(), "no-ffmpeg"))
	require.ErrorIs(t, err, domain.ErrStartup)
}

func TestArgs(t *testing.T) {
	t.Parallel()
	args := strings.Join(ffmpeg.Args("in.blob", "in.blob_output.wav"), " ")
	require.Equal(t, "-nostdin -y -i in.blob -vn -acodec pcm_s16le -ac 1 -ar 16000 in.blob_output.wav", args)
}

func TestTail(t *testing.T) {
	t.Parallel()
	require.Equal(t, "short", ffmpeg.Tail("  short\n", 10))
	require.Equal(t, "last line", ffmpeg.Tail("first line\nsecond line\nlast line", 12))
	require.Equal(t, "abcdef", ffmpeg.Tail("xxxxabcdef", 6))
}
