package whisper_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dontdude/goscribe/internal/domain"
	"github.com/dontdude/goscribe/internal/platform/whisper"

	"github.com/stretchr/testify/require"
)

// Tests executing freshly written scripts are not parallel, to avoid ETXTBSY on exec.

func fakeWhisper(t *testing.T, body string) whisper.Options {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "whisper-cli")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+body), 0o755))
	model := filepath.Join(dir, "ggml-tiny.bin")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0o600))
	return whisper.Options{
		Binary:     bin,
		ModelPath:  model,
		Language:   "en",
		Translate:  true,
		ScratchDir: filepath.Join(dir, "states"),
	}
}

func TestTranscribe(t *testing.T) {
	opts := fakeWhisper(t, `
printf ' And so my fellow Americans,\n\n ask not what your country can do for you.\n'
echo "$@" 1>&2
`)
	engine, err := whisper.New(opts)
	require.NoError(t, err)
	states, err := engine.States(2)
	require.NoError(t, err)
	require.Len(t, states, 2)

	text, err := states[1].Transcribe(t.Context(), make([]float32, 1600))
	require.NoError(t, err)
	require.Equal(t, "And so my fellow Americans,\nask not what your country can do for you.\n", text)
	require.FileExists(t, filepath.Join(opts.ScratchDir, "1", "input.wav"))

	for _, s := range states {
		require.NoError(t, s.Close())
	}
	require.NoDirExists(t, filepath.Join(opts.ScratchDir, "1"))
}

func TestTranscribeFailure(t *testing.T) {
	opts := fakeWhisper(t, "echo 'error: failed to read WAV file' 1>&2\nexit 3\n")
	engine, err := whisper.New(opts)
	require.NoError(t, err)
	st, err := engine.NewState(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.Transcribe(t.Context(), make([]float32, 16))
	require.ErrorIs(t, err, domain.ErrEngine)
	require.ErrorContains(t, err, "exit status 3")
	require.ErrorContains(t, err, "failed to read WAV file")

	_, err = st.Transcribe(t.Context(), nil)
	require.ErrorIs(t, err, domain.ErrEngine)
}

func TestNew(t *testing.T) {
	opts := fakeWhisper(t, "exit 0\n")

	missingModel := opts
	missingModel.ModelPath = filepath.Join(t.TempDir(), "ggml-large.bin")
	_, err := whisper.New(missingModel)
	require.ErrorIs(t, err, domain.ErrStartup)

	modelDir := opts
	modelDir.ModelPath = t.TempDir()
	_, err = whisper.New(modelDir)
	require.ErrorIs(t, err, domain.ErrStartup)

	missingBinary := opts
	missingBinary.Binary = filepath.Join(t.TempDir(), "whisper-cli")
	_, err = whisper.New(missingBinary)
	require.ErrorIs(t, err, domain.ErrStartup)
}

func TestArgs(t *testing.T) {
	opts := fakeWhisper(t, "exit 0\n")
	opts.Threads = 4
	engine, err := whisper.New(opts)
	require.NoError(t, err)
	st, err := engine.NewState(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	got := strings.Join(st.Args("in.wav"), " ")
	require.Equal(t, "-m "+opts.ModelPath+" -f in.wav -l en -nt -np -tr -t 4", got)
}

func TestSegments(t *testing.T) {
	t.Parallel()
	got, err := whisper.Segments(strings.NewReader("\n  one \r\n\ntwo\n"))
	require.NoError(t, err)
	require.Equal(t, "one\ntwo\n", got)
}
