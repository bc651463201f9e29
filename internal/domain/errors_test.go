package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dontdude/goscribe/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    error
		then     string
	}{
		{"nil", nil, ""},
		{"conversion", fmt.Errorf("ffmpeg: exit status 1: %w", domain.ErrConversion), "conversion"},
		{"format", fmt.Errorf("3 channels: %w", domain.ErrFormat), "format"},
		{"engine", fmt.Errorf("%w: signal: killed", domain.ErrEngine), "engine"},
		{"fault", fmt.Errorf("%w: boom", domain.ErrTaskFault), "fault"},
		{"other", errors.New("disk full"), "internal"},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			require.Equal(t, tc.then, domain.Kind(tc.given))
		})
	}
}

func TestOutcome(t *testing.T) {
	t.Parallel()
	require.False(t, domain.Outcome{Name: "a.wav", Text: "hi"}.Failed())
	require.True(t, domain.Outcome{Name: "a.wav", Err: domain.ErrEngine}.Failed())
	require.False(t, domain.BatchResult{Results: map[string]string{}}.Failed())
	require.True(t, domain.BatchResult{Failure: &domain.Outcome{Err: domain.ErrFormat}}.Failed())
	require.Equal(t, "/tmp/x.blob_output.wav", domain.NormalizedPath("/tmp/x.blob"))
}
