package domain

import "context"

// Converter normalizes an uploaded media file into audio the engine accepts.
// Implementations write the result to NormalizedPath(inputPath) and return that path.
type Converter interface {
	// Convert runs the external normalization step for a single input.
	// A failure wraps ErrConversion and carries the tool's exit status and message.
	Convert(ctx context.Context, inputPath string) (string, error)
}

// State is one execution context of the transcription engine.
// A State must never be used by two jobs at the same time; callers serialize access.
type State interface {
	// Transcribe runs the engine on 16 kHz mono samples in the range [-1, 1].
	Transcribe(ctx context.Context, samples []float32) (string, error)

	// Close releases the resources held by the state.
	Close() error
}

// Job represents one uploaded file to be transcribed.
type Job struct {
	// Name is the original display name reported back to the client.
	Name string `json:"name"`
	// Path points to the uploaded copy on disk, unique per job.
	Path string `json:"path"`
	// BatchID groups the jobs of one request for progress events.
	BatchID string `json:"batch_id,omitempty"`
}

// Outcome is the result of running a single Job.
// Exactly one of Text or Err is meaningful: Err != nil marks a failure.
type Outcome struct {
	Name string
	Text string
	Err  error
}

// Failed reports whether the job failed.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// BatchResult aggregates the outcomes of one batch.
// It is either wholly a failure (Failure != nil, Results == nil)
// or wholly a success set.
type BatchResult struct {
	Results map[string]string
	Failure *Outcome
}

// Failed reports whether the batch resolved to a failure.
func (r BatchResult) Failed() bool {
	return r.Failure != nil
}

// NormalizedPath returns where a converter stores the normalized audio of inputPath.
func NormalizedPath(inputPath string) string {
	return inputPath + "_output.wav"
}
