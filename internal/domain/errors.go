package domain

import "errors"

var (
	ErrConversion = errors.New("conversion failed")
	ErrFormat     = errors.New("unsupported audio format")
	ErrEngine     = errors.New("transcription failed")
	ErrTaskFault  = errors.New("task fault")
	ErrStartup    = errors.New("startup failed")
)

// Kind maps a job error to the short name used on the wire.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConversion):
		return "conversion"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrEngine):
		return "engine"
	case errors.Is(err, ErrTaskFault):
		return "fault"
	default:
		return "internal"
	}
}
