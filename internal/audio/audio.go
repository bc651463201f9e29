// Package audio reads normalized WAV files and enforces the sample format the engine expects.
package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/dontdude/goscribe/internal/domain"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// The engine contract: 16-bit PCM, mono, 16 kHz.
const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16

	pcmFormat = 1
	maxInt16  = 1 << (BitDepth - 1)
)

// Clip is a decoded block of interleaved samples in the range [-1, 1].
type Clip struct {
	Channels   int
	SampleRate int
	Samples    []float32
}

// Load decodes a 16-bit PCM WAV file.
// Anything the decoder can not read is reported as domain.ErrFormat.
func Load(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer func() {
		_ = f.Close()
	}()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return Clip{}, fmt.Errorf("%s is not a valid WAV file: %w", filepath.Base(path), domain.ErrFormat)
	}
	if d.WavAudioFormat != pcmFormat || d.BitDepth != BitDepth {
		return Clip{}, fmt.Errorf("expected %d-bit PCM, got format %d with %d bits: %w",
			BitDepth, d.WavAudioFormat, d.BitDepth, domain.ErrFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("reading samples: %v: %w", err, domain.ErrFormat)
	}

	samples := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = float32(s) / maxInt16
	}
	return Clip{
		Channels:   int(d.NumChans),
		SampleRate: int(d.SampleRate),
		Samples:    samples,
	}, nil
}

// Prepare enforces the engine format on c.
// Exactly two channels are downmixed to mono; any other channel count except one
// is rejected, and so is any sample rate other than SampleRate.
func Prepare(c Clip) (Clip, error) {
	switch c.Channels {
	case Channels:
	case 2:
		mono, err := Downmix(c.Samples)
		if err != nil {
			return Clip{}, err
		}
		c = Clip{Channels: Channels, SampleRate: c.SampleRate, Samples: mono}
	default:
		return Clip{}, fmt.Errorf("%d channels are not supported: %w", c.Channels, domain.ErrFormat)
	}

	if c.SampleRate != SampleRate {
		return Clip{}, fmt.Errorf("sample rate should be %d, got %d: %w", SampleRate, c.SampleRate, domain.ErrFormat)
	}
	return c, nil
}

// Downmix averages interleaved stereo frames into mono.
func Downmix(stereo []float32) ([]float32, error) {
	if len(stereo)%2 != 0 {
		return nil, fmt.Errorf("stereo data has an odd number of samples (%d): %w", len(stereo), domain.ErrFormat)
	}
	mono := make([]float32, len(stereo)/2)
	for i := range mono {
		mono[i] = (stereo[2*i] + stereo[2*i+1]) / 2
	}
	return mono, nil
}

// Save writes c as a 16-bit PCM WAV file, clamping samples to [-1, 1].
func Save(path string, c Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}

	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		v := math.Round(float64(s) * maxInt16)
		data[i] = int(max(-maxInt16, min(maxInt16-1, v)))
	}

	enc := wav.NewEncoder(f, c.SampleRate, BitDepth, c.Channels, pcmFormat)
	err = enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: c.Channels, SampleRate: c.SampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	})
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finishing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
