// Package audio turns uploaded audio files into mono 16 kHz float waveforms
// using an external ffmpeg binary.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	resampling "github.com/tphakala/go-audio-resampling"
)

// SampleRate is the rate the model expects.
const SampleRate = 16000

// ErrInvalidAudio means the upload could not be decoded as audio.
var ErrInvalidAudio = errors.New("invalid audio")

type Loader struct {
	// FFmpegPath is the transcoder binary; "ffmpeg" resolves via PATH.
	FFmpegPath string
	// ScratchDir holds per-request work directories; empty means os.TempDir.
	ScratchDir string
}

func NewLoader(ffmpegPath, scratchDir string) *Loader {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Loader{FFmpegPath: ffmpegPath, ScratchDir: scratchDir}
}

// Load transcodes r to mono 16 kHz and returns samples in [-1, 1]. Every
// scratch file is removed before Load returns.
func (l *Loader) Load(ctx context.Context, r io.Reader) ([]float32, error) {
	dir, err := os.MkdirTemp(l.ScratchDir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("failed to remove scratch dir", "dir", dir, "error", err)
		}
	}()

	input := filepath.Join(dir, "input-"+uuid.NewString())
	if err := writeFile(input, r); err != nil {
		return nil, err
	}

	output := filepath.Join(dir, "output.wav")
	cmd := exec.CommandContext(ctx, l.FFmpegPath,
		"-y",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprint(SampleRate),
		"-acodec", "pcm_s16le",
		output,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Anything but a non-zero exit means the binary never ran.
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run transcoder: %w", err)
		}
		slog.Debug("ffmpeg rejected input", "error", err, "stderr", tail(stderr.String(), 512))
		return nil, fmt.Errorf("%w: transcoder: %v", ErrInvalidAudio, err)
	}

	f, err := os.Open(output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	defer f.Close()

	samples, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	return samples, nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create scratch file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to store upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	return nil
}

// DecodeWAV reads integer PCM WAV data as a mono 16 kHz waveform, averaging
// channels and resampling when the file differs.
func DecodeWAV(r io.ReadSeeker) ([]float32, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("not a valid WAV file")
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM buffer: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, fmt.Errorf("WAV file has no channels")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(d.BitDepth)
	}
	if bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	scale := float64(int64(1) << (bitDepth - 1))

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, fmt.Errorf("WAV file has no samples")
	}

	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		mono[i] = sum / float64(channels) / scale
	}

	if rate := buf.Format.SampleRate; rate != SampleRate {
		mono, err = resample(mono, rate)
		if err != nil {
			return nil, err
		}
		if len(mono) == 0 {
			return nil, fmt.Errorf("WAV file has no samples after resampling")
		}
	}

	out := make([]float32, len(mono))
	for i, v := range mono {
		out[i] = float32(min(1, max(-1, v)))
	}
	return out, nil
}

func resample(samples []float64, rate int) ([]float64, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", rate)
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(rate),
		OutputRate: SampleRate,
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	out, err := rs.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	// The filter holds back its delay line until flushed.
	rest, err := rs.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush error: %w", err)
	}
	return append(out, rest...), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
