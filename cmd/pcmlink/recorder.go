package main

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	recordBitDepth = 16
	wavFormatPCM   = 1
)

// wavRecorder writes interleaved float samples to a 16-bit PCM WAV file.
type wavRecorder struct {
	f   *os.File
	enc *wav.Encoder
	buf *audio.IntBuffer
}

func newWAVRecorder(path string, sampleRate, channels int) (*wavRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}

	return &wavRecorder{
		f:   f,
		enc: wav.NewEncoder(f, sampleRate, recordBitDepth, channels, wavFormatPCM),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: recordBitDepth,
		},
	}, nil
}

// Write appends samples. The slice must hold whole frames.
func (r *wavRecorder) Write(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}

	r.buf.Data = r.buf.Data[:0]
	for _, s := range samples {
		r.buf.Data = append(r.buf.Data, pcm16(s))
	}
	return r.enc.Write(r.buf)
}

// Close finishes the WAV header and closes the file.
func (r *wavRecorder) Close() error {
	err := r.enc.Close()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// pcm16 scales a sample in [-1, 1] to a signed 16-bit value, clipping
// anything outside.
func pcm16(s float32) int {
	v := float64(s) * math.MaxInt16
	return int(math.Round(math.Max(math.MinInt16, math.Min(math.MaxInt16, v))))
}
