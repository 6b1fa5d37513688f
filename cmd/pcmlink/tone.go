package main

import "math"

// sineGenerator produces an interleaved sine tone, the same value on every
// channel.
type sineGenerator struct {
	channels  int
	amplitude float64
	step      float64
	phase     float64
}

func newSineGenerator(frequency float64, sampleRate uint32, channels int, amplitude float64) *sineGenerator {
	return &sineGenerator{
		channels:  channels,
		amplitude: amplitude,
		step:      2 * math.Pi * frequency / float64(sampleRate),
	}
}

// Fill writes whole frames into buf and returns how many samples it wrote.
func (g *sineGenerator) Fill(buf []float32) int {
	frames := len(buf) / g.channels
	for f := 0; f < frames; f++ {
		v := float32(g.amplitude * math.Sin(g.phase))
		for ch := 0; ch < g.channels; ch++ {
			buf[f*g.channels+ch] = v
		}
		g.phase += g.step
		if g.phase >= 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
	}
	return frames * g.channels
}

// peak returns the largest absolute sample value.
func peak(samples []float32) float32 {
	var p float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > p {
			p = s
		}
	}
	return p
}
