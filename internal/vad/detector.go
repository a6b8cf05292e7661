// Package vad decides when a rolling per-session audio buffer should be cut
// and sent for recognition.
//
// Two independent signal sources are supported, chosen per deployment. The
// energy detector inspects raw PCM frames (RMS amplitude gated by a
// zero-crossing-rate band that separates speech from hum and broadband
// noise). The size detector never looks inside the audio at all: it treats
// the byte size of successively emitted compressed chunks as a proxy for
// signal energy, which is the only observable when chunks arrive opaque off
// a media recorder.
//
// Detectors are per-session and not safe for concurrent use; the
// [Segmenter] creates one per session and calls it under its own lock.
package vad

import (
	"encoding/binary"
	"math"

	"github.com/mooner92/onvoice/pkg/types"
)

// Detector classifies a single chunk as voiced or not. Implementations may
// keep smoothing state across calls; Reset clears it.
type Detector interface {
	Voiced(chunk types.AudioChunk) bool
	Reset()
}

// Energy detector defaults. The RMS threshold is on a normalised [0, 1]
// amplitude scale; the zero-crossing band is the empirical range for voiced
// speech. A ZCR below the band is tonal hum or DC offset, above it is
// broadband noise.
const (
	defaultRMSThreshold = 0.015

	zcrSpeechMin = 0.01
	zcrSpeechMax = 0.30
)

// EnergyDetector classifies raw little-endian 16-bit PCM chunks by frame
// energy. It is stateless per chunk.
type EnergyDetector struct {
	rmsThreshold float64
}

var _ Detector = (*EnergyDetector)(nil)

// NewEnergyDetector returns an energy detector. rmsThreshold <= 0 selects
// the default.
func NewEnergyDetector(rmsThreshold float64) *EnergyDetector {
	if rmsThreshold <= 0 {
		rmsThreshold = defaultRMSThreshold
	}
	return &EnergyDetector{rmsThreshold: rmsThreshold}
}

// Voiced reports whether the chunk contains speech-like energy: RMS above
// the silence threshold and a zero-crossing rate inside the speech band.
func (d *EnergyDetector) Voiced(chunk types.AudioChunk) bool {
	n := len(chunk.Data) / 2
	if n < 2 {
		return false
	}

	var sumSq float64
	crossings := 0
	prev := int16(binary.LittleEndian.Uint16(chunk.Data[0:2]))
	sumSq += float64(prev) * float64(prev)
	for i := 1; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(chunk.Data[2*i : 2*i+2]))
		sumSq += float64(s) * float64(s)
		if (s >= 0) != (prev >= 0) {
			crossings++
		}
		prev = s
	}

	rms := math.Sqrt(sumSq/float64(n)) / 32768.0
	if rms <= d.rmsThreshold {
		return false
	}
	zcr := float64(crossings) / float64(n-1)
	return zcr >= zcrSpeechMin && zcr <= zcrSpeechMax
}

// Reset is a no-op; the energy detector carries no state between chunks.
func (d *EnergyDetector) Reset() {}

// Size detector defaults. Compressed silence from a media recorder is a few
// hundred bytes per timeslice; speech is consistently larger.
const (
	defaultMinChunkSize = 1024
	defaultSizeAlpha    = 0.3
)

// SizeDetector classifies chunks by an exponentially weighted moving average
// of their encoded byte sizes.
type SizeDetector struct {
	minSize int
	alpha   float64

	avg    float64
	seeded bool
}

var _ Detector = (*SizeDetector)(nil)

// NewSizeDetector returns a size detector. minSize <= 0 and alpha outside
// (0, 1] select the defaults.
func NewSizeDetector(minSize int, alpha float64) *SizeDetector {
	if minSize <= 0 {
		minSize = defaultMinChunkSize
	}
	if alpha <= 0 || alpha > 1 {
		alpha = defaultSizeAlpha
	}
	return &SizeDetector{minSize: minSize, alpha: alpha}
}

// Voiced folds the chunk size into the moving average and reports whether
// the average has reached the speech threshold.
func (d *SizeDetector) Voiced(chunk types.AudioChunk) bool {
	size := float64(len(chunk.Data))
	if !d.seeded {
		d.avg = size
		d.seeded = true
	} else {
		d.avg = d.alpha*size + (1-d.alpha)*d.avg
	}
	return d.avg >= float64(d.minSize)
}

// Reset clears the moving average.
func (d *SizeDetector) Reset() {
	d.avg = 0
	d.seeded = false
}
