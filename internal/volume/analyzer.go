// Package volume derives a normalized activity level from live PCM for
// presentation feedback (e.g. the animated avatar). The level is a windowed
// frequency-domain energy average in [0,1], recomputed continuously while a
// tap is attached and pinned to 0 otherwise.
package volume

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// fftWindow is the analysis window in samples (mirrors the analyser
	// fftSize of 256 used by the web implementation).
	fftWindow = 256
	// tickInterval approximates an animation-frame cadence.
	tickInterval = 16 * time.Millisecond
	// staleAfter is how long a tap may go without fresh PCM before the
	// level decays to silence.
	staleAfter = 250 * time.Millisecond
	// referenceCeiling is the fixed normalization ceiling for the averaged
	// spectrum magnitude; averages at or above it read as full activity.
	// Speech concentrates energy in a few bins, so the bin average of a
	// loud signal sits around a hundredth of full scale.
	referenceCeiling = 0.01
)

// Tap receives PCM (s16le mono) from whichever stream is audible - the
// capture stream while listening, decoded playback while the agent speaks -
// and retains the most recent analysis window.
type Tap struct {
	mu       sync.Mutex
	samples  []float64
	lastPush time.Time
}

// NewTap constructs an empty tap.
func NewTap() *Tap {
	return &Tap{samples: make([]float64, 0, fftWindow)}
}

// Push appends PCM samples, keeping only the newest analysis window.
func (t *Tap) Push(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	t.mu.Lock()
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		t.samples = append(t.samples, float64(v)/32768.0)
	}
	if len(t.samples) > fftWindow {
		t.samples = t.samples[len(t.samples)-fftWindow:]
	}
	t.lastPush = time.Now()
	t.mu.Unlock()
}

// window returns a copy of the current analysis window and its freshness.
func (t *Tap) window() ([]float64, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]float64, len(t.samples))
	copy(out, t.samples)
	return out, t.lastPush
}

// Analyzer samples an attached tap on an animation-frame cadence and exposes
// the instantaneous activity level. Detach cancels the loop and resets the
// level to 0 before returning.
type Analyzer struct {
	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}

	levelBits atomic.Uint64
}

// NewAnalyzer constructs a detached analyzer with level 0.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Level returns the current activity level in [0,1].
func (a *Analyzer) Level() float64 {
	return math.Float64frombits(a.levelBits.Load())
}

func (a *Analyzer) setLevel(v float64) {
	a.levelBits.Store(math.Float64bits(v))
}

// Attach starts the sampling loop over tap. Attaching while already attached
// is a no-op; the session detaches before re-attaching.
func (a *Analyzer) Attach(tap *Tap) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})
	a.stopped = make(chan struct{})
	go a.loop(tap, a.stop, a.stopped)
}

// Detach cancels the sampling loop and resets the level to 0. Idempotent.
func (a *Analyzer) Detach() {
	a.mu.Lock()
	stop, stopped := a.stop, a.stopped
	a.stop, a.stopped = nil, nil
	a.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
	a.setLevel(0)
}

func (a *Analyzer) loop(tap *Tap, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	fft := fourier.NewFFT(fftWindow)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			samples, at := tap.window()
			if len(samples) < fftWindow || time.Since(at) > staleAfter {
				a.setLevel(0)
				continue
			}
			a.setLevel(measure(fft, samples))
		}
	}
}

// measure computes the windowed frequency-domain energy average: magnitude
// mean across spectrum bins, divided by the fixed reference ceiling, clamped
// to [0,1].
func measure(fft *fourier.FFT, samples []float64) float64 {
	coeffs := fft.Coefficients(nil, samples)
	if len(coeffs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range coeffs {
		sum += cmplx.Abs(c)
	}
	// A full-scale tone puts a magnitude of fftWindow/2 in one bin.
	avg := sum / float64(len(coeffs)) / (fftWindow / 2)
	return math.Min(avg/referenceCeiling, 1)
}
