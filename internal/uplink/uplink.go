// Package uplink drains captured microphone PCM on a fixed cadence, encodes
// it into 20ms Opus frames and sends them to the agent. Delivery is lossy:
// frames that cannot be sent are dropped so capture never backs up.
package uplink

import (
	"log"
	"sync"
	"time"

	"github.com/rkaruturi/PranicSoil-MVP/internal/channel"
)

const (
	sampleRate = 48000
	// frameSamples is 20ms at 48kHz, the Opus frame the agent expects.
	frameSamples = 960
	// drainInterval is the capture drain cadence.
	drainInterval = 100 * time.Millisecond
	// maxOpusFrame is the encoder output buffer size.
	maxOpusFrame = 4000
)

// Encoder compresses one PCM frame into data, returning the byte count.
// *opus.Encoder satisfies it.
type Encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// PCMSource hands over everything captured since the last drain.
type PCMSource interface {
	DrainPCM() []byte
}

// Sender delivers one encoded frame to the agent.
type Sender interface {
	Send(data []byte) error
}

// Uplink is the capture-to-agent pipeline. Start is idempotent and fires
// onStart once, when the first drain tick runs.
type Uplink struct {
	enc     Encoder
	src     PCMSource
	sender  Sender
	onStart func()

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
	dropped int
}

// New constructs a stopped uplink. onStart may be nil.
func New(enc Encoder, src PCMSource, sender Sender, onStart func()) *Uplink {
	return &Uplink{enc: enc, src: src, sender: sender, onStart: onStart}
}

// Start launches the drain loop. No-op when already running.
func (u *Uplink) Start() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stop != nil {
		return
	}
	u.stop = make(chan struct{})
	u.stopped = make(chan struct{})
	go u.loop(u.stop, u.stopped)
}

// Stop halts the drain loop and waits for it to exit. Idempotent.
func (u *Uplink) Stop() {
	u.mu.Lock()
	stop, stopped := u.stop, u.stopped
	u.stop, u.stopped = nil, nil
	u.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}

// Dropped reports how many frames were discarded because the agent channel
// could not take them.
func (u *Uplink) Dropped() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dropped
}

func (u *Uplink) loop(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	if u.onStart != nil {
		u.onStart()
	}

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	// Staging buffer carries the sub-frame remainder between ticks.
	var pcmBuf []int16
	opusBuf := make([]byte, maxOpusFrame)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			raw := u.src.DrainPCM()
			for i := 0; i+1 < len(raw); i += 2 {
				pcmBuf = append(pcmBuf, int16(raw[i])|int16(raw[i+1])<<8)
			}
			for len(pcmBuf) >= frameSamples {
				n, err := u.enc.Encode(pcmBuf[:frameSamples], opusBuf)
				if err != nil {
					log.Printf("uplink: encode failed: %v", err)
				} else if err := u.sender.Send(opusBuf[:n]); err != nil {
					u.mu.Lock()
					u.dropped++
					dropped := u.dropped
					u.mu.Unlock()
					if err == channel.ErrNotOpen || dropped == 1 {
						log.Printf("uplink: dropping frame: %v", err)
					}
				}
				copy(pcmBuf, pcmBuf[frameSamples:])
				pcmBuf = pcmBuf[:len(pcmBuf)-frameSamples]
			}
		}
	}
}
