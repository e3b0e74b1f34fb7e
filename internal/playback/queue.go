// Package playback plays agent audio: inbound Opus frames enter a strict
// FIFO queue, each frame decodes and plays to completion before the next
// starts, and an interruption clears everything pending in one step.
package playback

import (
	"log"
	"sync"
	"time"
)

// Milestone marks a playback transition the session reacts to.
type Milestone int

const (
	// Started fires when the queue goes from idle to playing.
	Started Milestone = iota
	// Drained fires when the last queued frame finishes.
	Drained
)

// Decoder turns one agent frame into PCM bytes.
type Decoder interface {
	Decode(frame []byte) ([]byte, error)
}

// Sink receives decoded PCM. Flush discards anything not yet audible.
type Sink interface {
	Write(pcm []byte)
	Flush()
}

// Tap receives the PCM that is about to play, for activity analysis.
type Tap interface {
	Push(pcm []byte)
}

// Queue is the serial playback pipeline. Frames play in arrival order; Clear
// drops every queued frame atomically and flushes the sink.
type Queue struct {
	dec    Decoder
	sink   Sink
	tap    Tap
	notify func(Milestone)

	mu      sync.Mutex
	frames  [][]byte
	playing bool
	gen     int
	cleared chan struct{}
}

// NewQueue constructs an idle queue. tap and notify may be nil.
func NewQueue(dec Decoder, sink Sink, tap Tap, notify func(Milestone)) *Queue {
	return &Queue{
		dec:     dec,
		sink:    sink,
		tap:     tap,
		notify:  notify,
		cleared: make(chan struct{}),
	}
}

// Enqueue appends one Opus frame, starting the playback worker if idle.
func (q *Queue) Enqueue(frame []byte) {
	q.mu.Lock()
	q.frames = append(q.frames, frame)
	start := !q.playing
	if start {
		q.playing = true
	}
	q.mu.Unlock()
	if start {
		go q.run()
	}
}

// Clear drops all queued frames, aborts the current frame's pacing wait and
// flushes the sink. The frame being decoded when Clear lands never reaches
// the sink.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.gen++
	q.frames = nil
	close(q.cleared)
	q.cleared = make(chan struct{})
	q.mu.Unlock()
	q.sink.Flush()
}

// Pending reports how many frames are queued (the playing frame excluded).
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *Queue) run() {
	q.emit(Started)
	for {
		q.mu.Lock()
		if len(q.frames) == 0 {
			q.playing = false
			q.mu.Unlock()
			q.emit(Drained)
			return
		}
		frame := q.frames[0]
		q.frames = q.frames[1:]
		gen := q.gen
		cleared := q.cleared
		q.mu.Unlock()

		pcm, err := q.dec.Decode(frame)
		if err != nil {
			log.Printf("playback: dropping undecodable frame: %v", err)
			continue
		}

		q.mu.Lock()
		stale := gen != q.gen
		q.mu.Unlock()
		if stale {
			continue
		}

		if q.tap != nil {
			q.tap.Push(pcm)
		}
		q.sink.Write(pcm)

		select {
		case <-time.After(pcmDuration(pcm)):
		case <-cleared:
		}
	}
}

func (q *Queue) emit(m Milestone) {
	if q.notify != nil {
		q.notify(m)
	}
}

func pcmDuration(pcm []byte) time.Duration {
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / sampleRate
}
