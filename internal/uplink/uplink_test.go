package uplink

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeEncoder copies the frame length into a 2-byte payload so sends are
// cheap and verifiable.
type fakeEncoder struct {
	mu     sync.Mutex
	frames [][]int16
}

func (e *fakeEncoder) Encode(pcm []int16, data []byte) (int, error) {
	e.mu.Lock()
	frame := make([]int16, len(pcm))
	copy(frame, pcm)
	e.frames = append(e.frames, frame)
	e.mu.Unlock()
	data[0] = byte(len(pcm))
	data[1] = byte(len(pcm) >> 8)
	return 2, nil
}

type fakeSource struct {
	mu  sync.Mutex
	pcm []byte
}

func (s *fakeSource) DrainPCM() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pcm
	s.pcm = nil
	return out
}

func (s *fakeSource) fill(samples int) {
	s.mu.Lock()
	s.pcm = append(s.pcm, make([]byte, samples*2)...)
	s.mu.Unlock()
}

type fakeSender struct {
	mu    sync.Mutex
	sent  int
	fail  bool
	errno error
}

func (s *fakeSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return s.errno
	}
	s.sent++
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func TestUplink_EncodesFullFramesOnly(t *testing.T) {
	enc := &fakeEncoder{}
	src := &fakeSource{}
	snd := &fakeSender{}
	src.fill(frameSamples*2 + 100)

	started := make(chan struct{})
	u := New(enc, src, snd, func() { close(started) })
	u.Start()
	defer u.Stop()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("onStart never fired")
	}

	deadline := time.Now().Add(2 * time.Second)
	for snd.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 frames sent, got %d", snd.count())
		}
		time.Sleep(10 * time.Millisecond)
	}

	enc.mu.Lock()
	defer enc.mu.Unlock()
	if len(enc.frames) != 2 {
		t.Fatalf("expected 2 encoded frames, got %d", len(enc.frames))
	}
	for _, f := range enc.frames {
		if len(f) != frameSamples {
			t.Fatalf("expected %d-sample frames, got %d", frameSamples, len(f))
		}
	}
}

func TestUplink_SendFailureDropsWithoutStopping(t *testing.T) {
	enc := &fakeEncoder{}
	src := &fakeSource{}
	snd := &fakeSender{fail: true, errno: errors.New("write frame: broken pipe")}
	src.fill(frameSamples)

	u := New(enc, src, snd, nil)
	u.Start()
	defer u.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for u.Dropped() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected a dropped frame")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Recovery: frames flow again once sends succeed.
	snd.mu.Lock()
	snd.fail = false
	snd.mu.Unlock()
	src.fill(frameSamples)
	deadline = time.Now().Add(2 * time.Second)
	for snd.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected sends to resume")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUplink_StartStopIdempotent(t *testing.T) {
	u := New(&fakeEncoder{}, &fakeSource{}, &fakeSender{}, nil)
	u.Start()
	u.Start()
	u.Stop()
	u.Stop()
}
