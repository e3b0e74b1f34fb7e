package playback

import (
	"io"
	"sync"
	"testing"
	"time"
)

type fakePlayer struct {
	mu     sync.Mutex
	played bool
	closed bool
}

func (p *fakePlayer) Play() {
	p.mu.Lock()
	p.played = true
	p.mu.Unlock()
}

func (p *fakePlayer) Pause() {}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func newTestSpeaker() *Speaker {
	s := &Speaker{newPlayer: func(io.Reader) pcmPlayer { return &fakePlayer{} }}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func TestSpeaker_FlushRetiresParkedReader(t *testing.T) {
	s := newTestSpeaker()

	type readResult struct {
		n   int
		err error
	}
	res := make(chan readResult, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := s.Read(buf)
		res <- readResult{n, err}
	}()

	// Let the reader park on the empty buffer before flushing.
	time.Sleep(50 * time.Millisecond)
	s.Flush()

	select {
	case r := <-res:
		if r.err != io.EOF || r.n != 0 {
			t.Fatalf("expected retired reader to return EOF, got n=%d err=%v", r.n, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader still parked after Flush")
	}

	// The next utterance's first chunk reaches the new player's reader intact.
	s.Write([]byte{1, 2, 3, 4})
	buf := make([]byte, 64)
	n, err := s.Read(buf)
	if err != nil || n != 4 {
		t.Fatalf("expected fresh read of 4 bytes, got n=%d err=%v", n, err)
	}
	if buf[0] != 1 || buf[3] != 4 {
		t.Fatalf("unexpected PCM %v", buf[:n])
	}
}

func TestSpeaker_FlushStopsPlayerAndDropsBuffer(t *testing.T) {
	s := newTestSpeaker()
	s.Write([]byte{1, 2, 3, 4})

	s.mu.Lock()
	p := s.player.(*fakePlayer)
	s.mu.Unlock()
	p.mu.Lock()
	played := p.played
	p.mu.Unlock()
	if !played {
		t.Fatal("expected first write to start the player")
	}

	s.Flush()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		t.Fatal("expected flush to close the active player")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) != 0 {
		t.Fatalf("expected buffer emptied, %d bytes remain", len(s.buf))
	}
	if s.playing {
		t.Fatal("expected playing flag cleared")
	}
}
