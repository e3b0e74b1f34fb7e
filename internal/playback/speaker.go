package playback

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// The oto context is process-wide and can only be created once, so all
// speakers across reconnects share it.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func speakerContext() (*oto.Context, error) {
	otoOnce.Do(func() {
		opts := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   9600, // ~100ms at 48kHz mono 16-bit
		}
		ctx, ready, err := oto.NewContext(opts)
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx = ctx
	})
	return otoCtx, otoErr
}

// pcmPlayer is the slice of oto.Player the speaker drives.
type pcmPlayer interface {
	Play()
	Pause()
	Close() error
}

// Speaker plays s16le PCM through the default output device. The oto player
// pulls from an internal buffer via Read; Flush discards everything pending
// so an interruption cuts audio immediately.
type Speaker struct {
	newPlayer func(r io.Reader) pcmPlayer

	mu      sync.Mutex
	cond    *sync.Cond
	player  pcmPlayer
	buf     []byte
	gen     int
	playing bool
	closed  bool
}

// NewSpeaker opens the output device.
func NewSpeaker() (*Speaker, error) {
	if _, err := speakerContext(); err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	s := &Speaker{
		newPlayer: func(r io.Reader) pcmPlayer { return otoCtx.NewPlayer(r) },
		buf:       make([]byte, 0, sampleRate*4),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Write appends PCM for playback, starting the player on first write.
func (s *Speaker) Write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, data...)
	if !s.playing && !s.closed {
		s.playing = true
		s.player = s.newPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
}

// Read implements io.Reader for the oto player pull loop. A reader whose
// player was retired by Flush returns EOF instead of stealing the next
// utterance's PCM.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.gen
	for len(s.buf) == 0 && !s.closed && gen == s.gen {
		s.cond.Wait()
	}
	if gen != s.gen {
		return 0, io.EOF
	}
	if s.closed && len(s.buf) == 0 {
		// Feed silence so oto drains gracefully.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards all pending audio and stops the current player so stale
// agent speech never overlaps what follows. Bumping the generation wakes any
// reader parked on the old player and retires it.
func (s *Speaker) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.gen++
	s.cond.Broadcast()
	if s.player != nil && s.playing {
		s.playing = false
		player := s.player
		s.player = nil
		s.mu.Unlock()
		player.Pause()
		player.Close()
		return
	}
	s.mu.Unlock()
}

// Close releases the player. Idempotent.
func (s *Speaker) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
}
