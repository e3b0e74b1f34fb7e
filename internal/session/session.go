// Package session orchestrates one live voice conversation: microphone
// capture and Opus uplink, the signed-URL handshake, the agent channel, and
// serial playback with barge-in. A Session holds exactly one conversation at
// a time; Connect tears down any previous one first.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hraban/opus"

	"github.com/rkaruturi/PranicSoil-MVP/internal/capture"
	"github.com/rkaruturi/PranicSoil-MVP/internal/channel"
	"github.com/rkaruturi/PranicSoil-MVP/internal/diag"
	"github.com/rkaruturi/PranicSoil-MVP/internal/playback"
	"github.com/rkaruturi/PranicSoil-MVP/internal/supabase"
	"github.com/rkaruturi/PranicSoil-MVP/internal/uplink"
	"github.com/rkaruturi/PranicSoil-MVP/internal/volume"
)

// State is the session lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateListening  State = "listening"
	StateSpeaking   State = "speaking"
	StateError      State = "error"
)

// ContextKind selects whether the signed-URL request carries the caller's
// bearer token.
type ContextKind int

const (
	Anonymous ContextKind = iota
	Authenticated
)

// Issuer obtains a signed agent URL and session ID.
type Issuer interface {
	GetSignedURL(ctx context.Context, bearer string) (supabase.Grant, error)
}

// Reporter records a finished conversation's duration for accounting.
type Reporter interface {
	EndConversation(ctx context.Context, bearer, sessionID string, durationSeconds int) error
}

// Microphone is the capture device surface the session needs.
type Microphone interface {
	Supported() bool
	Open() error
	DrainPCM() []byte
	Close()
}

// Conn is a live agent channel.
type Conn interface {
	Events() <-chan channel.Event
	Send(data []byte) error
	Close()
}

// DialFunc opens a Conn to a signed agent URL.
type DialFunc func(ctx context.Context, signedURL string, timeout time.Duration) (Conn, error)

// OutputFactory builds the playback pipeline: the frame queue plus a release
// function for the underlying output device.
type OutputFactory func(tap playback.Tap, notify func(playback.Milestone)) (*playback.Queue, func(), error)

// EncoderFactory builds the uplink Opus encoder.
type EncoderFactory func() (uplink.Encoder, error)

// Internal transition triggers raised by the uplink and playback pipelines.
type (
	evUplinkStarted   struct{}
	evPlaybackStarted struct{}
	evPlaybackDrained struct{}
)

// Session is the conversation orchestrator. All public methods are safe for
// concurrent use.
type Session struct {
	issuer         Issuer
	reporter       Reporter
	tokenEndpoint  string
	bearer         string
	connectTimeout time.Duration

	mic        Microphone
	dial       DialFunc
	newOutput  OutputFactory
	newEncoder EncoderFactory

	// One analyzer per audible stream: the caller's microphone while
	// listening, decoded agent speech while speaking. Volume() selects by
	// state so mic energy never bleeds into the speaking-state level.
	capAnalyzer  *volume.Analyzer
	playAnalyzer *volume.Analyzer

	mu             sync.Mutex
	gen            int
	state          State
	lastErr        error
	conversationID string
	sessionID      string
	sessionBearer  string
	startedAt      time.Time
	conn           Conn
	up             *uplink.Uplink
	queue          *playback.Queue
	releaseOutput  func()
}

// New constructs an idle session. tokenEndpoint is the issuer's base URL,
// checked for a secure origin before any device access.
func New(issuer Issuer, reporter Reporter, tokenEndpoint, bearer string, connectTimeout time.Duration) *Session {
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}
	return &Session{
		issuer:         issuer,
		reporter:       reporter,
		tokenEndpoint:  tokenEndpoint,
		bearer:         bearer,
		connectTimeout: connectTimeout,
		mic:            capture.NewDevice(),
		dial:           defaultDial,
		newOutput:      defaultOutput,
		newEncoder:     defaultEncoder,
		capAnalyzer:    volume.NewAnalyzer(),
		playAnalyzer:   volume.NewAnalyzer(),
		state:          StateIdle,
	}
}

// WithMicrophone replaces the capture device.
func (s *Session) WithMicrophone(m Microphone) *Session {
	s.mic = m
	return s
}

// WithDialer replaces the channel dialer.
func (s *Session) WithDialer(d DialFunc) *Session {
	s.dial = d
	return s
}

// WithOutput replaces the playback pipeline factory.
func (s *Session) WithOutput(f OutputFactory) *Session {
	s.newOutput = f
	return s
}

// WithEncoder replaces the uplink encoder factory.
func (s *Session) WithEncoder(f EncoderFactory) *Session {
	s.newEncoder = f
	return s
}

func defaultDial(ctx context.Context, signedURL string, timeout time.Duration) (Conn, error) {
	return channel.Dial(ctx, signedURL, timeout)
}

func defaultOutput(tap playback.Tap, notify func(playback.Milestone)) (*playback.Queue, func(), error) {
	dec, err := playback.NewOpusDecoder()
	if err != nil {
		return nil, nil, err
	}
	spk, err := playback.NewSpeaker()
	if err != nil {
		return nil, nil, err
	}
	return playback.NewQueue(dec, spk, tap, notify), spk.Close, nil
}

func defaultEncoder() (uplink.Encoder, error) {
	enc, err := opus.NewEncoder(capture.SampleRate, capture.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return enc, nil
}

// tappedSource feeds drained capture PCM to the activity tap on its way to
// the encoder, so the level tracks the caller's own voice while listening.
type tappedSource struct {
	mic Microphone
	tap *volume.Tap
}

func (t tappedSource) DrainPCM() []byte {
	pcm := t.mic.DrainPCM()
	if len(pcm) > 0 {
		t.tap.Push(pcm)
	}
	return pcm
}

// Connect starts a new conversation. Any live conversation is torn down
// first. Returns false when the session entered the error state; Status and
// LastError carry the classified failure.
func (s *Session) Connect(ctx context.Context, kind ContextKind, userID string) bool {
	s.Disconnect()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.lastErr = nil
	s.conversationID = uuid.NewString()
	convID := s.conversationID
	s.mu.Unlock()

	if userID != "" {
		log.Printf("[%s] connecting for user %s", convID, userID)
	} else {
		log.Printf("[%s] connecting", convID)
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	if !s.mic.Supported() {
		return s.failConnect(gen, convID, diag.Wrap(diag.CodeUnsupportedBrowser, fmt.Errorf("no usable audio capture backend")))
	}
	if !diag.SecureEndpoint(s.tokenEndpoint) {
		return s.failConnect(gen, convID, diag.Wrap(diag.CodeInsecureContext, fmt.Errorf("token endpoint %q is not a secure origin", s.tokenEndpoint)))
	}
	if err := s.mic.Open(); err != nil {
		return s.failConnect(gen, convID, err)
	}

	bearer := ""
	if kind == Authenticated {
		bearer = s.bearer
	}
	grant, err := s.issuer.GetSignedURL(ctx, bearer)
	if err != nil {
		s.mic.Close()
		return s.failConnect(gen, convID, err)
	}
	if !diag.SecureEndpoint(grant.SignedURL) {
		s.mic.Close()
		return s.failConnect(gen, convID, diag.Wrap(diag.CodeInsecureContext, fmt.Errorf("signed URL is not a secure origin")))
	}

	conn, err := s.dial(ctx, grant.SignedURL, s.connectTimeout)
	if err != nil {
		s.mic.Close()
		return s.failConnect(gen, convID, err)
	}

	capTap := volume.NewTap()
	playTap := volume.NewTap()
	queue, releaseOutput, err := s.newOutput(playTap, func(m playback.Milestone) {
		switch m {
		case playback.Started:
			s.dispatch(gen, evPlaybackStarted{})
		case playback.Drained:
			s.dispatch(gen, evPlaybackDrained{})
		}
	})
	if err != nil {
		conn.Close()
		s.mic.Close()
		return s.failConnect(gen, convID, err)
	}

	enc, err := s.newEncoder()
	if err != nil {
		releaseOutput()
		conn.Close()
		s.mic.Close()
		return s.failConnect(gen, convID, err)
	}
	up := uplink.New(enc, tappedSource{mic: s.mic, tap: capTap}, conn, func() {
		s.dispatch(gen, evUplinkStarted{})
	})

	s.mu.Lock()
	if gen != s.gen {
		// A concurrent Connect or Disconnect superseded this attempt.
		s.mu.Unlock()
		up.Stop()
		releaseOutput()
		conn.Close()
		s.mic.Close()
		return false
	}
	s.conn = conn
	s.up = up
	s.queue = queue
	s.releaseOutput = releaseOutput
	s.sessionID = grant.SessionID
	s.sessionBearer = bearer
	s.startedAt = time.Now()
	s.capAnalyzer.Attach(capTap)
	s.playAnalyzer.Attach(playTap)
	s.mu.Unlock()

	go func() {
		for ev := range conn.Events() {
			s.dispatch(gen, ev)
		}
	}()

	log.Printf("[%s] session %s established", convID, grant.SessionID)
	return true
}

func (s *Session) failConnect(gen int, convID string, err error) bool {
	s.mu.Lock()
	if gen == s.gen {
		s.state = StateError
		s.lastErr = err
	}
	s.mu.Unlock()
	log.Printf("[%s] connect failed (%s): %v", convID, diag.Classify(err), err)
	return false
}

// dispatch applies one transition. Events from superseded conversations are
// ignored via the generation counter.
func (s *Session) dispatch(gen int, ev any) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	switch ev := ev.(type) {
	case channel.Opened:
		s.state = StateConnected
		up := s.up
		convID := s.conversationID
		s.mu.Unlock()
		log.Printf("[%s] channel open", convID)
		if up != nil {
			up.Start()
		}

	case evUplinkStarted:
		if s.state == StateConnected {
			s.state = StateListening
		}
		s.mu.Unlock()

	case channel.Frame:
		queue := s.queue
		s.mu.Unlock()
		if queue != nil {
			queue.Enqueue(ev.Data)
		}

	case evPlaybackStarted:
		if s.state == StateListening || s.state == StateConnected {
			s.state = StateSpeaking
		}
		s.mu.Unlock()

	case evPlaybackDrained:
		if s.state == StateSpeaking {
			s.state = StateListening
		}
		s.mu.Unlock()

	case channel.Control:
		queue := s.queue
		convID := s.conversationID
		if ev.Type == "interruption" {
			if s.state == StateSpeaking {
				s.state = StateListening
			}
			s.mu.Unlock()
			log.Printf("[%s] interruption: clearing playback", convID)
			if queue != nil {
				queue.Clear()
			}
			return
		}
		s.mu.Unlock()
		log.Printf("[%s] control message: %s", convID, ev.Type)

	case channel.Closed:
		if s.state == StateIdle || s.state == StateError {
			s.mu.Unlock()
			return
		}
		// Remote close: release devices but keep the accounting identity so
		// a later Disconnect still reports the duration.
		res := s.detachLocked()
		s.state = StateIdle
		convID := s.conversationID
		s.mu.Unlock()
		res.release()
		log.Printf("[%s] channel closed by remote", convID)

	case channel.Errored:
		s.state = StateError
		s.lastErr = ev.Err
		res := s.detachLocked()
		sessionID, bearer, startedAt := s.sessionID, s.sessionBearer, s.startedAt
		s.sessionID = ""
		s.sessionBearer = ""
		s.startedAt = time.Time{}
		convID := s.conversationID
		s.mu.Unlock()
		res.release()
		log.Printf("[%s] channel error (%s): %v", convID, diag.Classify(ev.Err), ev.Err)
		s.report(convID, sessionID, bearer, startedAt)

	default:
		s.mu.Unlock()
	}
}

// resources holds everything a torn-down conversation must release, so the
// release happens outside the session lock.
type resources struct {
	conn          Conn
	up            *uplink.Uplink
	queue         *playback.Queue
	releaseOutput func()
	mic           Microphone
	capAnalyzer   *volume.Analyzer
	playAnalyzer  *volume.Analyzer
}

// detachLocked removes the live conversation's resources from the session
// and bumps the generation so in-flight events become no-ops. Caller holds mu.
func (s *Session) detachLocked() resources {
	s.gen++
	res := resources{
		conn:          s.conn,
		up:            s.up,
		queue:         s.queue,
		releaseOutput: s.releaseOutput,
		mic:           s.mic,
		capAnalyzer:   s.capAnalyzer,
		playAnalyzer:  s.playAnalyzer,
	}
	s.conn = nil
	s.up = nil
	s.queue = nil
	s.releaseOutput = nil
	return res
}

func (r resources) release() {
	if r.up != nil {
		r.up.Stop()
	}
	if r.conn != nil {
		r.conn.Close()
	}
	if r.queue != nil {
		r.queue.Clear()
	}
	if r.releaseOutput != nil {
		r.releaseOutput()
	}
	if r.capAnalyzer != nil {
		r.capAnalyzer.Detach()
	}
	if r.playAnalyzer != nil {
		r.playAnalyzer.Detach()
	}
	if r.mic != nil {
		r.mic.Close()
	}
}

// report sends the conversation duration to the accounting collaborator.
// Best effort: failures are logged and swallowed. bearer is the token the
// conversation connected with, empty for anonymous sessions.
func (s *Session) report(convID, sessionID, bearer string, startedAt time.Time) {
	if sessionID == "" || s.reporter == nil {
		return
	}
	secs := int(time.Since(startedAt).Seconds())
	if secs < 0 {
		secs = 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.reporter.EndConversation(ctx, bearer, sessionID, secs); err != nil {
		log.Printf("[%s] duration report failed: %v", convID, err)
		return
	}
	log.Printf("[%s] reported %ds for session %s", convID, secs, sessionID)
}

// Disconnect ends the conversation: reports the elapsed duration best effort,
// releases every device and returns to idle. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.conn == nil && s.sessionID == "" && s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	res := s.detachLocked()
	sessionID, bearer, startedAt := s.sessionID, s.sessionBearer, s.startedAt
	s.sessionID = ""
	s.sessionBearer = ""
	s.startedAt = time.Time{}
	s.state = StateIdle
	s.lastErr = nil
	convID := s.conversationID
	s.mu.Unlock()

	res.release()
	s.report(convID, sessionID, bearer, startedAt)
	log.Printf("[%s] disconnected", convID)
}

// Close ends the conversation. Alias for Disconnect.
func (s *Session) Close() {
	s.Disconnect()
}

// Status returns the current lifecycle state.
func (s *Session) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the classified failure that put the session in the error
// state, or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// IsConnected reports whether a conversation is live.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnected, StateListening, StateSpeaking:
		return true
	}
	return false
}

// SessionID returns the accounting identifier of the live conversation, or
// empty.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Volume returns the current activity level in [0,1]: the caller's voice
// while listening, the agent's decoded speech while speaking, zero in every
// other state.
func (s *Session) Volume() float64 {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case StateListening:
		return s.capAnalyzer.Level()
	case StateSpeaking:
		return s.playAnalyzer.Level()
	}
	return 0
}
