package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/orgpilot/voice-agent-service/internal/audio"
)

const (
	defaultSettleTimeout = 10 * time.Second
	defaultSettleDelay   = 500 * time.Millisecond
	defaultGoodbyeGrace  = 1500 * time.Millisecond
	defaultRetryDelay    = 500 * time.Millisecond

	eventQueueSize = 16
)

// apologyLine is spoken when response generation fails twice in a row.
// Hanging up silently would leave the callee confused about what happened.
const apologyLine = "I apologize, I'm having technical difficulties. Someone will call you back shortly. Goodbye!"

// goodbyeSignals are the phrases that mark an agent reply as a farewell.
// Matching is case-insensitive substring search.
var goodbyeSignals = []string{"goodbye", "bye", "have a great day", "take care", "talk soon"}

// Hooks are optional instrumentation callbacks invoked from the session's
// goroutines. Nil fields are skipped; implementations must not block.
type Hooks struct {
	TurnCompleted    func(duration time.Duration)
	ResponderRequest func()
	ResponderFailure func()
	ResponderRetry   func()
	SynthesizerError func()
}

// Config holds the session timing knobs.
type Config struct {
	// SettleTimeout bounds the wait for the synthesizer to report that all
	// audio for a turn has been delivered.
	SettleTimeout time.Duration

	// SettleDelay is the extra playout allowance after the last audio
	// chunk, covering transport and carrier buffering.
	SettleDelay time.Duration

	// GoodbyeGrace is how long the farewell is allowed to play out before
	// the session ends.
	GoodbyeGrace time.Duration

	// RetryDelay is the backoff before the single response-generation
	// retry.
	RetryDelay time.Duration

	// Hooks receive lifecycle notifications for instrumentation.
	Hooks Hooks
}

func (c *Config) applyDefaults() {
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = defaultSettleTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.GoodbyeGrace <= 0 {
		c.GoodbyeGrace = defaultGoodbyeGrace
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
}

type eventKind int

const (
	evUtterance eventKind = iota
	evStop
)

type event struct {
	kind eventKind
	text string
}

// Info is a point-in-time snapshot of a session for monitoring.
type Info struct {
	StreamID       string        `json:"stream_id"`
	State          string        `json:"state"`
	StartTime      time.Time     `json:"start_time"`
	LastActivity   time.Time     `json:"last_activity"`
	Duration       time.Duration `json:"duration"`
	FramesReceived uint64        `json:"frames_received"`
	Turns          uint64        `json:"turns_completed"`
}

// Session orchestrates one live call: inbound audio flows to the recognizer,
// completed utterances drive response generation, and synthesized replies
// flow back out through the media sender. All conversation logic runs on a
// single event loop goroutine; ReceiveAudio and OnUtterance are safe to call
// from transport goroutines.
type Session struct {
	streamID string
	cfg      Config
	logger   *slog.Logger

	recognizer     Recognizer
	responder      Responder
	newSynthesizer SynthesizerFactory
	sender         MediaSender

	mu             sync.Mutex
	state          State
	isSpeaking     bool
	currentSynth   Synthesizer
	startTime      time.Time
	lastActivity   time.Time
	framesReceived uint64
	turnsCompleted uint64

	events  chan event
	stopped chan struct{}
	endOnce sync.Once
}

// New creates a session for one media stream. Start must be called before
// any audio is forwarded.
func New(streamID string, cfg Config, logger *slog.Logger, recognizer Recognizer, responder Responder, newSynthesizer SynthesizerFactory, sender MediaSender) *Session {
	cfg.applyDefaults()
	now := time.Now()
	return &Session{
		streamID:       streamID,
		cfg:            cfg,
		logger:         logger.With(slog.String("stream_id", streamID)),
		recognizer:     recognizer,
		responder:      responder,
		newSynthesizer: newSynthesizer,
		sender:         sender,
		state:          StateConnecting,
		startTime:      now,
		lastActivity:   now,
		events:         make(chan event, eventQueueSize),
		stopped:        make(chan struct{}),
	}
}

// Start connects the recognizer and returns; the opening line plays on the
// event loop goroutine so the caller's transport loop keeps draining inbound
// frames while the greeting is synthesized.
func (s *Session) Start(ctx context.Context) error {
	s.setState(StateSpeakingOpening)

	if err := s.recognizer.Start(ctx); err != nil {
		s.End()
		return fmt.Errorf("starting recognizer: %w", err)
	}

	go func() {
		opening := s.responder.OpeningLine()
		if err := s.speak(ctx, opening); err != nil {
			s.logger.Error("Opening line synthesis failed", slog.String("error", err.Error()))
			if s.cfg.Hooks.SynthesizerError != nil {
				s.cfg.Hooks.SynthesizerError()
			}
			s.End()
			return
		}
		s.responder.RecordAgentTurn(opening)
		s.setState(StateListening)
		s.run(ctx)
	}()

	s.logger.Info("Call session started")
	return nil
}

// ReceiveAudio forwards one inbound mu-law frame to the recognizer. Frames
// arriving after the session ended are dropped.
func (s *Session) ReceiveAudio(frame []byte) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.framesReceived++
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.recognizer.SendAudio(frame)
}

// OnUtterance queues a completed callee utterance for the event loop.
// Utterances arriving while the agent is speaking are the recognizer picking
// up our own synthesized audio, so they are discarded rather than queued.
func (s *Session) OnUtterance(text string) {
	s.mu.Lock()
	if s.state == StateEnded || s.isSpeaking {
		speaking := s.isSpeaking
		s.mu.Unlock()
		s.logger.Debug("Ignoring utterance",
			slog.Bool("speaking", speaking),
			slog.String("text", text))
		return
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	select {
	case s.events <- event{kind: evUtterance, text: text}:
	default:
		s.logger.Warn("Event queue full, dropping utterance")
	}
}

// Stop requests an orderly shutdown. Safe to call multiple times and from
// any goroutine.
func (s *Session) Stop() {
	s.End()
	select {
	case s.events <- event{kind: evStop}:
	default:
	}
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns monitoring info for the session.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		StreamID:       s.streamID,
		State:          s.state.String(),
		StartTime:      s.startTime,
		LastActivity:   s.lastActivity,
		Duration:       time.Since(s.startTime),
		FramesReceived: s.framesReceived,
		Turns:          s.turnsCompleted,
	}
}

// LastActivity reports when the session last saw inbound traffic.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// End releases the session's resources and moves it to the terminal state.
// Idempotent; every exit path funnels through here.
func (s *Session) End() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.state = StateEnded
		s.isSpeaking = false
		synth := s.currentSynth
		s.currentSynth = nil
		duration := time.Since(s.startTime)
		turns := s.turnsCompleted
		s.mu.Unlock()

		if synth != nil {
			synth.Close()
		}
		s.recognizer.Close()
		close(s.stopped)

		s.logger.Info("Call session ended",
			slog.Duration("duration", duration),
			slog.Uint64("turns", turns))
	})
}

func (s *Session) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.End()
			return
		case <-s.stopped:
			return
		case ev := <-s.events:
			switch ev.kind {
			case evUtterance:
				s.handleUtterance(ctx, ev.text)
			case evStop:
				s.End()
				return
			}
			if s.State() == StateEnded {
				return
			}
		}
	}
}

// handleUtterance runs one full response cycle: generate a reply, stream it
// through a fresh synthesizer and wait for playout. Generation failures get
// one retry; a second failure ends the call after an apology.
func (s *Session) handleUtterance(ctx context.Context, text string) {
	turnStart := time.Now()

	s.mu.Lock()
	s.isSpeaking = true
	s.state = StateSpeakingResponse
	s.mu.Unlock()

	s.logger.Info("Utterance received", slog.String("text", text))

	synth := s.newSynthesizer(s.deliverAudio)
	if err := synth.Connect(ctx); err != nil {
		s.logger.Error("Synthesizer connection failed", slog.String("error", err.Error()))
		if s.cfg.Hooks.SynthesizerError != nil {
			s.cfg.Hooks.SynthesizerError()
		}
		s.End()
		return
	}
	s.setCurrentSynth(synth)

	var sentencesSent int
	onSentence := func(sentence string) {
		sentencesSent++
		if err := synth.SendText(sentence); err != nil {
			s.logger.Debug("Dropping sentence, synthesizer write failed",
				slog.String("error", err.Error()))
		}
	}

	if s.cfg.Hooks.ResponderRequest != nil {
		s.cfg.Hooks.ResponderRequest()
	}
	reply, err := s.responder.RespondStreaming(ctx, text, onSentence)
	if err != nil {
		if s.cfg.Hooks.ResponderFailure != nil {
			s.cfg.Hooks.ResponderFailure()
		}
		s.logger.Warn("Response generation failed, retrying",
			slog.String("error", err.Error()))
		select {
		case <-time.After(s.cfg.RetryDelay):
		case <-ctx.Done():
			s.End()
			return
		}
		// Sentences the first attempt already handed to the synthesizer
		// have been spoken; the retry must not repeat them.
		skip := sentencesSent
		onRetry := func(sentence string) {
			if skip > 0 {
				skip--
				return
			}
			onSentence(sentence)
		}
		if s.cfg.Hooks.ResponderRetry != nil {
			s.cfg.Hooks.ResponderRetry()
		}
		if s.cfg.Hooks.ResponderRequest != nil {
			s.cfg.Hooks.ResponderRequest()
		}
		reply, err = s.responder.RespondStreaming(ctx, text, onRetry)
	}
	if err != nil {
		if s.cfg.Hooks.ResponderFailure != nil {
			s.cfg.Hooks.ResponderFailure()
		}
		s.logger.Error("Response generation failed twice, ending call",
			slog.String("error", err.Error()))
		if sendErr := synth.SendText(apologyLine); sendErr == nil {
			_ = synth.Flush()
			s.awaitPlayout(ctx, synth)
		}
		s.End()
		return
	}

	if err := synth.Flush(); err != nil {
		s.logger.Debug("Synthesizer flush failed", slog.String("error", err.Error()))
	}
	s.awaitPlayout(ctx, synth)
	synth.Close()
	s.setCurrentSynth(nil)

	s.mu.Lock()
	s.isSpeaking = false
	if s.state == StateSpeakingResponse {
		s.state = StateListening
	}
	s.turnsCompleted++
	s.mu.Unlock()

	if s.cfg.Hooks.TurnCompleted != nil {
		s.cfg.Hooks.TurnCompleted(time.Since(turnStart))
	}

	if containsGoodbye(reply) {
		s.logger.Info("Farewell detected, ending call")
		select {
		case <-time.After(s.cfg.GoodbyeGrace):
		case <-ctx.Done():
		}
		s.End()
	}
}

// speak synthesizes one fixed line, used for the opening greeting.
func (s *Session) speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.isSpeaking = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.isSpeaking = false
		s.mu.Unlock()
	}()

	synth := s.newSynthesizer(s.deliverAudio)
	if err := synth.Connect(ctx); err != nil {
		return err
	}
	s.setCurrentSynth(synth)
	defer s.setCurrentSynth(nil)
	defer synth.Close()

	if err := synth.SendText(text); err != nil {
		return err
	}
	if err := synth.Flush(); err != nil {
		return err
	}
	s.awaitPlayout(ctx, synth)
	return nil
}

// awaitPlayout blocks until the synthesizer reports completion, bounded by
// the settle timeout, then allows a short playout delay for audio still in
// flight toward the carrier.
func (s *Session) awaitPlayout(ctx context.Context, synth Synthesizer) {
	select {
	case <-synth.Done():
	case <-time.After(s.cfg.SettleTimeout):
		s.logger.Warn("Synthesizer did not finish within settle timeout")
		return
	case <-ctx.Done():
		return
	}

	select {
	case <-time.After(s.cfg.SettleDelay):
	case <-ctx.Done():
	}
}

// deliverAudio converts one synthesized PCM chunk to telephony mu-law and
// pushes it onto the media stream.
func (s *Session) deliverAudio(pcm []byte) {
	mulaw, err := audio.SynthesisToTelephony(pcm)
	if err != nil {
		s.logger.Warn("Dropping malformed synthesis chunk",
			slog.String("error", err.Error()))
		return
	}
	if err := s.sender.SendMedia(s.streamID, mulaw); err != nil {
		s.logger.Debug("Outbound media send failed", slog.String("error", err.Error()))
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state != StateEnded {
		s.state = state
	}
	s.mu.Unlock()
}

func (s *Session) setCurrentSynth(synth Synthesizer) {
	s.mu.Lock()
	s.currentSynth = synth
	s.mu.Unlock()
}

// containsGoodbye reports whether the agent's reply signals the end of the
// conversation.
func containsGoodbye(reply string) bool {
	lower := strings.ToLower(reply)
	for _, signal := range goodbyeSignals {
		if strings.Contains(lower, signal) {
			return true
		}
	}
	return false
}
