package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSynthesizerUnavailable indicates the voice synthesis service handshake
// failed or timed out.
var ErrSynthesizerUnavailable = errors.New("speech synthesizer unavailable")

// DefaultBaseURL is the production synthesis endpoint; the voice id is
// appended as a path segment.
const DefaultBaseURL = "wss://api.elevenlabs.io/v1/text-to-speech"

// Config contains synthesizer connection parameters.
type Config struct {
	APIKey          string
	VoiceID         string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	ConnectTimeout  time.Duration
	BaseURL         string // overridable for tests; DefaultBaseURL when empty
}

// AudioHandler receives each decoded audio payload as raw 16-bit PCM at the
// synthesis sample rate. Codec conversion and transport framing are the
// caller's responsibility.
type AudioHandler func(pcm []byte)

// Synthesizer streams one agent utterance to the voice synthesis service.
// The synthesis protocol is a one-shot input stream, so a fresh Synthesizer
// is created per agent turn and closed once that turn's audio is delivered.
type Synthesizer struct {
	cfg     Config
	logger  *slog.Logger
	onAudio AudioHandler

	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// NewSynthesizer creates a synthesizer for one utterance.
func NewSynthesizer(cfg Config, logger *slog.Logger, onAudio AudioHandler) *Synthesizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2_5"
	}
	if cfg.Stability <= 0 {
		cfg.Stability = 0.5
	}
	if cfg.SimilarityBoost <= 0 {
		cfg.SimilarityBoost = 0.75
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	return &Synthesizer{
		cfg:     cfg,
		logger:  logger,
		onAudio: onAudio,
		done:    make(chan struct{}),
	}
}

// initMessage is the required handshake carrying voice parameters and the
// API key.
type initMessage struct {
	Text                 string        `json:"text"`
	VoiceSettings        voiceSettings `json:"voice_settings"`
	XIAPIKey             string        `json:"xi_api_key"`
	TryTriggerGeneration bool          `json:"try_trigger_generation"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// textMessage carries one chunk of text for incremental synthesis. An empty
// text signals end-of-input.
type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

// audioMessage is one decoded response from the synthesis stream.
type audioMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
}

// Connect opens the connection and sends the initialization handshake.
func (s *Synthesizer) Connect(ctx context.Context) error {
	endpoint, err := s.buildURL()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSynthesizerUnavailable, err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSynthesizerUnavailable, err)
	}
	s.conn = conn

	init := initMessage{
		Text: " ",
		VoiceSettings: voiceSettings{
			Stability:       s.cfg.Stability,
			SimilarityBoost: s.cfg.SimilarityBoost,
		},
		XIAPIKey:             s.cfg.APIKey,
		TryTriggerGeneration: true,
	}
	if err := s.writeJSON(init); err != nil {
		s.Close()
		s.markDone()
		return fmt.Errorf("%w: init handshake: %v", ErrSynthesizerUnavailable, err)
	}

	go s.readLoop()

	return nil
}

// buildURL assembles the stream-input endpoint for the configured voice.
func (s *Synthesizer) buildURL() (string, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + s.cfg.VoiceID + "/stream-input"
	q := u.Query()
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", "pcm_24000")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// SendText forwards one chunk of text, typically a sentence, for incremental
// synthesis. A trailing space keeps the service's word segmentation stable
// across chunk boundaries.
func (s *Synthesizer) SendText(text string) error {
	return s.writeJSON(textMessage{Text: text + " ", TryTriggerGeneration: true})
}

// Flush signals end-of-input so the service emits any remaining buffered
// audio, followed by its final marker.
func (s *Synthesizer) Flush() error {
	return s.writeJSON(textMessage{Text: ""})
}

// Done is closed once the service has delivered all audio for this utterance
// (its final marker arrived) or the connection ended.
func (s *Synthesizer) Done() <-chan struct{} {
	return s.done
}

// Close shuts down the connection and the receive loop. Idempotent; must be
// called even when synthesis is interrupted mid-utterance.
func (s *Synthesizer) Close() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.Debug("Synthesizer connection close", slog.String("error", err.Error()))
			}
		}
		// If the receive loop never ran (failed connect), release waiters.
		if s.conn == nil {
			s.markDone()
		}
	})
}

func (s *Synthesizer) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Synthesizer) writeJSON(v any) error {
	if s.conn == nil {
		return fmt.Errorf("synthesizer not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// readLoop decodes audio payloads and hands them to the registered handler
// until the final marker or a connection error.
func (s *Synthesizer) readLoop() {
	defer s.markDone()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("Synthesizer read ended", slog.String("error", err.Error()))
			return
		}

		var msg audioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Unparseable synthesizer message", slog.String("error", err.Error()))
			continue
		}

		if msg.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				s.logger.Warn("Invalid audio payload from synthesizer", slog.String("error", err.Error()))
				continue
			}
			if s.onAudio != nil {
				s.onAudio(pcm)
			}
		}

		if msg.IsFinal {
			return
		}
	}
}
