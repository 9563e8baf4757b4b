package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrRecognizerUnavailable indicates the streaming transcription service
// handshake failed or timed out. The call should be ended gracefully; the
// process keeps serving other calls.
var ErrRecognizerUnavailable = errors.New("speech recognizer unavailable")

// DefaultBaseURL is the production streaming transcription endpoint.
const DefaultBaseURL = "wss://api.deepgram.com/v1/listen"

// sendQueueSize bounds the audio frame queue between the caller and the
// writer goroutine. Frames arrive at 50/s; the queue only fills if the
// upstream socket stalls, in which case dropping is preferable to blocking
// the media read loop.
const sendQueueSize = 256

// Config contains recognizer connection parameters.
type Config struct {
	APIKey         string
	Model          string
	Endpointing    time.Duration // silence gap that finalizes an utterance
	ConnectTimeout time.Duration
	BaseURL        string // overridable for tests; DefaultBaseURL when empty
}

// UtteranceHandler receives one complete, trimmed utterance per detected
// utterance boundary.
type UtteranceHandler func(text string)

// Recognizer maintains one streaming connection to the transcription service
// for the duration of a call. It forwards mu-law audio frames and surfaces
// only finalized, utterance-complete text through the registered handler.
type Recognizer struct {
	cfg         Config
	logger      *slog.Logger
	onUtterance UtteranceHandler

	conn      *websocket.Conn
	sendCh    chan []byte
	stop      chan struct{}
	closeOnce sync.Once
	recvDone  chan struct{}
}

// NewRecognizer creates a recognizer for one call. Start must be called
// before audio is forwarded.
func NewRecognizer(cfg Config, logger *slog.Logger, onUtterance UtteranceHandler) *Recognizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Endpointing <= 0 {
		cfg.Endpointing = 1200 * time.Millisecond
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	return &Recognizer{
		cfg:         cfg,
		logger:      logger,
		onUtterance: onUtterance,
		sendCh:      make(chan []byte, sendQueueSize),
		stop:        make(chan struct{}),
		recvDone:    make(chan struct{}),
	}
}

// Start opens the streaming connection, configured for the telephony audio
// format, and begins receiving transcription results.
func (r *Recognizer) Start(ctx context.Context) error {
	endpoint, err := r.buildURL()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecognizerUnavailable, err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: r.cfg.ConnectTimeout}
	header := http.Header{}
	header.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecognizerUnavailable, err)
	}
	r.conn = conn

	go r.writeLoop()
	go r.readLoop()

	r.logger.Debug("Recognizer connected",
		slog.String("model", r.cfg.Model),
		slog.Duration("endpointing", r.cfg.Endpointing),
	)

	return nil
}

// buildURL assembles the listen endpoint with the telephony audio parameters.
// Interim results are disabled: reacting to words that may still be revised
// produces broken turns.
func (r *Recognizer) buildURL() (string, error) {
	u, err := url.Parse(r.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("model", r.cfg.Model)
	q.Set("encoding", "mulaw")
	q.Set("sample_rate", "8000")
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("endpointing", strconv.FormatInt(r.cfg.Endpointing.Milliseconds(), 10))
	q.Set("vad_events", "true")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// SendAudio forwards one audio frame for transcription. Never blocks the
// caller: frames are queued to a writer goroutine, and silently dropped once
// the connection is closing.
func (r *Recognizer) SendAudio(frame []byte) {
	select {
	case <-r.stop:
		return
	default:
	}

	select {
	case r.sendCh <- frame:
	default:
		r.logger.Debug("Recognizer send queue full, dropping frame",
			slog.Int("frame_bytes", len(frame)),
		)
	}
}

// Close shuts down the connection and the background receive loop.
// Idempotent; safe to call before Start.
func (r *Recognizer) Close() {
	r.closeOnce.Do(func() {
		close(r.stop)
		if r.conn != nil {
			if err := r.conn.Close(); err != nil {
				r.logger.Debug("Recognizer connection close", slog.String("error", err.Error()))
			}
		}
	})
}

// writeLoop drains the frame queue onto the websocket.
func (r *Recognizer) writeLoop() {
	for {
		select {
		case <-r.stop:
			return
		case frame := <-r.sendCh:
			if err := r.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				r.logger.Debug("Recognizer write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// resultMessage mirrors the subset of the transcription result schema the
// recognizer acts on.
type resultMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// readLoop consumes transcription results, accumulating finalized text and
// delivering it at utterance boundaries.
func (r *Recognizer) readLoop() {
	defer close(r.recvDone)

	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		current.Reset()
		if text != "" && r.onUtterance != nil {
			r.onUtterance(text)
		}
	}

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case <-r.stop:
			default:
				r.logger.Debug("Recognizer read ended", slog.String("error", err.Error()))
			}
			return
		}

		msg, err := parseResult(data)
		if err != nil {
			r.logger.Warn("Unparseable recognizer message", slog.String("error", err.Error()))
			continue
		}

		switch msg.Type {
		case "Results":
			transcript := ""
			if len(msg.Channel.Alternatives) > 0 {
				transcript = msg.Channel.Alternatives[0].Transcript
			}

			// Only finalized text counts; interim results may still
			// be revised by the service.
			if transcript != "" && msg.IsFinal {
				current.WriteString(" ")
				current.WriteString(transcript)
			}

			if msg.SpeechFinal {
				flush()
			}

		case "UtteranceEnd":
			flush()

		case "SpeechStarted", "Metadata":
			// Informational only.

		default:
			r.logger.Debug("Ignoring recognizer message", slog.String("type", msg.Type))
		}
	}
}
