package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orgpilot/voice-agent-service/internal/media"
	"github.com/orgpilot/voice-agent-service/internal/registry"
	"github.com/orgpilot/voice-agent-service/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The provider connects from its own infrastructure, not a browser.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSender delivers outbound media frames over the stream's WebSocket.
// gorilla connections allow one concurrent writer, hence the mutex.
type wsSender struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	onFrame func()
}

func (s *wsSender) SendMedia(streamID string, mulaw []byte) error {
	payload, err := media.EncodeOutboundMedia(streamID, mulaw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	if s.onFrame != nil {
		s.onFrame()
	}
	return nil
}

// handleMediaStream implements the /media-stream endpoint: the telephony
// provider connects here once per call and streams audio both ways.
func (h *HTTPServer) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Media stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.logger.Info("Media stream connected", slog.String("remote", conn.RemoteAddr().String()))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sender := &wsSender{conn: conn, onFrame: h.metrics.RecordFrameSent}

	var sess *session.Session
	var streamID string
	var callStarted time.Time

	defer func() {
		if sess != nil {
			h.sessions.Remove(streamID)
			h.metrics.RecordCallEnded(time.Since(callStarted).Seconds())
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("Media stream read error", slog.String("error", err.Error()))
			}
			return
		}

		msg, err := media.ParseInbound(data)
		if err != nil {
			h.metrics.RecordDecodeError()
			h.logger.Debug("Dropping unparseable media message", slog.String("error", err.Error()))
			continue
		}

		switch msg.Event {
		case media.EventConnected:
			h.logger.Debug("Media stream handshake complete")

		case media.EventStart:
			if sess != nil {
				h.logger.Warn("Duplicate start event on media stream",
					slog.String("stream_id", streamID))
				continue
			}

			if msg.Start == nil {
				h.logger.Warn("Start event without payload")
				continue
			}

			streamID = msg.Start.StreamSID
			if streamID == "" {
				streamID = msg.StreamSID
			}

			spec := h.claimSpec(msg)
			sess, err = h.builder(ctx, streamID, spec, sender)
			if err != nil {
				h.logger.Error("Session start failed",
					slog.String("stream_id", streamID),
					slog.String("error", err.Error()),
				)
				h.metrics.RecordRecognizerError()
				return
			}

			if err := h.sessions.Add(streamID, sess); err != nil {
				h.logger.Error("Session registration failed",
					slog.String("stream_id", streamID),
					slog.String("error", err.Error()),
				)
				sess.Stop()
				sess = nil
				return
			}
			callStarted = time.Now()
			h.metrics.RecordCallStarted()

		case media.EventMedia:
			if sess == nil {
				continue
			}
			frame, err := msg.AudioFrame()
			if err != nil {
				h.metrics.RecordDecodeError()
				continue
			}
			h.metrics.RecordFrameReceived()
			sess.ReceiveAudio(frame)

		case media.EventStop:
			h.logger.Info("Media stream stop event", slog.String("stream_id", streamID))
			return

		case media.EventMark:
			// Playback checkpoints are not used.

		default:
			h.logger.Debug("Ignoring unknown media event", slog.String("event", msg.Event))
		}
	}
}

// claimSpec resolves the call specification for a starting stream. A missing
// registration falls back to the neutral default so an answered call is
// never left hanging.
func (h *HTTPServer) claimSpec(msg *media.InboundMessage) registry.CallSpec {
	callSetupID := msg.CallSetupID()

	spec, err := h.registry.Claim(callSetupID)
	if err != nil {
		h.logger.Warn("No registration for call setup ID, using defaults",
			slog.String("call_setup_id", callSetupID),
		)
		spec = registry.DefaultSpec()
	}
	h.metrics.SetRegisteredSpecs(h.registry.Len())

	return spec
}
