package media

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Inbound event names on the media-stream channel.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
)

// InboundMessage is one message-framed event received from the telephony
// provider over the media-stream channel.
type InboundMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
}

// StartPayload carries stream identification and the custom parameters set in
// the webhook handshake document.
type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid,omitempty"`
	CallSID          string            `json:"callSid,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaPayload carries one base64-encoded mu-law audio frame.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// OutboundMedia is the message sent back to the provider carrying synthesized
// audio for playback on the call.
type OutboundMedia struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     OutboundAudio `json:"media"`
}

// OutboundAudio wraps the base64-encoded mu-law frame of an outbound message.
type OutboundAudio struct {
	Payload string `json:"payload"`
}

// ParseInbound decodes one raw media-stream message. Unknown events are
// returned as-is so callers can log and skip them; the provider adds event
// types over time.
func ParseInbound(data []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse media message: %w", err)
	}

	if msg.Event == "" {
		return nil, fmt.Errorf("media message has no event field")
	}

	return &msg, nil
}

// AudioFrame decodes the base64 audio payload of a media event.
func (m *InboundMessage) AudioFrame() ([]byte, error) {
	if m.Media == nil {
		return nil, fmt.Errorf("message event %q has no media payload", m.Event)
	}

	frame, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode media payload: %w", err)
	}

	return frame, nil
}

// CallSetupID returns the call-setup identifier forwarded by the webhook
// handshake, or empty if the start payload did not carry one.
func (m *InboundMessage) CallSetupID() string {
	if m.Start == nil {
		return ""
	}
	return m.Start.CustomParameters["callSetupId"]
}

// EncodeOutboundMedia builds the wire form of an outbound audio message from
// a raw mu-law frame.
func EncodeOutboundMedia(streamSID string, mulaw []byte) ([]byte, error) {
	msg := OutboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media: OutboundAudio{
			Payload: base64.StdEncoding.EncodeToString(mulaw),
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outbound media: %w", err)
	}

	return data, nil
}
