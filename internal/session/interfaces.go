package session

import "context"

// Recognizer is the per-call streaming speech-to-text connection. Utterances
// are delivered through the callback registered at construction time, which
// the wiring layer points at Session.OnUtterance.
type Recognizer interface {
	Start(ctx context.Context) error
	SendAudio(frame []byte)
	Close()
}

// Responder generates the agent's side of the conversation. Implementations
// hold the turn history; methods are called from the session's event loop
// only.
type Responder interface {
	OpeningLine() string
	RecordAgentTurn(text string)
	RespondStreaming(ctx context.Context, calleeUtterance string, onSentence func(string)) (string, error)
}

// Synthesizer streams one agent utterance to the voice synthesis service.
// Done is closed when all audio for the utterance has been delivered.
type Synthesizer interface {
	Connect(ctx context.Context) error
	SendText(text string) error
	Flush() error
	Done() <-chan struct{}
	Close()
}

// SynthesizerFactory creates a fresh synthesizer for one agent turn. The
// synthesis protocol is a one-shot input stream, so connections are not
// reused across turns. Decoded PCM chunks are delivered to onAudio.
type SynthesizerFactory func(onAudio func(pcm []byte)) Synthesizer

// MediaSender pushes one outbound mu-law frame onto the telephony media
// stream.
type MediaSender interface {
	SendMedia(streamID string, mulaw []byte) error
}
