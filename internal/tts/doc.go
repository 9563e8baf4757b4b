// Package tts provides the per-utterance streaming text-to-speech client.
// Text chunks are forwarded incrementally over a websocket connection and
// decoded audio payloads are delivered to a registered callback as raw PCM.
package tts
