// Package stt provides the per-call streaming speech-to-text client. It
// forwards telephony audio frames over a websocket connection and delivers
// finalized utterances, detected by the service's silence endpointing, to a
// registered callback.
package stt
