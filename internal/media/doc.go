// Package media defines the message framing of the bidirectional telephony
// media-stream channel: start/media/stop events inbound and audio messages
// outbound, with base64 payload handling.
package media
