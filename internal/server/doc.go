// Package server implements the HTTP surface of the voice agent: call
// placement and registration endpoints, the telephony voice webhook, the
// bidirectional media-stream WebSocket, and monitoring/management endpoints.
package server
