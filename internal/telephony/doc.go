// Package telephony places outbound calls through the provider's REST API
// and renders the TwiML that bridges answered calls onto the media stream.
package telephony
