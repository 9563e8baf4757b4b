// Package audio handles format conversion between the telephony transport
// encoding (G.711 mu-law, 8 kHz mono) and the synthesis engine's linear PCM
// (16-bit, 24 kHz). Conversions are stateless and run on every media chunk.
package audio
