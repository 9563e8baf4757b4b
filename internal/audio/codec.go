package audio

import (
	"encoding/binary"
	"fmt"
)

const (
	// G.711 mu-law constants
	mulawBias = 0x84
	mulawClip = 32635

	// SynthesisSampleRate is the sample rate of audio produced by the
	// speech synthesizer.
	SynthesisSampleRate = 24000

	// TelephonySampleRate is the sample rate of the telephony media stream.
	TelephonySampleRate = 8000
)

// DecodeError indicates a malformed audio payload. Frames that fail to decode
// must be dropped whole; truncating to the nearest sample frame would shift
// phase for every subsequent chunk.
type DecodeError struct {
	Reason string
	Length int
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio decode error: %s (length %d)", e.Reason, e.Length)
}

// PCMToMulaw encodes 16-bit little-endian linear PCM into G.711 mu-law.
// The input must contain a whole number of samples.
func PCMToMulaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, &DecodeError{Reason: "PCM data is not a whole number of 16-bit samples", Length: len(pcm)}
	}

	out := make([]byte, len(pcm)/2)
	for i := 0; i < len(out); i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = encodeMulawSample(sample)
	}

	return out, nil
}

// MulawToPCM decodes G.711 mu-law into 16-bit little-endian linear PCM.
func MulawToPCM(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(decodeMulawSample(b)))
	}
	return out
}

// Resample24kTo8k downsamples 16-bit little-endian PCM from the synthesis rate
// (24 kHz) to the telephony rate (8 kHz) using linear interpolation. This is
// adequate for intelligible speech; it is not a spectral resampler.
func Resample24kTo8k(pcm24k []byte) ([]byte, error) {
	if len(pcm24k)%2 != 0 {
		return nil, &DecodeError{Reason: "PCM data is not a whole number of 16-bit samples", Length: len(pcm24k)}
	}

	srcCount := len(pcm24k) / 2
	if srcCount == 0 {
		return []byte{}, nil
	}

	ratio := float64(SynthesisSampleRate) / float64(TelephonySampleRate)
	dstCount := srcCount * TelephonySampleRate / SynthesisSampleRate
	out := make([]byte, dstCount*2)

	for i := 0; i < dstCount; i++ {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		s0 := int16(binary.LittleEndian.Uint16(pcm24k[idx*2:]))
		s1 := s0
		if idx+1 < srcCount {
			s1 = int16(binary.LittleEndian.Uint16(pcm24k[(idx+1)*2:]))
		}

		interpolated := float64(s0) + (float64(s1)-float64(s0))*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(interpolated)))
	}

	return out, nil
}

// SynthesisToTelephony converts a chunk of synthesizer output (16-bit PCM at
// 24 kHz) into the telephony transport encoding (mu-law at 8 kHz).
func SynthesisToTelephony(pcm24k []byte) ([]byte, error) {
	pcm8k, err := Resample24kTo8k(pcm24k)
	if err != nil {
		return nil, err
	}
	return PCMToMulaw(pcm8k)
}

// encodeMulawSample converts a single linear PCM sample to mu-law.
func encodeMulawSample(sample int16) byte {
	value := int32(sample)

	var sign byte
	if value < 0 {
		value = -value
		sign = 0x80
	}
	if value > mulawClip {
		value = mulawClip
	}
	value += mulawBias

	exponent := 7
	for mask := int32(0x4000); exponent > 0 && value&mask == 0; mask >>= 1 {
		exponent--
	}

	mantissa := byte((value >> uint(exponent+3)) & 0x0F)
	return ^(sign | byte(exponent)<<4 | mantissa)
}

// decodeMulawSample converts a single mu-law byte to a linear PCM sample.
func decodeMulawSample(ulaw byte) int16 {
	ulaw = ^ulaw

	sign := ulaw & 0x80
	exponent := (ulaw >> 4) & 0x07
	mantissa := ulaw & 0x0F

	value := ((int32(mantissa) << 3) + mulawBias) << exponent
	value -= mulawBias

	if sign != 0 {
		value = -value
	}
	return int16(value)
}
