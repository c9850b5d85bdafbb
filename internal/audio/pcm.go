// Package audio holds small PCM helpers shared by the transports: μ-law
// conversion for telephony legs, PCM16LE byte packing, and WAV encoding for
// debug capture.
package audio

import "encoding/binary"

// BytesToPCM16 unpacks little-endian PCM16 bytes into samples.
func BytesToPCM16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// PCM16ToBytes packs samples as little-endian PCM16 bytes.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MulawDecode expands one G.711 μ-law byte to a PCM16 sample.
func MulawDecode(m byte) int16 {
	m = ^m
	sign := m & 0x80
	exponent := (m >> 4) & 0x07
	mantissa := m & 0x0F
	sample := (int16(mantissa)<<3 + mulawBias) << exponent
	sample -= mulawBias
	if sign != 0 {
		return -sample
	}
	return sample
}

// MulawEncode compresses one PCM16 sample to a G.711 μ-law byte.
func MulawEncode(s int16) byte {
	sign := byte(0)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := int16(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// MulawToPCM16 expands a μ-law byte stream into PCM16 samples.
func MulawToPCM16(in []byte) []int16 {
	out := make([]int16, len(in))
	for i, b := range in {
		out[i] = MulawDecode(b)
	}
	return out
}

// PCM16ToMulaw compresses PCM16 samples into a μ-law byte stream.
func PCM16ToMulaw(in []int16) []byte {
	out := make([]byte, len(in))
	for i, s := range in {
		out[i] = MulawEncode(s)
	}
	return out
}

// Downsample2x halves the sample rate by dropping every other sample, used
// for 16k -> 8k conversion on the telephony leg.
func Downsample2x(in []int16) []int16 {
	out := make([]int16, 0, (len(in)+1)/2)
	for i := 0; i < len(in); i += 2 {
		out = append(out, in[i])
	}
	return out
}

// Upsample2x doubles the sample rate by linear interpolation, used for
// 8k -> 16k conversion on the telephony leg.
func Upsample2x(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, 0, len(in)*2)
	for i := 0; i < len(in); i++ {
		out = append(out, in[i])
		next := in[i]
		if i+1 < len(in) {
			next = in[i+1]
		}
		out = append(out, int16((int32(in[i])+int32(next))/2))
	}
	return out
}
