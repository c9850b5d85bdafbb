package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestPCM16BytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234, -4321}
	got := BytesToPCM16(PCM16ToBytes(in))
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], in[i])
		}
	}
}

func TestMulawRoundTripIsClose(t *testing.T) {
	// mu-law is lossy; verify the reconstruction error stays proportional to
	// the step size near each input amplitude.
	for _, s := range []int16{0, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000} {
		got := MulawDecode(MulawEncode(s))
		diff := int32(got) - int32(s)
		if diff < 0 {
			diff = -diff
		}
		limit := int32(s) / 16
		if limit < 0 {
			limit = -limit
		}
		if limit < 16 {
			limit = 16
		}
		if diff > limit {
			t.Fatalf("sample %d decoded to %d (diff %d > %d)", s, got, diff, limit)
		}
	}
}

func TestResampleLengths(t *testing.T) {
	in := make([]int16, 160)
	up := Upsample2x(in)
	if len(up) != 320 {
		t.Fatalf("Upsample2x len = %d, want 320", len(up))
	}
	down := Downsample2x(up)
	if len(down) != 160 {
		t.Fatalf("Downsample2x len = %d, want 160", len(down))
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := PCM16ToBytes(make([]int16, 800))
	wav := EncodeWAV(pcm, 16000)
	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Fatalf("missing RIFF header")
	}
	if !bytes.Contains(wav[:44], []byte("WAVE")) {
		t.Fatalf("missing WAVE marker")
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav len = %d, want %d", len(wav), 44+len(pcm))
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
}
