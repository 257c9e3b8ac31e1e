package media

import "testing"

func TestMulawRoundTripApproximate(t *testing.T) {
	samples := []int16{0, 100, -100, 1000, -1000, 30000, -30000}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[2*i] = byte(uint16(s))
		pcm[2*i+1] = byte(uint16(s) >> 8)
	}

	ulaw := EncodeMulaw(pcm)
	roundTripped := DecodeMulaw(ulaw)

	if len(roundTripped) != len(pcm) {
		t.Fatalf("length mismatch: got %d want %d", len(roundTripped), len(pcm))
	}

	for i, want := range samples {
		got := int16(uint16(roundTripped[2*i]) | uint16(roundTripped[2*i+1])<<8)
		diff := int(got) - int(want)
		if diff < 0 {
			diff = -diff
		}
		// mu-law is lossy; tolerate companding error proportional to magnitude.
		tolerance := int(want)/16 + 50
		if tolerance < 0 {
			tolerance = -tolerance
		}
		if diff > tolerance {
			t.Errorf("sample %d: got %d want ~%d (diff %d > tolerance %d)", i, got, want, diff, tolerance)
		}
	}
}

func TestResampleLinearPreservesLength(t *testing.T) {
	pcm := make([]byte, 320) // 160 samples at 8kHz
	got := ResampleLinear(pcm, 8000, 16000)
	if len(got) != 640 {
		t.Errorf("got %d bytes, want 640", len(got))
	}

	back := ResampleLinear(got, 16000, 8000)
	if len(back) != len(pcm) {
		t.Errorf("got %d bytes after round trip, want %d", len(back), len(pcm))
	}
}
