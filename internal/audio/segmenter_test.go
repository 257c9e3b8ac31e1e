package audio

import "testing"

func TestSegmenterEmitsEndOfUtteranceAfterSilence(t *testing.T) {
	s := NewSegmenter(20, 100) // 20ms chunks, 100ms silence -> ends fast in this test

	chunk := func(amplitude int16, n int) []int16 {
		out := make([]int16, n)
		for i := range out {
			out[i] = amplitude
		}
		return out
	}

	const samplesPerChunk = 16000 * 20 / 1000 // 320

	var sawSpeech, sawEOU bool
	for _, seg := range s.Push(chunk(2000, samplesPerChunk)) {
		if seg.SpeechDetected {
			sawSpeech = true
		}
	}
	if !sawSpeech {
		t.Fatal("expected speech to be detected on a loud chunk")
	}

	// push enough silent chunks to exceed 100ms silence threshold
	for i := 0; i < 10; i++ {
		for _, seg := range s.Push(chunk(0, samplesPerChunk)) {
			if seg.EndOfUtterance {
				sawEOU = true
			}
		}
	}

	if !sawEOU {
		t.Fatal("expected end-of-utterance after sustained silence")
	}
}

func TestPhraseSplitterSplitsOnSentenceBoundary(t *testing.T) {
	var p PhraseSplitter

	phrases := p.Push("Hello there. How can I help")
	if len(phrases) != 1 || phrases[0] != "Hello there. " {
		t.Fatalf("got %#v", phrases)
	}

	phrases = p.Push(" you today?")
	if len(phrases) != 1 || phrases[0] != "How can I help you today?" {
		t.Fatalf("got %#v", phrases)
	}

	if rest := p.Flush(); rest != "" {
		t.Fatalf("expected no remainder, got %q", rest)
	}
}
