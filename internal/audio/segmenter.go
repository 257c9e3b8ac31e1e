// Package audio is the Audio Pipeline (spec.md §4.F): per-call VAD
// segmentation, STT recognition, Brain invocation, TTS synthesis, and
// barge-in handling, wired to a media.Stream and the Call Registry.
package audio

import (
	"time"
)

// Segmenter buffers inbound PCM and decides when a contiguous span of
// caller speech has ended, based on an energy threshold and the tenant's
// STT_CHUNK_MS/STT_SILENCE_MS tunables (spec.md §4.F "Segmentation").
//
// No library in the retrieval pack implements voice-activity detection;
// this is accordingly a justified standard-library-only component
// (DESIGN.md), using the same simple energy-threshold approach common to
// telephony VAD implementations.
type Segmenter struct {
	chunkSamples   int // samples per STT_CHUNK_MS at 16kHz mono
	silenceSamples int // samples of continuous silence that end an utterance
	threshold      int16

	buf           []int16
	utter         []int16 // every sample since speech started
	silenceRun    int
	speechStarted bool
}

// NewSegmenter builds a Segmenter for 16kHz mono PCM.
func NewSegmenter(chunkMS, silenceMS int) *Segmenter {
	const sampleRate = 16000
	return &Segmenter{
		chunkSamples:   sampleRate * chunkMS / 1000,
		silenceSamples: sampleRate * silenceMS / 1000,
		threshold:      400, // empirically quiet-room noise floor for 16-bit PCM
	}
}

// Segment is one STT_CHUNK_MS chunk of buffered PCM. On the segment with
// EndOfUtterance set (once STT_SILENCE_MS of silence has followed speech),
// PCM instead holds the whole utterance, from the first speech sample
// through the trailing silence.
type Segment struct {
	PCM             []int16
	EndOfUtterance  bool
	SpeechDetected  bool // true the instant any sample exceeds threshold, for barge-in
}

// Push appends 16-bit PCM samples (already resampled to 16kHz) and returns
// zero or more segments ready for recognition.
func (s *Segmenter) Push(pcm []int16) []Segment {
	var out []Segment

	for _, sample := range pcm {
		mag := sample
		if mag < 0 {
			mag = -mag
		}

		if mag > s.threshold {
			s.speechStarted = true
			s.silenceRun = 0
		} else if s.speechStarted {
			s.silenceRun++
		}

		s.buf = append(s.buf, sample)
		if s.speechStarted {
			s.utter = append(s.utter, sample)
		}

		if len(s.buf) >= s.chunkSamples {
			eou := s.speechStarted && s.silenceRun >= s.silenceSamples
			segPCM := s.buf
			if eou {
				segPCM = s.utter
				s.utter = nil
			}
			out = append(out, Segment{
				PCM:            segPCM,
				EndOfUtterance: eou,
				SpeechDetected: s.speechStarted,
			})
			s.buf = nil
			if eou {
				s.speechStarted = false
				s.silenceRun = 0
			}
		}
	}

	return out
}

// Reset clears accumulated state, used when a turn completes or barge-in
// interrupts playback.
func (s *Segmenter) Reset() {
	s.buf = nil
	s.utter = nil
	s.silenceRun = 0
	s.speechStarted = false
}

// BargeInThreshold is the minimum sustained speech duration during
// playback before it is treated as a genuine barge-in rather than line
// noise (spec.md §4.F "Barge-in", 150ms).
const BargeInThreshold = 150 * time.Millisecond
