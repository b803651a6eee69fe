// Package dummy provides a tts.Client that synthesizes a pure sine tone
// instead of calling a speech backend. It is the provider selected by
// TTS_PROVIDER=dummy and keeps the full audio path testable offline: the
// output is deterministic for a given text length, so tests can assert on
// exact bytes.
package dummy

import (
	"context"
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/gimseonjin/realtime-character/pkg/provider/tts"
)

// Compile-time interface check.
var _ tts.Client = (*Client)(nil)

const (
	defaultSampleRate = 24000
	toneHz            = 440.0
	amplitude         = 0.25

	// Duration scales with text length between fixed bounds so longer
	// fragments get audibly longer tones.
	secondsPerChar = 0.035
	minSeconds     = 0.180
	maxSeconds     = 1.600
)

// Option configures a Client during construction.
type Option func(*Client)

// WithSampleRate overrides the default 24 kHz sample rate.
func WithSampleRate(hz int) Option {
	return func(c *Client) { c.sampleRate = hz }
}

// Client synthesizes a 440 Hz mono s16le tone whose duration tracks the
// fragment length. Safe for concurrent use.
type Client struct {
	sampleRate int
}

// New constructs a dummy synthesizer.
func New(opts ...Option) *Client {
	c := &Client{sampleRate: defaultSampleRate}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Synthesize implements tts.Client. FormatWAV returns a complete RIFF
// container; FormatPCM returns the raw little-endian sample frames. The
// encoded formats need a real codec and are rejected.
func (c *Client) Synthesize(_ context.Context, text string, format tts.Format) ([]byte, error) {
	switch format {
	case tts.FormatWAV, tts.FormatPCM:
	default:
		return nil, &tts.Error{Kind: tts.KindUpstream, Msg: "dummy synthesizer cannot encode " + string(format)}
	}

	frames := c.tone(text)
	if format == tts.FormatPCM {
		return frames, nil
	}
	return wrapWAV(frames, c.sampleRate), nil
}

// tone renders the sine samples for text as little-endian 16-bit frames.
func (c *Client) tone(text string) []byte {
	seconds := secondsPerChar * float64(utf8.RuneCountInString(text))
	if seconds < minSeconds {
		seconds = minSeconds
	}
	if seconds > maxSeconds {
		seconds = maxSeconds
	}
	samples := int(seconds * float64(c.sampleRate))

	frames := make([]byte, 2*samples)
	for i := 0; i < samples; i++ {
		t := float64(i) / float64(c.sampleRate)
		v := math.Round(amplitude * math.Sin(2*math.Pi*toneHz*t) * 32767)
		binary.LittleEndian.PutUint16(frames[2*i:], uint16(int16(v)))
	}
	return frames
}

// wrapWAV prefixes frames with a canonical 44-byte RIFF header for mono
// 16-bit PCM.
func wrapWAV(frames []byte, sampleRate int) []byte {
	const (
		headerLen  = 44
		channels   = 1
		bitsPerSmp = 16
	)
	blockAlign := channels * bitsPerSmp / 8
	byteRate := sampleRate * blockAlign

	buf := make([]byte, headerLen+len(frames))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(frames)))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], channels)
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:], bitsPerSmp)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(frames)))
	copy(buf[headerLen:], frames)
	return buf
}
