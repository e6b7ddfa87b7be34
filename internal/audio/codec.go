package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Sample rates for the duplex session. The capture leg produces 16kHz mono
// PCM16; the remote model responds with 24kHz mono PCM16.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// ErrMalformedAudio indicates an inbound chunk that cannot be decoded.
// The chunk is dropped by the caller; the call continues.
var ErrMalformedAudio = errors.New("malformed audio payload")

// Buffer holds decoded, normalized audio ready for playback scheduling.
// Samples are de-interleaved per channel and normalized to [-1, 1].
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// FrameCount returns the number of samples per channel.
func (b *Buffer) FrameCount() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback duration of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.FrameCount()) * time.Second / time.Duration(b.SampleRate)
}

// EncodeOutbound packs PCM16 samples into little-endian bytes and encodes
// them into the text-safe base64 representation the transport requires.
// Pure; any frame length (including zero) is valid.
func EncodeOutbound(frame []int16) string {
	raw := make([]byte, len(frame)*2)
	for i, sample := range frame {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(sample))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeInbound reverses the transport encoding: base64 decode, reinterpret
// as little-endian int16, de-interleave by channel count, and normalize each
// sample by dividing by 32768. Returns ErrMalformedAudio when the payload is
// not valid base64 or the byte length is not a multiple of 2*channels.
func DecodeInbound(transportText string, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channel count %d", ErrMalformedAudio, channels)
	}

	raw, err := base64.StdEncoding.DecodeString(transportText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}

	if len(raw)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedAudio, len(raw), 2*channels)
	}

	frameCount := len(raw) / 2 / channels
	buf := &Buffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for ch := 0; ch < channels; ch++ {
		buf.Channels[ch] = make([]float32, frameCount)
	}

	for i := 0; i < frameCount; i++ {
		for ch := 0; ch < channels; ch++ {
			offset := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(raw[offset:]))
			buf.Channels[ch][i] = float32(sample) / 32768.0
		}
	}

	return buf, nil
}

// PCM16Bytes converts a decoded buffer back to interleaved little-endian
// PCM16, clamping to the int16 range. Used by playback sinks that feed a raw
// PCM output device.
func (b *Buffer) PCM16Bytes() []byte {
	channels := len(b.Channels)
	frames := b.FrameCount()
	raw := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			v := b.Channels[ch][i] * 32768.0
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			binary.LittleEndian.PutUint16(raw[(i*channels+ch)*2:], uint16(int16(v)))
		}
	}
	return raw
}
