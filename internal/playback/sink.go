package playback

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/spanearme/voicebridge/internal/audio"
)

// WriterSink feeds decoded audio to a raw PCM16 output device (e.g. the
// stdin of an external player process). Play stages bytes in a ring buffer
// and returns immediately; a drain goroutine pushes them to the writer, so
// the scheduler's event turn never blocks on device I/O.
type WriterSink struct {
	w      io.Writer
	buf    *audio.RingBuffer
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// NewWriterSink creates a sink buffering up to bufSize bytes of PCM.
func NewWriterSink(w io.Writer, bufSize int, logger zerolog.Logger) *WriterSink {
	s := &WriterSink{
		w:      w,
		buf:    audio.NewRingBuffer(bufSize),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.drain()
	return s
}

// Play stages a decoded buffer for output. Never blocks; bytes that do not
// fit are dropped with a warning rather than stalling the scheduler.
func (s *WriterSink) Play(buf *audio.Buffer) error {
	raw := buf.PCM16Bytes()
	if n := s.buf.Write(raw); n < len(raw) {
		s.logger.Warn().
			Int("dropped_bytes", len(raw)-n).
			Msg("playback buffer full, dropping audio")
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Discard drops all staged audio. Called on interruption.
func (s *WriterSink) Discard() {
	s.buf.Clear()
}

// Close stops the drain goroutine. Idempotent.
func (s *WriterSink) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *WriterSink) drain() {
	chunk := make([]byte, 4096)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		case <-time.After(50 * time.Millisecond):
		}

		for {
			n := s.buf.Read(chunk)
			if n == 0 {
				break
			}
			if _, err := s.w.Write(chunk[:n]); err != nil {
				s.logger.Warn().Err(err).Msg("playback write failed")
				return
			}
		}
	}
}
