// Package capture acquires the microphone and produces a continuous stream
// of fixed-size PCM16 frames in capture order.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// ErrDeviceUnavailable indicates the microphone could not be acquired
// (missing device, permission denied, recorder not installed). Fatal to call
// start; never retried.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// DefaultFrameSize is the number of samples per capture frame
// (~256ms at 16kHz, matching the processing window of the capture pipeline).
const DefaultFrameSize = 4096

// Device exposes a continuous sequence of fixed-size PCM frames.
// Acquisition is fallible and asynchronous; Close is idempotent.
type Device interface {
	Start(ctx context.Context) error
	Frames() <-chan []int16
	Close() error
}

// OpenFunc acquires the underlying raw PCM16LE byte stream.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

// ReaderDevice frames a raw PCM16LE little-endian mono byte stream into
// fixed-size sample frames.
type ReaderDevice struct {
	open      OpenFunc
	frameSize int
	logger    zerolog.Logger

	frames chan []int16
	done   chan struct{}
	once   sync.Once

	mu sync.Mutex
	rc io.ReadCloser
}

// NewReaderDevice creates a device over the given stream opener.
func NewReaderDevice(open OpenFunc, frameSize int, logger zerolog.Logger) *ReaderDevice {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return &ReaderDevice{
		open:      open,
		frameSize: frameSize,
		logger:    logger.With().Str("component", "capture").Logger(),
		frames:    make(chan []int16, 4),
		done:      make(chan struct{}),
	}
}

// Start acquires the stream and begins framing. Acquisition failures are
// wrapped in ErrDeviceUnavailable. Starting a device that was already closed
// releases the freshly opened stream and fails.
func (d *ReaderDevice) Start(ctx context.Context) error {
	rc, err := d.open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	d.mu.Lock()
	select {
	case <-d.done:
		d.mu.Unlock()
		rc.Close()
		close(d.frames)
		return fmt.Errorf("%w: device closed", ErrDeviceUnavailable)
	default:
		d.rc = rc
		d.mu.Unlock()
	}

	go d.readLoop()
	d.logger.Debug().Int("frame_size", d.frameSize).Msg("capture started")
	return nil
}

// Frames returns the frame channel. It is closed when the stream ends or the
// device is closed.
func (d *ReaderDevice) Frames() <-chan []int16 {
	return d.frames
}

// Close releases the underlying stream. Idempotent.
func (d *ReaderDevice) Close() error {
	d.once.Do(func() {
		close(d.done)
		d.mu.Lock()
		rc := d.rc
		d.mu.Unlock()
		if rc != nil {
			rc.Close()
		}
	})
	return nil
}

func (d *ReaderDevice) readLoop() {
	defer close(d.frames)

	raw := make([]byte, d.frameSize*2)
	for {
		if _, err := io.ReadFull(d.rc, raw); err != nil {
			select {
			case <-d.done:
			default:
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					d.logger.Warn().Err(err).Msg("capture read failed")
				}
			}
			return
		}

		frame := make([]int16, d.frameSize)
		for i := range frame {
			frame[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
		}

		select {
		case d.frames <- frame:
		case <-d.done:
			return
		}
	}
}
