package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/spanearme/voicebridge/internal/audio"
	"github.com/spanearme/voicebridge/internal/observability"
)

// ErrSchedulerClosed is returned when scheduling after Close.
var ErrSchedulerClosed = errors.New("playback scheduler is closed")

// Sink receives decoded audio when a unit's start time arrives.
type Sink interface {
	// Play hands a buffer to the output device. Must not block.
	Play(buf *audio.Buffer) error
	// Discard drops any audio the sink has queued but not yet played.
	Discard()
}

// unit is one scheduled playback buffer, held until natural completion or
// forced stop.
type unit struct {
	id         uint64
	buf        *audio.Buffer
	start      time.Time
	startTimer Timer
	doneTimer  Timer
}

// Scheduler turns decoded inbound audio chunks into gapless, in-order
// playback. It owns a monotonically advancing cursor (the next free start
// time) and the set of in-flight units.
type Scheduler struct {
	clock  Clock
	sink   Sink
	logger zerolog.Logger

	mu     sync.Mutex
	cursor time.Time
	active map[uint64]*unit
	nextID uint64
	closed bool
}

// NewScheduler creates a scheduler over the runtime clock.
func NewScheduler(sink Sink, logger zerolog.Logger) *Scheduler {
	return NewSchedulerWithClock(sink, NewRealClock(), logger)
}

// NewSchedulerWithClock creates a scheduler with an explicit clock. Tests use
// a fake clock to drive timing deterministically.
func NewSchedulerWithClock(sink Sink, clock Clock, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		clock:  clock,
		sink:   sink,
		logger: logger,
		active: make(map[uint64]*unit),
	}
}

// Schedule enqueues a decoded buffer to start at max(cursor, now) and
// advances the cursor past it, so consecutive chunks play back to back
// without overlap. A completion timer removes the unit from the active set
// when it finishes naturally.
func (s *Scheduler) Schedule(buf *audio.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}

	now := s.clock.Now()
	start := s.cursor
	if now.After(start) {
		start = now
	}
	duration := buf.Duration()

	s.nextID++
	u := &unit{id: s.nextID, buf: buf, start: start}
	s.active[u.id] = u
	s.cursor = start.Add(duration)

	u.startTimer = s.clock.AfterFunc(start.Sub(now), func() {
		if err := s.sink.Play(buf); err != nil {
			s.logger.Warn().Err(err).Msg("playback sink rejected buffer")
		}
	})
	u.doneTimer = s.clock.AfterFunc(start.Sub(now)+duration, func() {
		s.complete(u.id)
	})

	observability.RecordPlaybackScheduled()
	s.logger.Debug().
		Uint64("unit", u.id).
		Dur("duration", duration).
		Time("start", start).
		Msg("playback unit scheduled")

	return nil
}

// complete removes a unit that finished playing naturally.
func (s *Scheduler) complete(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// Interrupt immediately silences playback: every active unit is stopped, the
// active set is cleared, queued sink audio is discarded, and the cursor is
// reset so the next scheduled unit starts right away instead of queueing
// behind stale timing. Models the remote model's mid-utterance barge-in.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	stopped := len(s.active)
	for id, u := range s.active {
		u.startTimer.Stop()
		u.doneTimer.Stop()
		delete(s.active, id)
	}
	s.cursor = time.Time{}
	s.mu.Unlock()

	s.sink.Discard()

	if stopped > 0 {
		observability.RecordPlaybackInterrupt()
		s.logger.Info().Int("units_stopped", stopped).Msg("playback interrupted")
	}
}

// ActiveCount returns the number of in-flight playback units.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the next free start time; the zero time means "now".
func (s *Scheduler) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Close stops all playback and rejects further scheduling. Idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.Interrupt()
}
