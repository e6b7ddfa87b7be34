package playback

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/spanearme/voicebridge/internal/audio"
)

type fakeTimer struct {
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.when.After(target) {
				continue
			}
			if next == nil || t.when.Before(next.when) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.when
		c.mu.Unlock()
		next.f()
	}
}

type fakeSink struct {
	mu        sync.Mutex
	played    []*audio.Buffer
	playTimes []time.Time
	discards  int
	clock     *fakeClock
}

func (s *fakeSink) Play(buf *audio.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, buf)
	s.playTimes = append(s.playTimes, s.clock.Now())
	return nil
}

func (s *fakeSink) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discards++
}

func monoBuffer(ms int) *audio.Buffer {
	samples := audio.OutputSampleRate * ms / 1000
	return &audio.Buffer{
		Channels:   [][]float32{make([]float32, samples)},
		SampleRate: audio.OutputSampleRate,
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeClock, *fakeSink) {
	t.Helper()
	clock := newFakeClock()
	sink := &fakeSink{clock: clock}
	return NewSchedulerWithClock(sink, clock, zerolog.Nop()), clock, sink
}

func TestScheduler_GaplessInOrder(t *testing.T) {
	s, clock, sink := newTestScheduler(t)

	durations := []int{100, 250, 50}
	var starts, ends []time.Time
	for _, ms := range durations {
		buf := monoBuffer(ms)
		before := s.Cursor()
		now := clock.Now()
		want := before
		if now.After(want) {
			want = now
		}

		if err := s.Schedule(buf); err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}

		starts = append(starts, want)
		ends = append(ends, want.Add(buf.Duration()))
		if got := s.Cursor(); !got.Equal(want.Add(buf.Duration())) {
			t.Errorf("Cursor after schedule: expected %v, got %v", want.Add(buf.Duration()), got)
		}
	}

	// Starts are non-decreasing and intervals never overlap.
	if !sort.SliceIsSorted(starts, func(i, j int) bool { return starts[i].Before(starts[j]) }) {
		t.Error("Scheduled start times are not non-decreasing")
	}
	for i := 1; i < len(starts); i++ {
		if starts[i].Before(ends[i-1]) {
			t.Errorf("Unit %d starts at %v before unit %d ends at %v", i, starts[i], i-1, ends[i-1])
		}
	}

	if s.ActiveCount() != 3 {
		t.Errorf("Expected 3 active units, got %d", s.ActiveCount())
	}

	// Play everything out; the sink must see all buffers in arrival order.
	clock.Advance(time.Second)
	if len(sink.played) != 3 {
		t.Fatalf("Expected 3 played buffers, got %d", len(sink.played))
	}
	for i := 1; i < len(sink.playTimes); i++ {
		if sink.playTimes[i].Before(sink.playTimes[i-1]) {
			t.Errorf("Buffers played out of order")
		}
	}
	if s.ActiveCount() != 0 {
		t.Errorf("Expected all units completed, got %d active", s.ActiveCount())
	}
}

func TestScheduler_CompletionRemovesUnit(t *testing.T) {
	s, clock, _ := newTestScheduler(t)

	if err := s.Schedule(monoBuffer(100)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if s.ActiveCount() != 1 {
		t.Fatalf("Expected 1 active unit, got %d", s.ActiveCount())
	}

	clock.Advance(99 * time.Millisecond)
	if s.ActiveCount() != 1 {
		t.Errorf("Unit completed too early")
	}

	clock.Advance(time.Millisecond)
	if s.ActiveCount() != 0 {
		t.Errorf("Expected unit removed on natural completion, got %d active", s.ActiveCount())
	}
}

func TestScheduler_InterruptSilencesEverything(t *testing.T) {
	s, clock, sink := newTestScheduler(t)

	s.Schedule(monoBuffer(500))
	s.Schedule(monoBuffer(500))
	if s.ActiveCount() != 2 {
		t.Fatalf("Expected 2 active units, got %d", s.ActiveCount())
	}
	cursorBefore := s.Cursor()

	s.Interrupt()

	if s.ActiveCount() != 0 {
		t.Errorf("Expected empty active set after interrupt, got %d", s.ActiveCount())
	}
	if sink.discards != 1 {
		t.Errorf("Expected sink discard on interrupt, got %d", sink.discards)
	}

	// The next unit starts immediately instead of queueing behind stale
	// timing.
	now := clock.Now()
	s.Schedule(monoBuffer(100))
	nextEnd := s.Cursor()
	nextStart := nextEnd.Add(-monoBuffer(100).Duration())
	if !nextStart.Equal(now) {
		t.Errorf("Expected post-interrupt start at %v, got %v", now, nextStart)
	}
	if !nextStart.Before(cursorBefore) {
		t.Errorf("Post-interrupt start %v should precede the stale cursor %v", nextStart, cursorBefore)
	}

	// Stopped units never reach the sink.
	clock.Advance(2 * time.Second)
	if len(sink.played) != 1 {
		t.Errorf("Expected only the post-interrupt unit to play, got %d", len(sink.played))
	}
}

func TestScheduler_CursorTracksWallClock(t *testing.T) {
	s, clock, _ := newTestScheduler(t)

	s.Schedule(monoBuffer(100))
	firstEnd := s.Cursor()

	// Long silence: playback finished well before the next chunk arrives.
	clock.Advance(time.Second)

	now := clock.Now()
	s.Schedule(monoBuffer(100))
	start := s.Cursor().Add(-monoBuffer(100).Duration())
	if !start.Equal(now) {
		t.Errorf("Expected start at now %v after idle gap, got %v", now, start)
	}
	if start.Before(firstEnd) {
		t.Errorf("Start %v overlaps the previous unit ending at %v", start, firstEnd)
	}
}

func TestScheduler_ClosedRejectsSchedule(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	s.Close()

	if err := s.Schedule(monoBuffer(10)); err != ErrSchedulerClosed {
		t.Errorf("Expected ErrSchedulerClosed, got %v", err)
	}

	// Close is idempotent.
	s.Close()
}
