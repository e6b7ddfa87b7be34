// Package session owns the lifecycle of one call: it acquires the capture
// device, opens the remote duplex session, pumps capture frames outbound,
// routes inbound events to the transcript reconciler, playback scheduler,
// and tool dispatcher, and tears everything down deterministically.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/spanearme/voicebridge/internal/audio"
	"github.com/spanearme/voicebridge/internal/capture"
	"github.com/spanearme/voicebridge/internal/config"
	"github.com/spanearme/voicebridge/internal/crm"
	"github.com/spanearme/voicebridge/internal/gemini"
	"github.com/spanearme/voicebridge/internal/observability"
	"github.com/spanearme/voicebridge/internal/playback"
	"github.com/spanearme/voicebridge/internal/tools"
	"github.com/spanearme/voicebridge/internal/transcript"
)

// State is the call lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateEnded      State = "ended"
	StateError      State = "error"
)

// ErrCallInProgress is returned by Start while a call is live. Starting a
// new call never implicitly ends the previous one; callers end it first.
var ErrCallInProgress = errors.New("a call is already in progress")

// RemoteStream is the duplex session with the conversational model.
// *gemini.Stream satisfies it; tests substitute fakes.
type RemoteStream interface {
	SendAudio(data, mimeType string) error
	SendToolResult(id, name string, payload map[string]any) error
	Events() <-chan gemini.Event
	Close() error
}

// StreamDialer opens the remote duplex stream.
type StreamDialer func(ctx context.Context, cfg gemini.Config) (RemoteStream, error)

// DeviceFactory builds a fresh capture device per call.
type DeviceFactory func() capture.Device

// GeminiDialer adapts gemini.Dial to the StreamDialer indirection.
func GeminiDialer(logger zerolog.Logger) StreamDialer {
	return func(ctx context.Context, cfg gemini.Config) (RemoteStream, error) {
		s, err := gemini.Dial(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Snapshot is the read-only projection exposed to the rendering layer.
type Snapshot struct {
	State      State                `json:"state"`
	Error      string               `json:"error,omitempty"`
	Transcript []transcript.Message `json:"transcript"`
	Leads      []crm.LeadRecord     `json:"leads"`
}

// Deps are the collaborators a Controller is wired with.
type Deps struct {
	Config     *config.Config
	Dial       StreamDialer
	NewDevice  DeviceFactory
	Scheduler  *playback.Scheduler
	Registry   *tools.Registry
	Reconciler *transcript.Reconciler
	Leads      *crm.LeadLog
	Logger     zerolog.Logger
}

// call bundles the per-call resources. CallSession in the data model: stream
// handle, capture device handle, end signal, metrics. The playback cursor
// and active unit set live in the scheduler it drives.
type call struct {
	device   capture.Device
	stream   RemoteStream
	activity *audio.ActivityDetector
	metrics  *observability.CallMetrics
	logger   zerolog.Logger

	endCh        chan struct{}
	doneCh       chan struct{}
	endOnce      sync.Once
	teardownOnce sync.Once
}

// Controller is the session root. At most one call is live at a time; all
// mutable call state is touched only by Start, End, and the single event
// loop goroutine, one turn at a time.
type Controller struct {
	cfg        *config.Config
	dial       StreamDialer
	newDevice  DeviceFactory
	scheduler  *playback.Scheduler
	registry   *tools.Registry
	reconciler *transcript.Reconciler
	leads      *crm.LeadLog
	logger     zerolog.Logger

	mu     sync.Mutex
	state  State
	errMsg string
	call   *call
}

// New creates an idle controller.
func New(deps Deps) *Controller {
	return &Controller{
		cfg:        deps.Config,
		dial:       deps.Dial,
		newDevice:  deps.NewDevice,
		scheduler:  deps.Scheduler,
		registry:   deps.Registry,
		reconciler: deps.Reconciler,
		leads:      deps.Leads,
		logger:     deps.Logger.With().Str("component", "session").Logger(),
		state:      StateIdle,
	}
}

// Start begins a new call: acquires the capture device, opens the duplex
// stream, and launches the event loop. On return the call is Active, or the
// state is Error and the returned error says why.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateActive {
		c.mu.Unlock()
		return ErrCallInProgress
	}

	// Call history does not outlive one call.
	c.reconciler.Reset()
	c.leads.Reset()

	callID := observability.NewCorrelationID()
	cl := &call{
		device: c.newDevice(),
		activity: audio.NewActivityDetector(&audio.ActivityConfig{
			EnergyThreshold: c.cfg.VADEnergyThreshold,
			SilenceFrames:   c.cfg.VADSilenceFrames,
		}),
		metrics: observability.NewCallMetrics(callID),
		logger:  c.logger.With().Str("call_id", callID).Logger(),
		endCh:   make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	c.call = cl
	c.state = StateConnecting
	c.errMsg = ""
	c.mu.Unlock()

	cl.metrics.RecordCallStart()
	cl.logger.Info().Msg("call connecting")

	if err := cl.device.Start(ctx); err != nil {
		// No remote stream was opened; teardown only releases the device.
		c.fail(cl, err)
		close(cl.doneCh)
		return err
	}

	select {
	case <-cl.endCh:
		// Ended while the device was being acquired; teardown already ran,
		// so release the device directly and never dial.
		cl.device.Close()
		close(cl.doneCh)
		return nil
	default:
	}

	stream, err := c.dial(ctx, c.streamConfig())
	if err != nil {
		err = fmt.Errorf("open live session: %w", err)
		c.fail(cl, err)
		close(cl.doneCh)
		return err
	}

	c.mu.Lock()
	select {
	case <-cl.endCh:
		c.mu.Unlock()
		// Ended while dialing; teardown ran before the stream existed, so
		// the stream is closed here instead.
		stream.Close()
		close(cl.doneCh)
		return nil
	default:
		cl.stream = stream
		c.mu.Unlock()
	}
	c.transition(StateActive, "")
	cl.logger.Info().Msg("call active")

	go c.run(ctx, cl)
	return nil
}

func (c *Controller) streamConfig() gemini.Config {
	decls := c.registry.Declarations()
	fns := make([]gemini.FunctionDeclaration, len(decls))
	for i, d := range decls {
		fns[i] = gemini.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.ParameterSchema,
		}
	}
	return gemini.Config{
		APIKey:             c.cfg.GeminiAPIKey,
		Endpoint:           c.cfg.GeminiEndpoint,
		Model:              c.cfg.GeminiModel,
		Voice:              c.cfg.GeminiVoice,
		SystemPolicy:       c.cfg.SystemPolicy,
		ResponseModalities: []string{"AUDIO"},
		TranscribeInput:    true,
		TranscribeOutput:   true,
		Tools:              fns,
	}
}

// run is the single event loop: every turn handles exactly one capture frame
// or one inbound event, so call state never sees concurrent mutation.
func (c *Controller) run(ctx context.Context, cl *call) {
	defer close(cl.doneCh)

	frames := cl.device.Frames()
	events := cl.stream.Events()

	for {
		select {
		case <-cl.endCh:
			c.finish(cl, StateEnded, "")
			return

		case frame, ok := <-frames:
			if !ok {
				select {
				case <-cl.endCh:
					c.finish(cl, StateEnded, "")
				default:
					observability.RecordError("capture_failure", "session")
					c.finish(cl, StateError, "capture device stopped unexpectedly")
				}
				return
			}
			c.handleFrame(cl, frame)

		case ev, ok := <-events:
			if !ok {
				c.finish(cl, StateEnded, "")
				return
			}
			if c.handleEvent(ctx, cl, ev) {
				return
			}
		}
	}
}

// handleFrame encodes one capture frame and streams it out, one frame at a
// time in capture order.
func (c *Controller) handleFrame(cl *call, frame []int16) {
	observability.RecordAudioBytes("out", len(frame)*2)

	_, started, ended := cl.activity.ProcessFrame(frame)
	if started {
		observability.SetCallerSpeaking(true)
		cl.logger.Debug().Msg("caller speech started")
	}
	if ended {
		observability.SetCallerSpeaking(false)
		cl.logger.Debug().Msg("caller speech ended")
	}

	data := audio.EncodeOutbound(frame)
	mime := fmt.Sprintf("audio/pcm;rate=%d", audio.InputSampleRate)
	if err := cl.stream.SendAudio(data, mime); err != nil {
		if errors.Is(err, gemini.ErrStreamClosed) {
			return
		}
		observability.RecordError("audio_send", "session")
		cl.logger.Warn().Err(err).Msg("failed to send capture frame")
	}
}

// handleEvent routes one inbound event. Returns true when the event was
// terminal and the loop must exit.
func (c *Controller) handleEvent(ctx context.Context, cl *call, ev gemini.Event) bool {
	switch ev.Type {
	case gemini.EventTranscript:
		speaker := transcript.SpeakerAgent
		if ev.Transcript.Source == gemini.SourceInput {
			speaker = transcript.SpeakerCaller
		}
		c.reconciler.Update(speaker, ev.Transcript.Text, ev.Transcript.Final)
		observability.RecordTranscriptFragment(string(speaker))

	case gemini.EventAudio:
		buf, err := audio.DecodeInbound(ev.Audio, audio.OutputSampleRate, 1)
		if err != nil {
			// Malformed chunk: drop it, the call continues.
			observability.RecordError("malformed_audio", "session")
			cl.logger.Warn().Err(err).Msg("dropping malformed audio chunk")
			return false
		}
		observability.RecordAudioBytes("in", buf.FrameCount()*2)
		if err := c.scheduler.Schedule(buf); err != nil {
			cl.logger.Warn().Err(err).Msg("failed to schedule playback")
		}

	case gemini.EventInterrupted:
		c.scheduler.Interrupt()

	case gemini.EventToolInvocation:
		res := c.registry.Handle(ctx, tools.Invocation{
			ID:   ev.Tool.ID,
			Name: ev.Tool.Name,
			Args: ev.Tool.Args,
		})
		if err := cl.stream.SendToolResult(res.ID, res.Name, res.Payload); err != nil {
			// Session already gone; the result is discarded, not retried.
			cl.logger.Debug().Err(err).Str("invocation_id", res.ID).Msg("tool result discarded")
		}

	case gemini.EventClosed:
		cl.logger.Info().Msg("remote stream closed")
		c.finish(cl, StateEnded, "")
		return true

	case gemini.EventError:
		observability.RecordError("stream_runtime", "session")
		cl.logger.Error().Err(ev.Err).Msg("remote stream error")
		c.finish(cl, StateError, "An error occurred during the call. Please try again.")
		return true
	}

	return false
}

// End requests call teardown. Idempotent from any state and any number of
// callers; ending before the connection completed releases whatever subset
// of resources was acquired.
func (c *Controller) End() error {
	c.mu.Lock()
	cl := c.call
	st := c.state
	c.mu.Unlock()

	if cl == nil || st == StateIdle {
		return nil
	}

	if st == StateEnded || st == StateError {
		// Teardown already ran; re-running it is a no-op by construction.
		c.teardown(cl)
		return nil
	}

	cl.endOnce.Do(func() { close(cl.endCh) })
	c.teardown(cl)
	c.transition(StateEnded, "")
	return nil
}

// Done reports completion of the current call's event loop. Returns a closed
// channel when no call has run.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.call.doneCh
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the read-only projection for display.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	state := c.state
	errMsg := c.errMsg
	c.mu.Unlock()

	return Snapshot{
		State:      state,
		Error:      errMsg,
		Transcript: c.reconciler.Messages(),
		Leads:      c.leads.Records(),
	}
}

// fail runs full teardown and surfaces a user-visible error description.
func (c *Controller) fail(cl *call, err error) {
	c.teardown(cl)
	msg := "An error occurred during the call. Please try again."
	if errors.Is(err, capture.ErrDeviceUnavailable) {
		msg = "Could not access microphone. Please check permissions and try again."
		observability.RecordError("device_unavailable", "session")
	} else {
		observability.RecordError("stream_open", "session")
	}
	cl.logger.Error().Err(err).Msg("call failed")
	c.transition(StateError, msg)
}

// finish runs teardown and settles the terminal state.
func (c *Controller) finish(cl *call, to State, msg string) {
	c.teardown(cl)
	c.transition(to, msg)
	cl.logger.Info().Str("state", string(to)).Msg("call finished")
}

// teardown releases every per-call resource exactly once: capture device,
// active playback, and the stream handle. Safe from every trigger point.
func (c *Controller) teardown(cl *call) {
	cl.teardownOnce.Do(func() {
		cl.device.Close()
		c.scheduler.Interrupt()

		c.mu.Lock()
		stream := cl.stream
		c.mu.Unlock()
		if stream != nil {
			stream.Close()
		}

		observability.SetCallerSpeaking(false)
		cl.metrics.RecordCallEnd()
	})
}

// transition settles lifecycle state. Terminal states are sticky for the
// current call; only Start moves past them.
func (c *Controller) transition(to State, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded || c.state == StateError {
		return
	}
	c.state = to
	c.errMsg = msg
}
