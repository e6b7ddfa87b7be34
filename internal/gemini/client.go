// Package gemini implements the duplex streaming session with the Gemini
// Live API over a websocket: one outbound leg of realtime audio and tool
// results, one inbound leg of server events delivered strictly in arrival
// order.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const setupTimeout = 15 * time.Second

// ErrStreamClosed is returned by sends after the stream has been closed.
var ErrStreamClosed = errors.New("stream is closed")

// Config describes one live session: model identity, voice, conversational
// policy (opaque to this package), requested modalities, transcription legs,
// and the advertised tool schema.
type Config struct {
	APIKey             string
	Endpoint           string // optional override; tests point this at a local server
	Model              string
	Voice              string
	SystemPolicy       string
	ResponseModalities []string
	TranscribeInput    bool
	TranscribeOutput   bool
	Tools              []FunctionDeclaration
}

// EventType tags the inbound event union.
type EventType string

const (
	EventTranscript     EventType = "transcript"
	EventAudio          EventType = "audio"
	EventInterrupted    EventType = "interrupted"
	EventToolInvocation EventType = "tool_invocation"
	EventClosed         EventType = "closed"
	EventError          EventType = "error"
)

// Transcript source legs. The session maps input to the caller and output to
// the agent.
const (
	SourceInput  = "input"
	SourceOutput = "output"
)

// TranscriptFragment is a partial or final speech-to-text result for one leg.
type TranscriptFragment struct {
	Source string
	Text   string
	Final  bool
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Event is one inbound stream event.
type Event struct {
	Type       EventType
	Transcript *TranscriptFragment
	Audio      string // base64 transport text, 24kHz mono PCM16
	Tool       *FunctionCall
	Err        error
}

// Stream is an open live session. Events arrive on Events() in wire order;
// sends are safe for concurrent use.
type Stream struct {
	conn   *websocket.Conn
	events chan Event
	logger zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens the websocket, performs session setup, and waits for the server
// to acknowledge before returning. Any failure here is a stream-open failure:
// nothing is left running.
func Dial(ctx context.Context, cfg Config, logger zerolog.Logger) (*Stream, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("stream open: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", cfg.APIKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("stream open: dial: %w", err)
	}

	if err := conn.WriteJSON(buildSetup(cfg)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream open: send setup: %w", err)
	}

	// The first server message must acknowledge setup.
	conn.SetReadDeadline(time.Now().Add(setupTimeout))
	var first serverMessage
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream open: await setup ack: %w", err)
	}
	if first.SetupComplete == nil {
		conn.Close()
		return nil, fmt.Errorf("stream open: unexpected first message before setup ack")
	}
	conn.SetReadDeadline(time.Time{})

	s := &Stream{
		conn:   conn,
		events: make(chan Event, 64),
		closed: make(chan struct{}),
		logger: logger.With().Str("component", "gemini").Logger(),
	}
	go s.readPump()

	s.logger.Info().Str("model", cfg.Model).Msg("live session open")
	return s, nil
}

func buildSetup(cfg Config) setupMessage {
	payload := &setupPayload{
		Model: cfg.Model,
		GenerationConfig: &generationConfig{
			ResponseModalities: cfg.ResponseModalities,
		},
	}
	if cfg.Voice != "" {
		payload.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: &voiceConfig{
				PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemPolicy != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemPolicy}}}
	}
	if cfg.TranscribeInput {
		payload.InputAudioTranscription = &struct{}{}
	}
	if cfg.TranscribeOutput {
		payload.OutputAudioTranscription = &struct{}{}
	}
	if len(cfg.Tools) > 0 {
		payload.Tools = []toolDecl{{FunctionDeclarations: cfg.Tools}}
	}
	return setupMessage{Setup: payload}
}

// SendAudio streams one encoded capture frame to the model.
func (s *Stream) SendAudio(data, mimeType string) error {
	return s.writeJSON(realtimeInputMessage{
		RealtimeInput: &realtimeInput{
			MediaChunks: []inlineData{{MimeType: mimeType, Data: data}},
		},
	})
}

// SendToolResult returns the correlated outcome of one tool invocation.
func (s *Stream) SendToolResult(id, name string, payload map[string]any) error {
	return s.writeJSON(toolResponseMessage{
		ToolResponse: &toolResponse{
			FunctionResponses: []functionResponse{{ID: id, Name: name, Response: payload}},
		},
	})
}

func (s *Stream) writeJSON(v any) error {
	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("stream send: %w", err)
	}
	return nil
}

// Events returns the inbound event channel. It is closed after a terminal
// Closed or Error event.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close tears the session down. Idempotent; safe to call from any teardown
// path.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		s.conn.Close()
	})
	return nil
}

// readPump parses inbound frames into events, preserving wire order. It
// terminates with exactly one Closed or Error event and then closes the
// event channel.
func (s *Stream) readPump() {
	defer close(s.events)

	for {
		var msg serverMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.closed:
				// Local teardown; report a normal close.
				s.emit(Event{Type: EventClosed})
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.emit(Event{Type: EventClosed})
				} else {
					s.emit(Event{Type: EventError, Err: fmt.Errorf("stream receive: %w", err)})
				}
			}
			return
		}
		s.route(&msg)
	}
}

// emit delivers one event unless the stream was closed; the pump never blocks
// on a consumer that stopped draining after Close.
func (s *Stream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *Stream) route(msg *serverMessage) {
	if sc := msg.ServerContent; sc != nil {
		if t := sc.InputTranscription; t != nil && t.Text != "" {
			s.emit(Event{Type: EventTranscript, Transcript: &TranscriptFragment{
				Source: SourceInput, Text: t.Text, Final: t.IsFinal,
			}})
		}
		if t := sc.OutputTranscription; t != nil && t.Text != "" {
			s.emit(Event{Type: EventTranscript, Transcript: &TranscriptFragment{
				Source: SourceOutput, Text: t.Text, Final: t.IsFinal,
			}})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" {
					s.emit(Event{Type: EventAudio, Audio: p.InlineData.Data})
				}
			}
		}
		if sc.Interrupted {
			s.emit(Event{Type: EventInterrupted})
		}
	}

	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			s.emit(Event{Type: EventToolInvocation, Tool: &FunctionCall{
				ID: fc.ID, Name: fc.Name, Args: fc.Args,
			}})
		}
	}
}
