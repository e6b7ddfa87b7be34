package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/spanearme/voicebridge/internal/audio"
)

// recorderStream wraps a recorder subprocess so closing the stream also
// reaps the process.
type recorderStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (r *recorderStream) Close() error {
	err := r.ReadCloser.Close()
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	r.cmd.Wait()
	return err
}

// NewRecorderDevice builds a Device over an external recorder process
// (arecord style) emitting raw PCM16LE mono at the capture sample rate on
// stdout. Missing binary or failed spawn surfaces as ErrDeviceUnavailable
// from Start.
func NewRecorderDevice(command, device string, frameSize int, logger zerolog.Logger) *ReaderDevice {
	open := func(ctx context.Context) (io.ReadCloser, error) {
		path, err := exec.LookPath(command)
		if err != nil {
			return nil, fmt.Errorf("recorder %q not found: %w", command, err)
		}

		args := []string{
			"-q",
			"-f", "S16_LE",
			"-r", fmt.Sprintf("%d", audio.InputSampleRate),
			"-c", "1",
			"-t", "raw",
		}
		if device != "" {
			args = append(args, "-D", device)
		}

		cmd := exec.CommandContext(ctx, path, args...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("recorder pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("recorder start: %w", err)
		}

		logger.Info().Str("recorder", path).Msg("capture device acquired")
		return &recorderStream{ReadCloser: stdout, cmd: cmd}, nil
	}

	return NewReaderDevice(open, frameSize, logger)
}
