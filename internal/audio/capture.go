// Package audio captures microphone PCM via ffmpeg, either as a live stream
// for streaming recognition or as a wav file for batch submission.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
	"github.com/joeyzenghuan/OpenTypeless/internal/ports"
)

const startProbe = 250 * time.Millisecond

// FFmpegCapture streams microphone PCM audio using an ffmpeg subprocess.
type FFmpegCapture struct {
	command string
}

func NewFFmpegCapture(command string) *FFmpegCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegCapture{command: command}
}

func applyDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "avfoundation"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = ":default"
	}
	return cfg
}

func inputArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
	}
}

// Start opens the device and returns a live PCM stream. It fails fast with a
// capture_device failure when ffmpeg exits before capture begins.
func (c *FFmpegCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = applyDefaults(cfg)
	args := append(inputArgs(cfg), "-f", "s16le", "-")

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, domain.NewFailure(domain.KindCaptureDevice, "create capture pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, domain.NewFailure(domain.KindCaptureDevice, "start capture process", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := trimmedStderr(&stderr)
		if err != nil {
			return nil, domain.NewFailure(domain.KindCaptureDevice,
				fmt.Sprintf("capture process exited before capture started: %s", detail), err)
		}
		return nil, domain.NewFailure(domain.KindCaptureDevice, "capture process exited before capture started", nil)
	case <-time.After(startProbe):
	}

	return &streamSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type streamSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *streamSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *streamSession) Close() error {
	return s.Stop()
}

func (s *streamSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = stopProcess(s.process, s.waitErr)

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimmedStderr(s.stderr))
		}
	})
	return s.stopErr
}

// stopProcess interrupts ffmpeg so it flushes output, escalating to kill
// when it does not exit promptly.
func stopProcess(process *os.Process, waitErr <-chan error) error {
	if process != nil {
		_ = process.Signal(os.Interrupt)
	}

	select {
	case err, ok := <-waitErr:
		if ok {
			return normalizeExit(err)
		}
	case <-time.After(1200 * time.Millisecond):
		if process != nil {
			_ = process.Kill()
		}
		if err, ok := <-waitErr; ok {
			return normalizeExit(err)
		}
	}
	return nil
}

// normalizeExit drops plain non-zero exits; interrupting ffmpeg is the
// expected way to end capture.
func normalizeExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimmedStderr(buf *bytes.Buffer) string {
	return string(bytes.TrimSpace(buf.Bytes()))
}
