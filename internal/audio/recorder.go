package audio

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
	"github.com/joeyzenghuan/OpenTypeless/internal/ports"
)

// FFmpegRecorder captures whole utterances to a wav file for batch backends.
type FFmpegRecorder struct {
	command string
	dir     string
}

// NewFFmpegRecorder writes recordings under dir, or the OS temp dir when
// dir is empty.
func NewFFmpegRecorder(command, dir string) *FFmpegRecorder {
	if command == "" {
		command = "ffmpeg"
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &FFmpegRecorder{command: command, dir: dir}
}

// Start opens the device and begins writing a wav file. Fails fast with a
// capture_device failure when ffmpeg exits during the start probe.
func (r *FFmpegRecorder) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioRecording, error) {
	cfg = applyDefaults(cfg)
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, domain.NewFailure(domain.KindCaptureDevice, "create recording directory", err)
	}
	path := filepath.Join(r.dir, "capture-"+uuid.NewString()+".wav")

	args := append(inputArgs(cfg), "-y", "-f", "wav", path)
	cmd := exec.CommandContext(ctx, r.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, domain.NewFailure(domain.KindCaptureDevice, "start recorder process", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = os.Remove(path)
		return nil, domain.NewFailure(domain.KindCaptureDevice,
			"recorder process exited before capture started: "+trimmedStderr(&stderr), err)
	case <-time.After(startProbe):
	}

	return &fileRecording{
		path:    path,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type fileRecording struct {
	path    string
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

// Stop finalizes the wav file and returns its path.
func (f *fileRecording) Stop() (string, error) {
	f.stopOnce.Do(func() {
		f.stopErr = stopProcess(f.process, f.waitErr)
	})
	return f.path, f.stopErr
}

// Discard ends capture and removes the partial file.
func (f *fileRecording) Discard() error {
	_, err := f.Stop()
	if removeErr := os.Remove(f.path); removeErr != nil && !os.IsNotExist(removeErr) && err == nil {
		err = removeErr
	}
	return err
}
