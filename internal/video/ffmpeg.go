package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Encoder plumbing.
// All ffmpeg/ffprobe invocations go through the Runner interface so the
// synthesizer, compositor and muxer are testable without the binaries.
// ---------------------------------------------------------------------------

var (
	// ErrSourceMissing means a scene's source image does not exist on disk.
	ErrSourceMissing = errors.New("source image missing")
	// ErrEncodeFailed wraps a non-zero encoder exit; the message carries the
	// tail of stderr.
	ErrEncodeFailed = errors.New("encoding failed")
	// ErrAudioMissing means the audio track to mux does not exist on disk.
	ErrAudioMissing = errors.New("audio file missing")
	// ErrNoClips means composition was asked to combine an empty clip list.
	ErrNoClips = errors.New("no clips to combine")
)

// Runner executes an external binary and captures its output streams.
type Runner interface {
	// Run executes the command and returns captured stderr.
	Run(ctx context.Context, name string, args ...string) (string, error)
	// Output executes the command and returns captured stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

// NewRunner returns a Runner backed by os/exec.
func NewRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

func (execRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", name, err, lastLines(stderr.String(), 3))
	}
	return stdout.String(), nil
}

// Prober reports media properties.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
	Dimensions(ctx context.Context, path string) (width, height int, err error)
}

// FFprobe probes media files with the ffprobe binary.
type FFprobe struct {
	binary string
	runner Runner
}

// NewFFprobe creates a prober. Empty binary defaults to "ffprobe" on PATH.
func NewFFprobe(binary string, runner Runner) *FFprobe {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFprobe{binary: binary, runner: runner}
}

// Duration returns the container duration in seconds.
func (p *FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.runner.Output(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to probe duration of %s: %w", path, err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", strings.TrimSpace(out), err)
	}
	return duration, nil
}

// Dimensions returns the resolution of the first video stream.
func (p *FFprobe) Dimensions(ctx context.Context, path string) (int, int, error) {
	out, err := p.runner.Output(ctx, p.binary,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to probe dimensions of %s: %w", path, err)
	}

	parts := strings.Split(strings.TrimSpace(out), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected ffprobe dimensions output %q", strings.TrimSpace(out))
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse width %q: %w", parts[0], err)
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse height %q: %w", parts[1], err)
	}
	return width, height, nil
}

// encodeError wraps a failed encoder run with the tail of its stderr, which
// is where ffmpeg explains itself.
func encodeError(op string, err error, stderr string) error {
	tail := lastLines(stderr, 5)
	if tail == "" {
		return fmt.Errorf("%w: %s: %v", ErrEncodeFailed, op, err)
	}
	return fmt.Errorf("%w: %s: %v: %s", ErrEncodeFailed, op, err, tail)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
