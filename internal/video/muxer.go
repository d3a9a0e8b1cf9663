package video

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// ---------------------------------------------------------------------------
// Audio muxing.
// Replaces whatever audio the combined video carries (usually none) with the
// source track. Video is stream-copied; only audio is re-encoded.
// ---------------------------------------------------------------------------

// loudnormFilter is the EBU R128 normalization applied when requested:
// -16 LUFS integrated, -1.5 dBTP ceiling, 11 LU loudness range.
const loudnormFilter = "loudnorm=I=-16:TP=-1.5:LRA=11"

// Muxer attaches audio tracks to finished videos.
type Muxer struct {
	ffmpeg string
	runner Runner
}

// NewMuxer creates a muxer. Empty ffmpeg defaults to "ffmpeg" on PATH.
func NewMuxer(ffmpeg string, runner Runner) *Muxer {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Muxer{ffmpeg: ffmpeg, runner: runner}
}

// Mux writes videoPath's video stream plus audioPath's audio to outputPath.
// normalize runs the audio through loudnorm. The output ends with the shorter
// stream so a long song never trails over a black screen.
func (m *Muxer) Mux(ctx context.Context, videoPath, audioPath, outputPath string, normalize bool) error {
	if _, err := os.Stat(audioPath); err != nil {
		return fmt.Errorf("%w: %s", ErrAudioMissing, audioPath)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy", // Copy video stream as-is (fast!)
		"-c:a", "aac",
		"-b:a", "192k",
	}
	if normalize {
		args = append(args, "-af", loudnormFilter)
	}
	args = append(args, "-shortest", outputPath)

	log.Printf("[FFmpeg] Muxing audio %s into %s (normalize=%v)", audioPath, outputPath, normalize)

	stderr, err := m.runner.Run(ctx, m.ffmpeg, args...)
	if err != nil {
		return encodeError("mux audio", err, stderr)
	}
	return nil
}
