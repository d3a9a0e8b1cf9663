package video

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/versevid/versevid/internal/models"
)

// ---------------------------------------------------------------------------
// Scene motion synthesis.
// Turns a generated still image into a fixed-duration clip by baking a
// zoompan motion effect into the encode. Output is always 25fps yuv420p at
// the configured resolution so downstream transitions blend uniform streams.
// ---------------------------------------------------------------------------

const (
	videoFPS      = 25
	defaultWidth  = 1280
	defaultHeight = 720
)

// Synthesizer renders scene stills into motion clips.
type Synthesizer struct {
	ffmpeg string
	runner Runner
	prober Prober
	width  int
	height int
}

// NewSynthesizer creates a synthesizer. Empty ffmpeg defaults to "ffmpeg" on
// PATH; zero dimensions default to 1280x720.
func NewSynthesizer(ffmpeg string, runner Runner, prober Prober, width, height int) *Synthesizer {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	return &Synthesizer{ffmpeg: ffmpeg, runner: runner, prober: prober, width: width, height: height}
}

// Synthesize encodes one scene into a clip at outputPath.
func (s *Synthesizer) Synthesize(ctx context.Context, scene models.SceneSpec, outputPath string) (models.Clip, error) {
	if _, err := os.Stat(scene.SourceImage); err != nil {
		return models.Clip{}, fmt.Errorf("%w: %s (scene %s)", ErrSourceMissing, scene.SourceImage, scene.ID)
	}

	duration := scene.Duration
	if duration <= 0 {
		duration = 5.0
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return models.Clip{}, fmt.Errorf("failed to create clip dir: %w", err)
	}

	vf := s.buildMotionFilter(scene.Motion, duration, scene.ZoomFactor, scene.PanX, scene.PanY)
	log.Printf("[FFmpeg] Synthesizing scene %s: motion=%s, duration=%.1fs, filter=%s", scene.ID, scene.Motion, duration, vf)

	args := []string{
		"-y",
		"-loop", "1",
		"-i", scene.SourceImage,
		"-vf", vf,
		"-t", fmt.Sprintf("%.3f", duration),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprintf("%d", videoFPS),
		outputPath,
	}

	stderr, err := s.runner.Run(ctx, s.ffmpeg, args...)
	if err != nil {
		return models.Clip{}, encodeError(fmt.Sprintf("synthesize scene %s", scene.ID), err, stderr)
	}

	// Trust the probe over the requested duration; frame quantization shifts
	// it slightly.
	actual, err := s.prober.Duration(ctx, outputPath)
	if err != nil {
		log.Printf("[FFmpeg] Could not probe %s, assuming %.1fs: %v", outputPath, duration, err)
		actual = duration
	}

	return models.Clip{Path: outputPath, Duration: actual}, nil
}

// buildMotionFilter constructs the -vf chain for a motion type.
//
// zoompan expressions use `on` (output frame number) against the total frame
// count, so motion progresses linearly over the clip regardless of duration.
func (s *Synthesizer) buildMotionFilter(motion models.MotionType, duration, zoomFactor, panX, panY float64) string {
	totalFrames := int(duration * videoFPS)
	if totalFrames < videoFPS {
		totalFrames = videoFPS // minimum 1 second
	}

	if zoomFactor <= 1.0 {
		zoomFactor = 1.2
	}

	// Center expressions (reused):
	//   cx = "iw/2-(iw/zoom/2)"  — horizontally centered
	//   cy = "ih/2-(ih/zoom/2)"  — vertically centered
	var zExpr, xExpr, yExpr string

	switch motion {
	case models.MotionZoom:
		// Linear push-in from 1.0 to the zoom factor, centered.
		zExpr = fmt.Sprintf("1.0+%.4f*on/%d", zoomFactor-1.0, totalFrames)
		xExpr = "iw/2-(iw/zoom/2)"
		yExpr = "ih/2-(ih/zoom/2)"

	case models.MotionPan:
		// Constant scale, drifting from origin by up to 25% of the frame.
		zExpr = "1.001" // zoompan needs zoom > 1 for any crop headroom
		xExpr = fmt.Sprintf("iw*%.4f*on/%d", panX*0.25, totalFrames)
		yExpr = fmt.Sprintf("ih*%.4f*on/%d", panY*0.25, totalFrames)

	case models.MotionKenBurns:
		// Zoom and pan together, zoom capped at the factor.
		zExpr = fmt.Sprintf("min(1.0+%.4f*on/%d,%.3f)", zoomFactor-1.0, totalFrames, zoomFactor)
		xExpr = fmt.Sprintf("iw*%.4f*on/%d", panX, totalFrames)
		yExpr = fmt.Sprintf("ih*%.4f*on/%d", panY, totalFrames)

	case models.MotionNone:
		// Static frame, letterboxed to the output resolution.
		return fmt.Sprintf(
			"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
			s.width, s.height, s.width, s.height,
		)

	default:
		log.Printf("[FFmpeg] Unknown motion type %q, using zoom", motion)
		zExpr = fmt.Sprintf("1.0+%.4f*on/%d", zoomFactor-1.0, totalFrames)
		xExpr = "iw/2-(iw/zoom/2)"
		yExpr = "ih/2-(ih/zoom/2)"
	}

	// Upscale first so zoompan has pixel headroom, then animate.
	return fmt.Sprintf(
		"scale=trunc(iw*%.3f/2)*2:trunc(ih*%.3f/2)*2,zoompan=z='%s':x='%s':y='%s':d=%d:s=%dx%d:fps=%d",
		zoomFactor, zoomFactor,
		zExpr, xExpr, yExpr,
		totalFrames,
		s.width, s.height,
		videoFPS,
	)
}
