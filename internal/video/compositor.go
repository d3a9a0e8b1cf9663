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
// Transition compositing.
// Combines ordered clips pairwise: the running result is cross-faded into
// the next clip, so n clips need n-1 encoder runs. Each transition overlaps
// the tail of one clip with the head of the next, consuming transitionDuration
// seconds per boundary.
// ---------------------------------------------------------------------------

const defaultTransitionDuration = 1.0

// xfadeNames maps transition types onto ffmpeg xfade transition names.
var xfadeNames = map[models.TransitionType]string{
	models.TransitionFade:     "fade",
	models.TransitionWipe:     "wiperight",
	models.TransitionDissolve: "dissolve",
}

// Compositor reduces clip lists into one video with transitions.
type Compositor struct {
	ffmpeg  string
	runner  Runner
	prober  Prober
	tempDir string
}

// NewCompositor creates a compositor. Intermediate pair results are written
// under tempDir and deleted as the reduction advances.
func NewCompositor(ffmpeg, tempDir string, runner Runner, prober Prober) *Compositor {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Compositor{ffmpeg: ffmpeg, runner: runner, prober: prober, tempDir: tempDir}
}

// Compose combines clips in order into outputPath. progress, when non-nil, is
// called after each completed boundary with (done, total) counts.
//
// A single clip is returned unchanged; an empty list is ErrNoClips. Every
// transition shortens the total by transitionDuration, so the result runs
// sum(durations) - (n-1)*transitionDuration seconds.
func (c *Compositor) Compose(ctx context.Context, clips []models.Clip, transition models.TransitionType, transitionDuration float64, outputPath string, progress func(done, total int)) (models.Clip, error) {
	if len(clips) == 0 {
		return models.Clip{}, ErrNoClips
	}
	if len(clips) == 1 {
		return clips[0], nil
	}

	if transitionDuration <= 0 {
		transitionDuration = defaultTransitionDuration
	}

	if err := c.checkGeometry(ctx, clips); err != nil {
		return models.Clip{}, err
	}
	if err := os.MkdirAll(c.tempDir, 0755); err != nil {
		return models.Clip{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return models.Clip{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	xfade, known := xfadeNames[transition]
	if !known {
		log.Printf("[FFmpeg] Unknown transition type %q, falling back to hard cuts", transition)
	}

	boundaries := len(clips) - 1
	result := clips[0]
	totalDuration := clips[0].Duration

	for i := 1; i < len(clips); i++ {
		next := clips[i]

		dest := filepath.Join(c.tempDir, fmt.Sprintf("combined_%03d.mp4", i))
		if i == boundaries {
			dest = outputPath
		}

		// The running result's real length decides where the overlap starts.
		resultDuration, err := c.prober.Duration(ctx, result.Path)
		if err != nil {
			log.Printf("[FFmpeg] Could not probe %s, using tracked duration %.2fs: %v", result.Path, totalDuration, err)
			resultDuration = totalDuration
		}

		var filter string
		if known {
			filter = buildXfadeFilter(xfade, resultDuration, transitionDuration)
			totalDuration = totalDuration + next.Duration - transitionDuration
		} else {
			filter = "[0:v][1:v]concat=n=2:v=1:a=0[outv]"
			totalDuration = totalDuration + next.Duration
		}

		args := []string{
			"-y",
			"-i", result.Path,
			"-i", next.Path,
			"-filter_complex", filter,
			"-map", "[outv]",
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			dest,
		}

		stderr, err := c.runner.Run(ctx, c.ffmpeg, args...)
		if err != nil {
			return models.Clip{}, encodeError(fmt.Sprintf("transition %d/%d", i, boundaries), err, stderr)
		}

		// Intermediate results are disposable once consumed.
		if result.Path != clips[0].Path {
			os.Remove(result.Path)
		}

		result = models.Clip{Path: dest, Duration: totalDuration}
		log.Printf("[FFmpeg] Combined %d/%d clips (%.2fs running total)", i+1, len(clips), totalDuration)

		if progress != nil {
			progress(i, boundaries)
		}
	}

	return result, nil
}

// buildXfadeFilter splits the first input at the transition point, cross-fades
// its tail into the head of the second input, then concatenates the three
// segments back together.
func buildXfadeFilter(xfade string, firstDuration, transitionDuration float64) string {
	transitionStart := firstDuration - transitionDuration
	if transitionStart < 0 {
		transitionStart = 0
	}

	return fmt.Sprintf(
		"[0:v]trim=0:%.3f,setpts=PTS-STARTPTS[head];"+
			"[0:v]trim=%.3f,setpts=PTS-STARTPTS[tail];"+
			"[1:v]trim=0:%.3f,setpts=PTS-STARTPTS[lead];"+
			"[1:v]trim=%.3f,setpts=PTS-STARTPTS[rest];"+
			"[tail][lead]xfade=transition=%s:duration=%.3f:offset=0[blend];"+
			"[head][blend][rest]concat=n=3:v=1:a=0[outv]",
		transitionStart,
		transitionStart,
		transitionDuration,
		transitionDuration,
		xfade,
		transitionDuration,
	)
}

// checkGeometry refuses to blend streams with mismatched resolutions; xfade
// produces corrupt output instead of failing when inputs differ.
func (c *Compositor) checkGeometry(ctx context.Context, clips []models.Clip) error {
	var width, height int
	for i, clip := range clips {
		w, h, err := c.prober.Dimensions(ctx, clip.Path)
		if err != nil {
			return fmt.Errorf("%w: probe %s: %v", ErrEncodeFailed, clip.Path, err)
		}
		if i == 0 {
			width, height = w, h
			continue
		}
		if w != width || h != height {
			return fmt.Errorf("%w: clip %s is %dx%d, expected %dx%d", ErrEncodeFailed, clip.Path, w, h, width, height)
		}
	}
	return nil
}
