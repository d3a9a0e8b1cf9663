package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/versevid/versevid/internal/models"
	"github.com/versevid/versevid/internal/progress"
)

// ---------------------------------------------------------------------------
// Pipeline orchestration.
// One Run call drives a job through download -> lyrics -> scene_planning ->
// scene_generation -> video_creation. Each stage checkpoints through the
// tracker; a stage failure marks the job failed in place and stops.
// ---------------------------------------------------------------------------

// ErrInsufficientScenes means too few scene images survived generation to
// make a watchable video.
var ErrInsufficientScenes = errors.New("not enough scenes were generated")

const (
	// minViableScenes is the cutoff below which the pipeline aborts instead
	// of producing a one-image slideshow.
	minViableScenes = 2

	defaultRenderConcurrency = 2
)

// SceneRenderer turns a scene prompt into a still image on disk.
type SceneRenderer interface {
	GenerateScene(ctx context.Context, prompt, style, destDir, name string) (string, error)
}

// AudioDownloader fetches the source track.
type AudioDownloader interface {
	Download(ctx context.Context, source, destDir string) (string, models.AudioMeta, error)
}

// LyricsExtractor transcribes a track into lyric lines.
type LyricsExtractor interface {
	Extract(ctx context.Context, audioPath string) ([]string, error)
}

// ClipSynthesizer animates a scene still into a motion clip.
type ClipSynthesizer interface {
	Synthesize(ctx context.Context, scene models.SceneSpec, outputPath string) (models.Clip, error)
}

// ClipCompositor combines clips with transitions.
type ClipCompositor interface {
	Compose(ctx context.Context, clips []models.Clip, transition models.TransitionType, transitionDuration float64, outputPath string, progress func(done, total int)) (models.Clip, error)
}

// AudioMuxer attaches the source track to the combined video.
type AudioMuxer interface {
	Mux(ctx context.Context, videoPath, audioPath, outputPath string, normalize bool) error
}

// DurationProber reports media durations.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Deps wires a Generator. Lyrics and Fallback may be nil (optional stages).
type Deps struct {
	Audio             AudioDownloader
	Lyrics            LyricsExtractor
	Renderer          SceneRenderer
	Fallback          SceneRenderer
	Synthesizer       ClipSynthesizer
	Compositor        ClipCompositor
	Muxer             AudioMuxer
	Prober            DurationProber
	Tracker           *progress.Tracker
	OutputDir         string
	RenderConcurrency int
}

// Generator runs music-video pipelines.
type Generator struct {
	deps Deps
}

// NewGenerator validates and wraps the dependency set.
func NewGenerator(deps Deps) *Generator {
	if deps.RenderConcurrency <= 0 {
		deps.RenderConcurrency = defaultRenderConcurrency
	}
	return &Generator{deps: deps}
}

// Run drives one job to completion. The job must already exist in the
// tracker; errors are recorded there rather than returned, matching the
// queue-driven caller that has nobody to hand an error to.
func (g *Generator) Run(ctx context.Context, jobID, source string, opts models.RenderOptions) {
	d := g.deps
	jobDir := filepath.Join(d.OutputDir, "jobs", jobID)
	tempDir := filepath.Join(jobDir, "temp")
	defer os.RemoveAll(tempDir)

	log.Printf("[Pipeline] Job %s starting (source=%s)", jobID, source)

	// Stage: download
	d.Tracker.AdvanceStage(jobID, models.StageDownload)
	audioPath, meta, err := d.Audio.Download(ctx, source, filepath.Join(jobDir, "audio"))
	if err != nil {
		g.fail(jobID, models.StageDownload, err)
		return
	}

	audioDuration := meta.DurationSec
	if probed, err := d.Prober.Duration(ctx, audioPath); err == nil {
		audioDuration = probed
	} else if audioDuration == 0 {
		log.Printf("[Pipeline] Job %s: could not determine audio duration: %v", jobID, err)
	}

	// Stage: lyrics (optional; failure degrades to duration-only planning)
	d.Tracker.AdvanceStage(jobID, models.StageLyrics)
	var lyrics []string
	if d.Lyrics != nil {
		lyrics, err = d.Lyrics.Extract(ctx, audioPath)
		if err != nil {
			log.Printf("[Pipeline] Job %s: lyric extraction failed, planning from audio length: %v", jobID, err)
			lyrics = nil
		}
	}

	// Stage: scene_planning
	d.Tracker.AdvanceStage(jobID, models.StageScenePlanning)
	scenes := PlanScenes(lyrics, audioDuration, opts.SceneCount, opts.Style)
	descriptions := make([]string, len(scenes))
	for i, scene := range scenes {
		descriptions[i] = scene.Prompt
	}
	d.Tracker.SetScenePlan(jobID, descriptions)
	log.Printf("[Pipeline] Job %s: planned %d scenes of %.1fs", jobID, len(scenes), scenes[0].Duration)

	// Stage: scene_generation
	d.Tracker.AdvanceStage(jobID, models.StageSceneGeneration)
	generated := g.generateScenes(ctx, jobID, scenes, opts.Style, filepath.Join(jobDir, "scenes"))
	if len(generated) < minViableScenes {
		g.fail(jobID, models.StageSceneGeneration,
			fmt.Errorf("%w: %d of %d succeeded", ErrInsufficientScenes, len(generated), len(scenes)))
		return
	}

	// Stage: video_creation
	d.Tracker.AdvanceStage(jobID, models.StageVideoCreation)
	clips := g.synthesizeClips(ctx, jobID, generated, tempDir)
	if len(clips) == 0 {
		g.fail(jobID, models.StageVideoCreation, errors.New("no scene clips could be rendered"))
		return
	}

	combined, err := d.Compositor.Compose(ctx, clips, opts.TransitionType, opts.TransitionDuration,
		filepath.Join(tempDir, "combined.mp4"),
		func(done, total int) { d.Tracker.RecordTransitionProgress(jobID, done, total) })
	if err != nil {
		g.fail(jobID, models.StageVideoCreation, err)
		return
	}

	outputPath := filepath.Join(d.OutputDir, "videos", outputName(meta.Title, jobID))
	if err := d.Muxer.Mux(ctx, combined.Path, audioPath, outputPath, true); err != nil {
		g.fail(jobID, models.StageVideoCreation, err)
		return
	}
	d.Tracker.RecordAudioProgress(jobID, 100)

	d.Tracker.Complete(jobID, outputPath)
	log.Printf("[Pipeline] Job %s finished: %s (%.1fs video)", jobID, outputPath, combined.Duration)
}

// generateScenes fans the renders out with bounded concurrency. Individual
// failures are retried through the fallback renderer when configured, then
// skipped; survivors come back in scene order.
func (g *Generator) generateScenes(ctx context.Context, jobID string, scenes []models.SceneSpec, style, destDir string) []models.SceneSpec {
	d := g.deps
	results := make([]*models.SceneSpec, len(scenes))

	var done atomic.Int32
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, d.RenderConcurrency)

	for i := range scenes {
		i := i
		scene := scenes[i]
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			path, err := d.Renderer.GenerateScene(egCtx, scene.Prompt, style, destDir, "scene_"+scene.ID)
			if err != nil && d.Fallback != nil {
				log.Printf("[Pipeline] Job %s: scene %s render failed (%v), trying fallback", jobID, scene.ID, err)
				path, err = d.Fallback.GenerateScene(egCtx, scene.Prompt, style, destDir, "scene_"+scene.ID)
			}
			if err != nil {
				log.Printf("[Pipeline] Job %s: scene %s skipped: %v", jobID, scene.ID, err)
			} else {
				scene.SourceImage = path
				mu.Lock()
				results[i] = &scene
				mu.Unlock()
			}

			d.Tracker.RecordSceneProgress(jobID, int(done.Add(1)), len(scenes))
			return nil
		})
	}
	_ = eg.Wait() // workers never return errors; failures are skips

	var survivors []models.SceneSpec
	for _, r := range results {
		if r != nil {
			survivors = append(survivors, *r)
		}
	}
	return survivors
}

// synthesizeClips renders scene clips sequentially (one encoder at a time),
// skipping scenes whose encode fails.
func (g *Generator) synthesizeClips(ctx context.Context, jobID string, scenes []models.SceneSpec, tempDir string) []models.Clip {
	d := g.deps
	var clips []models.Clip
	for i, scene := range scenes {
		clip, err := d.Synthesizer.Synthesize(ctx, scene, filepath.Join(tempDir, fmt.Sprintf("clip_%03d.mp4", i+1)))
		if err != nil {
			log.Printf("[Pipeline] Job %s: clip for scene %s skipped: %v", jobID, scene.ID, err)
			continue
		}
		clips = append(clips, clip)
		d.Tracker.RecordSceneProgress(jobID, i+1, len(scenes))
	}
	return clips
}

func (g *Generator) fail(jobID string, stage models.JobStage, err error) {
	g.deps.Tracker.Fail(jobID, fmt.Sprintf("%s: %v", stage, err))
}

// outputName builds a filesystem-safe final video name.
func outputName(title, jobID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '_'
		default:
			return -1
		}
	}, title)
	safe = strings.Trim(safe, "_")
	if safe == "" {
		safe = jobID
	}
	return fmt.Sprintf("%s_%s.mp4", safe, time.Now().Format("20060102_150405"))
}
