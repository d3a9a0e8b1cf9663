package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/versevid/versevid/internal/models"
	"github.com/versevid/versevid/internal/progress"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeAudio struct {
	failErr error
	dur     float64
}

func (f *fakeAudio) Download(ctx context.Context, source, destDir string) (string, models.AudioMeta, error) {
	if f.failErr != nil {
		return "", models.AudioMeta{}, f.failErr
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", models.AudioMeta{}, err
	}
	path := filepath.Join(destDir, "source.m4a")
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		return "", models.AudioMeta{}, err
	}
	return path, models.AudioMeta{Title: "Test Song", DurationSec: f.dur}, nil
}

type fakeLyrics struct {
	lines   []string
	failErr error
}

func (f *fakeLyrics) Extract(ctx context.Context, audioPath string) ([]string, error) {
	return f.lines, f.failErr
}

type fakeRenderer struct {
	calls    atomic.Int32
	failFor  map[string]bool // scene name -> fail
	failAll  bool
}

func (f *fakeRenderer) GenerateScene(ctx context.Context, prompt, style, destDir, name string) (string, error) {
	f.calls.Add(1)
	if f.failAll || f.failFor[name] {
		return "", errors.New("render backend exploded")
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(destDir, name+".png")
	if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeSynth struct{ failFor map[string]bool }

func (f *fakeSynth) Synthesize(ctx context.Context, scene models.SceneSpec, outputPath string) (models.Clip, error) {
	if f.failFor[scene.ID] {
		return models.Clip{}, errors.New("encode failed")
	}
	return models.Clip{Path: outputPath, Duration: scene.Duration}, nil
}

type fakeCompositor struct {
	failErr error
	gotLen  int
}

func (f *fakeCompositor) Compose(ctx context.Context, clips []models.Clip, transition models.TransitionType, td float64, outputPath string, prog func(done, total int)) (models.Clip, error) {
	f.gotLen = len(clips)
	if f.failErr != nil {
		return models.Clip{}, f.failErr
	}
	if prog != nil {
		for i := 1; i < len(clips); i++ {
			prog(i, len(clips)-1)
		}
	}
	total := 0.0
	for _, c := range clips {
		total += c.Duration
	}
	return models.Clip{Path: outputPath, Duration: total - float64(len(clips)-1)*td}, nil
}

type fakeMuxer struct{ failErr error }

func (f *fakeMuxer) Mux(ctx context.Context, videoPath, audioPath, outputPath string, normalize bool) error {
	if f.failErr != nil {
		return f.failErr
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte("mp4"), 0644)
}

type fixedProber struct{ dur float64 }

func (p fixedProber) Duration(ctx context.Context, path string) (float64, error) {
	if p.dur <= 0 {
		return 0, errors.New("no duration")
	}
	return p.dur, nil
}

// monotoneTracker wraps the store so every persisted snapshot is checked.
type progressLog struct {
	values []float64
	inner  progress.Store
}

func (p *progressLog) Save(job *models.Job) error {
	p.values = append(p.values, job.OverallProgress)
	return p.inner.Save(job)
}
func (p *progressLog) Load(id string) (*models.Job, error) { return p.inner.Load(id) }
func (p *progressLog) LoadAll() ([]*models.Job, error)     { return p.inner.LoadAll() }

// ---------------------------------------------------------------------------

type testEnv struct {
	gen      *Generator
	tracker  *progress.Tracker
	renderer *fakeRenderer
	comp     *fakeCompositor
	plog     *progressLog
	deps     Deps
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	store, err := progress.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	plog := &progressLog{inner: store}
	tracker := progress.NewTracker(plog)

	renderer := &fakeRenderer{failFor: map[string]bool{}}
	comp := &fakeCompositor{}
	deps := Deps{
		Audio:       &fakeAudio{dur: 100},
		Lyrics:      &fakeLyrics{lines: []string{"la la la", "na na na"}},
		Renderer:    renderer,
		Synthesizer: &fakeSynth{},
		Compositor:  comp,
		Muxer:       &fakeMuxer{},
		Prober:      fixedProber{dur: 100},
		Tracker:     tracker,
		OutputDir:   t.TempDir(),
	}
	if mutate != nil {
		mutate(&deps)
	}

	return &testEnv{
		gen:      NewGenerator(deps),
		tracker:  tracker,
		renderer: renderer,
		comp:     comp,
		plog:     plog,
		deps:     deps,
	}
}

func (e *testEnv) run(t *testing.T, opts models.RenderOptions) models.Job {
	t.Helper()
	e.tracker.CreateJob("job_1", "Music Video: test", "https://youtu.be/x")
	e.gen.Run(context.Background(), "job_1", "https://youtu.be/x", opts)
	job, err := e.tracker.Get("job_1")
	if err != nil {
		t.Fatalf("job vanished: %v", err)
	}
	return job
}

func TestRunHappyPath(t *testing.T) {
	env := newTestEnv(t, nil)

	job := env.run(t, models.RenderOptions{SceneCount: 5, Style: "cinematic", TransitionType: models.TransitionFade, TransitionDuration: 1})

	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error: %s)", job.Status, job.Error)
	}
	if job.OverallProgress != 100 {
		t.Errorf("expected 100%%, got %v", job.OverallProgress)
	}
	if job.OutputPath == "" {
		t.Fatalf("no output path recorded")
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		t.Errorf("final video not on disk: %v", err)
	}
	if !strings.Contains(filepath.Base(job.OutputPath), "Test_Song") {
		t.Errorf("output name does not carry the title: %s", job.OutputPath)
	}
	if job.TotalScenes != 5 || len(job.SceneDescriptions) != 5 {
		t.Errorf("scene plan not recorded: total=%d descs=%d", job.TotalScenes, len(job.SceneDescriptions))
	}
	if env.comp.gotLen != 5 {
		t.Errorf("expected 5 clips composed, got %d", env.comp.gotLen)
	}
}

func TestRunDownloadFailure(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Audio = &fakeAudio{failErr: errors.New("video unavailable")}
	})

	job := env.run(t, models.RenderOptions{})

	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Stage != models.StageDownload {
		t.Errorf("expected failure recorded at download stage, got %s", job.Stage)
	}
	if !strings.Contains(job.Error, "download") {
		t.Errorf("error not stage-qualified: %q", job.Error)
	}
	if env.renderer.calls.Load() != 0 {
		t.Errorf("scene generation ran after download failure")
	}
}

func TestRunPartialSceneFailureProceeds(t *testing.T) {
	env := newTestEnv(t, nil)
	env.renderer.failFor["scene_3"] = true

	job := env.run(t, models.RenderOptions{SceneCount: 5})

	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed despite one failed scene, got %s (error: %s)", job.Status, job.Error)
	}
	if env.comp.gotLen != 4 {
		t.Errorf("expected 4 surviving clips, got %d", env.comp.gotLen)
	}
}

func TestRunInsufficientScenes(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, name := range []string{"scene_1", "scene_2", "scene_4", "scene_5"} {
		env.renderer.failFor[name] = true
	}

	job := env.run(t, models.RenderOptions{SceneCount: 5})

	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed with 1/5 scenes, got %s", job.Status)
	}
	if job.Stage != models.StageSceneGeneration {
		t.Errorf("expected failure at scene_generation, got %s", job.Stage)
	}
	if !strings.Contains(job.Error, "1 of 5") {
		t.Errorf("error does not report the counts: %q", job.Error)
	}
}

func TestRunFallbackRendererRecovers(t *testing.T) {
	fallback := &fakeRenderer{failFor: map[string]bool{}}
	env := newTestEnv(t, func(d *Deps) {
		d.Fallback = fallback
	})
	env.renderer.failAll = true

	job := env.run(t, models.RenderOptions{SceneCount: 4})

	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected fallback to rescue the job, got %s (error: %s)", job.Status, job.Error)
	}
	if fallback.calls.Load() != 4 {
		t.Errorf("expected 4 fallback renders, got %d", fallback.calls.Load())
	}
}

func TestRunLyricsFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Lyrics = &fakeLyrics{failErr: errors.New("whisper quota exceeded")}
	})

	job := env.run(t, models.RenderOptions{SceneCount: 4})

	if job.Status != models.JobStatusCompleted {
		t.Fatalf("lyrics failure should not fail the job, got %s (error: %s)", job.Status, job.Error)
	}
}

func TestRunCompositorFailure(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Compositor = &fakeCompositor{failErr: errors.New("xfade blew up")}
	})

	job := env.run(t, models.RenderOptions{SceneCount: 4})

	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Stage != models.StageVideoCreation {
		t.Errorf("expected failure at video_creation, got %s", job.Stage)
	}
}

func TestRunProgressMonotone(t *testing.T) {
	env := newTestEnv(t, nil)
	env.renderer.failFor["scene_2"] = true

	job := env.run(t, models.RenderOptions{SceneCount: 5})
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}

	last := -1.0
	for i, v := range env.plog.values {
		if v < last {
			t.Fatalf("overall progress decreased at persist #%d: %v -> %v (history: %v)", i, last, v, env.plog.values)
		}
		last = v
	}
	if last != 100 {
		t.Errorf("final persisted progress is %v, want 100", last)
	}
}

func TestRunCleansTempDir(t *testing.T) {
	env := newTestEnv(t, nil)

	job := env.run(t, models.RenderOptions{SceneCount: 4})
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}

	tempDir := filepath.Join(env.deps.OutputDir, "jobs", "job_1", "temp")
	if _, err := os.Stat(tempDir); !os.IsNotExist(err) {
		t.Errorf("temp dir survived the run: %v", err)
	}
}

func TestOutputNameSanitizes(t *testing.T) {
	name := outputName("My Song: The Remix (2026)!", "job_1")
	if strings.ContainsAny(name, ":()!") {
		t.Errorf("unsafe characters in output name: %s", name)
	}
	if !strings.HasSuffix(name, ".mp4") {
		t.Errorf("missing extension: %s", name)
	}

	fallback := outputName("!!!", "job_1")
	if !strings.HasPrefix(fallback, "job_1") {
		t.Errorf("empty title did not fall back to job id: %s", fallback)
	}
}
