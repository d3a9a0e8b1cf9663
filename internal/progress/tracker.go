package progress

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/versevid/versevid/internal/models"
)

// ---------------------------------------------------------------------------
// Job progress tracking.
// One worker goroutine owns each job's mutations; readers get snapshots.
// Overall progress maps stages onto fixed bands and never decreases, so a
// polling client never watches the bar move backwards. Every mutation is
// persisted through the store while the lock is held.
// ---------------------------------------------------------------------------

// Stage bands on the 0-100 overall scale. Entering a stage lifts progress to
// its floor; in-stage progress scales across the band.
const (
	bandDownloadFloor   = 0.0
	bandLyricsFloor     = 5.0
	bandPlanningFloor   = 10.0
	bandGenerationFloor = 15.0
	bandGenerationCeil  = 50.0
	bandClipsFloor      = 50.0
	bandClipsCeil       = 75.0
	bandTransitionFloor = 75.0
	bandTransitionCeil  = 90.0
	bandAudioFloor      = 90.0
)

var stageFloors = map[models.JobStage]float64{
	models.StageInitializing:    0,
	models.StageDownload:        bandDownloadFloor,
	models.StageLyrics:          bandLyricsFloor,
	models.StageScenePlanning:   bandPlanningFloor,
	models.StageSceneGeneration: bandGenerationFloor,
	models.StageVideoCreation:   bandClipsFloor,
	models.StageCompleted:       100,
}

// Tracker is the in-memory view over the durable job store.
type Tracker struct {
	mu    sync.Mutex
	jobs  map[string]*models.Job
	store Store
}

// NewTracker wraps a store. Existing durable records are loaded lazily by Get
// and List, not up front.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		jobs:  make(map[string]*models.Job),
		store: store,
	}
}

// CreateJob registers a new running job and persists it.
func (t *Tracker) CreateJob(jobID, title, sourceURL string) models.Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	job := &models.Job{
		ID:        jobID,
		Title:     title,
		SourceURL: sourceURL,
		Stage:     models.StageInitializing,
		Status:    models.JobStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.jobs[jobID] = job
	t.persist(job)
	return *job
}

// AdvanceStage moves the job into a new stage. In-stage progress resets;
// overall progress rises to the stage's band floor if that is an increase.
func (t *Tracker) AdvanceStage(jobID string, stage models.JobStage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.jobs[jobID]
	if job == nil {
		return
	}

	job.Stage = stage
	job.StageProgress = 0
	if floor, ok := stageFloors[stage]; ok {
		raiseOverall(job, floor)
	}
	touch(job)
	t.persist(job)
	log.Printf("[Progress] Job %s entered stage %s (%.1f%%)", jobID, stage, job.OverallProgress)
}

// SetScenePlan records the planned scene descriptions and total.
func (t *Tracker) SetScenePlan(jobID string, descriptions []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.jobs[jobID]
	if job == nil {
		return
	}

	job.SceneDescriptions = append([]string(nil), descriptions...)
	job.TotalScenes = len(descriptions)
	job.ProcessedScenes = 0
	touch(job)
	t.persist(job)
}

// RecordSceneProgress marks scenes done out of total. During scene generation
// it scales across the 15-50 band; during video creation (clip synthesis)
// across 50-75.
func (t *Tracker) RecordSceneProgress(jobID string, done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.jobs[jobID]
	if job == nil || total <= 0 {
		return
	}

	frac := float64(done) / float64(total)
	if frac > 1 {
		frac = 1
	}
	job.ProcessedScenes = done
	job.StageProgress = frac * 100

	switch job.Stage {
	case models.StageSceneGeneration:
		raiseOverall(job, bandGenerationFloor+(bandGenerationCeil-bandGenerationFloor)*frac)
	case models.StageVideoCreation:
		raiseOverall(job, bandClipsFloor+(bandClipsCeil-bandClipsFloor)*frac)
	}
	touch(job)
	t.persist(job)
}

// RecordTransitionProgress marks transition boundaries done, scaling the
// 75-90 band.
func (t *Tracker) RecordTransitionProgress(jobID string, done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.jobs[jobID]
	if job == nil || total <= 0 {
		return
	}

	frac := float64(done) / float64(total)
	if frac > 1 {
		frac = 1
	}
	job.StageProgress = frac * 100
	raiseOverall(job, bandTransitionFloor+(bandTransitionCeil-bandTransitionFloor)*frac)
	touch(job)
	t.persist(job)
}

// RecordAudioProgress scales the 90-100 band with percent in 0-100.
func (t *Tracker) RecordAudioProgress(jobID string, percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.jobs[jobID]
	if job == nil {
		return
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	job.StageProgress = percent
	raiseOverall(job, bandAudioFloor+(100-bandAudioFloor)*percent/100)
	touch(job)
	t.persist(job)
}

// Complete marks the job finished at 100%.
func (t *Tracker) Complete(jobID, outputPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.jobs[jobID]
	if job == nil {
		return
	}

	now := time.Now().UTC()
	job.Stage = models.StageCompleted
	job.Status = models.JobStatusCompleted
	job.StageProgress = 100
	job.OverallProgress = 100
	job.OutputPath = outputPath
	job.CompletedAt = &now
	touch(job)
	t.persist(job)
	log.Printf("[Progress] Job %s completed: %s", jobID, outputPath)
}

// Fail marks the job failed. The stage is left where the failure happened so
// callers can see how far the job got.
func (t *Tracker) Fail(jobID, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.jobs[jobID]
	if job == nil {
		return
	}

	now := time.Now().UTC()
	job.Status = models.JobStatusFailed
	job.Error = message
	job.CompletedAt = &now
	touch(job)
	t.persist(job)
	log.Printf("[Progress] Job %s failed in stage %s: %s", jobID, job.Stage, message)
}

// Get returns a snapshot. Jobs unknown to this process are recovered
// read-only from the durable store (a restart does not lose history).
func (t *Tracker) Get(jobID string) (models.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if job := t.jobs[jobID]; job != nil {
		return *job, nil
	}

	job, err := t.store.Load(jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, err
	}
	t.jobs[jobID] = job
	return *job, nil
}

// List returns snapshots of every known job, newest first.
func (t *Tracker) List() []models.Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(t.jobs))
	var jobs []models.Job
	for id, job := range t.jobs {
		jobs = append(jobs, *job)
		seen[id] = true
	}

	if stored, err := t.store.LoadAll(); err == nil {
		for _, job := range stored {
			if !seen[job.ID] {
				jobs = append(jobs, *job)
			}
		}
	} else {
		log.Printf("[Progress] Could not list stored jobs: %v", err)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs
}

func raiseOverall(job *models.Job, value float64) {
	if value > 100 {
		value = 100
	}
	if value > job.OverallProgress {
		job.OverallProgress = value
	}
}

func touch(job *models.Job) {
	job.UpdatedAt = time.Now().UTC()
}

// persist is called with the lock held; a store failure is logged, not
// propagated, because losing a checkpoint must not kill a render mid-flight.
func (t *Tracker) persist(job *models.Job) {
	if err := t.store.Save(job); err != nil {
		log.Printf("[Progress] Failed to persist job %s: %v", job.ID, err)
	}
}
