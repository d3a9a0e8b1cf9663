package models

import (
	"time"
)

// Enums

// JobStage identifies where a pipeline job currently is. Stages only move
// forward; a failed job keeps the stage it died in so callers can see where.
type JobStage string

const (
	StageInitializing    JobStage = "initializing"
	StageDownload        JobStage = "download"
	StageLyrics          JobStage = "lyrics"
	StageScenePlanning   JobStage = "scene_planning"
	StageSceneGeneration JobStage = "scene_generation"
	StageVideoCreation   JobStage = "video_creation"
	StageCompleted       JobStage = "completed"
)

type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

type MotionType string

const (
	MotionZoom     MotionType = "zoom"
	MotionPan      MotionType = "pan"
	MotionKenBurns MotionType = "ken_burns"
	MotionNone     MotionType = "none"
)

type TransitionType string

const (
	TransitionFade     TransitionType = "fade"
	TransitionWipe     TransitionType = "wipe"
	TransitionDissolve TransitionType = "dissolve"
)

// Models

// SceneSpec describes one planned scene: what to render and how to animate it.
// PanX/PanY are fractions of the frame dimension in [-1, 1].
type SceneSpec struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt"`
	SourceImage string     `json:"source_image,omitempty"`
	Motion      MotionType `json:"motion"`
	Duration    float64    `json:"duration"` // seconds
	ZoomFactor  float64    `json:"zoom_factor,omitempty"`
	PanX        float64    `json:"pan_x,omitempty"`
	PanY        float64    `json:"pan_y,omitempty"`
}

// Clip is a rendered video segment on disk.
type Clip struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"` // seconds
}

// AudioMeta describes a downloaded audio track.
type AudioMeta struct {
	Title       string  `json:"title"`
	Artist      string  `json:"artist,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// RenderOptions are the caller-tunable knobs for one pipeline run.
type RenderOptions struct {
	Style              string         `json:"style,omitempty"`
	SceneCount         int            `json:"scene_count,omitempty"` // 0 = auto
	TransitionType     TransitionType `json:"transition_type,omitempty"`
	TransitionDuration float64        `json:"transition_duration,omitempty"` // seconds
}

// Job is the durable per-pipeline record. It has a single writer (the worker
// goroutine that owns the job); everyone else reads snapshots.
type Job struct {
	ID                string     `json:"job_id"`
	Title             string     `json:"title"`
	SourceURL         string     `json:"source_url,omitempty"`
	Stage             JobStage   `json:"stage"`
	Status            JobStatus  `json:"status"`
	StageProgress     float64    `json:"stage_progress"`   // 0-100 within the stage
	OverallProgress   float64    `json:"overall_progress"` // 0-100, never decreases
	TotalScenes       int        `json:"total_scenes"`
	ProcessedScenes   int        `json:"processed_scenes"`
	SceneDescriptions []string   `json:"scene_descriptions,omitempty"`
	Error             string     `json:"error,omitempty"`
	OutputPath        string     `json:"output_path,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// DTOs for API responses

type CreateJobRequest struct {
	URL                string   `json:"url"`
	Style              *string  `json:"style,omitempty"`               // Default: "cinematic"
	SceneCount         *int     `json:"scene_count,omitempty"`         // Default: auto from audio length
	TransitionType     *string  `json:"transition_type,omitempty"`     // Default: "fade"
	TransitionDuration *float64 `json:"transition_duration,omitempty"` // Default: 1.0s
}

type CreateJobResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

type ListJobsResponse struct {
	Jobs  []Job `json:"jobs"`
	Total int   `json:"total"`
}
