package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Enums

// JobStatus is the lifecycle state of a generation job. The string values are
// part of the public API contract — dashboards and clients match on them.
type JobStatus string

const (
	JobStatusQueued           JobStatus = "queued"
	JobStatusRunning          JobStatus = "running"
	JobStatusReadyForAssembly JobStatus = "ready_for_assembly"
	JobStatusAssembling       JobStatus = "assembling"
	JobStatusDone             JobStatus = "done"
	JobStatusError            JobStatus = "error"
)

// Terminal reports whether a job in this status can never change again.
// Re-generation requires submitting a new job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// validTransitions is the authoritative transition table for the job state
// machine. "error" is reachable from every non-terminal state and is handled
// separately in CanTransition.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:           {JobStatusRunning},
	JobStatusRunning:          {JobStatusReadyForAssembly, JobStatusDone},
	JobStatusReadyForAssembly: {JobStatusAssembling, JobStatusDone},
	JobStatusAssembling:       {JobStatusDone},
}

// CanTransition reports whether moving from s to target is a legal state
// machine transition.
func (s JobStatus) CanTransition(target JobStatus) bool {
	if target == JobStatusError {
		return !s.Terminal()
	}
	for _, next := range validTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// FinalizableStatuses are the states from which a result URL may be accepted.
// "running" is included so a worker that assembled in-process can finalize
// without an intermediate round trip.
var FinalizableStatuses = []JobStatus{
	JobStatusRunning,
	JobStatusReadyForAssembly,
	JobStatusAssembling,
}

// Finalizable reports whether a job in this status may accept a result URL.
func (s JobStatus) Finalizable() bool {
	for _, fs := range FinalizableStatuses {
		if s == fs {
			return true
		}
	}
	return false
}

// Mood is the fixed set of emotion tags a user can pick for a video.
type Mood string

const (
	MoodAscending  Mood = "ascending"
	MoodEuphoric   Mood = "euphoric"
	MoodMelancholy Mood = "melancholy"
	MoodSerene     Mood = "serene"
	MoodFiery      Mood = "fiery"
	MoodNostalgic  Mood = "nostalgic"
)

// AllMoods lists every selectable mood, in display order.
var AllMoods = []Mood{
	MoodAscending,
	MoodEuphoric,
	MoodMelancholy,
	MoodSerene,
	MoodFiery,
	MoodNostalgic,
}

// ParseMood validates a user-supplied mood label.
func ParseMood(s string) (Mood, error) {
	for _, m := range AllMoods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mood %q", s)
}

// SceneType tags a storyboard scene as either the lip-synced performer or a
// generated background visual.
type SceneType string

const (
	ScenePerformer  SceneType = "performer"
	SceneBackground SceneType = "background"
)

// Storyboard

// StoryboardScene is one planned segment of the output video. Scenes are not
// persisted on their own — the planned storyboard is embedded in the job's
// provider_refs diagnostics.
type StoryboardScene struct {
	Type        SceneType `json:"type"`
	Prompt      string    `json:"prompt"`
	DurationSec float64   `json:"duration_sec"`
}

// Assembly manifest

// AssemblyClip is a resolved media reference for one planned scene, in
// planner order. Clip order is authoritative for concatenation.
type AssemblyClip struct {
	URL         string    `json:"url"`
	Type        SceneType `json:"type"`
	DurationSec float64   `json:"duration_sec"`
}

type TargetSpec struct {
	AspectRatio string  `json:"aspect_ratio"`
	DurationSec float64 `json:"duration_sec"`
}

type UploadTarget struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

// AssemblyManifest is the declarative description the assembler consumes:
// ordered clips, the audio track, the target format, and where the final
// render should be uploaded. Target duration is derived from the clips and
// only used for progress accounting.
type AssemblyManifest struct {
	Clips        []AssemblyClip `json:"clips"`
	AudioURL     string         `json:"audio_url"`
	Target       TargetSpec     `json:"target"`
	UploadTarget UploadTarget   `json:"upload_target"`
}

// Value implements driver.Valuer so the manifest persists as JSONB.
func (m AssemblyManifest) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB columns.
func (m *AssemblyManifest) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// Provider diagnostics

// StoryboardRef records which path produced the storyboard and the scenes it
// produced.
type StoryboardRef struct {
	// Source is "llm" when the storyboard provider planned the scenes, or
	// "template" when the static per-mood fallback was used.
	Source string            `json:"source"`
	Scenes []StoryboardScene `json:"scenes"`
}

// ClipGenSummary counts how fulfillment went for a job: how many clips were
// actually generated vs. substituted with the selfie placeholder, and whether
// the single lip-sync generation succeeded.
type ClipGenSummary struct {
	Generated        int  `json:"generated"`
	Placeholder      int  `json:"placeholder"`
	LipSyncSucceeded bool `json:"lip_sync_succeeded"`
}

// ProviderRefs is the job's per-provider diagnostic metadata. It is a tagged
// struct rather than an open map so each variant keeps its shape, but it
// still serializes to a flexible JSONB column.
type ProviderRefs struct {
	Storyboard     *StoryboardRef  `json:"storyboard,omitempty"`
	ClipGeneration *ClipGenSummary `json:"clip_generation,omitempty"`
}

func (p ProviderRefs) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *ProviderRefs) Scan(value interface{}) error {
	if value == nil {
		*p = ProviderRefs{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, p)
}

// Models

type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName *string   `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Job is one user-initiated video generation request and its tracked
// lifecycle. Invariants maintained by the store layer:
//   - Manifest is set iff status is ready_for_assembly, assembling, or done.
//   - ResultURL is set iff status is done.
//   - ErrorMessage is set iff status is error.
type Job struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Status JobStatus `json:"status"`

	// Inputs
	Mood      Mood    `json:"mood"`
	Lyrics    *string `json:"lyrics,omitempty"`
	AudioURL  string  `json:"audio_url"`
	SelfieURL string  `json:"selfie_url"`

	// Outputs
	ResultURL    *string           `json:"result_url,omitempty"`
	Manifest     *AssemblyManifest `json:"assembly_manifest,omitempty"`
	ErrorMessage *string           `json:"error,omitempty"`
	ProviderRefs ProviderRefs      `json:"provider_refs"`

	// AssemblyProgress is the reported assembler progress in [0,100],
	// meaningful only while status is assembling.
	AssemblyProgress int `json:"assembly_progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Degraded reports whether the manifest contains placeholder clips — the job
// succeeded but with reduced output quality.
func (j *Job) Degraded() bool {
	return j.ProviderRefs.ClipGeneration != nil && j.ProviderRefs.ClipGeneration.Placeholder > 0
}

// ProgressEstimate derives a percentage for the status UI. Assembling reports
// real assembler progress; phases without a progress signal get a synthetic
// oscillating estimate so the bar keeps moving.
func (j *Job) ProgressEstimate(now time.Time) int {
	switch j.Status {
	case JobStatusQueued:
		return 5
	case JobStatusRunning:
		elapsed := now.Sub(j.UpdatedAt).Seconds()
		return 50 + int(35*math.Sin(elapsed/5))
	case JobStatusReadyForAssembly:
		return 90
	case JobStatusAssembling:
		if j.AssemblyProgress < 0 {
			return 0
		}
		if j.AssemblyProgress > 100 {
			return 100
		}
		return j.AssemblyProgress
	case JobStatusDone:
		return 100
	default:
		return 0
	}
}

// DTOs for API requests/responses

type CreateJobRequest struct {
	Mood      string  `json:"mood"`
	Lyrics    *string `json:"lyrics,omitempty"`
	AudioURL  string  `json:"audio_url"`
	SelfieURL string  `json:"selfie_url"`
}

type CreateJobResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
}

// JobResponse decorates a job with fields derived at read time.
type JobResponse struct {
	Job
	Progress int  `json:"progress"`
	Degraded bool `json:"degraded"`
}

type ListJobsResponse struct {
	Jobs   []JobResponse `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type FinalizeJobRequest struct {
	FinalVideoURL string `json:"final_video_url"`
}

type AssemblyProgressRequest struct {
	Progress int `json:"progress"`
}

type SignedUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

type SignedUploadResponse struct {
	UploadURL string `json:"upload_url"`
	Path      string `json:"path"`
	ExpiresIn int    `json:"expires_in"`
}
