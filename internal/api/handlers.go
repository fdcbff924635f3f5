package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/moodreel/moodreel/internal/db"
	"github.com/moodreel/moodreel/internal/models"
	"github.com/moodreel/moodreel/internal/storage"
)

// JobStore is the persistence surface the HTTP layer needs. *db.DB satisfies
// it; tests supply an in-memory double.
type JobStore interface {
	EnsureUser(ctx context.Context, user *models.User) error
	CreateJob(ctx context.Context, job *models.Job) error
	GetJobForUser(ctx context.Context, id, userID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, userID uuid.UUID, status models.JobStatus, limit, offset int) ([]models.Job, error)
	CountJobs(ctx context.Context, userID uuid.UUID, status models.JobStatus) (int, error)
	SetJobAssembling(ctx context.Context, id uuid.UUID) error
	UpdateAssemblyProgress(ctx context.Context, id uuid.UUID, progress int) error
	FinalizeJob(ctx context.Context, id uuid.UUID, resultURL string) error
}

// Enqueuer hands work to the background pipeline.
type Enqueuer interface {
	EnqueueProcess(ctx context.Context, jobID uuid.UUID) error
	EnqueueAssemble(ctx context.Context, jobID uuid.UUID) error
}

// UploadSigner issues pre-authorized upload URLs for client media.
type UploadSigner interface {
	CreateSignedUploadURL(ctx context.Context, storagePath string) (string, error)
}

type Handler struct {
	store   JobStore
	queue   Enqueuer
	uploads UploadSigner

	// outputsSegment is the path element a result URL must contain before
	// finalize accepts it.
	outputsSegment string

	// assemblyEnabled routes ready manifests to the server-side assembler
	// instead of leaving rendering to the client.
	assemblyEnabled bool

	log zerolog.Logger
}

func NewHandler(store JobStore, q Enqueuer, uploads UploadSigner, outputsSegment string, assemblyEnabled bool, logger zerolog.Logger) *Handler {
	return &Handler{
		store:           store,
		queue:           q,
		uploads:         uploads,
		outputsSegment:  outputsSegment,
		assemblyEnabled: assemblyEnabled,
		log:             logger,
	}
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	mood, err := models.ParseMood(req.Mood)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unknown mood. Allowed: ascending, euphoric, melancholy, serene, fiery, nostalgic")
		return
	}
	if req.AudioURL == "" {
		respondError(w, http.StatusBadRequest, "audio_url is required")
		return
	}
	if req.SelfieURL == "" {
		respondError(w, http.StatusBadRequest, "selfie_url is required")
		return
	}

	userID := UserID(r)

	// The jobs table references users; make sure the row exists before the
	// first job for this user.
	if err := h.store.EnsureUser(r.Context(), &models.User{ID: userID, Email: r.Header.Get("X-User-Email")}); err != nil {
		h.log.Error().Err(err).Msg("failed to ensure user")
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	job := &models.Job{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    models.JobStatusQueued,
		Mood:      mood,
		Lyrics:    req.Lyrics,
		AudioURL:  req.AudioURL,
		SelfieURL: req.SelfieURL,
	}

	if err := h.store.CreateJob(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("failed to create job")
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if err := h.queue.EnqueueProcess(r.Context(), job.ID); err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to enqueue job")
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// ListJobs handles GET /v1/jobs
// Query params:
//   - status: filter by job status
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	statusFilter := models.JobStatus(r.URL.Query().Get("status"))
	if statusFilter != "" {
		switch statusFilter {
		case models.JobStatusQueued, models.JobStatusRunning, models.JobStatusReadyForAssembly,
			models.JobStatusAssembling, models.JobStatusDone, models.JobStatusError:
			// valid
		default:
			respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: queued, running, ready_for_assembly, assembling, done, error")
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	userID := UserID(r)

	total, err := h.store.CountJobs(r.Context(), userID, statusFilter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count jobs")
		return
	}

	jobs, err := h.store.ListJobs(r.Context(), userID, statusFilter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	now := time.Now()
	responses := make([]models.JobResponse, 0, len(jobs))
	for i := range jobs {
		responses = append(responses, jobResponse(&jobs[i], now))
	}

	respondJSON(w, http.StatusOK, models.ListJobsResponse{
		Jobs:   responses,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, jobResponse(job, time.Now()))
}

// ProcessJob handles POST /v1/jobs/{id}/process — re-queues a job that never
// got picked up. The worker's claim keeps double submission harmless.
func (h *Handler) ProcessJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	if job.Status != models.JobStatusQueued {
		respondError(w, http.StatusConflict, "Job is not queued")
		return
	}

	if err := h.queue.EnqueueProcess(r.Context(), job.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": string(models.JobStatusQueued)})
}

// AssembleJob handles POST /v1/jobs/{id}/assemble — claims the assembly
// phase. Client-side assemblers call this before fetching clips; when
// server-side assembly is enabled the render is queued here instead.
func (h *Handler) AssembleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	if err := h.store.SetJobAssembling(r.Context(), job.ID); err != nil {
		h.respondStoreError(w, err, "Job is not ready for assembly")
		return
	}

	if h.assemblyEnabled {
		if err := h.queue.EnqueueAssemble(r.Context(), job.ID); err != nil {
			h.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to queue assembly")
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": string(models.JobStatusAssembling)})
}

// UpdateProgress handles PATCH /v1/jobs/{id}/progress
func (h *Handler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	var req models.AssemblyProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Progress < 0 || req.Progress > 100 {
		respondError(w, http.StatusBadRequest, "Progress must be between 0 and 100")
		return
	}

	if err := h.store.UpdateAssemblyProgress(r.Context(), job.ID, req.Progress); err != nil {
		h.respondStoreError(w, err, "Job is not assembling")
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"progress": req.Progress})
}

// FinalizeJob handles POST /v1/jobs/{id}/finalize. The URL must point into
// the outputs area; a rejected request leaves the job untouched.
func (h *Handler) FinalizeJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	var req models.FinalizeJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !validResultURL(req.FinalVideoURL, h.outputsSegment) {
		respondError(w, http.StatusBadRequest, "final_video_url must be an http(s) URL pointing into the outputs area")
		return
	}

	if err := h.store.FinalizeJob(r.Context(), job.ID, req.FinalVideoURL); err != nil {
		h.respondStoreError(w, err, "Job is not in a finalizable state")
		return
	}

	updated, err := h.store.GetJobForUser(r.Context(), job.ID, UserID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	respondJSON(w, http.StatusOK, jobResponse(updated, time.Now()))
}

// CreateUpload handles POST /v1/uploads
func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	var req models.SignedUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Filename == "" {
		respondError(w, http.StatusBadRequest, "filename is required")
		return
	}

	path := storage.UploadPath(UserID(r), req.Filename)
	uploadURL, err := h.uploads.CreateSignedUploadURL(r.Context(), path)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create signed upload URL")
		respondError(w, http.StatusInternalServerError, "Failed to create upload URL")
		return
	}

	respondJSON(w, http.StatusCreated, models.SignedUploadResponse{
		UploadURL: uploadURL,
		Path:      path,
		ExpiresIn: storage.SignedUploadTTL,
	})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadJob parses the id and loads the job scoped to the requesting user,
// writing the error response itself on failure.
func (h *Handler) loadJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return nil, false
	}

	job, err := h.store.GetJobForUser(r.Context(), id, UserID(r))
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load job")
		return nil, false
	}

	return job, true
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error, conflictMessage string) {
	switch {
	case errors.Is(err, db.ErrConflict):
		respondError(w, http.StatusConflict, conflictMessage)
	case errors.Is(err, db.ErrNotFound):
		respondError(w, http.StatusNotFound, "Job not found")
	default:
		respondError(w, http.StatusInternalServerError, "Failed to update job")
	}
}

func jobResponse(job *models.Job, now time.Time) models.JobResponse {
	return models.JobResponse{
		Job:      *job,
		Progress: job.ProgressEstimate(now),
		Degraded: job.Degraded(),
	}
}

// validResultURL accepts only http(s) URLs whose path passes through the
// outputs segment.
func validResultURL(raw, outputsSegment string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return false
	}
	return storage.ContainsPathSegment(raw, outputsSegment)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
