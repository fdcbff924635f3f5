package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/moodreel/moodreel/internal/assembly"
	"github.com/moodreel/moodreel/internal/db"
	"github.com/moodreel/moodreel/internal/fulfill"
	"github.com/moodreel/moodreel/internal/models"
	"github.com/moodreel/moodreel/internal/planner"
	"github.com/moodreel/moodreel/internal/queue"
	"github.com/moodreel/moodreel/internal/storage"
)

const dequeueTimeout = 5 * time.Second

// Store is the job persistence surface the worker drives. Every mutation is
// a guarded transition; db.ErrConflict means another worker got there first.
type Store interface {
	ClaimJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	SetJobReady(ctx context.Context, id uuid.UUID, manifest models.AssemblyManifest, refs models.ProviderRefs) error
	SetJobAssembling(ctx context.Context, id uuid.UUID) error
	UpdateAssemblyProgress(ctx context.Context, id uuid.UUID, progress int) error
	FinalizeJob(ctx context.Context, id uuid.UUID, resultURL string) error
	SetJobError(ctx context.Context, id uuid.UUID, message string) error
}

// ObjectStore is the slice of the storage layer the assembly path needs.
type ObjectStore interface {
	UploadFile(ctx context.Context, storagePath, localPath, contentType string) error
	GetSignedURL(ctx context.Context, storagePath string, expiresIn int) (string, error)
}

// Worker consumes queued tasks and drives jobs through the generation
// pipeline. When an assembler is configured it also renders manifests
// server-side; otherwise assembly is left to the client.
type Worker struct {
	store     Store
	queue     *queue.Queue
	planner   *planner.Planner
	engine    *fulfill.Engine
	assembler *assembly.Assembler // nil when server-side assembly is disabled
	objects   ObjectStore

	bucket        string
	outputsPrefix string

	// Bounds concurrent pipeline runs so one burst of jobs cannot exhaust
	// provider rate limits.
	sem *semaphore.Weighted
	log zerolog.Logger
}

func New(
	store Store,
	q *queue.Queue,
	p *planner.Planner,
	engine *fulfill.Engine,
	assembler *assembly.Assembler,
	objects ObjectStore,
	bucket, outputsPrefix string,
	maxConcurrent int64,
	logger zerolog.Logger,
) *Worker {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Worker{
		store:         store,
		queue:         q,
		planner:       p,
		engine:        engine,
		assembler:     assembler,
		objects:       objects,
		bucket:        bucket,
		outputsPrefix: outputsPrefix,
		sem:           semaphore.NewWeighted(maxConcurrent),
		log:           logger,
	}
}

// Start consumes the task queues until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	w.log.Info().Int("concurrency", concurrency).Bool("assembly", w.assembler != nil).Msg("worker started")

	for i := 0; i < concurrency; i++ {
		go w.consume(ctx, queue.QueueProcessJob, w.processJob)
		if w.assembler != nil {
			go w.consume(ctx, queue.QueueAssembleJob, w.assembleJob)
		}
	}

	<-ctx.Done()
	w.log.Info().Msg("worker shutting down")
}

func (w *Worker) consume(ctx context.Context, queueName string, handler func(context.Context, uuid.UUID) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			task, err := w.queue.Dequeue(ctx, queueName, dequeueTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.log.Error().Err(err).Str("queue", queueName).Msg("dequeue failed")
				continue
			}
			if task == nil {
				continue // No task available, retry
			}

			if err := w.sem.Acquire(ctx, 1); err != nil {
				return
			}
			if err := w.runTask(ctx, task, handler); err != nil {
				w.log.Error().Err(err).Str("job_id", task.JobID.String()).Msg("task failed")
			}
			w.sem.Release(1)
		}
	}
}

// runTask isolates a handler invocation so a panic in one job marks that
// job failed instead of killing the consumer.
func (w *Worker) runTask(ctx context.Context, task *queue.Task, handler func(context.Context, uuid.UUID) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			w.failJob(ctx, task.JobID, err.Error())
		}
	}()

	return handler(ctx, task.JobID)
}

// processJob runs the generation pipeline: claim, plan, fulfill, store the
// manifest. Provider failures degrade the output rather than failing the
// job, so the only error paths here are persistence ones.
func (w *Worker) processJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := w.store.ClaimJob(ctx, jobID)
	if err == db.ErrConflict {
		w.log.Info().Str("job_id", jobID.String()).Msg("job already claimed, skipping")
		return nil
	}
	if err == db.ErrNotFound {
		w.log.Warn().Str("job_id", jobID.String()).Msg("queued job no longer exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}

	w.log.Info().Str("job_id", jobID.String()).Str("mood", string(job.Mood)).Msg("processing job")

	lyrics := ""
	if job.Lyrics != nil {
		lyrics = *job.Lyrics
	}

	scenes, source := w.planner.Plan(ctx, job.Mood, lyrics)
	result := w.engine.Fulfill(ctx, job.SelfieURL, job.AudioURL, scenes)

	outputPath := storage.OutputPath(w.outputsPrefix, job.ID, "final.mp4")
	manifest := assembly.BuildManifest(result.Clips, job.AudioURL, w.bucket, outputPath)

	refs := models.ProviderRefs{
		Storyboard:     &models.StoryboardRef{Source: source, Scenes: scenes},
		ClipGeneration: &result.Summary,
	}

	if err := w.store.SetJobReady(ctx, job.ID, manifest, refs); err != nil {
		w.failJob(ctx, job.ID, fmt.Sprintf("failed to store manifest: %v", err))
		return fmt.Errorf("failed to store manifest: %w", err)
	}

	w.log.Info().
		Str("job_id", jobID.String()).
		Str("storyboard", source).
		Int("generated", result.Summary.Generated).
		Int("placeholder", result.Summary.Placeholder).
		Msg("job ready for assembly")

	if w.assembler != nil {
		if err := w.queue.EnqueueAssemble(ctx, job.ID); err != nil {
			w.log.Error().Err(err).Str("job_id", jobID.String()).Msg("failed to queue assembly")
		}
	}

	return nil
}

// assembleJob renders a ready manifest, uploads the result, and finalizes
// the job.
func (w *Worker) assembleJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	if err := w.store.SetJobAssembling(ctx, jobID); err != nil {
		if err == db.ErrConflict {
			w.log.Info().Str("job_id", jobID.String()).Msg("job not ready for assembly, skipping")
			return nil
		}
		return fmt.Errorf("failed to mark assembling: %w", err)
	}

	outputFile, err := w.assembler.Assemble(ctx, job.Manifest, func(percent int) {
		// The last stretch is reserved for upload; Finalize reports 100.
		if percent >= 100 {
			percent = 95
		}
		if err := w.store.UpdateAssemblyProgress(ctx, jobID, percent); err != nil {
			w.log.Warn().Err(err).Str("job_id", jobID.String()).Msg("progress update failed")
		}
	})
	if err != nil {
		w.failJob(ctx, jobID, fmt.Sprintf("assembly failed: %v", err))
		return fmt.Errorf("assembly failed: %w", err)
	}
	defer w.assembler.Cleanup(outputFile)

	target := job.Manifest.UploadTarget
	if err := w.objects.UploadFile(ctx, target.Path, outputFile, "video/mp4"); err != nil {
		w.failJob(ctx, jobID, fmt.Sprintf("upload failed: %v", err))
		return fmt.Errorf("upload failed: %w", err)
	}

	resultURL, err := w.objects.GetSignedURL(ctx, target.Path, storage.SignedDownloadTTL)
	if err != nil {
		w.failJob(ctx, jobID, fmt.Sprintf("failed to sign result URL: %v", err))
		return fmt.Errorf("failed to sign result URL: %w", err)
	}

	if err := w.store.FinalizeJob(ctx, jobID, resultURL); err != nil {
		w.failJob(ctx, jobID, fmt.Sprintf("failed to finalize: %v", err))
		return fmt.Errorf("failed to finalize: %w", err)
	}

	w.log.Info().Str("job_id", jobID.String()).Msg("job assembled and finalized")
	return nil
}

// failJob records an error on the job, tolerating races with terminal
// states.
func (w *Worker) failJob(ctx context.Context, jobID uuid.UUID, message string) {
	if err := w.store.SetJobError(ctx, jobID, message); err != nil && err != db.ErrConflict && err != db.ErrNotFound {
		w.log.Error().Err(err).Str("job_id", jobID.String()).Msg("failed to record job error")
	}
}
