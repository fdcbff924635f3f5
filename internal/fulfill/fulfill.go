package fulfill

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/moodreel/moodreel/internal/models"
	"github.com/moodreel/moodreel/internal/retry"
	"github.com/moodreel/moodreel/internal/services"
)

// Engine resolves a planned storyboard into concrete clip URLs. Provider
// failures never fail the job: any scene whose clip cannot be generated falls
// back to the raw selfie, and the summary records how degraded the result is.
type Engine struct {
	video       services.VideoProvider
	lipsync     services.LipSyncProvider
	maxAttempts int
	baseDelay   time.Duration
	log         zerolog.Logger
}

func New(video services.VideoProvider, lipsync services.LipSyncProvider, logger zerolog.Logger) *Engine {
	return &Engine{
		video:       video,
		lipsync:     lipsync,
		maxAttempts: 3,
		baseDelay:   2 * time.Second,
		log:         logger,
	}
}

// Result is the fulfilled storyboard: one clip per scene, in scene order.
type Result struct {
	Clips   []models.AssemblyClip
	Summary models.ClipGenSummary
}

// Fulfill generates a clip for every scene. The lip-synced performer clip is
// rendered at most once per job and reused for every performer scene.
func (e *Engine) Fulfill(ctx context.Context, selfieURL, audioURL string, scenes []models.StoryboardScene) Result {
	var result Result

	// Lip-sync render cache. Set after the first performer scene regardless
	// of outcome so a failed render is not re-attempted for later scenes.
	var performerClip string
	performerDone := false
	performerOK := false

	for i, scene := range scenes {
		clip := models.AssemblyClip{
			Type:        scene.Type,
			DurationSec: scene.DurationSec,
		}

		switch scene.Type {
		case models.ScenePerformer:
			if !performerDone {
				performerClip, performerOK = e.performerClip(ctx, selfieURL, audioURL)
				performerDone = true
				result.Summary.LipSyncSucceeded = performerOK
			}
			clip.URL = performerClip
			if performerOK {
				result.Summary.Generated++
			} else {
				result.Summary.Placeholder++
			}

		case models.SceneBackground:
			url, ok := e.backgroundClip(ctx, scene, selfieURL)
			clip.URL = url
			if ok {
				result.Summary.Generated++
			} else {
				result.Summary.Placeholder++
			}

		default:
			e.log.Warn().Int("scene", i).Str("type", string(scene.Type)).Msg("unknown scene type, substituting selfie")
			clip.URL = selfieURL
			result.Summary.Placeholder++
		}

		result.Clips = append(result.Clips, clip)
	}

	return result
}

// performerClip renders the lip-synced selfie clip, retrying transient
// failures. Falls back to the raw selfie URL.
func (e *Engine) performerClip(ctx context.Context, selfieURL, audioURL string) (string, bool) {
	var ref services.MediaRef
	err := retry.Do(ctx, e.maxAttempts, e.baseDelay, func(ctx context.Context) error {
		var genErr error
		ref, genErr = e.lipsync.GenerateLipSync(ctx, selfieURL, audioURL)
		return genErr
	})

	if err != nil {
		if services.IsUnavailable(err) {
			e.log.Info().Msg("lip-sync not configured, using selfie for performer scenes")
		} else {
			e.log.Warn().Err(err).Msg("lip-sync failed, using selfie for performer scenes")
		}
		return selfieURL, false
	}

	return string(ref), true
}

// backgroundClip generates one background scene, retrying transient failures.
// Falls back to the raw selfie URL.
func (e *Engine) backgroundClip(ctx context.Context, scene models.StoryboardScene, selfieURL string) (string, bool) {
	var ref services.MediaRef
	err := retry.Do(ctx, e.maxAttempts, e.baseDelay, func(ctx context.Context) error {
		var genErr error
		ref, genErr = e.video.GenerateClip(ctx, scene.Prompt, scene.DurationSec)
		return genErr
	})

	if err != nil {
		if services.IsUnavailable(err) {
			e.log.Info().Msg("text-to-video not configured, using selfie for background scene")
		} else {
			e.log.Warn().Err(err).Str("prompt", scene.Prompt).Msg("background generation failed, using selfie")
		}
		return selfieURL, false
	}

	return string(ref), true
}
