package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/moodreel/moodreel/internal/models"
)

// ---------------------------------------------------------------------------
// Shared provider contract
// Every external generative service is wrapped in an adapter that normalizes
// all failure modes (network, bad status, malformed body, polling exhaustion,
// provider-reported failure) into a single *Failure value. A missing
// credential is reported as unavailable — a distinct, non-retryable condition
// callers handle with a fallback rather than logging an error.
// ---------------------------------------------------------------------------

// MediaRef is a fetchable reference to generated media.
type MediaRef string

// Failure is the uniform error value returned by every provider adapter.
type Failure struct {
	Provider    string
	Reason      string
	Unavailable bool // No credential/configuration for this provider
	Permanent   bool // Provider reported a terminal failure; retrying is pointless
	Err         error
}

func (f *Failure) Error() string {
	switch {
	case f.Unavailable:
		return fmt.Sprintf("%s: not configured", f.Provider)
	case f.Err != nil:
		return fmt.Sprintf("%s: %s: %v", f.Provider, f.Reason, f.Err)
	default:
		return fmt.Sprintf("%s: %s", f.Provider, f.Reason)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether another attempt could plausibly succeed. The
// retry utility stops immediately when this is false.
func (f *Failure) Retryable() bool { return !f.Unavailable && !f.Permanent }

// Unavailable builds the failure reported when a provider has no credentials
// configured.
func Unavailable(provider string) *Failure {
	return &Failure{Provider: provider, Unavailable: true}
}

// Transient builds a failure for conditions worth retrying (network errors,
// 5xx responses, timeouts).
func Transient(provider, reason string, err error) *Failure {
	return &Failure{Provider: provider, Reason: reason, Err: err}
}

// Permanent builds a failure for conditions that will not improve with
// retries (explicit failed status, unrecoverably malformed responses).
func Permanent(provider, reason string, err error) *Failure {
	return &Failure{Provider: provider, Reason: reason, Permanent: true, Err: err}
}

// IsUnavailable reports whether err is (or wraps) an unavailable-provider
// failure.
func IsUnavailable(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Unavailable
}

// ---------------------------------------------------------------------------
// Adapter interfaces consumed by the pipeline
// ---------------------------------------------------------------------------

// StoryboardProvider plans an ordered scene list for a mood. Implemented by
// the LLM adapter; the planner supplies the template fallback.
type StoryboardProvider interface {
	PlanScenes(ctx context.Context, mood models.Mood, lyrics string) ([]models.StoryboardScene, error)
}

// VideoProvider generates a background clip from a text prompt.
type VideoProvider interface {
	GenerateClip(ctx context.Context, prompt string, durationSec float64) (MediaRef, error)
}

// LipSyncProvider generates a lip-synced performer clip from the user's
// selfie and audio track.
type LipSyncProvider interface {
	GenerateLipSync(ctx context.Context, selfieURL, audioURL string) (MediaRef, error)
}
