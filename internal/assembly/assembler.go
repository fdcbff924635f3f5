package assembly

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/moodreel/moodreel/internal/models"
)

// Fetcher downloads a remote media reference to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// Encoder is the media toolchain behind the assembler. Prepare normalizes
// one source (video or still image) into a uniform clip of the requested
// duration; Concat joins prepared clips; MuxAudio lays the audio track over
// the joined video, trimmed to the shorter of the two.
type Encoder interface {
	Prepare(ctx context.Context, src string, durationSec float64, dest string) error
	Concat(ctx context.Context, clips []string, dest string) error
	MuxAudio(ctx context.Context, videoPath, audioPath, dest string) error
}

// ProgressFunc receives percentage updates in [0,100] during assembly.
type ProgressFunc func(percent int)

// Assembler turns a manifest into a single rendered video file. Work is
// staged through a per-run temp directory that is always cleaned up.
type Assembler struct {
	fetcher Fetcher
	encoder Encoder
	tempDir string
	log     zerolog.Logger
}

func NewAssembler(fetcher Fetcher, encoder Encoder, tempDir string, logger zerolog.Logger) *Assembler {
	return &Assembler{
		fetcher: fetcher,
		encoder: encoder,
		tempDir: tempDir,
		log:     logger,
	}
}

// progressReporter clamps reported progress to [0,100] and keeps it
// monotone regardless of how phases interleave.
type progressReporter struct {
	fn   ProgressFunc
	last int
}

func (p *progressReporter) report(percent int) {
	if p.fn == nil {
		return
	}
	if percent < p.last {
		return
	}
	if percent > 100 {
		percent = 100
	}
	p.last = percent
	p.fn(percent)
}

// Phase boundaries for progress accounting. Fetching owns the first 30
// percent, encoding the next 60, upload/finalize the last 10 (reported by
// the caller's onProgress once Assemble returns).
const (
	fetchBudget  = 30
	prepareEnd   = 60
	concatMark   = 70
	muxMark      = 90
	completeMark = 100
)

// Assemble renders the manifest and returns the path of the finished file
// inside the run's temp directory. On success the final progress report is
// exactly 100.
func (a *Assembler) Assemble(ctx context.Context, manifest *models.AssemblyManifest, onProgress ProgressFunc) (string, error) {
	if err := ValidateManifest(manifest); err != nil {
		return "", err
	}

	runDir := filepath.Join(a.tempDir, uuid.New().String())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}

	progress := &progressReporter{fn: onProgress}

	// Fetch phase: every clip plus the audio track.
	fetches := len(manifest.Clips) + 1
	sources := make([]string, len(manifest.Clips))
	for i, clip := range manifest.Clips {
		dest := filepath.Join(runDir, fmt.Sprintf("src-%02d%s", i, extensionFor(clip.URL)))
		if err := a.fetcher.Fetch(ctx, clip.URL, dest); err != nil {
			return "", fmt.Errorf("failed to fetch clip %d: %w", i, err)
		}
		sources[i] = dest
		progress.report((i + 1) * fetchBudget / fetches)
	}

	audioPath := filepath.Join(runDir, "audio"+extensionFor(manifest.AudioURL))
	if err := a.fetcher.Fetch(ctx, manifest.AudioURL, audioPath); err != nil {
		return "", fmt.Errorf("failed to fetch audio: %w", err)
	}
	progress.report(fetchBudget)

	// Encode phase: normalize, join, then lay the audio over the video.
	prepared := make([]string, len(sources))
	for i, src := range sources {
		dest := filepath.Join(runDir, fmt.Sprintf("clip-%02d.mp4", i))
		if err := a.encoder.Prepare(ctx, src, manifest.Clips[i].DurationSec, dest); err != nil {
			return "", fmt.Errorf("failed to prepare clip %d: %w", i, err)
		}
		prepared[i] = dest
		progress.report(fetchBudget + (i+1)*(prepareEnd-fetchBudget)/len(sources))
	}

	joined := filepath.Join(runDir, "joined.mp4")
	if err := a.encoder.Concat(ctx, prepared, joined); err != nil {
		return "", fmt.Errorf("failed to concatenate clips: %w", err)
	}
	progress.report(concatMark)

	final := filepath.Join(runDir, "final.mp4")
	if err := a.encoder.MuxAudio(ctx, joined, audioPath, final); err != nil {
		return "", fmt.Errorf("failed to mux audio: %w", err)
	}
	progress.report(muxMark)

	a.log.Info().Int("clips", len(manifest.Clips)).Float64("duration_sec", manifest.Target.DurationSec).Msg("assembly complete")
	progress.report(completeMark)
	return final, nil
}

// Cleanup removes the work directory that held an Assemble run's output.
func (a *Assembler) Cleanup(outputPath string) {
	if outputPath == "" {
		return
	}
	if err := os.RemoveAll(filepath.Dir(outputPath)); err != nil {
		a.log.Warn().Err(err).Msg("failed to clean up work dir")
	}
}

func extensionFor(url string) string {
	ext := filepath.Ext(stripQuery(url))
	if ext == "" || len(ext) > 5 {
		return ".bin"
	}
	return ext
}

func stripQuery(url string) string {
	for i, c := range url {
		if c == '?' {
			return url[:i]
		}
	}
	return url
}
