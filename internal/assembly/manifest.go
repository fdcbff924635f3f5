package assembly

import (
	"fmt"

	"github.com/moodreel/moodreel/internal/models"
)

const (
	// TargetAspectRatio is the only output format produced.
	TargetAspectRatio = "9:16"

	// DefaultClipDuration fills in scenes whose duration was never set.
	DefaultClipDuration = 3.0
)

// BuildManifest produces the declarative assembly description stored on the
// job. Target duration is derived from the clips so the two can never
// disagree.
func BuildManifest(clips []models.AssemblyClip, audioURL, bucket, outputPath string) models.AssemblyManifest {
	var total float64
	normalized := make([]models.AssemblyClip, len(clips))
	for i, clip := range clips {
		if clip.DurationSec <= 0 {
			clip.DurationSec = DefaultClipDuration
		}
		normalized[i] = clip
		total += clip.DurationSec
	}

	return models.AssemblyManifest{
		Clips:    normalized,
		AudioURL: audioURL,
		Target: models.TargetSpec{
			AspectRatio: TargetAspectRatio,
			DurationSec: total,
		},
		UploadTarget: models.UploadTarget{
			Bucket: bucket,
			Path:   outputPath,
		},
	}
}

// ValidateManifest rejects manifests the assembler cannot act on.
func ValidateManifest(m *models.AssemblyManifest) error {
	if m == nil {
		return fmt.Errorf("no manifest")
	}
	if len(m.Clips) == 0 {
		return fmt.Errorf("manifest has no clips")
	}
	if m.AudioURL == "" {
		return fmt.Errorf("manifest has no audio track")
	}
	for i, clip := range m.Clips {
		if clip.URL == "" {
			return fmt.Errorf("clip %d has no URL", i)
		}
	}
	return nil
}
