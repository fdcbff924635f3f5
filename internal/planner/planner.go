package planner

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/moodreel/moodreel/internal/models"
	"github.com/moodreel/moodreel/internal/services"
)

// Storyboard sources, recorded in the job's provider diagnostics.
const (
	SourceLLM      = "llm"
	SourceTemplate = "template"
)

// Planner produces the scene list for a job. The LLM plans when it can; a
// static per-mood template covers every failure mode, so planning itself
// never fails a job.
type Planner struct {
	llm services.StoryboardProvider
	log zerolog.Logger
}

func New(llm services.StoryboardProvider, logger zerolog.Logger) *Planner {
	return &Planner{llm: llm, log: logger}
}

// Plan returns the storyboard for a mood and the source that produced it.
func (p *Planner) Plan(ctx context.Context, mood models.Mood, lyrics string) ([]models.StoryboardScene, string) {
	scenes, err := p.llm.PlanScenes(ctx, mood, lyrics)
	if err == nil {
		return scenes, SourceLLM
	}

	if services.IsUnavailable(err) {
		p.log.Info().Str("mood", string(mood)).Msg("storyboard LLM not configured, using template")
	} else {
		p.log.Warn().Err(err).Str("mood", string(mood)).Msg("storyboard LLM failed, using template")
	}

	return TemplateScenes(mood), SourceTemplate
}

// backgroundPrompts holds one hand-written background visual per mood, used
// when the LLM cannot plan.
var backgroundPrompts = map[models.Mood]string{
	models.MoodAscending:  "Slow aerial climb through sunlit clouds breaking over a mountain ridge at dawn, golden light flooding upward",
	models.MoodEuphoric:   "Confetti and neon light trails swirling over a festival crowd at night, camera gliding upward",
	models.MoodMelancholy: "Rain streaking down a window at dusk, blurred city lights dissolving into blue shadow",
	models.MoodSerene:     "Still alpine lake mirroring soft pastel clouds, gentle mist drifting across the water",
	models.MoodFiery:      "Embers and sparks rising against a deep red sky, molten light pulsing across dark ground",
	models.MoodNostalgic:  "Faded super-8 footage of a summer field at golden hour, light leaks flickering at the frame edge",
}

// TemplateScenes returns the fixed fallback storyboard: the performer opens
// and closes around one mood-matched background, ten seconds in total.
func TemplateScenes(mood models.Mood) []models.StoryboardScene {
	prompt, ok := backgroundPrompts[mood]
	if !ok {
		prompt = backgroundPrompts[models.MoodSerene]
	}

	return []models.StoryboardScene{
		{Type: models.ScenePerformer, Prompt: "Singer facing camera, close framing, natural energy", DurationSec: 3},
		{Type: models.SceneBackground, Prompt: prompt, DurationSec: 4},
		{Type: models.ScenePerformer, Prompt: "Singer facing camera, slow push-in for the closing line", DurationSec: 3},
	}
}
