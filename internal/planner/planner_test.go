package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/moodreel/moodreel/internal/models"
	"github.com/moodreel/moodreel/internal/services"
)

type stubLLM struct {
	scenes []models.StoryboardScene
	err    error
	calls  int
}

func (s *stubLLM) PlanScenes(context.Context, models.Mood, string) ([]models.StoryboardScene, error) {
	s.calls++
	return s.scenes, s.err
}

func TestPlanUsesLLMWhenItSucceeds(t *testing.T) {
	planned := []models.StoryboardScene{
		{Type: models.ScenePerformer, Prompt: "open", DurationSec: 3},
		{Type: models.SceneBackground, Prompt: "city", DurationSec: 4},
		{Type: models.ScenePerformer, Prompt: "close", DurationSec: 3},
	}
	llm := &stubLLM{scenes: planned}
	p := New(llm, zerolog.Nop())

	scenes, source := p.Plan(context.Background(), models.MoodEuphoric, "")

	if source != SourceLLM {
		t.Errorf("source = %q, want %q", source, SourceLLM)
	}
	if len(scenes) != 3 || scenes[1].Prompt != "city" {
		t.Errorf("unexpected scenes: %+v", scenes)
	}
}

func TestPlanFallsBackWhenLLMUnavailable(t *testing.T) {
	llm := &stubLLM{err: services.Unavailable("storyboard-llm")}
	p := New(llm, zerolog.Nop())

	scenes, source := p.Plan(context.Background(), models.MoodAscending, "lyrics")

	if source != SourceTemplate {
		t.Errorf("source = %q, want %q", source, SourceTemplate)
	}
	assertTemplateShape(t, scenes)
}

func TestPlanFallsBackWhenLLMFails(t *testing.T) {
	llm := &stubLLM{err: errors.New("boom")}
	p := New(llm, zerolog.Nop())

	scenes, source := p.Plan(context.Background(), models.MoodFiery, "")

	if source != SourceTemplate {
		t.Errorf("source = %q, want %q", source, SourceTemplate)
	}
	assertTemplateShape(t, scenes)
}

func TestTemplateScenesCoverEveryMood(t *testing.T) {
	seen := map[string]bool{}
	for _, mood := range models.AllMoods {
		scenes := TemplateScenes(mood)
		assertTemplateShape(t, scenes)
		if seen[scenes[1].Prompt] {
			t.Errorf("mood %s shares a background prompt with another mood", mood)
		}
		seen[scenes[1].Prompt] = true
	}
}

func assertTemplateShape(t *testing.T, scenes []models.StoryboardScene) {
	t.Helper()

	if len(scenes) != 3 {
		t.Fatalf("expected 3 template scenes, got %d", len(scenes))
	}
	if scenes[0].Type != models.ScenePerformer || scenes[2].Type != models.ScenePerformer {
		t.Error("template must open and close with performer scenes")
	}
	if scenes[1].Type != models.SceneBackground {
		t.Error("middle template scene must be a background")
	}

	var total float64
	for i, sc := range scenes {
		if sc.Prompt == "" {
			t.Errorf("scene %d has an empty prompt", i)
		}
		total += sc.DurationSec
	}
	if total != 10 {
		t.Errorf("template total duration = %.1fs, want 10s", total)
	}
}
