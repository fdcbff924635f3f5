package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/moodreel/moodreel/internal/models"
)

// ---------------------------------------------------------------------------
// Storyboard LLM adapter
// A single chat completion with an enforced JSON response, bounded at 30s.
// The planner treats any failure here as a signal to use its static
// per-mood template instead.
// ---------------------------------------------------------------------------

const (
	storyboardProvider     = "storyboard-llm"
	storyboardTimeout      = 30 * time.Second
	defaultStoryboardModel = "gpt-4o-mini"

	minScenes = 3
	maxScenes = 4
)

type StoryboardService struct {
	client *openai.Client // nil when no API key is configured
	model  string
	log    zerolog.Logger
}

var _ StoryboardProvider = (*StoryboardService)(nil)

// NewStoryboardService creates the LLM storyboard adapter. An empty apiKey is
// allowed: the adapter then reports unavailable on every call.
func NewStoryboardService(apiKey, model string, logger zerolog.Logger) *StoryboardService {
	if model == "" {
		model = defaultStoryboardModel
	}
	s := &StoryboardService{model: model, log: logger}
	if apiKey != "" {
		s.client = openai.NewClient(apiKey)
	}
	return s
}

// storyboardResponse is the JSON shape the model is instructed to produce.
type storyboardResponse struct {
	Scenes []models.StoryboardScene `json:"scenes"`
}

const storyboardSystemPrompt = `You are a music video director planning a short vertical (9:16) mood video.

The video alternates between two scene types:
- "performer": the user singing to camera (a lip-synced selfie clip)
- "background": an AI-generated visual matching the requested mood

Respond with JSON only, matching exactly:
{"scenes":[{"type":"performer"|"background","prompt":"...","duration_sec":2-4}]}

Hard constraints:
- 3 or 4 scenes total
- The FIRST and LAST scene must be type "performer"
- Each scene lasts between 2 and 4 seconds
- Total duration between 10 and 15 seconds
- Every background prompt must be a vivid, cinematic visual description that
  matches the mood — no people, no text overlays
- Performer prompts describe framing and energy for the singer`

// PlanScenes asks the LLM for a storyboard and validates the result against
// the scene constraints. Any violation is a permanent failure so the caller
// falls back without retrying.
func (s *StoryboardService) PlanScenes(ctx context.Context, mood models.Mood, lyrics string) ([]models.StoryboardScene, error) {
	if s.client == nil {
		return nil, Unavailable(storyboardProvider)
	}

	ctx, cancel := context.WithTimeout(ctx, storyboardTimeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Plan a storyboard for the mood: %q.", mood)
	if lyrics != "" {
		userPrompt += fmt.Sprintf("\n\nThe song lyrics, for thematic inspiration:\n%s", lyrics)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: storyboardSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, Transient(storyboardProvider, "completion request failed", err)
	}

	if len(resp.Choices) == 0 {
		return nil, Permanent(storyboardProvider, "empty completion response", nil)
	}

	scenes, err := ParseStoryboard(resp.Choices[0].Message.Content)
	if err != nil {
		s.log.Debug().Err(err).Msg("storyboard response rejected")
		return nil, Permanent(storyboardProvider, "unusable storyboard response", err)
	}

	s.log.Info().Int("scenes", len(scenes)).Str("mood", string(mood)).Msg("storyboard planned")
	return scenes, nil
}

// ParseStoryboard extracts and validates a scene list from raw model output.
// Tolerates a markdown code fence around the JSON.
func ParseStoryboard(raw string) ([]models.StoryboardScene, error) {
	raw = stripCodeFence(raw)

	var parsed storyboardResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse storyboard JSON: %w", err)
	}

	scenes := parsed.Scenes
	if len(scenes) < minScenes || len(scenes) > maxScenes {
		return nil, fmt.Errorf("expected %d-%d scenes, got %d", minScenes, maxScenes, len(scenes))
	}
	if scenes[0].Type != models.ScenePerformer || scenes[len(scenes)-1].Type != models.ScenePerformer {
		return nil, fmt.Errorf("storyboard must start and end with a performer scene")
	}

	var total float64
	for i, sc := range scenes {
		if sc.Type != models.ScenePerformer && sc.Type != models.SceneBackground {
			return nil, fmt.Errorf("scene %d has unknown type %q", i, sc.Type)
		}
		if sc.Prompt == "" {
			return nil, fmt.Errorf("scene %d has an empty prompt", i)
		}
		if sc.DurationSec < 2 || sc.DurationSec > 4 {
			return nil, fmt.Errorf("scene %d duration %.1fs outside 2-4s", i, sc.DurationSec)
		}
		total += sc.DurationSec
	}
	if total < 10 || total > 15 {
		return nil, fmt.Errorf("total duration %.1fs outside 10-15s", total)
	}

	return scenes, nil
}

// stripCodeFence removes a surrounding ```json ... ``` fence, which some
// models emit even in JSON mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
