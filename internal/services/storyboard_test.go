package services

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/moodreel/moodreel/internal/models"
)

const validStoryboardJSON = `{"scenes":[
	{"type":"performer","prompt":"singer close up","duration_sec":3},
	{"type":"background","prompt":"neon city rain","duration_sec":4},
	{"type":"performer","prompt":"singer pulls back","duration_sec":3}
]}`

func TestParseStoryboardAcceptsValidPlan(t *testing.T) {
	scenes, err := ParseStoryboard(validStoryboardJSON)
	if err != nil {
		t.Fatalf("valid storyboard rejected: %v", err)
	}
	if len(scenes) != 3 {
		t.Fatalf("expected 3 scenes, got %d", len(scenes))
	}
	if scenes[1].Type != models.SceneBackground || scenes[1].DurationSec != 4 {
		t.Errorf("scene 1 = %+v", scenes[1])
	}
}

func TestParseStoryboardToleratesCodeFence(t *testing.T) {
	fenced := "```json\n" + validStoryboardJSON + "\n```"
	scenes, err := ParseStoryboard(fenced)
	if err != nil {
		t.Fatalf("fenced storyboard rejected: %v", err)
	}
	if len(scenes) != 3 {
		t.Errorf("expected 3 scenes, got %d", len(scenes))
	}
}

func TestParseStoryboardRejectsBadPlans(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", "here is your storyboard!"},
		{"empty scenes", `{"scenes":[]}`},
		{"too many scenes", `{"scenes":[
			{"type":"performer","prompt":"a","duration_sec":2},
			{"type":"background","prompt":"b","duration_sec":2},
			{"type":"background","prompt":"c","duration_sec":2},
			{"type":"background","prompt":"d","duration_sec":2},
			{"type":"performer","prompt":"e","duration_sec":2}
		]}`},
		{"background bookend", `{"scenes":[
			{"type":"background","prompt":"a","duration_sec":3},
			{"type":"background","prompt":"b","duration_sec":4},
			{"type":"performer","prompt":"c","duration_sec":3}
		]}`},
		{"scene too long", `{"scenes":[
			{"type":"performer","prompt":"a","duration_sec":6},
			{"type":"background","prompt":"b","duration_sec":4},
			{"type":"performer","prompt":"c","duration_sec":3}
		]}`},
		{"total too short", `{"scenes":[
			{"type":"performer","prompt":"a","duration_sec":2},
			{"type":"background","prompt":"b","duration_sec":2},
			{"type":"performer","prompt":"c","duration_sec":2}
		]}`},
		{"unknown scene type", `{"scenes":[
			{"type":"performer","prompt":"a","duration_sec":3},
			{"type":"drone","prompt":"b","duration_sec":4},
			{"type":"performer","prompt":"c","duration_sec":3}
		]}`},
		{"empty prompt", `{"scenes":[
			{"type":"performer","prompt":"","duration_sec":3},
			{"type":"background","prompt":"b","duration_sec":4},
			{"type":"performer","prompt":"c","duration_sec":3}
		]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseStoryboard(tt.raw); err == nil {
				t.Errorf("expected rejection for %s", tt.name)
			}
		})
	}
}

func TestStoryboardServiceUnavailableWithoutKey(t *testing.T) {
	s := NewStoryboardService("", "", zerolog.Nop())

	_, err := s.PlanScenes(context.Background(), models.MoodSerene, "")
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
