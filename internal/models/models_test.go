package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusQueued, JobStatusRunning, true},
		{JobStatusRunning, JobStatusReadyForAssembly, true},
		{JobStatusReadyForAssembly, JobStatusAssembling, true},
		{JobStatusAssembling, JobStatusDone, true},
		{JobStatusReadyForAssembly, JobStatusDone, true},
		{JobStatusRunning, JobStatusDone, true},
		{JobStatusQueued, JobStatusError, true},
		{JobStatusRunning, JobStatusError, true},
		{JobStatusAssembling, JobStatusError, true},
		{JobStatusDone, JobStatusError, false},
		{JobStatusError, JobStatusRunning, false},
		{JobStatusDone, JobStatusRunning, false},
		{JobStatusQueued, JobStatusDone, false},
		{JobStatusQueued, JobStatusAssembling, false},
		{JobStatusReadyForAssembly, JobStatusRunning, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestFinalizableStatuses(t *testing.T) {
	want := map[JobStatus]bool{
		JobStatusQueued:           false,
		JobStatusRunning:          true,
		JobStatusReadyForAssembly: true,
		JobStatusAssembling:       true,
		JobStatusDone:             false,
		JobStatusError:            false,
	}

	for status, ok := range want {
		if got := status.Finalizable(); got != ok {
			t.Errorf("%s.Finalizable() = %v, want %v", status, got, ok)
		}
	}
}

func TestStatusStringsAreStable(t *testing.T) {
	// These strings are the wire contract; renaming one breaks every client.
	want := map[JobStatus]string{
		JobStatusQueued:           "queued",
		JobStatusRunning:          "running",
		JobStatusReadyForAssembly: "ready_for_assembly",
		JobStatusAssembling:       "assembling",
		JobStatusDone:             "done",
		JobStatusError:            "error",
	}

	for status, s := range want {
		if string(status) != s {
			t.Errorf("status %v = %q, want %q", status, string(status), s)
		}
	}
}

func TestParseMood(t *testing.T) {
	for _, m := range AllMoods {
		got, err := ParseMood(string(m))
		if err != nil {
			t.Fatalf("ParseMood(%q) returned error: %v", m, err)
		}
		if got != m {
			t.Errorf("ParseMood(%q) = %q", m, got)
		}
	}

	if _, err := ParseMood("grumpy"); err == nil {
		t.Error("expected error for unknown mood")
	}
}

func TestManifestJSONShape(t *testing.T) {
	m := AssemblyManifest{
		Clips: []AssemblyClip{
			{URL: "https://cdn.example/clip0.mp4", Type: ScenePerformer, DurationSec: 3},
			{URL: "https://cdn.example/clip1.mp4", Type: SceneBackground, DurationSec: 4},
		},
		AudioURL:     "https://cdn.example/song.mp3",
		Target:       TargetSpec{AspectRatio: "9:16", DurationSec: 7},
		UploadTarget: UploadTarget{Bucket: "media", Path: "outputs/abc/final.mp4"},
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	// The manifest's top-level keys are part of the wire contract.
	for _, key := range []string{"clips", "audio_url", "target", "upload_target"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("manifest JSON missing %q key", key)
		}
	}
}

func TestManifestValueScanRoundTrip(t *testing.T) {
	m := AssemblyManifest{
		Clips:    []AssemblyClip{{URL: "u", Type: ScenePerformer, DurationSec: 3}},
		AudioURL: "a",
		Target:   TargetSpec{AspectRatio: "9:16", DurationSec: 3},
	}

	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var got AssemblyManifest
	if err := got.Scan(v); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(got.Clips) != 1 || got.Clips[0].URL != "u" || got.Target.AspectRatio != "9:16" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestProviderRefsScanNil(t *testing.T) {
	p := ProviderRefs{Storyboard: &StoryboardRef{Source: "llm"}}
	if err := p.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if p.Storyboard != nil {
		t.Error("Scan(nil) should reset provider refs")
	}
}

func TestDegraded(t *testing.T) {
	j := &Job{}
	if j.Degraded() {
		t.Error("job without clip generation summary should not be degraded")
	}

	j.ProviderRefs.ClipGeneration = &ClipGenSummary{Generated: 3}
	if j.Degraded() {
		t.Error("job with all clips generated should not be degraded")
	}

	j.ProviderRefs.ClipGeneration.Placeholder = 1
	if !j.Degraded() {
		t.Error("job with placeholder clips should be degraded")
	}
}

func TestProgressEstimate(t *testing.T) {
	now := time.Now()
	j := &Job{ID: uuid.New(), UpdatedAt: now}

	j.Status = JobStatusDone
	if got := j.ProgressEstimate(now); got != 100 {
		t.Errorf("done progress = %d, want 100", got)
	}

	j.Status = JobStatusQueued
	if got := j.ProgressEstimate(now); got != 5 {
		t.Errorf("queued progress = %d, want 5", got)
	}

	j.Status = JobStatusRunning
	for i := 0; i < 60; i++ {
		got := j.ProgressEstimate(now.Add(time.Duration(i) * time.Second))
		if got < 10 || got > 90 {
			t.Fatalf("running progress at %ds = %d, out of expected band", i, got)
		}
	}

	j.Status = JobStatusAssembling
	j.AssemblyProgress = 140
	if got := j.ProgressEstimate(now); got != 100 {
		t.Errorf("assembling progress clamped = %d, want 100", got)
	}
}
