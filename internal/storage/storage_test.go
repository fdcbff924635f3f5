package storage

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestContainsPathSegment(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"output url", "https://cdn.example.com/storage/v1/object/sign/videos/outputs/abc/final.mp4?token=x", true},
		{"segment only in query", "https://cdn.example.com/videos/final.mp4?dir=outputs", false},
		{"segment as substring of element", "https://cdn.example.com/my-outputs/final.mp4", false},
		{"no outputs at all", "https://cdn.example.com/uploads/abc/selfie.jpg", false},
		{"unparseable url", "://not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsPathSegment(tt.url, "outputs"); got != tt.want {
				t.Errorf("ContainsPathSegment(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestOutputPath(t *testing.T) {
	jobID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	got := OutputPath("outputs", jobID, "final.mp4")
	want := "outputs/6ba7b810-9dad-11d1-80b4-00c04fd430c8/final.mp4"
	if got != want {
		t.Errorf("OutputPath = %q, want %q", got, want)
	}
}

func TestUploadPathScopesToUser(t *testing.T) {
	userID := uuid.New()
	got := UploadPath(userID, "../sneaky/selfie.jpg")

	if !strings.HasPrefix(got, "uploads/"+userID.String()+"/") {
		t.Errorf("UploadPath = %q, want uploads/%s/ prefix", got, userID)
	}
	if strings.Contains(got, "..") {
		t.Errorf("UploadPath = %q, path traversal not stripped", got)
	}
	if !strings.HasSuffix(got, "-selfie.jpg") {
		t.Errorf("UploadPath = %q, want original filename preserved", got)
	}
}
