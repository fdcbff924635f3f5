package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastLipSyncPolls(t *testing.T) {
	t.Helper()
	orig := lipSyncPollInterval
	lipSyncPollInterval = time.Millisecond
	t.Cleanup(func() { lipSyncPollInterval = orig })
}

// lipSyncServer fakes the provider: submit returns an id, then the status
// endpoint walks through the given sequence.
func lipSyncServer(t *testing.T, statuses []lipSyncStatusResponse) (*httptest.Server, *int) {
	t.Helper()
	polls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req lipSyncSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Input) != 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(lipSyncSubmitResponse{ID: "ls-123"})
	})
	mux.HandleFunc("GET /v2/generate/ls-123", func(w http.ResponseWriter, r *http.Request) {
		status := statuses[len(statuses)-1]
		if polls < len(statuses) {
			status = statuses[polls]
		}
		polls++
		json.NewEncoder(w).Encode(status)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestLipSyncPollsUntilCompleted(t *testing.T) {
	fastLipSyncPolls(t)
	srv, polls := lipSyncServer(t, []lipSyncStatusResponse{
		{Status: "pending"},
		{Status: "processing"},
		{Status: "completed", OutputURL: "https://cdn.example.com/ls.mp4"},
	})

	s := NewLipSyncService(srv.URL, "test-key", zerolog.Nop())
	ref, err := s.GenerateLipSync(context.Background(), "https://u/selfie.jpg", "https://u/song.mp3")
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}
	if ref != "https://cdn.example.com/ls.mp4" {
		t.Errorf("ref = %q", ref)
	}
	if *polls != 3 {
		t.Errorf("polled %d times, want 3", *polls)
	}
}

func TestLipSyncReportsProviderFailureAsPermanent(t *testing.T) {
	fastLipSyncPolls(t)
	srv, _ := lipSyncServer(t, []lipSyncStatusResponse{
		{Status: "failed", Error: "face not detected"},
	})

	s := NewLipSyncService(srv.URL, "test-key", zerolog.Nop())
	_, err := s.GenerateLipSync(context.Background(), "selfie", "song")

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected Failure, got %v", err)
	}
	if !f.Permanent || f.Retryable() {
		t.Errorf("provider-reported failure should be permanent: %+v", f)
	}
}

func TestLipSyncUnavailableWithoutKey(t *testing.T) {
	s := NewLipSyncService("https://api.example.com", "", zerolog.Nop())

	_, err := s.GenerateLipSync(context.Background(), "selfie", "song")
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}

	var f *Failure
	if errors.As(err, &f) && f.Retryable() {
		t.Error("unavailable must not be retryable")
	}
}

func TestLipSyncCancelledMidPoll(t *testing.T) {
	fastLipSyncPolls(t)
	srv, _ := lipSyncServer(t, []lipSyncStatusResponse{{Status: "pending"}})

	ctx, cancel := context.WithCancel(context.Background())
	s := NewLipSyncService(srv.URL, "test-key", zerolog.Nop())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := s.GenerateLipSync(ctx, "selfie", "song")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
