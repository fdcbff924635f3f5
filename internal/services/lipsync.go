package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Lip-sync adapter
// Submit returns a job id; a status endpoint is polled until the job reports
// completed or failed. Lip-sync renders are the slowest step in the pipeline,
// so the poll budget is twice the text-to-video one.
// ---------------------------------------------------------------------------

const (
	lipSyncProvider = "lip-sync"

	lipSyncMaxPolls     = 120 // ~10 minutes at a 5s interval
	lipSyncHTTPTimeout  = 30 * time.Second
	lipSyncOutputAspect = "9:16"
)

// Poll interval is a var so tests can tighten it.
var lipSyncPollInterval = 5 * time.Second

type LipSyncService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

var _ LipSyncProvider = (*LipSyncService)(nil)

// NewLipSyncService creates the lip-sync adapter. An empty apiKey is allowed:
// the adapter then reports unavailable and performer scenes fall back to the
// selfie placeholder.
func NewLipSyncService(baseURL, apiKey string, logger zerolog.Logger) *LipSyncService {
	return &LipSyncService{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: lipSyncHTTPTimeout},
		log:     logger,
	}
}

// Available reports whether the provider credential is configured.
func (s *LipSyncService) Available() bool { return s.apiKey != "" }

// Request / response types

type lipSyncInput struct {
	Type string `json:"type"` // "video" (or image) and "audio"
	URL  string `json:"url"`
}

type lipSyncSubmitRequest struct {
	Model   string         `json:"model"`
	Input   []lipSyncInput `json:"input"`
	Options struct {
		OutputFormat string `json:"output_format"`
		AspectRatio  string `json:"aspect_ratio"`
	} `json:"options"`
}

type lipSyncSubmitResponse struct {
	ID string `json:"id"`
}

// lipSyncStatusResponse is the poll response:
//
//	{"status":"pending"|"processing"|"completed"|"failed","outputUrl":"...","error":"..."}
type lipSyncStatusResponse struct {
	Status    string `json:"status"`
	OutputURL string `json:"outputUrl"`
	Error     string `json:"error"`
}

// GenerateLipSync submits a lip-sync render of the selfie against the audio
// track and polls until it completes.
func (s *LipSyncService) GenerateLipSync(ctx context.Context, selfieURL, audioURL string) (MediaRef, error) {
	if !s.Available() {
		return "", Unavailable(lipSyncProvider)
	}

	reqBody := lipSyncSubmitRequest{
		Model: "lipsync-2",
		Input: []lipSyncInput{
			{Type: "video", URL: selfieURL},
			{Type: "audio", URL: audioURL},
		},
	}
	reqBody.Options.OutputFormat = "mp4"
	reqBody.Options.AspectRatio = lipSyncOutputAspect

	jobID, err := s.submit(ctx, reqBody)
	if err != nil {
		return "", err
	}

	s.log.Info().Str("lipsync_job", jobID).Msg("lip-sync submitted")

	for poll := 1; poll <= lipSyncMaxPolls; poll++ {
		select {
		case <-ctx.Done():
			return "", Transient(lipSyncProvider, "generation cancelled", ctx.Err())
		case <-time.After(lipSyncPollInterval):
		}

		status, err := s.getStatus(ctx, jobID)
		if err != nil {
			return "", err
		}

		switch status.Status {
		case "completed":
			if status.OutputURL == "" {
				return "", Permanent(lipSyncProvider, "completed job carried no output", nil)
			}
			s.log.Info().Int("polls", poll).Msg("lip-sync complete")
			return MediaRef(status.OutputURL), nil
		case "failed":
			reason := status.Error
			if reason == "" {
				reason = "unknown error"
			}
			return "", Permanent(lipSyncProvider, fmt.Sprintf("generation failed: %s", reason), nil)
		default:
			s.log.Debug().Int("poll", poll).Str("status", status.Status).Msg("lip-sync pending")
		}
	}

	return "", Transient(lipSyncProvider,
		fmt.Sprintf("polling exhausted after %d attempts", lipSyncMaxPolls), nil)
}

func (s *LipSyncService) submit(ctx context.Context, reqBody lipSyncSubmitRequest) (string, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", Permanent(lipSyncProvider, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/generate", bytes.NewReader(payload))
	if err != nil {
		return "", Permanent(lipSyncProvider, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.apiKey)

	data, status, err := s.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", s.statusFailure(status, data)
	}

	var resp lipSyncSubmitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", Permanent(lipSyncProvider, "malformed submit response", err)
	}
	if resp.ID == "" {
		return "", Permanent(lipSyncProvider, "submit response carried no job id", nil)
	}
	return resp.ID, nil
}

func (s *LipSyncService) getStatus(ctx context.Context, jobID string) (*lipSyncStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v2/generate/%s", s.baseURL, jobID), nil)
	if err != nil {
		return nil, Permanent(lipSyncProvider, "build request", err)
	}
	req.Header.Set("x-api-key", s.apiKey)

	data, status, err := s.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, s.statusFailure(status, data)
	}

	var resp lipSyncStatusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, Permanent(lipSyncProvider, "malformed status response", err)
	}
	return &resp, nil
}

func (s *LipSyncService) do(req *http.Request) ([]byte, int, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, Transient(lipSyncProvider, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, Transient(lipSyncProvider, "read response", err)
	}
	return data, resp.StatusCode, nil
}

func (s *LipSyncService) statusFailure(status int, body []byte) *Failure {
	reason := fmt.Sprintf("status %d: %s", status, truncate(string(body), 200))
	if status >= 500 || status == http.StatusTooManyRequests {
		return Transient(lipSyncProvider, reason, nil)
	}
	return Permanent(lipSyncProvider, reason, nil)
}
