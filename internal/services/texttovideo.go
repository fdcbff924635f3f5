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
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ---------------------------------------------------------------------------
// Text-to-video adapter
// Deferred request pattern: submit a generation → poll the long-running
// operation by name → read the media URI from the terminal response.
// Authenticated with an OAuth bearer token minted from a service-account key
// via a signed JWT assertion; without a key the adapter is unavailable.
// ---------------------------------------------------------------------------

const (
	textToVideoProvider = "text-to-video"

	t2vMaxPolls    = 60 // ~5 minutes at a 5s interval
	t2vAspectRatio = "9:16"
	t2vScope       = "https://www.googleapis.com/auth/cloud-platform"
	t2vHTTPTimeout = 30 * time.Second
)

// Poll interval is a var so tests can tighten it.
var t2vPollInterval = 5 * time.Second

type TextToVideoService struct {
	endpoint string
	tokens   oauth2.TokenSource // nil when no service-account key is configured
	client   *http.Client
	log      zerolog.Logger
}

var _ VideoProvider = (*TextToVideoService)(nil)

// NewTextToVideoService creates the text-to-video adapter. saKeyJSON is the
// raw service-account key; when empty the adapter reports unavailable and
// background scenes fall back to the placeholder asset.
func NewTextToVideoService(ctx context.Context, endpoint string, saKeyJSON []byte, logger zerolog.Logger) (*TextToVideoService, error) {
	s := &TextToVideoService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: t2vHTTPTimeout},
		log:      logger,
	}

	if len(saKeyJSON) == 0 || endpoint == "" {
		return s, nil
	}

	jwtCfg, err := google.JWTConfigFromJSON(saKeyJSON, t2vScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	s.tokens = oauth2.ReuseTokenSource(nil, jwtCfg.TokenSource(ctx))
	return s, nil
}

// Available reports whether the provider credential exchange is configured.
func (s *TextToVideoService) Available() bool { return s.tokens != nil }

// Request / response types

type t2vSubmitRequest struct {
	Instances  []t2vInstance `json:"instances"`
	Parameters t2vParameters `json:"parameters"`
}

type t2vInstance struct {
	Prompt string `json:"prompt"`
}

type t2vParameters struct {
	DurationSeconds int    `json:"durationSeconds"`
	AspectRatio     string `json:"aspectRatio"`
	SampleCount     int    `json:"sampleCount"`
}

type t2vSubmitResponse struct {
	Name string `json:"name"` // Long-running operation name
}

type t2vPollRequest struct {
	OperationName string `json:"operationName"`
}

type t2vPollResponse struct {
	Done     bool `json:"done"`
	Response *struct {
		Videos []struct {
			URI string `json:"uri"`
		} `json:"videos"`
	} `json:"response,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateClip submits a background generation and polls until the operation
// completes, fails, or the poll budget is exhausted.
func (s *TextToVideoService) GenerateClip(ctx context.Context, prompt string, durationSec float64) (MediaRef, error) {
	if !s.Available() {
		return "", Unavailable(textToVideoProvider)
	}

	durSec := int(durationSec + 0.5)
	if durSec < 2 {
		durSec = 2
	}

	opName, err := s.submit(ctx, t2vSubmitRequest{
		Instances: []t2vInstance{{Prompt: prompt}},
		Parameters: t2vParameters{
			DurationSeconds: durSec,
			AspectRatio:     t2vAspectRatio,
			SampleCount:     1,
		},
	})
	if err != nil {
		return "", err
	}

	s.log.Info().Str("operation", opName).Msg("video generation submitted")

	for poll := 1; poll <= t2vMaxPolls; poll++ {
		select {
		case <-ctx.Done():
			return "", Transient(textToVideoProvider, "generation cancelled", ctx.Err())
		case <-time.After(t2vPollInterval):
		}

		result, err := s.poll(ctx, opName)
		if err != nil {
			return "", err
		}
		if !result.Done {
			s.log.Debug().Int("poll", poll).Msg("video generation pending")
			continue
		}

		if result.Error != nil {
			return "", Permanent(textToVideoProvider, fmt.Sprintf("generation failed: %s", result.Error.Message), nil)
		}
		if result.Response == nil || len(result.Response.Videos) == 0 || result.Response.Videos[0].URI == "" {
			return "", Permanent(textToVideoProvider, "completed operation carried no media", nil)
		}

		s.log.Info().Int("polls", poll).Msg("video generation complete")
		return MediaRef(result.Response.Videos[0].URI), nil
	}

	return "", Transient(textToVideoProvider,
		fmt.Sprintf("polling exhausted after %d attempts", t2vMaxPolls), nil)
}

func (s *TextToVideoService) submit(ctx context.Context, reqBody t2vSubmitRequest) (string, error) {
	var resp t2vSubmitResponse
	if err := s.post(ctx, s.endpoint+":predictLongRunning", reqBody, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", Permanent(textToVideoProvider, "submit response carried no operation name", nil)
	}
	return resp.Name, nil
}

func (s *TextToVideoService) poll(ctx context.Context, opName string) (*t2vPollResponse, error) {
	var resp t2vPollResponse
	if err := s.post(ctx, s.endpoint+":fetchPredictOperation", t2vPollRequest{OperationName: opName}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *TextToVideoService) post(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return Permanent(textToVideoProvider, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Permanent(textToVideoProvider, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := s.tokens.Token()
	if err != nil {
		return Transient(textToVideoProvider, "bearer token exchange failed", err)
	}
	token.SetAuthHeader(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return Transient(textToVideoProvider, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transient(textToVideoProvider, "read response", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Transient(textToVideoProvider, fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(data), 200)), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return Permanent(textToVideoProvider, fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(data), 200)), nil)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return Permanent(textToVideoProvider, "malformed response body", err)
	}
	return nil
}

// truncate limits a string to maxLen characters for log/error output.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
