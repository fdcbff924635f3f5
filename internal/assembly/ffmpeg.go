package assembly

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Output rendering constants — 1080x1920 portrait at 30fps
const (
	outputWidth  = 1080
	outputHeight = 1920
	videoFPS     = 30

	fetchTimeout = 120 * time.Second
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// FFmpegEncoder shells out to ffmpeg for each encoding step.
type FFmpegEncoder struct {
	log zerolog.Logger
}

var _ Encoder = (*FFmpegEncoder)(nil)

func NewFFmpegEncoder(logger zerolog.Logger) *FFmpegEncoder {
	return &FFmpegEncoder{log: logger}
}

// Prepare normalizes one source into a portrait clip of the given duration.
// Still images are looped into motion video; video sources are scaled and
// padded to the portrait frame and trimmed. The source audio is discarded —
// the song track is muxed in after concatenation.
func (e *FFmpegEncoder) Prepare(ctx context.Context, src string, durationSec float64, dest string) error {
	scaleFilter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d",
		outputWidth, outputHeight, outputWidth, outputHeight, videoFPS,
	)

	args := []string{}
	if imageExtensions[strings.ToLower(filepath.Ext(src))] {
		args = append(args, "-loop", "1")
	}
	args = append(args,
		"-i", src,
		"-t", fmt.Sprintf("%.2f", durationSec),
		"-vf", scaleFilter,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-an", // Strip any source audio
		"-y",
		dest,
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		e.log.Error().Err(err).Str("src", src).Msg(ffmpegTail(out))
		return fmt.Errorf("ffmpeg prepare clip failed: %w", err)
	}
	return nil
}

// Concat joins prepared clips without re-encoding. All inputs share the
// encode settings from Prepare, so stream copy is safe.
func (e *FFmpegEncoder) Concat(ctx context.Context, clips []string, dest string) error {
	if len(clips) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	listPath := filepath.Join(filepath.Dir(dest), "concat_list.txt")
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	for _, clip := range clips {
		fmt.Fprintf(f, "file '%s'\n", clip)
	}
	f.Close()
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		dest,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		e.log.Error().Err(err).Msg(ffmpegTail(out))
		return fmt.Errorf("ffmpeg concatenate failed: %w", err)
	}
	return nil
}

// MuxAudio lays the song over the joined video. -shortest trims the output
// to whichever stream ends first, so a long song never pads the video with
// frozen frames.
func (e *FFmpegEncoder) MuxAudio(ctx context.Context, videoPath, audioPath, dest string) error {
	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-y",
		dest,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		e.log.Error().Err(err).Msg(ffmpegTail(out))
		return fmt.Errorf("ffmpeg mux audio failed: %w", err)
	}
	return nil
}

// ffmpegTail keeps the last chunk of ffmpeg's output, which is where the
// actual error lives.
func ffmpegTail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > 500 {
		s = s[len(s)-500:]
	}
	return s
}

// HTTPFetcher downloads remote media over plain HTTP(S).
type HTTPFetcher struct {
	client *http.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: fetchTimeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}
