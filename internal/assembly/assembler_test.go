package assembly

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/moodreel/moodreel/internal/models"
)

type fakeFetcher struct {
	fetched []string
	failOn  string
}

func (f *fakeFetcher) Fetch(_ context.Context, url, dest string) error {
	if url == f.failOn {
		return errors.New("fetch refused")
	}
	f.fetched = append(f.fetched, url)
	return os.WriteFile(dest, []byte(url), 0o644)
}

type fakeEncoder struct {
	prepared int
	concats  int
	muxes    int
}

func (e *fakeEncoder) Prepare(_ context.Context, src string, _ float64, dest string) error {
	e.prepared++
	return os.WriteFile(dest, []byte("clip"), 0o644)
}

func (e *fakeEncoder) Concat(_ context.Context, clips []string, dest string) error {
	e.concats++
	return os.WriteFile(dest, []byte("joined"), 0o644)
}

func (e *fakeEncoder) MuxAudio(_ context.Context, videoPath, audioPath, dest string) error {
	e.muxes++
	return os.WriteFile(dest, []byte("final"), 0o644)
}

func testManifest() models.AssemblyManifest {
	return BuildManifest(
		[]models.AssemblyClip{
			{URL: "https://cdn.example.com/p1.mp4", Type: models.ScenePerformer, DurationSec: 3},
			{URL: "https://cdn.example.com/bg.mp4", Type: models.SceneBackground, DurationSec: 4},
			{URL: "https://cdn.example.com/p2.mp4", Type: models.ScenePerformer, DurationSec: 3},
		},
		"https://cdn.example.com/song.mp3", "videos", "outputs/j1/final.mp4",
	)
}

func TestAssembleReportsMonotoneProgressEndingAtHundred(t *testing.T) {
	fetcher := &fakeFetcher{}
	encoder := &fakeEncoder{}
	a := NewAssembler(fetcher, encoder, t.TempDir(), zerolog.Nop())

	var reports []int
	m := testManifest()
	out, err := a.Assemble(context.Background(), &m, func(p int) { reports = append(reports, p) })
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	defer a.Cleanup(out)

	if len(reports) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(reports); i++ {
		if reports[i] < reports[i-1] {
			t.Errorf("progress went backwards: %v", reports)
		}
	}
	if last := reports[len(reports)-1]; last != 100 {
		t.Errorf("final progress = %d, want exactly 100", last)
	}

	if _, err := os.Stat(out); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestAssembleFetchesEveryClipAndTheAudio(t *testing.T) {
	fetcher := &fakeFetcher{}
	encoder := &fakeEncoder{}
	a := NewAssembler(fetcher, encoder, t.TempDir(), zerolog.Nop())

	m := testManifest()
	out, err := a.Assemble(context.Background(), &m, nil)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	defer a.Cleanup(out)

	if len(fetcher.fetched) != 4 {
		t.Errorf("fetched %d sources, want 4 (3 clips + audio)", len(fetcher.fetched))
	}
	if encoder.prepared != 3 || encoder.concats != 1 || encoder.muxes != 1 {
		t.Errorf("encoder calls prepare=%d concat=%d mux=%d, want 3/1/1",
			encoder.prepared, encoder.concats, encoder.muxes)
	}
}

func TestAssembleAbortsOnFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{failOn: "https://cdn.example.com/bg.mp4"}
	encoder := &fakeEncoder{}
	a := NewAssembler(fetcher, encoder, t.TempDir(), zerolog.Nop())

	var reports []int
	m := testManifest()
	_, err := a.Assemble(context.Background(), &m, func(p int) { reports = append(reports, p) })
	if err == nil {
		t.Fatal("expected fetch failure to abort assembly")
	}

	if encoder.prepared != 0 {
		t.Error("encoding started despite a failed fetch")
	}
	for _, p := range reports {
		if p == 100 {
			t.Error("failed assembly must never report 100")
		}
	}
}

func TestAssembleRejectsUnusableManifest(t *testing.T) {
	a := NewAssembler(&fakeFetcher{}, &fakeEncoder{}, t.TempDir(), zerolog.Nop())

	if _, err := a.Assemble(context.Background(), nil, nil); err == nil {
		t.Error("nil manifest accepted")
	}

	empty := models.AssemblyManifest{AudioURL: "song.mp3"}
	if _, err := a.Assemble(context.Background(), &empty, nil); err == nil {
		t.Error("clipless manifest accepted")
	}
}
