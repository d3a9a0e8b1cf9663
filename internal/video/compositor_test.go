package video

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/versevid/versevid/internal/models"
)

func testClips(t *testing.T, durations ...float64) []models.Clip {
	t.Helper()
	dir := t.TempDir()
	clips := make([]models.Clip, len(durations))
	for i, d := range durations {
		path := writeStubFile(t, filepath.Join(dir, filepath.Base(dir)+"_clip.mp4"))
		if i > 0 {
			path = writeStubFile(t, filepath.Join(dir, filepath.Base(dir)+"_clip"+string(rune('a'+i))+".mp4"))
		}
		clips[i] = models.Clip{Path: path, Duration: d}
	}
	return clips
}

func TestComposeEmpty(t *testing.T) {
	c := NewCompositor("", t.TempDir(), &fakeRunner{}, &fakeProber{defaultDur: 5})

	_, err := c.Compose(context.Background(), nil, models.TransitionFade, 1.0, "out.mp4", nil)
	if !errors.Is(err, ErrNoClips) {
		t.Fatalf("expected ErrNoClips, got %v", err)
	}
}

func TestComposeSingleClipIdentity(t *testing.T) {
	runner := &fakeRunner{}
	c := NewCompositor("", t.TempDir(), runner, &fakeProber{defaultDur: 5})
	clips := testClips(t, 5)

	result, err := c.Compose(context.Background(), clips, models.TransitionFade, 1.0, "out.mp4", nil)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if result != clips[0] {
		t.Errorf("single clip not returned unchanged: %+v", result)
	}
	if len(runner.calls) != 0 {
		t.Errorf("encoder invoked for a single clip")
	}
}

func TestComposeThreeClipsDuration(t *testing.T) {
	runner := &fakeRunner{}
	prober := &fakeProber{defaultDur: 5}
	c := NewCompositor("", t.TempDir(), runner, prober)
	clips := testClips(t, 5, 5, 5)
	out := filepath.Join(t.TempDir(), "final.mp4")

	var progressCalls [][2]int
	result, err := c.Compose(context.Background(), clips, models.TransitionFade, 1.0, out, func(done, total int) {
		progressCalls = append(progressCalls, [2]int{done, total})
	})
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	// 5+5+5 with two 1s overlaps.
	if math.Abs(result.Duration-13.0) > 0.01 {
		t.Errorf("expected ~13s, got %.2fs", result.Duration)
	}
	if result.Path != out {
		t.Errorf("final result not at output path: %s", result.Path)
	}
	if len(runner.calls) != 2 {
		t.Errorf("expected 2 encoder runs for 3 clips, got %d", len(runner.calls))
	}
	if len(progressCalls) != 2 || progressCalls[0] != [2]int{1, 2} || progressCalls[1] != [2]int{2, 2} {
		t.Errorf("progress callbacks wrong: %v", progressCalls)
	}
}

func TestComposeFadeFilter(t *testing.T) {
	runner := &fakeRunner{}
	c := NewCompositor("", t.TempDir(), runner, &fakeProber{defaultDur: 5})
	clips := testClips(t, 5, 5)

	if _, err := c.Compose(context.Background(), clips, models.TransitionFade, 1.0, filepath.Join(t.TempDir(), "out.mp4"), nil); err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	filter := argValue(runner.lastArgs(t), "-filter_complex")
	for _, want := range []string{"xfade=transition=fade:duration=1.000:offset=0", "trim=0:4.000", "concat=n=3"} {
		if !strings.Contains(filter, want) {
			t.Errorf("fade filter missing %q: %s", want, filter)
		}
	}
}

func TestComposeTransitionNames(t *testing.T) {
	cases := []struct {
		transition models.TransitionType
		want       string
	}{
		{models.TransitionFade, "xfade=transition=fade"},
		{models.TransitionWipe, "xfade=transition=wiperight"},
		{models.TransitionDissolve, "xfade=transition=dissolve"},
	}

	for _, tc := range cases {
		runner := &fakeRunner{}
		c := NewCompositor("", t.TempDir(), runner, &fakeProber{defaultDur: 5})

		if _, err := c.Compose(context.Background(), testClips(t, 5, 5), tc.transition, 1.0, filepath.Join(t.TempDir(), "out.mp4"), nil); err != nil {
			t.Fatalf("%s: compose failed: %v", tc.transition, err)
		}
		filter := argValue(runner.lastArgs(t), "-filter_complex")
		if !strings.Contains(filter, tc.want) {
			t.Errorf("%s: filter missing %q: %s", tc.transition, tc.want, filter)
		}
	}
}

func TestComposeUnknownTransitionHardCuts(t *testing.T) {
	runner := &fakeRunner{}
	c := NewCompositor("", t.TempDir(), runner, &fakeProber{defaultDur: 5})
	clips := testClips(t, 5, 5)

	result, err := c.Compose(context.Background(), clips, models.TransitionType("spiral"), 1.0, filepath.Join(t.TempDir(), "out.mp4"), nil)
	if err != nil {
		t.Fatalf("unknown transition should not fail: %v", err)
	}

	filter := argValue(runner.lastArgs(t), "-filter_complex")
	if strings.Contains(filter, "xfade") {
		t.Errorf("unknown transition used xfade: %s", filter)
	}
	if !strings.Contains(filter, "concat=n=2") {
		t.Errorf("hard-cut fallback missing concat: %s", filter)
	}
	// Hard cuts consume no overlap.
	if math.Abs(result.Duration-10.0) > 0.01 {
		t.Errorf("expected 10s with hard cuts, got %.2fs", result.Duration)
	}
}

func TestComposeShortClipClampsTransitionStart(t *testing.T) {
	runner := &fakeRunner{}
	prober := &fakeProber{defaultDur: 0.5}
	c := NewCompositor("", t.TempDir(), runner, prober)
	clips := testClips(t, 0.5, 5)

	if _, err := c.Compose(context.Background(), clips, models.TransitionFade, 1.0, filepath.Join(t.TempDir(), "out.mp4"), nil); err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	filter := argValue(runner.lastArgs(t), "-filter_complex")
	if !strings.Contains(filter, "trim=0:0.000") {
		t.Errorf("transition start not clamped at 0: %s", filter)
	}
}

func TestComposeResolutionMismatch(t *testing.T) {
	clips := testClips(t, 5, 5)
	prober := &fakeProber{
		defaultDur: 5,
		dimensions: map[string][2]int{
			clips[0].Path: {1280, 720},
			clips[1].Path: {1920, 1080},
		},
	}
	runner := &fakeRunner{}
	c := NewCompositor("", t.TempDir(), runner, prober)

	_, err := c.Compose(context.Background(), clips, models.TransitionFade, 1.0, filepath.Join(t.TempDir(), "out.mp4"), nil)
	if !errors.Is(err, ErrEncodeFailed) {
		t.Fatalf("expected geometry rejection, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("encoder invoked despite mismatched inputs")
	}
}
