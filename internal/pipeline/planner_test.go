package pipeline

import (
	"strings"
	"testing"

	"github.com/versevid/versevid/internal/models"
)

func TestSceneCountHeuristics(t *testing.T) {
	lyrics30 := make([]string, 30)

	cases := []struct {
		name      string
		lyrics    []string
		duration  float64
		requested int
		want      int
	}{
		{"explicit override wins", lyrics30, 200, 7, 7},
		{"duration drives auto", nil, 200, 0, 10},
		{"short song clamps low", nil, 30, 0, 4},
		{"long song clamps high", nil, 600, 0, 12},
		{"lyrics drive auto without duration", lyrics30, 0, 0, 5},
		{"few lyrics clamp low", []string{"one", "two"}, 0, 0, 4},
		{"nothing known defaults", nil, 0, 0, 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sceneCount(tc.lyrics, tc.duration, tc.requested); got != tc.want {
				t.Errorf("sceneCount(%d lines, %.0fs, req=%d) = %d, want %d",
					len(tc.lyrics), tc.duration, tc.requested, got, tc.want)
			}
		})
	}
}

func TestSceneDurationClamps(t *testing.T) {
	cases := []struct {
		duration float64
		count    int
		want     float64
	}{
		{100, 5, 10},  // 20s/scene clamps to 10
		{10, 5, 3},    // 2s/scene clamps to 3
		{40, 5, 8},    // in range
		{0, 5, 5},     // unknown audio length
	}
	for _, tc := range cases {
		if got := sceneDuration(tc.duration, tc.count); got != tc.want {
			t.Errorf("sceneDuration(%.0f, %d) = %v, want %v", tc.duration, tc.count, got, tc.want)
		}
	}
}

func TestPlanScenesChunksLyrics(t *testing.T) {
	lyrics := []string{"line one", "line two", "line three", "line four", "line five", "line six", "line seven", "line eight"}

	scenes := PlanScenes(lyrics, 0, 4, "cinematic")
	if len(scenes) != 4 {
		t.Fatalf("expected 4 scenes, got %d", len(scenes))
	}

	if scenes[0].Prompt != "line one line two" {
		t.Errorf("first chunk wrong: %q", scenes[0].Prompt)
	}
	if scenes[3].Prompt != "line seven line eight" {
		t.Errorf("last chunk wrong: %q", scenes[3].Prompt)
	}
	for i, scene := range scenes {
		if scene.Motion != models.MotionKenBurns {
			t.Errorf("scene %d: expected ken_burns default, got %s", i, scene.Motion)
		}
		if scene.Duration != defaultSceneDuration {
			t.Errorf("scene %d: expected default duration, got %v", i, scene.Duration)
		}
	}
}

func TestPlanScenesPadsWithGenericPrompts(t *testing.T) {
	scenes := PlanScenes([]string{"only line"}, 0, 4, "noir")
	if len(scenes) != 4 {
		t.Fatalf("expected 4 scenes, got %d", len(scenes))
	}
	if scenes[0].Prompt != "only line" {
		t.Errorf("lyric scene wrong: %q", scenes[0].Prompt)
	}
	for i := 1; i < 4; i++ {
		if !strings.Contains(scenes[i].Prompt, "noir") {
			t.Errorf("padded scene %d missing style: %q", i, scenes[i].Prompt)
		}
	}
}

func TestPlanScenesNoLyrics(t *testing.T) {
	scenes := PlanScenes(nil, 100, 0, "")
	if len(scenes) != 5 { // round(100/20)
		t.Fatalf("expected 5 scenes, got %d", len(scenes))
	}
	for _, scene := range scenes {
		if scene.Prompt == "" {
			t.Errorf("scene %s has empty prompt", scene.ID)
		}
		if scene.Duration != 10 { // 100/5 clamped into range
			t.Errorf("scene %s: expected 10s, got %v", scene.ID, scene.Duration)
		}
	}
}

func TestPanOffsetsDeterministic(t *testing.T) {
	a := PlanScenes(nil, 100, 0, "")
	b := PlanScenes(nil, 100, 0, "")

	for i := range a {
		if a[i].PanX != b[i].PanX || a[i].PanY != b[i].PanY {
			t.Errorf("scene %d pan not deterministic: (%v,%v) vs (%v,%v)",
				i, a[i].PanX, a[i].PanY, b[i].PanX, b[i].PanY)
		}
		if a[i].PanX < -1 || a[i].PanX > 1 || a[i].PanY < -1 || a[i].PanY > 1 {
			t.Errorf("scene %d pan out of range: (%v,%v)", i, a[i].PanX, a[i].PanY)
		}
	}
}
