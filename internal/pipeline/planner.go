package pipeline

import (
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"

	"github.com/versevid/versevid/internal/models"
)

// ---------------------------------------------------------------------------
// Scene planning.
// Decides how many scenes a song gets and what each scene depicts. Lyric
// lines are chunked evenly into prompts; songs without lyrics fall back to
// generic style-driven descriptions.
// ---------------------------------------------------------------------------

const (
	minAutoScenes        = 4
	maxAutoScenes        = 12
	defaultSceneCount    = 5
	secondsPerScene      = 20.0
	lyricLinesPerScene   = 6.0
	minSceneDuration     = 3.0
	maxSceneDuration     = 10.0
	defaultSceneDuration = 5.0
	defaultZoomFactor    = 1.2
)

// PlanScenes partitions lyrics and audio time into scene specs. requested=0
// means auto: one scene per ~20s of audio, or per ~6 lyric lines, clamped to
// [4,12], default 5 when neither signal exists.
func PlanScenes(lyrics []string, audioDuration float64, requested int, style string) []models.SceneSpec {
	count := sceneCount(lyrics, audioDuration, requested)
	duration := sceneDuration(audioDuration, count)
	prompts := scenePrompts(lyrics, count, style)

	scenes := make([]models.SceneSpec, count)
	for i := 0; i < count; i++ {
		id := strconv.Itoa(i + 1)
		scenes[i] = models.SceneSpec{
			ID:         id,
			Prompt:     prompts[i],
			Motion:     models.MotionKenBurns,
			Duration:   duration,
			ZoomFactor: defaultZoomFactor,
			PanX:       panOffset(id + "x"),
			PanY:       panOffset(id + "y"),
		}
	}
	return scenes
}

func sceneCount(lyrics []string, audioDuration float64, requested int) int {
	if requested > 0 {
		return requested
	}
	if audioDuration > 0 {
		return clampInt(int(math.Round(audioDuration/secondsPerScene)), minAutoScenes, maxAutoScenes)
	}
	if len(lyrics) > 0 {
		return clampInt(int(math.Round(float64(len(lyrics))/lyricLinesPerScene)), minAutoScenes, maxAutoScenes)
	}
	return defaultSceneCount
}

func sceneDuration(audioDuration float64, count int) float64 {
	if audioDuration <= 0 || count <= 0 {
		return defaultSceneDuration
	}
	d := audioDuration / float64(count)
	if d < minSceneDuration {
		return minSceneDuration
	}
	if d > maxSceneDuration {
		return maxSceneDuration
	}
	return d
}

// scenePrompts chunks lyric lines evenly into count prompts, padding with
// generic descriptions when the lyrics run out.
func scenePrompts(lyrics []string, count int, style string) []string {
	prompts := make([]string, 0, count)

	if len(lyrics) > 0 {
		chunkSize := len(lyrics) / count
		if chunkSize < 1 {
			chunkSize = 1
		}
		for i := 0; i < len(lyrics) && len(prompts) < count; i += chunkSize {
			end := i + chunkSize
			if end > len(lyrics) {
				end = len(lyrics)
			}
			prompts = append(prompts, strings.Join(lyrics[i:end], " "))
		}
	}

	for len(prompts) < count {
		prompts = append(prompts, genericPrompt(len(prompts)+1, style))
	}
	return prompts
}

func genericPrompt(index int, style string) string {
	if style == "" {
		style = "cinematic"
	}
	return fmt.Sprintf("Atmospheric music video scene %d, %s mood, rich lighting", index, style)
}

// panOffset derives a stable pan direction in [-1, 1] from a seed string, so
// replanning the same job animates scenes the same way.
func panOffset(seed string) float64 {
	h := fnv.New32a()
	h.Write([]byte(seed))
	return float64(int(h.Sum32()%21)-10) / 10.0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
