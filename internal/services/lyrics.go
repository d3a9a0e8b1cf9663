package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ---------------------------------------------------------------------------
// Lyric extraction via Whisper.
// Optional: the pipeline plans scenes from audio length alone when no API
// key is configured or transcription fails.
// ---------------------------------------------------------------------------

// LyricsService transcribes a song into cleaned lyric lines.
type LyricsService struct {
	client *openai.Client
}

// NewLyricsService creates the service; returns nil when apiKey is empty so
// callers can treat lyrics as a disabled optional stage.
func NewLyricsService(apiKey string) *LyricsService {
	if apiKey == "" {
		return nil
	}
	return &LyricsService{client: openai.NewClient(apiKey)}
}

// Extract transcribes the audio file and returns one entry per lyric line.
func (s *LyricsService) Extract(ctx context.Context, audioPath string) ([]string, error) {
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	lines := cleanLyrics(resp.Text)
	if len(lines) == 0 {
		return nil, fmt.Errorf("whisper returned no usable lyrics (text: %q)", truncateString(resp.Text, 80))
	}

	log.Printf("[Whisper] Extracted %d lyric line(s)", len(lines))
	return lines, nil
}

// cleanLyrics splits raw transcription text into trimmed lines, dropping
// empties and bracketed section markers like [Chorus] or (Verse 2).
func cleanLyrics(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isSectionMarker(line) {
			continue
		}
		lines = append(lines, line)
	}

	// Whisper often returns one long run-on line; fall back to sentence
	// boundaries so the scene planner has something to chunk.
	if len(lines) == 1 && len(lines[0]) > 120 {
		var split []string
		for _, sentence := range strings.Split(lines[0], ". ") {
			sentence = strings.TrimSpace(strings.TrimSuffix(sentence, "."))
			if sentence != "" {
				split = append(split, sentence)
			}
		}
		if len(split) > 1 {
			lines = split
		}
	}

	return lines
}

func isSectionMarker(line string) bool {
	return (strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")) ||
		(strings.HasPrefix(line, "(") && strings.HasSuffix(line, ")"))
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
