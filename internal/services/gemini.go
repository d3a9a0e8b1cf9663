package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Gemini fallback image generation.
// Used when a scene's primary render fails; optional — when nil, failed
// scenes are simply skipped and the pipeline continues with the survivors.
// ---------------------------------------------------------------------------

const defaultGeminiImageModel = "gemini-2.5-flash-image"

// GeminiService generates scene stills through the Gemini API.
type GeminiService struct {
	apiKey string
	model  string
}

// NewGeminiService creates the service; returns nil when apiKey is empty so
// the pipeline treats the fallback as disabled.
func NewGeminiService(apiKey, model string) *GeminiService {
	if apiKey == "" {
		return nil
	}
	if model == "" {
		model = defaultGeminiImageModel
	}
	return &GeminiService{apiKey: apiKey, model: model}
}

// GenerateScene renders one still for the prompt and writes it under destDir.
// Matches the primary renderer's signature so the pipeline can swap them.
func (s *GeminiService) GenerateScene(ctx context.Context, prompt, style, destDir, name string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	fullPrompt := prompt
	if style != "" {
		fullPrompt = fmt.Sprintf("%s, %s style, high quality, detailed", prompt, style)
	}

	log.Printf("[Gemini] Generating fallback image (model=%s, promptLen=%d)", s.model, len(fullPrompt))

	result, err := client.Models.GenerateContent(ctx, s.model, genai.Text(fullPrompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
	})
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	for _, part := range result.Candidates[0].Content.Parts {
		if part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}

		if err := os.MkdirAll(destDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create scene dir: %w", err)
		}
		dest := filepath.Join(destDir, name+".png")
		if err := os.WriteFile(dest, part.InlineData.Data, 0644); err != nil {
			return "", fmt.Errorf("failed to write fallback image: %w", err)
		}

		log.Printf("[Gemini] Fallback image written (%d bytes): %s", len(part.InlineData.Data), dest)
		return dest, nil
	}

	return "", fmt.Errorf("gemini response contained no image data")
}
