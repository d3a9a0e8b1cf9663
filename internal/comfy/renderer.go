package comfy

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"
)

// ---------------------------------------------------------------------------
// Scene renderer: template workflow + patcher + client glued into one
// prompt-in, image-path-out call. The template is loaded once; every render
// patches a fresh copy.
// ---------------------------------------------------------------------------

const (
	defaultRenderTimeout = 5 * time.Minute
	defaultPollInterval  = 2 * time.Second
	defaultRenderWidth   = 1280
	defaultRenderHeight  = 720
)

// Renderer turns scene prompts into generated still images.
type Renderer struct {
	client       *Client
	template     *Workflow
	timeout      time.Duration
	pollInterval time.Duration
	width        int
	height       int
}

// RendererConfig holds the optional knobs; zero values use defaults.
type RendererConfig struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Width        int
	Height       int
}

// NewRenderer loads the workflow template at templatePath and binds it to the
// client.
func NewRenderer(client *Client, templatePath string, cfg RendererConfig) (*Renderer, error) {
	template, err := Load(templatePath)
	if err != nil {
		return nil, err
	}

	r := &Renderer{
		client:       client,
		template:     template,
		timeout:      cfg.Timeout,
		pollInterval: cfg.PollInterval,
		width:        cfg.Width,
		height:       cfg.Height,
	}
	if r.timeout <= 0 {
		r.timeout = defaultRenderTimeout
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.width <= 0 {
		r.width = defaultRenderWidth
	}
	if r.height <= 0 {
		r.height = defaultRenderHeight
	}

	log.Printf("[ComfyUI] Renderer ready (template=%s, nodes=%d, %dx%d)", templatePath, len(template.Nodes), r.width, r.height)
	return r, nil
}

// GenerateScene renders one still for the prompt and returns the local path
// of the first downloaded image.
func (r *Renderer) GenerateScene(ctx context.Context, prompt, style, destDir, name string) (string, error) {
	fullPrompt := prompt
	if style != "" {
		fullPrompt = fmt.Sprintf("%s, %s style, high quality, detailed", prompt, style)
	}

	patched := Patch(r.template, map[string]interface{}{
		"text":            fullPrompt,
		"width":           r.width,
		"height":          r.height,
		"filename_prefix": name,
	})

	handle, err := r.client.Submit(ctx, patched)
	if err != nil {
		return "", err
	}

	outputs, err := r.client.AwaitCompletion(ctx, handle.PromptID, r.timeout, r.pollInterval)
	if err != nil {
		return "", err
	}

	paths, err := r.client.FetchArtifacts(ctx, outputs, destDir)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("no images were generated for prompt_id=%s", handle.PromptID)
	}

	keys := make([]string, 0, len(paths))
	for key := range paths {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return paths[keys[0]], nil
}
