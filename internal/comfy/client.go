package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// ComfyUI render backend client.
// Follows the backend's deferred pattern: submit workflow -> poll by
// prompt_id -> download artifacts. Connectivity is probed once per client
// via /system_stats; a failed submit clears the probe so the next submit
// re-checks.
// ---------------------------------------------------------------------------

var (
	// ErrBackendUnreachable means the connectivity probe or a request to the
	// backend failed at the transport level.
	ErrBackendUnreachable = errors.New("render backend unreachable")
	// ErrSubmitRejected means the backend refused the submitted workflow.
	ErrSubmitRejected = errors.New("render backend rejected workflow")
	// ErrTimeout means the render did not finish within the caller's budget.
	ErrTimeout = errors.New("timed out waiting for render")
	// ErrSilentFailure means the prompt vanished from the backend without
	// ever reaching a terminal state.
	ErrSilentFailure = errors.New("render disappeared without completing")
)

const defaultHTTPTimeout = 30 * time.Second

// PromptHandle identifies one submitted render.
type PromptHandle struct {
	PromptID string `json:"prompt_id"`
	ClientID string `json:"client_id"`
}

// Output is one artifact reference reported by the backend's history.
type Output struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Client talks to one ComfyUI-style backend.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client

	mu     sync.Mutex
	probed bool
}

// NewClient creates a client for the backend at baseURL. The client id is
// generated once and attached to every submission.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: uuid.New().String(),
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout, // Per-call timeout, not the full poll cycle
		},
	}
}

// ClientID returns the id attached to submissions from this client.
func (c *Client) ClientID() string {
	return c.clientID
}

// CheckConnection probes GET /system_stats and reports whether the backend
// answers.
func (c *Client) CheckConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/system_stats", nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: probe returned status %d", ErrBackendUnreachable, resp.StatusCode)
	}

	return nil
}

// ensureReachable probes at most once per client lifetime. A failed submit
// calls resetProbe so the next submit probes again.
func (c *Client) ensureReachable(ctx context.Context) error {
	c.mu.Lock()
	probed := c.probed
	c.mu.Unlock()
	if probed {
		return nil
	}

	if err := c.CheckConnection(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.probed = true
	c.mu.Unlock()
	log.Printf("[ComfyUI] Backend reachable at %s", c.baseURL)
	return nil
}

func (c *Client) resetProbe() {
	c.mu.Lock()
	c.probed = false
	c.mu.Unlock()
}

type submitRequest struct {
	Prompt   *Workflow `json:"prompt"`
	ClientID string    `json:"client_id"`
}

type submitResponse struct {
	PromptID string `json:"prompt_id"`
	Error    string `json:"error,omitempty"`
}

// Submit posts the workflow to /prompt and returns the handle for polling.
func (c *Client) Submit(ctx context.Context, wf *Workflow) (*PromptHandle, error) {
	if err := c.ensureReachable(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(submitRequest{Prompt: wf, ClientID: c.clientID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.resetProbe()
		return nil, fmt.Errorf("%w: submit failed: %v", ErrBackendUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read submit response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		c.resetProbe()
		return nil, fmt.Errorf("%w: status %d: %s", ErrSubmitRejected, resp.StatusCode, string(respBody))
	}

	var sub submitResponse
	if err := json.Unmarshal(respBody, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse submit response: %w (body: %s)", err, string(respBody))
	}
	if sub.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrSubmitRejected, sub.Error)
	}
	if sub.PromptID == "" {
		return nil, fmt.Errorf("%w: no prompt_id in response: %s", ErrSubmitRejected, string(respBody))
	}

	log.Printf("[ComfyUI] Workflow submitted, prompt_id=%s", sub.PromptID)
	return &PromptHandle{PromptID: sub.PromptID, ClientID: c.clientID}, nil
}

// queueStatus is the response from GET /prompt/status. The backend reports
// the currently executing prompt and the pending queue; a top-level error
// marks a failed render.
type queueStatus struct {
	Executing promptRef `json:"executing"`
	Pending   []string  `json:"pending"`
	Error     string    `json:"error,omitempty"`
}

type promptRef struct {
	PromptID string `json:"prompt_id"`
}

func (c *Client) getQueueStatus(ctx context.Context) (*queueStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/prompt/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var status queueStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &status, nil
}

// historyOutputs fetches /history/{promptID} and flattens the node outputs.
// Returns nil (no error) when the prompt is not in history yet.
func (c *Client) historyOutputs(ctx context.Context, promptID string) (map[string][]Output, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create history request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read history response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	// History is keyed by prompt id, then node id, then output name.
	var history map[string]struct {
		Outputs map[string]map[string][]Output `json:"outputs"`
	}
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, fmt.Errorf("failed to parse history response: %w", err)
	}

	entry, ok := history[promptID]
	if !ok || len(entry.Outputs) == 0 {
		return nil, nil
	}

	flat := make(map[string][]Output)
	for nodeID, outputs := range entry.Outputs {
		for outputName, refs := range outputs {
			if len(refs) == 0 {
				continue
			}
			flat[nodeID+"."+outputName] = refs
		}
	}
	if len(flat) == 0 {
		return nil, nil
	}
	return flat, nil
}

// AwaitCompletion polls until the prompt finishes, fails, or the budget runs
// out. timeout=0 returns ErrTimeout immediately. A prompt that is neither
// executing, nor pending, nor in history gets one extended wait (twice the
// poll interval) before being declared a silent failure — backends briefly
// drop prompts between queue and history while writing results.
func (c *Client) AwaitCompletion(ctx context.Context, promptID string, timeout, pollInterval time.Duration) (map[string][]Output, error) {
	deadline := time.Now().Add(timeout)
	pollCount := 0
	extendedWaitUsed := false

	for {
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: after %v (polled %d times, prompt_id=%s)", ErrTimeout, timeout, pollCount, promptID)
		}

		pollCount++

		status, err := c.getQueueStatus(ctx)
		if err != nil {
			// Transient — keep polling until the deadline decides.
			log.Printf("[ComfyUI] Poll %d: status check failed: %v", pollCount, err)
			if err := sleepCtx(ctx, pollInterval); err != nil {
				return nil, err
			}
			continue
		}

		if status.Error != "" {
			return nil, fmt.Errorf("render failed: %s (prompt_id=%s)", status.Error, promptID)
		}

		if status.Executing.PromptID == promptID {
			log.Printf("[ComfyUI] Poll %d: executing", pollCount)
			if err := sleepCtx(ctx, pollInterval); err != nil {
				return nil, err
			}
			continue
		}

		outputs, err := c.historyOutputs(ctx, promptID)
		if err != nil {
			log.Printf("[ComfyUI] Poll %d: history check failed: %v", pollCount, err)
			if err := sleepCtx(ctx, pollInterval); err != nil {
				return nil, err
			}
			continue
		}
		if outputs != nil {
			log.Printf("[ComfyUI] Poll %d: completed with %d output group(s)", pollCount, len(outputs))
			return outputs, nil
		}

		if contains(status.Pending, promptID) {
			log.Printf("[ComfyUI] Poll %d: pending", pollCount)
			if err := sleepCtx(ctx, pollInterval); err != nil {
				return nil, err
			}
			continue
		}

		// Not executing, not pending, not in history.
		if !extendedWaitUsed {
			extendedWaitUsed = true
			log.Printf("[ComfyUI] Poll %d: prompt %s in ambiguous state, extended wait %v", pollCount, promptID, 2*pollInterval)
			if err := sleepCtx(ctx, 2*pollInterval); err != nil {
				return nil, err
			}
			continue
		}

		return nil, fmt.Errorf("%w: prompt_id=%s", ErrSilentFailure, promptID)
	}
}

// FetchArtifacts downloads every image output into destDir and returns the
// local paths keyed the same way as the outputs map. Individual download
// failures are logged and skipped; callers decide whether a partial result
// is enough.
func (c *Client) FetchArtifacts(ctx context.Context, outputs map[string][]Output, destDir string) (map[string]string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}

	// Deterministic download order.
	keys := make([]string, 0, len(outputs))
	for key := range outputs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	paths := make(map[string]string)
	for _, key := range keys {
		for i, ref := range outputs[key] {
			if !isImageOutput(key, ref) {
				continue
			}
			path, err := c.downloadArtifact(ctx, ref, destDir)
			if err != nil {
				log.Printf("[ComfyUI] Failed to download %s (%s): %v", ref.Filename, key, err)
				continue
			}
			mapKey := key
			if i > 0 {
				mapKey = fmt.Sprintf("%s[%d]", key, i)
			}
			paths[mapKey] = path
		}
	}

	log.Printf("[ComfyUI] Downloaded %d artifact(s) to %s", len(paths), destDir)
	return paths, nil
}

func isImageOutput(key string, ref Output) bool {
	return ref.Type == "image" || ref.Type == "output" || strings.HasSuffix(key, ".images")
}

func (c *Client) downloadArtifact(ctx context.Context, ref Output, destDir string) (string, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create view request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("view request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("view endpoint returned %d", resp.StatusCode)
	}

	dest := filepath.Join(destDir, filepath.Base(ref.Filename))
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return dest, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("render wait cancelled: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
