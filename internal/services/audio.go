package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ytdl "github.com/kkdai/youtube/v2"

	"github.com/versevid/versevid/internal/models"
)

// ---------------------------------------------------------------------------
// Audio acquisition.
// YouTube sources go through the youtube downloader (best audio-only format
// by bitrate); anything else is fetched as a direct file download.
// ---------------------------------------------------------------------------

// AudioService downloads the source track for a pipeline run.
type AudioService struct {
	yt         ytdl.Client
	httpClient *http.Client
}

// NewAudioService creates a downloader.
func NewAudioService() *AudioService {
	return &AudioService{
		httpClient: &http.Client{Timeout: 5 * time.Minute}, // Full-file downloads, not API calls
	}
}

// Download fetches the audio behind source into destDir and returns the local
// path plus track metadata.
func (s *AudioService) Download(ctx context.Context, source, destDir string) (string, models.AudioMeta, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", models.AudioMeta{}, fmt.Errorf("failed to create audio dir: %w", err)
	}

	if isYouTubeURL(source) {
		return s.downloadYouTube(ctx, source, destDir)
	}
	return s.downloadDirect(ctx, source, destDir)
}

func isYouTubeURL(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	return host == "youtube.com" || host == "m.youtube.com" || host == "music.youtube.com" || host == "youtu.be"
}

// downloadYouTube picks the highest-bitrate audio-only format and streams it
// to disk.
func (s *AudioService) downloadYouTube(ctx context.Context, source, destDir string) (string, models.AudioMeta, error) {
	video, err := s.yt.GetVideoContext(ctx, source)
	if err != nil {
		return "", models.AudioMeta{}, fmt.Errorf("failed to resolve youtube video: %w", err)
	}

	var formats []ytdl.Format
	for _, f := range video.Formats {
		if strings.HasPrefix(f.MimeType, "audio/") {
			formats = append(formats, f)
		}
	}
	if len(formats) == 0 {
		return "", models.AudioMeta{}, fmt.Errorf("no audio formats available for %s", source)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i].Bitrate > formats[j].Bitrate })
	format := formats[0]

	log.Printf("[Audio] Downloading %q (%s, %d bps)", video.Title, format.MimeType, format.Bitrate)

	stream, size, err := s.yt.GetStreamContext(ctx, video, &format)
	if err != nil {
		return "", models.AudioMeta{}, fmt.Errorf("failed to open youtube stream: %w", err)
	}
	defer stream.Close()

	dest := filepath.Join(destDir, "source"+extForMime(format.MimeType))
	f, err := os.Create(dest)
	if err != nil {
		return "", models.AudioMeta{}, fmt.Errorf("failed to create audio file: %w", err)
	}

	written, err := io.Copy(f, stream)
	f.Close()
	if err != nil {
		os.Remove(dest)
		return "", models.AudioMeta{}, fmt.Errorf("failed to write audio: %w", err)
	}
	if written == 0 {
		os.Remove(dest)
		return "", models.AudioMeta{}, fmt.Errorf("downloaded audio is empty (reported size %d)", size)
	}

	meta := models.AudioMeta{
		Title:       video.Title,
		Artist:      video.Author,
		DurationSec: video.Duration.Seconds(),
	}
	log.Printf("[Audio] Downloaded %d bytes to %s (%.0fs)", written, dest, meta.DurationSec)
	return dest, meta, nil
}

// downloadDirect fetches a plain file URL.
func (s *AudioService) downloadDirect(ctx context.Context, source, destDir string) (string, models.AudioMeta, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", source, nil)
	if err != nil {
		return "", models.AudioMeta{}, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", models.AudioMeta{}, fmt.Errorf("audio download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", models.AudioMeta{}, fmt.Errorf("audio download returned status %d", resp.StatusCode)
	}

	name := filepath.Base(strings.Split(source, "?")[0])
	if name == "" || name == "." || name == "/" {
		name = "source.mp3"
	}
	dest := filepath.Join(destDir, name)

	f, err := os.Create(dest)
	if err != nil {
		return "", models.AudioMeta{}, fmt.Errorf("failed to create audio file: %w", err)
	}

	written, err := io.Copy(f, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(dest)
		return "", models.AudioMeta{}, fmt.Errorf("failed to write audio: %w", err)
	}
	if written == 0 {
		os.Remove(dest)
		return "", models.AudioMeta{}, fmt.Errorf("downloaded audio is empty")
	}

	title := strings.TrimSuffix(name, filepath.Ext(name))
	log.Printf("[Audio] Downloaded %d bytes to %s", written, dest)
	return dest, models.AudioMeta{Title: title}, nil
}

func extForMime(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "mp4"):
		return ".m4a"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "mpeg"):
		return ".mp3"
	default:
		return ".audio"
	}
}
