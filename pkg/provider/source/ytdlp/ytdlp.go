// Package ytdlp provides a source.Provider backed by the yt-dlp binary.
//
// yt-dlp handles platform extraction for TikTok, YouTube Shorts, and
// Instagram Reels behind one CLI surface: listing runs a metadata-only
// extraction (--dump-json --skip-download) that emits one JSON object per
// video, and audio download extracts the audio track re-encoded to 16 kHz
// mono WAV, which is what the whisper transcriber expects.
//
// Usage:
//
//	p, err := ytdlp.New(ytdlp.Config{Platform: "tiktok"})
//	videos, err := p.ListVideos(ctx, "fitcoach")
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/provider/source"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// Compile-time assertion that Client implements source.Provider.
var _ source.Provider = (*Client)(nil)

const defaultBinary = "yt-dlp"

// Config configures a Client.
type Config struct {
	// Platform selects the account URL scheme: "tiktok", "youtube", or
	// "instagram". Required.
	Platform string

	// BinaryPath is the yt-dlp executable. When empty the binary is
	// resolved from PATH.
	BinaryPath string

	// MaxVideos caps how many videos a listing extracts. 0 means no cap.
	MaxVideos int

	// CookiesPath optionally points at a Netscape-format cookies file for
	// platforms that gate listings behind a session.
	CookiesPath string

	// ListTimeout bounds a single listing run. Defaults to 5 minutes.
	ListTimeout time.Duration

	// DownloadTimeout bounds a single audio download. Defaults to 3 minutes.
	DownloadTimeout time.Duration
}

// Client implements source.Provider by shelling out to yt-dlp.
type Client struct {
	platform        string
	binary          string
	maxVideos       int
	cookiesPath     string
	listTimeout     time.Duration
	downloadTimeout time.Duration
}

// New creates a Client. It verifies that the yt-dlp binary exists and that
// the platform is one this provider knows how to build account URLs for.
func New(cfg Config) (*Client, error) {
	if _, ok := accountURLTemplates[cfg.Platform]; !ok {
		return nil, fmt.Errorf("ytdlp: unknown platform %q", cfg.Platform)
	}
	bin := cfg.BinaryPath
	if bin == "" {
		path, err := exec.LookPath(defaultBinary)
		if err != nil {
			return nil, fmt.Errorf("ytdlp: locate binary: %w", err)
		}
		bin = path
	}
	c := &Client{
		platform:        cfg.Platform,
		binary:          bin,
		maxVideos:       cfg.MaxVideos,
		cookiesPath:     cfg.CookiesPath,
		listTimeout:     cfg.ListTimeout,
		downloadTimeout: cfg.DownloadTimeout,
	}
	if c.listTimeout <= 0 {
		c.listTimeout = 5 * time.Minute
	}
	if c.downloadTimeout <= 0 {
		c.downloadTimeout = 3 * time.Minute
	}
	return c, nil
}

// Platform returns the configured platform identifier.
func (c *Client) Platform() string { return c.platform }

// accountURLTemplates maps a platform to the URL of a creator's public
// video listing. %s is the normalised handle.
var accountURLTemplates = map[string]string{
	"tiktok":    "https://www.tiktok.com/@%s",
	"youtube":   "https://www.youtube.com/@%s/shorts",
	"instagram": "https://www.instagram.com/%s/reels/",
}

// AccountURL returns the public listing URL for handle on this client's
// platform.
func (c *Client) AccountURL(handle string) string {
	return fmt.Sprintf(accountURLTemplates[c.platform], handle)
}

// ListVideos runs a metadata-only extraction over the creator's account
// page and parses one VideoMeta per emitted JSON line.
func (c *Client) ListVideos(ctx context.Context, handle string) ([]types.VideoMeta, error) {
	const op = "source: list videos"

	args := []string{
		c.AccountURL(handle),
		"--dump-json",
		"--skip-download",
		"--no-warnings",
		"--ignore-errors",
	}
	if c.maxVideos > 0 {
		args = append(args, "--playlist-end", fmt.Sprint(c.maxVideos))
	}
	args = c.appendCookies(args)

	runCtx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("listing account videos", "platform", c.platform, "handle", handle)
	err := cmd.Run()

	// yt-dlp with --ignore-errors exits non-zero when any single entry
	// fails; usable entries may still be on stdout. Only treat the run as
	// failed when nothing was extracted.
	videos, parseErr := parseListing(stdout.Bytes())
	if err != nil && len(videos) == 0 {
		if ctxErr := runCtx.Err(); ctxErr != nil && ctx.Err() == nil {
			return nil, faults.Wrap(faults.Network, op, fmt.Errorf("listing timed out after %s", c.listTimeout))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, faults.Wrap(classifyOutput(stderr.String()), op, fmt.Errorf("%w: %s", err, firstLine(stderr.String())))
	}
	if parseErr != nil && len(videos) == 0 {
		return nil, faults.Wrap(faults.Network, op, parseErr)
	}

	slog.Debug("account listing complete", "platform", c.platform, "handle", handle, "videos", len(videos))
	return videos, nil
}

// DownloadAudio extracts the audio track of video into destDir as
// <video id>.wav, re-encoded to 16 kHz mono.
func (c *Client) DownloadAudio(ctx context.Context, handle string, video types.VideoMeta, destDir string) (string, error) {
	const op = "source: download audio"

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", faults.Wrap(faults.Internal, op, err)
	}

	outTemplate := filepath.Join(destDir, video.ID+".%(ext)s")
	args := []string{
		video.URL,
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "wav",
		"--postprocessor-args", "ffmpeg:-ar 16000 -ac 1",
		"-o", outTemplate,
		"--no-playlist",
		"--no-warnings",
	}
	args = c.appendCookies(args)

	runCtx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil && ctx.Err() == nil {
			return "", faults.Wrap(faults.Network, op, fmt.Errorf("download timed out after %s", c.downloadTimeout))
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", faults.Wrap(classifyOutput(string(output)), op, fmt.Errorf("%w: %s", err, firstLine(string(output))))
	}

	path := filepath.Join(destDir, video.ID+".wav")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	// Post-processing can leave a different container behind when ffmpeg
	// is missing; surface that as a permanent failure rather than guessing.
	matches, _ := filepath.Glob(filepath.Join(destDir, video.ID+".*"))
	if len(matches) > 0 {
		return "", faults.Newf(faults.Unsupported, op, "expected %s.wav, got %s (is ffmpeg installed?)", video.ID, filepath.Base(matches[0]))
	}
	return "", faults.Newf(faults.Network, op, "yt-dlp reported success but produced no file for %s", video.ID)
}

func (c *Client) appendCookies(args []string) []string {
	if c.cookiesPath == "" {
		return args
	}
	if _, err := os.Stat(c.cookiesPath); err != nil {
		slog.Warn("cookies file not readable, continuing without", "path", c.cookiesPath, "error", err)
		return args
	}
	return append(args, "--cookies", c.cookiesPath)
}

// listingEntry is the subset of yt-dlp's per-video JSON this provider
// consumes.
type listingEntry struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	WebpageURL  string   `json:"webpage_url"`
	URL         string   `json:"url"`
	Duration    float64  `json:"duration"`
	UploadDate  string   `json:"upload_date"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
}

// parseListing decodes the newline-delimited JSON emitted by --dump-json.
// Undecodable lines are skipped; an error is returned only when the whole
// output yields nothing despite being non-empty.
func parseListing(out []byte) ([]types.VideoMeta, error) {
	var videos []types.VideoMeta
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	badLines := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e listingEntry
		if err := json.Unmarshal(line, &e); err != nil {
			badLines++
			continue
		}
		if e.ID == "" {
			continue
		}
		videos = append(videos, entryToMeta(e))
	}
	if err := sc.Err(); err != nil {
		return videos, fmt.Errorf("scan listing output: %w", err)
	}
	if len(videos) == 0 && badLines > 0 {
		return nil, fmt.Errorf("no parseable entries in listing output (%d bad lines)", badLines)
	}
	return videos, nil
}

func entryToMeta(e listingEntry) types.VideoMeta {
	url := e.WebpageURL
	if url == "" {
		url = e.URL
	}
	m := types.VideoMeta{
		ID:          e.ID,
		Title:       strings.TrimSpace(e.Title),
		URL:         url,
		DurationSec: e.Duration,
		Hashtags:    collectHashtags(e.Tags, e.Title, e.Description),
	}
	if t, err := time.Parse("20060102", e.UploadDate); err == nil {
		m.UploadDate = t
	}
	return m
}

// collectHashtags merges the platform's tag list with #-prefixed words
// found in the free-text fields. Tags are lower-cased, stripped of "#",
// and de-duplicated preserving first-seen order.
func collectHashtags(tags []string, freeText ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	for _, t := range tags {
		add(t)
	}
	for _, text := range freeText {
		for _, field := range strings.Fields(text) {
			if strings.HasPrefix(field, "#") && len(field) > 1 {
				add(strings.TrimFunc(field, func(r rune) bool {
					return r == '#' || r == '.' || r == ',' || r == '!' || r == '?'
				}))
			}
		}
	}
	return out
}

// classifyOutput maps yt-dlp's error text to a fault kind. The strings are
// the stable markers yt-dlp prints for the corresponding extractor errors.
func classifyOutput(out string) faults.Kind {
	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "http error 429"), strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many requests"):
		return faults.RateLimited
	case strings.Contains(lower, "http error 404"), strings.Contains(lower, "not found"), strings.Contains(lower, "does not exist"), strings.Contains(lower, "unable to find"):
		return faults.NotFound
	case strings.Contains(lower, "private"), strings.Contains(lower, "login required"), strings.Contains(lower, "sign in"), strings.Contains(lower, "account has been"), strings.Contains(lower, "age-restricted"):
		return faults.AuthRequired
	case strings.Contains(lower, "unsupported url"), strings.Contains(lower, "no video formats"):
		return faults.Unsupported
	default:
		return faults.Network
	}
}

// firstLine trims an error dump to its first non-empty line so wrapped
// errors stay readable in logs and job records.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return "no output"
}
