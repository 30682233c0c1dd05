// Package mock provides a test double for the source.Provider interface.
//
// Use Provider to return pre-canned video listings and audio paths without
// touching a platform, and to verify which handles and videos the pipeline
// requested.
//
// Example:
//
//	p := &mock.Provider{
//	    ListVideosResult: []types.VideoMeta{{ID: "v1", Title: "clip"}},
//	    DownloadAudioResult: "/tmp/v1.wav",
//	}
//	videos, _ := p.ListVideos(ctx, "fitcoach")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/reelsonar/pkg/provider/source"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// ListVideosCall records a single invocation of ListVideos.
type ListVideosCall struct {
	// Ctx is the context passed to ListVideos.
	Ctx context.Context
	// Handle is the creator handle passed to ListVideos.
	Handle string
}

// DownloadAudioCall records a single invocation of DownloadAudio.
type DownloadAudioCall struct {
	// Ctx is the context passed to DownloadAudio.
	Ctx context.Context
	// Handle is the creator handle passed to DownloadAudio.
	Handle string
	// Video is the video metadata passed to DownloadAudio.
	Video types.VideoMeta
	// DestDir is the destination directory passed to DownloadAudio.
	DestDir string
}

// Provider is a mock implementation of source.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ListVideosResult is returned by ListVideos when ListVideosFunc is nil.
	ListVideosResult []types.VideoMeta

	// ListVideosErr, if non-nil, is returned as the error from ListVideos.
	ListVideosErr error

	// ListVideosFunc, if non-nil, overrides ListVideosResult/ListVideosErr
	// entirely. Useful for per-handle behaviour.
	ListVideosFunc func(ctx context.Context, handle string) ([]types.VideoMeta, error)

	// DownloadAudioResult is returned by DownloadAudio when
	// DownloadAudioFunc is nil.
	DownloadAudioResult string

	// DownloadAudioErr, if non-nil, is returned as the error from
	// DownloadAudio.
	DownloadAudioErr error

	// DownloadAudioFunc, if non-nil, overrides DownloadAudioResult/
	// DownloadAudioErr entirely. Useful for per-video behaviour.
	DownloadAudioFunc func(ctx context.Context, handle string, video types.VideoMeta, destDir string) (string, error)

	// PlatformValue is returned by Platform. Defaults to "mock".
	PlatformValue string

	// --- Call records ---

	// ListVideosCalls records every call to ListVideos in order.
	ListVideosCalls []ListVideosCall

	// DownloadAudioCalls records every call to DownloadAudio in order.
	DownloadAudioCalls []DownloadAudioCall
}

// ListVideos records the call and returns the configured listing.
func (p *Provider) ListVideos(ctx context.Context, handle string) ([]types.VideoMeta, error) {
	p.mu.Lock()
	p.ListVideosCalls = append(p.ListVideosCalls, ListVideosCall{Ctx: ctx, Handle: handle})
	fn := p.ListVideosFunc
	result, err := p.ListVideosResult, p.ListVideosErr
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, handle)
	}
	return result, err
}

// DownloadAudio records the call and returns the configured path.
func (p *Provider) DownloadAudio(ctx context.Context, handle string, video types.VideoMeta, destDir string) (string, error) {
	p.mu.Lock()
	p.DownloadAudioCalls = append(p.DownloadAudioCalls, DownloadAudioCall{Ctx: ctx, Handle: handle, Video: video, DestDir: destDir})
	fn := p.DownloadAudioFunc
	result, err := p.DownloadAudioResult, p.DownloadAudioErr
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, handle, video, destDir)
	}
	return result, err
}

// Platform returns PlatformValue, or "mock" when unset.
func (p *Provider) Platform() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlatformValue == "" {
		return "mock"
	}
	return p.PlatformValue
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVideosCalls = nil
	p.DownloadAudioCalls = nil
}

// Ensure Provider implements source.Provider at compile time.
var _ source.Provider = (*Provider)(nil)
