// Package source defines the Provider interface for short-video platform
// backends.
//
// A source provider wraps whatever mechanism enumerates a creator's public
// videos and fetches their audio tracks (e.g., yt-dlp against TikTok,
// YouTube Shorts, or Instagram Reels). The ingestion pipeline is the only
// consumer; it never talks to a platform directly.
//
// Implementations must be safe for concurrent use.
package source

import (
	"context"

	"github.com/MrWong99/reelsonar/pkg/types"
)

// Provider is the abstraction over any short-video platform backend.
//
// Failures must be classified with pkg/faults kinds so the pipeline can
// decide between retry and terminal failure: unreachable platforms and
// throttling map to transient kinds (NetworkError, RateLimited), missing or
// gated accounts to permanent kinds (NotFound, AuthRequired, Unsupported).
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// ListVideos returns metadata for every public video on the creator's
	// account, newest first, as the platform reports them. The handle is
	// already normalised (lower-case, no "@"). The listing is metadata
	// only; no media is fetched.
	ListVideos(ctx context.Context, handle string) ([]types.VideoMeta, error)

	// DownloadAudio fetches the audio track of the given video into
	// destDir as 16 kHz mono WAV and returns the path of the written
	// file. The caller owns the file and removes it after transcription.
	DownloadAudio(ctx context.Context, handle string, video types.VideoMeta, destDir string) (string, error)

	// Platform returns the platform identifier this provider serves
	// (e.g., "tiktok", "youtube", "instagram"). Used for logging and for
	// building account URLs.
	Platform() string
}
