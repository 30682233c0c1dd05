package ytdlp

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/reelsonar/pkg/faults"
)

func TestParseListing(t *testing.T) {
	out := strings.Join([]string{
		`{"id":"v1","title":"Morning routine #fitness","webpage_url":"https://www.tiktok.com/@c/video/v1","duration":42.5,"upload_date":"20250312","tags":["Fitness","mobility"]}`,
		``,
		`{"id":"v2","title":"Q&A","url":"https://www.tiktok.com/@c/video/v2","duration":30}`,
	}, "\n")

	videos, err := parseListing([]byte(out))
	if err != nil {
		t.Fatalf("parseListing() error = %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("parseListing() returned %d videos, want 2", len(videos))
	}

	v := videos[0]
	if v.ID != "v1" || v.Title != "Morning routine #fitness" {
		t.Errorf("unexpected first video: %+v", v)
	}
	if v.DurationSec != 42.5 {
		t.Errorf("DurationSec = %v, want 42.5", v.DurationSec)
	}
	if want := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC); !v.UploadDate.Equal(want) {
		t.Errorf("UploadDate = %v, want %v", v.UploadDate, want)
	}
	// Platform tags first, then hashtags mined from the title.
	if want := []string{"fitness", "mobility"}; len(v.Hashtags) != 2 || v.Hashtags[0] != want[0] || v.Hashtags[1] != want[1] {
		t.Errorf("Hashtags = %v, want %v", v.Hashtags, want)
	}

	// webpage_url missing falls back to url.
	if videos[1].URL != "https://www.tiktok.com/@c/video/v2" {
		t.Errorf("fallback URL = %q", videos[1].URL)
	}
	if !videos[1].UploadDate.IsZero() {
		t.Errorf("missing upload_date should stay zero, got %v", videos[1].UploadDate)
	}
}

func TestParseListingSkipsGarbageLines(t *testing.T) {
	out := "WARNING: something\n" +
		`{"id":"v1","title":"ok","webpage_url":"u"}` + "\n" +
		"{truncated"

	videos, err := parseListing([]byte(out))
	if err != nil {
		t.Fatalf("parseListing() error = %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "v1" {
		t.Errorf("videos = %+v, want single v1", videos)
	}
}

func TestParseListingAllGarbage(t *testing.T) {
	if _, err := parseListing([]byte("not json\nat all")); err == nil {
		t.Error("expected error when no line parses")
	}
}

func TestParseListingEmpty(t *testing.T) {
	videos, err := parseListing(nil)
	if err != nil {
		t.Fatalf("parseListing(nil) error = %v", err)
	}
	if len(videos) != 0 {
		t.Errorf("videos = %+v, want none", videos)
	}
}

func TestCollectHashtags(t *testing.T) {
	got := collectHashtags(
		[]string{"#Yoga", "breathwork", "yoga"},
		"Day 3 #Yoga challenge!",
		"full flow #breathwork #morningflow.",
	)
	want := []string{"yoga", "breathwork", "morningflow"}
	if len(got) != len(want) {
		t.Fatalf("collectHashtags() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("collectHashtags()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClassifyOutput(t *testing.T) {
	tests := []struct {
		out  string
		want faults.Kind
	}{
		{"ERROR: HTTP Error 429: Too Many Requests", faults.RateLimited},
		{"ERROR: [TikTok] user: HTTP Error 404: Not Found", faults.NotFound},
		{"ERROR: This account is private. Log in to see their videos", faults.AuthRequired},
		{"ERROR: Sign in to confirm your age", faults.AuthRequired},
		{"ERROR: Unsupported URL: https://example.com/clip", faults.Unsupported},
		{"ERROR: Unable to download webpage: <urlopen error timed out>", faults.Network},
		{"", faults.Network},
	}
	for _, tt := range tests {
		if got := classifyOutput(tt.out); got != tt.want {
			t.Errorf("classifyOutput(%q) = %v, want %v", tt.out, got, tt.want)
		}
	}
}

func TestAccountURL(t *testing.T) {
	tests := []struct {
		platform string
		want     string
	}{
		{"tiktok", "https://www.tiktok.com/@fitcoach"},
		{"youtube", "https://www.youtube.com/@fitcoach/shorts"},
		{"instagram", "https://www.instagram.com/fitcoach/reels/"},
	}
	for _, tt := range tests {
		c := &Client{platform: tt.platform}
		if got := c.AccountURL("fitcoach"); got != tt.want {
			t.Errorf("AccountURL(%s) = %q, want %q", tt.platform, got, tt.want)
		}
	}
}

func TestNewRejectsUnknownPlatform(t *testing.T) {
	if _, err := New(Config{Platform: "vimeo"}); err == nil {
		t.Error("New should reject platforms without a URL template")
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("\n\nERROR: boom\nmore context"); got != "ERROR: boom" {
		t.Errorf("firstLine() = %q", got)
	}
	if got := firstLine("  \n "); got != "no output" {
		t.Errorf("firstLine(blank) = %q", got)
	}
}
