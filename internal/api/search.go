package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MrWong99/reelsonar/internal/search"
	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// highlightWindow is the ± overlap window in seconds for explicit MM:SS
// highlight requests.
const highlightWindow = 5

type searchRequest struct {
	Query   string         `json:"query"`
	TopK    int            `json:"top_k"`
	Filters search.Filters `json:"filters"`
	Sort    string         `json:"sort"`
}

func (s *Server) semanticSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, faults.Wrap(faults.Validation, "api: search body", err))
		return
	}
	if req.Sort == "" {
		req.Sort = search.SortRelevance
	}

	results, err := s.deps.Engine.Search(c.Request.Context(), req.Query, req.Filters, req.TopK, req.Sort)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) filterOptions(c *gin.Context) {
	opts, err := s.deps.Library.FilterOptions(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, opts)
}

// transcriptSegment is one sentence of the transcript response, annotated
// with its MM:SS timestamp and whether it matched the highlight request.
type transcriptSegment struct {
	Index       int     `json:"index"`
	StartSec    float64 `json:"start_sec"`
	EndSec      float64 `json:"end_sec"`
	Timestamp   string  `json:"timestamp"`
	Text        string  `json:"text"`
	Highlighted bool    `json:"highlighted"`
}

func (s *Server) getTranscript(c *gin.Context) {
	ctx := c.Request.Context()
	creator := types.NormalizeHandle(c.Param("creator"))
	videoID := c.Param("video_id")

	var h *search.Highlights
	var err error
	switch {
	case c.Query("query") != "":
		h, err = s.deps.Engine.HighlightTranscript(ctx, creator, videoID, c.Query("query"))
	case c.Query("highlights") != "":
		offsets, perr := parseOffsets(c.Query("highlights"))
		if perr != nil {
			fail(c, perr)
			return
		}
		h, err = s.deps.Engine.HighlightAt(ctx, creator, videoID, offsets, highlightWindow)
	default:
		a, rerr := s.deps.Transcripts.Read(creator, videoID)
		if rerr != nil {
			fail(c, rerr)
			return
		}
		h = &search.Highlights{Segments: a.Sentences}
	}
	if err != nil {
		fail(c, err)
		return
	}

	marked := make(map[int]bool, len(h.HighlightedIndices))
	for _, i := range h.HighlightedIndices {
		marked[i] = true
	}
	segments := make([]transcriptSegment, len(h.Segments))
	for i, seg := range h.Segments {
		segments[i] = transcriptSegment{
			Index:       seg.Index,
			StartSec:    seg.StartSec,
			EndSec:      seg.EndSec,
			Timestamp:   types.FormatTimestamp(seg.StartSec),
			Text:        seg.Text,
			Highlighted: marked[seg.Index],
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"creator":           creator,
		"video_id":          videoID,
		"segments":          segments,
		"total_segments":    len(segments),
		"highlighted_count": len(h.HighlightedIndices),
	})
}

// parseOffsets parses a comma-separated list of MM:SS timestamps.
func parseOffsets(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	offsets := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sec, ok := types.ParseTimestamp(p)
		if !ok {
			return nil, faults.Newf(faults.Validation, "api: highlights", "bad timestamp %q", p)
		}
		offsets = append(offsets, sec)
	}
	if len(offsets) == 0 {
		return nil, faults.New(faults.Validation, "api: highlights")
	}
	return offsets, nil
}
