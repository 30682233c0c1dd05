package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/MrWong99/reelsonar/pkg/types"
)

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.deps.Library.Accounts(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

func (s *Server) accountTags(c *gin.Context) {
	creator := types.NormalizeHandle(c.Param("creator"))
	f, err := s.deps.Topics.ReadAccountTags(creator)
	if err != nil {
		fail(c, err)
		return
	}

	tags := f.Tags
	if minFreq, ok := intQuery(c, "min_frequency"); ok {
		filtered := tags[:0:0]
		for _, t := range tags {
			if t.Frequency >= minFreq {
				filtered = append(filtered, t)
			}
		}
		tags = filtered
	}
	if topN, ok := intQuery(c, "top_n"); ok && topN >= 0 && topN < len(tags) {
		tags = tags[:topN]
	}
	if tags == nil {
		tags = []types.AccountTagAggregate{}
	}

	c.JSON(http.StatusOK, gin.H{
		"creator":      f.Creator,
		"generated_at": f.GeneratedAt,
		"tags":         tags,
		"total":        len(tags),
	})
}

func (s *Server) accountCategory(c *gin.Context) {
	creator := types.NormalizeHandle(c.Param("creator"))
	f, err := s.deps.Topics.ReadCategory(creator)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) tagsByVideo(c *gin.Context) {
	creator := types.NormalizeHandle(c.Param("creator"))
	byVideo, err := s.deps.Topics.ListVideoTopics(creator)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"creator":     creator,
		"videos":      byVideo,
		"video_count": len(byVideo),
	})
}

func (s *Server) videoTags(c *gin.Context) {
	creator := types.NormalizeHandle(c.Param("creator"))
	f, err := s.deps.Topics.ReadVideoTopics(creator, c.Param("video_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) accountUmbrellas(c *gin.Context) {
	creator := types.NormalizeHandle(c.Param("creator"))
	f, err := s.deps.Topics.ReadUmbrellas(creator)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// intQuery parses the named query parameter, reporting whether it was
// present and valid.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
