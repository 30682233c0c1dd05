package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrWong99/reelsonar/internal/ingest"
	"github.com/MrWong99/reelsonar/internal/jobs"
	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/types"
)

type startIngestRequest struct {
	Usernames []string        `json:"usernames"`
	Filters   ingest.Filters  `json:"filters"`
	Settings  ingest.Settings `json:"settings"`
}

func (s *Server) startIngest(c *gin.Context) {
	var req startIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, faults.Wrap(faults.Validation, "api: ingest body", err))
		return
	}

	snap, err := s.deps.Jobs.Start(c.Request.Context(), req.Usernames, req.Filters, req.Settings)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id": snap.JobID,
		"status": snap.Status,
	})
}

func (s *Server) previewMetadata(c *gin.Context) {
	creator := types.NormalizeHandle(c.Param("creator"))
	videos, err := s.deps.Source.ListVideos(c.Request.Context(), creator)
	if err != nil {
		fail(c, err)
		return
	}
	if videos == nil {
		videos = []types.VideoMeta{}
	}
	c.JSON(http.StatusOK, gin.H{
		"creator":  creator,
		"platform": s.deps.Source.Platform(),
		"videos":   videos,
		"total":    len(videos),
	})
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.deps.Jobs.List()})
}

func (s *Server) jobStatus(c *gin.Context) {
	snap, err := s.deps.Jobs.Get(c.Param("job_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) pauseJob(c *gin.Context) {
	s.jobTransition(c, s.deps.Jobs.Pause)
}

func (s *Server) resumeJob(c *gin.Context) {
	s.jobTransition(c, s.deps.Jobs.Resume)
}

func (s *Server) cancelJob(c *gin.Context) {
	s.jobTransition(c, s.deps.Jobs.Cancel)
}

func (s *Server) jobTransition(c *gin.Context, op func(id string) (jobs.Snapshot, error)) {
	snap, err := op(c.Param("job_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id": snap.JobID,
		"status": snap.Status,
	})
}
