// Package api is the HTTP control plane: account browsing, semantic search,
// transcript retrieval, ingestion job control, and system verification.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/MrWong99/reelsonar/internal/jobs"
	"github.com/MrWong99/reelsonar/internal/library"
	"github.com/MrWong99/reelsonar/internal/observe"
	"github.com/MrWong99/reelsonar/internal/search"
	"github.com/MrWong99/reelsonar/internal/topics"
	"github.com/MrWong99/reelsonar/internal/transcript"
	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/provider/source"
)

const serviceName = "reelsonar"

// Deps wires the control plane. All fields are required except Rebuild,
// which disables POST /api/verify/rebuild with 503 when nil.
type Deps struct {
	Engine      *search.Engine
	Library     *library.Service
	Transcripts *transcript.Store
	Topics      *topics.Store
	Jobs        *jobs.Manager
	Source      source.Provider

	// Rebuild replaces the vector index from the transcript corpus.
	Rebuild func(ctx context.Context) error

	Metrics *observe.Metrics
}

// Server holds the handler state behind the router.
type Server struct {
	deps Deps
}

// NewRouter builds the Gin engine with tracing, metrics, and all routes
// registered.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	s := &Server{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(observe.GinMetrics(deps.Metrics))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/accounts", s.listAccounts)
		apiGroup.GET("/accounts/:creator/tags", s.accountTags)
		apiGroup.GET("/accounts/:creator/category", s.accountCategory)
		apiGroup.GET("/accounts/:creator/tags/by-video", s.tagsByVideo)
		apiGroup.GET("/accounts/:creator/tags/video/:video_id", s.videoTags)
		apiGroup.GET("/accounts/:creator/umbrellas", s.accountUmbrellas)

		apiGroup.POST("/search/semantic", s.semanticSearch)
		apiGroup.GET("/search/filter-options", s.filterOptions)
		apiGroup.GET("/transcript/:creator/:video_id", s.getTranscript)

		apiGroup.POST("/ingest/start", s.startIngest)
		apiGroup.GET("/ingest/metadata/:creator", s.previewMetadata)
		apiGroup.GET("/ingest/jobs", s.listJobs)
		apiGroup.GET("/ingest/status/:job_id", s.jobStatus)
		apiGroup.POST("/ingest/pause/:job_id", s.pauseJob)
		apiGroup.POST("/ingest/resume/:job_id", s.resumeJob)
		apiGroup.POST("/ingest/cancel/:job_id", s.cancelJob)
		apiGroup.GET("/ingest/ws/:job_id", s.jobWebSocket)

		apiGroup.GET("/verify/system", s.verifySystem)
		apiGroup.POST("/verify/system", s.verifySystem)
		apiGroup.POST("/verify/rebuild", s.rebuildIndex)
	}
	return r
}

// fail writes the error as a single-line reason with the status its fault
// kind maps to.
func fail(c *gin.Context, err error) {
	kind := faults.KindOf(err)
	status := kind.HTTPStatus()
	if status == http.StatusInternalServerError {
		observe.Logger(c.Request.Context()).Error("request failed",
			"path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
