// Package mcptools exposes the knowledge index over the Model Context
// Protocol: search_clips, get_transcript, and list_creators tools served on
// the ops listener through the streamable-HTTP transport.
package mcptools

import (
	"context"
	"encoding/json"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/reelsonar/internal/library"
	"github.com/MrWong99/reelsonar/internal/search"
	"github.com/MrWong99/reelsonar/internal/transcript"
	"github.com/MrWong99/reelsonar/pkg/types"
)

const serverName = "reelsonar"

// defaultTopK bounds search_clips results when the caller leaves top_k unset.
const defaultTopK = 10

var searchClipsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query":    {"type": "string", "description": "Free-text search query."},
		"top_k":    {"type": "integer", "description": "Maximum results, default 10."},
		"creator":  {"type": "string", "description": "Restrict to one creator handle."},
		"category": {"type": "string", "description": "Restrict to one content category."}
	},
	"required": ["query"]
}`)

var getTranscriptSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"creator":  {"type": "string", "description": "Creator handle."},
		"video_id": {"type": "string", "description": "Video identifier."}
	},
	"required": ["creator", "video_id"]
}`)

var listCreatorsSchema = json.RawMessage(`{"type": "object", "properties": {}}`)

// Server bundles the read surfaces the tools answer from.
type Server struct {
	engine      *search.Engine
	transcripts *transcript.Store
	lib         *library.Service
	version     string
}

// NewServer returns the MCP server with all tools registered.
func NewServer(engine *search.Engine, transcripts *transcript.Store, lib *library.Service, version string) *mcpsdk.Server {
	s := &Server{engine: engine, transcripts: transcripts, lib: lib, version: version}

	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: version}, nil)
	srv.AddTool(&mcpsdk.Tool{
		Name:        "search_clips",
		Description: "Semantic search over indexed short-form video transcripts. Returns matching clips with creator, video id, timestamps, and a snippet.",
		InputSchema: searchClipsSchema,
	}, s.searchClips)
	srv.AddTool(&mcpsdk.Tool{
		Name:        "get_transcript",
		Description: "Fetch the full transcript of one video as timestamped sentences.",
		InputSchema: getTranscriptSchema,
	}, s.getTranscript)
	srv.AddTool(&mcpsdk.Tool{
		Name:        "list_creators",
		Description: "List all indexed creators with category, video count, and top topics.",
		InputSchema: listCreatorsSchema,
	}, s.listCreators)
	return srv
}

// Handler mounts srv on the streamable-HTTP transport.
func Handler(srv *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return srv }, nil)
}

type searchClipsArgs struct {
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
	Creator  string `json:"creator"`
	Category string `json:"category"`
}

func (s *Server) searchClips(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args searchClipsArgs
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	if args.TopK <= 0 {
		args.TopK = defaultTopK
	}
	var filters search.Filters
	if args.Creator != "" {
		filters.Creators = []string{args.Creator}
	}
	filters.Category = args.Category

	results, err := s.engine.Search(ctx, args.Query, filters, args.TopK, search.SortRelevance)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"results": results,
		"count":   len(results),
	})
}

type getTranscriptArgs struct {
	Creator string `json:"creator"`
	VideoID string `json:"video_id"`
}

func (s *Server) getTranscript(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args getTranscriptArgs
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	if args.Creator == "" || args.VideoID == "" {
		return errorResult("creator and video_id are required"), nil
	}

	art, err := s.transcripts.Read(types.NormalizeHandle(args.Creator), args.VideoID)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"creator":        art.Header.Creator,
		"video_id":       art.Header.VideoID,
		"language":       art.Header.Language,
		"confidence":     art.Header.Confidence,
		"segments":       art.Sentences,
		"total_segments": len(art.Sentences),
	})
}

func (s *Server) listCreators(ctx context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	accounts, err := s.lib.Accounts(ctx)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"creators": accounts,
		"count":    len(accounts),
	})
}

func jsonResult(v any) (*mcpsdk.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult("encoding result: " + err.Error()), nil
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil
}

func errorResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		IsError: true,
	}
}
