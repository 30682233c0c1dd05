package api

import (
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/MrWong99/reelsonar/internal/jobs"
	"github.com/MrWong99/reelsonar/internal/observe"
)

// pushInterval coalesces snapshot pushes: at most one non-terminal frame per
// interval. Terminal snapshots go out immediately.
const pushInterval = time.Second

// jobWebSocket streams job snapshots until the job ends or the client
// disconnects. The read side only drains the client close handshake.
func (s *Server) jobWebSocket(c *gin.Context) {
	id := c.Param("job_id")
	ch, unsub, err := s.deps.Jobs.Subscribe(id)
	if err != nil {
		fail(c, err)
		return
	}
	defer unsub()

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		observe.Logger(c.Request.Context()).Warn("websocket accept failed",
			"job_id", id, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := conn.CloseRead(c.Request.Context())

	// Current state first, so late subscribers are not blind until the next
	// transition.
	if snap, err := s.deps.Jobs.Get(id); err == nil {
		if err := wsjson.Write(ctx, conn, snap); err != nil {
			return
		}
		if snap.Status.Terminal() {
			conn.Close(websocket.StatusNormalClosure, "job finished")
			return
		}
	}

	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	var pending *jobs.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				if pending != nil {
					_ = wsjson.Write(ctx, conn, *pending)
				}
				conn.Close(websocket.StatusNormalClosure, "job finished")
				return
			}
			if snap.Status.Terminal() {
				_ = wsjson.Write(ctx, conn, snap)
				conn.Close(websocket.StatusNormalClosure, "job finished")
				return
			}
			pending = &snap
		case <-ticker.C:
			if pending == nil {
				continue
			}
			if err := wsjson.Write(ctx, conn, *pending); err != nil {
				return
			}
			pending = nil
		}
	}
}
