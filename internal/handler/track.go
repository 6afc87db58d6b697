package handlers

import (
	"net/http"

	"safevoice/pkg/response"
	"safevoice/pkg/store"
	"safevoice/pkg/util"

	"github.com/gin-gonic/gin"
)

// 追踪链接。Anonymous, rate-limited; a SAFE record stays readable so
// contacts can see the emergency ended, but carries no live samples.
func (h *Handlers) handleTrack(c *gin.Context) {
	snap, err := h.broker.Snapshot(c.Request.Context(), c.Param("id"))
	if err == store.ErrNotFound {
		response.FailStatus(c, http.StatusNotFound, "emergency not found", nil)
		return
	}
	if err != nil {
		response.FailStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	body := gin.H{
		"status":      snap.Record.Status,
		"triggeredAt": snap.Record.TriggeredAt,
		"resolvedAt":  snap.Record.ResolvedAt,
		"observedAt":  snap.ObservedAt,
	}
	if snap.LastLocation != nil {
		body["lastLocation"] = snap.LastLocation
	}
	response.Success(c, "tracking snapshot", body)
}

// SSE 流。Joins the viewer to the emergency's group and sends the
// current snapshot first so a fresh tab doesn't wait for a change.
func (h *Handlers) handleTrackStream(c *gin.Context) {
	id := c.Param("id")
	snap, err := h.broker.Snapshot(c.Request.Context(), id)
	if err == store.ErrNotFound {
		response.FailStatus(c, http.StatusNotFound, "emergency not found", nil)
		return
	}
	if err != nil {
		response.FailStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	h.sseHub.Serve(c, util.NewID("v"), id, snap)
}

func (h *Handlers) handleFleetFeed(c *gin.Context) {
	h.wsHub.ServeWS(c, util.NewID("c"))
}
