package handlers

import (
	"errors"
	"net/http"
	"time"

	"safevoice/internal/emergency"
	"safevoice/internal/telemetry"
	"safevoice/pkg/response"
	"safevoice/pkg/store"

	"github.com/gin-gonic/gin"
)

// 触发紧急状态。Idempotent: a repeat while ACTIVE returns the existing
// record with created=false and does not broadcast again.
func (h *Handlers) handleTrigger(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
		Source string `json:"source"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	source := req.Source
	if source == "" {
		source = emergency.SourceManual
	}

	existing, err := h.manager.ActiveFor(c.Request.Context(), req.UserID)
	if err != nil {
		response.FailStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	rec, err := h.manager.Trigger(c.Request.Context(), req.UserID, source)
	switch {
	case errors.Is(err, emergency.ErrUserNotFound):
		response.FailStatus(c, http.StatusNotFound, "user not found", nil)
		return
	case err != nil:
		response.FailStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	created := existing == nil
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, response.Body{Code: 0, Message: "emergency active", Data: gin.H{
		"emergency":   rec,
		"created":     created,
		"trackingUrl": h.dispatcher.TrackingURL(rec.ID),
	}})
}

func (h *Handlers) handleResolve(c *gin.Context) {
	id := c.Param("id")
	err := h.manager.Resolve(c.Request.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.FailStatus(c, http.StatusNotFound, "emergency not found", nil)
	case errors.Is(err, emergency.ErrAlreadyResolved):
		response.FailStatus(c, http.StatusConflict, "emergency already resolved", nil)
	case err != nil:
		response.FailStatus(c, http.StatusInternalServerError, err.Error(), nil)
	default:
		response.Success(c, "emergency resolved", nil)
	}
}

// 受信联系人控制台的全局视图:所有 ACTIVE 记录 + 最后位置。
func (h *Handlers) handleFleetView(c *gin.Context) {
	recs, err := h.manager.AllActive(c.Request.Context())
	if err != nil {
		response.FailStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	type fleetEntry struct {
		Emergency    interface{} `json:"emergency"`
		OwnerName    string      `json:"ownerName"`
		LastLocation interface{} `json:"lastLocation,omitempty"`
	}
	entries := make([]fleetEntry, 0, len(recs))
	for i := range recs {
		entry := fleetEntry{Emergency: &recs[i]}
		if u, err := h.store.GetUser(c.Request.Context(), recs[i].UserID); err == nil {
			entry.OwnerName = u.Name
		}
		if loc, err := h.store.LastLocation(c.Request.Context(), recs[i].ID); err == nil && loc != nil {
			entry.LastLocation = loc
		}
		entries = append(entries, entry)
	}
	response.Success(c, "active emergencies", entries)
}

func (h *Handlers) handleActiveForUser(c *gin.Context) {
	rec, err := h.manager.ActiveFor(c.Request.Context(), c.Param("userId"))
	if err != nil {
		response.FailStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if rec == nil {
		response.Success(c, "no active emergency", nil)
		return
	}
	response.Success(c, "active emergency", rec)
}

// 样本上报。Stale samples and samples for resolved emergencies are
// rejected with distinct statuses so devices can stop sending.
func (h *Handlers) handleIngestLocation(c *gin.Context) {
	var req struct {
		Latitude  float64   `json:"latitude"`
		Longitude float64   `json:"longitude"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	err := h.tracker.Ingest(c.Request.Context(), c.Param("id"), telemetry.Position{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Timestamp: req.Timestamp,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.FailStatus(c, http.StatusNotFound, "emergency not found", nil)
	case errors.Is(err, store.ErrStaleSample):
		response.FailStatus(c, http.StatusUnprocessableEntity, "stale location sample", nil)
	case errors.Is(err, store.ErrEmergencyClosed):
		response.FailStatus(c, http.StatusConflict, "emergency already resolved", nil)
	case err != nil:
		response.FailStatus(c, http.StatusInternalServerError, err.Error(), nil)
	default:
		response.Success(c, "location recorded", nil)
	}
}

func (h *Handlers) handleLocationHistory(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.GetEmergency(c.Request.Context(), id); err != nil {
		response.FailStatus(c, http.StatusNotFound, "emergency not found", nil)
		return
	}
	locs, err := h.store.LocationsFor(c.Request.Context(), id)
	if err != nil {
		response.FailStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	response.Success(c, "location history", locs)
}
