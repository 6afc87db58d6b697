package handlers

import (
	"net/http"

	"safevoice/internal/dispatch"
	"safevoice/internal/models"
	"safevoice/pkg/response"

	"github.com/gin-gonic/gin"
)

// 直接广播端点。One result per contact; missing contacts is a
// validation error, an unreachable backend comes back as a system
// failure in the report body, never as a transport error.
func (h *Handlers) handleDispatchAlerts(c *gin.Context) {
	var req struct {
		UserName    string           `json:"userName"`
		EmergencyID string           `json:"emergencyId" binding:"required"`
		Contacts    []models.Contact `json:"contacts"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if len(req.Contacts) == 0 {
		response.FailStatus(c, http.StatusBadRequest, dispatch.FailureNoContacts, nil)
		return
	}

	report := h.dispatcher.Broadcast(c.Request.Context(), dispatch.Alert{
		UserName:    req.UserName,
		EmergencyID: req.EmergencyID,
		Contacts:    req.Contacts,
	})
	response.Success(c, "broadcast settled", report)
}
