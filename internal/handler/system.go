package handlers

import (
	"time"

	"safevoice/pkg/response"

	"github.com/gin-gonic/gin"
)

var startedAt = time.Now()

func (h *Handlers) HealthCheck(c *gin.Context) {
	response.Success(c, "ok", gin.H{
		"uptime":      time.Since(startedAt).String(),
		"consoles":    h.wsHub.ConnectionCount(),
		"activeSince": startedAt,
	})
}
