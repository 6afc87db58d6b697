package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the JSON envelope every API handler returns.
type Body struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: message, Data: data})
}

// FailStatus is for handlers that need a non-200 status, e.g. the
// dispatch endpoint's validation errors.
func FailStatus(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Body{Code: 1, Message: message, Data: data})
}
