package handlers

import (
	"net/http"

	"safevoice/internal/models"
	"safevoice/pkg/response"
	"safevoice/pkg/store"
	"safevoice/pkg/util"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) handleCreateUser(c *gin.Context) {
	var req struct {
		Name             string `json:"name" binding:"required"`
		Email            string `json:"email"`
		Phone            string `json:"phone"`
		EmergencyKeyword string `json:"emergencyKeyword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	user := &models.UserProfile{
		ID:               util.NewID("u"),
		Name:             req.Name,
		Email:            req.Email,
		Phone:            req.Phone,
		EmergencyKeyword: req.EmergencyKeyword,
	}
	if err := h.store.CreateUser(c.Request.Context(), user); err != nil {
		response.FailStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	c.JSON(http.StatusCreated, response.Body{Code: 0, Message: "user created", Data: user})
}

func (h *Handlers) handleUpdateUser(c *gin.Context) {
	user, err := h.store.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FailStatus(c, http.StatusNotFound, "user not found", nil)
		return
	}
	var req struct {
		Name             *string `json:"name"`
		Phone            *string `json:"phone"`
		EmergencyKeyword *string `json:"emergencyKeyword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Phone != nil {
		user.Phone = *req.Phone
	}
	if req.EmergencyKeyword != nil {
		user.EmergencyKeyword = *req.EmergencyKeyword
	}
	if err := h.store.SaveUser(c.Request.Context(), user); err != nil {
		response.FailStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	response.Success(c, "user updated", user)
}

func (h *Handlers) handleAddContact(c *gin.Context) {
	userID := c.Param("id")
	if _, err := h.store.GetUser(c.Request.Context(), userID); err == store.ErrNotFound {
		response.FailStatus(c, http.StatusNotFound, "user not found", nil)
		return
	}
	var req struct {
		Name  string `json:"name" binding:"required"`
		Phone string `json:"phone" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	contact := &models.Contact{
		ID:     util.NewID("ct"),
		UserID: userID,
		Name:   req.Name,
		Phone:  req.Phone,
	}
	if err := h.store.AddContact(c.Request.Context(), contact); err != nil {
		response.FailStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	c.JSON(http.StatusCreated, response.Body{Code: 0, Message: "contact added", Data: contact})
}
