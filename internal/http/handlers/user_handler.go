// README: Account handlers for register and login.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridesync/internal/modules/orderstore"
	"ridesync/internal/modules/session"
)

type UserHandler struct {
	store *orderstore.Service
}

func NewUserHandler(svc *orderstore.Service) *UserHandler {
	return &UserHandler{store: svc}
}

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	IsDriver bool   `json:"isDriver"`
}

func publicUser(u *orderstore.User) session.User {
	return session.User{ID: u.ID, Name: u.Name, Email: u.Email, IsDriver: u.IsDriver}
}

func (h *UserHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := h.store.Register(c.Request.Context(), orderstore.RegisterCommand{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		IsDriver: req.IsDriver,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"message": "User registered successfully", "user": publicUser(u)})
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *UserHandler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	tok, u, err := h.store.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"token": tok, "user": publicUser(u)})
}
