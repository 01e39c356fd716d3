package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cfdi-descargas/internal/domain"
	"cfdi-descargas/internal/service"
)

type registerRequest struct {
	Name     string `json:"nombre"`
	Email    string `json:"email"`
	Phone    string `json:"telefono"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"nombre"`
	Email string `json:"email"`
	Phone string `json:"telefono"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Faltan datos requeridos")
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Name, req.Email, req.Phone, req.Password)
	switch {
	case errors.Is(err, service.ErrMissingFields):
		badRequest(c, "Faltan datos requeridos")
		return
	case errors.Is(err, service.ErrInvalidEmail):
		badRequest(c, "Email inválido")
		return
	case errors.Is(err, service.ErrUserAlreadyExists):
		badRequest(c, "El email ya está registrado")
		return
	case err != nil:
		h.fail(c, err)
		return
	}

	if err := h.sessions.issue(c, user); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.WithField("usuario_id", user.ID).Info("user registered")
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Usuario registrado exitosamente",
		"usuario_id": user.ID,
	})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		badRequest(c, "Email y contraseña son requeridos")
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Email o contraseña incorrectos"})
			return
		}
		h.fail(c, err)
		return
	}

	if err := h.sessions.issue(c, user); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Inicio de sesión exitoso",
		"usuario": userToResponse(user),
	})
}

func (h *Handler) logout(c *gin.Context) {
	h.sessions.clear(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Sesión cerrada"})
}

func (h *Handler) session(c *gin.Context) {
	claims, ok := h.sessions.current(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "logged_in": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"logged_in":  true,
		"usuario_id": claims.UserID,
		"email":      claims.Email,
		"nombre":     claims.Name,
	})
}

func userToResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Phone: user.Phone,
	}
}
