package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/zentrochat/zentro/internal/auth"
)

type UserChecker interface {
	UserExists(ctx context.Context, id string) (bool, error)
}

type AuthHandler struct {
	authSvc *auth.Service
	users   UserChecker
}

func NewAuthHandler(authSvc *auth.Service, users UserChecker) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, users: users}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Register creates a new user account
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.authSvc.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.authSvc.GenerateToken(user.ID, user.Username)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
	})
}

// Login authenticates a user and returns a token
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	token, userID, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Token:    token,
		UserID:   userID,
		Username: strings.TrimSpace(req.Username),
	})
}

// AuthMiddleware validates the bearer token and sets user_id and username.
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			abortWithError(c, http.StatusUnauthorized, "missing authorization token")
			return
		}

		claims, err := h.authSvc.ValidateToken(token)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "invalid token")
			return
		}

		exists, err := h.users.UserExists(c.Request.Context(), claims.UserID)
		if err != nil {
			respondError(c, err)
			return
		}
		if !exists {
			abortWithError(c, http.StatusUnauthorized, "user not found")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

// RateLimit limits requests per authenticated user, or per client IP on
// public routes.
func RateLimit(l *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := currentUser(c)
		if key == "" {
			key = c.ClientIP()
		}
		limiterContext, err := l.Get(c.Request.Context(), key)
		if err != nil {
			c.Error(err)
			abortWithError(c, http.StatusInternalServerError, "rate limiter error")
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiterContext.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", limiterContext.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", limiterContext.Reset))

		if limiterContext.Reached {
			abortWithError(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		c.Next()
	}
}
