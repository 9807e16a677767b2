package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"device-relay-backend/internal/auth"
	"device-relay-backend/internal/mw"
)

var authAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_auth_attempts_total",
	Help: "Login and refresh attempts by endpoint and result",
}, []string{"endpoint", "result"})

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		authAttempts.WithLabelValues("login", "bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	adminID, err := h.credentials.ValidateCredentials(req.Username, req.Password)
	if err != nil {
		authAttempts.WithLabelValues("login", "rejected").Inc()
		h.log.Info().Str("username", req.Username).Str("client_ip", c.ClientIP()).Msg("login rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := h.tokens.IssueToken(adminID, auth.RoleAdmin, "")
	if err != nil {
		h.log.Error().Err(err).Msg("failed to issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	authAttempts.WithLabelValues("login", "ok").Inc()
	h.log.Info().Str("admin_id", adminID).Msg("admin logged in")
	c.JSON(http.StatusOK, gin.H{"token": token, "adminId": adminID})
}

// Refresh handles POST /auth/refresh. A token with plenty of time left is
// returned as is.
func (h *Handler) Refresh(c *gin.Context) {
	token := mw.BearerToken(c)
	if token == "" {
		authAttempts.WithLabelValues("refresh", "bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing bearer token"})
		return
	}

	refreshed, err := h.tokens.RefreshIfNearExpiry(token, h.refreshThreshold)
	if err != nil {
		authAttempts.WithLabelValues("refresh", "rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	authAttempts.WithLabelValues("refresh", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"token": refreshed, "refreshed": refreshed != token})
}
