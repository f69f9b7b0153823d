package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"llm-trading-arena/internal/auth"
)

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid login payload")
		return
	}
	token, err := s.deps.Auth.Login(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			fail(c, http.StatusUnauthorized, err)
			return
		}
		failFrom(c, err)
		return
	}
	ok(c, gin.H{"token": token})
}

func (s *Server) handleAuthStatus(c *gin.Context) {
	ok(c, gin.H{"auth_enabled": s.deps.Auth.Enabled()})
}
