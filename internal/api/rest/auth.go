package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/gin-gonic/gin"
)

// Login request/response types
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (s *Server) expiresIn() int {
	ttl := s.lm.Config().Auth.AccessTokenTTL
	if ttl <= 0 {
		return 3600
	}
	return int(ttl.Seconds())
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("AUTH_400", "Invalid request body", err.Error()))
		return
	}

	accessToken, refreshToken, err := s.authService.LoginUser(
		c.Request.Context(),
		req.Username,
		req.Password,
		c.ClientIP(),
		c.GetHeader("User-Agent"),
	)
	if err != nil {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid credentials", nil))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.expiresIn(),
	})
}

// POST /api/v1/auth/refresh
func (s *Server) refreshToken(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("AUTH_400", "Invalid request body", err.Error()))
		return
	}

	accessToken, newRefreshToken, err := s.authService.RefreshAccessToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid or expired refresh token", nil))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.expiresIn(),
	})
}

// POST /api/v1/auth/logout
func (s *Server) logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("AUTH_400", "Invalid request body", err.Error()))
		return
	}

	s.authService.RevokeRefreshToken(c.Request.Context(), req.RefreshToken)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// GET /api/v1/auth/me
func (s *Server) getCurrentUser(c *gin.Context) {
	p := auth.PrincipalFrom(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Not authenticated", nil))
		return
	}
	c.JSON(http.StatusOK, p)
}
