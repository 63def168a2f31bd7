package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"deck-assistant-api/internal/interfaces/http/dto"
	apperrors "deck-assistant-api/pkg/errors"
	"deck-assistant-api/pkg/logger"
	"deck-assistant-api/pkg/utils"
)

// AuthHandler 认证处理器，只负责签发访客 token
type AuthHandler struct {
	jwtManager *utils.JWTManager
	guestTTL   time.Duration
}

// NewAuthHandler guestTTL 非正数时默认 24 小时
func NewAuthHandler(jwtManager *utils.JWTManager, guestTTL time.Duration) *AuthHandler {
	if guestTTL <= 0 {
		guestTTL = 24 * time.Hour
	}
	return &AuthHandler{
		jwtManager: jwtManager,
		guestTTL:   guestTTL,
	}
}

// IssueGuestToken 签发访客 token
// @Summary 访客 token
// @Tags Auth
// @Produce json
// @Success 201 {object} dto.GuestTokenResponse
// @Router /api/v1/auth/guest [post]
func (h *AuthHandler) IssueGuestToken(c *gin.Context) {
	token, expiresAt, err := h.jwtManager.GenerateGuestToken(h.guestTTL)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to issue guest token", err)
		dto.Fail(c, apperrors.ErrInternalError.WithError(err))
		return
	}
	dto.Created(c, &dto.GuestTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
	})
}
