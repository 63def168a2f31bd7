// Package middleware 提供 HTTP 中间件
package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/interfaces/http/dto"
	apperrors "deck-assistant-api/pkg/errors"
	"deck-assistant-api/pkg/logger"
	"deck-assistant-api/pkg/utils"
)

const identityContextKey = "identity"

// Identity 解析 Bearer token 并注入调用方身份
//
// access token 对应登录用户，guest token 对应访客；缺少 token 时返回 401。
func Identity(jwtManager *utils.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			dto.Fail(c, err)
			return
		}

		claims, err := jwtManager.ParseToken(token)
		if err != nil {
			if errors.Is(err, utils.ErrExpiredToken) {
				dto.Fail(c, apperrors.ErrTokenExpired)
				return
			}
			dto.Fail(c, apperrors.ErrTokenInvalid)
			return
		}

		var id entity.Identity
		switch claims.Type {
		case utils.TokenTypeGuest:
			id = entity.NewGuestIdentity(claims.UserID, token)
		case utils.TokenTypeAccess:
			id = entity.NewUserIdentity(claims.UserID, entity.ParseTier(claims.Tier))
		default:
			dto.Fail(c, apperrors.ErrTokenInvalid.WithDetail("unsupported token type"))
			return
		}
		if id.ID == "" {
			dto.Fail(c, apperrors.ErrTokenInvalid.WithDetail("missing subject"))
			return
		}

		c.Set(identityContextKey, id)
		ctx := logger.WithContext(c.Request.Context(), logger.IdentityKey, id.Key)
		ctx = logger.WithContext(ctx, logger.TierKey, string(id.Kind))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetIdentity 读取 Identity 中间件注入的身份
func GetIdentity(c *gin.Context) (entity.Identity, bool) {
	v, ok := c.Get(identityContextKey)
	if !ok {
		return entity.Identity{}, false
	}
	id, ok := v.(entity.Identity)
	return id, ok
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", apperrors.ErrAuthRequired
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", apperrors.ErrTokenInvalid.WithDetail("invalid authorization format")
	}
	return strings.TrimSpace(token), nil
}
