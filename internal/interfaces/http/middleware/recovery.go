package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"deck-assistant-api/internal/interfaces/http/dto"
	apperrors "deck-assistant-api/pkg/errors"
	"deck-assistant-api/pkg/logger"
)

// Recovery Panic 恢复中间件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic: %v", r)
				logger.Error(c.Request.Context(), "panic recovered", err,
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				dto.Fail(c, apperrors.ErrInternalError.WithError(err))
			}
		}()

		c.Next()
	}
}
