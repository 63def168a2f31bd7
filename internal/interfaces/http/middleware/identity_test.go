package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/pkg/utils"
)

func identityEngine(m *utils.JWTManager, seen *entity.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.GET("/", Identity(m), func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		*seen = id
		c.Status(http.StatusNoContent)
	})
	return e
}

func serve(e *gin.Engine, header string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w.Code
}

func TestIdentity(t *testing.T) {
	m := utils.NewJWTManager("secret", "deck-assistant")
	var seen entity.Identity
	e := identityEngine(m, &seen)

	guest, _, err := m.GenerateGuestToken(time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, serve(e, "Bearer "+guest))
	assert.Equal(t, entity.TierGuest, seen.Kind)
	assert.Equal(t, entity.NewGuestIdentity(seen.ID, guest).Key, seen.Key)

	// access token 不能借 guest 等级降级
	access, err := m.GenerateToken("u-1", "guest", utils.TokenTypeAccess, time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, serve(e, "bearer "+access))
	assert.Equal(t, entity.TierFree, seen.Kind)
	assert.Equal(t, "user:u-1", seen.Key)

	other := utils.NewJWTManager("other-secret", "deck-assistant")
	forged, err := other.GenerateToken("u-1", "pro", utils.TokenTypeAccess, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(e, ""))
	assert.Equal(t, http.StatusUnauthorized, serve(e, "Basic abc"))
	assert.Equal(t, http.StatusUnauthorized, serve(e, "Bearer "+forged))

	weird, err := m.GenerateToken("u-1", "pro", "refresh", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(e, "Bearer "+weird))
}
