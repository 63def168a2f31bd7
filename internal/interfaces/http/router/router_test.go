package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deck-assistant-api/internal/application/chat"
	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/domain/repository"
	"deck-assistant-api/internal/interfaces/http/dto"
	"deck-assistant-api/internal/interfaces/http/handler"
	apperrors "deck-assistant-api/pkg/errors"
	"deck-assistant-api/pkg/utils"
)

type fakeChat struct {
	lastID  entity.Identity
	lastReq chat.ChatRequest
	err     error
	history []*entity.ChatMessage
}

func (f *fakeChat) Handle(ctx context.Context, id entity.Identity, req chat.ChatRequest) (*chat.ChatResponse, error) {
	f.lastID = id
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = "t-1"
	}
	return &chat.ChatResponse{Text: "Play more ramp.", ThreadID: threadID, Provider: chat.ProviderPrimary}, nil
}

func (f *fakeChat) History(ctx context.Context, id entity.Identity, threadID string, limit int) (*repository.PagedResult[*entity.ChatMessage], error) {
	f.lastID = id
	if f.err != nil {
		return nil, f.err
	}
	return repository.NewPagedResult(f.history, int64(len(f.history)), repository.NewPagination(1, limit)), nil
}

type pinger struct{ err error }

func (p pinger) HealthCheck(ctx context.Context) error { return p.err }

func newTestRouter(t *testing.T, svc handler.ChatService, health *handler.HealthHandler) (*gin.Engine, *utils.JWTManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{App: config.AppConfig{Name: "deck-assistant", Env: "test"}}
	jwtManager := utils.NewJWTManager("test-secret", "deck-assistant")
	if health == nil {
		health = handler.NewHealthHandler("test", pinger{}, pinger{}, nil)
	}
	r := New(cfg, jwtManager, Handlers{
		Health: health,
		Auth:   handler.NewAuthHandler(jwtManager, time.Hour),
		Chat:   handler.NewChatHandler(svc),
	})
	return r.Engine(), jwtManager
}

func do(engine *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestChatRequiresToken(t *testing.T) {
	engine, _ := newTestRouter(t, &fakeChat{}, nil)

	w := do(engine, http.MethodPost, "/api/v1/chat/messages", "", `{"message":"hi"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	resp := decodeError(t, w)
	assert.False(t, resp.OK)
	assert.Equal(t, string(apperrors.CodeAuthRequired), resp.Code)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	w = do(engine, http.MethodPost, "/api/v1/chat/messages", "not-a-jwt", `{"message":"hi"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, string(apperrors.CodeTokenInvalid), decodeError(t, w).Code)
}

func TestGuestTokenFlow(t *testing.T) {
	svc := &fakeChat{}
	engine, _ := newTestRouter(t, svc, nil)

	w := do(engine, http.MethodPost, "/api/v1/auth/guest", "", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var issued dto.GuestTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.Token)
	assert.True(t, issued.ExpiresAt.After(time.Now()))

	body := `{"message":"Any ramp ideas?","preferences":{"format":"commander","colors":["G"],"teaching":true},"context":{"deckId":"d1","budget":"50"}}`
	w = do(engine, http.MethodPost, "/api/v1/chat/messages", issued.Token, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out dto.ChatMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "Play more ramp.", out.Text)
	assert.Equal(t, "t-1", out.ThreadID)
	assert.Equal(t, "primary", out.Provider)

	assert.True(t, svc.lastID.IsGuest())
	assert.True(t, strings.HasPrefix(svc.lastID.Key, "guest:"))
	assert.Equal(t, "d1", svc.lastReq.Context.DeckID)
	assert.True(t, svc.lastReq.Preferences.Teaching)
	assert.Equal(t, []string{"G"}, svc.lastReq.Preferences.Colors)
}

func TestUserTokenCarriesTier(t *testing.T) {
	svc := &fakeChat{}
	engine, jwtManager := newTestRouter(t, svc, nil)
	token, err := jwtManager.GenerateToken("u-42", "pro", utils.TokenTypeAccess, time.Hour)
	require.NoError(t, err)

	w := do(engine, http.MethodPost, "/api/v1/chat/messages", token, `{"message":"hi","threadId":"abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entity.TierPro, svc.lastID.Kind)
	assert.Equal(t, "user:u-42", svc.lastID.Key)
	assert.Equal(t, "abc", svc.lastReq.ThreadID)
}

func TestChatErrorPayload(t *testing.T) {
	svc := &fakeChat{}
	engine, jwtManager := newTestRouter(t, svc, nil)
	token, err := jwtManager.GenerateToken("u-1", "free", utils.TokenTypeAccess, time.Hour)
	require.NoError(t, err)

	t.Run("missing message", func(t *testing.T) {
		w := do(engine, http.MethodPost, "/api/v1/chat/messages", token, `{"preferences":{}}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(apperrors.CodeInvalidParam), decodeError(t, w).Code)
	})

	t.Run("quota exceeded", func(t *testing.T) {
		svc.err = apperrors.ErrQuotaExceeded.WithDetails(map[string]any{"scope": "minute", "limit": 20})
		defer func() { svc.err = nil }()

		w := do(engine, http.MethodPost, "/api/v1/chat/messages", token, `{"message":"hi"}`)
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, string(apperrors.CodeQuotaExceeded), resp.Code)
		assert.Equal(t, http.StatusTooManyRequests, resp.Status)
		assert.Equal(t, "minute", resp.Details["scope"])
	})

	t.Run("internal error is masked", func(t *testing.T) {
		svc.err = apperrors.Wrap(errors.New("pq: connection refused"), apperrors.CodeDatabaseError, "create thread")
		defer func() { svc.err = nil }()

		w := do(engine, http.MethodPost, "/api/v1/chat/messages", token, `{"message":"hi"}`)
		require.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, string(apperrors.CodeInternalError), resp.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}

func TestThreadHistory(t *testing.T) {
	svc := &fakeChat{history: []*entity.ChatMessage{
		entity.NewChatMessage("t-1", entity.RoleUser, "hi", nil),
		entity.NewChatMessage("t-1", entity.RoleAssistant, "hello", json.RawMessage(`{"provider":"primary"}`)),
	}}
	engine, jwtManager := newTestRouter(t, svc, nil)
	token, err := jwtManager.GenerateToken("u-1", "free", utils.TokenTypeAccess, time.Hour)
	require.NoError(t, err)

	w := do(engine, http.MethodGet, "/api/v1/chat/threads/t-1/messages?limit=10", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	var out dto.ThreadMessageListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "assistant", out.Messages[1].Role)
	assert.JSONEq(t, `{"provider":"primary"}`, string(out.Messages[1].Metadata))

	w = do(engine, http.MethodGet, "/api/v1/chat/threads/t-1/messages?limit=zero", token, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	engine, _ := newTestRouter(t, &fakeChat{}, nil)
	assert.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/live", "", "").Code)
	assert.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/health", "", "").Code)

	w := do(engine, http.MethodGet, "/ready", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"milvus":{"status":"disabled"}`)

	degraded := handler.NewHealthHandler("test", pinger{}, pinger{}, pinger{err: errors.New("milvus down")})
	engine, _ = newTestRouter(t, &fakeChat{}, degraded)
	w = do(engine, http.MethodGet, "/ready", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)

	down := handler.NewHealthHandler("test", pinger{err: errors.New("pg down")}, pinger{}, nil)
	engine, _ = newTestRouter(t, &fakeChat{}, down)
	w = do(engine, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
