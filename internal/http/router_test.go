package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpH "github.com/yungbote/shifu-backend/internal/http/handlers"
	httpMW "github.com/yungbote/shifu-backend/internal/http/middleware"
	"github.com/yungbote/shifu-backend/internal/modules/learn"
	"github.com/yungbote/shifu-backend/internal/modules/learn/script"
	"github.com/yungbote/shifu-backend/internal/observability"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

const testSecret = "router-test-secret"

type stubLearn struct{ user string }

func (s *stubLearn) Run(ctx context.Context, req learn.RunRequest, emit script.Emitter) error {
	s.user = req.UserBID
	return emit.Emit(ctx, script.DTO{Type: script.TypeDone})
}

func (s *stubLearn) Records(context.Context, string, string, bool) (*learn.RecordsView, error) {
	return &learn.RecordsView{Records: []learn.Record{}}, nil
}

func (s *stubLearn) Reset(context.Context, string, string, bool) error { return nil }

func newRouter(t *testing.T, svc httpH.LearnService, metrics *observability.Metrics) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("test")
	require.NoError(t, err)
	return NewRouter(RouterConfig{
		Log:            log,
		Metrics:        metrics,
		AuthMiddleware: httpMW.NewAuthMiddleware(log, testSecret),
		LearnHandler:   httpH.NewLearnHandler(log, svc),
		HealthHandler:  httpH.NewHealthHandler(metrics),
	})
}

func sign(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, key any) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func TestHealthcheckIsPublic(t *testing.T) {
	r := newRouter(t, &stubLearn{}, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestLearnRoutesRequireToken(t *testing.T) {
	r := newRouter(t, &stubLearn{}, nil)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"garbage", "Bearer not-a-jwt"},
		{"wrong key", "Bearer " + sign(t, jwt.MapClaims{"sub": "u1"}, jwt.SigningMethodHS256, []byte("other"))},
		{"no subject", "Bearer " + sign(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}, jwt.SigningMethodHS256, []byte(testSecret))},
		{"expired", "Bearer " + sign(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()}, jwt.SigningMethodHS256, []byte(testSecret))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/learn/shifu/s1/records", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestLearnRunWithToken(t *testing.T) {
	svc := &stubLearn{}
	metrics := observability.NewMetrics()
	r := newRouter(t, svc, metrics)

	req := httptest.NewRequest(http.MethodPost, "/api/learn/shifu/s1/run", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"user_id": "u42"}, jwt.SigningMethodHS256, []byte(testSecret)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u42", svc.user)
	assert.Contains(t, rec.Body.String(), `"type":"done"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "/api/learn/shifu/:shifu_bid/run"))
}
