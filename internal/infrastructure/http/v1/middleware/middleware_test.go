package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "paydesk/internal/core/context"
)

type tokenValidator struct{}

func (tokenValidator) ValidateToken(token string) (*appctx.UserContext, error) {
	if token == "good" {
		return &appctx.UserContext{UserID: "cashier-1", Roles: []string{"cashier"}}, nil
	}
	return nil, errors.New("bad token")
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(), Trace(), ErrorHandler())
	r.Use(mw...)
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, appctx.GetUserID(c.Request.Context()))
	})
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	return r
}

func get(r http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth(tokenValidator{}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"ok", "Bearer good", http.StatusOK},
		{"scheme is case insensitive", "bearer good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w *httptest.ResponseRecorder
			if tt.header == "" {
				w = get(r, "/whoami")
			} else {
				w = get(r, "/whoami", "Authorization", tt.header)
			}
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "cashier-1", w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	r := newEngine(Auth(tokenValidator{}), RequireRole("supervisor"))
	w := get(r, "/whoami", "Authorization", "Bearer good")
	assert.Equal(t, http.StatusForbidden, w.Code)

	r = newEngine(Auth(tokenValidator{}), RequireRole(""))
	w = get(r, "/whoami", "Authorization", "Bearer good")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTrace_EchoesRequestID(t *testing.T) {
	r := newEngine()

	w := get(r, "/whoami", HeaderRequestID, "req-42")
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
	assert.NotEmpty(t, w.Header().Get(HeaderTraceID))

	w = get(r, "/whoami")
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestRecovery_HidesPanic(t *testing.T) {
	r := newEngine()

	w := get(r, "/panic")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
