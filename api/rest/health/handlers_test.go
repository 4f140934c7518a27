package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

func serve(h gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/", h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	return w
}

func TestHandler(t *testing.T) {
	w := serve(Handler)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestReadyHandler(t *testing.T) {
	w := serve(ReadyHandler(pingerFunc(func(context.Context) error { return nil })))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(ReadyHandler(pingerFunc(func(context.Context) error { return errors.New("connection refused") })))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
