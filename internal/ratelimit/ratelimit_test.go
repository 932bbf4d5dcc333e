package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(window time.Duration, quota int) (*Limiter, *time.Time) {
	l := New(Config{Window: window, Quota: quota, CleanupInterval: time.Hour})
	now := time.Now()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllow_WithinQuota(t *testing.T) {
	l, _ := newTestLimiter(60*time.Second, 10)
	defer l.Stop()

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "request %d", i+1)
	}
}

func TestAllow_EleventhRequestRejected(t *testing.T) {
	l, _ := newTestLimiter(60*time.Second, 10)
	defer l.Stop()

	for i := 0; i < 10; i++ {
		l.Allow("1.2.3.4")
	}
	assert.False(t, l.Allow("1.2.3.4"))
}

func TestAllow_WindowResets(t *testing.T) {
	l, now := newTestLimiter(60*time.Second, 10)
	defer l.Stop()

	for i := 0; i < 11; i++ {
		l.Allow("1.2.3.4")
	}
	assert.False(t, l.Allow("1.2.3.4"))

	*now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("1.2.3.4"))
}

func TestAllow_KeysIndependent(t *testing.T) {
	l, _ := newTestLimiter(60*time.Second, 1)
	defer l.Stop()

	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"))
}

func TestMiddleware_Returns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(60*time.Second, 1)
	defer l.Stop()

	router := gin.New()
	router.Use(l.Middleware())
	router.POST("/payment-links", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/payment-links", nil)
		req.RemoteAddr = "9.9.9.9:1234"
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do().Code)
	resp := do()
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Contains(t, resp.Body.String(), "rate_limited")
}
