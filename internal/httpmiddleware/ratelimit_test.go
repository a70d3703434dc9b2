package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestTokenBucketRefill(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.nowFunc = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
}

func TestTokenBucketDisabled(t *testing.T) {
	l := NewSimpleTokenBucket(0, 0)
	for i := 0; i < 10; i++ {
		assert.True(t, l.allow("a"))
	}
}

func TestGinMiddlewareBy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewSimpleTokenBucket(1, 1)
	r := gin.New()
	r.Use(l.GinMiddlewareBy(func(c *gin.Context) string { return c.GetHeader("X-Account") }))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(account string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if account != "" {
			req.Header.Set("X-Account", account)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("0xA"))
	assert.Equal(t, http.StatusTooManyRequests, do("0xA"))
	assert.Equal(t, http.StatusOK, do("0xB"))
	assert.Equal(t, http.StatusOK, do(""))
	assert.Equal(t, http.StatusTooManyRequests, do(""))
}
