package cache

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// PageMiddleware serves post detail pages from the disk cache. On a miss the
// rendered response is captured and cached for the next request.
func PageMiddleware(maxAge time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		slug := slugFromPath(c.Request.URL.Path)
		if slug == "" {
			c.Next()
			return
		}

		if cached, found := Read(slug, maxAge); found {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(cached))
			c.Abort()
			return
		}

		c.Header("X-Cache", "MISS")

		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           bytes.NewBuffer(nil),
		}
		c.Writer = writer

		c.Next()

		if c.Writer.Status() == http.StatusOK &&
			strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/html") {
			Write(slug, writer.body.String())
		}
	}
}

// slugFromPath extracts the slug from a /post/:slug path.
func slugFromPath(path string) string {
	const prefix = "/post/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	slug := strings.TrimPrefix(path, prefix)
	if slug == "" || strings.Contains(slug, "/") {
		return ""
	}
	return slug
}
