package middleware

import (
	"compress/gzip"
	"net/http"
	"strconv"
	"strings"

	ginzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// Gzip compresses responses once they reach minSize bytes. With minSize <= 0
// every response is compressed via gin-contrib's middleware; a positive
// threshold buffers the body so short responses go out unencoded.
func Gzip(minSize int) gin.HandlerFunc {
	if minSize <= 0 {
		return ginzip.Gzip(ginzip.DefaultCompression)
	}
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") ||
			c.GetHeader("Sec-WebSocket-Key") != "" {
			c.Next()
			return
		}
		w := &minSizeWriter{ResponseWriter: c.Writer, minSize: minSize, status: http.StatusOK}
		c.Writer = w
		c.Next()
		w.finish()
	}
}

// minSizeWriter holds the response back until it either crosses the
// compression threshold or the handler chain finishes.
type minSizeWriter struct {
	gin.ResponseWriter
	minSize int
	status  int
	buf     []byte
	gz      *gzip.Writer
}

func (w *minSizeWriter) WriteHeader(code int) {
	if code > 0 {
		w.status = code
	}
}

func (w *minSizeWriter) WriteHeaderNow() {}

func (w *minSizeWriter) Status() int { return w.status }

func (w *minSizeWriter) Write(b []byte) (int, error) {
	if w.gz != nil {
		return w.gz.Write(b)
	}

	w.buf = append(w.buf, b...)
	if len(w.buf) >= w.minSize {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")
		w.Header().Del("Content-Length")
		w.ResponseWriter.WriteHeader(w.status)
		w.gz = gzip.NewWriter(w.ResponseWriter)
		if _, err := w.gz.Write(w.buf); err != nil {
			return 0, err
		}
		w.buf = nil
	}
	return len(b), nil
}

func (w *minSizeWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *minSizeWriter) finish() {
	if w.gz != nil {
		w.gz.Close()
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(w.buf)))
	w.ResponseWriter.WriteHeader(w.status)
	if len(w.buf) > 0 {
		w.ResponseWriter.Write(w.buf)
	} else {
		w.ResponseWriter.WriteHeaderNow()
	}
}
