package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Gzip compression levels
const (
	GzipBestSpeed       = gzip.BestSpeed
	GzipBestCompression = gzip.BestCompression
	GzipDefaultLevel    = gzip.DefaultCompression
)

// Writers are pooled; allocating one per response shows up under load.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, GzipDefaultLevel)
		return w
	},
}

type gzipResponseWriter struct {
	http.ResponseWriter
	gzipWriter *gzip.Writer
	statusCode int
}

func (w *gzipResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return w.gzipWriter.Write(b)
}

// GzipHandler compresses responses for clients that accept gzip. All
// responses use the default level; the pooled writers share it.
func GzipHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				next.ServeHTTP(w, r)
				return
			}

			gz := gzipWriterPool.Get().(*gzip.Writer)
			defer func() {
				gz.Close()
				gzipWriterPool.Put(gz)
			}()
			gz.Reset(w)

			w.Header().Set("Content-Encoding", "gzip")
			w.Header().Set("Vary", "Accept-Encoding")
			w.Header().Del("Content-Length")

			gw := &gzipResponseWriter{ResponseWriter: w, gzipWriter: gz}
			next.ServeHTTP(gw, r)

			if logger != nil {
				logger.Debug("response compressed",
					zap.String("path", r.URL.Path),
					zap.Int("status", gw.statusCode))
			}
		})
	}
}
