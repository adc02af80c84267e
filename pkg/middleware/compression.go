package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// GzipConfig controls which responses are compressed
type GzipConfig struct {
	// Path prefixes served uncompressed
	ExcludedPrefixes []string
	Level            int
}

// DefaultGzipConfig skips health and cron endpoints, whose bodies are tiny.
func DefaultGzipConfig() *GzipConfig {
	return &GzipConfig{
		Level:            gzip.BestSpeed,
		ExcludedPrefixes: []string{"/health", "/metrics", "/cron/"},
	}
}

func (c *GzipConfig) excluded(path string) bool {
	for _, prefix := range c.ExcludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// gzipResponseWriter compresses the body once the status is known. Bodyless
// statuses pass through untouched.
type gzipResponseWriter struct {
	http.ResponseWriter
	gz         *gzip.Writer
	statusCode int
	compress   bool
}

func (w *gzipResponseWriter) WriteHeader(statusCode int) {
	if w.statusCode != 0 {
		return
	}
	w.statusCode = statusCode
	w.compress = statusCode != http.StatusNoContent && statusCode != http.StatusNotModified
	if w.compress {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
	}
	w.Header().Add("Vary", "Accept-Encoding")
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if !w.compress {
		return w.ResponseWriter.Write(b)
	}
	return w.gz.Write(b)
}

func (w *gzipResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// GzipHandler compresses responses for clients that accept gzip
func GzipHandler(cfg *GzipConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	pool := sync.Pool{
		New: func() interface{} {
			gz, err := gzip.NewWriterLevel(io.Discard, cfg.Level)
			if err != nil {
				gz = gzip.NewWriter(io.Discard)
			}
			return gz
		},
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead || cfg.excluded(r.URL.Path) ||
				!strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				next.ServeHTTP(w, r)
				return
			}

			gz := pool.Get().(*gzip.Writer)
			gz.Reset(w)
			defer pool.Put(gz)

			gw := &gzipResponseWriter{ResponseWriter: w, gz: gz}
			next.ServeHTTP(gw, r)

			if gw.compress {
				if err := gz.Close(); err != nil {
					logger.Debug("Failed to flush compressed response",
						zap.String("path", r.URL.Path),
						zap.Error(err),
					)
				}
			}
		})
	}
}
