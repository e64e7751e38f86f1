package httpapi

import (
	"bytes"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// zlog is the structured logger of the HTTP layer. Defaults to the global logger.
var zlog = &log.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// loggingLineWriter logs complete lines of a streamed response at debug level.
type loggingLineWriter struct {
	path string
	buf  []byte
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		if line := bytes.TrimSpace(lw.buf[:idx]); len(line) > 0 {
			zlog.Debug().Str("path", lw.path).Bytes("line", line).Msg("stream")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// teeResponseWriter copies the response body into a loggingLineWriter.
type teeResponseWriter struct {
	http.ResponseWriter
	lw *loggingLineWriter
}

func (t *teeResponseWriter) Write(p []byte) (int, error) {
	n, err := t.ResponseWriter.Write(p)
	_, _ = t.lw.Write(p[:n])
	return n, err
}

func (t *teeResponseWriter) Unwrap() http.ResponseWriter { return t.ResponseWriter }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = func() LogLevel {
	if os.Getenv("LLAMACORE_LOG_STREAM") == "1" {
		return LevelDebug
	}
	return parseLevel(os.Getenv("LLAMACORE_LOG_LEVEL"))
}()

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	if r.Header.Get("X-Log-Stream") == "1" {
		return LevelDebug
	}
	return defaultLogLevel
}

// logStart and logEnd report one engine request at the request's level.
func logStart(r *http.Request, lvl LogLevel, model string) {
	if lvl < LevelInfo {
		return
	}
	z := zlog.Info().Str("path", r.URL.Path).Str("model", model)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	z.Msg("request start")
}

func logEnd(r *http.Request, lvl LogLevel, status int, start time.Time, err error) {
	failed := status >= http.StatusBadRequest
	if lvl < LevelInfo && !(lvl == LevelError && failed) {
		return
	}
	z := zlog.Info()
	if failed {
		z = zlog.Warn()
	}
	z = z.Int("status", status).Dur("dur", time.Since(start))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	if err != nil {
		z = z.Err(err)
	}
	z.Msg("request end")
}
