package httpapi

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

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
var defaultLogLevel = parseLevel(os.Getenv("DIFFUSIOND_LOG_LEVEL"))

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
	return defaultLogLevel
}

// logEnd emits one structured line per finished request when the level
// allows it.
func logEnd(r *http.Request, route string, status int, start time.Time, model string, err error) {
	lvl := requestLogLevel(r)
	if status >= 500 && lvl < LevelError {
		return
	}
	if status < 500 && lvl < LevelInfo {
		return
	}
	if zlog != nil {
		z := zlog.Info().Str("route", route).Int("status", status).Dur("dur", time.Since(start))
		if model != "" {
			z = z.Str("model", model)
		}
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		if err != nil {
			z = z.Err(err)
		}
		z.Msg(route + " end")
		return
	}
	if err != nil {
		log.Printf("%s end status=%d dur=%s model=%q err=%v", route, status, time.Since(start), model, err)
		return
	}
	log.Printf("%s end status=%d dur=%s model=%q", route, status, time.Since(start), model)
}
