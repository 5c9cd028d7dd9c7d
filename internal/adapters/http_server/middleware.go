package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"navigatum_sync/internal/adapters/observability"
	"navigatum_sync/internal/domain"
)

// lookup is filled in by the handlers and read back by Access once the
// response is written.
type lookup struct {
	lang domain.Language
}

type lookupKey struct{}

// setLang records the language a handler negotiated for r.
func setLang(r *http.Request, lang domain.Language) {
	if l, ok := r.Context().Value(lookupKey{}).(*lookup); ok {
		l.lang = lang
	}
}

// Access records one metrics sample and one log line per request, labeled
// with the route, the record key and the served language.
func Access(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lk := &lookup{}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), lookupKey{}, lk)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route, key := "", ""
			if rc := chi.RouteContext(r.Context()); rc != nil {
				route = rc.RoutePattern()
				key = rc.URLParam("key")
			}
			if route == "" {
				route = r.URL.Path
			}
			lang := "none"
			if lk.lang != "" {
				lang = string(lk.lang)
			}
			dur := time.Since(start)
			observability.ObserveHTTP(route, r.Method, lang, status, dur)

			ev := l.Info()
			if status >= http.StatusInternalServerError {
				ev = l.Error()
			}
			if key != "" {
				ev = ev.Str("key", key)
			}
			ev.Str("request_id", chimw.GetReqID(r.Context())).
				Str("route", route).
				Str("method", r.Method).
				Str("lang", lang).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", dur).
				Str("remote", remoteHost(r.RemoteAddr)).
				Msg("http_request")
		})
	}
}

// remoteHost strips the port; RealIP has already applied forwarding headers.
func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}
