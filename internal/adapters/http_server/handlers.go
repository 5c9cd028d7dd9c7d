package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"navigatum_sync/internal/domain"
)

// Queries is the read side served over HTTP.
type Queries interface {
	GetLocation(ctx context.Context, key domain.RecordKey, lang domain.Language) (domain.LocationView, error)
	GetCoords(ctx context.Context, key domain.RecordKey) (domain.Coords, error)
	LastRun(ctx context.Context) (domain.RunRecord, error)
}

type Handlers struct{ Q Queries }

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type coordsResponse struct {
	Key string  `json:"key"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type runResponse struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Mode       string    `json:"mode"`
	Fetched    int       `json:"records_fetched"`
	Processed  int       `json:"records_processed"`
	Failed     int       `json:"records_failed"`
	Outcome    string    `json:"outcome"`
	Error      *string   `json:"error,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/api/locations/{key}", h.getLocation)
	s.mux.Get("/api/locations/{key}/coords", h.getCoords)
	s.mux.Get("/api/sync/status", h.syncStatus)
}

// selectLang picks the first supported language of an Accept-Language
// header, defaulting to German.
func selectLang(al string) domain.Language {
	for _, part := range strings.Split(al, ",") {
		tag := strings.ToLower(strings.TrimSpace(part))
		if i := strings.IndexAny(tag, ";-"); i >= 0 {
			tag = tag[:i]
		}
		if l, ok := domain.ParseLanguage(tag); ok {
			return l
		}
	}
	return domain.LangDE
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeLookupError(w http.ResponseWriter, r *http.Request, err error, what string) {
	if errors.Is(err, domain.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", what+" not found")
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeProblem(w, http.StatusGatewayTimeout, "Gateway Timeout", what+" lookup timed out")
		return
	}
	log.Error().Err(err).Str("path", r.URL.Path).Msg("lookup failed")
	writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
}

func etagOf(body []byte) string {
	sum := sha1.Sum(body)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	return etagOf(body), body
}

// writeJSON answers 304 when the client already holds etag.
func writeJSON(w http.ResponseWriter, r *http.Request, etag string, body []byte) {
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to write body")
	}
}

func (h *Handlers) getLocation(w http.ResponseWriter, r *http.Request) {
	key := domain.RecordKey(chi.URLParam(r, "key"))
	lang := selectLang(r.Header.Get("Accept-Language"))
	if q := r.URL.Query().Get("lang"); q != "" {
		l, ok := domain.ParseLanguage(q)
		if !ok {
			writeProblem(w, http.StatusBadRequest, "Invalid language", "lang must be de or en")
			return
		}
		lang = l
	}
	setLang(r, lang)

	v, err := h.Q.GetLocation(r.Context(), key, lang)
	if err != nil {
		writeLookupError(w, r, err, "location")
		return
	}
	w.Header().Set("Content-Language", string(v.Language))
	w.Header().Add("Vary", "Accept-Language")
	writeJSON(w, r, etagOf(v.Data), v.Data)
}

func (h *Handlers) getCoords(w http.ResponseWriter, r *http.Request) {
	c, err := h.Q.GetCoords(r.Context(), domain.RecordKey(chi.URLParam(r, "key")))
	if err != nil {
		writeLookupError(w, r, err, "coordinates")
		return
	}
	etag, body := calcETagAndBody(coordsResponse{Key: string(c.Key), Lat: c.Lat, Lon: c.Lon})
	writeJSON(w, r, etag, body)
}

func (h *Handlers) syncStatus(w http.ResponseWriter, r *http.Request) {
	run, err := h.Q.LastRun(r.Context())
	if err != nil {
		writeLookupError(w, r, err, "sync run")
		return
	}
	etag, body := calcETagAndBody(runResponse{
		ID:         run.ID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Mode:       string(run.Mode),
		Fetched:    run.Fetched,
		Processed:  run.Processed,
		Failed:     run.Failed,
		Outcome:    run.Outcome,
		Error:      run.Error,
	})
	writeJSON(w, r, etag, body)
}
