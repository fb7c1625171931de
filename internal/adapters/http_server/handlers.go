package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"pinintel/internal/app"
	"pinintel/internal/domain"
)

// PlaceResolver is what the placecard endpoints need from the app layer.
type PlaceResolver interface {
	Resolve(ctx context.Context, at domain.Coords, hint, clientKey string) (app.Result, error)
}

// MediaReader is the read side of the blob storage: content type plus bytes.
type MediaReader interface {
	Get(ctx context.Context, key string) (string, []byte, error)
}

type Handlers struct {
	R     PlaceResolver
	Media MediaReader
}

type problem struct {
	Type        string              `json:"type"`
	Title       string              `json:"title"`
	Status      int                 `json:"status"`
	Detail      string              `json:"detail,omitempty"`
	Diagnostics *domain.Diagnostics `json:"diagnostics,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/placecard", h.getPlacecard)
	s.mux.Post("/v1/placecard", h.postPlacecard)
	s.mux.Get("/media/{key}", h.getMedia)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string, diag *domain.Diagnostics) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail, Diagnostics: diag}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

type placecardRequest struct {
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
	Lng  *float64 `json:"lng"` // accepted alternate spelling
	Hint string   `json:"hint"`
}

// coords pulls the coordinate pair out of a parsed request, distinguishing
// "missing" from "malformed". Range validation belongs to the resolver.
func (p placecardRequest) coords() (domain.Coords, string) {
	lon := p.Lon
	if lon == nil {
		lon = p.Lng
	}
	if p.Lat == nil && lon == nil {
		return domain.Coords{}, "lat and lon are required"
	}
	if p.Lat == nil {
		return domain.Coords{}, "lat is required"
	}
	if lon == nil {
		return domain.Coords{}, "lon is required"
	}
	return domain.Coords{Lat: *p.Lat, Lon: *lon}, ""
}

func (h *Handlers) getPlacecard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var req placecardRequest
	var parseErr string
	if v := q.Get("lat"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErr = "lat must be a number"
		}
		req.Lat = &f
	}
	lonParam := q.Get("lon")
	if lonParam == "" {
		lonParam = q.Get("lng")
	}
	if lonParam != "" {
		f, err := strconv.ParseFloat(lonParam, 64)
		if err != nil && parseErr == "" {
			parseErr = "lon must be a number"
		}
		req.Lon = &f
	}
	if parseErr != "" {
		writeProblem(w, http.StatusBadRequest, "Invalid coordinates", parseErr, nil)
		return
	}
	req.Hint = q.Get("hint")
	h.resolve(w, r, req)
}

func (h *Handlers) postPlacecard(w http.ResponseWriter, r *http.Request) {
	var req placecardRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil || len(body) == 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "a JSON body with lat and lon is required", nil)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "malformed JSON: "+err.Error(), nil)
		return
	}
	h.resolve(w, r, req)
}

func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request, req placecardRequest) {
	at, missing := req.coords()
	if missing != "" {
		writeProblem(w, http.StatusBadRequest, "Missing coordinates", missing, nil)
		return
	}

	res, err := h.R.Resolve(r.Context(), at, strings.TrimSpace(req.Hint), clientKey(r))
	if err != nil {
		if errors.Is(err, app.ErrInvalidCoordinates) {
			diag := res.Diagnostics
			writeProblem(w, http.StatusBadRequest, "Invalid coordinates",
				"lat must be in [-90,90] and lon in [-180,180]", &diag)
			return
		}
		log.Error().Err(err).Str("at", at.String()).Msg("resolution failed")
		diag := res.Diagnostics
		writeProblem(w, http.StatusInternalServerError, "Resolution failed", err.Error(), &diag)
		return
	}

	etag, body := calcETagAndBody(res)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag) // include ETag on 304
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write placecard body")
	}
}

func (h *Handlers) getMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" || strings.ContainsAny(key, "/\\") {
		writeProblem(w, http.StatusBadRequest, "Invalid key", "media key is malformed", nil)
		return
	}
	contentType, data, err := h.Media.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "no media under that key", nil)
			return
		}
		log.Error().Err(err).Str("key", key).Msg("media read failed")
		writeProblem(w, http.StatusInternalServerError, "Storage error", "media read failed", nil)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Error().Err(err).Msg("failed to write media body")
	}
}
