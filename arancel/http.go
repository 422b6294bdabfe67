package arancel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/arancel/kit"
	"github.com/hazyhaar/arancel/resolve"
	"github.com/hazyhaar/arancel/shield"
	"github.com/hazyhaar/arancel/snapshot"
	"github.com/hazyhaar/arancel/tariff"
)

// Routes returns the read-only HTTP API. Every route accepts ?version=.
func (s *Service) Routes() http.Handler {
	e := s.Endpoints()
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(s.logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/versions", s.serve(e.Versions, func(*http.Request) any { return &VersionsRequest{} }))

	r.Get("/codes/{code}", s.serve(e.Lookup, func(r *http.Request) any {
		return &LookupRequest{Version: version(r), Code: param(r, "code"), Limit: queryInt(r, "limit", 0)}
	}))
	r.Get("/codes/{code}/notes", s.serve(e.Note, func(r *http.Request) any {
		return &NoteRequest{Version: version(r), Kind: "code", ID: param(r, "code")}
	}))
	r.Get("/search", s.serve(e.Search, func(r *http.Request) any {
		return &SearchRequest{Version: version(r), Query: r.URL.Query().Get("q"), Limit: queryInt(r, "limit", 0)}
	}))

	for _, kind := range []tariff.NoteKind{tariff.SectionNote, tariff.ChapterNote} {
		base := "/" + string(kind) + "s/{id}"
		r.Get(base, s.serve(e.List, func(r *http.Request) any {
			return &ListRequest{Version: version(r), Kind: string(kind), ID: param(r, "id"), Limit: queryInt(r, "limit", 0)}
		}))
		r.Get(base+"/note", s.serve(e.Note, func(r *http.Request) any {
			return &NoteRequest{Version: version(r), Kind: string(kind), ID: param(r, "id")}
		}))
	}
	return r
}

// serve adapts an endpoint to HTTP: decode builds the request, the
// response is written as JSON.
func (s *Service) serve(endpoint kit.Endpoint, decode func(*http.Request) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := endpoint(r.Context(), decode(r))
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, snapshot.ErrNotFound), errors.Is(err, resolve.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func version(r *http.Request) string { return r.URL.Query().Get("version") }

// param returns a decoded path parameter; chi keeps escapes when the
// request carries a raw path.
func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
