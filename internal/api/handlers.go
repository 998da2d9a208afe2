package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/internal/pipeline"
	"github.com/sells-group/platter/internal/query"
	"github.com/sells-group/platter/internal/store"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":            "ok",
		"generation_breaker": s.searches.BreakerState().String(),
	})
}

func (s *Server) handleStartSearch(w http.ResponseWriter, r *http.Request) {
	// Anything but a JSON string counts as a missing query.
	var body struct {
		Query json.RawMessage `json:"query"`
	}
	_ = decode(w, r, &body)
	var q string
	_ = json.Unmarshal(body.Query, &q)
	q = strings.TrimSpace(q)

	id, err := s.searches.Start(r.Context(), q)
	switch {
	case errors.Is(err, pipeline.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, query.Validate(q).Error)
	case err != nil:
		s.log.Error("api: start search", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not start search")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"search_id": id})
	}
}

// parseSince accepts RFC 3339 or unix milliseconds. Empty means no cursor.
func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func (s *Server) handleSearchStatus(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid since: use RFC 3339 or unix milliseconds")
		return
	}

	view, err := s.searches.Status(r.Context(), chi.URLParam(r, "id"), since)
	if err != nil {
		s.searchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	cards, err := s.searches.Results(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.searchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (s *Server) searchError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Search not found")
		return
	}
	s.log.Error("api: load search", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Could not load search")
}

func (s *Server) handleListBusinesses(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListBusinesses(r.Context())
	if err != nil {
		s.log.Error("api: list businesses", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not load businesses")
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleUpdateBusiness(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status model.Status `json:"status"`
	}
	if err := decode(w, r, &body); err != nil || !body.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	err := s.store.SetStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Business not found")
	case err != nil:
		s.log.Error("api: update business", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Update failed")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListSites(r.Context())
	if err != nil {
		s.log.Error("api: list sites", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not load sites")
		return
	}
	if sites == nil {
		sites = []model.GeneratedSite{}
	}
	writeJSON(w, http.StatusOK, sites)
}

type generateRequest struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Slug             string              `json:"slug"`
	Description      string              `json:"description"`
	Style            *string             `json:"style"`
	Phone            *string             `json:"phone"`
	Address          string              `json:"address"`
	Email            *string             `json:"email"`
	BusinessHours    *string             `json:"business_hours"`
	SocialMediaLinks []string            `json:"social_media_links"`
	ColorPalette     *model.ColorPalette `json:"color_palette"`
	ModelURL         *string             `json:"model_url"`
}

func (g generateRequest) record() model.Record {
	return model.Record{
		ID:               g.ID,
		Name:             strings.TrimSpace(g.Name),
		Slug:             strings.TrimSpace(g.Slug),
		Description:      g.Description,
		Style:            g.Style,
		Phone:            g.Phone,
		Address:          g.Address,
		Email:            g.Email,
		BusinessHours:    g.BusinessHours,
		SocialMediaLinks: g.SocialMediaLinks,
		ColorPalette:     g.ColorPalette,
		ModelURL:         g.ModelURL,
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.sites == nil {
		writeError(w, http.StatusServiceUnavailable, "Site generation is disabled")
		return
	}

	var body generateRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rec := body.record()
	if rec.Name == "" || rec.Slug == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields: slug, name")
		return
	}

	out, err := s.sites.Deploy(r.Context(), rec)
	if err != nil && out == nil {
		s.log.Error("api: generate", zap.String("slug", rec.Slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Generation failed")
		return
	}
	if err != nil {
		s.log.Warn("api: generate bookkeeping", zap.String("slug", rec.Slug), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, out)
}
