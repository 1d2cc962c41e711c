package recipe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"recipebox/backend/internal/adapter/scraper"
	"recipebox/backend/internal/middleware"
)

const parsingFailedMessage = "Parsing failed, please try again"

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// Scrape handles POST /recipes?url=&parseIngredients=&defaultLang=
func (h *Handler) Scrape(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	req := ScrapeRequest{
		URL:             q.Get("url"),
		OwnerID:         middleware.GetUserID(ctx),
		DefaultLanguage: q.Get("defaultLang"),
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "url must be an absolute http(s) url", http.StatusBadRequest)
		return
	}
	if raw := q.Get("parseIngredients"); raw != "" {
		parse, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(ctx, w, "VALIDATION_ERROR", "parseIngredients must be a boolean", http.StatusBadRequest)
			return
		}
		req.ParseIngredients = parse
	}
	switch req.DefaultLanguage {
	case "", "en", "pl":
	default:
		h.writeError(ctx, w, "VALIDATION_ERROR", "defaultLang must be one of en, pl", http.StatusBadRequest)
		return
	}

	var body struct {
		NotificationToken string `json:"notificationToken"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	req.NotificationToken = body.NotificationToken

	id, err := h.service.Scrape(ctx, req)
	if err != nil {
		var fe *scraper.FetchError
		switch {
		case errors.As(err, &fe):
			slog.WarnContext(ctx, "unable to load recipe page", "url", req.URL, "status", fe.StatusCode)
			h.writeError(ctx, w, "UNPROCESSABLE_ENTITY",
				"Unable to load content from the provided url (received status code "+strconv.Itoa(fe.StatusCode)+")",
				http.StatusUnprocessableEntity)
		case errors.Is(err, ErrUnscrapable):
			slog.WarnContext(ctx, "unable to parse recipe", "url", req.URL, "error", err)
			h.writeError(ctx, w, "UNPROCESSABLE_ENTITY", "Unable to parse the recipe", http.StatusUnprocessableEntity)
		default:
			slog.ErrorContext(ctx, "scrape failed", "url", req.URL, "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": map[string]string{"id": id}})
}

// Get handles GET /recipes/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	ctx = middleware.WithRecipeID(ctx, id)

	rec, err := h.service.Get(ctx, id, middleware.GetUserID(ctx))
	if errors.Is(err, ErrNotFound) {
		h.writeError(ctx, w, "NOT_FOUND", "Recipe not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to get recipe", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if !rec.Succeeded() {
		h.writeJSON(ctx, w, http.StatusMultiStatus, map[string]interface{}{"message": parsingFailedMessage})
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": rec})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
