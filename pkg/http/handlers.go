package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"shortlink/pkg/middleware"
	"shortlink/pkg/security"
	"shortlink/pkg/service"
	"shortlink/pkg/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	linkService *service.LinkService
	csrf        *security.CSRFTokenManager
}

func NewHandler(linkService *service.LinkService) *Handler {
	return &Handler{
		linkService: linkService,
		csrf:        security.NewCSRFTokenManager(),
	}
}

type linkResponse struct {
	*storage.ShortLink
	ShortURL string `json:"short_url"`
}

type fieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error fieldError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, field, message string) {
	writeJSON(w, status, errorResponse{Error: fieldError{Field: field, Message: message}})
}

// notFound is the single response for missing, deleted and expired links.
func notFound(w http.ResponseWriter) {
	http.Error(w, "not found", http.StatusNotFound)
}

func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.OwnerIDFromContext(r.Context())
	if ownerID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "", "authentication required")
		return
	}

	var req service.CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	link, err := h.linkService.CreateLink(r.Context(), ownerID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidURL):
			writeError(w, http.StatusBadRequest, "target_url", err.Error())
		case errors.Is(err, service.ErrAliasFormat):
			writeError(w, http.StatusBadRequest, "custom_alias", err.Error())
		case errors.Is(err, service.ErrAliasConflict):
			writeError(w, http.StatusConflict, "custom_alias", err.Error())
		case errors.Is(err, service.ErrGenerationExhausted):
			writeError(w, http.StatusConflict, "", err.Error())
		case errors.Is(err, service.ErrStorageUnavailable):
			writeError(w, http.StatusServiceUnavailable, "", "storage unavailable")
		default:
			writeError(w, http.StatusBadRequest, "", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, linkResponse{
		ShortLink: link,
		ShortURL:  h.linkService.ShortURL(link.ShortCode),
	})
}

func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	res, err := h.linkService.Resolve(r.Context(), code)
	if err != nil {
		if errors.Is(err, service.ErrStorageUnavailable) {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		notFound(w)
		return
	}

	if res.HasPassword && !h.passwordVerified(r, code) {
		h.renderPasswordForm(w, code)
		return
	}

	h.linkService.RecordClick(res, clickMetaFromRequest(r))
	http.Redirect(w, r, res.TargetURL, http.StatusMovedPermanently)
}

func (h *Handler) passwordVerified(r *http.Request, code string) bool {
	cookie, err := r.Cookie("verified_" + code)
	return err == nil && cookie.Value == "true"
}

func (h *Handler) renderPasswordForm(w http.ResponseWriter, code string) {
	csrfToken, err := h.csrf.GenerateToken(code)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	html := `<html>
<head><title>Password Required</title></head>
<body>
<h2>Enter Password to Access Link</h2>
<form method="post" action="/v1/links/` + code + `/verify">
<input type="hidden" name="csrf_token" value="` + csrfToken + `">
<label>Password: <input type="password" name="password" required></label>
<input type="submit" value="Submit">
</form>
</body>
</html>`
	_, _ = w.Write([]byte(html))
}

func (h *Handler) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	password := r.FormValue("password")
	csrfToken := r.FormValue("csrf_token")

	if !h.csrf.ValidateToken(code, csrfToken) {
		http.Error(w, "invalid csrf token", http.StatusForbidden)
		return
	}

	if err := h.linkService.VerifyPassword(r.Context(), code, password); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			notFound(w)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h.csrf.InvalidateToken(code)
	http.SetCookie(w, &http.Cookie{
		Name:     "verified_" + code,
		Value:    "true",
		Path:     "/r/" + code,
		HttpOnly: true,
		MaxAge:   300,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.OwnerIDFromContext(r.Context())
	if ownerID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "", "authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		notFound(w)
		return
	}

	link, err := h.linkService.GetLink(r.Context(), ownerID, id)
	if err != nil {
		if errors.Is(err, service.ErrStorageUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "", "storage unavailable")
			return
		}
		notFound(w)
		return
	}

	writeJSON(w, http.StatusOK, linkResponse{
		ShortLink: link,
		ShortURL:  h.linkService.ShortURL(link.ShortCode),
	})
}

func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.OwnerIDFromContext(r.Context())
	if ownerID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "", "authentication required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	links, err := h.linkService.ListLinks(r.Context(), ownerID, limit, offset)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "", "storage unavailable")
		return
	}

	out := make([]linkResponse, 0, len(links))
	for _, link := range links {
		out = append(out, linkResponse{
			ShortLink: link,
			ShortURL:  h.linkService.ShortURL(link.ShortCode),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"links":  out,
		"offset": offset,
	})
}

func (h *Handler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.OwnerIDFromContext(r.Context())
	if ownerID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "", "authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		notFound(w)
		return
	}

	var req service.UpdateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	link, err := h.linkService.UpdateLink(r.Context(), ownerID, id, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			notFound(w)
		case errors.Is(err, service.ErrStorageUnavailable):
			writeError(w, http.StatusServiceUnavailable, "", "storage unavailable")
		default:
			writeError(w, http.StatusBadRequest, "", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, linkResponse{
		ShortLink: link,
		ShortURL:  h.linkService.ShortURL(link.ShortCode),
	})
}

func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.OwnerIDFromContext(r.Context())
	if ownerID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "", "authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		notFound(w)
		return
	}

	if err := h.linkService.DeleteLink(r.Context(), ownerID, id); err != nil {
		if errors.Is(err, service.ErrStorageUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "", "storage unavailable")
			return
		}
		notFound(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if err := h.linkService.Ping(r.Context()); err != nil {
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func clickMetaFromRequest(r *http.Request) service.ClickMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return service.ClickMeta{
		Referrer:  r.Referer(),
		UserAgent: r.UserAgent(),
		IP:        ip,
	}
}

// SetupRoutes wires the full API surface.
func SetupRoutes(r *chi.Mux, handler *Handler, auth *middleware.Auth) {
	r.Get("/health", handler.HealthCheck)
	r.Get("/ping", handler.Ping)
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate)
			r.Post("/links", handler.CreateLink)
			r.Get("/links", handler.ListLinks)
			r.Get("/links/{id}", handler.GetLink)
			r.Patch("/links/{id}", handler.UpdateLink)
			r.Delete("/links/{id}", handler.DeleteLink)
		})
		r.Post("/links/{code}/verify", handler.VerifyPassword)
	})
	r.Get("/r/{code}", handler.Redirect)
}

// SetupRedirectRoutes wires the lean redirect-only surface.
func SetupRedirectRoutes(r *chi.Mux, handler *Handler) {
	r.Get("/health", handler.HealthCheck)
	r.Get("/r/{code}", handler.Redirect)
	r.Post("/v1/links/{code}/verify", handler.VerifyPassword)
}
