package fx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-books/meridian-books/internal/rbac"
	"github.com/meridian-books/meridian-books/internal/shared"
)

// Handler exposes exchange-rate endpoints.
type Handler struct {
	logger   *slog.Logger
	repo     *Repository
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, repo *Repository, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, repo: repo, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers FX routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermFXView))
		r.Get("/rate", h.getRate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermFXManage))
		r.Post("/rates", h.upsertRate)
	})
}

func (h *Handler) getRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	companyID, err := strconv.ParseInt(q.Get("company_id"), 10, 64)
	if err != nil || companyID <= 0 {
		http.Error(w, "company_id is required", http.StatusBadRequest)
		return
	}
	from := strings.ToUpper(strings.TrimSpace(q.Get("from")))
	to := strings.ToUpper(strings.TrimSpace(q.Get("to")))
	if from == "" || to == "" {
		http.Error(w, "from and to are required", http.StatusBadRequest)
		return
	}
	date := time.Now()
	if raw := q.Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = parsed
	}

	rate, err := h.repo.FindRate(r.Context(), companyID, from, to, date)
	if err != nil {
		if errors.Is(err, ErrRateUnavailable) {
			http.Error(w, shared.UserSafeMessage(shared.ErrNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("find rate", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rate)
}

type upsertRateRequest struct {
	CompanyID   int64   `json:"company_id" validate:"required,gt=0"`
	From        string  `json:"from" validate:"required,len=3"`
	To          string  `json:"to" validate:"required,len=3"`
	Rate        float64 `json:"rate" validate:"required,gt=0"`
	EffectiveAt string  `json:"effective_at" validate:"required"`
}

func (h *Handler) upsertRate(w http.ResponseWriter, r *http.Request) {
	var req upsertRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	effectiveAt, err := time.Parse("2006-01-02", req.EffectiveAt)
	if err != nil {
		http.Error(w, "effective_at must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	rate := Rate{
		CompanyID:   req.CompanyID,
		From:        strings.ToUpper(req.From),
		To:          strings.ToUpper(req.To),
		Rate:        req.Rate,
		EffectiveAt: effectiveAt,
	}
	if err := h.repo.UpsertRate(r.Context(), rate); err != nil {
		h.logger.Error("upsert rate", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
