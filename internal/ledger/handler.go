package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-books/meridian-books/internal/rbac"
	"github.com/meridian-books/meridian-books/internal/shared"
)

// Handler exposes journal-entry endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermLedgerView))
		r.Get("/moves/{id}", h.getMove)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermLedgerPost))
		r.Post("/moves", h.postMove)
	})
}

type moveLinePayload struct {
	Name           string  `json:"name"`
	AccountID      int64   `json:"account_id" validate:"required,gt=0"`
	PartnerID      *int64  `json:"partner_id"`
	Debit          float64 `json:"debit" validate:"gte=0"`
	Credit         float64 `json:"credit" validate:"gte=0"`
	Currency       string  `json:"currency"`
	AmountCurrency float64 `json:"amount_currency"`
}

type postMoveRequest struct {
	Ref       string            `json:"ref"`
	JournalID int64             `json:"journal_id" validate:"required,gt=0"`
	CompanyID int64             `json:"company_id" validate:"required,gt=0"`
	Date      string            `json:"date"`
	Lines     []moveLinePayload `json:"lines" validate:"required,min=2,dive"`
}

func (h *Handler) postMove(w http.ResponseWriter, r *http.Request) {
	var req postMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	input := MoveInput{
		Ref:       req.Ref,
		JournalID: req.JournalID,
		CompanyID: req.CompanyID,
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		input.Date = date
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, MoveLineInput{
			Name:           line.Name,
			AccountID:      line.AccountID,
			PartnerID:      line.PartnerID,
			Debit:          line.Debit,
			Credit:         line.Credit,
			Currency:       line.Currency,
			AmountCurrency: line.AmountCurrency,
		})
	}

	mv, err := h.service.PostMove(r.Context(), input)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrUnbalanced), errors.Is(err, ErrTooFewLines):
			status = http.StatusBadRequest
		case errors.Is(err, ErrAlreadyPosted):
			status = http.StatusConflict
		default:
			h.logger.Error("post move", slog.Any("error", err))
		}
		http.Error(w, shared.UserSafeMessage(err), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(mv)
}

func (h *Handler) getMove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	mv, err := h.service.GetMove(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrMoveNotFound) {
			http.Error(w, shared.UserSafeMessage(shared.ErrNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get move", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(mv)
}
