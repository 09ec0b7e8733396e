package reconciliation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-books/meridian-books/internal/ledger"
	"github.com/meridian-books/meridian-books/internal/rbac"
	"github.com/meridian-books/meridian-books/internal/shared"
)

// Handler wires the reconciliation JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	idem      *shared.IdempotencyStore
	validator *validator.Validate
}

// NewHandler constructs a Handler instance. The idempotency store may be nil,
// in which case the Idempotency-Key header is ignored.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, idem *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		rbac:      rbac,
		idem:      idem,
		validator: validator.New(),
	}
}

// MountRoutes registers reconciliation routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermReconcileView))
		r.Get("/candidates", h.listCandidates)
		r.Get("/proposition", h.findProposition)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermReconcileCommit))
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Post("/commit", h.commit)
	})
}

func (h *Handler) listCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accountID, err := strconv.ParseInt(q.Get("account_id"), 10, 64)
	if err != nil || accountID <= 0 {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	input := LoadCandidatesInput{
		AccountID:      accountID,
		PartnerID:      parseOptionalID(q.Get("partner_id")),
		ExcludedIDs:    parseIDList(q.Get("excluded_ids")),
		Search:         q.Get("search"),
		TargetCurrency: q.Get("currency"),
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		input.Offset = offset
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		input.Limit = limit
	}

	page, err := h.service.LoadCandidates(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, r, "load candidates", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) findProposition(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accountID, err := strconv.ParseInt(q.Get("account_id"), 10, 64)
	if err != nil || accountID <= 0 {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	query := PropositionQuery{
		AccountID:    accountID,
		PartnerID:    parseOptionalID(q.Get("partner_id")),
		PinnedLineID: parseOptionalID(q.Get("line_id")),
	}
	lines, err := h.service.FindProposition(r.Context(), query, q.Get("currency"))
	if err != nil {
		h.writeServiceError(w, r, "find proposition", err)
		return
	}
	writeJSON(w, http.StatusOK, propositionResponse{Lines: lines})
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), key, "reconciliation"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				writeError(w, http.StatusConflict, "request already processed")
				return
			}
			h.writeServiceError(w, r, "idempotency check", err)
			return
		}
	}
	input := CommitInput{
		LineIDs: req.LineIDs,
		ActorID: shared.UserIDFromContext(r.Context()),
	}
	for _, payload := range req.WriteOffs {
		input.WriteOffs = append(input.WriteOffs, payload.toSpec())
	}
	if err := h.service.CommitReconciliation(r.Context(), input); err != nil {
		h.writeServiceError(w, r, "commit reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, commitResponse{Status: "reconciled"})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrTooFewLines),
		errors.Is(err, ErrWriteOffFieldsMissing),
		errors.Is(err, ErrResidualMismatch),
		errors.Is(err, ledger.ErrUnbalanced):
		status = http.StatusBadRequest
	case errors.Is(err, ErrLineAlreadyReconciled):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrLineNotFound),
		errors.Is(err, shared.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, shared.ErrAccessDenied):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	writeError(w, status, shared.UserSafeMessage(err))
}

func parseOptionalID(raw string) *int64 {
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
