package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atelier-erp/atelier-erp/internal/shared"
)

// Handler wires HTTP endpoints for the ledger module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	reader    *CachedReader
	validator *validator.Validate
}

// NewHandler constructs the ledger handler. reader serves reporting endpoints
// and may be nil, in which case reads fall through to the service.
func NewHandler(logger *slog.Logger, service *Service, reader *CachedReader) *Handler {
	v := validator.New()
	// Field errors are keyed by the JSON names clients send, matching the
	// domain-level validation errors.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, reader: reader, validator: v}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transactions", h.handleRecord)
	r.Get("/transactions/{id}", h.handleGetTransaction)
	r.Put("/transactions/{id}/audited", h.handleSetAudited)
	r.Get("/items/{id}/balance", h.handleBalance)
	r.Get("/items/{id}/ledger", h.handleLedger)
	r.Get("/items/{id}/ledger/export", h.handleExport)
}

type recordRequest struct {
	ID          string          `json:"id" validate:"required"`
	Type        TransactionType `json:"type" validate:"required"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	User        string          `json:"user"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, shared.NewValidationError(shared.FieldErrors{"body": "invalid JSON payload"}))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		fields := shared.FieldErrors{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fmt.Sprintf("failed %s validation", fe.Tag())
			}
		} else {
			fields["body"] = "invalid request"
		}
		h.writeError(w, shared.NewValidationError(fields))
		return
	}

	event, err := NewEvent(req.Type)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := json.Unmarshal(req.Payload, event); err != nil {
		h.writeError(w, shared.NewValidationError(shared.FieldErrors{"payload": "payload does not match the transaction type"}))
		return
	}

	dryRun := r.URL.Query().Get("dry_run") == "1" || r.URL.Query().Get("dry_run") == "true"
	tx, err := h.service.RecordTransaction(r.Context(), RecordInput{
		ID:          req.ID,
		Date:        req.Date,
		Description: req.Description,
		User:        req.User,
		Event:       event,
	}, RecordOptions{DryRun: dryRun})
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if dryRun {
		status = http.StatusOK
	}
	h.writeJSON(w, status, tx)
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.service.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

type auditedRequest struct {
	Audited bool `json:"audited"`
}

func (h *Handler) handleSetAudited(w http.ResponseWriter, r *http.Request) {
	var req auditedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, shared.NewValidationError(shared.FieldErrors{"body": "invalid JSON payload"}))
		return
	}
	if err := h.service.SetTransactionAudited(r.Context(), chi.URLParam(r, "id"), req.Audited); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	var (
		snap BalanceSnapshot
		err  error
	)
	// Reporting reads may be served stale; ?fresh=1 forces the store.
	if h.reader != nil && r.URL.Query().Get("fresh") == "" {
		snap, err = h.reader.ItemBalance(r.Context(), itemID)
	} else {
		snap, err = h.service.GetItemBalance(r.Context(), itemID)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	from, to, err := parseDateRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var out ItemLedger
	if h.reader != nil {
		out, err = h.reader.ItemLedger(r.Context(), itemID, from, to)
	} else {
		out, err = h.service.GetItemLedger(r.Context(), itemID, from, to)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	from, to, err := parseDateRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var out ItemLedger
	if h.reader != nil {
		out, err = h.reader.ItemLedger(r.Context(), itemID, from, to)
	} else {
		out, err = h.service.GetItemLedger(r.Context(), itemID, from, to)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", itemID+"-ledger.csv"))
	_, _ = w.Write([]byte(out.ToCSV()))
}

func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			return time.Time{}, time.Time{}, shared.NewValidationError(shared.FieldErrors{"start": "invalid start date"})
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			return time.Time{}, time.Time{}, shared.NewValidationError(shared.FieldErrors{"end": "invalid end date"})
		}
		// Date-only bounds cover the whole day.
		if len(raw) == len("2006-01-02") {
			parsed = parsed.Add(24*time.Hour - time.Nanosecond)
		}
		to = parsed
	}
	return from, to, nil
}

func parseDate(raw string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		validation   *shared.ValidationError
		conflict     *shared.ConflictError
		notFound     *shared.NotFoundError
		insufficient *shared.InsufficientInventoryError
	)
	switch {
	case errors.As(err, &validation):
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validation.Fields,
		})
	case errors.As(err, &notFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": notFound.Error()})
	case errors.As(err, &conflict):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": conflict.Error()})
	case errors.As(err, &insufficient):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": insufficient.Error()})
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": shared.UserSafeMessage(err)})
	}
}
