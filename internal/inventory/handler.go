package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

// Handler exposes the ledger over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	classify  []httpx.Classifier
}

// NewHandler constructs Handler. Extra classifiers map errors raised by the
// ledger integration onto HTTP statuses.
func NewHandler(logger *slog.Logger, service *Service, classifiers ...httpx.Classifier) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		classify:  append([]httpx.Classifier{ClassifyError}, classifiers...),
	}
}

// MountRoutes registers inventory endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receipts", h.postReceipt)
	r.Post("/issues", h.postIssue)
	r.Post("/reconciliations", h.postReconciliation)
	r.Get("/reconciliations/{id}", h.showReconciliation)
	r.Post("/reconciliations/{id}/cancel", h.cancelReconciliation)
	r.Get("/balances", h.showBalance)
	r.Post("/balances/rebuild", h.rebuildBalance)
	r.Get("/stock-card", h.showStockCard)
}

type receiptRequest struct {
	Code        string          `json:"code" validate:"max=64"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	PostedAt    *time.Time      `json:"posted_at"`
	Qty         decimal.Decimal `json:"qty"`
	Rate        decimal.Decimal `json:"rate"`
	Note        string          `json:"note" validate:"max=255"`
}

type issueRequest struct {
	Code        string          `json:"code" validate:"max=64"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	PostedAt    *time.Time      `json:"posted_at"`
	Qty         decimal.Decimal `json:"qty"`
	Note        string          `json:"note" validate:"max=255"`
}

type reconciliationRequest struct {
	Code          string              `json:"code" validate:"max=64"`
	WarehouseID   int64               `json:"warehouse_id" validate:"required,gt=0"`
	ProductID     int64               `json:"product_id" validate:"required,gt=0"`
	PostedAt      *time.Time          `json:"posted_at"`
	Qty           decimal.NullDecimal `json:"qty"`
	ValuationRate decimal.NullDecimal `json:"valuation_rate"`
	Note          string              `json:"note" validate:"max=255"`
}

func (h *Handler) postReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.PostReceipt(r.Context(), ReceiptInput{
		Code:        strings.TrimSpace(req.Code),
		WarehouseID: req.WarehouseID,
		ProductID:   req.ProductID,
		PostedAt:    timeOrZero(req.PostedAt),
		Qty:         req.Qty,
		Rate:        req.Rate,
		Note:        req.Note,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "post receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) postIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.PostIssue(r.Context(), IssueInput{
		Code:        strings.TrimSpace(req.Code),
		WarehouseID: req.WarehouseID,
		ProductID:   req.ProductID,
		PostedAt:    timeOrZero(req.PostedAt),
		Qty:         req.Qty,
		Note:        req.Note,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "post issue", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) postReconciliation(w http.ResponseWriter, r *http.Request) {
	var req reconciliationRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.ApplyReconciliation(r.Context(), ReconciliationInput{
		Code:        strings.TrimSpace(req.Code),
		WarehouseID: req.WarehouseID,
		ProductID:   req.ProductID,
		PostedAt:    timeOrZero(req.PostedAt),
		Qty:         req.Qty,
		Rate:        req.ValuationRate,
		Note:        req.Note,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "apply reconciliation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) showReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	reco, err := h.service.GetReconciliation(r.Context(), id)
	if err != nil {
		h.fail(w, "get reconciliation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, reco)
}

func (h *Handler) cancelReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.service.CancelReconciliation(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "cancel reconciliation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) showBalance(w http.ResponseWriter, r *http.Request) {
	key, err := queryKey(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	balance, err := h.service.GetBalance(r.Context(), key)
	if err != nil {
		h.fail(w, "get balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) rebuildBalance(w http.ResponseWriter, r *http.Request) {
	key, err := queryKey(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	balance, rewritten, err := h.service.RebuildBalance(r.Context(), key)
	if err != nil {
		h.fail(w, "rebuild balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balance": balance, "rewritten": rewritten})
}

func (h *Handler) showStockCard(w http.ResponseWriter, r *http.Request) {
	key, err := queryKey(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	q := r.URL.Query()
	filter := StockCardFilter{WarehouseID: key.WarehouseID, ProductID: key.ProductID}
	if filter.From, err = parseTime(q.Get("from"), false); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from")
		return
	}
	if filter.To, err = parseTime(q.Get("to"), true); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to")
		return
	}
	entries, err := h.service.GetStockCard(r.Context(), filter)
	if err != nil {
		h.fail(w, "stock card", err)
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	pagination := shared.NewPagination(page, perPage, len(entries))
	start, end := pagination.Window()
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries":    entries[start:end],
		"pagination": pagination,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	mapped := false
	for _, c := range h.classify {
		if c(err) != nil {
			mapped = true
			break
		}
	}
	if !mapped {
		h.logger.Error("inventory "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err, h.classify...)
}

// ClassifyError maps inventory errors onto HTTP error kinds.
func ClassifyError(err error) error {
	switch {
	case errors.Is(err, ErrReconciliationNotFound), errors.Is(err, ErrMovementNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return httpx.ErrDuplicate
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, shared.ErrLockNotObtained):
		return httpx.ErrConflict
	case errors.Is(err, ErrKeyRequired), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidRate),
		errors.Is(err, ErrEmptyReconciliation), errors.Is(err, valuation.ErrInvalidStep), errors.Is(err, valuation.ErrUnknownMethod):
		return httpx.ErrValidation
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrValuationRateRequired):
		return httpx.ErrUnprocessable
	}
	return nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid reconciliation id")
		return 0, false
	}
	return id, true
}

func queryKey(r *http.Request) (Key, error) {
	q := r.URL.Query()
	wh, err := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	if err != nil || wh <= 0 {
		return Key{}, errors.New("warehouse_id required")
	}
	prod, err := strconv.ParseInt(q.Get("product_id"), 10, 64)
	if err != nil || prod <= 0 {
		return Key{}, errors.New("product_id required")
	}
	return Key{WarehouseID: wh, ProductID: prod}, nil
}

// parseTime accepts RFC3339 or a plain date. A plain upper bound covers the whole day.
func parseTime(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
