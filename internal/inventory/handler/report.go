package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/repository"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/httputil"
	"github.com/larder/larder-backend/pkg/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// TransactionHandler exposes the stock ledger
type TransactionHandler struct {
	inventory *service.InventoryService
	logger    *logger.Logger
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(inventory *service.InventoryService, log *logger.Logger) *TransactionHandler {
	return &TransactionHandler{inventory: inventory, logger: log}
}

// List reads the ledger, newest first
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	q := r.URL.Query()

	f := repository.TransactionFilter{
		MaterialID: q.Get("material_id"),
		BranchID:   q.Get("branch_id"),
		Type:       domain.TransactionType(q.Get("type")),
		Reference:  q.Get("reference"),
		Page:       page,
		PerPage:    perPage,
	}
	if f.Type != "" && !f.Type.Valid() {
		httputil.Error(w, errors.BadRequest("unknown transaction type "+string(f.Type)))
		return
	}

	from, err := parseDate("from", q.Get("from"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	to, err := parseDate("to", q.Get("to"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if !from.IsZero() {
		f.From = &from
	}
	if !to.IsZero() {
		end := to.AddDate(0, 0, 1)
		f.To = &end
	}

	txs, total, err := h.inventory.ListTransactions(r.Context(), f)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, txs, httputil.NewMeta(page, perPage, total))
}

// Get returns one ledger entry with its batch breakdown
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	tx, err := h.inventory.GetTransaction(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, tx)
}

// ReportHandler serves reports and the expiry job trigger
type ReportHandler struct {
	reports *service.ReportService
	expiry  *service.ExpiryService
	logger  *logger.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(reports *service.ReportService, expiry *service.ExpiryService, log *logger.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, expiry: expiry, logger: log}
}

// Inventory builds the branch inventory report as JSON or, with
// format=xlsx, as a workbook download.
func (h *ReportHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	q := r.URL.Query()
	from, err := parseDate("from", q.Get("from"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	to, err := parseDate("to", q.Get("to"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	report, err := h.reports.InventoryReport(r.Context(), id, from, to)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	switch q.Get("format") {
	case "", "json":
		httputil.JSON(w, http.StatusOK, report)
	case "xlsx":
		var buf bytes.Buffer
		if err := report.WriteXLSX(&buf); err != nil {
			h.logger.Error().Err(err).Str("branch_id", id).Msg("failed to render report workbook")
			httputil.Error(w, errors.Internal("failed to render report"))
			return
		}
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename()))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	default:
		httputil.Error(w, errors.BadRequest("format must be json or xlsx"))
	}
}

// RefreshExpiry runs the expiry job on demand
func (h *ReportHandler) RefreshExpiry(w http.ResponseWriter, r *http.Request) {
	res, err := h.expiry.RefreshExpiry(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, res)
}
