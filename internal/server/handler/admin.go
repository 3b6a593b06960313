package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// ReportReader reads archived financial reports.
type ReportReader interface {
	ListReports(ctx context.Context, limit int) ([]domain.BlobInfo, error)
	GetReport(ctx context.Context, path string) (domain.FinancialReport, error)
}

// AdminHandler serves read-only operator endpoints. Every route requires an
// admin actor.
type AdminHandler struct {
	disputes domain.DisputeStore
	audit    domain.AuditStore
	reports  ReportReader
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler. reports may be nil when no blob
// store is configured.
func NewAdminHandler(disputes domain.DisputeStore, audit domain.AuditStore, reports ReportReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		disputes: disputes,
		audit:    audit,
		reports:  reports,
		logger:   logHandler(logger, "admin"),
	}
}

func (h *AdminHandler) admin(w http.ResponseWriter, r *http.Request) bool {
	user, ok := actor(w, r)
	if !ok {
		return false
	}
	if !user.Admin {
		writeError(w, http.StatusForbidden, domain.ErrUnauthorized.Error())
		return false
	}
	return true
}

// ListDisputes returns the disputes still waiting for a resolution.
// GET /api/admin/disputes
func (h *AdminHandler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	disputes, err := h.disputes.ListOpen(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out := make([]disputeView, 0, len(disputes))
	for _, d := range disputes {
		out = append(out, newDisputeView(d))
	}
	writeJSON(w, http.StatusOK, out)
}

type auditView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAudit returns the audit log, newest first.
// GET /api/admin/audit
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuditViews(entries))
}

// OrderHistory returns the audit trail of one order, oldest first.
// GET /api/admin/orders/{id}/audit
func (h *AdminHandler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	entries, err := h.audit.ListByOrder(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuditViews(entries))
}

func newAuditViews(entries []domain.AuditEntry) []auditView {
	out := make([]auditView, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditView{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	return out
}

// ListReports lists archived financial reports, newest first.
// GET /api/admin/reports
func (h *AdminHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report archive not configured")
		return
	}
	infos, err := h.reports.ListReports(r.Context(), parseListOpts(r).Limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	type reportInfo struct {
		Path         string    `json:"path"`
		Size         int64     `json:"size"`
		LastModified time.Time `json:"last_modified"`
	}
	out := make([]reportInfo, 0, len(infos))
	for _, i := range infos {
		out = append(out, reportInfo{Path: i.Path, Size: i.Size, LastModified: i.LastModified})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetReport returns one archived report.
// GET /api/admin/reports/{path...}
func (h *AdminHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report archive not configured")
		return
	}
	report, err := h.reports.GetReport(r.Context(), pathParam(r, "path"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
