package server

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"dpdpshield/internal/domain"
	"dpdpshield/internal/incident"
	"dpdpshield/internal/ledger"
	"dpdpshield/internal/otp"
	"dpdpshield/internal/settings"
	"dpdpshield/internal/util"
)

func (s *Server) handleCustomers(w http.ResponseWriter, r *http.Request, _ string) {
	switch r.Method {
	case http.MethodGet:
		s.handleListCustomers(w)
	case http.MethodPost:
		s.handleCreateCustomer(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListCustomers(w http.ResponseWriter) {
	rows, err := s.store.ReadAll(domain.TableCustomers)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]domain.Customer, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.CustomerFromRecord(row))
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": out, "count": len(out)})
}

type createCustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (s *Server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	now := domain.Timestamp(domain.Now())
	c := domain.Customer{
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Phone:     strings.TrimSpace(req.Phone),
		Status:    domain.CustomerActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec := c.Record()
	id, err := s.store.AppendWithGeneratedID(domain.TableCustomers, "customer_id", "CUST-", 4, rec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	c.CustomerID = id
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleCustomerByID(w http.ResponseWriter, r *http.Request, _ string) {
	id := strings.ToUpper(path.Base(r.URL.Path))
	cust, ok, err := s.findCustomer(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, cust)
	case http.MethodPut:
		s.handleUpdateCustomer(w, r, cust)
	case http.MethodDelete:
		s.handleSoftDeleteCustomer(w, cust)
	default:
		methodNotAllowed(w)
	}
}

// handleUpdateCustomer patches the contact fields of a customer record.
// Lifecycle fields stay system-owned.
func (s *Server) handleUpdateCustomer(w http.ResponseWriter, r *http.Request, cust domain.Customer) {
	var req createCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cust.Status == domain.CustomerDeleted {
		writeError(w, http.StatusConflict, "customer "+cust.CustomerID+" is deleted")
		return
	}
	patch := map[string]string{}
	for field, value := range map[string]string{
		"name":  req.Name,
		"email": req.Email,
		"phone": req.Phone,
	} {
		if v := strings.TrimSpace(value); v != "" {
			patch[field] = v
		}
	}
	if len(patch) == 0 {
		writeError(w, http.StatusBadRequest, "no updatable fields supplied")
		return
	}
	patch["updated_at"] = domain.Timestamp(domain.Now())
	if _, err := s.store.UpdateWhere(domain.TableCustomers, "customer_id", cust.CustomerID, patch); err != nil {
		writeDomainError(w, err)
		return
	}
	updated, _, err := s.findCustomer(cust.CustomerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleSoftDeleteCustomer marks the record deleted and redacts its PII.
// Deleting an already-deleted customer is a no-op with the same response.
func (s *Server) handleSoftDeleteCustomer(w http.ResponseWriter, cust domain.Customer) {
	if cust.Status != domain.CustomerDeleted {
		patch := map[string]string{
			"status":     domain.CustomerDeleted,
			"name":       domain.Redacted,
			"email":      domain.Redacted,
			"phone":      domain.Redacted,
			"updated_at": domain.Timestamp(domain.Now()),
		}
		if _, err := s.store.UpdateWhere(domain.TableCustomers, "customer_id", cust.CustomerID, patch); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"customer_id": cust.CustomerID,
		"status":      domain.CustomerDeleted,
	})
}

func (s *Server) findCustomer(id string) (domain.Customer, bool, error) {
	rows, err := s.store.ReadAll(domain.TableCustomers)
	if err != nil {
		return domain.Customer{}, false, err
	}
	for _, row := range rows {
		if row["customer_id"] == id {
			return domain.CustomerFromRecord(row), true, nil
		}
	}
	return domain.Customer{}, false, nil
}

func (s *Server) handleBreachStatus(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	inc, err := s.engine.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleBreachTrigger(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var params incident.TriggerParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inc, err := s.engine.Trigger(r.Context(), params)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleBreachContain(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	inc, err := s.engine.ConfirmContainment(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleBreachDPBNotice(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	rec, err := s.engine.GenerateDPBNotice(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type notifyUsersRequest struct {
	Channel string `json:"channel"`
}

func (s *Server) handleBreachNotifyUsers(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req notifyUsersRequest
	// Body is optional; default channel is EMAIL.
	_ = decodeJSON(r, &req)
	res, err := s.engine.NotifyUsers(r.Context(), strings.ToUpper(strings.TrimSpace(req.Channel)))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBreachClose(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	rec, err := s.engine.Close(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleBreachReset(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.engine.Reset(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleMailReplies(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rows, err := s.pipeline.ListRequests()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": rows, "count": len(rows)})
}

func (s *Server) handleProcessEmail(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var msg domain.InboundMessage
	if err := decodeJSON(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(msg.FromEmail) == "" {
		writeError(w, http.StatusBadRequest, "from_email is required")
		return
	}
	res, err := s.pipeline.ProcessInbound(r.Context(), msg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type verifyOTPRequest struct {
	RequestID string `json:"request_id"`
	OTP       string `json:"otp"`
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.verifyLimiter != nil && !s.verifyLimiter.Allow(util.ClientIP(r, s.trusted)) {
		writeError(w, http.StatusTooManyRequests, "too many verification attempts")
		return
	}
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.pipeline.VerifyOTP(r.Context(), req.RequestID, req.OTP)
	if errors.Is(err, otp.ErrInvalidCode) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":              "invalid otp code",
			"remaining_attempts": res.RemainingAttempts,
		})
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type applyCorrectionRequest struct {
	RequestID  string            `json:"request_id"`
	CustomerID string            `json:"customer_id"`
	Fields     map[string]string `json:"fields"`
}

func (s *Server) handleApplyCorrection(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req applyCorrectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.pipeline.ApplyCorrection(r.Context(), req.RequestID,
		strings.ToUpper(strings.TrimSpace(req.CustomerID)), req.Fields)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleConnectionStatus(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"smtp": s.notifier.ConnectionOK(r.Context()),
	})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rows, err := s.ledger.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": rows, "count": len(rows)})
}

// handleAuditReport generates an on-demand audit report for the current
// incident, also after closure.
func (s *Server) handleAuditReport(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	inc, err := s.engine.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if inc.IncidentID == "" {
		writeError(w, http.StatusNotFound, "no incident on record")
		return
	}
	art, err := s.renderer.AuditReport(inc, inc.Timeline)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rec, err := s.ledger.RecordArtifact(domain.ReportAuditReport,
		ledger.Linkage{IncidentID: inc.IncidentID},
		"SELF_DOWNLOAD", domain.ChannelDownloadOnly, art.Bytes, art.Filename,
		"On-demand audit report")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDownloadPDF serves a ledgered artifact and records the download.
func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filename := path.Base(r.URL.Path)
	rec, ok, err := s.ledger.FindByFilename(filename)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	filePath, err := s.renderer.Open(rec.PDFFilename)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.ledger.MarkDownloaded(rec.ReportID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+rec.PDFFilename+`"`)
	http.ServeFile(w, r, filePath)
}

// handleDownloadCSV streams one of the durable tables as CSV.
func (s *Server) handleDownloadCSV(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	table := strings.TrimSuffix(path.Base(r.URL.Path), ".csv")
	switch table {
	case domain.TableCustomers, domain.TableMailReplies, domain.TableAdminAccess, domain.TableReportsSent:
	default:
		writeError(w, http.StatusNotFound, "table not found")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+table+`.csv"`)
	http.ServeFile(w, r, s.store.Path(table))
}

func (s *Server) handleAttackVector(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	analysis, err := s.analyzer.Analyze(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleAttackVectorPDF(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	rec, analysis, err := s.analyzer.Report(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": rec, "analysis": analysis})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, _ string) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.settings.Get(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		var cfg settings.Settings
		if err := decodeJSON(r, &cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := s.settings.Put(r.Context(), cfg); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		methodNotAllowed(w)
	}
}

type dashboardStats struct {
	Customers struct {
		Total   int `json:"total"`
		Active  int `json:"active"`
		Deleted int `json:"deleted"`
	} `json:"customers"`
	Requests struct {
		Total     int `json:"total"`
		Pending   int `json:"pending"`
		Completed int `json:"completed"`
		NeedsInfo int `json:"needs_info"`
		Failed    int `json:"failed"`
	} `json:"requests"`
	Reports struct {
		Total      int `json:"total"`
		Downloaded int `json:"downloaded"`
	} `json:"reports"`
	Breach struct {
		Active     bool   `json:"active"`
		IncidentID string `json:"incident_id"`
		Step       int    `json:"step"`
	} `json:"breach"`
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var stats dashboardStats

	customers, err := s.store.ReadAll(domain.TableCustomers)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	stats.Customers.Total = len(customers)
	for _, row := range customers {
		switch row["status"] {
		case domain.CustomerActive:
			stats.Customers.Active++
		case domain.CustomerDeleted:
			stats.Customers.Deleted++
		}
	}

	requests, err := s.pipeline.ListRequests()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	stats.Requests.Total = len(requests)
	for _, row := range requests {
		switch row["action_status"] {
		case domain.ActionPending:
			stats.Requests.Pending++
		case domain.ActionCompleted:
			stats.Requests.Completed++
		case domain.ActionNeedsInfo:
			stats.Requests.NeedsInfo++
		case domain.ActionFailed:
			stats.Requests.Failed++
		}
	}

	reports, err := s.ledger.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	stats.Reports.Total = len(reports)
	for _, rec := range reports {
		if rec.DeliveryStatus == domain.DeliveryDownloaded {
			stats.Reports.Downloaded++
		}
	}

	inc, err := s.engine.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	stats.Breach.Active = inc.Active
	stats.Breach.IncidentID = inc.IncidentID
	stats.Breach.Step = inc.Step

	writeJSON(w, http.StatusOK, stats)
}

// handleEvidenceTimeline returns the incident timeline together with the
// ledger rows generated for it, for the evidence view.
func (s *Server) handleEvidenceTimeline(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	inc, err := s.engine.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	reports, err := s.ledger.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	linked := make([]domain.ReportRecord, 0, len(reports))
	for _, rec := range reports {
		if inc.IncidentID != "" && rec.IncidentID == inc.IncidentID {
			linked = append(linked, rec)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id": inc.IncidentID,
		"timeline":    inc.Timeline,
		"reports":     linked,
	})
}
