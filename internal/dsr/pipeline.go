package dsr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"dpdpshield/internal/artifact"
	"dpdpshield/internal/domain"
	"dpdpshield/internal/ledger"
	"dpdpshield/internal/notify"
	"dpdpshield/internal/otp"
	"dpdpshield/internal/tabstore"
)

// Fields a correction request may change. Everything else on the customer
// row is system-owned.
var correctableFields = map[string]bool{
	"name":  true,
	"email": true,
	"phone": true,
}

// Pipeline processes inbound data-subject requests end to end. Every inbound
// message gets exactly one mail_replies row; every generated artifact gets a
// ledger row.
type Pipeline struct {
	store    *tabstore.Store
	ledger   *ledger.Ledger
	renderer *artifact.Renderer
	otp      *otp.Store
	notifier notify.Notifier
}

// NewPipeline registers the mail_replies table and wires the pipeline.
func NewPipeline(store *tabstore.Store, led *ledger.Ledger, renderer *artifact.Renderer, otpStore *otp.Store, notifier notify.Notifier) (*Pipeline, error) {
	if err := store.CreateTable(domain.TableMailReplies, domain.MailReplySchema); err != nil {
		return nil, err
	}
	return &Pipeline{
		store:    store,
		ledger:   led,
		renderer: renderer,
		otp:      otpStore,
		notifier: notifier,
	}, nil
}

// ProcessResult summarizes the intake of one inbound message.
type ProcessResult struct {
	RequestID    string `json:"request_id"`
	CustomerID   string `json:"customer_id"`
	Intent       string `json:"intent"`
	OTPStatus    string `json:"otp_status"`
	ActionStatus string `json:"action_status"`
	Note         string `json:"note,omitempty"`
}

// ProcessInbound classifies one inbound message, records it and, for a
// well-formed request, issues an OTP challenge to the customer's registered
// email address. The sender's address is never trusted for OTP delivery.
func (p *Pipeline) ProcessInbound(ctx context.Context, msg domain.InboundMessage) (ProcessResult, error) {
	requestID := newRequestID()
	intent := ClassifyIntent(msg.Subject, msg.Body)
	customerID := ExtractCustomerID(msg.Subject + " " + msg.Body)
	receivedAt := msg.ReceivedAt
	if receivedAt == "" {
		receivedAt = domain.Timestamp(domain.Now())
	}

	row := map[string]string{
		"request_id":  requestID,
		"received_at": receivedAt,
		"from_email":  msg.FromEmail,
		"subject":     msg.Subject,
		"body":        msg.Body,
		"customer_id": customerID,
		"intent":      intent,
		"otp_status":  domain.OTPNotSent,
	}

	finish := func(otpStatus, actionStatus, note string) (ProcessResult, error) {
		row["otp_status"] = otpStatus
		row["action_status"] = actionStatus
		row["notes"] = note
		if err := p.store.Append(domain.TableMailReplies, row); err != nil {
			return ProcessResult{}, err
		}
		slog.Info("inbound request recorded",
			"request_id", requestID, "intent", intent,
			"customer_id", customerID, "action_status", actionStatus)
		return ProcessResult{
			RequestID:    requestID,
			CustomerID:   customerID,
			Intent:       intent,
			OTPStatus:    otpStatus,
			ActionStatus: actionStatus,
			Note:         note,
		}, nil
	}

	if customerID == "" {
		p.reply(ctx, msg.FromEmail, "Re: "+msg.Subject,
			"<p>We could not find a customer ID in your message. Please resend "+
				"your request quoting your customer ID (format CUST-0000).</p>")
		return finish(domain.OTPNotSent, domain.ActionNeedsInfo, "No customer ID in message")
	}

	cust, ok, err := p.findCustomer(customerID)
	if err != nil {
		return ProcessResult{}, err
	}
	if !ok {
		p.reply(ctx, msg.FromEmail, "Re: "+msg.Subject,
			"<p>We could not match the customer ID "+customerID+" to any record. "+
				"Please check the ID and resend your request.</p>")
		return finish(domain.OTPNotSent, domain.ActionFailed, "Unknown customer "+customerID)
	}
	if cust.Status == domain.CustomerDeleted || cust.Email == "" || cust.Email == domain.Redacted {
		return finish(domain.OTPNotSent, domain.ActionFailed,
			"No deliverable registered email for "+customerID)
	}

	code, err := otp.GenerateCode()
	if err != nil {
		return ProcessResult{}, err
	}
	if _, err := p.otp.Create(ctx, otp.Challenge{
		RequestID:  requestID,
		CustomerID: customerID,
		Code:       code,
		Intent:     intent,
		FromEmail:  msg.FromEmail,
		Subject:    msg.Subject,
		Body:       msg.Body,
	}); err != nil {
		return ProcessResult{}, err
	}

	// OTP always goes to the address on record, not the sender. An unclear
	// intent is resolved after verification, never before the identity check.
	sendErr := p.notifier.Send(ctx, cust.Email,
		"OTP Verification - Request "+requestID,
		fmt.Sprintf("<p>Dear %s,</p>"+
			"<p>We received a %s request for your data. Your verification code is "+
			"<b>%s</b>. It expires in 5 minutes.</p>"+
			"<p>If you did not make this request, ignore this message.</p>",
			cust.Name, intentLabel(intent), code),
		nil)
	now := domain.Timestamp(domain.Now())
	if sendErr != nil {
		slog.Warn("otp delivery failed", "request_id", requestID, "err", sendErr)
		row["otp_sent_at"] = now
		return finish(domain.OTPFailed, domain.ActionPending, "OTP delivery failed")
	}
	row["otp_sent_at"] = now
	row["replied_at"] = now
	return finish(domain.OTPSent, domain.ActionPending, "")
}

// VerifyResult summarizes one verification attempt and, on success, the
// action taken for the request.
type VerifyResult struct {
	RequestID         string               `json:"request_id"`
	CustomerID        string               `json:"customer_id"`
	Intent            string               `json:"intent"`
	Verified          bool                 `json:"verified"`
	RemainingAttempts int                  `json:"remaining_attempts"`
	ActionStatus      string               `json:"action_status"`
	Report            *domain.ReportRecord `json:"report,omitempty"`
}

// VerifyOTP runs the attempt ladder for a submitted code and, once the
// challenge is verified, dispatches the requested action. Expiry and attempt
// exhaustion are written back to the request row.
func (p *Pipeline) VerifyOTP(ctx context.Context, requestID, code string) (VerifyResult, error) {
	ch, remaining, err := p.otp.Verify(ctx, requestID, code)
	switch {
	case err == nil:
		// fall through to dispatch
	case errors.Is(err, domain.ErrTooManyAttempts):
		p.patchRequest(requestID, map[string]string{
			"otp_status":    domain.OTPFailed,
			"action_status": domain.ActionFailed,
			"notes":         "Maximum verification attempts exceeded",
		})
		return VerifyResult{RequestID: requestID}, err
	case errors.Is(err, domain.ErrExpired):
		p.patchRequest(requestID, map[string]string{
			"otp_status":    domain.OTPExpired,
			"action_status": domain.ActionFailed,
			"notes":         "OTP expired before verification",
		})
		return VerifyResult{RequestID: requestID}, err
	case errors.Is(err, otp.ErrInvalidCode):
		return VerifyResult{RequestID: requestID, RemainingAttempts: remaining}, err
	default:
		return VerifyResult{}, err
	}

	now := domain.Timestamp(domain.Now())
	p.patchRequest(requestID, map[string]string{
		"otp_status":      domain.OTPVerified,
		"otp_verified_at": now,
	})
	slog.Info("otp verified", "request_id", requestID,
		"customer_id", ch.CustomerID, "intent", ch.Intent)

	res := VerifyResult{
		RequestID:         requestID,
		CustomerID:        ch.CustomerID,
		Intent:            ch.Intent,
		Verified:          true,
		RemainingAttempts: remaining,
	}
	switch ch.Intent {
	case domain.IntentShow:
		rec, err := p.fulfillShow(ctx, ch)
		if err != nil {
			return VerifyResult{}, err
		}
		res.ActionStatus = domain.ActionCompleted
		res.Report = &rec
	case domain.IntentDelete:
		rec, err := p.fulfillDelete(ctx, ch)
		if err != nil {
			return VerifyResult{}, err
		}
		res.ActionStatus = domain.ActionCompleted
		res.Report = &rec
	case domain.IntentCorrect:
		p.patchRequest(requestID, map[string]string{
			"action_status": domain.ActionNeedsInfo,
			"notes":         "Awaiting correction details",
		})
		res.ActionStatus = domain.ActionNeedsInfo
	default:
		p.patchRequest(requestID, map[string]string{
			"action_status": domain.ActionNeedsInfo,
			"notes":         "Intent unclear after verification",
		})
		res.ActionStatus = domain.ActionNeedsInfo
	}
	return res, nil
}

// fulfillShow renders the data export, records it and delivers it to the
// customer's registered address.
func (p *Pipeline) fulfillShow(ctx context.Context, ch otp.Challenge) (domain.ReportRecord, error) {
	cust, ok, err := p.findCustomer(ch.CustomerID)
	if err != nil {
		return domain.ReportRecord{}, err
	}
	if !ok {
		return domain.ReportRecord{}, fmt.Errorf("%w: customer %s", domain.ErrNotFound, ch.CustomerID)
	}
	art, err := p.renderer.DataExport(cust)
	if err != nil {
		return domain.ReportRecord{}, err
	}
	rec, err := p.ledger.RecordArtifact(domain.ReportDataExport,
		ledger.Linkage{RequestID: ch.RequestID, CustomerID: ch.CustomerID},
		cust.Email, domain.ChannelEmail, art.Bytes, art.Filename,
		"Data export for verified access request")
	if err != nil {
		return domain.ReportRecord{}, err
	}
	if err := p.deliver(ctx, rec.ReportID, cust.Email,
		"Your Personal Data Export - "+ch.RequestID,
		"<p>Dear "+cust.Name+",</p><p>Your verified data access request has been "+
			"fulfilled. Your data export is attached.</p>", art); err == nil {
		rec.DeliveryStatus = domain.DeliverySent
	}
	now := domain.Timestamp(domain.Now())
	p.patchRequest(ch.RequestID, map[string]string{
		"action_taken":  "DATA_EXPORTED",
		"action_status": domain.ActionCompleted,
		"replied_at":    now,
		"pdf_files":     art.Filename,
	})
	return rec, nil
}

// fulfillDelete issues the deletion certificate first, while the original
// field values are still on record, then soft-deletes the customer row.
func (p *Pipeline) fulfillDelete(ctx context.Context, ch otp.Challenge) (domain.ReportRecord, error) {
	cust, ok, err := p.findCustomer(ch.CustomerID)
	if err != nil {
		return domain.ReportRecord{}, err
	}
	if !ok {
		return domain.ReportRecord{}, fmt.Errorf("%w: customer %s", domain.ErrNotFound, ch.CustomerID)
	}
	art, err := p.renderer.DeletionCertificate(ch.CustomerID, []string{"name", "email", "phone"})
	if err != nil {
		return domain.ReportRecord{}, err
	}
	rec, err := p.ledger.RecordArtifact(domain.ReportDeletionCertificate,
		ledger.Linkage{RequestID: ch.RequestID, CustomerID: ch.CustomerID},
		cust.Email, domain.ChannelEmail, art.Bytes, art.Filename,
		"Deletion certificate for verified erasure request")
	if err != nil {
		return domain.ReportRecord{}, err
	}
	if err := p.deliver(ctx, rec.ReportID, cust.Email,
		"Certificate of Data Deletion - "+ch.RequestID,
		"<p>Dear "+cust.Name+",</p><p>Your verified deletion request has been "+
			"fulfilled. The attached certificate confirms the erasure.</p>", art); err == nil {
		rec.DeliveryStatus = domain.DeliverySent
	}

	now := domain.Timestamp(domain.Now())
	if _, err := p.store.UpdateWhere(domain.TableCustomers, "customer_id", ch.CustomerID,
		map[string]string{
			"status":     domain.CustomerDeleted,
			"name":       domain.Redacted,
			"email":      domain.Redacted,
			"phone":      domain.Redacted,
			"updated_at": now,
		}); err != nil {
		return domain.ReportRecord{}, err
	}
	slog.Info("customer soft-deleted", "customer_id", ch.CustomerID, "request_id", ch.RequestID)

	p.patchRequest(ch.RequestID, map[string]string{
		"action_taken":  "DATA_DELETED",
		"action_status": domain.ActionCompleted,
		"replied_at":    now,
		"pdf_files":     art.Filename,
	})
	return rec, nil
}

// ApplyCorrection applies the supplied field changes to a customer after a
// verified correction request and issues the before/after confirmation.
func (p *Pipeline) ApplyCorrection(ctx context.Context, requestID, customerID string, fields map[string]string) (domain.ReportRecord, error) {
	req, ok, err := p.findRequest(requestID)
	if err != nil {
		return domain.ReportRecord{}, err
	}
	if !ok {
		return domain.ReportRecord{}, fmt.Errorf("%w: request %s", domain.ErrNotFound, requestID)
	}
	if req["intent"] != domain.IntentCorrect || req["otp_status"] != domain.OTPVerified {
		return domain.ReportRecord{}, fmt.Errorf("%w: request %s is not a verified correction request",
			domain.ErrInvalidState, requestID)
	}

	patch := map[string]string{}
	for k, v := range fields {
		if correctableFields[k] && strings.TrimSpace(v) != "" {
			patch[k] = v
		}
	}
	if len(patch) == 0 {
		return domain.ReportRecord{}, fmt.Errorf("%w: no correctable fields supplied", domain.ErrValidation)
	}

	before, ok, err := p.findCustomer(customerID)
	if err != nil {
		return domain.ReportRecord{}, err
	}
	if !ok {
		return domain.ReportRecord{}, fmt.Errorf("%w: customer %s", domain.ErrNotFound, customerID)
	}
	if before.Status == domain.CustomerDeleted {
		return domain.ReportRecord{}, fmt.Errorf("%w: customer %s is deleted", domain.ErrInvalidState, customerID)
	}

	now := domain.Timestamp(domain.Now())
	patch["updated_at"] = now
	if _, err := p.store.UpdateWhere(domain.TableCustomers, "customer_id", customerID, patch); err != nil {
		return domain.ReportRecord{}, err
	}
	after, _, err := p.findCustomer(customerID)
	if err != nil {
		return domain.ReportRecord{}, err
	}

	art, err := p.renderer.CorrectionConfirmation(customerID, before, after)
	if err != nil {
		return domain.ReportRecord{}, err
	}
	rec, err := p.ledger.RecordArtifact(domain.ReportCorrectionConfirmation,
		ledger.Linkage{RequestID: requestID, CustomerID: customerID},
		after.Email, domain.ChannelEmail, art.Bytes, art.Filename,
		"Correction confirmation for verified rectification request")
	if err != nil {
		return domain.ReportRecord{}, err
	}
	// Confirmation goes to the possibly corrected address.
	if err := p.deliver(ctx, rec.ReportID, after.Email,
		"Data Correction Confirmation - "+requestID,
		"<p>Dear "+after.Name+",</p><p>Your verified correction request has been "+
			"applied. The attached confirmation shows the changes.</p>", art); err == nil {
		rec.DeliveryStatus = domain.DeliverySent
	}

	p.patchRequest(requestID, map[string]string{
		"action_taken":  "DATA_CORRECTED",
		"action_status": domain.ActionCompleted,
		"replied_at":    now,
		"pdf_files":     art.Filename,
		"notes":         "",
	})
	slog.Info("correction applied", "customer_id", customerID, "request_id", requestID)
	return rec, nil
}

// ListRequests returns all mail_replies rows in insertion order.
func (p *Pipeline) ListRequests() ([]map[string]string, error) {
	return p.store.ReadAll(domain.TableMailReplies)
}

// deliver makes one best-effort delivery and advances the ledger row on
// success. Failure is logged, never propagated.
func (p *Pipeline) deliver(ctx context.Context, reportID, to, subject, body string, art artifact.Artifact) error {
	err := p.notifier.Send(ctx, to, subject, body,
		[]notify.Attachment{{Filename: art.Filename, Content: art.Bytes}})
	if err != nil {
		slog.Warn("artifact delivery failed", "report_id", reportID, "err", err)
		return err
	}
	return p.ledger.MarkSent(reportID)
}

// reply sends a plain informational reply. Best effort.
func (p *Pipeline) reply(ctx context.Context, to, subject, body string) {
	if err := p.notifier.Send(ctx, to, subject, body, nil); err != nil {
		slog.Warn("reply delivery failed", "to", to, "err", err)
	}
}

func (p *Pipeline) patchRequest(requestID string, patch map[string]string) {
	if _, err := p.store.UpdateWhere(domain.TableMailReplies, "request_id", requestID, patch); err != nil {
		slog.Error("update request row failed", "request_id", requestID, "err", err)
	}
}

func (p *Pipeline) findCustomer(customerID string) (domain.Customer, bool, error) {
	rows, err := p.store.ReadAll(domain.TableCustomers)
	if err != nil {
		return domain.Customer{}, false, err
	}
	for _, row := range rows {
		if row["customer_id"] == customerID {
			return domain.CustomerFromRecord(row), true, nil
		}
	}
	return domain.Customer{}, false, nil
}

func (p *Pipeline) findRequest(requestID string) (map[string]string, bool, error) {
	rows, err := p.store.ReadAll(domain.TableMailReplies)
	if err != nil {
		return nil, false, err
	}
	for _, row := range rows {
		if row["request_id"] == requestID {
			return row, true, nil
		}
	}
	return nil, false, nil
}

func newRequestID() string {
	return "REQ-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
