// Package ledger wraps the reports_sent table: one immutable row per
// generated artifact, carrying a content hash for tamper evidence.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"dpdpshield/internal/domain"
	"dpdpshield/internal/tabstore"
)

// Linkage ties a ledger row to the incident, request and customer it was
// generated for. All fields are optional.
type Linkage struct {
	IncidentID string
	RequestID  string
	CustomerID string
}

// Ledger records generated artifacts in the reports_sent table. Report IDs
// share a single global REP- counter across all report types.
type Ledger struct {
	store *tabstore.Store
}

// New registers the reports_sent table and returns the ledger.
func New(store *tabstore.Store) (*Ledger, error) {
	if err := store.CreateTable(domain.TableReportsSent, domain.ReportsSentSchema); err != nil {
		return nil, err
	}
	return &Ledger{store: store}, nil
}

// RecordArtifact computes the content hash of the artifact bytes and appends
// a GENERATED row under the next report ID. ID generation and append happen
// in one critical section of the record store.
func (l *Ledger) RecordArtifact(reportType string, link Linkage, recipient, channel string, content []byte, filename, notes string) (domain.ReportRecord, error) {
	sum := sha256.Sum256(content)
	rec := domain.ReportRecord{
		GeneratedAt:     domain.Timestamp(domain.Now()),
		GeneratedBy:     "SYSTEM",
		ReportType:      reportType,
		IncidentID:      link.IncidentID,
		RequestID:       link.RequestID,
		CustomerID:      link.CustomerID,
		Recipient:       recipient,
		DeliveryChannel: channel,
		DeliveryStatus:  domain.DeliveryGenerated,
		PDFFilename:     filename,
		PDFSHA256:       hex.EncodeToString(sum[:]),
		Notes:           notes,
	}
	row := map[string]string{
		"generated_at":     rec.GeneratedAt,
		"generated_by":     rec.GeneratedBy,
		"report_type":      rec.ReportType,
		"incident_id":      rec.IncidentID,
		"request_id":       rec.RequestID,
		"customer_id":      rec.CustomerID,
		"recipient":        rec.Recipient,
		"delivery_channel": rec.DeliveryChannel,
		"delivery_status":  rec.DeliveryStatus,
		"pdf_filename":     rec.PDFFilename,
		"pdf_sha256":       rec.PDFSHA256,
		"notes":            rec.Notes,
	}
	id, err := l.store.AppendWithGeneratedID(domain.TableReportsSent, "report_id", "REP-", 6, row)
	if err != nil {
		return domain.ReportRecord{}, err
	}
	rec.ReportID = id
	return rec, nil
}

// MarkSent advances a row to SENT. No-op once the row is terminal.
func (l *Ledger) MarkSent(reportID string) error {
	return l.setStatus(reportID, domain.DeliverySent)
}

// MarkDelivered advances a row to DELIVERED. No-op once the row is terminal.
func (l *Ledger) MarkDelivered(reportID string) error {
	return l.setStatus(reportID, domain.DeliveryDelivered)
}

// MarkDownloaded moves a row to its terminal DOWNLOADED state. Idempotent.
func (l *Ledger) MarkDownloaded(reportID string) error {
	return l.setStatus(reportID, domain.DeliveryDownloaded)
}

func (l *Ledger) setStatus(reportID, status string) error {
	rec, ok, err := l.Find(reportID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: report %s", domain.ErrNotFound, reportID)
	}
	if isTerminal(rec.DeliveryStatus) || rec.DeliveryStatus == status {
		return nil
	}
	_, err = l.store.UpdateWhere(domain.TableReportsSent, "report_id", reportID,
		map[string]string{"delivery_status": status})
	return err
}

func isTerminal(status string) bool {
	return status == domain.DeliveryDownloaded || status == domain.DeliveryFailed
}

// Find returns the row for a report ID.
func (l *Ledger) Find(reportID string) (domain.ReportRecord, bool, error) {
	rows, err := l.store.ReadAll(domain.TableReportsSent)
	if err != nil {
		return domain.ReportRecord{}, false, err
	}
	for _, row := range rows {
		if row["report_id"] == reportID {
			return domain.ReportFromRecord(row), true, nil
		}
	}
	return domain.ReportRecord{}, false, nil
}

// FindByFilename returns the first row whose artifact filename matches.
func (l *Ledger) FindByFilename(filename string) (domain.ReportRecord, bool, error) {
	rows, err := l.store.ReadAll(domain.TableReportsSent)
	if err != nil {
		return domain.ReportRecord{}, false, err
	}
	for _, row := range rows {
		if row["pdf_filename"] == filename {
			return domain.ReportFromRecord(row), true, nil
		}
	}
	return domain.ReportRecord{}, false, nil
}

// List returns all ledger rows in insertion order.
func (l *Ledger) List() ([]domain.ReportRecord, error) {
	rows, err := l.store.ReadAll(domain.TableReportsSent)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ReportRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.ReportFromRecord(row))
	}
	return out, nil
}
