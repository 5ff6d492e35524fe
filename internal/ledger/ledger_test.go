package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"dpdpshield/internal/domain"
	"dpdpshield/internal/tabstore"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	store, err := tabstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	l, err := New(store)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l
}

func TestRecordArtifactHashAndGlobalCounter(t *testing.T) {
	l := newTestLedger(t)
	content := []byte("%PDF-1.4 fake artifact")

	rec, err := l.RecordArtifact(domain.ReportDPBNotice, Linkage{IncidentID: "INC-123"},
		"dpb@example.gov", domain.ChannelDownloadOnly, content, "dpb_notice_1.pdf", "DPB Notice generated")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.ReportID != "REP-000001" {
		t.Fatalf("expected REP-000001, got %s", rec.ReportID)
	}
	sum := sha256.Sum256(content)
	if rec.PDFSHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("hash mismatch: %s", rec.PDFSHA256)
	}
	if rec.DeliveryStatus != domain.DeliveryGenerated {
		t.Fatalf("expected GENERATED, got %s", rec.DeliveryStatus)
	}

	// The REP- counter is shared across report types.
	rec2, err := l.RecordArtifact(domain.ReportDataExport, Linkage{CustomerID: "CUST-0001"},
		"a@example.com", domain.ChannelEmail, []byte("other"), "export_1.pdf", "")
	if err != nil {
		t.Fatalf("record second: %v", err)
	}
	if rec2.ReportID != "REP-000002" {
		t.Fatalf("expected REP-000002, got %s", rec2.ReportID)
	}
}

func TestDeliveryTransitionsStopAtTerminal(t *testing.T) {
	l := newTestLedger(t)
	rec, err := l.RecordArtifact(domain.ReportAuditReport, Linkage{}, "SELF_DOWNLOAD",
		domain.ChannelDownloadOnly, []byte("x"), "audit_1.pdf", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := l.MarkSent(rec.ReportID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := l.MarkDownloaded(rec.ReportID); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}
	// Terminal: further transitions are no-ops.
	if err := l.MarkSent(rec.ReportID); err != nil {
		t.Fatalf("mark sent after terminal: %v", err)
	}
	if err := l.MarkDownloaded(rec.ReportID); err != nil {
		t.Fatalf("repeat mark downloaded: %v", err)
	}
	got, ok, err := l.Find(rec.ReportID)
	if err != nil || !ok {
		t.Fatalf("find: ok=%v err=%v", ok, err)
	}
	if got.DeliveryStatus != domain.DeliveryDownloaded {
		t.Fatalf("expected DOWNLOADED, got %s", got.DeliveryStatus)
	}
}

func TestMarkUnknownReportFails(t *testing.T) {
	l := newTestLedger(t)
	if err := l.MarkDownloaded("REP-999999"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindByFilename(t *testing.T) {
	l := newTestLedger(t)
	if _, err := l.RecordArtifact(domain.ReportDataExport, Linkage{}, "a@example.com",
		domain.ChannelEmail, []byte("x"), "export_abc.pdf", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	rec, ok, err := l.FindByFilename("export_abc.pdf")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !ok || rec.ReportType != domain.ReportDataExport {
		t.Fatalf("unexpected lookup result: ok=%v rec=%v", ok, rec)
	}
	if _, ok, _ := l.FindByFilename("nope.pdf"); ok {
		t.Fatalf("expected miss for unknown filename")
	}
}
