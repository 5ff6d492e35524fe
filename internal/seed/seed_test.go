package seed

import (
	"testing"

	"dpdpshield/internal/artifact"
	"dpdpshield/internal/domain"
	"dpdpshield/internal/ledger"
	"dpdpshield/internal/tabstore"
)

func newStore(t *testing.T) *tabstore.Store {
	t.Helper()
	store, err := tabstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("tabstore: %v", err)
	}
	if err := store.CreateTable(domain.TableCustomers, domain.CustomerSchema); err != nil {
		t.Fatalf("create customers: %v", err)
	}
	return store
}

func TestCustomersSeedsThirtyAndIsIdempotent(t *testing.T) {
	store := newStore(t)
	if err := Customers(store, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rows, err := store.ReadAll(domain.TableCustomers)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != DefaultCustomerCount {
		t.Fatalf("expected %d customers, got %d", DefaultCustomerCount, len(rows))
	}
	if rows[0]["customer_id"] != "CUST-0001" || rows[29]["customer_id"] != "CUST-0030" {
		t.Fatalf("unexpected id range: %s .. %s", rows[0]["customer_id"], rows[29]["customer_id"])
	}
	for _, row := range rows {
		if row["status"] != domain.CustomerActive || row["email"] == "" || row["name"] == "" {
			t.Fatalf("incomplete seeded row: %+v", row)
		}
	}

	if err := Customers(store, 0); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	rows, _ = store.ReadAll(domain.TableCustomers)
	if len(rows) != DefaultCustomerCount {
		t.Fatalf("reseed grew the table to %d rows", len(rows))
	}
}

func TestCustomersTopsUpExistingBase(t *testing.T) {
	store := newStore(t)
	if err := store.Append(domain.TableCustomers, domain.Customer{
		CustomerID: "CUST-0001", Name: "Existing User",
		Email: "existing@example.com", Status: domain.CustomerActive,
	}.Record()); err != nil {
		t.Fatalf("seed existing: %v", err)
	}
	if err := Customers(store, 5); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rows, _ := store.ReadAll(domain.TableCustomers)
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	if rows[0]["name"] != "Existing User" {
		t.Fatalf("existing row was altered: %+v", rows[0])
	}
}

func TestSampleIncidentSeedsTwoLedgerRowsOnce(t *testing.T) {
	store := newStore(t)
	led, err := ledger.New(store)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	renderer, err := artifact.NewRenderer(t.TempDir())
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	if err := SampleIncident(led, renderer); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rows, err := led.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(rows))
	}
	if rows[0].ReportType != domain.ReportDPBNotice || rows[0].DeliveryStatus != domain.DeliveryDelivered {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].ReportType != domain.ReportAuditReport || rows[1].DeliveryStatus != domain.DeliveryDownloaded {
		t.Fatalf("unexpected second row: %+v", rows[1])
	}
	// Seeded artifacts actually exist on disk.
	for _, rec := range rows {
		if _, err := renderer.Open(rec.PDFFilename); err != nil {
			t.Fatalf("artifact %s missing: %v", rec.PDFFilename, err)
		}
	}

	if err := SampleIncident(led, renderer); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	rows, _ = led.List()
	if len(rows) != 2 {
		t.Fatalf("reseed grew the ledger to %d rows", len(rows))
	}
}
