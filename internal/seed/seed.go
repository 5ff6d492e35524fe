// Package seed populates a fresh installation with demo data: a customer
// base and one closed sample incident with real ledgered artifacts.
// Seeding is idempotent; an already populated store is left untouched.
package seed

import (
	"fmt"
	"log/slog"
	"strings"

	"dpdpshield/internal/artifact"
	"dpdpshield/internal/domain"
	"dpdpshield/internal/ledger"
	"dpdpshield/internal/tabstore"
)

// DefaultCustomerCount is the size of the seeded customer base.
const DefaultCustomerCount = 30

var names = []string{
	"Aarav Sharma", "Priya Patel", "Vivaan Gupta", "Ananya Singh", "Aditya Kumar",
	"Ishita Reddy", "Arjun Nair", "Diya Joshi", "Rohan Mehta", "Kavya Iyer",
	"Sai Prasad", "Neha Banerjee", "Vikram Choudhary", "Pooja Deshmukh", "Rahul Verma",
	"Shreya Bhat", "Karan Malhotra", "Riya Kapoor", "Amit Saxena", "Meera Pillai",
	"Deepak Tiwari", "Sunita Rao", "Manish Agarwal", "Lakshmi Menon", "Rajesh Pandey",
	"Anjali Mishra", "Suresh Kulkarni", "Nisha Chauhan", "Gaurav Sinha", "Divya Thakur",
	"Harish Bhatt", "Swati Dubey", "Nikhil Jain", "Pallavi Hegde", "Vishal Yadav",
}

var phones = []string{
	"9876543210", "9123456789", "9988776655", "9871234567", "9765432100",
	"9654321098", "9543210987", "9432109876", "9321098765", "9210987654",
	"9109876543", "9012345678", "8976543210", "8865432109", "8754321098",
	"8643210987", "8532109876", "8421098765", "8310987654", "8209876543",
	"7998765432", "7887654321", "7776543210", "7665432109", "7554321098",
	"7443210987", "7332109876", "7221098765", "7110987654", "7009876543",
	"6998765432", "6887654321", "6776543210", "6665432109", "6554321098",
}

// Customers tops the customers table up to count rows. Existing rows keep
// their positions and IDs.
func Customers(store *tabstore.Store, count int) error {
	if count <= 0 {
		count = DefaultCustomerCount
	}
	existing, err := store.ReadAll(domain.TableCustomers)
	if err != nil {
		return err
	}
	if len(existing) >= count {
		return nil
	}
	now := domain.Timestamp(domain.Now())
	for i := len(existing); i < count; i++ {
		name := names[i%len(names)]
		email := fmt.Sprintf("%s%d@example.com",
			strings.ReplaceAll(strings.ToLower(name), " ", "."), i)
		c := domain.Customer{
			CustomerID: fmt.Sprintf("CUST-%04d", i+1),
			Name:       name,
			Email:      email,
			Phone:      phones[i%len(phones)],
			Status:     domain.CustomerActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := store.Append(domain.TableCustomers, c.Record()); err != nil {
			return err
		}
	}
	slog.Info("customer base seeded", "count", count)
	return nil
}

// SampleIncident records one closed demo incident in the ledger with real
// rendered artifacts. Skipped when the ledger already holds any row.
func SampleIncident(led *ledger.Ledger, renderer *artifact.Renderer) error {
	rows, err := led.List()
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return nil
	}
	now := domain.Timestamp(domain.Now())
	inc := domain.Incident{
		IncidentID:    "INC-001",
		DiscoveryTime: now,
		Nature:        "Unauthorized access to personal data",
		Systems:       "Customer Database",
		Categories:    "Name, Email, Phone",
		AffectedCount: 30,
		Description:   "Sample closed incident for demo purposes",
		ClosedAt:      now,
	}

	notice, err := renderer.DPBNotice(inc)
	if err != nil {
		return err
	}
	noticeRec, err := led.RecordArtifact(domain.ReportDPBNotice,
		ledger.Linkage{IncidentID: inc.IncidentID},
		"dpb@meity.gov.in", domain.ChannelEmail, notice.Bytes, notice.Filename,
		"Sample closed incident DPB notice")
	if err != nil {
		return err
	}
	if err := led.MarkDelivered(noticeRec.ReportID); err != nil {
		return err
	}

	timeline := []domain.TimelineEvent{
		{Time: now, Event: "Breach discovered", Type: "trigger"},
		{Time: now, Event: "Incident closed", Type: "close"},
	}
	audit, err := renderer.AuditReport(inc, timeline)
	if err != nil {
		return err
	}
	auditRec, err := led.RecordArtifact(domain.ReportAuditReport,
		ledger.Linkage{IncidentID: inc.IncidentID},
		"SELF_DOWNLOAD", domain.ChannelDownloadOnly, audit.Bytes, audit.Filename,
		"Sample closed incident audit report")
	if err != nil {
		return err
	}
	if err := led.MarkDownloaded(auditRec.ReportID); err != nil {
		return err
	}
	slog.Info("sample incident seeded", "incident_id", inc.IncidentID)
	return nil
}
