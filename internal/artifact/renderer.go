// Package artifact renders compliance documents and anchors each one with a
// content hash. Filenames are unique per call; the sha256 recorded in the
// ledger lets any external verifier recompute the hash of a retrieved
// artifact and compare.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"dpdpshield/internal/domain"
)

// Artifact is one rendered document: its bytes, the hex sha256 of those
// bytes and the filename it was persisted under.
type Artifact struct {
	Bytes    []byte
	SHA256   string
	Filename string
}

// Renderer writes rendered artifacts under a base directory.
type Renderer struct {
	dir string
}

// NewRenderer creates the artifact directory if missing.
func NewRenderer(dir string) (*Renderer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("artifact: base directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create artifact dir: %v", domain.ErrStorageUnavailable, err)
	}
	return &Renderer{dir: dir}, nil
}

// Dir returns the artifact base directory.
func (r *Renderer) Dir() string {
	return r.dir
}

// Open resolves a previously rendered artifact by filename. Path traversal
// in the filename resolves to nothing.
func (r *Renderer) Open(filename string) (string, error) {
	clean := filepath.Base(filename)
	path := filepath.Join(r.dir, clean)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: artifact %s", domain.ErrNotFound, clean)
		}
		return "", fmt.Errorf("%w: stat artifact: %v", domain.ErrStorageUnavailable, err)
	}
	return path, nil
}

// DPBNotice renders the Data Protection Board breach notice.
func (r *Renderer) DPBNotice(inc domain.Incident) (Artifact, error) {
	lines := []string{
		"To: Data Protection Board",
		"Subject: Personal Data Breach Notification",
		"",
		"Incident ID: " + inc.IncidentID,
		"Discovery Time: " + inc.DiscoveryTime,
		"Nature of Breach: " + inc.Nature,
		"Affected Systems: " + inc.Systems,
		"Data Categories: " + inc.Categories,
		fmt.Sprintf("Affected Data Principals: %d", inc.AffectedCount),
		"",
		"Description:",
		inc.Description,
		"",
		"This notice is submitted in compliance with breach notification",
		"obligations under the applicable data protection framework.",
	}
	return r.render("dpb_notice", "Data Breach Notification - DPB", lines)
}

// CustomerBreachNotice renders the notice broadcast to affected customers.
func (r *Renderer) CustomerBreachNotice(inc domain.Incident) (Artifact, error) {
	lines := []string{
		"Dear Customer,",
		"",
		"We are writing to inform you of a data security incident that may",
		"have involved your personal information.",
		"",
		"Incident ID: " + inc.IncidentID,
		"Discovered: " + inc.DiscoveryTime,
		"Data Categories Involved: " + inc.Categories,
		"",
		"What we are doing: the incident has been contained and the Data",
		"Protection Board has been notified. We will share further updates",
		"as our investigation progresses.",
		"",
		"What you can do: stay alert for unusual messages that reference",
		"your account details and reach out to our support channel with",
		"any concern.",
	}
	return r.render("customer_notice", "Data Breach Notification", lines)
}

// AuditReport renders the closing audit report summarizing the timeline.
func (r *Renderer) AuditReport(inc domain.Incident, timeline []domain.TimelineEvent) (Artifact, error) {
	lines := []string{
		"Incident ID: " + inc.IncidentID,
		"Discovery Time: " + inc.DiscoveryTime,
		"Nature: " + inc.Nature,
		"Systems: " + inc.Systems,
		"Data Categories: " + inc.Categories,
		fmt.Sprintf("Affected Data Principals: %d", inc.AffectedCount),
		"Closed At: " + inc.ClosedAt,
		"",
		"Response Timeline:",
	}
	for _, ev := range timeline {
		lines = append(lines, fmt.Sprintf("  %s  [%s] %s", ev.Time, ev.Type, ev.Event))
	}
	if len(timeline) == 0 {
		lines = append(lines, "  (no recorded events)")
	}
	return r.render("audit_report", "Incident Audit Report", lines)
}

// DataExport renders a customer's personal data export.
func (r *Renderer) DataExport(c domain.Customer) (Artifact, error) {
	lines := []string{
		"Personal data held on record for " + c.CustomerID + ":",
		"",
		"Customer ID: " + c.CustomerID,
		"Name:        " + c.Name,
		"Email:       " + c.Email,
		"Phone:       " + c.Phone,
		"Status:      " + c.Status,
		"Created At:  " + c.CreatedAt,
		"Updated At:  " + c.UpdatedAt,
		"",
		"This export was generated in response to a verified data access",
		"request.",
	}
	return r.render("data_export", "Personal Data Export", lines)
}

// DeletionCertificate renders the certificate issued before redaction. It is
// generated before the soft delete so it can still reference the original
// field names.
func (r *Renderer) DeletionCertificate(customerID string, deletedFields []string) (Artifact, error) {
	lines := []string{
		"This certifies that the personal data held for customer",
		customerID + " has been erased in response to a verified deletion",
		"request.",
		"",
		"Redacted fields: " + strings.Join(deletedFields, ", "),
		"",
		"The customer record is retained in redacted form for audit",
		"purposes only.",
	}
	return r.render("deletion_certificate", "Certificate of Data Deletion", lines)
}

// CorrectionConfirmation renders a before/after confirmation of a data
// correction.
func (r *Renderer) CorrectionConfirmation(customerID string, before, after domain.Customer) (Artifact, error) {
	lines := []string{
		"Customer ID: " + customerID,
		"",
		"Before correction:",
		"  Name:  " + before.Name,
		"  Email: " + before.Email,
		"  Phone: " + before.Phone,
		"",
		"After correction:",
		"  Name:  " + after.Name,
		"  Email: " + after.Email,
		"  Phone: " + after.Phone,
		"",
		"The above changes were applied in response to a verified",
		"correction request.",
	}
	return r.render("correction_confirmation", "Data Correction Confirmation", lines)
}

// VectorAnalysis renders the attack-vector analysis findings.
func (r *Renderer) VectorAnalysis(likelySource, confidence string, findings []string) (Artifact, error) {
	lines := []string{
		"Likely Source: " + likelySource,
		"Confidence:    " + confidence,
		"",
		"Findings:",
	}
	for _, f := range findings {
		lines = append(lines, "  - "+f)
	}
	return r.render("vector_analysis", "Attack Vector Analysis", lines)
}

func (r *Renderer) render(kind, title string, lines []string) (Artifact, error) {
	data := buildPDF(title, lines)
	sum := sha256.Sum256(data)
	filename := fmt.Sprintf("%s_%s_%s.pdf",
		kind,
		domain.Now().Format("20060102T150405Z"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	if err := os.WriteFile(filepath.Join(r.dir, filename), data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("%w: persist artifact: %v", domain.ErrStorageUnavailable, err)
	}
	return Artifact{
		Bytes:    data,
		SHA256:   hex.EncodeToString(sum[:]),
		Filename: filename,
	}, nil
}
