package domain

import "time"

// Table names used with the record store. Each maps to one durable tabular
// file whose header row is the schema below.
const (
	TableCustomers   = "customers"
	TableMailReplies = "mail_replies"
	TableAdminAccess = "admin_access"
	TableReportsSent = "reports_sent"
)

// Fixed schemas, established at table creation and never altered.
var (
	CustomerSchema = []string{
		"customer_id", "name", "email", "phone", "status", "created_at", "updated_at",
	}
	MailReplySchema = []string{
		"request_id", "received_at", "from_email", "subject", "body",
		"customer_id", "intent", "otp_status", "otp_sent_at", "otp_verified_at",
		"action_taken", "action_status", "replied_at", "pdf_files", "notes",
	}
	AdminAccessSchema = []string{
		"session_id", "admin_email", "login_time", "logout_time", "ip_address", "device",
	}
	ReportsSentSchema = []string{
		"report_id", "generated_at", "generated_by", "report_type",
		"incident_id", "request_id", "customer_id", "recipient",
		"delivery_channel", "delivery_status", "pdf_filename", "pdf_sha256", "notes",
	}
)

// Redacted is written over PII fields when a customer is soft-deleted.
const Redacted = "REDACTED"

// Customer lifecycle status.
const (
	CustomerActive  = "ACTIVE"
	CustomerDeleted = "DELETED"
)

// Intent of a data-subject request, classified from free text.
// Priority order when multiple keyword sets match: Delete > Show > Correct.
const (
	IntentDelete  = "DELETE"
	IntentShow    = "SHOW"
	IntentCorrect = "CORRECT"
	IntentUnknown = "UNKNOWN"
)

// OTP delivery status on an inbound request row.
const (
	OTPNotSent  = "NOT_SENT"
	OTPSent     = "OTP_SENT"
	OTPVerified = "OTP_VERIFIED"
	OTPExpired  = "OTP_EXPIRED"
	OTPFailed   = "FAILED"
)

// Action status of an inbound request.
const (
	ActionNeedsInfo = "NEEDS_INFO"
	ActionFailed    = "FAILED"
	ActionPending   = "PENDING"
	ActionCompleted = "COMPLETED"
)

// Report types recorded in the ledger. A single global REP- counter is
// shared by all of them.
const (
	ReportDPBNotice              = "DPB_NOTICE"
	ReportCustomerBreachNotice   = "CUSTOMER_BREACH_NOTICE"
	ReportAuditReport            = "AUDIT_REPORT"
	ReportDataExport             = "DATA_EXPORT"
	ReportDeletionCertificate    = "DELETION_CERTIFICATE"
	ReportCorrectionConfirmation = "CORRECTION_CONFIRMATION"
	ReportVectorAnalysis         = "VECTOR_ANALYSIS"
)

// Delivery status of a ledger row. Downloaded and Failed are terminal.
const (
	DeliveryGenerated  = "GENERATED"
	DeliverySent       = "SENT"
	DeliveryDelivered  = "DELIVERED"
	DeliveryDownloaded = "DOWNLOADED"
	DeliveryFailed     = "FAILED"
)

// Delivery channels.
const (
	ChannelEmail        = "EMAIL"
	ChannelDownloadOnly = "DOWNLOAD_ONLY"
)

// Customer is one row of the customers table.
type Customer struct {
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// Record converts the customer to a record-store row.
func (c Customer) Record() map[string]string {
	return map[string]string{
		"customer_id": c.CustomerID,
		"name":        c.Name,
		"email":       c.Email,
		"phone":       c.Phone,
		"status":      c.Status,
		"created_at":  c.CreatedAt,
		"updated_at":  c.UpdatedAt,
	}
}

// CustomerFromRecord maps a record-store row back to a Customer.
// Absent fields read as empty strings.
func CustomerFromRecord(rec map[string]string) Customer {
	return Customer{
		CustomerID: rec["customer_id"],
		Name:       rec["name"],
		Email:      rec["email"],
		Phone:      rec["phone"],
		Status:     rec["status"],
		CreatedAt:  rec["created_at"],
		UpdatedAt:  rec["updated_at"],
	}
}

// ReportRecord is one row of the reports_sent ledger table.
type ReportRecord struct {
	ReportID        string `json:"report_id"`
	GeneratedAt     string `json:"generated_at"`
	GeneratedBy     string `json:"generated_by"`
	ReportType      string `json:"report_type"`
	IncidentID      string `json:"incident_id"`
	RequestID       string `json:"request_id"`
	CustomerID      string `json:"customer_id"`
	Recipient       string `json:"recipient"`
	DeliveryChannel string `json:"delivery_channel"`
	DeliveryStatus  string `json:"delivery_status"`
	PDFFilename     string `json:"pdf_filename"`
	PDFSHA256       string `json:"pdf_sha256"`
	Notes           string `json:"notes"`
}

// ReportFromRecord maps a ledger row back to a ReportRecord.
func ReportFromRecord(rec map[string]string) ReportRecord {
	return ReportRecord{
		ReportID:        rec["report_id"],
		GeneratedAt:     rec["generated_at"],
		GeneratedBy:     rec["generated_by"],
		ReportType:      rec["report_type"],
		IncidentID:      rec["incident_id"],
		RequestID:       rec["request_id"],
		CustomerID:      rec["customer_id"],
		Recipient:       rec["recipient"],
		DeliveryChannel: rec["delivery_channel"],
		DeliveryStatus:  rec["delivery_status"],
		PDFFilename:     rec["pdf_filename"],
		PDFSHA256:       rec["pdf_sha256"],
		Notes:           rec["notes"],
	}
}

// TimelineEvent is an append-only entry on the incident timeline.
// Entries are ordered strictly by append time and never reordered.
type TimelineEvent struct {
	Time  string `json:"time"`
	Event string `json:"event"`
	Type  string `json:"type"`
}

// Incident is the single current breach-incident document. It lives in the
// state store (redis), not in a table, and is mutated only through the
// incident engine.
type Incident struct {
	Active               bool            `json:"active"`
	IncidentID           string          `json:"incident_id"`
	DiscoveryTime        string          `json:"discovery_time"`
	Nature               string          `json:"nature"`
	Systems              string          `json:"systems"`
	Categories           string          `json:"categories"`
	AffectedCount        int             `json:"affected_count"`
	Description          string          `json:"description"`
	Step                 int             `json:"step"`
	ContainmentConfirmed bool            `json:"containment_confirmed"`
	DPBSent              bool            `json:"dpb_sent"`
	UsersNotified        bool            `json:"users_notified"`
	Closed               bool            `json:"closed"`
	ClosedAt             string          `json:"closed_at"`
	Timeline             []TimelineEvent `json:"timeline"`
}

// Incident lifecycle steps.
const (
	StepInactive      = 0
	StepTriggered     = 1
	StepContained     = 2
	StepDPBNotified   = 3
	StepUsersNotified = 4
	StepClosed        = 5
)

// InboundMessage is one message yielded by the inbound message source.
// This core does not poll or parse raw mail transport.
type InboundMessage struct {
	ID         string `json:"id"`
	FromEmail  string `json:"from_email"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ReceivedAt string `json:"received_at"`
}

// Now returns the current UTC time. All timestamps in the system are stored
// and compared in UTC (RFC 3339).
func Now() time.Time {
	return time.Now().UTC()
}

// Timestamp renders t in the stored wire format.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
