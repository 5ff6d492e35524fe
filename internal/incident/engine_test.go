package incident

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"dpdpshield/internal/artifact"
	"dpdpshield/internal/domain"
	"dpdpshield/internal/ledger"
	"dpdpshield/internal/notify"
	"dpdpshield/internal/tabstore"
)

type sentMail struct {
	to      string
	subject string
}

type fakeNotifier struct {
	sent   []sentMail
	fail   bool
	onSend func()
}

func (f *fakeNotifier) Send(_ context.Context, to, subject, _ string, _ []notify.Attachment) error {
	if f.onSend != nil {
		f.onSend()
	}
	if f.fail {
		return errors.New("smtp unreachable")
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject})
	return nil
}

func (f *fakeNotifier) ConnectionOK(context.Context) bool { return !f.fail }

func newTestEngine(t *testing.T) (*Engine, *fakeNotifier, *ledger.Ledger) {
	t.Helper()
	r := miniredis.RunT(t)
	state, err := NewStateStore(r.Addr(), "")
	if err != nil {
		t.Fatalf("state store: %v", err)
	}
	store, err := tabstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("tabstore: %v", err)
	}
	if err := store.CreateTable(domain.TableCustomers, domain.CustomerSchema); err != nil {
		t.Fatalf("create customers: %v", err)
	}
	for _, c := range []domain.Customer{
		{CustomerID: "CUST-0001", Name: "Aarav Sharma", Email: "aarav@example.com", Status: domain.CustomerActive},
		{CustomerID: "CUST-0002", Name: "Priya Patel", Email: "priya@example.com", Status: domain.CustomerActive},
		{CustomerID: "CUST-0003", Name: domain.Redacted, Email: domain.Redacted, Status: domain.CustomerDeleted},
	} {
		if err := store.Append(domain.TableCustomers, c.Record()); err != nil {
			t.Fatalf("seed customer: %v", err)
		}
	}
	led, err := ledger.New(store)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	renderer, err := artifact.NewRenderer(t.TempDir())
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	fn := &fakeNotifier{}
	return NewEngine(state, store, led, renderer, fn), fn, led
}

func triggerParams() TriggerParams {
	return TriggerParams{
		Nature:        "Unauthorized access to personal data",
		Systems:       "Customer Database, Email Server",
		Categories:    "Name, Email, Phone Number",
		AffectedCount: 5,
		Description:   "A potential data breach has been detected.",
	}
}

func TestTriggerGuardsActiveIncident(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	inc, err := e.Trigger(ctx, triggerParams())
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !inc.Active || inc.Step != domain.StepTriggered || inc.IncidentID == "" {
		t.Fatalf("unexpected incident after trigger: %+v", inc)
	}
	if _, err := e.Trigger(ctx, triggerParams()); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state on double trigger, got %v", err)
	}
}

func TestStepsRequireActiveIncident(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.ConfirmContainment(ctx); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("contain: expected invalid state, got %v", err)
	}
	if _, err := e.GenerateDPBNotice(ctx); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("dpb: expected invalid state, got %v", err)
	}
	if _, err := e.NotifyUsers(ctx, domain.ChannelEmail); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("notify: expected invalid state, got %v", err)
	}
	if _, err := e.Close(ctx); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("close: expected invalid state, got %v", err)
	}
}

func TestFullLifecycleProducesThreeLedgerRows(t *testing.T) {
	e, fn, led := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Trigger(ctx, triggerParams()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := e.ConfirmContainment(ctx); err != nil {
		t.Fatalf("contain: %v", err)
	}
	if _, err := e.GenerateDPBNotice(ctx); err != nil {
		t.Fatalf("dpb notice: %v", err)
	}
	res, err := e.NotifyUsers(ctx, domain.ChannelEmail)
	if err != nil {
		t.Fatalf("notify users: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("expected 2 active customers, got %d", res.Count)
	}
	if !res.RealEmailSent || len(fn.sent) != 1 || fn.sent[0].to != "aarav@example.com" {
		t.Fatalf("expected one real notification to first active customer, got %+v", fn.sent)
	}
	if _, err := e.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows, err := led.List()
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 ledger rows, got %d", len(rows))
	}
	wantTypes := []string{
		domain.ReportDPBNotice,
		domain.ReportCustomerBreachNotice,
		domain.ReportAuditReport,
	}
	for i, want := range wantTypes {
		if rows[i].ReportType != want {
			t.Fatalf("ledger row %d: expected %s, got %s", i, want, rows[i].ReportType)
		}
	}

	inc, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if inc.Active || !inc.Closed || inc.Step != domain.StepClosed {
		t.Fatalf("unexpected final state: %+v", inc)
	}
	closeEvents := 0
	for _, ev := range inc.Timeline {
		if ev.Type == "close" {
			closeEvents++
		}
	}
	if closeEvents != 1 {
		t.Fatalf("expected exactly one close event, got %d", closeEvents)
	}
	if inc.Timeline[len(inc.Timeline)-1].Type != "close" {
		t.Fatalf("close event must be last, got %+v", inc.Timeline)
	}
}

func TestDeliveryFailureDoesNotAbortNotify(t *testing.T) {
	e, fn, _ := newTestEngine(t)
	fn.fail = true
	ctx := context.Background()

	if _, err := e.Trigger(ctx, triggerParams()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	res, err := e.NotifyUsers(ctx, domain.ChannelEmail)
	if err != nil {
		t.Fatalf("notify must not fail on delivery error: %v", err)
	}
	if res.RealEmailSent {
		t.Fatalf("expected real_email_sent=false")
	}
	if res.Report.DeliveryStatus != domain.DeliveryGenerated {
		t.Fatalf("expected GENERATED ledger status, got %s", res.Report.DeliveryStatus)
	}
}

func TestResetDuringNotifyLeavesIncidentWiped(t *testing.T) {
	e, fn, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Trigger(ctx, triggerParams()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	// Reset lands between the step's active check and its state write.
	fn.onSend = func() {
		if err := e.Reset(ctx); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}
	if _, err := e.NotifyUsers(ctx, domain.ChannelEmail); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state after concurrent reset, got %v", err)
	}
	inc, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if inc.Active || inc.Step != domain.StepInactive || inc.UsersNotified || len(inc.Timeline) != 0 {
		t.Fatalf("reset state must not be revived, got %+v", inc)
	}
}

func TestResetReturnsToInactiveDefaults(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Trigger(ctx, triggerParams()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := e.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	inc, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if inc.Active || inc.Step != domain.StepInactive || len(inc.Timeline) != 0 || inc.IncidentID != "" {
		t.Fatalf("expected inactive defaults, got %+v", inc)
	}

	// A fresh trigger is allowed after reset.
	if _, err := e.Trigger(ctx, triggerParams()); err != nil {
		t.Fatalf("trigger after reset: %v", err)
	}
}
