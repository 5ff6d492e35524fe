package incident

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"dpdpshield/internal/artifact"
	"dpdpshield/internal/domain"
	"dpdpshield/internal/ledger"
	"dpdpshield/internal/notify"
	"dpdpshield/internal/tabstore"
)

// DPBRecipient is the regulator inbox that receives breach notices.
const DPBRecipient = "dpb@meity.gov.in"

// TriggerParams describe the breach being declared.
type TriggerParams struct {
	Nature        string `json:"nature"`
	Systems       string `json:"systems"`
	Categories    string `json:"categories"`
	AffectedCount int    `json:"affected_count"`
	Description   string `json:"description"`
}

// Engine advances the incident through its lifecycle steps, pushing timeline
// events and recording every generated artifact in the ledger. Step calls
// re-invoked out of strict order re-generate a fresh artifact and ledger row
// each time; artifacts are never deduplicated.
type Engine struct {
	state    *StateStore
	store    *tabstore.Store
	ledger   *ledger.Ledger
	renderer *artifact.Renderer
	notifier notify.Notifier
}

// NewEngine wires the incident engine.
func NewEngine(state *StateStore, store *tabstore.Store, led *ledger.Ledger, renderer *artifact.Renderer, notifier notify.Notifier) *Engine {
	return &Engine{
		state:    state,
		store:    store,
		ledger:   led,
		renderer: renderer,
		notifier: notifier,
	}
}

// Status returns the current incident document.
func (e *Engine) Status(ctx context.Context) (domain.Incident, error) {
	return e.state.Get(ctx)
}

// Trigger declares a new breach. Fails when one is already active.
func (e *Engine) Trigger(ctx context.Context, p TriggerParams) (domain.Incident, error) {
	now := domain.Timestamp(domain.Now())
	incidentID := fmt.Sprintf("INC-%03d", 100+rand.Intn(900))
	inc, err := e.state.Update(ctx, func(inc *domain.Incident) error {
		if inc.Active {
			return fmt.Errorf("%w: breach already active", domain.ErrInvalidState)
		}
		*inc = domain.Incident{
			Active:        true,
			IncidentID:    incidentID,
			DiscoveryTime: now,
			Nature:        p.Nature,
			Systems:       p.Systems,
			Categories:    p.Categories,
			AffectedCount: p.AffectedCount,
			Description:   p.Description,
			Step:          domain.StepTriggered,
			Timeline: []domain.TimelineEvent{
				{Time: now, Event: "Breach protocol triggered", Type: "trigger"},
			},
		}
		return nil
	})
	if err != nil {
		return domain.Incident{}, err
	}
	slog.Info("breach triggered", "incident_id", inc.IncidentID, "affected_count", inc.AffectedCount)
	return inc, nil
}

// ConfirmContainment records containment and moves to step 2.
func (e *Engine) ConfirmContainment(ctx context.Context) (domain.Incident, error) {
	now := domain.Timestamp(domain.Now())
	return e.state.Update(ctx, func(inc *domain.Incident) error {
		if !inc.Active {
			return fmt.Errorf("%w: no active breach", domain.ErrInvalidState)
		}
		inc.ContainmentConfirmed = true
		inc.Step = domain.StepContained
		inc.Timeline = append(inc.Timeline, domain.TimelineEvent{
			Time: now, Event: "Containment confirmed", Type: "containment",
		})
		return nil
	})
}

// GenerateDPBNotice renders the regulator notice, records it in the ledger
// and moves to step 3.
func (e *Engine) GenerateDPBNotice(ctx context.Context) (domain.ReportRecord, error) {
	inc, err := e.state.Get(ctx)
	if err != nil {
		return domain.ReportRecord{}, err
	}
	if !inc.Active {
		return domain.ReportRecord{}, fmt.Errorf("%w: no active breach", domain.ErrInvalidState)
	}

	art, err := e.renderer.DPBNotice(inc)
	if err != nil {
		return domain.ReportRecord{}, err
	}
	rec, err := e.ledger.RecordArtifact(domain.ReportDPBNotice,
		ledger.Linkage{IncidentID: inc.IncidentID},
		DPBRecipient, domain.ChannelDownloadOnly, art.Bytes, art.Filename, "DPB Notice generated")
	if err != nil {
		return domain.ReportRecord{}, err
	}

	now := domain.Timestamp(domain.Now())
	if _, err := e.state.Update(ctx, func(inc *domain.Incident) error {
		// The incident may have been reset since the artifact was rendered.
		if !inc.Active {
			return fmt.Errorf("%w: no active breach", domain.ErrInvalidState)
		}
		inc.DPBSent = true
		inc.Step = domain.StepDPBNotified
		inc.Timeline = append(inc.Timeline, domain.TimelineEvent{
			Time: now, Event: "DPB Notice generated", Type: "dpb",
		})
		return nil
	}); err != nil {
		return domain.ReportRecord{}, err
	}
	return rec, nil
}

// NotifyUsersResult summarizes a customer notification broadcast.
type NotifyUsersResult struct {
	Count         int                 `json:"count"`
	Report        domain.ReportRecord `json:"report"`
	RealEmailSent bool                `json:"real_email_sent"`
}

// NotifyUsers renders the customer breach notice, records a bulk ledger row
// and makes one best-effort real delivery to the first active customer.
// Delivery failure is recorded, never fatal.
func (e *Engine) NotifyUsers(ctx context.Context, channel string) (NotifyUsersResult, error) {
	inc, err := e.state.Get(ctx)
	if err != nil {
		return NotifyUsersResult{}, err
	}
	if !inc.Active {
		return NotifyUsersResult{}, fmt.Errorf("%w: no active breach", domain.ErrInvalidState)
	}
	if channel == "" {
		channel = domain.ChannelEmail
	}

	rows, err := e.store.ReadAll(domain.TableCustomers)
	if err != nil {
		return NotifyUsersResult{}, err
	}
	var active []domain.Customer
	for _, row := range rows {
		if row["status"] == domain.CustomerActive {
			active = append(active, domain.CustomerFromRecord(row))
		}
	}

	art, err := e.renderer.CustomerBreachNotice(inc)
	if err != nil {
		return NotifyUsersResult{}, err
	}
	rec, err := e.ledger.RecordArtifact(domain.ReportCustomerBreachNotice,
		ledger.Linkage{IncidentID: inc.IncidentID},
		fmt.Sprintf("BULK(%d)", len(active)), channel, art.Bytes, art.Filename,
		fmt.Sprintf("Broadcast to %d users", len(active)))
	if err != nil {
		return NotifyUsersResult{}, err
	}

	sentReal := false
	if channel == domain.ChannelEmail && len(active) > 0 {
		first := active[0]
		if first.Email != "" && first.Email != domain.Redacted {
			sendErr := e.notifier.Send(ctx, first.Email,
				fmt.Sprintf("Data Breach Notification - %s", inc.IncidentID),
				breachNoticeBody(inc.IncidentID),
				[]notify.Attachment{{Filename: art.Filename, Content: art.Bytes}})
			if sendErr != nil {
				slog.Warn("breach notice delivery failed", "incident_id", inc.IncidentID, "err", sendErr)
			} else {
				sentReal = true
			}
		}
	}
	if sentReal {
		if err := e.ledger.MarkSent(rec.ReportID); err != nil {
			return NotifyUsersResult{}, err
		}
		rec.DeliveryStatus = domain.DeliverySent
	}

	now := domain.Timestamp(domain.Now())
	if _, err := e.state.Update(ctx, func(inc *domain.Incident) error {
		if !inc.Active {
			return fmt.Errorf("%w: no active breach", domain.ErrInvalidState)
		}
		inc.UsersNotified = true
		inc.Step = domain.StepUsersNotified
		inc.Timeline = append(inc.Timeline, domain.TimelineEvent{
			Time: now,
			Event: fmt.Sprintf("Customer notifications sent to %d users via %s",
				len(active), channel),
			Type: "notify",
		})
		return nil
	}); err != nil {
		return NotifyUsersResult{}, err
	}
	return NotifyUsersResult{Count: len(active), Report: rec, RealEmailSent: sentReal}, nil
}

// Close renders the audit report over the full timeline, records it and
// terminates the incident (step 5, inactive).
func (e *Engine) Close(ctx context.Context) (domain.ReportRecord, error) {
	inc, err := e.state.Get(ctx)
	if err != nil {
		return domain.ReportRecord{}, err
	}
	if !inc.Active {
		return domain.ReportRecord{}, fmt.Errorf("%w: no active breach", domain.ErrInvalidState)
	}

	now := domain.Timestamp(domain.Now())
	inc.ClosedAt = now
	art, err := e.renderer.AuditReport(inc, inc.Timeline)
	if err != nil {
		return domain.ReportRecord{}, err
	}
	rec, err := e.ledger.RecordArtifact(domain.ReportAuditReport,
		ledger.Linkage{IncidentID: inc.IncidentID},
		"SELF_DOWNLOAD", domain.ChannelDownloadOnly, art.Bytes, art.Filename,
		"Incident closed, audit report generated")
	if err != nil {
		return domain.ReportRecord{}, err
	}

	if _, err := e.state.Update(ctx, func(inc *domain.Incident) error {
		if !inc.Active {
			return fmt.Errorf("%w: no active breach", domain.ErrInvalidState)
		}
		inc.Closed = true
		inc.ClosedAt = now
		inc.Active = false
		inc.Step = domain.StepClosed
		inc.Timeline = append(inc.Timeline, domain.TimelineEvent{
			Time: now, Event: "Incident closed. Audit report generated.", Type: "close",
		})
		return nil
	}); err != nil {
		return domain.ReportRecord{}, err
	}
	slog.Info("breach closed", "incident_id", inc.IncidentID, "report_id", rec.ReportID)
	return rec, nil
}

// Reset wipes the singleton back to the inactive default. Administrative
// escape hatch, not part of the normal lifecycle.
func (e *Engine) Reset(ctx context.Context) error {
	_, err := e.state.Update(ctx, func(inc *domain.Incident) error {
		*inc = domain.Incident{}
		return nil
	})
	return err
}

func breachNoticeBody(incidentID string) string {
	return fmt.Sprintf("<p>Dear Customer,</p>"+
		"<p>This is to notify you about a data security incident. Incident ID: %s. "+
		"Please check the attached notice.</p>"+
		"<p>DPDP Shield Team</p>", incidentID)
}
