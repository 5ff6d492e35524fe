// Package vector scores breach signals to estimate the most likely attack
// vector. Signals are driven by the simulation toggles in settings, standing
// in for real detector feeds.
package vector

import (
	"context"

	"dpdpshield/internal/artifact"
	"dpdpshield/internal/domain"
	"dpdpshield/internal/ledger"
	"dpdpshield/internal/settings"
)

// Signal is one observed indicator with its contribution to the score.
type Signal struct {
	Name     string `json:"name"`
	Detail   string `json:"detail"`
	Source   string `json:"source"`
	Severity int    `json:"severity"`
}

// Analysis is the scored outcome over all active signals.
type Analysis struct {
	LikelySource string   `json:"likely_source"`
	Confidence   string   `json:"confidence"`
	Score        int      `json:"score"`
	Signals      []Signal `json:"signals"`
	Findings     []string `json:"findings"`
}

// Confidence levels.
const (
	ConfidenceNone   = "NONE"
	ConfidenceLow    = "LOW"
	ConfidenceMedium = "MEDIUM"
	ConfidenceHigh   = "HIGH"
)

// Analyzer derives the analysis from settings and can persist it as a
// ledgered artifact.
type Analyzer struct {
	settings *settings.Store
	renderer *artifact.Renderer
	ledger   *ledger.Ledger
}

// NewAnalyzer wires the analyzer.
func NewAnalyzer(s *settings.Store, renderer *artifact.Renderer, led *ledger.Ledger) *Analyzer {
	return &Analyzer{settings: s, renderer: renderer, ledger: led}
}

// Analyze evaluates the currently active signals. The highest-severity
// signal names the likely source; confidence grows with the total score.
func (a *Analyzer) Analyze(ctx context.Context) (Analysis, error) {
	cfg, err := a.settings.Get(ctx)
	if err != nil {
		return Analysis{}, err
	}
	return scoreSignals(cfg), nil
}

// Report runs the analysis, renders it and records the artifact in the
// ledger for self-download.
func (a *Analyzer) Report(ctx context.Context) (domain.ReportRecord, Analysis, error) {
	analysis, err := a.Analyze(ctx)
	if err != nil {
		return domain.ReportRecord{}, Analysis{}, err
	}
	art, err := a.renderer.VectorAnalysis(analysis.LikelySource, analysis.Confidence, analysis.Findings)
	if err != nil {
		return domain.ReportRecord{}, Analysis{}, err
	}
	rec, err := a.ledger.RecordArtifact(domain.ReportVectorAnalysis, ledger.Linkage{},
		"SELF_DOWNLOAD", domain.ChannelDownloadOnly, art.Bytes, art.Filename,
		"Attack vector analysis")
	if err != nil {
		return domain.ReportRecord{}, Analysis{}, err
	}
	return rec, analysis, nil
}

func scoreSignals(cfg settings.Settings) Analysis {
	var signals []Signal
	if cfg.SimLeakedAPIKey {
		signals = append(signals, Signal{
			Name:     "leaked_api_key",
			Detail:   "Active API credential found in a public code repository",
			Source:   "Compromised API credentials",
			Severity: 5,
		})
	}
	if cfg.SimMailboxForwarding {
		signals = append(signals, Signal{
			Name:     "mailbox_forwarding",
			Detail:   "Hidden auto-forwarding rule on a privileged mailbox",
			Source:   "Compromised email account",
			Severity: 4,
		})
	}
	if cfg.SimMassDownload {
		signals = append(signals, Signal{
			Name:     "mass_download",
			Detail:   "Bulk export of customer records outside business hours",
			Source:   "Insider data exfiltration",
			Severity: 3,
		})
	}

	out := Analysis{
		LikelySource: "No attack vector identified",
		Confidence:   ConfidenceNone,
		Findings:     []string{"No active breach signals detected"},
	}
	if len(signals) == 0 {
		return out
	}

	top := signals[0]
	total := 0
	findings := make([]string, 0, len(signals))
	for _, s := range signals {
		total += s.Severity
		findings = append(findings, s.Detail)
		if s.Severity > top.Severity {
			top = s
		}
	}
	out.LikelySource = top.Source
	out.Score = total
	out.Signals = signals
	out.Findings = findings
	switch {
	case total >= 8:
		out.Confidence = ConfidenceHigh
	case total >= 5:
		out.Confidence = ConfidenceMedium
	default:
		out.Confidence = ConfidenceLow
	}
	return out
}
