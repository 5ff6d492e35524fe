// Package dsr implements the data-subject-request pipeline: intent
// classification of inbound messages, OTP identity verification and the
// SHOW / DELETE / CORRECT actions that follow a verified request.
package dsr

import (
	"regexp"
	"strings"

	"dpdpshield/internal/domain"
)

// Keyword sets for intent classification. Matching is case-insensitive
// substring search over subject and body combined.
var (
	deleteKeywords = []string{
		"delete", "remove", "erase", "close account", "forget me", "right to erasure",
	}
	showKeywords = []string{
		"show", "export", "download", "share my data", "access my data",
		"right to access", "send me my data",
	}
	correctKeywords = []string{
		"correct", "update", "change", "rectify", "modify", "fix my", "wrong",
	}
)

var customerIDPattern = regexp.MustCompile(`(?i)CUST-\d{4}`)

// ClassifyIntent maps free text to a request intent. When multiple keyword
// sets match, deletion wins over access, access over correction.
func ClassifyIntent(subject, body string) string {
	text := strings.ToLower(subject + " " + body)
	if containsAny(text, deleteKeywords) {
		return domain.IntentDelete
	}
	if containsAny(text, showKeywords) {
		return domain.IntentShow
	}
	if containsAny(text, correctKeywords) {
		return domain.IntentCorrect
	}
	return domain.IntentUnknown
}

// intentLabel renders an intent for customer-facing mail.
func intentLabel(intent string) string {
	if intent == domain.IntentUnknown {
		return "data"
	}
	return strings.ToLower(intent)
}

// ExtractCustomerID returns the first customer ID referenced in the text,
// normalized to upper case, or "" when none is present.
func ExtractCustomerID(text string) string {
	m := customerIDPattern.FindString(text)
	return strings.ToUpper(m)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
