package notify

import (
	"context"
	"strings"
	"testing"
)

func TestBuildMessageCarriesBodyAndAttachment(t *testing.T) {
	msg, err := buildMessage("shield@example.com", "priya@example.com",
		"OTP Verification", "<p>Your code is 123456</p>",
		[]Attachment{{Filename: "export.pdf", Content: []byte("%PDF-1.4")}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	body := string(msg)
	for _, want := range []string{
		"From: shield@example.com",
		"To: priya@example.com",
		"Subject: OTP Verification",
		"Your code is 123456",
		`filename="export.pdf"`,
		"multipart/mixed",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("message missing %q:\n%s", want, body)
		}
	}
}

func TestUnconfiguredNotifierFailsFast(t *testing.T) {
	n := NewSMTPNotifier("", "", "", "", "")
	err := n.Send(context.Background(), "a@example.com", "s", "<p>b</p>", nil)
	if err == nil {
		t.Fatalf("expected send to fail without configuration")
	}
	if n.ConnectionOK(context.Background()) {
		t.Fatalf("expected connection check to fail without configuration")
	}
}

func TestSendRequiresRecipient(t *testing.T) {
	n := NewSMTPNotifier("smtp.example.com", "587", "u", "p", "shield@example.com")
	if err := n.Send(context.Background(), " ", "s", "b", nil); err == nil {
		t.Fatalf("expected send to fail without recipient")
	}
}
