// Package notify delivers email to data principals and regulators. Sends are
// best-effort: the workflows treat a failed send as a recorded partial
// success, never as an abort.
package notify

import "context"

// Attachment is a rendered artifact attached to an outbound message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Notifier is the outbound notification capability. Implementations must
// tolerate malformed or unreachable configuration by returning an error
// rather than panicking.
type Notifier interface {
	Send(ctx context.Context, to, subject, htmlBody string, attachments []Attachment) error
	ConnectionOK(ctx context.Context) bool
}
