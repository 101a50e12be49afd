package testhelpers

import (
	"context"
	"sync"
)

// SentMail is one captured verification email.
type SentMail struct {
	To       string
	Username string
	Link     string
}

// RecordingSender captures verification emails. Set Err to make sends fail.
type RecordingSender struct {
	mu   sync.Mutex
	sent []SentMail
	Err  error
}

func (r *RecordingSender) SendVerification(ctx context.Context, to, username, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, SentMail{To: to, Username: username, Link: link})
	return nil
}

// Sent returns a copy of the captured emails.
func (r *RecordingSender) Sent() []SentMail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentMail(nil), r.sent...)
}

// Last returns the most recent email, or false when none was sent.
func (r *RecordingSender) Last() (SentMail, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return SentMail{}, false
	}
	return r.sent[len(r.sent)-1], true
}
