package notify

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zhouzirui/z-feedback/backend/internal/model/feedback"
)

// ErrDispatch marks a rejected or failed delivery.
var ErrDispatch = errors.New("notification dispatch failed")

// Mailer delivers a composed envelope over the outbound mail transport.
type Mailer interface {
	Deliver(ctx context.Context, envelope feedback.Envelope) error
}

// Releaser frees attachment payloads once they are no longer needed.
type Releaser interface {
	Release(ctx context.Context, refs []feedback.AttachmentRef)
}

// Dispatcher sends envelopes and releases attachments after confirmed delivery.
type Dispatcher struct {
	mailer   Mailer
	releaser Releaser
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(mailer Mailer, releaser Releaser) *Dispatcher {
	return &Dispatcher{mailer: mailer, releaser: releaser}
}

// Dispatch makes a single delivery attempt. On failure the session's
// attachments stay in storage for a manual resend.
func (d *Dispatcher) Dispatch(ctx context.Context, session feedback.Session, envelope feedback.Envelope) error {
	if err := d.mailer.Deliver(ctx, envelope); err != nil {
		log.Printf("[notify] delivery failed for session %s, keeping %d attachment(s): %v",
			session.ID, len(session.Attachments), err)
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	log.Printf("[notify] delivered %q with %d attachment(s)", envelope.Subject, len(envelope.Attachments))
	d.releaser.Release(ctx, session.Attachments)
	return nil
}
