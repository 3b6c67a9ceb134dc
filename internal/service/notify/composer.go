package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/z-feedback/backend/internal/model/feedback"
	"github.com/zhouzirui/z-feedback/backend/internal/service/attachment"
)

// SubjectTimeLayout formats the composition timestamp embedded in the subject.
const SubjectTimeLayout = "2006-01-02 15:04"

// Labels controls the human-readable wording of composed notifications.
type Labels struct {
	SubjectPrefix string
	Feedback      string
	VisitDetails  string
	ContactInfo   string
	NotSpecified  string
}

// DefaultLabels matches the wording the recipients read today.
func DefaultLabels() Labels {
	return Labels{
		SubjectPrefix: "Новый отзыв",
		Feedback:      "Отзыв",
		VisitDetails:  "Детали посещения",
		ContactInfo:   "Контактные данные",
		NotSpecified:  "Не указано",
	}
}

// Composer renders a session into an envelope.
type Composer struct {
	storage attachment.Storage
	labels  Labels
	now     func() time.Time
}

// NewComposer builds a composer that resolves attachments from storage.
func NewComposer(storage attachment.Storage, labels Labels) *Composer {
	return &Composer{storage: storage, labels: labels, now: time.Now}
}

// WithClock overrides the wall clock used for the subject line.
func (c *Composer) WithClock(now func() time.Time) *Composer {
	c.now = now
	return c
}

// Compose builds a fresh envelope. Attachments that cannot be resolved are
// skipped so the submission itself is never lost.
func (c *Composer) Compose(ctx context.Context, session feedback.Session) feedback.Envelope {
	envelope := feedback.Envelope{
		Subject: fmt.Sprintf("%s - %s", c.labels.SubjectPrefix, c.now().Format(SubjectTimeLayout)),
		Body:    c.RenderBody(session),
	}

	if len(session.Attachments) == 0 {
		log.Printf("[notify] session %s has no attachments", session.ID)
		return envelope
	}

	envelope.Attachments = make([]feedback.EnvelopeAttachment, 0, len(session.Attachments))
	for _, ref := range session.Attachments {
		data, err := c.storage.Get(ctx, ref.Location)
		if err != nil {
			log.Printf("[notify] warning: attachment %s unavailable, skipping: %v", ref.Location, err)
			continue
		}
		envelope.Attachments = append(envelope.Attachments, feedback.EnvelopeAttachment{
			Filename: ref.Filename,
			Data:     data,
		})
	}
	return envelope
}

// RenderBody formats the collected fields, one per line. Only the "-"
// placeholder, or a field never collected, renders as not specified.
func (c *Composer) RenderBody(session feedback.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", c.labels.Feedback, c.render(session.Field(feedback.FieldFeedbackText)))
	fmt.Fprintf(&b, "%s: %s\n", c.labels.VisitDetails, c.render(session.Field(feedback.FieldVisitDetails)))
	fmt.Fprintf(&b, "%s: %s", c.labels.ContactInfo, c.render(session.Field(feedback.FieldContactInfo)))
	return b.String()
}

func (c *Composer) render(value string) string {
	if value == feedback.Unspecified {
		return c.labels.NotSpecified
	}
	return value
}
