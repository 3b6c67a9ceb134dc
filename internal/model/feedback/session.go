package feedback

import "time"

// State is a position in the feedback dialog.
type State string

const (
	StateAwaitingFeedback     State = "awaiting_feedback"
	StateAwaitingPhotoChoice  State = "awaiting_photo_choice"
	StateAwaitingPhotos       State = "awaiting_photos"
	StateAwaitingVisitDetails State = "awaiting_visit_details"
	StateAwaitingContactInfo  State = "awaiting_contact_info"
	StateTerminal             State = "terminal"
)

// Field names a free-text value collected during the dialog.
type Field string

const (
	FieldFeedbackText Field = "feedbackText"
	FieldVisitDetails Field = "visitDetails"
	FieldContactInfo  Field = "contactInfo"
)

// Unspecified is the placeholder users send to skip an optional field.
const Unspecified = "-"

// AttachmentRef points at a persisted attachment owned by one session.
type AttachmentRef struct {
	ID       string `json:"id"`
	Location string `json:"location"`
	Filename string `json:"filename"`
}

// Session captures one user's in-progress feedback conversation.
type Session struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	State       State            `json:"state"`
	Fields      map[Field]string `json:"fields"`
	Attachments []AttachmentRef  `json:"attachments"`
	History     []State          `json:"history"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Field returns the stored value for key, or Unspecified when it was never set.
func (s Session) Field(key Field) string {
	if v, ok := s.Fields[key]; ok {
		return v
	}
	return Unspecified
}

// Clone returns a deep copy so stores never share maps or slices with callers.
func (s Session) Clone() Session {
	out := s
	if s.Fields != nil {
		out.Fields = make(map[Field]string, len(s.Fields))
		for k, v := range s.Fields {
			out.Fields[k] = v
		}
	}
	if s.Attachments != nil {
		out.Attachments = append([]AttachmentRef(nil), s.Attachments...)
	}
	if s.History != nil {
		out.History = append([]State(nil), s.History...)
	}
	return out
}

// Transition moves the session to next and records the visit.
func (s *Session) Transition(next State) {
	s.State = next
	s.History = append(s.History, next)
	s.UpdatedAt = time.Now().UTC()
}
