package feedback

// EventKind classifies inbound user events.
type EventKind string

const (
	EventText       EventKind = "text"
	EventAttachment EventKind = "attachment"
	EventCommand    EventKind = "command"
)

// Command names recognised by the dialog.
const (
	CommandBegin  = "begin"
	CommandCancel = "cancel"
	CommandDone   = "done"
)

// Payload is a binary attachment received from the user.
type Payload struct {
	Data     []byte
	Filename string
}

// Event is one serialized inbound message for a user.
type Event struct {
	Kind    EventKind
	Text    string
	Command string
	Payload Payload
}

// TextEvent builds a free-text event.
func TextEvent(text string) Event { return Event{Kind: EventText, Text: text} }

// CommandEvent builds a command event.
func CommandEvent(name string) Event { return Event{Kind: EventCommand, Command: name} }

// AttachmentEvent builds a binary attachment event.
func AttachmentEvent(data []byte, filename string) Event {
	return Event{Kind: EventAttachment, Payload: Payload{Data: data, Filename: filename}}
}

// Prompt is the single outbound reply produced by a transition.
type Prompt struct {
	Text string `json:"text"`
	// Choices is rendered as a one-time keyboard when the transport supports it.
	Choices       []string `json:"choices,omitempty"`
	RemoveChoices bool     `json:"removeChoices,omitempty"`
}
