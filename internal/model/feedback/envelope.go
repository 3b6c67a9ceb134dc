package feedback

// EnvelopeAttachment is a resolved binary payload bound into an envelope.
type EnvelopeAttachment struct {
	Filename string
	Data     []byte
}

// Envelope is a composed notification ready for the mail transport.
type Envelope struct {
	Subject     string
	Body        string
	Attachments []EnvelopeAttachment
}
