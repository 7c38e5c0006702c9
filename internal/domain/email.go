package domain

// Attachment is one file carried by an inbound email. Content is encoded as
// base64 when the email is serialized to JSON.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// ParsedEmail is the transport-neutral form of an inbound email. It is only
// persisted when processing is deferred for approval, and it is stored and
// replayed verbatim so the replay sees exactly what the first delivery saw.
type ParsedEmail struct {
	// EmailKey is the stable ledger key for this delivery.
	EmailKey   string   `json:"email_key"`
	MessageID  string   `json:"message_id,omitempty"`
	From       string   `json:"from"`
	FromName   string   `json:"from_name,omitempty"`
	To         []string `json:"to"`
	Recipient  string   `json:"recipient"`
	Subject    string   `json:"subject"`
	TextBody   string   `json:"text_body,omitempty"`
	HTMLBody   string   `json:"html_body,omitempty"`
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References []string `json:"references,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
}

// Body returns the plain-text body, falling back to the HTML body.
func (e *ParsedEmail) Body() string {
	if e.TextBody != "" {
		return e.TextBody
	}
	return e.HTMLBody
}

// IsReply reports whether the email declares itself a reply.
func (e *ParsedEmail) IsReply() bool {
	return e.InReplyTo != "" || len(e.References) > 0
}
