package mailparse

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // register non-UTF-8 charsets
	"github.com/emersion/go-message/mail"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// ParseRaw builds a ParsedEmail from a raw RFC 5322 message. Text parts
// become the bodies; parts with an attachment disposition, and inline parts
// that are not text, become attachments.
func ParseRaw(r io.Reader, inboundDomain string) (*domain.ParsedEmail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer mr.Close()

	h := mr.Header
	e := &domain.ParsedEmail{}

	from, err := h.AddressList("From")
	if err != nil || len(from) == 0 {
		return nil, ErrMissingSender
	}
	e.From = strings.ToLower(from[0].Address)
	e.FromName = from[0].Name

	var to []string
	for _, key := range []string{"To", "Cc", "Delivered-To"} {
		addrs, _ := h.AddressList(key)
		for _, a := range addrs {
			to = append(to, a.Address)
		}
	}
	e.To = normalizeRecipients(to)
	if len(e.To) == 0 {
		return nil, ErrMissingRecipient
	}
	e.Recipient = SelectRecipient(e.To, inboundDomain)

	if id, err := h.MessageID(); err == nil {
		e.MessageID = id
	}
	e.Subject, _ = h.Subject()
	e.Subject = strings.TrimSpace(e.Subject)
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		e.InReplyTo = ids[0]
	}
	if ids, err := h.MsgIDList("References"); err == nil {
		e.References = ids
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		body, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read part: %v", ErrMalformed, err)
		}

		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			ct, params, _ := ph.ContentType()
			switch {
			case ct == "text/plain" || ct == "":
				if e.TextBody == "" {
					e.TextBody = string(body)
				}
			case ct == "text/html":
				if e.HTMLBody == "" {
					e.HTMLBody = string(body)
				}
			case len(body) > 0:
				e.Attachments = append(e.Attachments, domain.Attachment{
					Filename:    inlineName(params, ph.Get("Content-Disposition")),
					ContentType: ct,
					Content:     body,
				})
			}
		case *mail.AttachmentHeader:
			if len(body) == 0 {
				continue
			}
			name, _ := ph.Filename()
			ct, _, _ := ph.ContentType()
			e.Attachments = append(e.Attachments, domain.Attachment{
				Filename:    name,
				ContentType: defaultContentType(ct),
				Content:     body,
			})
		}
	}

	e.EmailKey = EmailKey(e)
	return e, nil
}

func inlineName(ctParams map[string]string, disposition string) string {
	if n := ctParams["name"]; n != "" {
		return n
	}
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		return params["filename"]
	}
	return ""
}
