// Package mailparse converts inbound webhook deliveries (a JSON payload or a
// raw RFC 5322 message) into domain.ParsedEmail, derives the stable ledger
// key for a delivery, and picks the pet-facing recipient.
package mailparse

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// Validation errors. Deliveries failing these are rejected, not retried.
var (
	ErrMissingSender    = errors.New("sender is required")
	ErrMissingRecipient = errors.New("at least one recipient is required")
	ErrMalformed        = errors.New("malformed message")
)

// Attachment is one file in the JSON webhook payload. Content is base64 in
// JSON.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// Payload is the JSON webhook body posted by the mail provider.
type Payload struct {
	MessageID   string       `json:"message_id"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	Text        string       `json:"text"`
	HTML        string       `json:"html"`
	InReplyTo   string       `json:"in_reply_to"`
	References  []string     `json:"references"`
	Attachments []Attachment `json:"attachments"`
}

// FromPayload builds a ParsedEmail from a JSON webhook payload.
func FromPayload(p Payload, inboundDomain string) (*domain.ParsedEmail, error) {
	from, fromName, err := parseSender(p.From)
	if err != nil {
		return nil, err
	}
	to := normalizeRecipients(p.To)
	if len(to) == 0 {
		return nil, ErrMissingRecipient
	}

	e := &domain.ParsedEmail{
		MessageID:  stripAngles(p.MessageID),
		From:       from,
		FromName:   fromName,
		To:         to,
		Recipient:  SelectRecipient(to, inboundDomain),
		Subject:    strings.TrimSpace(p.Subject),
		TextBody:   p.Text,
		HTMLBody:   p.HTML,
		InReplyTo:  stripAngles(p.InReplyTo),
		References: cleanIDs(p.References),
	}
	for _, a := range p.Attachments {
		if len(a.Content) == 0 {
			continue
		}
		e.Attachments = append(e.Attachments, domain.Attachment{
			Filename:    a.Filename,
			ContentType: defaultContentType(a.ContentType),
			Content:     a.Content,
		})
	}
	e.EmailKey = EmailKey(e)
	return e, nil
}

// parseSender accepts "addr" or "Name <addr>".
func parseSender(raw string) (addr, name string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrMissingSender
	}
	if a, perr := mail.ParseAddress(raw); perr == nil {
		return strings.ToLower(a.Address), a.Name, nil
	}
	if strings.ContainsAny(raw, "<> ") {
		return "", "", fmt.Errorf("%w: sender %q", ErrMalformed, raw)
	}
	return strings.ToLower(raw), "", nil
}

func normalizeRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if a, err := mail.ParseAddress(r); err == nil {
			r = a.Address
		}
		out = append(out, strings.ToLower(r))
	}
	return out
}

// SelectRecipient returns the first recipient whose domain equals
// inboundDomain, or the first recipient when none does.
func SelectRecipient(to []string, inboundDomain string) string {
	if len(to) == 0 {
		return ""
	}
	want := strings.ToLower(strings.TrimSpace(inboundDomain))
	if want != "" {
		for _, r := range to {
			if i := strings.LastIndex(r, "@"); i >= 0 && strings.EqualFold(r[i+1:], want) {
				return r
			}
		}
	}
	return to[0]
}

// EmailKey derives the ledger key for e: the Message-ID without angle
// brackets, or when absent "sha256:" plus a digest of the content that a
// redelivery would repeat.
func EmailKey(e *domain.ParsedEmail) string {
	if id := stripAngles(e.MessageID); id != "" {
		return id
	}
	h := sha256.New()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}
	to := append([]string(nil), e.To...)
	sort.Strings(to)
	write(strings.ToLower(e.From))
	write(to...)
	write(e.Subject, e.TextBody, e.HTMLBody, e.InReplyTo)
	for _, a := range e.Attachments {
		sum := sha256.Sum256(a.Content)
		write(a.Filename, fmt.Sprint(len(a.Content)), hex.EncodeToString(sum[:]))
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeKey makes an email key safe to use as an object name.
func SanitizeKey(key string) string {
	return unsafeKeyChars.ReplaceAllString(stripAngles(key), "_")
}

func stripAngles(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return strings.TrimSpace(s)
}

func cleanIDs(in []string) []string {
	var out []string
	for _, id := range in {
		for _, f := range strings.Fields(id) {
			if c := stripAngles(f); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

func defaultContentType(ct string) string {
	if strings.TrimSpace(ct) == "" {
		return "application/octet-stream"
	}
	return ct
}
