package models

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies the messaging platform a message arrived on or is sent
// through.
type Platform string

const (
	PlatformTelegram Platform = "Telegram"
	PlatformWhatsapp Platform = "WhatsApp"
)

// MessageType classifies an inbound or outbound message payload.
type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeAudio       MessageType = "audio"
	MessageTypeDocument    MessageType = "document"
	MessageTypeImage       MessageType = "image"
	MessageTypeInteractive MessageType = "interactive"
)

// Order status values. transferred is terminal. There is no failed state;
// a failed dispatch leaves the order in payment_pending for retry.
const (
	OrderStatusPaymentPending = "payment_pending"
	OrderStatusPaid           = "paid"
	OrderStatusTransferred    = "transferred"
)

// Payment types for an order.
const (
	PaymentTypeCredits = "credits"
	PaymentTypeDirect  = "direct"
)

// CommandNone is the sentinel command for free text without a leading /token.
const CommandNone = "_no_command"

// User is anchored by at least one of email, phone number or telegram handle.
type User struct {
	ID            string
	CreatedAt     time.Time
	LetterCredits int
	FirstName     string
	LastName      string
	Email         string
	PhoneNumber   string
	TelegramID    string
	Prompt        string
}

// TelegramMeta carries the platform identifiers needed to map an outbound
// prompt back to the right chat.
type TelegramMeta struct {
	UserID    string
	ChatID    int64
	MessageID string
}

// WhatsappMeta mirrors the Cloud API identifiers of a message.
type WhatsappMeta struct {
	MID           string
	WebhookID     string
	PhoneNumberID string
	ProfileName   string
	MediaID       string
	ReferenceMID  string
	Phone         string
}

// Message is the append-only log of every inbound and outbound event. A
// message is immutable once created except for back-filling the
// DraftReferenced/OrderReferenced ids within the same logical operation.
type Message struct {
	ID              string
	UserID          string
	Platform        Platform
	SentBy          string // "user" or "system"
	Type            MessageType
	Timestamp       time.Time
	Body            string
	MemoDuration    float64
	Transcript      string
	AttachmentMime  string
	Command         string
	DraftReferenced string
	OrderReferenced string
	ResponseTo      string
	// ActionConfirmed is tri-state: nil until a confirm/cancel button is
	// tapped.
	ActionConfirmed *bool

	Telegram *TelegramMeta
	Whatsapp *WhatsappMeta
}

// Confirmed reports whether the message carries a positive button tap.
func (m Message) Confirmed() bool {
	return m.ActionConfirmed != nil && *m.ActionConfirmed
}

// File points at binary content in blob storage belonging to one message.
type File struct {
	ID        string
	MessageID string
	MimeType  string
	BlobPath  string
}

// Address is a postal address owned by a user. Addresses are never updated
// in place; edits are delete-and-recreate.
type Address struct {
	ID        string
	CreatedAt time.Time
	UserID    string
	Addressee string
	Line1     string
	Line2     string
	Zip       string
	City      string
	Country   string
	// ProposalID anchors callback idempotency: the id of the interactive
	// proposal message that created this address. Unique per address.
	ProposalID string
}

// IsComplete reports whether all required fields are present.
func (a Address) IsComplete() bool {
	return a.Addressee != "" && a.Line1 != "" && a.Zip != "" && a.City != "" && a.Country != ""
}

// Lines renders the address as postal lines.
func (a Address) Lines(includeCountry bool) ([]string, error) {
	if !a.IsComplete() {
		return nil, fmt.Errorf("incomplete address %s", a.ID)
	}
	lines := []string{a.Addressee, a.Line1}
	if a.Line2 != "" {
		lines = append(lines, a.Line2)
	}
	lines = append(lines, a.Zip+" "+a.City)
	if includeCountry {
		lines = append(lines, a.Country)
	}
	return lines, nil
}

// FormatSimple renders the address one field per line, the same shape
// ParseAddress accepts.
func (a Address) FormatSimple() string {
	lines := []string{a.Addressee, a.Line1}
	if a.Line2 != "" {
		lines = append(lines, a.Line2)
	}
	lines = append(lines, a.Zip, a.City, a.Country)
	return strings.Join(lines, "\n")
}

// FormatForConfirmation labels every field so the user can verify each one
// before confirming.
func (a Address) FormatForConfirmation() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Addressee: %s\n", a.Addressee)
	fmt.Fprintf(&b, "Address line 1: %s\n", a.Line1)
	if a.Line2 != "" {
		fmt.Fprintf(&b, "Address line 2: %s\n", a.Line2)
	}
	fmt.Fprintf(&b, "Postal code: %s\nCity: %s\n", a.Zip, a.City)
	fmt.Fprintf(&b, "Country: %s", a.Country)
	return b.String()
}

// Draft is a versioned snapshot of letter text plus its rendered PDF.
// Every edit or send creates a new draft; BuildsOn links it to its
// predecessor.
type Draft struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	Text      string
	BlobPath  string
	AddressID string
	BuildsOn  string
}

// Order records one send-and-pay attempt for a draft+address pair.
type Order struct {
	ID          string
	UserID      string
	DraftID     string
	AddressID   string
	MessageID   string
	Status      string
	PaymentType string
	CreatedAt   time.Time
}
