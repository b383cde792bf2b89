// Package payments verifies and decodes checkout webhooks and issues
// payment links for letter credit bundles.
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventCheckoutCompleted is the only event type acted upon; everything else
// is acknowledged and dropped.
const EventCheckoutCompleted = "checkout.session.completed"

// signatureTolerance bounds how stale a signed webhook may be.
const signatureTolerance = 5 * time.Minute

var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrStaleEvent   = errors.New("webhook timestamp outside tolerance")
)

// Link is one pre-created payment link: the URL users open and the link id
// that checkout events reference.
type Link struct {
	URL string `koanf:"url"`
	ID  string `koanf:"id"`
}

// Config holds the webhook signing secret and the credit bundle links.
type Config struct {
	WebhookSecret string `koanf:"webhook_secret"`
	LinkSingle    Link   `koanf:"link_single"`
	Link5         Link   `koanf:"link_5"`
	Link10        Link   `koanf:"link_10"`
}

// Event is the decoded subset of a checkout webhook.
type Event struct {
	Type          string
	SessionID     string
	OrderID       string // client_reference_id round-trips the order id
	PaymentLinkID string
}

// Verify checks a Stripe-style signature header: "t=<unix>,v1=<hexmac>",
// MAC over "<t>.<payload>" with the webhook secret.
func (c Config) Verify(payload []byte, header string, now time.Time) error {
	var ts string
	var macs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			macs = append(macs, v)
		}
	}
	if ts == "" || len(macs) == 0 {
		return ErrBadSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return ErrStaleEvent
	}

	mac := hmac.New(sha256.New, []byte(c.WebhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, candidate := range macs {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1 {
			return nil
		}
	}
	return ErrBadSignature
}

// ParseEvent decodes the checkout event fields the handler needs.
func ParseEvent(payload []byte) (Event, error) {
	var raw struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID                string `json:"id"`
				ClientReferenceID string `json:"client_reference_id"`
				PaymentLink       string `json:"payment_link"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	return Event{
		Type:          raw.Type,
		SessionID:     raw.Data.Object.ID,
		OrderID:       raw.Data.Object.ClientReferenceID,
		PaymentLinkID: raw.Data.Object.PaymentLink,
	}, nil
}

// Credits maps a payment link id to the number of credits it buys. Unknown
// links count as a single letter so an unrecognized-but-paid order still
// ships.
func (c Config) Credits(paymentLinkID string) int {
	switch paymentLinkID {
	case c.Link5.ID:
		return 5
	case c.Link10.ID:
		return 10
	default:
		return 1
	}
}

// PaymentLink returns the checkout URL for a bundle with the order id
// attached as client_reference_id.
func (c Config) PaymentLink(credits int, orderID string) string {
	var link Link
	switch credits {
	case 5:
		link = c.Link5
	case 10:
		link = c.Link10
	default:
		link = c.LinkSingle
	}
	sep := "?"
	if strings.Contains(link.URL, "?") {
		sep = "&"
	}
	return link.URL + sep + "client_reference_id=" + orderID
}
