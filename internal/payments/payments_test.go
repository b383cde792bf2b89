package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{
	WebhookSecret: "whsec_test",
	LinkSingle:    Link{URL: "https://pay.example/one", ID: "plink_one"},
	Link5:         Link{URL: "https://pay.example/five", ID: "plink_five"},
	Link10:        Link{URL: "https://pay.example/ten?ref=promo", ID: "plink_ten"},
}

func sign(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"type":"checkout.session.completed"}`)
	now := time.Now()

	t.Run("valid signature", func(t *testing.T) {
		header := sign("whsec_test", payload, now)
		assert.NoError(t, testConfig.Verify(payload, header, now))
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := sign("whsec_other", payload, now)
		assert.ErrorIs(t, testConfig.Verify(payload, header, now), ErrBadSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		header := sign("whsec_test", payload, now)
		err := testConfig.Verify([]byte(`{"type":"evil"}`), header, now)
		assert.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		header := sign("whsec_test", payload, now.Add(-10*time.Minute))
		assert.ErrorIs(t, testConfig.Verify(payload, header, now), ErrStaleEvent)
	})

	t.Run("malformed header", func(t *testing.T) {
		assert.ErrorIs(t, testConfig.Verify(payload, "nonsense", now), ErrBadSignature)
	})
}

func TestParseEvent(t *testing.T) {
	payload := []byte(`{
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_123",
			"client_reference_id": "order-42",
			"payment_link": "plink_five"
		}}
	}`)
	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
	assert.Equal(t, "cs_123", event.SessionID)
	assert.Equal(t, "order-42", event.OrderID)
	assert.Equal(t, "plink_five", event.PaymentLinkID)
}

func TestParseEventMalformed(t *testing.T) {
	_, err := ParseEvent([]byte("{"))
	assert.Error(t, err)
}

func TestCredits(t *testing.T) {
	assert.Equal(t, 1, testConfig.Credits("plink_one"))
	assert.Equal(t, 5, testConfig.Credits("plink_five"))
	assert.Equal(t, 10, testConfig.Credits("plink_ten"))
	// Unknown links still ship a single letter.
	assert.Equal(t, 1, testConfig.Credits("plink_unknown"))
}

func TestPaymentLink(t *testing.T) {
	assert.Equal(t, "https://pay.example/one?client_reference_id=o1",
		testConfig.PaymentLink(1, "o1"))
	assert.Equal(t, "https://pay.example/five?client_reference_id=o1",
		testConfig.PaymentLink(5, "o1"))
	// Existing query strings get & instead of a second ?.
	assert.Equal(t, "https://pay.example/ten?ref=promo&client_reference_id=o1",
		testConfig.PaymentLink(10, "o1"))
}
