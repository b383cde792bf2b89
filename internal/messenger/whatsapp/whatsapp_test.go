package whatsapp

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxpost/internal/messenger"
	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/storage"
)

func oggBytes(granule uint64) []byte {
	page := make([]byte, 28)
	copy(page, "OggS")
	binary.LittleEndian.PutUint64(page[6:], granule)
	return page
}

// cloudAPI fakes the Graph API endpoints the adapter touches.
type cloudAPI struct {
	mu      sync.Mutex
	sent    [][]byte // bodies posted to /messages
	uploads int
	media   []byte
	backend *httptest.Server
	nextMID int
}

func newCloudAPI(t *testing.T) *cloudAPI {
	t.Helper()
	api := &cloudAPI{media: oggBytes(96000)}
	api.backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages"):
			body, _ := io.ReadAll(r.Body)
			api.sent = append(api.sent, body)
			api.nextMID++
			fmt.Fprintf(w, `{"messages":[{"id":"wamid.%d"}]}`, api.nextMID)
		case strings.HasSuffix(r.URL.Path, "/media"):
			api.uploads++
			fmt.Fprint(w, `{"id":"media-123"}`)
		case r.URL.Path == "/media-bytes":
			w.Write(api.media)
		default:
			// Media id lookup returns the short-lived download URL.
			fmt.Fprintf(w, `{"url":%q}`, api.backend.URL+"/media-bytes")
		}
	}))
	t.Cleanup(api.backend.Close)
	return api
}

func (a *cloudAPI) lastSent(t *testing.T) map[string]any {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.sent)
	var out map[string]any
	require.NoError(t, json.Unmarshal(a.sent[len(a.sent)-1], &out))
	return out
}

func newTestMessenger(t *testing.T) (*Messenger, *cloudAPI, *storage.FakeUoW) {
	t.Helper()
	api := newCloudAPI(t)
	m := New(Config{Token: "test-token", PhoneNumberID: "555", VerifyToken: "verify-me"}).
		WithBaseURL(api.backend.URL)
	return m, api, storage.NewFakeUoW()
}

func inboundEnvelope(message map[string]any) []byte {
	raw, _ := json.Marshal(map[string]any{
		"entry": []map[string]any{{
			"id": "wh-entry-1",
			"changes": []map[string]any{{
				"value": map[string]any{
					"metadata": map[string]any{"phone_number_id": "555"},
					"contacts": []map[string]any{{
						"wa_id":   "4917612345678",
						"profile": map[string]any{"name": "Max"},
					}},
					"messages": []map[string]any{message},
				},
			}},
		}},
	})
	return raw
}

func TestProcessMessageText(t *testing.T) {
	m, _, uow := newTestMessenger(t)
	ctx := context.Background()

	raw := inboundEnvelope(map[string]any{
		"from":      "4917612345678",
		"id":        "wamid.in1",
		"timestamp": "1700000000",
		"type":      "text",
		"text":      map[string]any{"body": "/add_address\nJohn Doe\nMain St 1\n12345\nBerlin\nGermany"},
	})
	msg, err := m.ProcessMessage(ctx, raw, uow)
	require.NoError(t, err)
	assert.Equal(t, "add_address", msg.Command)
	assert.Contains(t, msg.Body, "John Doe")
	require.NotNil(t, msg.Whatsapp)
	assert.Equal(t, "wamid.in1", msg.Whatsapp.MID)
	assert.Equal(t, "555", msg.Whatsapp.PhoneNumberID)

	user, err := uow.Users().GetByPhone(ctx, "4917612345678")
	require.NoError(t, err)
	assert.Equal(t, "Max", user.FirstName)
	assert.Equal(t, user.ID, msg.UserID)
}

func TestProcessMessageRedelivery(t *testing.T) {
	m, _, uow := newTestMessenger(t)
	ctx := context.Background()
	raw := inboundEnvelope(map[string]any{
		"from": "4917612345678",
		"id":   "wamid.dup",
		"type": "text",
		"text": map[string]any{"body": "/help"},
	})

	_, err := m.ProcessMessage(ctx, raw, uow)
	require.NoError(t, err)
	_, err = m.ProcessMessage(ctx, raw, uow)
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestProcessMessageStatusesOnly(t *testing.T) {
	m, _, uow := newTestMessenger(t)
	raw, _ := json.Marshal(map[string]any{
		"entry": []map[string]any{{
			"id": "wh-entry-1",
			"changes": []map[string]any{{
				"value": map[string]any{
					"statuses": []map[string]any{{"id": "wamid.out", "status": "delivered"}},
				},
			}},
		}},
	})
	_, err := m.ProcessMessage(context.Background(), raw, uow)
	assert.ErrorIs(t, err, messenger.ErrNoMessage)
}

func TestProcessMessageEmptyEnvelope(t *testing.T) {
	m, _, uow := newTestMessenger(t)
	_, err := m.ProcessMessage(context.Background(), []byte(`{"entry":[]}`), uow)
	assert.ErrorIs(t, err, messenger.ErrNoMessage)
}

func TestProcessMessageAudio(t *testing.T) {
	m, _, uow := newTestMessenger(t)
	ctx := context.Background()

	raw := inboundEnvelope(map[string]any{
		"from":  "4917612345678",
		"id":    "wamid.voice1",
		"type":  "audio",
		"audio": map[string]any{"id": "media-1", "mime_type": "audio/ogg"},
	})
	msg, err := m.ProcessMessage(ctx, raw, uow)
	require.NoError(t, err)
	assert.Equal(t, "voice", msg.Command)
	assert.Equal(t, models.MessageTypeAudio, msg.Type)
	assert.InDelta(t, 2.0, msg.MemoDuration, 0.001)

	file, err := uow.Files().GetByMessage(ctx, msg.ID)
	require.NoError(t, err)
	data, err := uow.Memos().Get(ctx, file.BlobPath)
	require.NoError(t, err)
	assert.Equal(t, oggBytes(96000), data)
}

func TestButtonTapRoundTrip(t *testing.T) {
	m, api, uow := newTestMessenger(t)
	ctx := context.Background()
	user := uow.SeedUser(models.User{PhoneNumber: "4917612345678"})

	original, err := uow.Messages().Add(ctx, models.Message{
		UserID: user.ID, Platform: models.PlatformWhatsapp, SentBy: "user",
		Type: models.MessageTypeText, Command: "send", Body: "Grandma Mary",
		Whatsapp: &models.WhatsappMeta{MID: "wamid.in1", Phone: "4917612345678", PhoneNumberID: "555"},
	})
	require.NoError(t, err)
	proposal, err := m.ReplyButtons(ctx, original, "Shall I post the letter?", "Not now", "Send it", uow)
	require.NoError(t, err)
	require.NotEmpty(t, proposal.Whatsapp.MID)

	payload := api.lastSent(t)
	assert.Equal(t, "interactive", payload["type"])

	// The tap echoes the proposal's wamid as context.id; the button id is
	// the outcome.
	raw := inboundEnvelope(map[string]any{
		"from": "4917612345678",
		"id":   "wamid.tap1",
		"type": "interactive",
		"interactive": map[string]any{
			"type":         "button_reply",
			"button_reply": map[string]any{"id": "true", "title": "Send it"},
		},
		"context": map[string]any{"id": proposal.Whatsapp.MID},
	})
	callback, err := m.ProcessMessage(ctx, raw, uow)
	require.NoError(t, err)
	assert.Equal(t, "send_callback", callback.Command)
	assert.Equal(t, proposal.ID, callback.ResponseTo)
	assert.True(t, callback.Confirmed())
	assert.Equal(t, proposal.Whatsapp.MID, callback.Whatsapp.ReferenceMID)
}

func TestReplyDocumentUploadsFirst(t *testing.T) {
	m, api, uow := newTestMessenger(t)
	ctx := context.Background()
	user := uow.SeedUser(models.User{PhoneNumber: "4917612345678"})

	ref := models.Message{
		ID: "in", UserID: user.ID, Platform: models.PlatformWhatsapp, SentBy: "user",
		Whatsapp: &models.WhatsappMeta{Phone: "4917612345678", PhoneNumberID: "555"},
	}
	out, err := m.ReplyDocument(ctx, ref, []byte("%PDF-1.4"), "letter.pdf", "application/pdf", uow)
	require.NoError(t, err)
	assert.Equal(t, 1, api.uploads)
	assert.Equal(t, "media-123", out.Whatsapp.MediaID)

	payload := api.lastSent(t)
	assert.Equal(t, "document", payload["type"])
}

func TestVerifyTokenAccessor(t *testing.T) {
	m, _, _ := newTestMessenger(t)
	assert.Equal(t, "verify-me", m.VerifyToken())
}
