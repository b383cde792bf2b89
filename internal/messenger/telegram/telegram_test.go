package telegram

import (
	"context"
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

// botAPI is a minimal Bot API stand-in that records every method call.
type botAPI struct {
	mu      sync.Mutex
	calls   []string
	bodies  map[string][]byte
	voice   []byte
	backend *httptest.Server
}

func newBotAPI(t *testing.T) *botAPI {
	t.Helper()
	api := &botAPI{bodies: map[string][]byte{}, voice: []byte("not really ogg")}
	api.backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/file/") {
			w.Write(api.voice)
			return
		}
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		body, _ := io.ReadAll(r.Body)
		api.mu.Lock()
		api.calls = append(api.calls, method)
		api.bodies[method] = body
		api.mu.Unlock()

		switch method {
		case "getFile":
			fmt.Fprint(w, `{"result":{"file_path":"voice/1.ogg"}}`)
		default:
			fmt.Fprint(w, `{"result":{"message_id":99}}`)
		}
	}))
	t.Cleanup(api.backend.Close)
	return api
}

func (a *botAPI) called(method string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.calls {
		if c == method {
			return true
		}
	}
	return false
}

func newTestMessenger(t *testing.T) (*Messenger, *botAPI, *storage.FakeUoW) {
	t.Helper()
	api := newBotAPI(t)
	m := New(Config{Token: "test-token"}).WithBaseURL(api.backend.URL)
	return m, api, storage.NewFakeUoW()
}

func textUpdate(text string) []byte {
	raw, _ := json.Marshal(map[string]any{
		"update_id": 1,
		"message": map[string]any{
			"message_id": 10,
			"from":       map[string]any{"id": 7, "username": "max", "first_name": "Max"},
			"chat":       map[string]any{"id": 42},
			"date":       1700000000,
			"text":       text,
		},
	})
	return raw
}

func TestProcessMessageText(t *testing.T) {
	m, _, uow := newTestMessenger(t)
	ctx := context.Background()

	msg, err := m.ProcessMessage(ctx, textUpdate("/send Grandma Mary"), uow)
	require.NoError(t, err)
	assert.Equal(t, "send", msg.Command)
	assert.Equal(t, "Grandma Mary", msg.Body)
	assert.Equal(t, models.MessageTypeText, msg.Type)
	require.NotNil(t, msg.Telegram)
	assert.Equal(t, int64(42), msg.Telegram.ChatID)

	// The sender was created on first contact.
	user, err := uow.Users().GetByTelegramID(ctx, "max")
	require.NoError(t, err)
	assert.Equal(t, "Max", user.FirstName)
	assert.Equal(t, user.ID, msg.UserID)

	// A second update reuses the same user.
	again, err := m.ProcessMessage(ctx, textUpdate("/help"), uow)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.UserID)
}

func TestProcessMessageVoice(t *testing.T) {
	m, api, uow := newTestMessenger(t)
	ctx := context.Background()

	raw, _ := json.Marshal(map[string]any{
		"update_id": 2,
		"message": map[string]any{
			"message_id": 11,
			"from":       map[string]any{"id": 7, "username": "max"},
			"chat":       map[string]any{"id": 42},
			"date":       1700000000,
			"voice": map[string]any{
				"file_id":   "voice-file-1",
				"duration":  12,
				"mime_type": "audio/ogg",
			},
		},
	})
	msg, err := m.ProcessMessage(ctx, raw, uow)
	require.NoError(t, err)
	assert.Equal(t, "voice", msg.Command)
	assert.Equal(t, models.MessageTypeAudio, msg.Type)
	assert.Equal(t, 12.0, msg.MemoDuration)
	assert.True(t, api.called("getFile"))

	file, err := uow.Files().GetByMessage(ctx, msg.ID)
	require.NoError(t, err)
	data, err := uow.Memos().Get(ctx, file.BlobPath)
	require.NoError(t, err)
	assert.Equal(t, api.voice, data)
}

func TestProcessMessageEmptyUpdate(t *testing.T) {
	m, _, uow := newTestMessenger(t)
	_, err := m.ProcessMessage(context.Background(), []byte(`{"update_id":3}`), uow)
	assert.ErrorIs(t, err, messenger.ErrNoMessage)
}

func TestProcessCallback(t *testing.T) {
	m, api, uow := newTestMessenger(t)
	ctx := context.Background()
	user := uow.SeedUser(models.User{TelegramID: "max"})

	original, err := uow.Messages().Add(ctx, models.Message{
		UserID: user.ID, Platform: models.PlatformTelegram, SentBy: "user",
		Type: models.MessageTypeText, Command: "add_address",
		Body:     "John Doe\nMain St 1\n12345\nBerlin\nGermany",
		Telegram: &models.TelegramMeta{UserID: "max", ChatID: 42, MessageID: "10"},
	})
	require.NoError(t, err)
	proposal, err := m.ReplyButtons(ctx, original, "Does this look right?", "Discard", "Looks good", uow)
	require.NoError(t, err)

	// The keyboard embeds the proposal's own id in callback_data.
	var sent struct {
		ReplyMarkup struct {
			InlineKeyboard [][]struct {
				CallbackData string `json:"callback_data"`
			} `json:"inline_keyboard"`
		} `json:"reply_markup"`
	}
	require.NoError(t, json.Unmarshal(api.bodies["sendMessage"], &sent))
	require.Len(t, sent.ReplyMarkup.InlineKeyboard, 1)
	require.Len(t, sent.ReplyMarkup.InlineKeyboard[0], 2)
	var payload callbackPayload
	require.NoError(t, json.Unmarshal([]byte(sent.ReplyMarkup.InlineKeyboard[0][1].CallbackData), &payload))
	assert.Equal(t, proposal.ID, payload.MID)
	assert.True(t, payload.Conf)

	raw, _ := json.Marshal(map[string]any{
		"update_id": 4,
		"callback_query": map[string]any{
			"id":   "cb-1",
			"from": map[string]any{"id": 7, "username": "max"},
			"message": map[string]any{
				"message_id": 99,
				"chat":       map[string]any{"id": 42},
			},
			"data": sent.ReplyMarkup.InlineKeyboard[0][1].CallbackData,
		},
	})
	msg, err := m.ProcessMessage(ctx, raw, uow)
	require.NoError(t, err)
	assert.Equal(t, "add_address_callback", msg.Command)
	assert.Equal(t, proposal.ID, msg.ResponseTo)
	assert.True(t, msg.Confirmed())
	assert.Equal(t, user.ID, msg.UserID)
	assert.True(t, api.called("answerCallbackQuery"))
}

func TestProcessCallbackMalformedData(t *testing.T) {
	m, _, uow := newTestMessenger(t)
	raw, _ := json.Marshal(map[string]any{
		"update_id": 5,
		"callback_query": map[string]any{
			"id":   "cb-2",
			"from": map[string]any{"id": 7, "username": "max"},
			"data": "not json",
		},
	})
	_, err := m.ProcessMessage(context.Background(), raw, uow)
	assert.ErrorIs(t, err, messenger.ErrUnknownPayload)
}

func TestReplyEditOrText(t *testing.T) {
	m, api, uow := newTestMessenger(t)
	ctx := context.Background()
	user := uow.SeedUser(models.User{TelegramID: "max"})

	ref := models.Message{
		ID: "cb", UserID: user.ID, Platform: models.PlatformTelegram, SentBy: "user",
		Type:     models.MessageTypeInteractive,
		Telegram: &models.TelegramMeta{ChatID: 42, MessageID: "99"},
	}
	_, err := m.ReplyEditOrText(ctx, ref, "Saved!", uow)
	require.NoError(t, err)
	assert.True(t, api.called("editMessageText"))

	// Without a message id to edit, it degrades to a plain send.
	ref.Telegram.MessageID = ""
	_, err = m.ReplyEditOrText(ctx, ref, "Saved!", uow)
	require.NoError(t, err)
	assert.True(t, api.called("sendMessage"))
}
