// Package telegram adapts the Telegram Bot API to the messenger contract.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/voxpost/internal/audio"
	"github.com/voxpost/internal/command"
	"github.com/voxpost/internal/messenger"
	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/storage"
)

// Config holds the bot credentials.
type Config struct {
	Token string `koanf:"token"`
	// WebhookSecret is compared against X-Telegram-Bot-Api-Secret-Token
	// when set.
	WebhookSecret string `koanf:"webhook_secret"`
}

// Messenger implements the adapter contract over the Bot API.
type Messenger struct {
	cfg     Config
	apiBase string
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) *Messenger {
	return &Messenger{
		cfg:     cfg,
		apiBase: "https://api.telegram.org",
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
	}
}

// WithBaseURL redirects API calls, for tests.
func (m *Messenger) WithBaseURL(u string) *Messenger {
	m.apiBase = u
	return m
}

func (m *Messenger) Platform() models.Platform { return models.PlatformTelegram }

// Bot API envelope subset.
type update struct {
	UpdateID int64          `json:"update_id"`
	Message  *apiMessage    `json:"message"`
	Callback *callbackQuery `json:"callback_query"`
}

type apiMessage struct {
	MessageID int64    `json:"message_id"`
	From      *apiUser `json:"from"`
	Chat      apiChat  `json:"chat"`
	Date      int64    `json:"date"`
	Text      string   `json:"text"`
	Voice     *struct {
		FileID   string `json:"file_id"`
		Duration int    `json:"duration"`
		MimeType string `json:"mime_type"`
	} `json:"voice"`
	Document *struct {
		FileID   string `json:"file_id"`
		MimeType string `json:"mime_type"`
	} `json:"document"`
	Photo []struct {
		FileID string `json:"file_id"`
	} `json:"photo"`
}

type apiUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type apiChat struct {
	ID int64 `json:"id"`
}

type callbackQuery struct {
	ID      string      `json:"id"`
	From    *apiUser    `json:"from"`
	Message *apiMessage `json:"message"`
	Data    string      `json:"data"`
}

// callbackPayload is what reply buttons embed in callback_data: the id of
// the proposing outbound message plus the chosen outcome.
type callbackPayload struct {
	MID  string `json:"mid"`
	Conf bool   `json:"conf"`
}

func handleOf(u *apiUser) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}

func (m *Messenger) resolveUser(ctx context.Context, from *apiUser, uow storage.UnitOfWork) (models.User, error) {
	handle := handleOf(from)
	if handle == "" {
		return models.User{}, fmt.Errorf("update has no sender: %w", messenger.ErrUnknownPayload)
	}
	user, err := uow.Users().GetByTelegramID(ctx, handle)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.User{}, fmt.Errorf("failed to look up user %s: %w", handle, err)
	}
	user, err = uow.Users().Add(ctx, models.User{
		TelegramID: handle,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
	})
	if err != nil {
		return models.User{}, fmt.Errorf("failed to create user %s: %w", handle, err)
	}
	return user, nil
}

func (m *Messenger) ProcessMessage(ctx context.Context, raw []byte, uow storage.UnitOfWork) (models.Message, error) {
	var upd update
	if err := json.Unmarshal(raw, &upd); err != nil {
		return models.Message{}, fmt.Errorf("failed to decode update: %w", err)
	}
	switch {
	case upd.Callback != nil:
		return m.processCallback(ctx, upd.Callback, uow)
	case upd.Message != nil:
		return m.processMessage(ctx, upd.Message, uow)
	default:
		return models.Message{}, messenger.ErrNoMessage
	}
}

func (m *Messenger) processCallback(ctx context.Context, cb *callbackQuery, uow storage.UnitOfWork) (models.Message, error) {
	var payload callbackPayload
	if err := json.Unmarshal([]byte(cb.Data), &payload); err != nil || payload.MID == "" {
		return models.Message{}, fmt.Errorf("malformed callback data %q: %w", cb.Data, messenger.ErrUnknownPayload)
	}
	proposal, err := uow.Messages().Get(ctx, payload.MID)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to load proposal %s: %w", payload.MID, err)
	}
	if proposal.ResponseTo == "" {
		return models.Message{}, fmt.Errorf("proposal %s has no response_to", proposal.ID)
	}
	original, err := uow.Messages().Get(ctx, proposal.ResponseTo)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to load original message %s: %w", proposal.ResponseTo, err)
	}
	if original.Command == "" {
		return models.Message{}, fmt.Errorf("original message %s carries no command", original.ID)
	}

	// Dismiss the spinner on the user's client; nothing depends on it.
	if err := m.answerCallback(ctx, cb.ID); err != nil {
		log.Warn().Err(err).Str("callback_id", cb.ID).Msg("failed to answer callback query")
	}

	confirmed := payload.Conf
	msg := models.Message{
		UserID:          proposal.UserID,
		Platform:        models.PlatformTelegram,
		SentBy:          "user",
		Type:            models.MessageTypeInteractive,
		Command:         original.Command + "_callback",
		ResponseTo:      proposal.ID,
		ActionConfirmed: &confirmed,
		Telegram: &models.TelegramMeta{
			UserID: handleOf(cb.From),
		},
	}
	if cb.Message != nil {
		msg.Telegram.ChatID = cb.Message.Chat.ID
		msg.Telegram.MessageID = strconv.FormatInt(cb.Message.MessageID, 10)
	}
	stored, err := uow.Messages().Add(ctx, msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to store callback message: %w", err)
	}
	return stored, nil
}

func (m *Messenger) processMessage(ctx context.Context, am *apiMessage, uow storage.UnitOfWork) (models.Message, error) {
	user, err := m.resolveUser(ctx, am.From, uow)
	if err != nil {
		return models.Message{}, err
	}
	msg := models.Message{
		UserID:    user.ID,
		Platform:  models.PlatformTelegram,
		SentBy:    "user",
		Timestamp: time.Unix(am.Date, 0).UTC(),
		Telegram: &models.TelegramMeta{
			UserID:    handleOf(am.From),
			ChatID:    am.Chat.ID,
			MessageID: strconv.FormatInt(am.MessageID, 10),
		},
	}

	switch {
	case am.Voice != nil:
		msg.Type = models.MessageTypeAudio
		msg.Command = "voice"
		msg.MemoDuration = float64(am.Voice.Duration)
		data, err := m.downloadFile(ctx, am.Voice.FileID)
		if err != nil {
			return models.Message{}, err
		}
		if msg.MemoDuration == 0 {
			if d, err := audio.OggDuration(data); err == nil {
				msg.MemoDuration = d
			}
		}
		stored, err := uow.Messages().Add(ctx, msg)
		if err != nil {
			return models.Message{}, fmt.Errorf("failed to store audio message: %w", err)
		}
		if err := storeMemo(ctx, data, stored.ID, uow); err != nil {
			return models.Message{}, err
		}
		return stored, nil
	case am.Text != "":
		cmd, body := command.Parse(am.Text)
		msg.Type = models.MessageTypeText
		msg.Command = cmd
		msg.Body = body
	case am.Document != nil:
		msg.Type = models.MessageTypeDocument
		msg.Command = models.CommandNone
		msg.AttachmentMime = am.Document.MimeType
	case len(am.Photo) > 0:
		msg.Type = models.MessageTypeImage
		msg.Command = models.CommandNone
	default:
		return models.Message{}, messenger.ErrUnknownPayload
	}
	stored, err := uow.Messages().Add(ctx, msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to store message: %w", err)
	}
	return stored, nil
}

// storeMemo writes the memo bytes to blob storage and records the File row
// for an already-inserted audio message.
func storeMemo(ctx context.Context, data []byte, messageID string, uow storage.UnitOfWork) error {
	mimeType := "audio/ogg"
	if kind, err := filetype.Match(data); err == nil && kind.MIME.Value != "" {
		mimeType = kind.MIME.Value
	}
	blobPath := fmt.Sprintf("memos/%s.ogg", messageID)
	if err := uow.Memos().Put(ctx, blobPath, data); err != nil {
		return fmt.Errorf("failed to store memo blob: %w", err)
	}
	if _, err := uow.Files().Add(ctx, models.File{
		MessageID: messageID,
		MimeType:  mimeType,
		BlobPath:  blobPath,
	}); err != nil {
		return fmt.Errorf("failed to record memo file: %w", err)
	}
	return nil
}

func (m *Messenger) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var out struct {
		Result struct {
			FilePath string `json:"file_path"`
		} `json:"result"`
	}
	if err := m.call(ctx, "getFile", map[string]any{"file_id": fileID}, &out); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/file/bot%s/%s", m.apiBase, m.cfg.Token, out.Result.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build file download request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("file download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file body: %w", err)
	}
	return data, nil
}

func (m *Messenger) answerCallback(ctx context.Context, callbackID string) error {
	return m.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": callbackID}, nil)
}

// call POSTs a JSON payload to a Bot API method.
func (m *Messenger) call(ctx context.Context, method string, payload map[string]any, out any) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", method, err)
	}
	u := fmt.Sprintf("%s/bot%s/%s", m.apiBase, m.cfg.Token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned status %d: %s", method, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", method, err)
		}
	}
	return nil
}

type sendResult struct {
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (m *Messenger) send(ctx context.Context, out models.Message, method string, payload map[string]any, uow storage.UnitOfWork) (models.Message, error) {
	var res sendResult
	if err := m.call(ctx, method, payload, &res); err != nil {
		return models.Message{}, err
	}
	out.Telegram.MessageID = strconv.FormatInt(res.Result.MessageID, 10)
	stored, err := uow.Messages().Add(ctx, out)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to store outbound message: %w", err)
	}
	return stored, nil
}

func (m *Messenger) ReplyText(ctx context.Context, ref models.Message, body string, uow storage.UnitOfWork) (models.Message, error) {
	out := messenger.Outbound(ref, models.MessageTypeText, body)
	return m.send(ctx, out, "sendMessage", map[string]any{
		"chat_id": ref.Telegram.ChatID,
		"text":    body,
	}, uow)
}

func (m *Messenger) ReplyDocument(ctx context.Context, ref models.Message, data []byte, filename, mimeType string, uow storage.UnitOfWork) (models.Message, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return models.Message{}, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", strconv.FormatInt(ref.Telegram.ChatID, 10)); err != nil {
		return models.Message{}, fmt.Errorf("failed to build document payload: %w", err)
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to build document part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return models.Message{}, fmt.Errorf("failed to write document part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return models.Message{}, fmt.Errorf("failed to finalize document payload: %w", err)
	}

	u := fmt.Sprintf("%s/bot%s/sendDocument", m.apiBase, m.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to build sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := m.http.Do(req)
	if err != nil {
		return models.Message{}, fmt.Errorf("sendDocument request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.Message{}, fmt.Errorf("sendDocument returned status %d: %s", resp.StatusCode, raw)
	}
	var res sendResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return models.Message{}, fmt.Errorf("failed to decode sendDocument response: %w", err)
	}

	out := messenger.Outbound(ref, models.MessageTypeDocument, "")
	out.AttachmentMime = mimeType
	out.Telegram.MessageID = strconv.FormatInt(res.Result.MessageID, 10)
	stored, err := uow.Messages().Add(ctx, out)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to store outbound document: %w", err)
	}
	return stored, nil
}

// ReplyButtons pre-generates the outbound message id so the inline keyboard
// can embed it in callback_data before the row exists.
func (m *Messenger) ReplyButtons(ctx context.Context, ref models.Message, mainText, cancelLabel, confirmLabel string, uow storage.UnitOfWork) (models.Message, error) {
	out := messenger.Outbound(ref, models.MessageTypeInteractive, mainText)
	out.ID = uuid.NewString()

	confirmData, err := json.Marshal(callbackPayload{MID: out.ID, Conf: true})
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal callback data: %w", err)
	}
	cancelData, err := json.Marshal(callbackPayload{MID: out.ID, Conf: false})
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal callback data: %w", err)
	}
	keyboard := map[string]any{
		"inline_keyboard": [][]map[string]any{{
			{"text": cancelLabel, "callback_data": string(cancelData)},
			{"text": confirmLabel, "callback_data": string(confirmData)},
		}},
	}
	return m.send(ctx, out, "sendMessage", map[string]any{
		"chat_id":      ref.Telegram.ChatID,
		"text":         mainText,
		"reply_markup": keyboard,
	}, uow)
}

// ReplyEditOrText edits the interactive message the user just answered,
// which Telegram supports natively.
func (m *Messenger) ReplyEditOrText(ctx context.Context, ref models.Message, body string, uow storage.UnitOfWork) (models.Message, error) {
	out := messenger.Outbound(ref, models.MessageTypeText, body)
	if ref.Telegram.MessageID == "" {
		return m.ReplyText(ctx, ref, body, uow)
	}
	msgID, err := strconv.ParseInt(ref.Telegram.MessageID, 10, 64)
	if err != nil {
		return m.ReplyText(ctx, ref, body, uow)
	}
	return m.send(ctx, out, "editMessageText", map[string]any{
		"chat_id":    ref.Telegram.ChatID,
		"message_id": msgID,
		"text":       body,
	}, uow)
}
