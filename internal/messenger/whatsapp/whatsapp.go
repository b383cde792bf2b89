// Package whatsapp adapts the WhatsApp Cloud API to the messenger contract.
package whatsapp

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

	"github.com/h2non/filetype"
	"golang.org/x/time/rate"

	"github.com/voxpost/internal/audio"
	"github.com/voxpost/internal/command"
	"github.com/voxpost/internal/messenger"
	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/storage"
)

// Config holds the Cloud API credentials.
type Config struct {
	Token         string `koanf:"token"`
	PhoneNumberID string `koanf:"phone_number_id"`
	VerifyToken   string `koanf:"verify_token"`
}

type Messenger struct {
	cfg     Config
	apiBase string
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) *Messenger {
	return &Messenger{
		cfg:     cfg,
		apiBase: "https://graph.facebook.com/v19.0",
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
	}
}

// WithBaseURL redirects API calls, for tests.
func (m *Messenger) WithBaseURL(u string) *Messenger {
	m.apiBase = u
	return m
}

func (m *Messenger) Platform() models.Platform { return models.PlatformWhatsapp }

// VerifyToken is checked by the GET webhook-verification handshake.
func (m *Messenger) VerifyToken() string { return m.cfg.VerifyToken }

// Cloud API envelope subset.
type envelope struct {
	Entry []struct {
		ID      string `json:"id"`
		Changes []struct {
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []apiMessage      `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

type apiMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
	} `json:"audio"`
	Document *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
	} `json:"document"`
	Image *struct {
		ID string `json:"id"`
	} `json:"image"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
	Context *struct {
		ID string `json:"id"`
	} `json:"context"`
}

func (m *Messenger) resolveUser(ctx context.Context, phone, profileName string, uow storage.UnitOfWork) (models.User, error) {
	user, err := uow.Users().GetByPhone(ctx, phone)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.User{}, fmt.Errorf("failed to look up user %s: %w", phone, err)
	}
	user, err = uow.Users().Add(ctx, models.User{
		PhoneNumber: phone,
		FirstName:   profileName,
	})
	if err != nil {
		return models.User{}, fmt.Errorf("failed to create user %s: %w", phone, err)
	}
	return user, nil
}

func (m *Messenger) ProcessMessage(ctx context.Context, raw []byte, uow storage.UnitOfWork) (models.Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.Message{}, fmt.Errorf("failed to decode webhook envelope: %w", err)
	}
	if len(env.Entry) == 0 || len(env.Entry[0].Changes) == 0 {
		return models.Message{}, messenger.ErrNoMessage
	}
	value := env.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		// Delivery/read status callbacks carry no user message.
		return models.Message{}, messenger.ErrNoMessage
	}
	am := value.Messages[0]

	profileName := ""
	if len(value.Contacts) > 0 {
		profileName = value.Contacts[0].Profile.Name
	}
	user, err := m.resolveUser(ctx, am.From, profileName, uow)
	if err != nil {
		return models.Message{}, err
	}

	ts := time.Now().UTC()
	if unix, err := strconv.ParseInt(am.Timestamp, 10, 64); err == nil {
		ts = time.Unix(unix, 0).UTC()
	}
	msg := models.Message{
		UserID:    user.ID,
		Platform:  models.PlatformWhatsapp,
		SentBy:    "user",
		Timestamp: ts,
		Whatsapp: &models.WhatsappMeta{
			MID:           am.ID,
			WebhookID:     env.Entry[0].ID,
			PhoneNumberID: value.Metadata.PhoneNumberID,
			ProfileName:   profileName,
			Phone:         am.From,
		},
	}

	switch am.Type {
	case "interactive":
		return m.processInteractive(ctx, am, msg, uow)
	case "audio":
		msg.Type = models.MessageTypeAudio
		msg.Command = "voice"
		msg.Whatsapp.MediaID = am.Audio.ID
		data, err := m.downloadMedia(ctx, am.Audio.ID)
		if err != nil {
			return models.Message{}, err
		}
		if d, err := audio.OggDuration(data); err == nil {
			msg.MemoDuration = d
		}
		stored, err := uow.Messages().Add(ctx, msg)
		if err != nil {
			return models.Message{}, fmt.Errorf("failed to store audio message: %w", err)
		}
		if err := storeMemo(ctx, data, stored.ID, uow); err != nil {
			return models.Message{}, err
		}
		return stored, nil
	case "text":
		cmd, body := command.Parse(am.Text.Body)
		msg.Type = models.MessageTypeText
		msg.Command = cmd
		msg.Body = body
	case "document":
		msg.Type = models.MessageTypeDocument
		msg.Command = models.CommandNone
		msg.AttachmentMime = am.Document.MimeType
		msg.Whatsapp.MediaID = am.Document.ID
	case "image":
		msg.Type = models.MessageTypeImage
		msg.Command = models.CommandNone
		if am.Image != nil {
			msg.Whatsapp.MediaID = am.Image.ID
		}
	default:
		return models.Message{}, fmt.Errorf("message type %q: %w", am.Type, messenger.ErrUnknownPayload)
	}
	stored, err := uow.Messages().Add(ctx, msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to store message: %w", err)
	}
	return stored, nil
}

// processInteractive resolves a button tap. The Cloud API echoes the
// proposal's own message id in context.id; the button id is "true"/"false".
func (m *Messenger) processInteractive(ctx context.Context, am apiMessage, msg models.Message, uow storage.UnitOfWork) (models.Message, error) {
	if am.Interactive == nil || am.Interactive.ButtonReply == nil || am.Context == nil {
		return models.Message{}, fmt.Errorf("interactive payload missing button reply: %w", messenger.ErrUnknownPayload)
	}
	proposal, err := uow.Messages().GetByWhatsappMID(ctx, am.Context.ID)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to resolve proposal mid %s: %w", am.Context.ID, err)
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

	confirmed := am.Interactive.ButtonReply.ID == "true"
	msg.Type = models.MessageTypeInteractive
	msg.Command = original.Command + "_callback"
	msg.ResponseTo = proposal.ID
	msg.ActionConfirmed = &confirmed
	msg.Whatsapp.ReferenceMID = am.Context.ID
	stored, err := uow.Messages().Add(ctx, msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to store callback message: %w", err)
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

// downloadMedia is the Cloud API two-step fetch: resolve the media id to a
// short-lived URL, then fetch the bytes with the same bearer token.
func (m *Messenger) downloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.apiBase+"/"+mediaID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media lookup failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media lookup returned status %d", resp.StatusCode)
	}
	var meta struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode media lookup response: %w", err)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	resp, err = m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read media body: %w", err)
	}
	return data, nil
}

// sendPayload POSTs to the messages endpoint and returns the assigned wamid.
func (m *Messenger) sendPayload(ctx context.Context, payload map[string]any) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}
	payload["messaging_product"] = "whatsapp"
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message payload: %w", err)
	}
	u := fmt.Sprintf("%s/%s/messages", m.apiBase, m.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build message request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("message request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("messages endpoint returned status %d: %s", resp.StatusCode, raw)
	}
	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode messages response: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", fmt.Errorf("messages response carries no message id")
	}
	return out.Messages[0].ID, nil
}

func (m *Messenger) store(ctx context.Context, out models.Message, mid string, uow storage.UnitOfWork) (models.Message, error) {
	out.Whatsapp.MID = mid
	stored, err := uow.Messages().Add(ctx, out)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to store outbound message: %w", err)
	}
	return stored, nil
}

func (m *Messenger) ReplyText(ctx context.Context, ref models.Message, body string, uow storage.UnitOfWork) (models.Message, error) {
	mid, err := m.sendPayload(ctx, map[string]any{
		"to":   ref.Whatsapp.Phone,
		"type": "text",
		"text": map[string]any{"body": body},
	})
	if err != nil {
		return models.Message{}, err
	}
	return m.store(ctx, messenger.Outbound(ref, models.MessageTypeText, body), mid, uow)
}

func (m *Messenger) ReplyDocument(ctx context.Context, ref models.Message, data []byte, filename, mimeType string, uow storage.UnitOfWork) (models.Message, error) {
	mediaID, err := m.uploadMedia(ctx, data, filename, mimeType)
	if err != nil {
		return models.Message{}, err
	}
	mid, err := m.sendPayload(ctx, map[string]any{
		"to":       ref.Whatsapp.Phone,
		"type":     "document",
		"document": map[string]any{"id": mediaID, "filename": filename},
	})
	if err != nil {
		return models.Message{}, err
	}
	out := messenger.Outbound(ref, models.MessageTypeDocument, "")
	out.AttachmentMime = mimeType
	out.Whatsapp.MediaID = mediaID
	return m.store(ctx, out, mid, uow)
}

func (m *Messenger) uploadMedia(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", fmt.Errorf("failed to build media upload payload: %w", err)
	}
	if err := mw.WriteField("type", mimeType); err != nil {
		return "", fmt.Errorf("failed to build media upload payload: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build media upload part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write media upload part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize media upload payload: %w", err)
	}

	u := fmt.Sprintf("%s/%s/media", m.apiBase, m.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return "", fmt.Errorf("failed to build media upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("media upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("media upload returned status %d: %s", resp.StatusCode, raw)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode media upload response: %w", err)
	}
	return out.ID, nil
}

// ReplyButtons sends a reply-button prompt. WhatsApp echoes the message's
// own wamid back as context.id on the tap, so the button ids only need to
// carry the chosen outcome.
func (m *Messenger) ReplyButtons(ctx context.Context, ref models.Message, mainText, cancelLabel, confirmLabel string, uow storage.UnitOfWork) (models.Message, error) {
	mid, err := m.sendPayload(ctx, map[string]any{
		"to":   ref.Whatsapp.Phone,
		"type": "interactive",
		"interactive": map[string]any{
			"type": "button",
			"body": map[string]any{"text": mainText},
			"action": map[string]any{
				"buttons": []map[string]any{
					{"type": "reply", "reply": map[string]any{"id": "false", "title": cancelLabel}},
					{"type": "reply", "reply": map[string]any{"id": "true", "title": confirmLabel}},
				},
			},
		},
	})
	if err != nil {
		return models.Message{}, err
	}
	return m.store(ctx, messenger.Outbound(ref, models.MessageTypeInteractive, mainText), mid, uow)
}

// ReplyEditOrText falls back to a fresh message; the Cloud API offers no
// edit primitive.
func (m *Messenger) ReplyEditOrText(ctx context.Context, ref models.Message, body string, uow storage.UnitOfWork) (models.Message, error) {
	return m.ReplyText(ctx, ref, body, uow)
}
