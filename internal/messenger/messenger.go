// Package messenger defines the capability interface every messaging
// platform adapter implements, plus a recording fake for tests.
package messenger

import (
	"context"
	"errors"

	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/storage"
)

// ErrUnknownPayload is returned by ProcessMessage for event payloads that
// cannot be classified.
var ErrUnknownPayload = errors.New("unrecognized message payload")

// ErrNoMessage is returned for webhook deliveries that carry no user
// message (status updates, channel posts). Callers acknowledge and skip.
var ErrNoMessage = errors.New("event carries no message")

// Messenger is the per-platform adapter contract. ProcessMessage turns a
// raw webhook event into a persisted normalized Message; the reply
// operations each append exactly one outbound Message row per send and
// never mutate the message they reference.
type Messenger interface {
	Platform() models.Platform

	ProcessMessage(ctx context.Context, raw []byte, uow storage.UnitOfWork) (models.Message, error)

	ReplyText(ctx context.Context, ref models.Message, body string, uow storage.UnitOfWork) (models.Message, error)
	ReplyDocument(ctx context.Context, ref models.Message, data []byte, filename, mimeType string, uow storage.UnitOfWork) (models.Message, error)
	// ReplyButtons sends an interactive confirm/cancel prompt. The callback
	// payload embeds the id of the outbound message itself so a button tap
	// resolves response_to deterministically.
	ReplyButtons(ctx context.Context, ref models.Message, mainText, cancelLabel, confirmLabel string, uow storage.UnitOfWork) (models.Message, error)
	// ReplyEditOrText edits the referenced interactive message in place
	// where the platform supports it, otherwise sends a new message.
	ReplyEditOrText(ctx context.Context, ref models.Message, body string, uow storage.UnitOfWork) (models.Message, error)
}

// Outbound builds the outbound message row shared by all reply operations,
// copying the conversation coordinates and entity references off the
// message being replied to.
func Outbound(ref models.Message, msgType models.MessageType, body string) models.Message {
	out := models.Message{
		UserID:          ref.UserID,
		Platform:        ref.Platform,
		SentBy:          "system",
		Type:            msgType,
		Body:            body,
		DraftReferenced: ref.DraftReferenced,
		OrderReferenced: ref.OrderReferenced,
		ResponseTo:      ref.ID,
	}
	if ref.Telegram != nil {
		out.Telegram = &models.TelegramMeta{ChatID: ref.Telegram.ChatID}
	}
	if ref.Whatsapp != nil {
		out.Whatsapp = &models.WhatsappMeta{
			PhoneNumberID: ref.Whatsapp.PhoneNumberID,
			Phone:         ref.Whatsapp.Phone,
		}
	}
	return out
}
