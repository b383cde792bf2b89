package messenger

import (
	"context"

	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/storage"
)

// SentReply records one outbound send made through the Fake.
type SentReply struct {
	Kind         string // "text", "document", "buttons", "edit_or_text"
	Body         string
	Filename     string
	MimeType     string
	CancelLabel  string
	ConfirmLabel string
	Message      models.Message
}

// Fake is a Messenger that performs no network calls but still appends
// outbound rows through the unit of work, so chain-resolution behaves as in
// production.
type Fake struct {
	PlatformName models.Platform
	Sent         []SentReply
}

func NewFake(platform models.Platform) *Fake {
	return &Fake{PlatformName: platform}
}

func (f *Fake) Platform() models.Platform { return f.PlatformName }

// ProcessMessage is unused by handler tests, which construct normalized
// messages directly.
func (f *Fake) ProcessMessage(context.Context, []byte, storage.UnitOfWork) (models.Message, error) {
	return models.Message{}, ErrUnknownPayload
}

func (f *Fake) record(ctx context.Context, uow storage.UnitOfWork, reply SentReply, out models.Message) (models.Message, error) {
	stored, err := uow.Messages().Add(ctx, out)
	if err != nil {
		return models.Message{}, err
	}
	reply.Message = stored
	f.Sent = append(f.Sent, reply)
	return stored, nil
}

func (f *Fake) ReplyText(ctx context.Context, ref models.Message, body string, uow storage.UnitOfWork) (models.Message, error) {
	return f.record(ctx, uow, SentReply{Kind: "text", Body: body},
		Outbound(ref, models.MessageTypeText, body))
}

func (f *Fake) ReplyDocument(ctx context.Context, ref models.Message, data []byte, filename, mimeType string, uow storage.UnitOfWork) (models.Message, error) {
	out := Outbound(ref, models.MessageTypeDocument, "")
	out.AttachmentMime = mimeType
	return f.record(ctx, uow, SentReply{Kind: "document", Filename: filename, MimeType: mimeType}, out)
}

func (f *Fake) ReplyButtons(ctx context.Context, ref models.Message, mainText, cancelLabel, confirmLabel string, uow storage.UnitOfWork) (models.Message, error) {
	return f.record(ctx, uow,
		SentReply{Kind: "buttons", Body: mainText, CancelLabel: cancelLabel, ConfirmLabel: confirmLabel},
		Outbound(ref, models.MessageTypeInteractive, mainText))
}

func (f *Fake) ReplyEditOrText(ctx context.Context, ref models.Message, body string, uow storage.UnitOfWork) (models.Message, error) {
	return f.record(ctx, uow, SentReply{Kind: "edit_or_text", Body: body},
		Outbound(ref, models.MessageTypeText, body))
}

// LastReply returns the most recent send, or a zero value.
func (f *Fake) LastReply() SentReply {
	if len(f.Sent) == 0 {
		return SentReply{}
	}
	return f.Sent[len(f.Sent)-1]
}

// Bodies returns the body of every send in order.
func (f *Fake) Bodies() []string {
	out := make([]string, len(f.Sent))
	for i, s := range f.Sent {
		out[i] = s.Body
	}
	return out
}
