// Package letters is the command dispatch engine and entity lifecycle
// manager: it turns normalized messages into drafts, addresses, orders and
// replies.
package letters

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/voxpost/internal/ai"
	"github.com/voxpost/internal/command"
	"github.com/voxpost/internal/messenger"
	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/payments"
	"github.com/voxpost/internal/post"
	"github.com/voxpost/internal/storage"
)

// HandlerFunc processes one normalized inbound message.
type HandlerFunc func(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error

// Service holds the command registry and the external collaborators the
// handlers need.
type Service struct {
	writer      ai.LetterWriter
	transcriber ai.Transcriber
	dispatcher  post.Dispatcher
	payments    payments.Config

	handlers map[string]HandlerFunc
}

func NewService(writer ai.LetterWriter, transcriber ai.Transcriber, dispatcher post.Dispatcher, pay payments.Config) *Service {
	s := &Service{
		writer:      writer,
		transcriber: transcriber,
		dispatcher:  dispatcher,
		payments:    pay,
	}
	s.handlers = map[string]HandlerFunc{
		models.CommandNone:     s.handleNoCommand,
		"help":                 s.handleHelp,
		"report_bug":           s.handleReportBug,
		"edit_prompt":          s.handleEditPrompt,
		"voice":                s.handleVoice,
		"edit":                 s.handleEdit,
		"show_address_book":    s.handleShowAddressBook,
		"add_address":          s.handleAddAddress,
		"add_address_callback": s.handleAddAddressCallback,
		"delete_address":       s.handleDeleteAddress,
		"send":                 s.handleSend,
		"send_callback":        s.handleSendCallback,
	}
	return s
}

// Handle dispatches a message to its command handler. Unknown commands get
// a suggestion reply and execute nothing.
func (s *Service) Handle(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	cmd := msg.Command
	if cmd == "" {
		cmd = models.CommandNone
	}
	if handler, ok := s.handlers[cmd]; ok {
		log.Debug().Str("command", cmd).Str("message_id", msg.ID).Msg("dispatching command")
		return handler(ctx, msg, uow, msgr)
	}

	suggestion := command.Suggest(cmd)
	text, err := s.copy(ctx, uow, "unknown_command-success", suggestion)
	if err != nil {
		return err
	}
	_, err = msgr.ReplyText(ctx, msg, text, uow)
	return err
}

// copy fetches a system message and fills its format verbs.
func (s *Service) copy(ctx context.Context, uow storage.UnitOfWork, id string, args ...any) (string, error) {
	tpl, err := uow.SystemMessages().Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to load reply copy: %w", err)
	}
	if len(args) == 0 {
		return tpl, nil
	}
	return fmt.Sprintf(tpl, args...), nil
}

// replyCopy sends a plain text reply built from a system message.
func (s *Service) replyCopy(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger, id string, args ...any) error {
	text, err := s.copy(ctx, uow, id, args...)
	if err != nil {
		return err
	}
	_, err = msgr.ReplyText(ctx, msg, text, uow)
	return err
}
