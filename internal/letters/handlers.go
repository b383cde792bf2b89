package letters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/voxpost/internal/command"
	"github.com/voxpost/internal/messenger"
	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/pdf"
	"github.com/voxpost/internal/storage"
)

func (s *Service) handleNoCommand(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	return s.replyCopy(ctx, msg, uow, msgr, "no_command-success")
}

func (s *Service) handleHelp(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	return s.replyCopy(ctx, msg, uow, msgr, "help-success")
}

func (s *Service) handleReportBug(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	log.Info().Str("user_id", msg.UserID).Str("message_id", msg.ID).Str("report", msg.Body).
		Msg("bug report received")
	return s.replyCopy(ctx, msg, uow, msgr, "report_bug-success")
}

func (s *Service) handleEditPrompt(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	prompt := strings.TrimSpace(msg.Body)
	if prompt == "" {
		return s.replyCopy(ctx, msg, uow, msgr, "edit_prompt-error-msg_empty")
	}
	if err := uow.Users().UpdatePrompt(ctx, msg.UserID, prompt); err != nil {
		return fmt.Errorf("failed to update prompt for user %s: %w", msg.UserID, err)
	}
	return s.replyCopy(ctx, msg, uow, msgr, "edit_prompt-success", prompt)
}

// shortMemoSeconds is the duration below which a warning is sent; the memo
// is still processed.
const shortMemoSeconds = 5

func (s *Service) handleVoice(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	// Ack before the slow transcription/generation work.
	if err := s.replyCopy(ctx, msg, uow, msgr, "voice-confirm"); err != nil {
		return err
	}
	if msg.MemoDuration > 0 && msg.MemoDuration < shortMemoSeconds {
		if err := s.replyCopy(ctx, msg, uow, msgr, "voice-error-too_short"); err != nil {
			return err
		}
	}

	file, err := uow.Files().GetByMessage(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to load memo file for message %s: %w", msg.ID, err)
	}
	data, err := uow.Memos().Get(ctx, file.BlobPath)
	if err != nil {
		return fmt.Errorf("failed to download memo for message %s: %w", msg.ID, err)
	}
	transcript, err := s.transcriber.Transcribe(ctx, data, "memo.ogg", msg.MemoDuration)
	if err != nil {
		return fmt.Errorf("transcription failed for message %s: %w", msg.ID, err)
	}
	if err := uow.Messages().UpdateTranscript(ctx, msg.ID, transcript); err != nil {
		return err
	}

	user, err := uow.Users().Get(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", msg.UserID, err)
	}
	style := user.Prompt
	if style == "" {
		style = "warm and personal"
	}
	sysPrompt, err := s.copy(ctx, uow, "system-prompt-letter", style)
	if err != nil {
		return err
	}
	text, err := s.writer.Generate(ctx, sysPrompt+"\n\nTranscript:\n"+transcript)
	if err != nil {
		return fmt.Errorf("letter generation failed for message %s: %w", msg.ID, err)
	}

	return s.deliverDraft(ctx, msg, uow, msgr, models.Draft{
		UserID: msg.UserID,
		Text:   strings.TrimSpace(text),
	}, "voice-success")
}

func (s *Service) handleEdit(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	instructions := strings.TrimSpace(msg.Body)
	if instructions == "" {
		return s.replyCopy(ctx, msg, uow, msgr, "edit-error-msg_empty")
	}
	latest, err := uow.Drafts().LastByUser(ctx, msg.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.replyCopy(ctx, msg, uow, msgr, "edit-error-no_draft_found")
	}
	if err != nil {
		return fmt.Errorf("failed to load latest draft for user %s: %w", msg.UserID, err)
	}

	if err := s.replyCopy(ctx, msg, uow, msgr, "edit-confirm"); err != nil {
		return err
	}
	prompt, err := s.copy(ctx, uow, "system-prompt-edit", latest.Text, instructions)
	if err != nil {
		return err
	}
	text, err := s.writer.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("edit generation failed for message %s: %w", msg.ID, err)
	}

	return s.deliverDraft(ctx, msg, uow, msgr, models.Draft{
		UserID:    msg.UserID,
		Text:      strings.TrimSpace(text),
		AddressID: latest.AddressID,
		BuildsOn:  latest.ID,
	}, "edit-success")
}

// deliverDraft persists a new draft version, back-fills the triggering
// message and replies with the rendered PDF.
func (s *Service) deliverDraft(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger, draft models.Draft, successID string) error {
	stored, pdfBytes, err := createDraft(ctx, uow, draft)
	if errors.Is(err, pdf.ErrUnsupportedText) {
		return s.replyCopy(ctx, msg, uow, msgr, "voice-error-characters_not_supported")
	}
	if err != nil {
		return err
	}
	if err := uow.Messages().UpdateReferences(ctx, msg.ID, stored.ID, ""); err != nil {
		return err
	}
	msg.DraftReferenced = stored.ID
	if _, err := msgr.ReplyDocument(ctx, msg, pdfBytes, "letter.pdf", "application/pdf", uow); err != nil {
		return err
	}
	return s.replyCopy(ctx, msg, uow, msgr, successID)
}

func (s *Service) handleShowAddressBook(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	book, err := uow.Addresses().ListByUser(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("failed to list addresses for user %s: %w", msg.UserID, err)
	}
	if len(book) == 0 {
		return s.replyCopy(ctx, msg, uow, msgr, "show_address_book-error-no_addresses")
	}
	first := book[0].Addressee
	return s.replyCopy(ctx, msg, uow, msgr, "show_address_book-success",
		formatAddressBook(book), first, first)
}

func (s *Service) handleAddAddress(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	body := strings.TrimSpace(msg.Body)
	if body == "" {
		return s.replyCopy(ctx, msg, uow, msgr, "add_address-error-msg_empty")
	}
	address, err := ParseAddress(body)
	switch {
	case errors.Is(err, ErrAddressTooShort):
		return s.replyCopy(ctx, msg, uow, msgr, "add_address-error-too_short")
	case errors.Is(err, ErrAddressTooLong):
		return s.replyCopy(ctx, msg, uow, msgr, "add_address-error-too_long")
	case err != nil:
		return err
	}

	text, err := s.copy(ctx, uow, "add_address-success", address.FormatForConfirmation())
	if err != nil {
		return err
	}
	confirmLabel, err := s.copy(ctx, uow, "add_address-option-confirm")
	if err != nil {
		return err
	}
	cancelLabel, err := s.copy(ctx, uow, "add_address-option-cancel")
	if err != nil {
		return err
	}
	_, err = msgr.ReplyButtons(ctx, msg, text, cancelLabel, confirmLabel, uow)
	return err
}

func (s *Service) handleAddAddressCallback(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	proposal, original, err := ResolveProposal(ctx, msg, uow)
	if err != nil {
		return err
	}
	if !msg.Confirmed() {
		text, err := s.copy(ctx, uow, "add_address_callback-cancel")
		if err != nil {
			return err
		}
		_, err = msgr.ReplyEditOrText(ctx, msg, text, uow)
		return err
	}

	// Re-derive the address from the original inbound body; no intermediate
	// value is cached anywhere.
	address, err := ParseAddress(original.Body)
	if err != nil {
		return fmt.Errorf("failed to re-parse address from message %s: %w", original.ID, err)
	}
	address.UserID = original.UserID
	address.ProposalID = proposal.ID
	_, err = uow.Addresses().Add(ctx, address)
	if errors.Is(err, storage.ErrDuplicate) {
		// Redelivered confirm; the address already exists.
		log.Info().Str("proposal_id", proposal.ID).Msg("duplicate address confirm ignored")
	} else if err != nil {
		return fmt.Errorf("failed to insert address: %w", err)
	}

	text, err := s.copy(ctx, uow, "add_address_callback-confirm")
	if err != nil {
		return err
	}
	if _, err := msgr.ReplyEditOrText(ctx, msg, text, uow); err != nil {
		return err
	}
	return s.replyCopy(ctx, msg, uow, msgr, "add_address_callback-success-follow_up", address.Addressee)
}

func (s *Service) handleDeleteAddress(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	query := strings.TrimSpace(msg.Body)
	if query == "" {
		return s.replyCopy(ctx, msg, uow, msgr, "delete_address-error-msg_empty")
	}
	book, err := uow.Addresses().ListByUser(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("failed to list addresses for user %s: %w", msg.UserID, err)
	}
	if len(book) == 0 {
		return s.replyCopy(ctx, msg, uow, msgr, "show_address_book-error-no_addresses")
	}

	var target models.Address
	if n, convErr := strconv.Atoi(query); convErr == nil {
		if n < 1 || n > len(book) {
			return s.replyCopy(ctx, msg, uow, msgr, "delete_address-error-invalid_idx")
		}
		target = book[n-1]
	} else {
		idx := command.BestMatch(query, addresseeNames(book), addressMatchFloor)
		if idx < 0 {
			return s.replyCopy(ctx, msg, uow, msgr, "delete_address-error-invalid_idx")
		}
		target = book[idx]
	}
	if err := uow.Addresses().Delete(ctx, target.ID); err != nil {
		return fmt.Errorf("failed to delete address %s: %w", target.ID, err)
	}

	remaining, err := uow.Addresses().ListByUser(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("failed to list addresses for user %s: %w", msg.UserID, err)
	}
	rendered := formatAddressBook(remaining)
	if rendered == "" {
		rendered = "(empty)"
	}
	return s.replyCopy(ctx, msg, uow, msgr, "delete_address-success", rendered)
}

// addressMatchFloor is the similarity score a name query must reach before
// a send or delete acts on an address.
const addressMatchFloor = 0.5

func addresseeNames(book []models.Address) []string {
	names := make([]string, len(book))
	for i, a := range book {
		names[i] = a.Addressee
	}
	return names
}

func (s *Service) handleSend(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	query := strings.TrimSpace(msg.Body)
	if query == "" {
		return s.replyCopy(ctx, msg, uow, msgr, "send-error-msg_empty")
	}
	latest, err := uow.Drafts().LastByUser(ctx, msg.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.replyCopy(ctx, msg, uow, msgr, "send-error-no_draft")
	}
	if err != nil {
		return fmt.Errorf("failed to load latest draft for user %s: %w", msg.UserID, err)
	}
	book, err := uow.Addresses().ListByUser(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("failed to list addresses for user %s: %w", msg.UserID, err)
	}
	if len(book) == 0 {
		return s.replyCopy(ctx, msg, uow, msgr, "send-error-no_addresses")
	}
	idx := command.BestMatch(query, addresseeNames(book), addressMatchFloor)
	if idx < 0 {
		return s.replyCopy(ctx, msg, uow, msgr, "send-error-no_good_match", formatAddressBook(book))
	}
	address := book[idx]

	draft, _, err := createDraft(ctx, uow, models.Draft{
		UserID:    msg.UserID,
		Text:      latest.Text,
		AddressID: address.ID,
		BuildsOn:  latest.ID,
	})
	if err != nil {
		return err
	}

	user, err := uow.Users().Get(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", msg.UserID, err)
	}
	paymentType := models.PaymentTypeDirect
	if user.LetterCredits > 0 {
		paymentType = models.PaymentTypeCredits
	}
	order, err := uow.Orders().Add(ctx, models.Order{
		UserID:      msg.UserID,
		DraftID:     draft.ID,
		AddressID:   address.ID,
		MessageID:   msg.ID,
		Status:      models.OrderStatusPaymentPending,
		PaymentType: paymentType,
	})
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	if err := uow.Messages().UpdateReferences(ctx, msg.ID, draft.ID, order.ID); err != nil {
		return err
	}
	msg.DraftReferenced = draft.ID
	msg.OrderReferenced = order.ID

	if paymentType == models.PaymentTypeCredits {
		text, err := s.copy(ctx, uow, "send-success-credits", user.LetterCredits)
		if err != nil {
			return err
		}
		confirmLabel, err := s.copy(ctx, uow, "send-option-confirm_sending")
		if err != nil {
			return err
		}
		cancelLabel, err := s.copy(ctx, uow, "send-option-cancel_sending")
		if err != nil {
			return err
		}
		_, err = msgr.ReplyButtons(ctx, msg, text, cancelLabel, confirmLabel, uow)
		return err
	}

	return s.replyCopy(ctx, msg, uow, msgr, "send-success-direct",
		s.payments.PaymentLink(1, order.ID),
		s.payments.PaymentLink(5, order.ID),
		s.payments.PaymentLink(10, order.ID))
}

func (s *Service) handleSendCallback(ctx context.Context, msg models.Message, uow storage.UnitOfWork, msgr messenger.Messenger) error {
	proposal, _, err := ResolveProposal(ctx, msg, uow)
	if err != nil {
		return err
	}
	if !msg.Confirmed() {
		text, err := s.copy(ctx, uow, "send_callback-cancel")
		if err != nil {
			return err
		}
		_, err = msgr.ReplyEditOrText(ctx, msg, text, uow)
		return err
	}
	if proposal.OrderReferenced == "" {
		return fmt.Errorf("proposal %s references no order: %w", proposal.ID, ErrChainBroken)
	}
	order, err := uow.Orders().Get(ctx, proposal.OrderReferenced)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", proposal.OrderReferenced, err)
	}

	dispatched, err := s.DispatchOrder(ctx, uow, order)
	if err != nil {
		return err
	}
	if dispatched && order.PaymentType == models.PaymentTypeCredits {
		user, err := uow.Users().Get(ctx, order.UserID)
		if err != nil {
			return fmt.Errorf("failed to load user %s: %w", order.UserID, err)
		}
		if err := uow.Users().UpdateCredits(ctx, user.ID, user.LetterCredits-1); err != nil {
			return err
		}
	}

	text, err := s.copy(ctx, uow, "send_callback-confirm")
	if err != nil {
		return err
	}
	_, err = msgr.ReplyEditOrText(ctx, msg, text, uow)
	return err
}
