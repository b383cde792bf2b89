package letters

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/pdf"
	"github.com/voxpost/internal/storage"
)

// createDraft renders the letter PDF, uploads it to blob storage and
// inserts the Draft row. Orphaned blobs from a crash between upload and
// insert are harmless; nothing references them.
func createDraft(ctx context.Context, uow storage.UnitOfWork, draft models.Draft) (models.Draft, []byte, error) {
	pdfBytes, err := pdf.Render(draft.Text)
	if err != nil {
		return models.Draft{}, nil, err
	}
	draft.ID = uuid.NewString()
	draft.BlobPath = fmt.Sprintf("drafts/%s.pdf", draft.ID)
	if err := uow.Letters().Put(ctx, draft.BlobPath, pdfBytes); err != nil {
		return models.Draft{}, nil, fmt.Errorf("failed to upload draft pdf: %w", err)
	}
	stored, err := uow.Drafts().Add(ctx, draft)
	if err != nil {
		return models.Draft{}, nil, fmt.Errorf("failed to insert draft: %w", err)
	}
	return stored, pdfBytes, nil
}

// DispatchOrder hands an order's PDF to the mail provider and flips the
// order to transferred. It must run at most once per order: the status is
// checked up front and the conditional flip catches a concurrent race. The
// order id doubles as the provider idempotency key so even a lost race
// cannot print twice.
func (s *Service) DispatchOrder(ctx context.Context, uow storage.UnitOfWork, order models.Order) (bool, error) {
	if order.Status == models.OrderStatusTransferred {
		return false, nil
	}
	draft, err := uow.Drafts().Get(ctx, order.DraftID)
	if err != nil {
		return false, fmt.Errorf("failed to load draft %s for order %s: %w", order.DraftID, order.ID, err)
	}
	pdfBytes, err := uow.Letters().Get(ctx, draft.BlobPath)
	if err != nil {
		return false, fmt.Errorf("failed to download draft pdf for order %s: %w", order.ID, err)
	}
	receipt, err := s.dispatcher.SendLetter(ctx, pdfBytes, "letter.pdf", order.ID)
	if err != nil {
		// The order stays in payment_pending; webhook redelivery retries.
		return false, fmt.Errorf("mail dispatch failed for order %s: %w", order.ID, err)
	}
	flipped, err := uow.Orders().MarkTransferred(ctx, order.ID)
	if err != nil {
		return false, fmt.Errorf("failed to mark order %s transferred: %w", order.ID, err)
	}
	log.Info().Str("order_id", order.ID).Str("receipt", receipt).Bool("flipped", flipped).
		Msg("letter dispatched")
	return flipped, nil
}
