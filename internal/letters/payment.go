package letters

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/voxpost/internal/messenger"
	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/payments"
	"github.com/voxpost/internal/storage"
)

// PaymentResult reports what a checkout event did.
type PaymentResult struct {
	Handled       bool
	Dispatched    bool
	Message       models.Message // the inbound message that triggered the order
	CreditsBought int
	Balance       int
}

// MessengerResolver looks up the adapter for a platform.
type MessengerResolver func(models.Platform) (messenger.Messenger, bool)

// HandlePayment processes a decoded checkout event: credit the user,
// dispatch the paid order and confirm on the originating platform. A
// redelivered event finds the order already transferred and does nothing.
func (s *Service) HandlePayment(ctx context.Context, event payments.Event, uow storage.UnitOfWork, resolve MessengerResolver) (PaymentResult, error) {
	if event.Type != payments.EventCheckoutCompleted {
		log.Info().Str("type", event.Type).Msg("ignoring payment event")
		return PaymentResult{}, nil
	}
	if event.OrderID == "" {
		return PaymentResult{}, fmt.Errorf("checkout event %s has no client_reference_id", event.SessionID)
	}
	order, err := uow.Orders().Get(ctx, event.OrderID)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("failed to load order %s: %w", event.OrderID, err)
	}
	origMsg, err := uow.Messages().Get(ctx, order.MessageID)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("failed to load order message %s: %w", order.MessageID, err)
	}
	if order.Status == models.OrderStatusTransferred {
		log.Info().Str("order_id", order.ID).Msg("duplicate payment event for transferred order")
		return PaymentResult{Handled: true, Message: origMsg}, nil
	}

	creditsBought := s.payments.Credits(event.PaymentLinkID)
	user, err := uow.Users().Get(ctx, order.UserID)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("failed to load user %s: %w", order.UserID, err)
	}
	balance := user.LetterCredits + creditsBought

	dispatched, err := s.DispatchOrder(ctx, uow, order)
	if err != nil {
		return PaymentResult{}, err
	}
	if dispatched {
		balance--
	}
	if err := uow.Users().UpdateCredits(ctx, user.ID, balance); err != nil {
		return PaymentResult{}, err
	}

	result := PaymentResult{
		Handled:       true,
		Dispatched:    dispatched,
		Message:       origMsg,
		CreditsBought: creditsBought,
		Balance:       balance,
	}
	msgr, ok := resolve(origMsg.Platform)
	if !ok {
		log.Warn().Str("platform", string(origMsg.Platform)).Str("order_id", order.ID).
			Msg("no messenger configured for payment confirmation")
		return result, nil
	}
	if creditsBought > 1 {
		if err := s.replyCopy(ctx, origMsg, uow, msgr, "payment-success-credits", creditsBought, balance); err != nil {
			return result, err
		}
	}
	if dispatched {
		if err := s.replyCopy(ctx, origMsg, uow, msgr, "payment-success", balance); err != nil {
			return result, err
		}
	}
	return result, nil
}
