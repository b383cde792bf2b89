package letters

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/storage"
)

// ErrChainBroken marks a confirmation chain that cannot be resolved: a
// referenced message is missing or carries no command. Surfaced as an
// internal error, never retried.
var ErrChainBroken = errors.New("confirmation chain broken")

// ResolveProposal follows the two-hop chain behind a callback message: the
// callback replies to the proposal, the proposal replies to the original
// inbound command message. All state a callback commit needs is re-derived
// from those two rows; nothing is cached between requests.
func ResolveProposal(ctx context.Context, callback models.Message, uow storage.UnitOfWork) (proposal, original models.Message, err error) {
	if callback.ResponseTo == "" {
		return models.Message{}, models.Message{},
			fmt.Errorf("callback %s has no response_to: %w", callback.ID, ErrChainBroken)
	}
	proposal, err = uow.Messages().Get(ctx, callback.ResponseTo)
	if err != nil {
		return models.Message{}, models.Message{},
			fmt.Errorf("proposal %s: %v: %w", callback.ResponseTo, err, ErrChainBroken)
	}
	if proposal.ResponseTo == "" {
		return models.Message{}, models.Message{},
			fmt.Errorf("proposal %s has no response_to: %w", proposal.ID, ErrChainBroken)
	}
	original, err = uow.Messages().Get(ctx, proposal.ResponseTo)
	if err != nil {
		return models.Message{}, models.Message{},
			fmt.Errorf("original message %s: %v: %w", proposal.ResponseTo, err, ErrChainBroken)
	}
	if original.Command == "" {
		return models.Message{}, models.Message{},
			fmt.Errorf("original message %s carries no command: %w", original.ID, ErrChainBroken)
	}
	return proposal, original, nil
}
