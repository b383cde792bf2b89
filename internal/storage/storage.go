package storage

import (
	"context"
	"errors"

	"github.com/voxpost/internal/blob"
	"github.com/voxpost/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate")
)

// UserRepo persists users.
type UserRepo interface {
	Add(ctx context.Context, u models.User) (models.User, error)
	Get(ctx context.Context, id string) (models.User, error)
	GetByPhone(ctx context.Context, phone string) (models.User, error)
	GetByTelegramID(ctx context.Context, telegramID string) (models.User, error)
	UpdatePrompt(ctx context.Context, id, prompt string) error
	UpdateCredits(ctx context.Context, id string, credits int) error
}

// MessageRepo persists the append-only message log.
type MessageRepo interface {
	Add(ctx context.Context, m models.Message) (models.Message, error)
	Get(ctx context.Context, id string) (models.Message, error)
	// GetByWhatsappMID resolves a Cloud API message id to its record; used
	// to follow button-reply contexts.
	GetByWhatsappMID(ctx context.Context, mid string) (models.Message, error)
	// UpdateReferences back-fills draft/order references on an existing
	// record within the same logical operation.
	UpdateReferences(ctx context.Context, id, draftID, orderID string) error
	// UpdateTranscript back-fills the transcript on an audio message once
	// transcription completes.
	UpdateTranscript(ctx context.Context, id, transcript string) error
}

// FileRepo persists pointers to blob content.
type FileRepo interface {
	Add(ctx context.Context, f models.File) (models.File, error)
	GetByMessage(ctx context.Context, messageID string) (models.File, error)
}

// AddressRepo persists the user's address book. Addresses are ordered by
// creation time; edits are delete-and-recreate.
type AddressRepo interface {
	Add(ctx context.Context, a models.Address) (models.Address, error)
	Get(ctx context.Context, id string) (models.Address, error)
	ListByUser(ctx context.Context, userID string) ([]models.Address, error)
	Delete(ctx context.Context, id string) error
}

// DraftRepo persists letter drafts.
type DraftRepo interface {
	Add(ctx context.Context, d models.Draft) (models.Draft, error)
	Get(ctx context.Context, id string) (models.Draft, error)
	// LastByUser returns the newest draft of a user, or ErrNotFound.
	LastByUser(ctx context.Context, userID string) (models.Draft, error)
}

// OrderRepo persists orders.
type OrderRepo interface {
	Add(ctx context.Context, o models.Order) (models.Order, error)
	Get(ctx context.Context, id string) (models.Order, error)
	// MarkTransferred flips the order to transferred only when it is not
	// already transferred. Reports whether this call performed the flip.
	MarkTransferred(ctx context.Context, id string) (bool, error)
}

// SystemMessageRepo resolves reply copy by identifier.
type SystemMessageRepo interface {
	Get(ctx context.Context, id string) (string, error)
}

// UnitOfWork bundles the repositories and blob stores of one logical
// operation. SQL repositories share one transaction; Commit/Rollback end it.
// Blob writes are not transactional with the SQL work.
type UnitOfWork interface {
	Users() UserRepo
	Messages() MessageRepo
	Files() FileRepo
	Addresses() AddressRepo
	Drafts() DraftRepo
	Orders() OrderRepo
	SystemMessages() SystemMessageRepo
	Memos() blob.Store
	Letters() blob.Store

	Commit() error
	Rollback() error
}

// Factory opens fresh units of work, one per webhook request.
type Factory interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}
