package service

import (
	"context"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
)

// UserStore persists users. GetUser and GetUserByUsername return
// models.ErrUserNotFound when nothing matches.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// CardStore persists cards. Lookups by id return models.ErrCardNotFound when
// the card does not exist. UpdateCard writes metadata and status only; balances
// change exclusively through LedgerStore.ApplyTransfer.
type CardStore interface {
	// ReserveNumber records a card number fingerprint as issued. It returns
	// false if the fingerprint was issued before, even to a deleted card.
	ReserveNumber(ctx context.Context, fingerprint string) (bool, error)
	CreateCard(ctx context.Context, card *models.Card) error
	GetCard(ctx context.Context, id uuid.UUID) (*models.Card, error)
	ListCardsByOwner(ctx context.Context, ownerID uuid.UUID, page models.Page) ([]models.Card, error)
	ListCards(ctx context.Context, page models.Page) ([]models.Card, error)
	ListActiveCardsExpiringIn(ctx context.Context, month models.YearMonth) ([]models.Card, error)
	UpdateCard(ctx context.Context, card *models.Card) error
	DeleteCard(ctx context.Context, id uuid.UUID) error
}

// LedgerStore commits transfers. ApplyTransfer debits the source, credits the
// destination and appends rec as one atomic unit; it fails with
// models.ErrInsufficientFunds rather than leave a negative balance.
type LedgerStore interface {
	ApplyTransfer(ctx context.Context, rec *models.TransferRecord) error
	ListTransfersByCard(ctx context.Context, cardID uuid.UUID) ([]models.TransferRecord, error)
}

// NumberCipher is the encryption boundary for card numbers.
type NumberCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
	Fingerprint(plaintext string) string
}

// TransferObserver is told about every committed transfer. It runs after the
// card locks are released and cannot change the transfer result.
type TransferObserver interface {
	TransferCompleted(ctx context.Context, rec models.TransferRecord)
}
