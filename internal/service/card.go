package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Dan9191/bankcards/internal/lock"
	"github.com/Dan9191/bankcards/internal/metrics"
	"github.com/Dan9191/bankcards/internal/models"
	"github.com/Dan9191/bankcards/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultLockTimeout bounds how long an operation waits for card locks
const DefaultLockTimeout = 2 * time.Second

// CardService is the card registry: creation, metadata, the status state
// machine and masked reads.
type CardService struct {
	cards       CardStore
	users       UserStore
	issuer      *Issuer
	guard       *Guard
	cipher      NumberCipher
	locker      lock.Locker
	lockTimeout time.Duration
	log         *logrus.Logger
	now         func() time.Time
}

// NewCardService initializes a new card service
func NewCardService(cards CardStore, users UserStore, issuer *Issuer, guard *Guard, cipher NumberCipher,
	locker lock.Locker, lockTimeout time.Duration, log *logrus.Logger) *CardService {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &CardService{
		cards:       cards,
		users:       users,
		issuer:      issuer,
		guard:       guard,
		cipher:      cipher,
		locker:      locker,
		lockTimeout: lockTimeout,
		log:         log,
		now:         time.Now,
	}
}

// Create issues a new card for an existing owner
func (s *CardService) Create(ctx context.Context, caller models.Caller, req models.NewCardRequest) (*models.CardView, error) {
	if err := s.guard.RequireAdmin(caller); err != nil {
		return nil, err
	}
	if req.InitialBalance.IsNegative() {
		s.log.Warnf("Attempt to create card with negative balance %s", req.InitialBalance)
		return nil, fmt.Errorf("initial balance %s: %w", req.InitialBalance, models.ErrInvalidBalance)
	}
	ownerName, err := validateOwnerName(req.OwnerName)
	if err != nil {
		return nil, err
	}
	if req.ExpirationDate.IsZero() {
		return nil, fmt.Errorf("expiration date is required: %w", models.ErrInvalidCard)
	}

	if _, err := s.users.GetUser(ctx, req.OwnerID); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, fmt.Errorf("user %s: %w", req.OwnerID, models.ErrOwnerNotFound)
		}
		return nil, err
	}

	issued, err := s.issuer.Issue(ctx)
	if err != nil {
		if errors.Is(err, models.ErrNumberSpaceExhausted) {
			return nil, fmt.Errorf("%w: %w", models.ErrDuplicateCardNumber, err)
		}
		return nil, err
	}

	now := s.now().UTC()
	card := &models.Card{
		ID:             uuid.New(),
		NumberToken:    issued.Token,
		NumberHash:     issued.Fingerprint,
		OwnerName:      ownerName,
		ExpirationDate: req.ExpirationDate,
		Status:         models.StatusFor(req.ExpirationDate, now),
		Balance:        req.InitialBalance,
		OwnerID:        req.OwnerID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.cards.CreateCard(ctx, card); err != nil {
		return nil, err
	}

	metrics.CardsIssuedTotal.Inc()
	s.log.Infof("Card %s created for user %s with status %s", card.ID, card.OwnerID, card.Status)
	return s.view(card)
}

// Get returns a card the caller may see
func (s *CardService) Get(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.CardView, error) {
	card, err := s.cards.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(caller, card); err != nil {
		return nil, err
	}
	return s.view(card)
}

// GetBalance returns the current balance of a card the caller may see
func (s *CardService) GetBalance(ctx context.Context, caller models.Caller, id uuid.UUID) (decimal.Decimal, error) {
	card, err := s.cards.GetCard(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.guard.Authorize(caller, card); err != nil {
		return decimal.Zero, err
	}
	return card.Balance, nil
}

// ListByOwner lists one owner's cards; users may only list their own
func (s *CardService) ListByOwner(ctx context.Context, caller models.Caller, ownerID uuid.UUID, page models.Page) ([]models.CardView, error) {
	if !caller.IsAdmin() && caller.ID != ownerID {
		s.log.Warnf("Caller %s attempted to list cards of user %s", caller.ID, ownerID)
		return nil, fmt.Errorf("cards of user %s: %w", ownerID, models.ErrAccessDenied)
	}
	cards, err := s.cards.ListCardsByOwner(ctx, ownerID, page.Normalize())
	if err != nil {
		return nil, err
	}
	return s.views(cards)
}

// ListAll lists every card in the system
func (s *CardService) ListAll(ctx context.Context, caller models.Caller, page models.Page) ([]models.CardView, error) {
	if err := s.guard.RequireAdmin(caller); err != nil {
		return nil, err
	}
	cards, err := s.cards.ListCards(ctx, page.Normalize())
	if err != nil {
		return nil, err
	}
	return s.views(cards)
}

// UpdateMetadata changes owner name and/or expiration date. A new expiration
// date re-derives the status; balance and number are never touched.
func (s *CardService) UpdateMetadata(ctx context.Context, caller models.Caller, id uuid.UUID, upd models.CardUpdate) (*models.CardView, error) {
	if err := s.guard.RequireAdmin(caller); err != nil {
		return nil, err
	}
	var ownerName string
	if upd.OwnerName != nil {
		name, err := validateOwnerName(*upd.OwnerName)
		if err != nil {
			return nil, err
		}
		ownerName = name
	}
	if upd.ExpirationDate != nil && upd.ExpirationDate.IsZero() {
		return nil, fmt.Errorf("expiration date is empty: %w", models.ErrInvalidCard)
	}

	card, err := s.mutate(ctx, id, func(card *models.Card) error {
		if upd.OwnerName != nil {
			card.OwnerName = ownerName
		}
		if upd.ExpirationDate != nil {
			card.SetExpiration(*upd.ExpirationDate, s.now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Card %s updated, status %s", id, card.Status)
	return s.view(card)
}

// Block moves an active card to BLOCKED
func (s *CardService) Block(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.CardView, error) {
	if err := s.guard.RequireAdmin(caller); err != nil {
		return nil, err
	}
	card, err := s.mutate(ctx, id, (*models.Card).Block)
	if err != nil {
		if errors.Is(err, models.ErrInvalidOperation) {
			s.log.Warnf("Rejected block of card %s: %v", id, err)
		}
		return nil, err
	}
	s.log.Infof("Card %s blocked", id)
	return s.view(card)
}

// Activate moves a blocked card back to ACTIVE
func (s *CardService) Activate(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.CardView, error) {
	if err := s.guard.RequireAdmin(caller); err != nil {
		return nil, err
	}
	card, err := s.mutate(ctx, id, (*models.Card).Activate)
	if err != nil {
		if errors.Is(err, models.ErrInvalidOperation) {
			s.log.Warnf("Rejected activation of card %s: %v", id, err)
		}
		return nil, err
	}
	s.log.Infof("Card %s activated", id)
	return s.view(card)
}

// Delete removes a card. Its number stays retired and its ledger records remain.
func (s *CardService) Delete(ctx context.Context, caller models.Caller, id uuid.UUID) error {
	if err := s.guard.RequireAdmin(caller); err != nil {
		return err
	}
	release, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := s.cards.DeleteCard(ctx, id); err != nil {
		return err
	}
	s.log.Infof("Card %s deleted", id)
	return nil
}

// mutate applies fn to the stored card while holding its lock, so status
// changes never interleave with a transfer that already checked the status.
func (s *CardService) mutate(ctx context.Context, id uuid.UUID, fn func(*models.Card) error) (*models.Card, error) {
	release, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	card, err := s.cards.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(card); err != nil {
		return nil, err
	}
	card.UpdatedAt = s.now().UTC()
	if err := s.cards.UpdateCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

func (s *CardService) lock(ctx context.Context, ids ...uuid.UUID) (func(), error) {
	return acquireCards(ctx, s.locker, s.lockTimeout, ids...)
}

func (s *CardService) view(card *models.Card) (*models.CardView, error) {
	return cardView(s.cipher, card)
}

func (s *CardService) views(cards []models.Card) ([]models.CardView, error) {
	out := make([]models.CardView, 0, len(cards))
	for i := range cards {
		v, err := s.view(&cards[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// cardView decrypts the number only to mask it.
func cardView(cipher NumberCipher, card *models.Card) (*models.CardView, error) {
	number, err := cipher.Decrypt(card.NumberToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt number of card %s: %w", card.ID, err)
	}
	return &models.CardView{
		ID:             card.ID,
		MaskedNumber:   utils.MaskCardNumber(number),
		OwnerName:      card.OwnerName,
		ExpirationDate: card.ExpirationDate,
		Status:         card.Status,
		Balance:        card.Balance,
		OwnerID:        card.OwnerID,
	}, nil
}

func validateOwnerName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("owner name is required: %w", models.ErrInvalidCard)
	}
	if utf8.RuneCountInString(name) > models.MaxOwnerNameLength {
		return "", fmt.Errorf("owner name longer than %d characters: %w", models.MaxOwnerNameLength, models.ErrInvalidCard)
	}
	return name, nil
}

// acquireCards locks the given cards in id order, waiting at most timeout.
func acquireCards(ctx context.Context, locker lock.Locker, timeout time.Duration, ids ...uuid.UUID) (func(), error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	release, err := locker.Acquire(lockCtx, keys...)
	metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return nil, fmt.Errorf("cards %v: %w", keys, models.ErrBusy)
		}
		return nil, fmt.Errorf("failed to lock cards: %w", err)
	}
	return release, nil
}
