// Package memory is an in-process store with the same semantics as the
// Postgres repository. Values are copied in and out so callers never share
// state with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store holds users, cards, issued number fingerprints and the transfer ledger
type Store struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]models.User
	usernames map[string]uuid.UUID
	cards     map[uuid.UUID]models.Card
	issued    map[string]struct{}
	transfers []models.TransferRecord
}

func New() *Store {
	return &Store{
		users:     make(map[uuid.UUID]models.User),
		usernames: make(map[string]uuid.UUID),
		cards:     make(map[uuid.UUID]models.Card),
		issued:    make(map[string]struct{}),
	}
}

func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usernames[user.Username]; ok {
		return fmt.Errorf("user %s: %w", user.Username, models.ErrUserExists)
	}
	s.users[user.ID] = *user
	s.usernames[user.Username] = user.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrUserNotFound)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, models.ErrUserNotFound)
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) ReserveNumber(_ context.Context, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issued[fingerprint]; ok {
		return false, nil
	}
	s.issued[fingerprint] = struct{}{}
	return true, nil
}

func (s *Store) CreateCard(_ context.Context, card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cards {
		if c.NumberHash == card.NumberHash {
			return fmt.Errorf("card %s: %w", card.ID, models.ErrDuplicateCardNumber)
		}
	}
	s.cards[card.ID] = *card
	return nil
}

func (s *Store) GetCard(_ context.Context, id uuid.UUID) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %s: %w", id, models.ErrCardNotFound)
	}
	return &c, nil
}

func (s *Store) ListCardsByOwner(_ context.Context, ownerID uuid.UUID, page models.Page) ([]models.Card, error) {
	return s.list(page, func(c models.Card) bool { return c.OwnerID == ownerID }), nil
}

func (s *Store) ListCards(_ context.Context, page models.Page) ([]models.Card, error) {
	return s.list(page, func(models.Card) bool { return true }), nil
}

func (s *Store) ListActiveCardsExpiringIn(_ context.Context, month models.YearMonth) ([]models.Card, error) {
	return s.list(models.Page{Size: -1}, func(c models.Card) bool {
		return c.Status == models.CardStatusActive && c.ExpirationDate == month
	}), nil
}

// list filters and orders by creation time, then id. A negative page size
// returns everything.
func (s *Store) list(page models.Page, keep func(models.Card) bool) []models.Card {
	s.mu.RLock()
	out := make([]models.Card, 0)
	for _, c := range s.cards {
		if keep(c) {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if page.Size < 0 {
		return out
	}
	from := page.Offset()
	if from < 0 || from >= len(out) {
		return []models.Card{}
	}
	to := from + page.Size
	if to > len(out) || to < from {
		to = len(out)
	}
	return out[from:to]
}

func (s *Store) UpdateCard(_ context.Context, card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.cards[card.ID]
	if !ok {
		return fmt.Errorf("card %s: %w", card.ID, models.ErrCardNotFound)
	}
	stored.OwnerName = card.OwnerName
	stored.ExpirationDate = card.ExpirationDate
	stored.Status = card.Status
	stored.UpdatedAt = card.UpdatedAt
	s.cards[card.ID] = stored
	return nil
}

// DeleteCard keeps the number fingerprint reserved.
func (s *Store) DeleteCard(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[id]; !ok {
		return fmt.Errorf("card %s: %w", id, models.ErrCardNotFound)
	}
	delete(s.cards, id)
	return nil
}

func (s *Store) ApplyTransfer(_ context.Context, rec *models.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.cards[rec.SourceCardID]
	if !ok {
		return fmt.Errorf("source card %s: %w", rec.SourceCardID, models.ErrCardNotFound)
	}
	destination, ok := s.cards[rec.DestinationCardID]
	if !ok {
		return fmt.Errorf("destination card %s: %w", rec.DestinationCardID, models.ErrCardNotFound)
	}

	if err := adjustBalance(&source, rec.Amount.Neg()); err != nil {
		return err
	}
	if err := adjustBalance(&destination, rec.Amount); err != nil {
		return err
	}

	source.UpdatedAt = rec.Timestamp
	destination.UpdatedAt = rec.Timestamp
	s.cards[source.ID] = source
	s.cards[destination.ID] = destination
	s.transfers = append(s.transfers, *rec)
	return nil
}

// adjustBalance refuses to drive a balance below zero.
func adjustBalance(card *models.Card, delta decimal.Decimal) error {
	next := card.Balance.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("card %s: %w", card.ID, models.ErrInsufficientFunds)
	}
	card.Balance = next
	return nil
}

func (s *Store) ListTransfersByCard(_ context.Context, cardID uuid.UUID) ([]models.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TransferRecord, 0)
	for _, r := range s.transfers {
		if r.Involves(cardID) {
			out = append(out, r)
		}
	}
	return out, nil
}
