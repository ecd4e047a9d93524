package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CardStatus is the lifecycle state of a card
type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	CardStatusExpired CardStatus = "EXPIRED"
)

// ParseCardStatus validates a stored status value.
func ParseCardStatus(s string) (CardStatus, error) {
	switch CardStatus(s) {
	case CardStatusActive, CardStatusBlocked, CardStatusExpired:
		return CardStatus(s), nil
	}
	return "", fmt.Errorf("invalid card status: %q", s)
}

// StatusFor derives the status a card gets when its expiration date is set.
func StatusFor(expiration YearMonth, now time.Time) CardStatus {
	if expiration.Before(YearMonthOf(now)) {
		return CardStatusExpired
	}
	return CardStatusActive
}

// MaxOwnerNameLength is measured in runes.
const MaxOwnerNameLength = 50

// Card represents a bank card. NumberToken is the encrypted card number and
// NumberHash its keyed fingerprint; neither is ever serialized.
type Card struct {
	ID             uuid.UUID       `json:"id"`
	NumberToken    string          `json:"-"`
	NumberHash     string          `json:"-"`
	OwnerName      string          `json:"owner_name"`
	ExpirationDate YearMonth       `json:"expiration_date"`
	Status         CardStatus      `json:"status"`
	Balance        decimal.Decimal `json:"balance"`
	OwnerID        uuid.UUID       `json:"owner_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CardView is what leaves the core: the number is always masked.
type CardView struct {
	ID             uuid.UUID       `json:"id"`
	MaskedNumber   string          `json:"masked_card_number"`
	OwnerName      string          `json:"owner_name"`
	ExpirationDate YearMonth       `json:"expiration_date"`
	Status         CardStatus      `json:"status"`
	Balance        decimal.Decimal `json:"balance"`
	OwnerID        uuid.UUID       `json:"owner_id"`
}

// NewCardRequest carries the caller-supplied fields for card creation
type NewCardRequest struct {
	OwnerID        uuid.UUID
	OwnerName      string
	ExpirationDate YearMonth
	InitialBalance decimal.Decimal
}

// CardUpdate is a partial update; nil fields are left untouched
type CardUpdate struct {
	OwnerName      *string
	ExpirationDate *YearMonth
}

// Page selects a slice of an ordered listing.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	// MaxPageNumber keeps Number*Size within int.
	MaxPageNumber = math.MaxInt / MaxPageSize
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Number > MaxPageNumber {
		p.Number = MaxPageNumber
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset is the number of rows to skip.
func (p Page) Offset() int {
	if p.Number <= 0 || p.Size <= 0 {
		return 0
	}
	if p.Number > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return p.Number * p.Size
}

// Block moves an active card to BLOCKED.
func (c *Card) Block() error {
	switch c.Status {
	case CardStatusBlocked:
		return fmt.Errorf("card is already blocked: %w", ErrInvalidOperation)
	case CardStatusExpired:
		return fmt.Errorf("cannot block an expired card: %w", ErrInvalidOperation)
	}
	c.Status = CardStatusBlocked
	return nil
}

// Activate moves a blocked card back to ACTIVE.
func (c *Card) Activate() error {
	switch c.Status {
	case CardStatusActive:
		return fmt.Errorf("card is already active: %w", ErrInvalidOperation)
	case CardStatusExpired:
		return fmt.Errorf("cannot activate an expired card: %w", ErrInvalidOperation)
	}
	c.Status = CardStatusActive
	return nil
}

// SetExpiration changes the expiration date and re-derives the status the
// same way creation does. This is the only path into EXPIRED and out of it.
func (c *Card) SetExpiration(expiration YearMonth, now time.Time) {
	c.ExpirationDate = expiration
	c.Status = StatusFor(expiration, now)
}
