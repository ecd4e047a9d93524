package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/bankcards/internal/lock"
	"github.com/Dan9191/bankcards/internal/metrics"
	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TransferRequest moves Amount from Source to Destination
type TransferRequest struct {
	Source      uuid.UUID
	Destination uuid.UUID
	Amount      decimal.Decimal
}

// TransferService moves funds between cards and reads the transfer ledger.
// Transfers are not idempotent: every call is a new attempt.
type TransferService struct {
	cards       CardStore
	ledger      LedgerStore
	guard       *Guard
	locker      lock.Locker
	lockTimeout time.Duration
	observers   []TransferObserver
	log         *logrus.Logger
	now         func() time.Time
}

// NewTransferService initializes a new transfer service
func NewTransferService(cards CardStore, ledger LedgerStore, guard *Guard, locker lock.Locker,
	lockTimeout time.Duration, log *logrus.Logger, observers ...TransferObserver) *TransferService {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &TransferService{
		cards:       cards,
		ledger:      ledger,
		guard:       guard,
		locker:      locker,
		lockTimeout: lockTimeout,
		observers:   observers,
		log:         log,
		now:         time.Now,
	}
}

// Transfer checks, in order: positive amount, both cards exist, caller may act
// on both, distinct cards, both active, sufficient funds. The first failure
// wins and leaves every balance untouched.
func (s *TransferService) Transfer(ctx context.Context, caller models.Caller, req TransferRequest) (rec *models.TransferRecord, err error) {
	defer func() {
		result := "success"
		if err != nil {
			result = models.CodeOf(err)
		}
		metrics.TransfersTotal.WithLabelValues(result).Inc()
	}()

	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("amount %s: %w", req.Amount, models.ErrInvalidAmount)
	}

	source, err := s.cards.GetCard(ctx, req.Source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	destination, err := s.cards.GetCard(ctx, req.Destination)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}

	if err := s.guard.Authorize(caller, source); err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(caller, destination); err != nil {
		return nil, err
	}

	if source.ID == destination.ID {
		s.log.Warnf("Attempt to transfer to the same card %s", source.ID)
		return nil, fmt.Errorf("card %s: %w", source.ID, models.ErrSameCardTransfer)
	}

	rec, err = s.commit(ctx, req)
	if err != nil {
		s.log.Warnf("Transfer %s -> %s of %s rejected: %v", req.Source, req.Destination, req.Amount, err)
		return nil, err
	}

	s.log.Infof("Transfer %s completed: %s -> %s, amount %s", rec.ID, rec.SourceCardID, rec.DestinationCardID, rec.Amount)
	s.notify(ctx, *rec)
	return rec, nil
}

// commit holds both card locks from the final checks until the ledger write.
func (s *TransferService) commit(ctx context.Context, req TransferRequest) (*models.TransferRecord, error) {
	release, err := acquireCards(ctx, s.locker, s.lockTimeout, req.Source, req.Destination)
	if err != nil {
		return nil, err
	}
	defer release()

	// re-read under the locks; the earlier reads may be stale
	source, err := s.cards.GetCard(ctx, req.Source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	destination, err := s.cards.GetCard(ctx, req.Destination)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}

	for _, card := range []*models.Card{source, destination} {
		if card.Status != models.CardStatusActive {
			return nil, fmt.Errorf("card %s is %s: %w", card.ID, card.Status, models.ErrCardNotActive)
		}
	}
	if source.Balance.LessThan(req.Amount) {
		return nil, fmt.Errorf("card %s: %w", source.ID, models.ErrInsufficientFunds)
	}

	rec := &models.TransferRecord{
		ID:                uuid.New(),
		SourceCardID:      source.ID,
		DestinationCardID: destination.ID,
		Amount:            req.Amount,
		Timestamp:         s.now().UTC(),
		Outcome:           models.OutcomeSuccess,
	}
	if err := s.ledger.ApplyTransfer(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *TransferService) notify(ctx context.Context, rec models.TransferRecord) {
	for _, o := range s.observers {
		o.TransferCompleted(ctx, rec)
	}
}

// ListByCard returns the ledger entries in which the card is either leg, oldest first
func (s *TransferService) ListByCard(ctx context.Context, caller models.Caller, cardID uuid.UUID) ([]models.TransferRecord, error) {
	card, err := s.cards.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(caller, card); err != nil {
		return nil, err
	}
	return s.ledger.ListTransfersByCard(ctx, cardID)
}
