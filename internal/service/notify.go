package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DirectionDebit  = "Debit"
	DirectionCredit = "Credit"
)

// Mailer sends card notifications to owners.
type Mailer interface {
	SendTransferNotification(to, username, maskedNumber string, amount decimal.Decimal, direction string, balance decimal.Decimal) error
	SendExpiryReminder(to, username, maskedNumber string, expiration models.YearMonth) error
}

// ReceiptObserver emails both card owners after a transfer.
type ReceiptObserver struct {
	cards  CardStore
	users  UserStore
	cipher NumberCipher
	mailer Mailer
	log    *logrus.Logger
}

func NewReceiptObserver(cards CardStore, users UserStore, cipher NumberCipher, mailer Mailer, log *logrus.Logger) *ReceiptObserver {
	return &ReceiptObserver{cards: cards, users: users, cipher: cipher, mailer: mailer, log: log}
}

func (o *ReceiptObserver) TransferCompleted(ctx context.Context, rec models.TransferRecord) {
	if err := o.send(ctx, rec.SourceCardID, rec.Amount, DirectionDebit); err != nil {
		o.log.Errorf("Failed to send debit receipt for transfer %s: %v", rec.ID, err)
	}
	if err := o.send(ctx, rec.DestinationCardID, rec.Amount, DirectionCredit); err != nil {
		o.log.Errorf("Failed to send credit receipt for transfer %s: %v", rec.ID, err)
	}
}

func (o *ReceiptObserver) send(ctx context.Context, cardID uuid.UUID, amount decimal.Decimal, direction string) error {
	card, err := o.cards.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	user, err := o.users.GetUser(ctx, card.OwnerID)
	if err != nil {
		return err
	}
	view, err := cardView(o.cipher, card)
	if err != nil {
		return err
	}
	return o.mailer.SendTransferNotification(user.Email, user.Username, view.MaskedNumber, amount, direction, card.Balance)
}

// ExpiryReminder tells owners that a card expires this month. It only reads;
// card status is never changed here.
type ExpiryReminder struct {
	cards  CardStore
	users  UserStore
	cipher NumberCipher
	mailer Mailer
	log    *logrus.Logger
	now    func() time.Time
}

func NewExpiryReminder(cards CardStore, users UserStore, cipher NumberCipher, mailer Mailer, log *logrus.Logger) *ExpiryReminder {
	return &ExpiryReminder{cards: cards, users: users, cipher: cipher, mailer: mailer, log: log, now: time.Now}
}

// Run sends one reminder per active card expiring in the current month and
// returns how many were sent.
func (r *ExpiryReminder) Run(ctx context.Context) (int, error) {
	month := models.YearMonthOf(r.now())
	cards, err := r.cards.ListActiveCardsExpiringIn(ctx, month)
	if err != nil {
		return 0, fmt.Errorf("failed to list expiring cards: %w", err)
	}

	sent := 0
	for i := range cards {
		card := &cards[i]
		user, err := r.users.GetUser(ctx, card.OwnerID)
		if err != nil {
			r.log.Errorf("Expiry reminder for card %s: %v", card.ID, err)
			continue
		}
		view, err := cardView(r.cipher, card)
		if err != nil {
			r.log.Errorf("Expiry reminder for card %s: %v", card.ID, err)
			continue
		}
		if err := r.mailer.SendExpiryReminder(user.Email, user.Username, view.MaskedNumber, card.ExpirationDate); err != nil {
			r.log.Errorf("Expiry reminder for card %s: %v", card.ID, err)
			continue
		}
		sent++
	}

	r.log.Infof("Expiry reminders sent: %d of %d cards expiring %s", sent, len(cards), month)
	return sent, nil
}

// Schedule registers Run on c with a cron spec such as "0 9 1 * *".
func (r *ExpiryReminder) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := r.Run(ctx); err != nil {
			r.log.Errorf("Expiry reminder job failed: %v", err)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("invalid expiry reminder schedule %q: %w", spec, err)
	}
	return id, nil
}
