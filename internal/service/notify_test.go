package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) SendTransferNotification(to, username, maskedNumber string, amount decimal.Decimal, direction string, balance decimal.Decimal) error {
	return m.Called(to, username, maskedNumber, amount, direction, balance).Error(0)
}

func (m *mockMailer) SendExpiryReminder(to, username, maskedNumber string, expiration models.YearMonth) error {
	return m.Called(to, username, maskedNumber, expiration).Error(0)
}

func decimalOf(s string) interface{} {
	want := decimal.RequireFromString(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

func TestReceiptObserver(t *testing.T) {
	mailer := &mockMailer{}
	f := newFixture(t)
	obs := NewReceiptObserver(f.store, f.store, f.cipher, mailer, f.log)
	f.transfers.observers = []TransferObserver{obs}

	ivan := f.newUser(t, "ivan", models.RoleUser)
	a := f.newCard(t, ivan, "100")
	b := f.newCard(t, ivan, "5")

	mailer.On("SendTransferNotification", "ivan@example.com", "ivan", a.MaskedNumber,
		decimalOf("30"), DirectionDebit, decimalOf("70")).Return(nil).Once()
	mailer.On("SendTransferNotification", "ivan@example.com", "ivan", b.MaskedNumber,
		decimalOf("30"), DirectionCredit, decimalOf("35")).Return(errors.New("smtp down")).Once()

	_, err := f.transfers.Transfer(context.Background(), ivan, transfer(a.ID, b.ID, "30"))
	require.NoError(t, err, "mail failures never fail the transfer")
	mailer.AssertExpectations(t)
}

func TestExpiryReminder_Run(t *testing.T) {
	mailer := &mockMailer{}
	f := newFixture(t)
	ctx := context.Background()
	ivan := f.newUser(t, "ivan", models.RoleUser)

	thisMonth := models.YearMonthOf(testNow)
	expiring, err := f.cards.Create(ctx, f.admin, models.NewCardRequest{
		OwnerID: ivan.ID, OwnerName: "IVAN", ExpirationDate: thisMonth, InitialBalance: decimal.Zero,
	})
	require.NoError(t, err)
	blocked, err := f.cards.Create(ctx, f.admin, models.NewCardRequest{
		OwnerID: ivan.ID, OwnerName: "IVAN", ExpirationDate: thisMonth, InitialBalance: decimal.Zero,
	})
	require.NoError(t, err)
	_, err = f.cards.Block(ctx, f.admin, blocked.ID)
	require.NoError(t, err)
	f.newCard(t, ivan, "0")

	mailer.On("SendExpiryReminder", "ivan@example.com", "ivan", expiring.MaskedNumber, thisMonth).Return(nil).Once()

	reminder := NewExpiryReminder(f.store, f.store, f.cipher, mailer, f.log)
	reminder.now = func() time.Time { return testNow }
	sent, err := reminder.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	mailer.AssertExpectations(t)

	got, err := f.cards.Get(ctx, ivan, expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusActive, got.Status, "reminders never change status")
}

func TestExpiryReminder_Schedule(t *testing.T) {
	f := newFixture(t)
	reminder := NewExpiryReminder(f.store, f.store, f.cipher, &mockMailer{}, f.log)
	c := cron.New()

	id, err := reminder.Schedule(c, "0 9 1 * *")
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Len(t, c.Entries(), 1)

	_, err = reminder.Schedule(c, "every full moon")
	assert.Error(t, err)
}
