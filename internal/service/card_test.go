package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardService_Create(t *testing.T) {
	f := newFixture(t)
	owner := f.newUser(t, "ivan", models.RoleUser)

	card := f.newCard(t, owner, "100.25")
	assert.Equal(t, models.CardStatusActive, card.Status)
	assert.Equal(t, owner.ID, card.OwnerID)
	assert.Regexp(t, `^\*{4} \*{4} \*{4} \d{4}$`, card.MaskedNumber)
	assertBalance(t, f, card.ID, "100.25")

	stored, err := f.store.GetCard(context.Background(), card.ID)
	require.NoError(t, err)
	number, err := f.cipher.Decrypt(stored.NumberToken)
	require.NoError(t, err)
	assert.Len(t, number, 16)
	assert.True(t, strings.HasPrefix(number, DefaultCardPrefix))
	assert.NotContains(t, stored.NumberToken, number)
	assert.Equal(t, f.cipher.Fingerprint(number), stored.NumberHash)
	assert.Equal(t, number[12:], card.MaskedNumber[15:])
}

func TestCardService_CreateDerivesStatus(t *testing.T) {
	f := newFixture(t)
	owner := f.newUser(t, "ivan", models.RoleUser)

	tests := []struct {
		name       string
		expiration models.YearMonth
		want       models.CardStatus
	}{
		{"last month", models.YearMonth{Year: 2026, Month: time.February}, models.CardStatusExpired},
		{"this month", models.YearMonth{Year: 2026, Month: time.March}, models.CardStatusActive},
		{"future", models.YearMonth{Year: 2031, Month: time.December}, models.CardStatusActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, err := f.cards.Create(context.Background(), f.admin, models.NewCardRequest{
				OwnerID:        owner.ID,
				OwnerName:      "IVAN PETROV",
				ExpirationDate: tt.expiration,
				InitialBalance: decimal.Zero,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, card.Status)
		})
	}
}

func TestCardService_CreateRejects(t *testing.T) {
	f := newFixture(t)
	owner := f.newUser(t, "ivan", models.RoleUser)
	valid := models.NewCardRequest{
		OwnerID:        owner.ID,
		OwnerName:      "IVAN PETROV",
		ExpirationDate: models.YearMonth{Year: 2030, Month: time.January},
		InitialBalance: decimal.NewFromInt(10),
	}

	tests := []struct {
		name   string
		caller models.Caller
		mutate func(*models.NewCardRequest)
		want   *models.Error
	}{
		{"negative balance", f.admin, func(r *models.NewCardRequest) { r.InitialBalance = decimal.NewFromInt(-5) }, models.ErrInvalidBalance},
		{"unknown owner", f.admin, func(r *models.NewCardRequest) { r.OwnerID = uuid.New() }, models.ErrOwnerNotFound},
		{"empty owner name", f.admin, func(r *models.NewCardRequest) { r.OwnerName = "   " }, models.ErrInvalidCard},
		{"owner name too long", f.admin, func(r *models.NewCardRequest) { r.OwnerName = strings.Repeat("Я", 51) }, models.ErrInvalidCard},
		{"missing expiration", f.admin, func(r *models.NewCardRequest) { r.ExpirationDate = models.YearMonth{} }, models.ErrInvalidCard},
		{"not admin", owner, func(*models.NewCardRequest) {}, models.ErrAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := f.cards.Create(context.Background(), tt.caller, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	all, err := f.cards.ListAll(context.Background(), f.admin, models.Page{})
	require.NoError(t, err)
	assert.Empty(t, all, "rejected creations persist nothing")

	req := valid
	req.OwnerName = strings.Repeat("Я", 50)
	_, err = f.cards.Create(context.Background(), f.admin, req)
	assert.NoError(t, err, "fifty runes is within the limit")
}

func TestCardService_NegativeBalanceIsValidation(t *testing.T) {
	f := newFixture(t)
	owner := f.newUser(t, "ivan", models.RoleUser)

	_, err := f.cards.Create(context.Background(), f.admin, models.NewCardRequest{
		OwnerID:        owner.ID,
		OwnerName:      "IVAN",
		ExpirationDate: models.YearMonth{Year: 2030, Month: time.January},
		InitialBalance: decimal.NewFromInt(-5),
	})
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	var generated int
	f.issuer.generate = func(string, int) (string, error) {
		generated++
		return "3985000000000001", nil
	}
	_, err = f.cards.Create(context.Background(), f.admin, models.NewCardRequest{
		OwnerID:        owner.ID,
		OwnerName:      "IVAN",
		ExpirationDate: models.YearMonth{Year: 2030, Month: time.January},
		InitialBalance: decimal.NewFromInt(-5),
	})
	assert.ErrorIs(t, err, models.ErrInvalidBalance)
	assert.Zero(t, generated, "no number is drawn for a rejected card")
}

func TestCardService_CreateNumberSpaceExhausted(t *testing.T) {
	f := newFixture(t)
	owner := f.newUser(t, "ivan", models.RoleUser)
	f.issuer.generate = func(string, int) (string, error) { return "3985000000000001", nil }

	f.newCard(t, owner, "0")
	_, err := f.cards.Create(context.Background(), f.admin, models.NewCardRequest{
		OwnerID:        owner.ID,
		OwnerName:      "IVAN",
		ExpirationDate: models.YearMonth{Year: 2030, Month: time.January},
		InitialBalance: decimal.Zero,
	})
	assert.ErrorIs(t, err, models.ErrDuplicateCardNumber)
	assert.ErrorIs(t, err, models.ErrNumberSpaceExhausted)
}

func TestCardService_ConcurrentIssuanceIsUnique(t *testing.T) {
	f := newFixture(t)
	owner := f.newUser(t, "ivan", models.RoleUser)

	// a tiny number space forces collisions between concurrent creations
	var (
		mu   sync.Mutex
		next int
	)
	f.issuer.generate = func(prefix string, _ int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		return prefix + "00000000000" + string(rune('0'+next%8)), nil
	}

	const workers = 20
	var (
		wg      sync.WaitGroup
		created = make(chan uuid.UUID, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			card, err := f.cards.Create(context.Background(), f.admin, models.NewCardRequest{
				OwnerID:        owner.ID,
				OwnerName:      "IVAN",
				ExpirationDate: models.YearMonth{Year: 2030, Month: time.January},
				InitialBalance: decimal.Zero,
			})
			if err != nil {
				assert.ErrorIs(t, err, models.ErrNumberSpaceExhausted)
				return
			}
			created <- card.ID
		}()
	}
	wg.Wait()
	close(created)

	seen := make(map[string]bool)
	for id := range created {
		card, err := f.store.GetCard(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, seen[card.NumberHash], "number issued twice")
		seen[card.NumberHash] = true
	}
	assert.Len(t, seen, 8)
}

func TestCardService_Get(t *testing.T) {
	f := newFixture(t)
	owner := f.newUser(t, "ivan", models.RoleUser)
	stranger := f.newUser(t, "petr", models.RoleUser)
	card := f.newCard(t, owner, "10")
	ctx := context.Background()

	got, err := f.cards.Get(ctx, owner, card.ID)
	require.NoError(t, err)
	assert.Equal(t, card.MaskedNumber, got.MaskedNumber)

	_, err = f.cards.Get(ctx, stranger, card.ID)
	assert.ErrorIs(t, err, models.ErrAccessDenied)
	assert.Equal(t, models.KindForbidden, models.KindOf(err))

	_, err = f.cards.Get(ctx, f.admin, card.ID)
	assert.NoError(t, err)

	_, err = f.cards.Get(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, models.ErrCardNotFound)

	balance, err := f.cards.GetBalance(ctx, owner, card.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(10)))
	_, err = f.cards.GetBalance(ctx, stranger, card.ID)
	assert.ErrorIs(t, err, models.ErrAccessDenied)
}

func TestCardService_ListByOwner(t *testing.T) {
	f := newFixture(t)
	owner := f.newUser(t, "ivan", models.RoleUser)
	stranger := f.newUser(t, "petr", models.RoleUser)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		f.newCard(t, owner, "0")
	}
	f.newCard(t, stranger, "0")

	first, err := f.cards.ListByOwner(ctx, owner, owner.ID, models.Page{})
	require.NoError(t, err)
	assert.Len(t, first, models.DefaultPageSize)

	second, err := f.cards.ListByOwner(ctx, owner, owner.ID, models.Page{Number: 1})
	require.NoError(t, err)
	assert.Len(t, second, 2)

	_, err = f.cards.ListByOwner(ctx, stranger, owner.ID, models.Page{})
	assert.ErrorIs(t, err, models.ErrAccessDenied)

	assert.NotPanics(t, func() {
		far, err := f.cards.ListByOwner(ctx, owner, owner.ID, models.Page{Number: math.MaxInt / 50, Size: 100})
		require.NoError(t, err)
		assert.Empty(t, far)
	})

	viaAdmin, err := f.cards.ListByOwner(ctx, f.admin, owner.ID, models.Page{Size: 50})
	require.NoError(t, err)
	assert.Len(t, viaAdmin, 12)

	all, err := f.cards.ListAll(ctx, f.admin, models.Page{Size: 1000})
	require.NoError(t, err)
	assert.Len(t, all, 13)
	_, err = f.cards.ListAll(ctx, owner, models.Page{})
	assert.ErrorIs(t, err, models.ErrAccessDenied)
}

func TestCardService_StateMachine(t *testing.T) {
	f := newFixture(t)
	owner := f.newUser(t, "ivan", models.RoleUser)
	ctx := context.Background()
	card := f.newCard(t, owner, "0")

	blocked, err := f.cards.Block(ctx, f.admin, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusBlocked, blocked.Status)

	// blocking again is a conflict and leaves the status alone
	_, err = f.cards.Block(ctx, f.admin, card.ID)
	assert.ErrorIs(t, err, models.ErrInvalidOperation)
	assert.Equal(t, models.KindConflict, models.KindOf(err))
	got, err := f.cards.Get(ctx, owner, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusBlocked, got.Status)

	active, err := f.cards.Activate(ctx, f.admin, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusActive, active.Status)
	_, err = f.cards.Activate(ctx, f.admin, card.ID)
	assert.ErrorIs(t, err, models.ErrInvalidOperation)

	_, err = f.cards.Block(ctx, owner, card.ID)
	assert.ErrorIs(t, err, models.ErrAccessDenied)

	past := models.YearMonth{Year: 2020, Month: time.May}
	expired, err := f.cards.UpdateMetadata(ctx, f.admin, card.ID, models.CardUpdate{ExpirationDate: &past})
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusExpired, expired.Status)

	_, err = f.cards.Block(ctx, f.admin, card.ID)
	assert.ErrorIs(t, err, models.ErrInvalidOperation)
	_, err = f.cards.Activate(ctx, f.admin, card.ID)
	assert.ErrorIs(t, err, models.ErrInvalidOperation)

	future := models.YearMonth{Year: 2032, Month: time.June}
	revived, err := f.cards.UpdateMetadata(ctx, f.admin, card.ID, models.CardUpdate{ExpirationDate: &future})
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusActive, revived.Status)

	_, err = f.cards.Block(ctx, f.admin, uuid.New())
	assert.ErrorIs(t, err, models.ErrCardNotFound)
}

func TestCardService_UpdateMetadata(t *testing.T) {
	f := newFixture(t)
	owner := f.newUser(t, "ivan", models.RoleUser)
	ctx := context.Background()
	card := f.newCard(t, owner, "42")
	_, err := f.cards.Block(ctx, f.admin, card.ID)
	require.NoError(t, err)

	name := "  PETR IVANOV "
	updated, err := f.cards.UpdateMetadata(ctx, f.admin, card.ID, models.CardUpdate{OwnerName: &name})
	require.NoError(t, err)
	assert.Equal(t, "PETR IVANOV", updated.OwnerName)
	assert.Equal(t, models.CardStatusBlocked, updated.Status, "name edits keep the status")
	assert.Equal(t, card.ExpirationDate, updated.ExpirationDate)
	assert.Equal(t, card.MaskedNumber, updated.MaskedNumber)
	assertBalance(t, f, card.ID, "42")

	blank := ""
	_, err = f.cards.UpdateMetadata(ctx, f.admin, card.ID, models.CardUpdate{OwnerName: &blank})
	assert.ErrorIs(t, err, models.ErrInvalidCard)

	_, err = f.cards.UpdateMetadata(ctx, owner, card.ID, models.CardUpdate{OwnerName: &name})
	assert.ErrorIs(t, err, models.ErrAccessDenied)

	_, err = f.cards.UpdateMetadata(ctx, f.admin, uuid.New(), models.CardUpdate{OwnerName: &name})
	assert.ErrorIs(t, err, models.ErrCardNotFound)
}

func TestCardService_Delete(t *testing.T) {
	f := newFixture(t)
	owner := f.newUser(t, "ivan", models.RoleUser)
	ctx := context.Background()
	card := f.newCard(t, owner, "0")
	stored, err := f.store.GetCard(ctx, card.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.cards.Delete(ctx, owner, card.ID), models.ErrAccessDenied)
	require.NoError(t, f.cards.Delete(ctx, f.admin, card.ID))
	assert.ErrorIs(t, f.cards.Delete(ctx, f.admin, card.ID), models.ErrCardNotFound)

	_, err = f.cards.Get(ctx, f.admin, card.ID)
	assert.ErrorIs(t, err, models.ErrCardNotFound)

	ok, err := f.store.ReserveNumber(ctx, stored.NumberHash)
	require.NoError(t, err)
	assert.False(t, ok, "a deleted card's number is never reissued")
}

func TestCardService_BusyWhenLocked(t *testing.T) {
	f := newFixture(t)
	owner := f.newUser(t, "ivan", models.RoleUser)
	card := f.newCard(t, owner, "0")
	f.cards.lockTimeout = 20 * time.Millisecond

	release, err := f.locker.Acquire(context.Background(), card.ID.String())
	require.NoError(t, err)
	defer release()

	_, err = f.cards.Block(context.Background(), f.admin, card.ID)
	assert.ErrorIs(t, err, models.ErrBusy)
	assert.True(t, models.Retryable(err))
}
