package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuer_RetriesTakenNumbers(t *testing.T) {
	f := newFixture(t)
	candidates := []string{"3985000000000001", "3985000000000001", "3985000000000001", "3985000000000002"}
	calls := 0
	f.issuer.generate = func(string, int) (string, error) {
		n := candidates[calls]
		calls++
		return n, nil
	}

	first, err := f.issuer.Issue(context.Background())
	require.NoError(t, err)
	second, err := f.issuer.Issue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, calls)
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
	number, err := f.cipher.Decrypt(second.Token)
	require.NoError(t, err)
	assert.Equal(t, "3985000000000002", number)
}

func TestIssuer_BoundedAttempts(t *testing.T) {
	f := newFixture(t)
	issuer := NewIssuer(f.store, f.cipher, "", 3, f.log)
	calls := 0
	issuer.generate = func(string, int) (string, error) {
		calls++
		return "3985000000000009", nil
	}

	_, err := issuer.Issue(context.Background())
	require.NoError(t, err)
	_, err = issuer.Issue(context.Background())
	assert.ErrorIs(t, err, models.ErrNumberSpaceExhausted)
	assert.Equal(t, models.KindExhausted, models.KindOf(err))
	assert.Equal(t, 4, calls)
}

func TestIssuer_GeneratorFailure(t *testing.T) {
	f := newFixture(t)
	f.issuer.generate = func(string, int) (string, error) { return "", errors.New("entropy unavailable") }

	_, err := f.issuer.Issue(context.Background())
	assert.ErrorContains(t, err, "entropy unavailable")
}

func TestIssuer_RealGenerator(t *testing.T) {
	f := newFixture(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		issued, err := f.issuer.Issue(context.Background())
		require.NoError(t, err)
		assert.False(t, seen[issued.Fingerprint])
		seen[issued.Fingerprint] = true
	}
}
