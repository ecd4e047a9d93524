package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/bankcards/internal/metrics"
	"github.com/Dan9191/bankcards/internal/models"
	"github.com/Dan9191/bankcards/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCardPrefix       = "3985"
	DefaultIssueMaxAttempts = 10
)

// IssuedNumber is a freshly reserved card number in its stored forms.
type IssuedNumber struct {
	Token       string
	Fingerprint string
}

// Issuer generates card numbers and guarantees they were never issued before.
type Issuer struct {
	store       CardStore
	cipher      NumberCipher
	prefix      string
	maxAttempts int
	generate    func(prefix string, length int) (string, error)
	log         *logrus.Logger
}

// NewIssuer initializes a new issuer
func NewIssuer(store CardStore, cipher NumberCipher, prefix string, maxAttempts int, log *logrus.Logger) *Issuer {
	if prefix == "" {
		prefix = DefaultCardPrefix
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultIssueMaxAttempts
	}
	return &Issuer{
		store:       store,
		cipher:      cipher,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		generate:    utils.GenerateCardNumber,
		log:         log,
	}
}

// Issue reserves a new unique number. Reservation is atomic in the store, so
// two concurrent calls can never both win the same number.
func (i *Issuer) Issue(ctx context.Context) (IssuedNumber, error) {
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		number, err := i.generate(i.prefix, utils.CardNumberLength)
		if err != nil {
			return IssuedNumber{}, fmt.Errorf("failed to generate card number: %w", err)
		}

		fingerprint := i.cipher.Fingerprint(number)
		ok, err := i.store.ReserveNumber(ctx, fingerprint)
		if err != nil {
			return IssuedNumber{}, fmt.Errorf("failed to reserve card number: %w", err)
		}
		if !ok {
			metrics.IssueRetriesTotal.Inc()
			i.log.Debugf("Card number candidate already issued, attempt %d/%d", attempt, i.maxAttempts)
			continue
		}

		token, err := i.cipher.Encrypt(number)
		if err != nil {
			return IssuedNumber{}, fmt.Errorf("failed to encrypt card number: %w", err)
		}
		return IssuedNumber{Token: token, Fingerprint: fingerprint}, nil
	}

	i.log.Errorf("No unique card number after %d attempts", i.maxAttempts)
	return IssuedNumber{}, fmt.Errorf("after %d attempts: %w", i.maxAttempts, models.ErrNumberSpaceExhausted)
}
