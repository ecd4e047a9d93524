package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the bank schema if it does not exist
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO bank.users (id, username, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Username, models.ErrUserExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.findUser(ctx, "id = $1", id)
}

// GetUserByUsername retrieves a user by username
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findUser(ctx, "username = $1", username)
}

func (r *Repository) findUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, role, created_at
		FROM bank.users
		WHERE ` + where
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %v: %w", arg, models.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// ReserveNumber marks a card number fingerprint as issued
func (r *Repository) ReserveNumber(ctx context.Context, fingerprint string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO bank.issued_card_numbers (fingerprint) VALUES ($1)
		ON CONFLICT (fingerprint) DO NOTHING`, fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to reserve card number: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reserve card number: %w", err)
	}
	return n == 1, nil
}

// CreateCard creates a new card in the database
func (r *Repository) CreateCard(ctx context.Context, card *models.Card) error {
	query := `
		INSERT INTO bank.cards (id, number_token, number_hash, owner_name, expiration_date, status, balance, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, query,
		card.ID, card.NumberToken, card.NumberHash, card.OwnerName, card.ExpirationDate.Time(),
		card.Status, card.Balance, card.OwnerID, card.CreatedAt, card.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("card %s: %w", card.ID, models.ErrDuplicateCardNumber)
		}
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

const cardColumns = `id, number_token, number_hash, owner_name, expiration_date, status, balance, owner_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*models.Card, error) {
	var (
		card       models.Card
		expiration time.Time
		status     string
	)
	err := row.Scan(&card.ID, &card.NumberToken, &card.NumberHash, &card.OwnerName, &expiration,
		&status, &card.Balance, &card.OwnerID, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return nil, err
	}
	card.ExpirationDate = models.YearMonthOf(expiration)
	if card.Status, err = models.ParseCardStatus(status); err != nil {
		return nil, err
	}
	return &card, nil
}

// GetCard retrieves a card by id
func (r *Repository) GetCard(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM bank.cards WHERE id = $1`, id)
	card, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("card %s: %w", id, models.ErrCardNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

// ListCardsByOwner retrieves one page of an owner's cards
func (r *Repository) ListCardsByOwner(ctx context.Context, ownerID uuid.UUID, page models.Page) ([]models.Card, error) {
	return r.queryCards(ctx, `
		SELECT `+cardColumns+` FROM bank.cards
		WHERE owner_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`, ownerID, page.Size, page.Offset())
}

// ListCards retrieves one page of all cards
func (r *Repository) ListCards(ctx context.Context, page models.Page) ([]models.Card, error) {
	return r.queryCards(ctx, `
		SELECT `+cardColumns+` FROM bank.cards
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2`, page.Size, page.Offset())
}

// ListActiveCardsExpiringIn retrieves active cards expiring in the given month
func (r *Repository) ListActiveCardsExpiringIn(ctx context.Context, month models.YearMonth) ([]models.Card, error) {
	return r.queryCards(ctx, `
		SELECT `+cardColumns+` FROM bank.cards
		WHERE status = 'ACTIVE' AND expiration_date = $1
		ORDER BY created_at, id`, month.Time())
}

func (r *Repository) queryCards(ctx context.Context, query string, args ...any) ([]models.Card, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	cards := make([]models.Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, nil
}

// UpdateCard writes owner name, expiration date and status
func (r *Repository) UpdateCard(ctx context.Context, card *models.Card) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bank.cards
		SET owner_name = $2, expiration_date = $3, status = $4, updated_at = $5
		WHERE id = $1`,
		card.ID, card.OwnerName, card.ExpirationDate.Time(), card.Status, card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update card: %w", err)
	}
	return expectOne(res, card.ID)
}

// DeleteCard removes a card; its number fingerprint stays reserved
func (r *Repository) DeleteCard(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bank.cards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	return expectOne(res, id)
}

// ApplyTransfer debits, credits and records the transfer in one transaction.
// Both rows are locked in id order first, matching the in-process lock order.
func (r *Repository) ApplyTransfer(ctx context.Context, rec *models.TransferRecord) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM bank.cards
			WHERE id = ANY($1::uuid[])
			ORDER BY id
			FOR UPDATE`, pq.Array([]string{rec.SourceCardID.String(), rec.DestinationCardID.String()}))
		if err != nil {
			return fmt.Errorf("failed to lock cards: %w", err)
		}
		found := make(map[uuid.UUID]bool, 2)
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to lock cards: %w", err)
			}
			found[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to lock cards: %w", err)
		}
		for _, id := range []uuid.UUID{rec.SourceCardID, rec.DestinationCardID} {
			if !found[id] {
				return fmt.Errorf("card %s: %w", id, models.ErrCardNotFound)
			}
		}

		if err := adjustBalance(ctx, tx, rec.SourceCardID, rec.Amount.Neg(), rec.Timestamp); err != nil {
			return err
		}
		if err := adjustBalance(ctx, tx, rec.DestinationCardID, rec.Amount, rec.Timestamp); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO bank.transfers (id, source_card_id, destination_card_id, amount, created_at, outcome)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.ID, rec.SourceCardID, rec.DestinationCardID, rec.Amount, rec.Timestamp, rec.Outcome)
		if err != nil {
			return fmt.Errorf("failed to record transfer: %w", err)
		}
		return nil
	})
}

// adjustBalance refuses any change that would leave the balance negative
func adjustBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, delta decimal.Decimal, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE bank.cards
		SET balance = balance + $2, updated_at = $3
		WHERE id = $1 AND balance + $2 >= 0`, id, delta, at)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("card %s: %w", id, models.ErrInsufficientFunds)
	}
	return nil
}

// ListTransfersByCard retrieves the ledger entries touching a card, oldest first
func (r *Repository) ListTransfersByCard(ctx context.Context, cardID uuid.UUID) ([]models.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_card_id, destination_card_id, amount, created_at, outcome
		FROM bank.transfers
		WHERE source_card_id = $1 OR destination_card_id = $1
		ORDER BY created_at, id`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	records := make([]models.TransferRecord, 0)
	for rows.Next() {
		var rec models.TransferRecord
		if err := rows.Scan(&rec.ID, &rec.SourceCardID, &rec.DestinationCardID, &rec.Amount, &rec.Timestamp, &rec.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return records, nil
}

// withTx runs fn in a transaction, committing only if fn succeeds
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to roll back: %w (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func expectOne(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("card %s: %w", id, models.ErrCardNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
