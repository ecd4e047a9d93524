package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferOutcome is the recorded result of a transfer
type TransferOutcome string

const (
	OutcomeSuccess TransferOutcome = "SUCCESS"
	OutcomeFailed  TransferOutcome = "FAILED"
	OutcomePending TransferOutcome = "PENDING"
)

// TransferRecord is an immutable ledger entry, written once together with the
// balance changes it describes.
type TransferRecord struct {
	ID                uuid.UUID       `json:"id"`
	SourceCardID      uuid.UUID       `json:"source_card_id"`
	DestinationCardID uuid.UUID       `json:"destination_card_id"`
	Amount            decimal.Decimal `json:"amount"`
	Timestamp         time.Time       `json:"timestamp"`
	Outcome           TransferOutcome `json:"outcome"`
}

// Involves reports whether cardID is either leg of the transfer.
func (r TransferRecord) Involves(cardID uuid.UUID) bool {
	return r.SourceCardID == cardID || r.DestinationCardID == cardID
}
