// Package statement renders a card's ledger as an XML document.
package statement

import (
	"fmt"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

const (
	DirectionDebit  = "DEBIT"
	DirectionCredit = "CREDIT"
)

// Build returns a statement for card listing records in order. Records that do
// not involve the card are skipped.
func Build(card models.CardView, records []models.TransferRecord, generatedAt time.Time) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("CardStatement")
	root.CreateAttr("generatedAt", generatedAt.UTC().Format(time.RFC3339))

	header := root.CreateElement("Card")
	header.CreateAttr("id", card.ID.String())
	header.CreateElement("Number").SetText(card.MaskedNumber)
	header.CreateElement("Owner").SetText(card.OwnerName)
	header.CreateElement("Expiration").SetText(card.ExpirationDate.String())
	header.CreateElement("Status").SetText(string(card.Status))

	entries := root.CreateElement("Entries")
	debits, credits := decimal.Zero, decimal.Zero
	for _, rec := range records {
		var direction, counterparty string
		switch card.ID {
		case rec.SourceCardID:
			direction, counterparty = DirectionDebit, rec.DestinationCardID.String()
			debits = debits.Add(rec.Amount)
		case rec.DestinationCardID:
			direction, counterparty = DirectionCredit, rec.SourceCardID.String()
			credits = credits.Add(rec.Amount)
		default:
			continue
		}
		entry := entries.CreateElement("Entry")
		entry.CreateAttr("id", rec.ID.String())
		entry.CreateElement("Direction").SetText(direction)
		entry.CreateElement("Amount").SetText(rec.Amount.StringFixed(2))
		entry.CreateElement("Timestamp").SetText(rec.Timestamp.UTC().Format(time.RFC3339))
		entry.CreateElement("Counterparty").SetText(counterparty)
		entry.CreateElement("Outcome").SetText(string(rec.Outcome))
	}
	entries.CreateAttr("count", fmt.Sprint(len(entries.ChildElements())))

	totals := root.CreateElement("Totals")
	totals.CreateElement("Debits").SetText(debits.StringFixed(2))
	totals.CreateElement("Credits").SetText(credits.StringFixed(2))
	totals.CreateElement("ClosingBalance").SetText(card.Balance.StringFixed(2))

	doc.Indent(2)
	return doc
}

// Render serializes a statement built by Build.
func Render(card models.CardView, records []models.TransferRecord, generatedAt time.Time) ([]byte, error) {
	out, err := Build(card, records, generatedAt).WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to render statement: %w", err)
	}
	return out, nil
}
