package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// SubjectTransferCompleted carries one message per committed transfer.
const SubjectTransferCompleted = "cards.transfers.completed"

// Connect dials NATS with an optional token.
func Connect(url, token string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("bankcards"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// TransferEvent is the JSON body published for a completed transfer.
type TransferEvent struct {
	ID                string `json:"id"`
	SourceCardID      string `json:"source_card_id"`
	DestinationCardID string `json:"destination_card_id"`
	Amount            string `json:"amount"`
	Timestamp         string `json:"timestamp"`
	Outcome           string `json:"outcome"`
}

// Publisher forwards completed transfers to NATS.
type Publisher struct {
	conn publisher
	log  *logrus.Logger
}

func NewPublisher(conn *nats.Conn, log *logrus.Logger) *Publisher {
	return &Publisher{conn: conn, log: log}
}

func (p *Publisher) TransferCompleted(_ context.Context, rec models.TransferRecord) {
	data, err := json.Marshal(TransferEvent{
		ID:                rec.ID.String(),
		SourceCardID:      rec.SourceCardID.String(),
		DestinationCardID: rec.DestinationCardID.String(),
		Amount:            rec.Amount.StringFixed(2),
		Timestamp:         rec.Timestamp.UTC().Format(time.RFC3339Nano),
		Outcome:           string(rec.Outcome),
	})
	if err != nil {
		p.log.Errorf("Error marshalling transfer event %s: %v", rec.ID, err)
		return
	}
	if err := p.conn.Publish(SubjectTransferCompleted, data); err != nil {
		p.log.Errorf("Error publishing transfer event %s: %v", rec.ID, err)
		return
	}
	p.log.Debugf("Published transfer event %s", rec.ID)
}
