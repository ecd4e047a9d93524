package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testRecord() models.TransferRecord {
	return models.TransferRecord{
		ID:                uuid.New(),
		SourceCardID:      uuid.New(),
		DestinationCardID: uuid.New(),
		Amount:            decimal.RequireFromString("12.5"),
		Timestamp:         time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Outcome:           models.OutcomeSuccess,
	}
}

func TestPublisherTransferCompleted(t *testing.T) {
	conn := &fakeConn{}
	p := &Publisher{conn: conn, log: quietLogger()}
	rec := testRecord()

	p.TransferCompleted(context.Background(), rec)

	assert.Equal(t, SubjectTransferCompleted, conn.subject)
	var ev TransferEvent
	require.NoError(t, json.Unmarshal(conn.data, &ev))
	assert.Equal(t, rec.ID.String(), ev.ID)
	assert.Equal(t, rec.SourceCardID.String(), ev.SourceCardID)
	assert.Equal(t, rec.DestinationCardID.String(), ev.DestinationCardID)
	assert.Equal(t, "12.50", ev.Amount)
	assert.Equal(t, "2026-03-14T10:00:00Z", ev.Timestamp)
	assert.Equal(t, "SUCCESS", ev.Outcome)
}

func TestPublisherSwallowsErrors(t *testing.T) {
	p := &Publisher{conn: &fakeConn{err: errors.New("nats: connection closed")}, log: quietLogger()}
	assert.NotPanics(t, func() { p.TransferCompleted(context.Background(), testRecord()) })
}

func TestPublisherNATS(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	conn, err := Connect(url, os.Getenv("TEST_NATS_TOKEN"))
	require.NoError(t, err)
	defer conn.Close()

	sub, err := conn.SubscribeSync(SubjectTransferCompleted)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	rec := testRecord()
	NewPublisher(conn, quietLogger()).TransferCompleted(context.Background(), rec)
	require.NoError(t, conn.Flush())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var ev TransferEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, rec.ID.String(), ev.ID)
}
