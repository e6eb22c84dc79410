package events

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventRoundTripsPayload(t *testing.T) {
	payload := TransactionCreatedEvent{
		EventID:       uuid.New(),
		TransactionID: uuid.New(),
		UserID:        uuid.New(),
		AccountID:     uuid.New(),
		Amount:        decimal.RequireFromString("150.25"),
		Currency:      "INR",
	}
	occurred := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("IST", 19800))

	event, err := NewEvent(payload.EventID.String(), IncomeTransactionCreated, occurred, payload)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, event.Timestamp.Location())

	var decoded TransactionCreatedEvent
	require.NoError(t, event.Decode(&decoded))
	assert.Equal(t, payload.AccountID, decoded.AccountID)
	assert.True(t, payload.Amount.Equal(decoded.Amount))
}

func TestDecodeAcceptsNumericAmount(t *testing.T) {
	event := Event{
		ID:   "evt-1",
		Type: IncomeTransactionCreated,
		Data: []byte(`{"accountId":"6f1c3c1e-8a4e-4a47-9b7e-0c7f1d3c2a10","amount":150,"currency":"inr"}`),
	}

	var decoded TransactionCreatedEvent
	require.NoError(t, event.Decode(&decoded))
	assert.Equal(t, "150", decoded.Amount.String())
}

func TestDecodeMalformedPayloadIsPermanent(t *testing.T) {
	event := Event{ID: "evt-1", Type: IncomeTransactionCreated, Data: []byte(`{"amount":`)}

	var decoded TransactionCreatedEvent
	err := event.Decode(&decoded)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))

	cause := errors.New("boom")
	err := Permanent(cause)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsPermanent(cause))
}

func TestJetStreamName(t *testing.T) {
	assert.Equal(t, "TRANSACTION_EVENTS", JetStreamName(TransactionEventsStream))
	assert.Equal(t, "DLQ_TRANSACTION_EVENTS", JetStreamName(deadLetterSubject(TransactionEventsStream)))
}
