package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEventStoreTest(t *testing.T) (*PaymentEventStore, sqlmock.Sqlmock, *clock.MockClock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	store := NewPaymentEventStore(sqlxDB,
		NewProvisionalBookingRepository(sqlxDB, clk),
		NewWebhookEventRepository(sqlxDB, clk),
	)
	return store, mock, clk
}

func TestPaymentEventStore_Apply(t *testing.T) {
	ctx := context.Background()
	evt := &models.PaymentEvent{
		EventID:    "evt_1",
		Provider:   "stripe",
		RawType:    "checkout.session.completed",
		Kind:       models.PaymentEventSucceeded,
		SessionRef: "cs_1",
		PaymentRef: "pi_1",
	}
	toProcessing := func(b *models.ProvisionalBooking) *EventDecision {
		if b == nil {
			return &EventDecision{Note: "booking_not_found"}
		}
		return &EventDecision{To: models.StatusProcessingProvider, Patch: models.TransitionPatch{PaymentRef: &evt.PaymentRef}}
	}

	t.Run("New event advances booking in one transaction", func(t *testing.T) {
		store, mock, clk := setupEventStoreTest(t)
		id := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO webhook_events`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT processed FROM webhook_events`).
			WillReturnRows(sqlmock.NewRows([]string{"processed"}).AddRow(false))
		mock.ExpectQuery(`SELECT .+ FROM provisional_bookings WHERE checkout_session_ref = \$1 FOR UPDATE`).
			WithArgs("cs_1").
			WillReturnRows(bookingRow(id, "key-1", models.StatusPendingPayment, clk.Now()))
		mock.ExpectExec(`UPDATE provisional_bookings\s+SET status = \$3`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE webhook_events\s+SET processed = TRUE`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := store.Apply(ctx, evt, toProcessing)
		require.NoError(t, err)
		assert.False(t, res.Replay)
		assert.True(t, res.Applied)
		assert.Equal(t, models.StatusPendingPayment, res.From)
		assert.Equal(t, models.StatusProcessingProvider, res.Booking.Status)
		assert.Equal(t, "pi_1", *res.Booking.PaymentRef)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Processed event is a replay without side effects", func(t *testing.T) {
		store, mock, _ := setupEventStoreTest(t)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO webhook_events`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT processed FROM webhook_events`).
			WillReturnRows(sqlmock.NewRows([]string{"processed"}).AddRow(true))
		mock.ExpectCommit()

		called := false
		res, err := store.Apply(ctx, evt, func(b *models.ProvisionalBooking) *EventDecision {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, res.Replay)
		assert.False(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unknown session is recorded as processed", func(t *testing.T) {
		store, mock, _ := setupEventStoreTest(t)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO webhook_events`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT processed FROM webhook_events`).
			WillReturnRows(sqlmock.NewRows([]string{"processed"}).AddRow(false))
		mock.ExpectQuery(`FROM provisional_bookings WHERE checkout_session_ref`).
			WillReturnRows(sqlmock.NewRows(bookingRowColumns))
		mock.ExpectExec(`UPDATE webhook_events`).
			WithArgs("evt_1", "stripe", nil, "booking_not_found", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := store.Apply(ctx, evt, toProcessing)
		require.NoError(t, err)
		assert.Nil(t, res.Booking)
		assert.False(t, res.Applied)
		assert.Equal(t, "booking_not_found", res.Note)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database failure rolls back the claim", func(t *testing.T) {
		store, mock, clk := setupEventStoreTest(t)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO webhook_events`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT processed FROM webhook_events`).
			WillReturnRows(sqlmock.NewRows([]string{"processed"}).AddRow(false))
		mock.ExpectQuery(`FROM provisional_bookings WHERE checkout_session_ref`).
			WillReturnRows(bookingRow(uuid.New(), "key-1", models.StatusPendingPayment, clk.Now()))
		mock.ExpectExec(`UPDATE provisional_bookings`).
			WillReturnError(fmt.Errorf("connection reset"))
		mock.ExpectRollback()

		res, err := store.Apply(ctx, evt, toProcessing)
		assert.Error(t, err)
		assert.Nil(t, res)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
