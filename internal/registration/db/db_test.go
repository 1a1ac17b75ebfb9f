package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ms-admission/internal/models"
	regdb "ms-admission/internal/registration/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *regdb.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()

	require.NoError(t, bunDB.ResetModel(ctx, (*models.Event)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Registration)(nil)))

	// Same unique index the production migration creates: one registration
	// per (event, participant), in any status.
	_, err = bunDB.NewCreateIndex().
		Model((*models.Registration)(nil)).
		Index("idx_registrations_event_participant").
		Unique().
		Column("event_id", "participant_id").
		Exec(ctx)
	require.NoError(t, err)

	t.Cleanup(func() { _ = bunDB.Close() })
	return &regdb.DB{Bun: bunDB}
}

func intPtr(n int) *int { return &n }

func insertEvent(t *testing.T, d *regdb.DB, capacity *int) models.Event {
	t.Helper()
	event := models.Event{
		ID:          uuid.NewString(),
		OrganizerID: uuid.NewString(),
		Name:        "Research Symposium",
		Capacity:    capacity,
		IsOpen:      true,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, d.CreateEvent(context.Background(), event))
	return event
}

func insertPending(t *testing.T, d *regdb.DB, eventID string) models.Registration {
	t.Helper()
	reg := models.Registration{
		ID:                 uuid.NewString(),
		EventID:            eventID,
		ParticipantID:      uuid.NewString(),
		RegistrationStatus: models.RegistrationPending,
		PaymentStatus:      models.PaymentNotRequired,
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, d.CreateRegistration(context.Background(), reg))
	return reg
}

func TestCreateRegistrationDuplicatePair(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, intPtr(10))
	reg := insertPending(t, d, event.ID)

	dup := models.Registration{
		ID:                 uuid.NewString(),
		EventID:            event.ID,
		ParticipantID:      reg.ParticipantID,
		RegistrationStatus: models.RegistrationPending,
		PaymentStatus:      models.PaymentNotRequired,
		CreatedAt:          time.Now().UTC(),
	}
	err := d.CreateRegistration(ctx, dup)
	assert.ErrorIs(t, err, models.ErrDuplicate)
}

func TestDuplicateBlockedAfterRejection(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, intPtr(10))
	reg := insertPending(t, d, event.ID)

	ok, err := d.MarkRejected(ctx, reg.ID)
	require.NoError(t, err)
	require.True(t, ok)

	retry := models.Registration{
		ID:                 uuid.NewString(),
		EventID:            event.ID,
		ParticipantID:      reg.ParticipantID,
		RegistrationStatus: models.RegistrationPending,
		PaymentStatus:      models.PaymentNotRequired,
		CreatedAt:          time.Now().UTC(),
	}
	err = d.CreateRegistration(ctx, retry)
	assert.ErrorIs(t, err, models.ErrDuplicate)
}

func TestApproveIfSlotFreeHonorsCapacity(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, intPtr(2))

	r1 := insertPending(t, d, event.ID)
	r2 := insertPending(t, d, event.ID)
	r3 := insertPending(t, d, event.ID)

	ok, err := d.ApproveIfSlotFree(ctx, r1.ID, "token-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ApproveIfSlotFree(ctx, r2.ID, "token-2")
	require.NoError(t, err)
	assert.True(t, ok)

	// Third approval finds no free slot and matches zero rows.
	ok, err = d.ApproveIfSlotFree(ctx, r3.ID, "token-3")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := d.CountApproved(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stored, err := d.GetRegistrationByID(ctx, r3.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationPending, stored.RegistrationStatus)
}

func TestApproveIfSlotFreeStoresProofToken(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, intPtr(5))
	reg := insertPending(t, d, event.ID)

	ok, err := d.ApproveIfSlotFree(ctx, reg.ID, "proof-abc")
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := d.GetRegistrationByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationApproved, stored.RegistrationStatus)
	assert.Equal(t, "proof-abc", stored.ProofToken)
}

func TestApproveIfSlotFreeNilCapacityUnbounded(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, nil)

	for i := 0; i < 25; i++ {
		reg := insertPending(t, d, event.ID)
		ok, err := d.ApproveIfSlotFree(ctx, reg.ID, uuid.NewString())
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestApproveIfSlotFreeNotPending(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, intPtr(5))
	reg := insertPending(t, d, event.ID)

	ok, err := d.MarkRejected(ctx, reg.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.ApproveIfSlotFree(ctx, reg.ID, "token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRejectedRowFreesNoSlot(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, intPtr(1))

	r1 := insertPending(t, d, event.ID)
	r2 := insertPending(t, d, event.ID)

	ok, err := d.ApproveIfSlotFree(ctx, r1.ID, "token-1")
	require.NoError(t, err)
	require.True(t, ok)

	// The rejected row never counted against capacity to begin with.
	ok, err = d.MarkRejected(ctx, r2.ID)
	require.NoError(t, err)
	require.True(t, ok)

	count, err := d.CountApproved(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMarkAttendedIsSingleUse(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, intPtr(5))
	reg := insertPending(t, d, event.ID)

	ok, err := d.ApproveIfSlotFree(ctx, reg.ID, "proof-token")
	require.NoError(t, err)
	require.True(t, ok)

	now := time.Now().UTC()
	ok, err = d.MarkAttended(ctx, reg.ID, event.ID, reg.ParticipantID, "proof-token", now)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second presentation of the same token matches zero rows.
	ok, err = d.MarkAttended(ctx, reg.ID, event.ID, reg.ParticipantID, "proof-token", now)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := d.GetRegistrationByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Attended)
	assert.False(t, stored.AttendedAt.IsZero())
}

func TestMarkAttendedRejectsWrongToken(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, intPtr(5))
	reg := insertPending(t, d, event.ID)

	ok, err := d.ApproveIfSlotFree(ctx, reg.ID, "real-token")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.MarkAttended(ctx, reg.ID, event.ID, reg.ParticipantID, "forged-token", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkAttendedRequiresApproval(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, intPtr(5))
	reg := insertPending(t, d, event.ID)

	ok, err := d.MarkAttended(ctx, reg.ID, event.ID, reg.ParticipantID, "", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearAttendanceAllowsRecheckin(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, intPtr(5))
	reg := insertPending(t, d, event.ID)

	ok, err := d.ApproveIfSlotFree(ctx, reg.ID, "proof-token")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.MarkAttended(ctx, reg.ID, event.ID, reg.ParticipantID, "proof-token", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.ClearAttendance(ctx, reg.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// Clearing twice is a no-op.
	ok, err = d.ClearAttendance(ctx, reg.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.MarkAttended(ctx, reg.ID, event.ID, reg.ParticipantID, "proof-token", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPaymentTransitions(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, intPtr(5))

	reg := models.Registration{
		ID:                 uuid.NewString(),
		EventID:            event.ID,
		ParticipantID:      uuid.NewString(),
		RegistrationStatus: models.RegistrationPending,
		PaymentStatus:      models.PaymentPending,
		PaymentProof:       "slip-v1",
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, d.CreateRegistration(ctx, reg))

	// Wrong participant matches nothing.
	ok, err := d.MarkPaymentSubmitted(ctx, reg.ID, "someone-else", "slip-v2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.MarkPaymentSubmitted(ctx, reg.ID, reg.ParticipantID, "slip-v2")
	require.NoError(t, err)
	require.True(t, ok)

	// Outcome only applies from submitted, and only once.
	ok, err = d.SetPaymentOutcome(ctx, reg.ID, models.PaymentVerified)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.SetPaymentOutcome(ctx, reg.ID, models.PaymentFailed)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := d.GetRegistrationByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentVerified, stored.PaymentStatus)
	assert.Equal(t, "slip-v2", stored.PaymentProof)
}

func TestSetPaymentOutcomeRequiresSubmission(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	event := insertEvent(t, d, intPtr(5))
	reg := insertPending(t, d, event.ID) // payment_status = not_required

	ok, err := d.SetPaymentOutcome(ctx, reg.ID, models.PaymentVerified)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetEventNotFound(t *testing.T) {
	d := setupTestDB(t)

	_, err := d.GetEventByID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSetEventOpen(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	event := models.Event{
		ID:          uuid.NewString(),
		OrganizerID: uuid.NewString(),
		Name:        "Closed Workshop",
		IsOpen:      false,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, d.CreateEvent(ctx, event))

	require.NoError(t, d.SetEventOpen(ctx, event.ID, true))

	stored, err := d.GetEventByID(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen)

	err = d.SetEventOpen(ctx, uuid.NewString(), true)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListByEventAndParticipant(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	e1 := insertEvent(t, d, intPtr(10))
	e2 := insertEvent(t, d, intPtr(10))

	participantID := uuid.NewString()
	for _, eventID := range []string{e1.ID, e2.ID} {
		reg := models.Registration{
			ID:                 uuid.NewString(),
			EventID:            eventID,
			ParticipantID:      participantID,
			RegistrationStatus: models.RegistrationPending,
			PaymentStatus:      models.PaymentNotRequired,
			CreatedAt:          time.Now().UTC(),
		}
		require.NoError(t, d.CreateRegistration(ctx, reg))
	}
	insertPending(t, d, e1.ID)

	byEvent, err := d.ListByEvent(ctx, e1.ID)
	require.NoError(t, err)
	assert.Len(t, byEvent, 2)

	byParticipant, err := d.ListByParticipant(ctx, participantID)
	require.NoError(t, err)
	assert.Len(t, byParticipant, 2)
}
