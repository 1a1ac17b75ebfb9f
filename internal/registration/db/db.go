package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"ms-admission/internal/models"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- EVENTS ----------------

func (d *DB) CreateEvent(ctx context.Context, event models.Event) error {
	_, err := d.Bun.NewInsert().Model(&event).Exec(ctx)
	return err
}

func (d *DB) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (d *DB) SetEventOpen(ctx context.Context, id string, open bool) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("is_open = ?", open).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteEvent removes an event; its registrations go with it through the
// ON DELETE CASCADE foreign key.
func (d *DB) DeleteEvent(ctx context.Context, id string) error {
	res, err := d.Bun.NewDelete().
		Model((*models.Event)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ---------------- REGISTRATIONS ----------------

// CreateRegistration inserts a new registration. The unique index on
// (event_id, participant_id) is the duplicate check: a violation means a
// registration for the pair already exists in some status, including
// rejected, and is reported as ErrDuplicate. There is no separate
// check-then-insert step to race against.
func (d *DB) CreateRegistration(ctx context.Context, reg models.Registration) error {
	_, err := d.Bun.NewInsert().Model(&reg).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicate
		}
		return err
	}
	return nil
}

func (d *DB) GetRegistrationByID(ctx context.Context, id string) (*models.Registration, error) {
	var reg models.Registration
	err := d.Bun.NewSelect().
		Model(&reg).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &reg, nil
}

// ApproveIfSlotFree flips a pending registration to approved and stores its
// proof token, but only while the event still has a free slot. The approved
// count is re-derived inside the same statement, never read from a cached
// value, so the capacity check and the status flip are one atomic write.
// Returns false when no row qualified (not pending, missing, or full).
func (d *DB) ApproveIfSlotFree(ctx context.Context, id, proofToken string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Registration)(nil)).
		ModelTableExpr("registrations AS reg").
		Set("registration_status = ?", models.RegistrationApproved).
		Set("proof_token = ?", proofToken).
		Where("reg.id = ?", id).
		Where("reg.registration_status = ?", models.RegistrationPending).
		Where(`(SELECT e.capacity FROM events e WHERE e.id = reg.event_id) IS NULL OR `+
			`(SELECT COUNT(*) FROM registrations r2 WHERE r2.event_id = reg.event_id AND r2.registration_status = ?) < `+
			`(SELECT e.capacity FROM events e WHERE e.id = reg.event_id)`,
			models.RegistrationApproved).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkRejected flips a pending registration to rejected. Terminal: the row
// stays behind so the pair can never re-apply.
func (d *DB) MarkRejected(ctx context.Context, id string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Registration)(nil)).
		Set("registration_status = ?", models.RegistrationRejected).
		Where("id = ?", id).
		Where("registration_status = ?", models.RegistrationPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CountApproved derives the authoritative admitted count for an event.
func (d *DB) CountApproved(ctx context.Context, eventID string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Registration)(nil)).
		Where("event_id = ?", eventID).
		Where("registration_status = ?", models.RegistrationApproved).
		Count(ctx)
}

// ---------------- PAYMENT ----------------

// MarkPaymentSubmitted records a participant's payment proof. Forward-only:
// legal only from payment_status = pending, and only for the registration's
// own participant.
func (d *DB) MarkPaymentSubmitted(ctx context.Context, id, participantID, proof string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Registration)(nil)).
		Set("payment_status = ?", models.PaymentSubmitted).
		Set("payment_proof = ?", proof).
		Where("id = ?", id).
		Where("participant_id = ?", participantID).
		Where("payment_status = ?", models.PaymentPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetPaymentOutcome records the organizer's verification outcome. Legal
// only from payment_status = submitted.
func (d *DB) SetPaymentOutcome(ctx context.Context, id, outcome string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Registration)(nil)).
		Set("payment_status = ?", outcome).
		Where("id = ?", id).
		Where("payment_status = ?", models.PaymentSubmitted).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ---------------- ATTENDANCE ----------------

// MarkAttended consumes the proof token: it latches attended=true for the
// exact (registration, event, participant, token) combination while it is
// still unconsumed. One statement, so a double scan resolves to exactly one
// winner; the loser matches zero rows.
func (d *DB) MarkAttended(ctx context.Context, registrationID, eventID, participantID, proofToken string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Registration)(nil)).
		Set("attended = ?", true).
		Set("attended_at = ?", at).
		Where("id = ?", registrationID).
		Where("event_id = ?", eventID).
		Where("participant_id = ?", participantID).
		Where("registration_status = ?", models.RegistrationApproved).
		Where("proof_token = ?", proofToken).
		Where("attended = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ClearAttendance un-marks a mis-scanned registration. Callers log this as
// an explicit override, it is never part of the normal check-in path.
func (d *DB) ClearAttendance(ctx context.Context, registrationID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Registration)(nil)).
		Set("attended = ?", false).
		Set("attended_at = NULL").
		Where("id = ?", registrationID).
		Where("attended = ?", true).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ---------------- LISTING ----------------

func (d *DB) ListByEvent(ctx context.Context, eventID string) ([]models.Registration, error) {
	var regs []models.Registration
	err := d.Bun.NewSelect().
		Model(&regs).
		Where("event_id = ?", eventID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return regs, nil
}

func (d *DB) ListByParticipant(ctx context.Context, participantID string) ([]models.Registration, error) {
	var regs []models.Registration
	err := d.Bun.NewSelect().
		Model(&regs).
		Where("participant_id = ?", participantID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return regs, nil
}

// isUniqueViolation recognises a unique-index conflict from Postgres
// (class 23505) or the sqlite driver used in tests.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
