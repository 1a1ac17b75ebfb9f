package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-admission/internal/checkin/qr"
	"ms-admission/internal/logger"
	"ms-admission/internal/models"
	"ms-admission/internal/utils"
)

type DBLayer interface {
	GetRegistrationByID(ctx context.Context, id string) (*models.Registration, error)
	GetEventByID(ctx context.Context, id string) (*models.Event, error)
	MarkAttended(ctx context.Context, registrationID, eventID, participantID, proofToken string, at time.Time) (bool, error)
	ClearAttendance(ctx context.Context, registrationID string) (bool, error)
}

type CheckInPublisher interface {
	PublishCheckIn(event models.CheckInEvent) error
}

// Service is the attendance verifier: it consumes single-use proof tokens
// at the door and owns the attended/attended_at sub-fields.
type Service struct {
	DB        DBLayer
	Publisher CheckInPublisher
	QR        *qr.Generator
	Logger    *logger.Logger
	Clock     utils.Clock
}

func NewService(db DBLayer, publisher CheckInPublisher, qrGen *qr.Generator, log *logger.Logger) *Service {
	return &Service{
		DB:        db,
		Publisher: publisher,
		QR:        qrGen,
		Logger:    log,
		Clock:     utils.RealClock(),
	}
}

// CheckIn validates and consumes a proof token. The whole decision is one
// conditional update, so two simultaneous scans of the same QR produce
// exactly one success; the other caller (and every later one) gets
// ErrAlreadyChecked.
func (s *Service) CheckIn(ctx context.Context, eventID, registrationID, participantID, proofToken string) error {
	if proofToken == "" {
		return models.ErrBadToken
	}

	now := s.Clock.Now().UTC()
	ok, err := s.DB.MarkAttended(ctx, registrationID, eventID, participantID, proofToken, now)
	if err != nil {
		return fmt.Errorf("failed to record check-in: %w", err)
	}
	if !ok {
		return s.diagnoseFailure(ctx, eventID, registrationID, participantID, proofToken)
	}

	s.Logger.LogCheckIn("CHECKIN", registrationID, fmt.Sprintf("participant %s checked in to event %s", participantID, eventID))
	s.publish(models.CheckInEvent{
		RegistrationID: registrationID,
		EventID:        eventID,
		ParticipantID:  participantID,
		Action:         "checked_in",
		At:             now,
	})
	return nil
}

// CheckInByQR decrypts a scanned QR payload and runs the normal check-in.
func (s *Service) CheckInByQR(ctx context.Context, encryptedQR string) error {
	payload, err := s.QR.Decrypt(encryptedQR)
	if err != nil {
		return models.ErrBadToken
	}
	return s.CheckIn(ctx, payload.EventID, payload.RegistrationID, payload.ParticipantID, payload.ProofToken)
}

// diagnoseFailure works out why the conditional update matched nothing:
// wrong triple, already consumed, or wrong token.
func (s *Service) diagnoseFailure(ctx context.Context, eventID, registrationID, participantID, proofToken string) error {
	reg, err := s.DB.GetRegistrationByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return err
	}
	if reg.EventID != eventID || reg.ParticipantID != participantID ||
		reg.RegistrationStatus != models.RegistrationApproved {
		return models.ErrNotFound
	}
	if reg.Attended {
		return models.ErrAlreadyChecked
	}
	if reg.ProofToken != proofToken {
		return models.ErrBadToken
	}
	// The row qualified on re-read; the first attempt lost a transient race.
	return models.ErrBusy
}

// OverrideAttendance un-marks a mis-scanned registration. This is an
// explicit organizer action and is audit-logged as its own event, distinct
// from the original mark.
func (s *Service) OverrideAttendance(ctx context.Context, registrationID, actingOrganizerID string) error {
	reg, err := s.DB.GetRegistrationByID(ctx, registrationID)
	if err != nil {
		return err
	}
	event, err := s.DB.GetEventByID(ctx, reg.EventID)
	if err != nil {
		return err
	}
	if event.OrganizerID != actingOrganizerID {
		return models.ErrForbidden
	}

	ok, err := s.DB.ClearAttendance(ctx, registrationID)
	if err != nil {
		return fmt.Errorf("failed to clear attendance: %w", err)
	}
	if !ok {
		return models.ErrNotFound
	}

	s.Logger.LogSecurity("ATTENDANCE_OVERRIDE",
		fmt.Sprintf("organizer %s un-marked attendance for registration %s", actingOrganizerID, registrationID))
	s.publish(models.CheckInEvent{
		RegistrationID: registrationID,
		EventID:        reg.EventID,
		ParticipantID:  reg.ParticipantID,
		Action:         "attendance_override",
		At:             s.Clock.Now().UTC(),
	})
	return nil
}

// AttendanceQR renders the encrypted QR a participant presents at the
// door. Only the registration's own participant may fetch it, and only
// once approved.
func (s *Service) AttendanceQR(ctx context.Context, registrationID, participantID string) ([]byte, error) {
	reg, err := s.DB.GetRegistrationByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.ParticipantID != participantID {
		return nil, models.ErrForbidden
	}
	if reg.RegistrationStatus != models.RegistrationApproved || reg.ProofToken == "" {
		return nil, models.ErrNotFound
	}

	return s.QR.GenerateEncryptedQR(qr.Payload{
		EventID:        reg.EventID,
		RegistrationID: reg.ID,
		ParticipantID:  reg.ParticipantID,
		ProofToken:     reg.ProofToken,
	})
}

func (s *Service) publish(event models.CheckInEvent) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.PublishCheckIn(event); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish check-in event for %s: %v", event.RegistrationID, err))
	}
}
