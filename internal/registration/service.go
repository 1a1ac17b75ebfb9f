package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-admission/internal/logger"
	"ms-admission/internal/models"
	"ms-admission/internal/utils"

	"github.com/google/uuid"
)

type DBLayer interface {
	CreateEvent(ctx context.Context, event models.Event) error
	GetEventByID(ctx context.Context, id string) (*models.Event, error)
	SetEventOpen(ctx context.Context, id string, open bool) error
	DeleteEvent(ctx context.Context, id string) error

	CreateRegistration(ctx context.Context, reg models.Registration) error
	GetRegistrationByID(ctx context.Context, id string) (*models.Registration, error)
	ApproveIfSlotFree(ctx context.Context, id, proofToken string) (bool, error)
	MarkRejected(ctx context.Context, id string) (bool, error)
	CountApproved(ctx context.Context, eventID string) (int, error)
	MarkPaymentSubmitted(ctx context.Context, id, participantID, proof string) (bool, error)
	SetPaymentOutcome(ctx context.Context, id, outcome string) (bool, error)
	ListByEvent(ctx context.Context, eventID string) ([]models.Registration, error)
	ListByParticipant(ctx context.Context, participantID string) ([]models.Registration, error)
}

// EventLock serializes approvals for one event across process instances.
type EventLock interface {
	LockEvent(ctx context.Context, eventID, holderID string) (bool, error)
	UnlockEvent(ctx context.Context, eventID, holderID string) error
}

type StatusPublisher interface {
	PublishRegistrationStatus(event models.RegistrationStatusEvent) error
}

type Service struct {
	DB           DBLayer
	Lock         EventLock
	Publisher    StatusPublisher
	Logger       *logger.Logger
	Clock        utils.Clock
	BusyRetries  int
	RetryBackoff time.Duration
}

func NewService(db DBLayer, lock EventLock, publisher StatusPublisher, log *logger.Logger) *Service {
	return &Service{
		DB:           db,
		Lock:         lock,
		Publisher:    publisher,
		Logger:       log,
		Clock:        utils.RealClock(),
		BusyRetries:  3,
		RetryBackoff: 50 * time.Millisecond,
	}
}

// ---------------- EVENTS ----------------

func (s *Service) CreateEvent(ctx context.Context, organizerID string, req models.CreateEventRequest) (*models.Event, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("event name is required")
	}
	if req.Capacity != nil && *req.Capacity < 0 {
		return nil, fmt.Errorf("capacity cannot be negative")
	}

	event := models.Event{
		ID:          uuid.NewString(),
		OrganizerID: organizerID,
		Name:        req.Name,
		Description: req.Description,
		Capacity:    req.Capacity,
		IsOpen:      false,
		CreatedAt:   s.Clock.Now().UTC(),
	}
	if err := s.DB.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return &event, nil
}

func (s *Service) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return s.DB.GetEventByID(ctx, id)
}

func (s *Service) SetEventOpen(ctx context.Context, eventID, organizerID string, open bool) error {
	if err := s.requireOwner(ctx, eventID, organizerID); err != nil {
		return err
	}
	return s.DB.SetEventOpen(ctx, eventID, open)
}

func (s *Service) DeleteEvent(ctx context.Context, eventID, organizerID string) error {
	if err := s.requireOwner(ctx, eventID, organizerID); err != nil {
		return err
	}
	return s.DB.DeleteEvent(ctx, eventID)
}

func (s *Service) requireOwner(ctx context.Context, eventID, organizerID string) error {
	event, err := s.DB.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	if event.OrganizerID != organizerID {
		return models.ErrForbidden
	}
	return nil
}

// ---------------- ADMISSION ----------------

// Apply creates a pending registration for (eventID, participantID). The
// duplicate check is the store's unique index, so a racing second apply for
// the same pair loses cleanly with ErrDuplicate regardless of timing.
func (s *Service) Apply(ctx context.Context, eventID, participantID string, formData map[string]interface{}, paymentProof string) (*models.Registration, error) {
	event, err := s.DB.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.IsOpen {
		return nil, models.ErrNotOpen
	}
	if event.OrganizerID == participantID {
		return nil, models.ErrSelfRegistration
	}

	paymentStatus := models.PaymentNotRequired
	if paymentProof != "" {
		paymentStatus = models.PaymentPending
	}

	reg := models.Registration{
		ID:                 uuid.NewString(),
		EventID:            eventID,
		ParticipantID:      participantID,
		RegistrationStatus: models.RegistrationPending,
		PaymentStatus:      paymentStatus,
		FormData:           formData,
		PaymentProof:       paymentProof,
		CreatedAt:          s.Clock.Now().UTC(),
	}

	if err := s.DB.CreateRegistration(ctx, reg); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return nil, models.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create registration: %w", err)
	}

	s.Logger.LogAdmission("APPLY", reg.ID, fmt.Sprintf("participant %s applied to event %s", participantID, eventID))
	s.publishStatus(reg, organizerUnset)
	return &reg, nil
}

const organizerUnset = ""

// Approve moves a pending registration into a scarce slot. Approvals for
// the same event are serialized by the event lock, and the capacity check
// happens inside a single conditional update that re-derives the approved
// count, so at most capacity registrations can ever be approved no matter
// how many callers race.
func (s *Service) Approve(ctx context.Context, registrationID, actingOrganizerID string) (*models.Registration, error) {
	reg, err := s.DB.GetRegistrationByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	event, err := s.DB.GetEventByID(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	if event.OrganizerID != actingOrganizerID {
		return nil, models.ErrForbidden
	}

	proofToken := utils.GenerateProofToken()
	holderID := uuid.NewString()

	err = s.withRetry(ctx, func() error {
		locked, lockErr := s.Lock.LockEvent(ctx, reg.EventID, holderID)
		if lockErr != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, lockErr)
		}
		if !locked {
			return models.ErrBusy
		}
		defer func() {
			if unlockErr := s.Lock.UnlockEvent(ctx, reg.EventID, holderID); unlockErr != nil {
				s.Logger.Error("ADMISSION", fmt.Sprintf("failed to release approval lock for event %s: %v", reg.EventID, unlockErr))
			}
		}()

		ok, updErr := s.DB.ApproveIfSlotFree(ctx, registrationID, proofToken)
		if updErr != nil {
			return fmt.Errorf("failed to approve registration: %w", updErr)
		}
		if !ok {
			return s.diagnoseApprovalFailure(ctx, registrationID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	reg.RegistrationStatus = models.RegistrationApproved
	reg.ProofToken = proofToken

	s.Logger.LogAdmission("APPROVE", registrationID, fmt.Sprintf("approved into event %s", reg.EventID))
	s.publishStatus(*reg, actingOrganizerID)
	return reg, nil
}

// diagnoseApprovalFailure turns a zero-row conditional approve into the
// precise error kind: the row vanished, it was not pending, or the event
// is full.
func (s *Service) diagnoseApprovalFailure(ctx context.Context, registrationID string) error {
	reg, err := s.DB.GetRegistrationByID(ctx, registrationID)
	if err != nil {
		return err
	}
	if reg.RegistrationStatus != models.RegistrationPending {
		return models.ErrNotPending
	}
	return models.ErrFull
}

// Reject is the terminal pending -> rejected transition. No capacity
// check, and the pair can never apply again.
func (s *Service) Reject(ctx context.Context, registrationID, actingOrganizerID string) error {
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

	ok, err := s.DB.MarkRejected(ctx, registrationID)
	if err != nil {
		return fmt.Errorf("failed to reject registration: %w", err)
	}
	if !ok {
		return models.ErrNotPending
	}

	reg.RegistrationStatus = models.RegistrationRejected
	s.Logger.LogAdmission("REJECT", registrationID, fmt.Sprintf("rejected from event %s", reg.EventID))
	s.publishStatus(*reg, actingOrganizerID)
	return nil
}

// ---------------- PAYMENT ----------------

// SubmitPayment attaches the participant's payment proof, moving the
// payment track pending -> submitted.
func (s *Service) SubmitPayment(ctx context.Context, registrationID, participantID, proof string) error {
	if proof == "" {
		return fmt.Errorf("payment proof is required")
	}
	ok, err := s.DB.MarkPaymentSubmitted(ctx, registrationID, participantID, proof)
	if err != nil {
		return fmt.Errorf("failed to submit payment: %w", err)
	}
	if !ok {
		reg, getErr := s.DB.GetRegistrationByID(ctx, registrationID)
		if getErr != nil {
			return getErr
		}
		if reg.ParticipantID != participantID {
			return models.ErrForbidden
		}
		return models.ErrPaymentState
	}

	s.Logger.LogAdmission("PAYMENT_SUBMIT", registrationID, "payment proof submitted")
	return nil
}

// VerifyPayment records the organizer's verdict on a submitted proof,
// moving the payment track submitted -> verified|failed.
func (s *Service) VerifyPayment(ctx context.Context, registrationID, outcome, actingOrganizerID string) error {
	if outcome != models.PaymentVerified && outcome != models.PaymentFailed {
		return fmt.Errorf("outcome must be %q or %q", models.PaymentVerified, models.PaymentFailed)
	}

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

	ok, err := s.DB.SetPaymentOutcome(ctx, registrationID, outcome)
	if err != nil {
		return fmt.Errorf("failed to record payment outcome: %w", err)
	}
	if !ok {
		return models.ErrPaymentState
	}

	reg.PaymentStatus = outcome
	s.Logger.LogAdmission("PAYMENT_VERIFY", registrationID, fmt.Sprintf("payment marked %s", outcome))
	s.publishStatus(*reg, actingOrganizerID)
	return nil
}

// ---------------- LISTING ----------------

func (s *Service) ListByEvent(ctx context.Context, eventID, actingOrganizerID string) ([]models.Registration, error) {
	if err := s.requireOwner(ctx, eventID, actingOrganizerID); err != nil {
		return nil, err
	}
	return s.DB.ListByEvent(ctx, eventID)
}

func (s *Service) ListByParticipant(ctx context.Context, participantID string) ([]models.Registration, error) {
	return s.DB.ListByParticipant(ctx, participantID)
}

// ---------------- HELPERS ----------------

// withRetry re-runs fn for ErrBusy only, with a short backoff. Any other
// error is final.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	attempts := s.BusyRetries
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !errors.Is(err, models.ErrBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.RetryBackoff * time.Duration(i+1)):
		}
	}
	return err
}

// publishStatus emits a status-changed event. Dispatch failure is logged
// and never fails the workflow transition that caused it.
func (s *Service) publishStatus(reg models.Registration, changedBy string) {
	if s.Publisher == nil {
		return
	}
	event := models.RegistrationStatusEvent{
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		ParticipantID:  reg.ParticipantID,
		Status:         reg.RegistrationStatus,
		PaymentStatus:  reg.PaymentStatus,
		ChangedBy:      changedBy,
		ChangedAt:      s.Clock.Now().UTC(),
	}
	if err := s.Publisher.PublishRegistrationStatus(event); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish status change for %s: %v", reg.ID, err))
	}
}
