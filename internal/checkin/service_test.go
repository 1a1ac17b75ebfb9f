package checkin_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-admission/internal/checkin"
	"ms-admission/internal/checkin/qr"
	"ms-admission/internal/logger"
	"ms-admission/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDB implements the check-in DBLayer with the same consume-once
// semantics as the conditional update: the whole check runs under one
// mutex, so concurrent MarkAttended calls resolve to a single winner.
type fakeDB struct {
	mu            sync.Mutex
	events        map[string]models.Event
	registrations map[string]models.Registration
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		events:        make(map[string]models.Event),
		registrations: make(map[string]models.Registration),
	}
}

func (f *fakeDB) GetRegistrationByID(_ context.Context, id string) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.registrations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &reg, nil
}

func (f *fakeDB) GetEventByID(_ context.Context, id string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &event, nil
}

func (f *fakeDB) MarkAttended(_ context.Context, registrationID, eventID, participantID, proofToken string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.registrations[registrationID]
	if !ok || reg.EventID != eventID || reg.ParticipantID != participantID ||
		reg.RegistrationStatus != models.RegistrationApproved ||
		reg.ProofToken != proofToken || reg.Attended {
		return false, nil
	}
	reg.Attended = true
	reg.AttendedAt = at
	f.registrations[registrationID] = reg
	return true, nil
}

func (f *fakeDB) ClearAttendance(_ context.Context, registrationID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.registrations[registrationID]
	if !ok || !reg.Attended {
		return false, nil
	}
	reg.Attended = false
	reg.AttendedAt = time.Time{}
	f.registrations[registrationID] = reg
	return true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.CheckInEvent
}

func (p *recordingPublisher) PublishCheckIn(event models.CheckInEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func newTestService() (*checkin.Service, *fakeDB, *recordingPublisher) {
	db := newFakeDB()
	publisher := &recordingPublisher{}
	svc := checkin.NewService(db, publisher, qr.NewGenerator("test-qr-secret"), logger.NewLogger())
	return svc, db, publisher
}

// seedApproved inserts an approved registration holding a fresh proof token.
func seedApproved(db *fakeDB, organizerID string) models.Registration {
	eventID := uuid.NewString()
	db.events[eventID] = models.Event{
		ID:          eventID,
		OrganizerID: organizerID,
		Name:        "Annual Meetup",
		IsOpen:      true,
		CreatedAt:   time.Now().UTC(),
	}
	reg := models.Registration{
		ID:                 uuid.NewString(),
		EventID:            eventID,
		ParticipantID:      uuid.NewString(),
		RegistrationStatus: models.RegistrationApproved,
		PaymentStatus:      models.PaymentNotRequired,
		ProofToken:         uuid.NewString(),
		CreatedAt:          time.Now().UTC(),
	}
	db.registrations[reg.ID] = reg
	return reg
}

func TestCheckInHappyPath(t *testing.T) {
	svc, db, publisher := newTestService()
	reg := seedApproved(db, "org-1")

	err := svc.CheckIn(context.Background(), reg.EventID, reg.ID, reg.ParticipantID, reg.ProofToken)
	require.NoError(t, err)

	stored, err := db.GetRegistrationByID(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Attended)
	assert.False(t, stored.AttendedAt.IsZero())

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "checked_in", publisher.events[0].Action)
}

func TestCheckInSecondScanAlreadyChecked(t *testing.T) {
	svc, db, _ := newTestService()
	ctx := context.Background()
	reg := seedApproved(db, "org-1")

	require.NoError(t, svc.CheckIn(ctx, reg.EventID, reg.ID, reg.ParticipantID, reg.ProofToken))

	err := svc.CheckIn(ctx, reg.EventID, reg.ID, reg.ParticipantID, reg.ProofToken)
	assert.ErrorIs(t, err, models.ErrAlreadyChecked)

	// Even with a wrong token the consumed state wins the diagnosis.
	err = svc.CheckIn(ctx, reg.EventID, reg.ID, reg.ParticipantID, "some-other-token")
	assert.ErrorIs(t, err, models.ErrAlreadyChecked)
}

func TestConcurrentScansSingleWinner(t *testing.T) {
	svc, db, publisher := newTestService()
	reg := seedApproved(db, "org-1")

	const scans = 8
	var wg sync.WaitGroup
	results := make(chan error, scans)
	for i := 0; i < scans; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.CheckIn(context.Background(), reg.EventID, reg.ID, reg.ParticipantID, reg.ProofToken)
		}()
	}
	wg.Wait()
	close(results)

	successes, alreadyChecked := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, models.ErrAlreadyChecked):
			alreadyChecked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, scans-1, alreadyChecked)
	assert.Len(t, publisher.events, 1)
}

func TestCheckInBadToken(t *testing.T) {
	svc, db, _ := newTestService()
	ctx := context.Background()
	reg := seedApproved(db, "org-1")

	err := svc.CheckIn(ctx, reg.EventID, reg.ID, reg.ParticipantID, "forged")
	assert.ErrorIs(t, err, models.ErrBadToken)

	err = svc.CheckIn(ctx, reg.EventID, reg.ID, reg.ParticipantID, "")
	assert.ErrorIs(t, err, models.ErrBadToken)

	// A failed presentation leaves the token alive.
	err = svc.CheckIn(ctx, reg.EventID, reg.ID, reg.ParticipantID, reg.ProofToken)
	assert.NoError(t, err)
}

func TestCheckInWrongBinding(t *testing.T) {
	svc, db, _ := newTestService()
	ctx := context.Background()
	reg := seedApproved(db, "org-1")
	other := seedApproved(db, "org-1")

	err := svc.CheckIn(ctx, uuid.NewString(), reg.ID, reg.ParticipantID, reg.ProofToken)
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = svc.CheckIn(ctx, reg.EventID, uuid.NewString(), reg.ParticipantID, reg.ProofToken)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// A valid token presented against someone else's registration.
	err = svc.CheckIn(ctx, other.EventID, other.ID, reg.ParticipantID, other.ProofToken)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCheckInRequiresApprovedStatus(t *testing.T) {
	svc, db, _ := newTestService()
	reg := seedApproved(db, "org-1")

	stored := db.registrations[reg.ID]
	stored.RegistrationStatus = models.RegistrationPending
	db.registrations[reg.ID] = stored

	err := svc.CheckIn(context.Background(), reg.EventID, reg.ID, reg.ParticipantID, reg.ProofToken)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCheckInByQRRoundtrip(t *testing.T) {
	svc, db, _ := newTestService()
	ctx := context.Background()
	reg := seedApproved(db, "org-1")

	encrypted, err := svc.QR.Encrypt(qr.Payload{
		EventID:        reg.EventID,
		RegistrationID: reg.ID,
		ParticipantID:  reg.ParticipantID,
		ProofToken:     reg.ProofToken,
	})
	require.NoError(t, err)

	require.NoError(t, svc.CheckInByQR(ctx, encrypted))

	err = svc.CheckInByQR(ctx, encrypted)
	assert.ErrorIs(t, err, models.ErrAlreadyChecked)
}

func TestCheckInByQRGarbage(t *testing.T) {
	svc, _, _ := newTestService()

	err := svc.CheckInByQR(context.Background(), "not a qr payload")
	assert.ErrorIs(t, err, models.ErrBadToken)
}

func TestOverrideAttendance(t *testing.T) {
	svc, db, publisher := newTestService()
	ctx := context.Background()
	reg := seedApproved(db, "org-1")

	require.NoError(t, svc.CheckIn(ctx, reg.EventID, reg.ID, reg.ParticipantID, reg.ProofToken))

	err := svc.OverrideAttendance(ctx, reg.ID, "org-2")
	assert.ErrorIs(t, err, models.ErrForbidden)

	require.NoError(t, svc.OverrideAttendance(ctx, reg.ID, "org-1"))

	stored, err := db.GetRegistrationByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.False(t, stored.Attended)

	// The token is presentable again after the override.
	require.NoError(t, svc.CheckIn(ctx, reg.EventID, reg.ID, reg.ParticipantID, reg.ProofToken))

	actions := make([]string, 0, len(publisher.events))
	for _, event := range publisher.events {
		actions = append(actions, event.Action)
	}
	assert.Equal(t, []string{"checked_in", "attendance_override", "checked_in"}, actions)
}

func TestOverrideAttendanceNotCheckedIn(t *testing.T) {
	svc, db, _ := newTestService()
	reg := seedApproved(db, "org-1")

	err := svc.OverrideAttendance(context.Background(), reg.ID, "org-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAttendanceQR(t *testing.T) {
	svc, db, _ := newTestService()
	ctx := context.Background()
	reg := seedApproved(db, "org-1")

	png, err := svc.AttendanceQR(ctx, reg.ID, reg.ParticipantID)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))

	_, err = svc.AttendanceQR(ctx, reg.ID, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestAttendanceQRRequiresApproval(t *testing.T) {
	svc, db, _ := newTestService()
	reg := seedApproved(db, "org-1")

	stored := db.registrations[reg.ID]
	stored.RegistrationStatus = models.RegistrationPending
	stored.ProofToken = ""
	db.registrations[reg.ID] = stored

	_, err := svc.AttendanceQR(context.Background(), reg.ID, reg.ParticipantID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
