package verification

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"ms-admission/internal/logger"
	"ms-admission/internal/models"
	"ms-admission/internal/utils"
)

// ChallengeStore holds at most one live challenge per (subject, purpose)
// pair. Take removes the challenge it returns; that removal is what makes
// a successful verification single use.
type ChallengeStore interface {
	Put(ctx context.Context, ch models.Challenge, ttl time.Duration) error
	Take(ctx context.Context, subject, purpose string) (*models.Challenge, error)
	Restore(ctx context.Context, ch models.Challenge, ttl time.Duration) error
	RecordFailure(ctx context.Context, subject, purpose string, ttl time.Duration) (int, error)
	Clear(ctx context.Context, subject, purpose string) error
}

type CodePublisher interface {
	PublishCodeDelivery(event models.CodeDeliveryEvent) error
}

type Service struct {
	Store       ChallengeStore
	Publisher   CodePublisher
	Logger      *logger.Logger
	Clock       utils.Clock
	CodeTTL     time.Duration
	MaxAttempts int
	// EscapeCode, when non-empty, verifies any challenge. It is only ever
	// set by config outside production.
	EscapeCode string
}

func NewService(store ChallengeStore, publisher CodePublisher, log *logger.Logger) *Service {
	return &Service{
		Store:       store,
		Publisher:   publisher,
		Logger:      log,
		Clock:       utils.RealClock(),
		CodeTTL:     15 * time.Minute,
		MaxAttempts: 5,
	}
}

// IssueResult reports the issued challenge plus whether the delivery
// notification went out. Issuance succeeds even when delivery dispatch
// fails; callers surface Delivered=false to the user.
type IssueResult struct {
	ExpiresAt time.Time
	Delivered bool
}

// Issue creates a fresh challenge for (subject, purpose), replacing any
// prior unconsumed one. Re-issuing behaves identically whether or not a
// prior challenge existed, so a caller learns nothing from resending.
func (s *Service) Issue(ctx context.Context, subject, purpose string) (*IssueResult, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if !models.ValidPurpose(purpose) {
		return nil, fmt.Errorf("unknown verification purpose %q", purpose)
	}

	now := s.Clock.Now().UTC()
	ch := models.Challenge{
		Subject:   subject,
		Purpose:   purpose,
		Code:      utils.GenerateOTP(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.CodeTTL),
	}

	if err := s.Store.Put(ctx, ch, s.CodeTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	delivered := true
	if s.Publisher != nil {
		if err := s.Publisher.PublishCodeDelivery(models.CodeDeliveryEvent{
			Subject:  subject,
			Purpose:  purpose,
			Code:     ch.Code,
			IssuedAt: now,
		}); err != nil {
			delivered = false
			s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish code delivery for purpose %s: %v", purpose, err))
		}
	}

	s.Logger.LogVerification("ISSUE", purpose, "challenge issued")
	return &IssueResult{ExpiresAt: ch.ExpiresAt, Delivered: delivered}, nil
}

// Verify checks a candidate code. On success the challenge is consumed and
// can never verify again. Five consecutive mismatches destroy the
// challenge and force re-issuance.
func (s *Service) Verify(ctx context.Context, subject, purpose, candidate string) error {
	if !models.ValidPurpose(purpose) {
		return fmt.Errorf("unknown verification purpose %q", purpose)
	}

	ch, err := s.Store.Take(ctx, subject, purpose)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if ch == nil {
		return models.ErrNoChallenge
	}

	now := s.Clock.Now().UTC()
	if now.After(ch.ExpiresAt) {
		// Leave it consumed, an expired challenge is dead either way.
		return models.ErrExpired
	}

	if s.EscapeCode != "" && candidate == s.EscapeCode {
		s.Logger.LogSecurity("VERIFY_ESCAPE", fmt.Sprintf("escape code used for purpose %s", purpose))
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(candidate), []byte(ch.Code)) != 1 {
		attempts, recErr := s.Store.RecordFailure(ctx, subject, purpose, ch.ExpiresAt.Sub(now))
		if recErr != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, recErr)
		}
		if attempts >= s.MaxAttempts {
			// Guess budget exhausted; drop the challenge entirely.
			if clrErr := s.Store.Clear(ctx, subject, purpose); clrErr != nil {
				s.Logger.Error("VERIFY", fmt.Sprintf("failed to clear locked-out challenge: %v", clrErr))
			}
			s.Logger.LogSecurity("VERIFY_LOCKOUT", fmt.Sprintf("attempt limit reached for purpose %s", purpose))
			return models.ErrTooManyAttempts
		}
		// Put the challenge back with whatever lifetime it has left.
		if resErr := s.Store.Restore(ctx, *ch, ch.ExpiresAt.Sub(now)); resErr != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, resErr)
		}
		return models.ErrMismatch
	}

	s.Logger.LogVerification("VERIFY", purpose, "challenge consumed")
	return nil
}
