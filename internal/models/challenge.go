package models

import "time"

// Verification purposes. The same subject (an email address, say) can hold
// one live challenge per purpose, never shared between purposes.
const (
	PurposeParticipantEmail   = "participant-email"
	PurposeFacultySponsorship = "faculty-sponsorship"
)

// Challenge is the ephemeral one-time-code record for a (subject, purpose)
// pair. It lives in Redis with a TTL matching ExpiresAt; re-issuing for the
// same pair replaces it outright.
type Challenge struct {
	Subject   string    `json:"subject"`
	Purpose   string    `json:"purpose"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func ValidPurpose(purpose string) bool {
	return purpose == PurposeParticipantEmail || purpose == PurposeFacultySponsorship
}
