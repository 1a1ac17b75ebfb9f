package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Registration statuses. Approved and rejected are terminal: once an
// application is rejected the (event, participant) pair can never apply
// again, the row stays behind to block re-application.
const (
	RegistrationPending  = "pending"
	RegistrationApproved = "approved"
	RegistrationRejected = "rejected"
)

// Payment statuses. The payment track only moves forward:
// pending -> submitted -> verified|failed. A registration created without
// a payment proof stays not_required forever.
const (
	PaymentNotRequired = "not_required"
	PaymentPending     = "pending"
	PaymentSubmitted   = "submitted"
	PaymentVerified    = "verified"
	PaymentFailed      = "failed"
)

type Registration struct {
	bun.BaseModel `bun:"table:registrations"`

	ID                 string                 `bun:"id,pk" json:"id"`
	EventID            string                 `bun:"event_id,notnull" json:"event_id"`
	ParticipantID      string                 `bun:"participant_id,notnull" json:"participant_id"`
	RegistrationStatus string                 `bun:"registration_status,notnull" json:"registration_status"`
	PaymentStatus      string                 `bun:"payment_status,notnull" json:"payment_status"`
	FormData           map[string]interface{} `bun:"form_data,type:jsonb" json:"form_data,omitempty"`
	PaymentProof       string                 `bun:"payment_proof,nullzero" json:"payment_proof,omitempty"`
	ProofToken         string                 `bun:"proof_token,nullzero" json:"-"`
	Attended           bool                   `bun:"attended" json:"attended"`
	AttendedAt         time.Time              `bun:"attended_at,nullzero" json:"attended_at,omitempty"`
	CreatedAt          time.Time              `bun:"created_at,notnull" json:"created_at"`
}

type ApplyRequest struct {
	EventID      string                 `json:"event_id"`
	FormData     map[string]interface{} `json:"form_data,omitempty"`
	PaymentProof string                 `json:"payment_proof,omitempty"`
}
