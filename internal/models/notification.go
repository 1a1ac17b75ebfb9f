package models

import "time"

// Notification payloads published to Kafka. Delivery is fire-and-forget
// from the services' point of view: a failed publish is logged (and, for
// code delivery, reported back for user-facing feedback) but never fails
// the operation that produced it.

type CodeDeliveryEvent struct {
	Subject  string    `json:"subject"`
	Purpose  string    `json:"purpose"`
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
}

type RegistrationStatusEvent struct {
	RegistrationID string    `json:"registration_id"`
	EventID        string    `json:"event_id"`
	ParticipantID  string    `json:"participant_id"`
	Status         string    `json:"status"`
	PaymentStatus  string    `json:"payment_status,omitempty"`
	ChangedBy      string    `json:"changed_by,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
}

type CheckInEvent struct {
	RegistrationID string    `json:"registration_id"`
	EventID        string    `json:"event_id"`
	ParticipantID  string    `json:"participant_id"`
	Action         string    `json:"action"` // checked_in | attendance_override
	At             time.Time `json:"at"`
}
