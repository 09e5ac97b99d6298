package domain

import (
	"time"
)

// TicketCategory buckets the outcome of a call for downstream routing.
type TicketCategory string

const (
	TicketCategoryQuestion TicketCategory = "question"
	TicketCategoryIssue    TicketCategory = "issue"
	TicketCategoryFollowUp TicketCategory = "follow_up"
	TicketCategoryGeneral  TicketCategory = "general"
)

// CallRecord persists one bridged call, including the ordered QA transcript.
type CallRecord struct {
	ID         string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	CallSid    string    `json:"call_sid" db:"call_sid" gorm:"column:call_sid;unique"`
	StreamSid  string    `json:"stream_sid" db:"stream_sid" gorm:"column:stream_sid"`
	Status     string    `json:"status" db:"status" gorm:"column:status"`
	Transcript QALog     `json:"transcript" db:"transcript" gorm:"column:transcript;type:jsonb"`
	StartedAt  time.Time `json:"started_at" db:"started_at" gorm:"column:started_at"`
	EndedAt    time.Time `json:"ended_at" db:"ended_at" gorm:"column:ended_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (CallRecord) TableName() string {
	return "call_records"
}

// Ticket is the structured outcome the summarizer extracts from a call.
type Ticket struct {
	ID            string         `json:"id" db:"id" gorm:"column:id;primaryKey"`
	CallRecordID  string         `json:"call_record_id" db:"call_record_id" gorm:"column:call_record_id;index"`
	Category      TicketCategory `json:"category" db:"category" gorm:"column:category"`
	ContactName   string         `json:"contact_name" db:"contact_name" gorm:"column:contact_name"`
	ContactNumber string         `json:"contact_number" db:"contact_number" gorm:"column:contact_number"`
	ContactEmail  string         `json:"contact_email" db:"contact_email" gorm:"column:contact_email"`
	Satisfied     bool           `json:"satisfied" db:"satisfied" gorm:"column:satisfied"`
	Summary       string         `json:"summary" db:"summary" gorm:"column:summary"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}
