package domain

import (
	"time"
)

// CallLog is the persisted audit record written when a call ends
type CallLog struct {
	ID           string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	CallID       string    `json:"call_id" db:"call_id" gorm:"column:call_id;unique"`
	CallerPhone  string    `json:"caller_phone" db:"caller_phone" gorm:"column:caller_phone"`
	Status       string    `json:"status" db:"status" gorm:"column:status"`
	Transcript   string    `json:"transcript" db:"transcript" gorm:"column:transcript;type:text"`
	QuoteCreated bool      `json:"quote_created" db:"quote_created" gorm:"column:quote_created"`
	EndReason    string    `json:"end_reason" db:"end_reason" gorm:"column:end_reason"`
	StartedAt    time.Time `json:"started_at" db:"started_at" gorm:"column:started_at"`
	EndedAt      time.Time `json:"ended_at" db:"ended_at" gorm:"column:ended_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (CallLog) TableName() string {
	return "call_logs"
}

// QuoteSubmission is the persisted audit record for each quote pushed to the CRM
type QuoteSubmission struct {
	ID           string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	CallID       string    `json:"call_id" db:"call_id" gorm:"column:call_id;index"`
	QuoteID      string    `json:"quote_id" db:"quote_id" gorm:"column:quote_id"`
	QuoteNumber  string    `json:"quote_number" db:"quote_number" gorm:"column:quote_number"`
	CustomerName string    `json:"customer_name" db:"customer_name" gorm:"column:customer_name"`
	ContactInfo  string    `json:"contact_info" db:"contact_info" gorm:"column:contact_info"`
	ItemsJSON    string    `json:"items_json" db:"items_json" gorm:"column:items_json;type:text"`
	EmailSent    bool      `json:"email_sent" db:"email_sent" gorm:"column:email_sent"`
	CreatedAt    time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (QuoteSubmission) TableName() string {
	return "quote_submissions"
}
