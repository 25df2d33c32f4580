package model

import "time"

// SessionStatus enumerates the processing lifecycle of an uploaded document.
type SessionStatus string

const (
	StatusUploading  SessionStatus = "uploading"
	StatusProcessing SessionStatus = "processing"
	StatusReady      SessionStatus = "ready"
	StatusError      SessionStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s SessionStatus) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// SessionState is the hot, frequently-polled projection of a Session.
type SessionState struct {
	Status       SessionStatus `json:"status"`
	Message      string        `json:"message"`
	DocumentName string        `json:"document_name,omitempty"`
}

// Session tracks one uploaded document's processing lifecycle.
// Status transitions are owned by the ingest worker; the HTTP layer only
// reads them (and deletes the whole session).
type Session struct {
	ID            string        `gorm:"size:36;primaryKey" json:"session_id"`
	Status        SessionStatus `gorm:"size:16;not null;index" json:"status"`
	StatusMessage string        `gorm:"size:512" json:"message"`
	DocumentName  string        `gorm:"size:256" json:"document_name,omitempty"`
	FilePath      string        `gorm:"size:512" json:"-"`
	WorkDir       string        `gorm:"size:512" json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
