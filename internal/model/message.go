package model

import (
	"encoding/json"
	"time"
)

// SourceEvidence is a retrieved snippet cited alongside an answer.
type SourceEvidence struct {
	SourceType string `json:"source_type"`
	Content    string `json:"content"`
}

// Message is one chat turn. Sources is a JSON array of SourceEvidence,
// empty for user turns.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"size:36;not null;index" json:"session_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Sources   string    `gorm:"type:text" json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SourceList returns the parsed sources; nil on parse error or empty field.
func (m *Message) SourceList() []SourceEvidence {
	if m.Sources == "" {
		return nil
	}
	var list []SourceEvidence
	_ = json.Unmarshal([]byte(m.Sources), &list)
	return list
}

// SetSources stores the sources as JSON.
func (m *Message) SetSources(list []SourceEvidence) {
	if len(list) == 0 {
		m.Sources = ""
		return
	}
	b, _ := json.Marshal(list)
	m.Sources = string(b)
}
