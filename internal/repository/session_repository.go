package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"finrag/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(session *model.Session) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create session failed: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the session does not exist.
func (r *SessionRepository) GetByID(id string) (*model.Session, error) {
	var session model.Session
	if err := r.db.Where("id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) UpdateStatus(id string, status model.SessionStatus, message string) error {
	updates := map[string]interface{}{
		"status":         status,
		"status_message": message,
	}
	if err := r.db.Model(&model.Session{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update session status failed: %w", err)
	}
	return nil
}

// MarkReady records the terminal ready state together with the document name.
func (r *SessionRepository) MarkReady(id, documentName, message string) error {
	updates := map[string]interface{}{
		"status":         model.StatusReady,
		"status_message": message,
		"document_name":  documentName,
	}
	if err := r.db.Model(&model.Session{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark session ready failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteByID(id string) error {
	if err := r.db.Where("id = ?", id).Delete(&model.Session{}).Error; err != nil {
		return fmt.Errorf("delete session failed: %w", err)
	}
	return nil
}
