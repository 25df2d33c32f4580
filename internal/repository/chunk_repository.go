package repository

import (
	"fmt"

	"gorm.io/gorm"

	"finrag/internal/model"
)

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

func (r *ChunkRepository) CreateBatch(chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := r.db.Create(&chunks).Error; err != nil {
		return fmt.Errorf("create chunks batch failed: %w", err)
	}
	return nil
}

func (r *ChunkRepository) ListBySessionID(sessionID string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	if err := r.db.Where("session_id = ?", sessionID).Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks by session failed: %w", err)
	}
	return chunks, nil
}

func (r *ChunkRepository) DeleteBySessionID(sessionID string) error {
	if err := r.db.Where("session_id = ?", sessionID).Delete(&model.Chunk{}).Error; err != nil {
		return fmt.Errorf("delete chunks by session failed: %w", err)
	}
	return nil
}
