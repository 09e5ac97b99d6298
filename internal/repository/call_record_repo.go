package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relayhelp/voice-bridge-service/internal/domain"
	"gorm.io/gorm"
)

// CallRecordRepository handles database operations for call records
type CallRecordRepository struct {
	db *gorm.DB
}

// NewCallRecordRepository creates a new call record repository
func NewCallRecordRepository(db *gorm.DB) *CallRecordRepository {
	return &CallRecordRepository{db: db}
}

// Create creates a new call record
func (r *CallRecordRepository) Create(ctx context.Context, record *domain.CallRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.UpdatedAt = time.Now()

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create call record: %w", err)
	}
	return nil
}

// Update updates an existing call record
func (r *CallRecordRepository) Update(ctx context.Context, record *domain.CallRecord) error {
	record.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("failed to update call record: %w", err)
	}
	return nil
}

// GetByCallSid retrieves a call record by Twilio call SID. Returns nil when
// no record exists.
func (r *CallRecordRepository) GetByCallSid(ctx context.Context, callSid string) (*domain.CallRecord, error) {
	var record domain.CallRecord
	if err := r.db.WithContext(ctx).Where("call_sid = ?", callSid).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return &record, nil
}

// GetByID retrieves a call record by ID
func (r *CallRecordRepository) GetByID(ctx context.Context, id string) (*domain.CallRecord, error) {
	var record domain.CallRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return &record, nil
}

// FindRecent returns the most recent call records, newest first.
func (r *CallRecordRepository) FindRecent(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []*domain.CallRecord
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to find call records: %w", err)
	}
	return records, nil
}

// Delete deletes a call record by ID
func (r *CallRecordRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.CallRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete call record: %w", err)
	}
	return nil
}
