package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relayhelp/voice-bridge-service/internal/domain"
	"gorm.io/gorm"
)

// TicketRepository handles database operations for tickets
type TicketRepository struct {
	db *gorm.DB
}

// NewTicketRepository creates a new ticket repository
func NewTicketRepository(db *gorm.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// Create creates a new ticket
func (r *TicketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.New().String()
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now()
	}
	ticket.UpdatedAt = time.Now()

	if err := r.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

// GetByCallRecordID retrieves the ticket for a call record. Returns nil when
// no ticket exists.
func (r *TicketRepository) GetByCallRecordID(ctx context.Context, callRecordID string) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := r.db.WithContext(ctx).Where("call_record_id = ?", callRecordID).First(&ticket).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &ticket, nil
}

// FindByCategory returns tickets in a category, newest first.
func (r *TicketRepository) FindByCategory(ctx context.Context, category domain.TicketCategory, limit int) ([]*domain.Ticket, error) {
	if limit <= 0 {
		limit = 50
	}

	var tickets []*domain.Ticket
	if err := r.db.WithContext(ctx).
		Where("category = ?", category).
		Order("created_at DESC").
		Limit(limit).
		Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("failed to find tickets: %w", err)
	}
	return tickets, nil
}
