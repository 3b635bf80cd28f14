package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"decertify/internal/domain"

	"gorm.io/gorm"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Append(ctx context.Context, event domain.IssuanceEvent) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if event.RequestID == "" {
		return errors.New("request_id is required")
	}
	var payload []byte
	if len(event.Payload) > 0 {
		encoded, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("encode event payload: %w", err)
		}
		payload = encoded
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	model := IssuanceEventModel{
		RequestID:   event.RequestID,
		Attempt:     event.Attempt,
		Type:        string(event.Type),
		ActorID:     event.ActorID,
		PayloadJSON: payload,
		CreatedAt:   createdAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *EventRepository) ListByRequest(ctx context.Context, requestID string) ([]domain.IssuanceEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []IssuanceEventModel
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.IssuanceEvent, 0, len(models))
	for _, m := range models {
		event := domain.IssuanceEvent{
			RequestID: m.RequestID,
			Attempt:   m.Attempt,
			Type:      domain.EventType(m.Type),
			ActorID:   m.ActorID,
			CreatedAt: m.CreatedAt.UTC(),
		}
		if len(m.PayloadJSON) > 0 {
			if err := json.Unmarshal(m.PayloadJSON, &event.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		out = append(out, event)
	}
	return out, nil
}
