package service

import (
	"context"
	"sync"

	coreEntity "clinicsync/core/entity"
	"clinicsync/core/logger"
	"clinicsync/core/params"
	"clinicsync/modules/notification/dto"
	"clinicsync/modules/notification/entity"
	"clinicsync/modules/notification/repository"

	"github.com/google/uuid"
)

// Observer receives sync events as they happen. The UI collaborator
// registers one; the transport (websocket, SSE, polling) is its
// concern, not this module's.
type Observer interface {
	Notify(event dto.SyncEvent)
}

type NotificationService struct {
	repo *repository.NotificationRepository

	mu        sync.RWMutex
	observers []Observer
}

func NewNotificationService(repo *repository.NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

func (s *NotificationService) RegisterObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Publish persists the event as a notification and fans it out to all
// registered observers. Observer failures never affect the caller.
func (s *NotificationService) Publish(ctx context.Context, event dto.SyncEvent) error {
	notif := &entity.Notification{
		ClinicianID:  event.ClinicianID,
		ConnectionID: event.ConnectionID,
		Type:         event.Type,
		Message:      event.Message,
		Data:         entity.JSONB(event.Payload),
		IsRead:       false,
		BaseEntity:   coreEntity.BaseEntity{},
	}
	if err := s.repo.Create(ctx, notif); err != nil {
		logger.Error("NotificationService:Publish:Create:Error", "error", err, "type", event.Type)
		return err
	}

	s.mu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("NotificationService:Publish:ObserverPanic", "recovered", r)
				}
			}()
			o.Notify(event)
		}()
	}
	return nil
}

func (s *NotificationService) GetMyNotifications(ctx context.Context, clinicianID uuid.UUID, queryParams params.QueryParams) (*entity.PaginatedNotificationEntity, error) {
	return s.repo.GetByClinicianID(ctx, clinicianID, queryParams)
}

func (s *NotificationService) MarkAsRead(ctx context.Context, clinicianID uuid.UUID, ids []string) error {
	return s.repo.MarkAsRead(ctx, clinicianID, ids)
}

func (s *NotificationService) CountUnread(ctx context.Context, clinicianID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, clinicianID)
}
