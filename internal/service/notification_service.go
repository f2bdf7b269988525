package service

import (
	"context"
	"errors"
	"time"

	"github.com/shinyyama/shop-tracking/internal/model"
	"github.com/shinyyama/shop-tracking/internal/repository"
)

type NotificationService interface {
	Notify(ctx context.Context, userID uint64, typ, title, body string, orderID *uint64) error
	List(ctx context.Context, userID uint64, unreadOnly bool, limit int) ([]model.Notification, int64, error)
	MarkAllRead(ctx context.Context, userID uint64) error
}

type notificationService struct {
	repo repository.NotificationRepository
}

func NewNotificationService(repo repository.NotificationRepository) NotificationService {
	return &notificationService{repo: repo}
}

// Notify writes an in-app notification. It runs under its own short deadline
// so a slow insert never holds up the caller for long.
func (s *notificationService) Notify(ctx context.Context, userID uint64, typ, title, body string, orderID *uint64) error {
	if userID == 0 || typ == "" {
		return errors.New("notification requires user and type")
	}
	ctx, cancel := withShortDeadline(ctx)
	defer cancel()
	return s.repo.Create(ctx, &model.Notification{
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Body:    body,
		OrderID: orderID,
	})
}

func (s *notificationService) List(ctx context.Context, userID uint64, unreadOnly bool, limit int) ([]model.Notification, int64, error) {
	if userID == 0 {
		return nil, 0, nil
	}
	list, err := s.repo.ListByUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, 0, err
	}
	cnt, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return list, 0, err
	}
	return list, cnt, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uint64) error {
	if userID == 0 {
		return nil
	}
	return s.repo.MarkAllRead(ctx, userID)
}

func withShortDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 2*time.Second)
}
