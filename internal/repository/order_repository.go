package repository

import (
	"context"

	"github.com/shinyyama/shop-tracking/internal/model"
	"gorm.io/gorm"
)

type OrderTrackingFilter struct {
	Status   model.OrderStatus
	StepName model.StepName
	Limit    int
	Offset   int
}

type OrderRepository interface {
	Create(ctx context.Context, o *model.Order) error
	FindByID(ctx context.Context, id uint64) (*model.Order, error)
	LockByID(ctx context.Context, id uint64) (*model.Order, error)
	FindByNumberForUser(ctx context.Context, orderNumber string, userID uint64) (*model.Order, error)
	FindWithTracking(ctx context.Context, id uint64) (*model.Order, error)
	UpdateFields(ctx context.Context, id uint64, fields map[string]interface{}) error
	ListWithTracking(ctx context.Context, f OrderTrackingFilter) ([]model.Order, int64, error)
	Count(ctx context.Context) (int64, error)
}

type orderRepository struct {
	db *gorm.DB
}

func (r *orderRepository) Create(ctx context.Context, o *model.Order) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *orderRepository) FindByID(ctx context.Context, id uint64) (*model.Order, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var o model.Order
	if err := r.db.WithContext(ctx).First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepository) LockByID(ctx context.Context, id uint64) (*model.Order, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var o model.Order
	if err := r.db.WithContext(ctx).Clauses(forUpdate).First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepository) FindByNumberForUser(ctx context.Context, orderNumber string, userID uint64) (*model.Order, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var o model.Order
	if err := r.db.WithContext(ctx).
		Where("order_number = ? AND user_id = ?", orderNumber, userID).
		First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepository) FindWithTracking(ctx context.Context, id uint64) (*model.Order, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var o model.Order
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("TrackingSteps", func(db *gorm.DB) *gorm.DB { return db.Order("step_number ASC") }).
		Preload("TrackingSteps.Detail").
		Preload("TrackingSteps.Admin", selectAdminProjection).
		First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepository) UpdateFields(ctx context.Context, id uint64, fields map[string]interface{}) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", id).Updates(fields).Error
}

// ListWithTracking pages orders newest first. A step name filter is an inner
// join: orders without a matching step are excluded and only the matching
// step is preloaded.
func (r *orderRepository) ListWithTracking(ctx context.Context, f OrderTrackingFilter) ([]model.Order, int64, error) {
	if r.db == nil {
		return nil, 0, ErrDBNotReady
	}
	q := r.db.WithContext(ctx).Model(&model.Order{})
	if f.Status != "" {
		q = q.Where("orders.status = ?", f.Status)
	}
	if f.StepName != "" {
		q = q.Joins("JOIN tracking_steps ON tracking_steps.order_id = orders.id AND tracking_steps.step_name = ?", f.StepName)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	steps := func(db *gorm.DB) *gorm.DB {
		if f.StepName != "" {
			db = db.Where("step_name = ?", f.StepName)
		}
		return db.Order("step_number ASC")
	}
	var orders []model.Order
	if err := q.Session(&gorm.Session{}).
		Preload("TrackingSteps", steps).
		Preload("TrackingSteps.Detail").
		Preload("TrackingSteps.Admin", selectAdminProjection).
		Order("orders.created_at DESC").
		Order("orders.id DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *orderRepository) Count(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).Count(&n).Error
	return n, err
}

// selectAdminProjection loads only the public columns of the acting admin.
func selectAdminProjection(db *gorm.DB) *gorm.DB {
	return db.Select("id", "name")
}
