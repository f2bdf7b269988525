package repository

import (
	"context"

	"github.com/shinyyama/shop-tracking/internal/model"
	"gorm.io/gorm"
)

type StepStatusCount struct {
	StepName model.StepName   `gorm:"column:step_name"`
	Status   model.StepStatus `gorm:"column:status"`
	Count    int64            `gorm:"column:count"`
}

type IssueTypeCount struct {
	IssueType *model.IssueType `gorm:"column:issue_type"`
	Count     int64            `gorm:"column:count"`
}

type TrackingRepository interface {
	CountByOrder(ctx context.Context, orderID uint64) (int64, error)
	CreateSteps(ctx context.Context, steps []model.TrackingStep) error
	ListByOrder(ctx context.Context, orderID uint64) ([]model.TrackingStep, error)
	// LockStep loads a step and its detail with both rows locked for update.
	LockStep(ctx context.Context, id uint64) (*model.TrackingStep, error)
	FindStep(ctx context.Context, id uint64) (*model.TrackingStep, error)
	UpdateStep(ctx context.Context, id uint64, fields map[string]interface{}) error
	SaveDetail(ctx context.Context, d *model.TrackingDetail) error
	MaxCompletedStep(ctx context.Context, orderID uint64) (int, error)
	CountByStepAndStatus(ctx context.Context) ([]StepStatusCount, error)
	CountIssuesByType(ctx context.Context) ([]IssueTypeCount, error)
	CountSteps(ctx context.Context) (int64, error)
	CountDetails(ctx context.Context) (int64, error)
}

type trackingRepository struct {
	db *gorm.DB
}

func (r *trackingRepository) CountByOrder(ctx context.Context, orderID uint64) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&model.TrackingStep{}).Where("order_id = ?", orderID).Count(&n).Error
	return n, err
}

func (r *trackingRepository) CreateSteps(ctx context.Context, steps []model.TrackingStep) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Create(&steps).Error
}

func (r *trackingRepository) ListByOrder(ctx context.Context, orderID uint64) ([]model.TrackingStep, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var steps []model.TrackingStep
	if err := r.db.WithContext(ctx).
		Preload("Detail").
		Preload("Admin", selectAdminProjection).
		Where("order_id = ?", orderID).
		Order("step_number ASC").
		Find(&steps).Error; err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *trackingRepository) LockStep(ctx context.Context, id uint64) (*model.TrackingStep, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var step model.TrackingStep
	if err := r.db.WithContext(ctx).Clauses(forUpdate).First(&step, id).Error; err != nil {
		return nil, err
	}
	var details []model.TrackingDetail
	if err := r.db.WithContext(ctx).Clauses(forUpdate).
		Where("step_id = ?", id).
		Limit(1).
		Find(&details).Error; err != nil {
		return nil, err
	}
	if len(details) > 0 {
		step.Detail = &details[0]
	}
	return &step, nil
}

func (r *trackingRepository) FindStep(ctx context.Context, id uint64) (*model.TrackingStep, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var step model.TrackingStep
	if err := r.db.WithContext(ctx).
		Preload("Detail").
		Preload("Admin", selectAdminProjection).
		First(&step, id).Error; err != nil {
		return nil, err
	}
	return &step, nil
}

func (r *trackingRepository) UpdateStep(ctx context.Context, id uint64, fields map[string]interface{}) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Model(&model.TrackingStep{}).Where("id = ?", id).Updates(fields).Error
}

// SaveDetail inserts the detail when it has no id and rewrites every column otherwise.
func (r *trackingRepository) SaveDetail(ctx context.Context, d *model.TrackingDetail) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	if d.ID == 0 {
		return r.db.WithContext(ctx).Create(d).Error
	}
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *trackingRepository) MaxCompletedStep(ctx context.Context, orderID uint64) (int, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var highest int
	err := r.db.WithContext(ctx).
		Model(&model.TrackingStep{}).
		Select("COALESCE(MAX(step_number), 0)").
		Where("order_id = ? AND status = ?", orderID, model.StepStatusCompleted).
		Scan(&highest).Error
	return highest, err
}

func (r *trackingRepository) CountByStepAndStatus(ctx context.Context) ([]StepStatusCount, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var rows []StepStatusCount
	if err := r.db.WithContext(ctx).
		Model(&model.TrackingStep{}).
		Select("step_name, status, COUNT(*) AS count").
		Group("step_name, status").
		Order("step_name, status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *trackingRepository) CountIssuesByType(ctx context.Context) ([]IssueTypeCount, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var rows []IssueTypeCount
	if err := r.db.WithContext(ctx).
		Model(&model.TrackingDetail{}).
		Select("issue_type, COUNT(*) AS count").
		Where("has_issue = ?", true).
		Group("issue_type").
		Order("issue_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *trackingRepository) CountSteps(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&model.TrackingStep{}).Count(&n).Error
	return n, err
}

func (r *trackingRepository) CountDetails(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&model.TrackingDetail{}).Count(&n).Error
	return n, err
}
