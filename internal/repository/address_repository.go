package repository

import (
	"context"

	"github.com/shinyyama/shop-tracking/internal/model"
	"gorm.io/gorm"
)

type AddressRepository interface {
	Create(ctx context.Context, a *model.Address) error
	FindOwned(ctx context.Context, id, userID uint64) (*model.Address, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Address, error)
	FindDefault(ctx context.Context, userID uint64) (*model.Address, error)
	CountByUser(ctx context.Context, userID uint64) (int64, error)
	// LatestOther returns the most recently created address of the user other
	// than exceptID, or gorm.ErrRecordNotFound.
	LatestOther(ctx context.Context, userID, exceptID uint64) (*model.Address, error)
	Update(ctx context.Context, id uint64, fields map[string]interface{}) error
	SetDefault(ctx context.Context, id, userID uint64, isDefault bool) error
	// ClearDefaults unsets the default flag on every address of the user except exceptID.
	ClearDefaults(ctx context.Context, userID, exceptID uint64) error
	Delete(ctx context.Context, id uint64) error
	Count(ctx context.Context) (int64, error)
}

type addressRepository struct {
	db *gorm.DB
}

func (r *addressRepository) Create(ctx context.Context, a *model.Address) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *addressRepository) FindOwned(ctx context.Context, id, userID uint64) (*model.Address, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var a model.Address
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *addressRepository) ListByUser(ctx context.Context, userID uint64) ([]model.Address, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var list []model.Address
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC").
		Order("created_at DESC").
		Order("id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *addressRepository) FindDefault(ctx context.Context, userID uint64) (*model.Address, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var a model.Address
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_default = ?", userID, true).
		First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *addressRepository) CountByUser(ctx context.Context, userID uint64) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Address{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

func (r *addressRepository) LatestOther(ctx context.Context, userID, exceptID uint64) (*model.Address, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var a model.Address
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND id <> ?", userID, exceptID).
		Order("created_at DESC").
		Order("id DESC").
		First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *addressRepository) Update(ctx context.Context, id uint64, fields map[string]interface{}) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Address{}).Where("id = ?", id).Updates(fields).Error
}

func (r *addressRepository) SetDefault(ctx context.Context, id, userID uint64, isDefault bool) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).
		Model(&model.Address{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(model.DefaultColumns(userID, isDefault)).Error
}

func (r *addressRepository) ClearDefaults(ctx context.Context, userID, exceptID uint64) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).
		Model(&model.Address{}).
		Where("user_id = ? AND is_default = ? AND id <> ?", userID, true, exceptID).
		Updates(model.DefaultColumns(userID, false)).Error
}

func (r *addressRepository) Delete(ctx context.Context, id uint64) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Delete(&model.Address{}, id).Error
}

func (r *addressRepository) Count(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Address{}).Count(&n).Error
	return n, err
}
