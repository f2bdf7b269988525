package repository

import (
	"context"

	"github.com/shinyyama/shop-tracking/internal/model"
	"gorm.io/gorm"
)

type LocationRepository interface {
	FindByCodes(ctx context.Context, codes []string) (map[string]model.VietnameseLocation, error)
}

type locationRepository struct {
	db *gorm.DB
}

func (r *locationRepository) FindByCodes(ctx context.Context, codes []string) (map[string]model.VietnameseLocation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	out := make(map[string]model.VietnameseLocation, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	var list []model.VietnameseLocation
	if err := r.db.WithContext(ctx).Where("code IN ?", codes).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, l := range list {
		out[l.Code] = l
	}
	return out, nil
}
