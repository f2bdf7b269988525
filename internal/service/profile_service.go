package service

import (
	"context"
	"errors"

	"github.com/shinyyama/shop-tracking/internal/model"
	"github.com/shinyyama/shop-tracking/internal/repository"
)

type Profile struct {
	User           model.User
	DefaultAddress *AddressView
}

type ProfileService interface {
	Get(ctx context.Context, userID uint64) (*Profile, error)
}

type profileService struct {
	store     repository.Store
	addresses AddressService
}

func NewProfileService(store repository.Store, addresses AddressService) ProfileService {
	return &profileService{store: store, addresses: addresses}
}

// Get returns the user with their default address, which is nil when the
// user has no addresses yet.
func (s *profileService) Get(ctx context.Context, userID uint64) (*Profile, error) {
	u, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	p := &Profile{User: *u}
	def, err := s.addresses.Default(ctx, userID)
	switch {
	case err == nil:
		p.DefaultAddress = def
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	return p, nil
}
