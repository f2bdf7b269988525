package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrDBNotReady = errors.New("database not initialized")

// Store groups the repositories. Inside Transaction every repository of the
// store passed to fn is bound to the same transaction; the transaction commits
// when fn returns nil and rolls back on error or panic.
type Store interface {
	Orders() OrderRepository
	Tracking() TrackingRepository
	Addresses() AddressRepository
	Users() UserRepository
	Locations() LocationRepository
	Notifications() NotificationRepository
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &store{db: db}
}

func (s *store) Orders() OrderRepository               { return &orderRepository{db: s.db} }
func (s *store) Tracking() TrackingRepository          { return &trackingRepository{db: s.db} }
func (s *store) Addresses() AddressRepository          { return &addressRepository{db: s.db} }
func (s *store) Users() UserRepository                 { return &userRepository{db: s.db} }
func (s *store) Locations() LocationRepository         { return &locationRepository{db: s.db} }
func (s *store) Notifications() NotificationRepository { return &notificationRepository{db: s.db} }

func (s *store) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.db == nil {
		return ErrDBNotReady
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&store{db: tx})
	})
}

// forUpdate is ignored by the sqlite dialector, which serializes writers.
var forUpdate = clause.Locking{Strength: "UPDATE"}
