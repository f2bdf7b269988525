// Package testutil provides shared helpers for tests that need a migrated
// database. Each call to NewDB opens a private in-memory SQLite database.
// Helpers call t.Fatalf on failure since setup errors are not recoverable.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shinyyama/shop-tracking/internal/db"
	"github.com/shinyyama/shop-tracking/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N increasing across the test binary.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", UniqueID("testdb"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func CreateUser(t testing.TB, gdb *gorm.DB, role model.Role) *model.User {
	t.Helper()
	id := UniqueID("user")
	u := &model.User{
		Name:  "User " + id,
		Email: id + "@example.com",
		Role:  role,
	}
	if err := gdb.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func CreateOrder(t testing.TB, gdb *gorm.DB, userID uint64, method model.PaymentMethod) *model.Order {
	t.Helper()
	o := &model.Order{
		OrderNumber:     UniqueID("ORD"),
		UserID:          userID,
		Status:          model.OrderStatusConfirmed,
		PaymentMethod:   method,
		PaymentStatus:   model.PaymentStatusPending,
		TotalAmount:     decimal.RequireFromString("350000.00"),
		ShippingAddress: "12 Nguyen Hue, Ben Nghe, District 1, Ho Chi Minh City",
		Items: []model.OrderItem{
			{ProductName: "Ceramic teapot", Quantity: 1, UnitPrice: decimal.RequireFromString("250000.00")},
			{ProductName: "Tea cups (set of 2)", Quantity: 1, UnitPrice: decimal.RequireFromString("100000.00")},
		},
	}
	if err := gdb.Create(o).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// CreateAddress inserts an address directly, bypassing the default-address
// rules, with an explicit creation time so ordering is deterministic.
func CreateAddress(t testing.TB, gdb *gorm.DB, userID uint64, isDefault bool, createdAt time.Time) *model.Address {
	t.Helper()
	a := &model.Address{
		UserID:        userID,
		ReceiverName:  "Receiver",
		Phone:         "0901234567",
		ProvinceCode:  "79",
		WardCode:      "26734",
		DetailAddress: UniqueID("street"),
		Label:         model.LabelHome,
		CreatedAt:     createdAt,
	}
	a.MarkDefault(isDefault)
	if err := gdb.Create(a).Error; err != nil {
		t.Fatalf("create address: %v", err)
	}
	return a
}
