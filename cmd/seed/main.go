package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/shop-tracking/internal/authz"
	"github.com/shinyyama/shop-tracking/internal/config"
	"github.com/shinyyama/shop-tracking/internal/db"
	"github.com/shinyyama/shop-tracking/internal/middleware"
	"github.com/shinyyama/shop-tracking/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	users, err := seed(ctx, gdb)
	if err != nil {
		return err
	}
	log.Printf("seeded %d locations, %d users, %d orders", len(seedLocations), len(users), len(seedOrders))

	if cfg.AuthProvider != config.AuthJWT {
		return nil
	}
	v := middleware.NewJWTVerifier(cfg.JWTSecret)
	for _, u := range users {
		tok, err := v.Issue(authz.Principal{UserID: u.ID, Role: u.Role}, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("issue token for %s: %w", u.Email, err)
		}
		log.Printf("%-8s %s\n  %s", u.Role, u.Email, tok)
	}
	return nil
}

type seedOrder struct {
	Number   string
	Customer string
	Method   model.PaymentMethod
	Items    []model.OrderItem
	ShipTo   string
}

func ptr(s string) *string { return &s }

var seedLocations = []model.VietnameseLocation{
	{Code: "01", Name: "Thành phố Hà Nội", Level: model.LevelProvince},
	{Code: "001", Name: "Quận Ba Đình", Level: model.LevelDistrict, ParentCode: ptr("01")},
	{Code: "00001", Name: "Phường Phúc Xá", Level: model.LevelWard, ParentCode: ptr("001")},
	{Code: "00004", Name: "Phường Trúc Bạch", Level: model.LevelWard, ParentCode: ptr("001")},
	{Code: "79", Name: "Thành phố Hồ Chí Minh", Level: model.LevelProvince},
	{Code: "760", Name: "Quận 1", Level: model.LevelDistrict, ParentCode: ptr("79")},
	{Code: "26734", Name: "Phường Bến Nghé", Level: model.LevelWard, ParentCode: ptr("760")},
	{Code: "26737", Name: "Phường Bến Thành", Level: model.LevelWard, ParentCode: ptr("760")},
	{Code: "48", Name: "Thành phố Đà Nẵng", Level: model.LevelProvince},
	{Code: "20194", Name: "Phường Hải Châu", Level: model.LevelWard, ParentCode: ptr("48")},
}

var seedUsers = []model.User{
	{Name: "Demo Admin", Email: "admin@shop.local", Role: model.RoleAdmin},
	{Name: "Demo Staff", Email: "staff@shop.local", Role: model.RoleStaff},
	{Name: "Nguyen Van A", Email: "customer@shop.local", Phone: "0901234567", Role: model.RoleCustomer},
}

var seedOrders = []seedOrder{
	{
		Number:   "DEMO-0001",
		Customer: "customer@shop.local",
		Method:   model.PaymentCOD,
		ShipTo:   "12 Nguyen Hue, Ben Nghe, Quan 1, Ho Chi Minh City",
		Items: []model.OrderItem{
			{ProductName: "Ceramic teapot", Quantity: 1, UnitPrice: decimal.RequireFromString("250000")},
			{ProductName: "Tea cups (set of 2)", Quantity: 2, UnitPrice: decimal.RequireFromString("100000")},
		},
	},
	{
		Number:   "DEMO-0002",
		Customer: "customer@shop.local",
		Method:   model.PaymentVNPay,
		ShipTo:   "5 Tran Phu, Hai Chau, Da Nang",
		Items: []model.OrderItem{
			{ProductName: "Linen tote bag", Quantity: 1, UnitPrice: decimal.RequireFromString("180000")},
		},
	},
}

// seed inserts the demo data. It is idempotent: rows that already exist are
// left untouched.
func seed(ctx context.Context, gdb *gorm.DB) ([]model.User, error) {
	var users []model.User
	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locations := append([]model.VietnameseLocation(nil), seedLocations...)
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&locations).Error; err != nil {
			return fmt.Errorf("insert locations: %w", err)
		}

		byEmail := make(map[string]uint64, len(seedUsers))
		for _, want := range seedUsers {
			u := want
			if err := tx.Where(model.User{Email: want.Email}).FirstOrCreate(&u).Error; err != nil {
				return fmt.Errorf("upsert user %s: %w", want.Email, err)
			}
			byEmail[u.Email] = u.ID
			users = append(users, u)
		}

		for _, so := range seedOrders {
			var n int64
			if err := tx.Model(&model.Order{}).Where("order_number = ?", so.Number).Count(&n).Error; err != nil {
				return fmt.Errorf("count order %s: %w", so.Number, err)
			}
			if n > 0 {
				continue
			}
			total := decimal.Zero
			items := make([]model.OrderItem, len(so.Items))
			for i, it := range so.Items {
				items[i] = it
				total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
			}
			o := model.Order{
				OrderNumber:     so.Number,
				UserID:          byEmail[so.Customer],
				Status:          model.OrderStatusConfirmed,
				PaymentMethod:   so.Method,
				PaymentStatus:   model.PaymentStatusPending,
				TotalAmount:     total,
				ShippingAddress: so.ShipTo,
				Items:           items,
			}
			if err := tx.Create(&o).Error; err != nil {
				return fmt.Errorf("insert order %s: %w", so.Number, err)
			}
		}
		return nil
	})
	return users, err
}
