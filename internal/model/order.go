package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipping   OrderStatus = "shipping"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipping, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCOD          PaymentMethod = "cod"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentVNPay        PaymentMethod = "vnpay"
	PaymentMoMo         PaymentMethod = "momo"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type Order struct {
	ID                  uint64          `gorm:"primaryKey;autoIncrement"`
	OrderNumber         string          `gorm:"column:order_number;size:32;not null;uniqueIndex"`
	UserID              uint64          `gorm:"column:user_id;not null;index"`
	Status              OrderStatus     `gorm:"column:status;size:32;not null;default:pending;index"`
	PaymentMethod       PaymentMethod   `gorm:"column:payment_method;size:32;not null"`
	PaymentStatus       PaymentStatus   `gorm:"column:payment_status;size:32;not null;default:pending"`
	CurrentTrackingStep int             `gorm:"column:current_tracking_step;not null;default:1"`
	TotalAmount         decimal.Decimal `gorm:"column:total_amount;type:decimal(15,2);not null"`
	ShippingAddress     string          `gorm:"column:shipping_address;type:text"`
	CreatedAt           time.Time       `gorm:"autoCreateTime;index"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime"`

	Items         []OrderItem    `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	TrackingSteps []TrackingStep `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (Order) TableName() string {
	return "orders"
}

type OrderItem struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement"`
	OrderID     uint64          `gorm:"column:order_id;not null;index"`
	ProductName string          `gorm:"column:product_name;size:255;not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:decimal(15,2);not null"`
}

func (OrderItem) TableName() string {
	return "order_items"
}
