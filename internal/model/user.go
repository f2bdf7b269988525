package model

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// User is owned by the account service; this backend only reads it.
type User struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Name        string    `gorm:"column:name;size:100;not null"`
	Email       string    `gorm:"column:email;size:255;not null;uniqueIndex"`
	Phone       string    `gorm:"column:phone;size:20"`
	Role        Role      `gorm:"column:role;size:16;not null;default:customer"`
	FirebaseUID *string   `gorm:"column:firebase_uid;size:128;uniqueIndex"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}
