package model

import "time"

type AddressLabel string

const (
	LabelHome   AddressLabel = "home"
	LabelOffice AddressLabel = "office"
	LabelOther  AddressLabel = "other"
)

func (l AddressLabel) Valid() bool {
	switch l {
	case LabelHome, LabelOffice, LabelOther:
		return true
	}
	return false
}

// Address is a delivery location of a user. DefaultOwner mirrors IsDefault
// (user id when default, NULL otherwise) and carries a unique index, so the
// database itself rejects a second default address for the same user.
type Address struct {
	ID            uint64       `gorm:"primaryKey;autoIncrement"`
	UserID        uint64       `gorm:"column:user_id;not null;index"`
	ReceiverName  string       `gorm:"column:receiver_name;size:100;not null"`
	Phone         string       `gorm:"column:phone;size:20;not null"`
	ProvinceCode  string       `gorm:"column:province_code;size:16;not null"`
	DistrictCode  *string      `gorm:"column:district_code;size:16"`
	WardCode      string       `gorm:"column:ward_code;size:16;not null"`
	DetailAddress string       `gorm:"column:detail_address;size:255;not null"`
	Label         AddressLabel `gorm:"column:label;size:16;not null;default:home"`
	IsDefault     bool         `gorm:"column:is_default;not null;default:false"`
	DefaultOwner  *uint64      `gorm:"column:default_owner;uniqueIndex"`
	CreatedAt     time.Time    `gorm:"autoCreateTime;index"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime"`
}

func (Address) TableName() string {
	return "addresses"
}

// DefaultColumns returns the column pair that must always be written together.
func DefaultColumns(userID uint64, isDefault bool) map[string]interface{} {
	if isDefault {
		return map[string]interface{}{"is_default": true, "default_owner": userID}
	}
	return map[string]interface{}{"is_default": false, "default_owner": nil}
}

// MarkDefault sets both default columns on an unsaved address.
func (a *Address) MarkDefault(isDefault bool) {
	a.IsDefault = isDefault
	if isDefault {
		owner := a.UserID
		a.DefaultOwner = &owner
	} else {
		a.DefaultOwner = nil
	}
}
