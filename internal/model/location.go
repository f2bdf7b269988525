package model

type LocationLevel string

const (
	LevelProvince LocationLevel = "province"
	LevelDistrict LocationLevel = "district"
	LevelWard     LocationLevel = "ward"
)

// VietnameseLocation is one node of the administrative hierarchy. Regions on
// the two-level hierarchy have wards whose parent is the province directly.
type VietnameseLocation struct {
	Code       string        `gorm:"column:code;primaryKey;size:16"`
	Name       string        `gorm:"column:name;size:255;not null"`
	Level      LocationLevel `gorm:"column:level;size:16;not null;index"`
	ParentCode *string       `gorm:"column:parent_code;size:16;index"`
}

func (VietnameseLocation) TableName() string {
	return "vietnamese_locations"
}
