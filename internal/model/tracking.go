package model

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type StepName string

const (
	StepPreparing      StepName = "preparing"
	StepPickedUp       StepName = "picked_up"
	StepInTransit      StepName = "in_transit"
	StepOutForDelivery StepName = "out_for_delivery"
	StepDelivered      StepName = "delivered"
)

// TrackingStage pairs a step number with its fixed name.
type TrackingStage struct {
	Number int
	Name   StepName
}

// TrackingStages is the complete, ordered fulfillment lifecycle of an order.
var TrackingStages = [5]TrackingStage{
	{1, StepPreparing},
	{2, StepPickedUp},
	{3, StepInTransit},
	{4, StepOutForDelivery},
	{5, StepDelivered},
}

// StageName returns the name fixed to a step number.
func StageName(number int) (StepName, bool) {
	if number < 1 || number > len(TrackingStages) {
		return "", false
	}
	return TrackingStages[number-1].Name, true
}

func (n StepName) Valid() bool {
	for _, s := range TrackingStages {
		if s.Name == n {
			return true
		}
	}
	return false
}

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusCompleted StepStatus = "completed"
	StepStatusDelayed   StepStatus = "delayed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusOnHold    StepStatus = "on_hold"
)

func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusCompleted, StepStatusDelayed, StepStatusFailed, StepStatusOnHold:
		return true
	}
	return false
}

type IssueType string

const (
	IssueDelay               IssueType = "delay"
	IssueDamaged             IssueType = "damaged"
	IssueLost                IssueType = "lost"
	IssueWrongAddress        IssueType = "wrong_address"
	IssueCustomerUnavailable IssueType = "customer_unavailable"
	IssueWeather             IssueType = "weather"
	IssueOther               IssueType = "other"
)

func (t IssueType) Valid() bool {
	switch t {
	case IssueDelay, IssueDamaged, IssueLost, IssueWrongAddress, IssueCustomerUnavailable, IssueWeather, IssueOther:
		return true
	}
	return false
}

type TrackingStep struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement"`
	OrderID       uint64     `gorm:"column:order_id;not null;uniqueIndex:idx_tracking_steps_order_step"`
	StepNumber    int        `gorm:"column:step_number;not null;uniqueIndex:idx_tracking_steps_order_step"`
	StepName      StepName   `gorm:"column:step_name;size:32;not null;index"`
	Status        StepStatus `gorm:"column:status;size:16;not null;default:pending;index"`
	CompletedAt   *time.Time `gorm:"column:completed_at"`
	EstimatedTime *string    `gorm:"column:estimated_time;size:100"`
	AdminID       *uint64    `gorm:"column:admin_id;index"`
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"`

	Detail *TrackingDetail `gorm:"foreignKey:StepID;constraint:OnDelete:CASCADE"`
	Admin  *User           `gorm:"foreignKey:AdminID;constraint:OnDelete:SET NULL"`
}

func (TrackingStep) TableName() string {
	return "tracking_steps"
}

var ErrStageMismatch = errors.New("step number and name do not match")

// BeforeCreate rejects a step whose number and name disagree with
// TrackingStages. Neither column is ever updated after insert.
func (s *TrackingStep) BeforeCreate(*gorm.DB) error {
	if name, ok := StageName(s.StepNumber); !ok || name != s.StepName {
		return fmt.Errorf("%w: %d %q", ErrStageMismatch, s.StepNumber, s.StepName)
	}
	return nil
}

type TrackingDetail struct {
	ID                  uint64                     `gorm:"primaryKey;autoIncrement"`
	StepID              uint64                     `gorm:"column:step_id;not null;uniqueIndex"`
	Location            *string                    `gorm:"column:location;size:255"`
	Description         *string                    `gorm:"column:description;type:text"`
	ShipperName         *string                    `gorm:"column:shipper_name;size:100"`
	ShipperPhone        *string                    `gorm:"column:shipper_phone;size:20"`
	ProofImages         datatypes.JSONSlice[string] `gorm:"column:proof_images;not null"`
	HasIssue            bool                       `gorm:"column:has_issue;not null;default:false;index"`
	IssueReason         *string                    `gorm:"column:issue_reason;type:text"`
	IssueType           *IssueType                 `gorm:"column:issue_type;size:32"`
	EstimatedResolution *time.Time                 `gorm:"column:estimated_resolution"`
	AdminNotes          *string                    `gorm:"column:admin_notes;type:text"`
	UpdatedBy           *uint64                    `gorm:"column:updated_by;index"`
	CreatedAt           time.Time                  `gorm:"autoCreateTime"`
	UpdatedAt           time.Time                  `gorm:"autoUpdateTime"`
}

func (TrackingDetail) TableName() string {
	return "tracking_details"
}

// BeforeSave keeps proof_images a JSON array, never NULL.
func (d *TrackingDetail) BeforeSave(*gorm.DB) error {
	if d.ProofImages == nil {
		d.ProofImages = datatypes.JSONSlice[string]{}
	}
	return nil
}
