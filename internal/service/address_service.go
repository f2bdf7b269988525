package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shinyyama/shop-tracking/internal/model"
	"github.com/shinyyama/shop-tracking/internal/patch"
	"github.com/shinyyama/shop-tracking/internal/repository"
	"gorm.io/gorm"
)

var validate = validator.New()

type AddressService interface {
	List(ctx context.Context, userID uint64) ([]AddressView, error)
	Get(ctx context.Context, addressID, userID uint64) (*AddressView, error)
	Default(ctx context.Context, userID uint64) (*AddressView, error)
	Create(ctx context.Context, userID uint64, in AddressInput) (*AddressView, error)
	Update(ctx context.Context, addressID, userID uint64, p AddressPatch) (*AddressView, error)
	Delete(ctx context.Context, addressID, userID uint64) error
	SetDefault(ctx context.Context, addressID, userID uint64) (*AddressView, error)
}

type AddressInput struct {
	ReceiverName  string             `json:"receiverName" validate:"required,max=100"`
	Phone         string             `json:"phone" validate:"required,min=9,max=20"`
	ProvinceCode  string             `json:"provinceCode" validate:"required,max=16"`
	DistrictCode  *string            `json:"districtCode" validate:"omitempty,max=16"`
	WardCode      string             `json:"wardCode" validate:"required,max=16"`
	DetailAddress string             `json:"detailAddress" validate:"required,max=255"`
	Label         model.AddressLabel `json:"label" validate:"omitempty,oneof=home office other"`
	IsDefault     bool               `json:"isDefault"`
}

// AddressPatch is a partial address update. Only districtCode accepts null.
type AddressPatch struct {
	ReceiverName  patch.Field[string]             `json:"receiverName"`
	Phone         patch.Field[string]             `json:"phone"`
	ProvinceCode  patch.Field[string]             `json:"provinceCode"`
	DistrictCode  patch.Field[string]             `json:"districtCode"`
	WardCode      patch.Field[string]             `json:"wardCode"`
	DetailAddress patch.Field[string]             `json:"detailAddress"`
	Label         patch.Field[model.AddressLabel] `json:"label"`
	IsDefault     patch.Field[bool]               `json:"isDefault"`
}

func (p AddressPatch) validate() error {
	required := []struct {
		name string
		f    patch.Field[string]
		tag  string
	}{
		{"receiverName", p.ReceiverName, "required,max=100"},
		{"phone", p.Phone, "required,min=9,max=20"},
		{"provinceCode", p.ProvinceCode, "required,max=16"},
		{"wardCode", p.WardCode, "required,max=16"},
		{"detailAddress", p.DetailAddress, "required,max=255"},
	}
	for _, r := range required {
		if !r.f.Set {
			continue
		}
		if r.f.Null {
			return fmt.Errorf("%w: %s cannot be null", ErrValidation, r.name)
		}
		if err := validate.Var(r.f.Value, r.tag); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrValidation, r.name, err)
		}
	}
	if p.DistrictCode.Present() {
		if err := validate.Var(p.DistrictCode.Value, "max=16"); err != nil {
			return fmt.Errorf("%w: districtCode: %v", ErrValidation, err)
		}
	}
	if p.Label.Set && (p.Label.Null || !p.Label.Value.Valid()) {
		return fmt.Errorf("%w: invalid label", ErrValidation)
	}
	if p.IsDefault.Set && p.IsDefault.Null {
		return fmt.Errorf("%w: isDefault cannot be null", ErrValidation)
	}
	return nil
}

// columns returns the non-default columns carried by the patch.
func (p AddressPatch) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.ReceiverName.Present() {
		cols["receiver_name"] = p.ReceiverName.Value
	}
	if p.Phone.Present() {
		cols["phone"] = p.Phone.Value
	}
	if p.ProvinceCode.Present() {
		cols["province_code"] = p.ProvinceCode.Value
	}
	if p.DistrictCode.Set {
		if p.DistrictCode.Null {
			cols["district_code"] = nil
		} else {
			cols["district_code"] = p.DistrictCode.Value
		}
	}
	if p.WardCode.Present() {
		cols["ward_code"] = p.WardCode.Value
	}
	if p.DetailAddress.Present() {
		cols["detail_address"] = p.DetailAddress.Value
	}
	if p.Label.Present() {
		cols["label"] = p.Label.Value
	}
	return cols
}

// AddressView is an address with its administrative codes resolved to names.
// Names are empty when the code is unknown.
type AddressView struct {
	model.Address
	ProvinceName string
	DistrictName string
	WardName     string
}

type addressService struct {
	store repository.Store
}

func NewAddressService(store repository.Store) AddressService {
	return &addressService{store: store}
}

func (s *addressService) List(ctx context.Context, userID uint64) ([]AddressView, error) {
	list, err := s.store.Addresses().ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, list)
}

func (s *addressService) Get(ctx context.Context, addressID, userID uint64) (*AddressView, error) {
	a, err := s.store.Addresses().FindOwned(ctx, addressID, userID)
	if err != nil {
		return nil, translate(err)
	}
	return s.view(ctx, a)
}

func (s *addressService) Default(ctx context.Context, userID uint64) (*AddressView, error) {
	a, err := s.store.Addresses().FindDefault(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	return s.view(ctx, a)
}

func (s *addressService) Create(ctx context.Context, userID uint64, in AddressInput) (*AddressView, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	label := in.Label
	if label == "" {
		label = model.LabelHome
	}
	a := &model.Address{
		UserID:        userID,
		ReceiverName:  in.ReceiverName,
		Phone:         in.Phone,
		ProvinceCode:  in.ProvinceCode,
		DistrictCode:  in.DistrictCode,
		WardCode:      in.WardCode,
		DetailAddress: in.DetailAddress,
		Label:         label,
	}
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Users().LockByID(ctx, userID); err != nil {
			return err
		}
		n, err := tx.Addresses().CountByUser(ctx, userID)
		if err != nil {
			return err
		}
		makeDefault := n == 0 || in.IsDefault
		if makeDefault && n > 0 {
			if err := tx.Addresses().ClearDefaults(ctx, userID, 0); err != nil {
				return err
			}
		}
		a.MarkDefault(makeDefault)
		return tx.Addresses().Create(ctx, a)
	})
	if err != nil {
		return nil, translate(err)
	}
	return s.view(ctx, a)
}

func (s *addressService) Update(ctx context.Context, addressID, userID uint64, p AddressPatch) (*AddressView, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	var updated *model.Address
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Users().LockByID(ctx, userID); err != nil {
			return err
		}
		a, err := tx.Addresses().FindOwned(ctx, addressID, userID)
		if err != nil {
			return err
		}
		cols := p.columns()
		if p.IsDefault.Set {
			want := p.IsDefault.Value
			switch {
			case want && !a.IsDefault:
				if err := tx.Addresses().ClearDefaults(ctx, userID, a.ID); err != nil {
					return err
				}
				for k, v := range model.DefaultColumns(userID, true) {
					cols[k] = v
				}
			case !want && a.IsDefault:
				next, err := tx.Addresses().LatestOther(ctx, userID, a.ID)
				if errors.Is(err, gorm.ErrRecordNotFound) {
					// The only address stays default.
					break
				}
				if err != nil {
					return err
				}
				// Demote before promoting so the default-owner index never sees two rows.
				if err := tx.Addresses().SetDefault(ctx, a.ID, userID, false); err != nil {
					return err
				}
				if err := tx.Addresses().SetDefault(ctx, next.ID, userID, true); err != nil {
					return err
				}
			}
		}
		if err := tx.Addresses().Update(ctx, a.ID, cols); err != nil {
			return err
		}
		updated, err = tx.Addresses().FindOwned(ctx, a.ID, userID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return s.view(ctx, updated)
}

func (s *addressService) Delete(ctx context.Context, addressID, userID uint64) error {
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Users().LockByID(ctx, userID); err != nil {
			return err
		}
		a, err := tx.Addresses().FindOwned(ctx, addressID, userID)
		if err != nil {
			return err
		}
		if err := tx.Addresses().Delete(ctx, a.ID); err != nil {
			return err
		}
		if !a.IsDefault {
			return nil
		}
		next, err := tx.Addresses().LatestOther(ctx, userID, a.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.Addresses().SetDefault(ctx, next.ID, userID, true)
	})
	return translate(err)
}

func (s *addressService) SetDefault(ctx context.Context, addressID, userID uint64) (*AddressView, error) {
	var updated *model.Address
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Users().LockByID(ctx, userID); err != nil {
			return err
		}
		a, err := tx.Addresses().FindOwned(ctx, addressID, userID)
		if err != nil {
			return err
		}
		if err := tx.Addresses().ClearDefaults(ctx, userID, a.ID); err != nil {
			return err
		}
		if !a.IsDefault {
			if err := tx.Addresses().SetDefault(ctx, a.ID, userID, true); err != nil {
				return err
			}
		}
		updated, err = tx.Addresses().FindOwned(ctx, a.ID, userID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return s.view(ctx, updated)
}

func (s *addressService) view(ctx context.Context, a *model.Address) (*AddressView, error) {
	views, err := s.views(ctx, []model.Address{*a})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *addressService) views(ctx context.Context, list []model.Address) ([]AddressView, error) {
	out := make([]AddressView, 0, len(list))
	if len(list) == 0 {
		return out, nil
	}
	codes := make([]string, 0, len(list)*3)
	for _, a := range list {
		codes = append(codes, a.ProvinceCode, a.WardCode)
		if a.DistrictCode != nil {
			codes = append(codes, *a.DistrictCode)
		}
	}
	names, err := s.store.Locations().FindByCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		v := AddressView{
			Address:      a,
			ProvinceName: names[a.ProvinceCode].Name,
			WardName:     names[a.WardCode].Name,
		}
		if a.DistrictCode != nil {
			v.DistrictName = names[*a.DistrictCode].Name
		}
		out = append(out, v)
	}
	return out, nil
}
