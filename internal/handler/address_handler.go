package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/shop-tracking/internal/middleware"
	"github.com/shinyyama/shop-tracking/internal/model"
	"github.com/shinyyama/shop-tracking/internal/service"
)

type AddressHandler struct {
	svc service.AddressService
}

func NewAddressHandler(svc service.AddressService) *AddressHandler {
	return &AddressHandler{svc: svc}
}

type AddressResponse struct {
	ID            uint64             `json:"id"`
	ReceiverName  string             `json:"receiverName"`
	Phone         string             `json:"phone"`
	ProvinceCode  string             `json:"provinceCode"`
	ProvinceName  string             `json:"provinceName,omitempty"`
	DistrictCode  *string            `json:"districtCode"`
	DistrictName  string             `json:"districtName,omitempty"`
	WardCode      string             `json:"wardCode"`
	WardName      string             `json:"wardName,omitempty"`
	DetailAddress string             `json:"detailAddress"`
	Label         model.AddressLabel `json:"label"`
	IsDefault     bool               `json:"isDefault"`
	CreatedAt     string             `json:"createdAt"`
	UpdatedAt     string             `json:"updatedAt"`
}

func toAddressResponse(a service.AddressView) AddressResponse {
	return AddressResponse{
		ID:            a.ID,
		ReceiverName:  a.ReceiverName,
		Phone:         a.Phone,
		ProvinceCode:  a.ProvinceCode,
		ProvinceName:  a.ProvinceName,
		DistrictCode:  a.DistrictCode,
		DistrictName:  a.DistrictName,
		WardCode:      a.WardCode,
		WardName:      a.WardName,
		DetailAddress: a.DetailAddress,
		Label:         a.Label,
		IsDefault:     a.IsDefault,
		CreatedAt:     formatTime(a.CreatedAt),
		UpdatedAt:     formatTime(a.UpdatedAt),
	}
}

func (h *AddressHandler) List(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	list, err := h.svc.List(c.Request().Context(), p.UserID)
	if err != nil {
		return respondError(c, err)
	}
	resp := make([]AddressResponse, 0, len(list))
	for _, a := range list {
		resp = append(resp, toAddressResponse(a))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"addresses": resp})
}

func (h *AddressHandler) Get(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid address id"))
	}
	a, err := h.svc.Get(c.Request().Context(), id, p.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toAddressResponse(*a))
}

func (h *AddressHandler) Create(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req service.AddressInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("validation_error", err.Error()))
	}
	a, err := h.svc.Create(c.Request().Context(), p.UserID, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toAddressResponse(*a))
}

func (h *AddressHandler) Update(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid address id"))
	}
	var req service.AddressPatch
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid request body"))
	}
	a, err := h.svc.Update(c.Request().Context(), id, p.UserID, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toAddressResponse(*a))
}

func (h *AddressHandler) Delete(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid address id"))
	}
	if err := h.svc.Delete(c.Request().Context(), id, p.UserID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AddressHandler) SetDefault(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid address id"))
	}
	a, err := h.svc.SetDefault(c.Request().Context(), id, p.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toAddressResponse(*a))
}
