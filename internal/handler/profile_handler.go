package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/shop-tracking/internal/middleware"
	"github.com/shinyyama/shop-tracking/internal/model"
	"github.com/shinyyama/shop-tracking/internal/service"
)

type ProfileHandler struct {
	svc service.ProfileService
}

func NewProfileHandler(svc service.ProfileService) *ProfileHandler {
	return &ProfileHandler{svc: svc}
}

type ProfileResponse struct {
	ID             uint64           `json:"id"`
	Name           string           `json:"name"`
	Email          string           `json:"email"`
	Phone          *string          `json:"phone"`
	Role           model.Role       `json:"role"`
	DefaultAddress *AddressResponse `json:"defaultAddress"`
}

func (h *ProfileHandler) Me(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	prof, err := h.svc.Get(c.Request().Context(), p.UserID)
	if err != nil {
		return respondError(c, err)
	}
	resp := ProfileResponse{
		ID:    prof.User.ID,
		Name:  prof.User.Name,
		Email: prof.User.Email,
		Phone: strPtrOrNil(prof.User.Phone),
		Role:  prof.User.Role,
	}
	if prof.DefaultAddress != nil {
		a := toAddressResponse(*prof.DefaultAddress)
		resp.DefaultAddress = &a
	}
	return c.JSON(http.StatusOK, resp)
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
