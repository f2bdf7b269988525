package handler

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/shop-tracking/internal/middleware"
	"github.com/shinyyama/shop-tracking/internal/model"
	"github.com/shinyyama/shop-tracking/internal/reqctx"
	"github.com/shinyyama/shop-tracking/internal/service"
	"github.com/shinyyama/shop-tracking/internal/storage"
	"github.com/shopspring/decimal"
)

const (
	maxProofImageBytes = 5 << 20
	sniffLen           = 512
)

type TrackingHandler struct {
	svc    service.TrackingService
	proofs storage.ProofStore
}

// NewTrackingHandler builds the handler. proofs may be nil, in which case
// image uploads answer 503.
func NewTrackingHandler(svc service.TrackingService, proofs storage.ProofStore) *TrackingHandler {
	return &TrackingHandler{svc: svc, proofs: proofs}
}

type AdminResponse struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

type DetailResponse struct {
	Location            *string          `json:"location"`
	Description         *string          `json:"description"`
	ShipperName         *string          `json:"shipperName"`
	ShipperPhone        *string          `json:"shipperPhone"`
	ProofImages         []string         `json:"proofImages"`
	HasIssue            bool             `json:"hasIssue"`
	IssueReason         *string          `json:"issueReason"`
	IssueType           *model.IssueType `json:"issueType"`
	EstimatedResolution *string          `json:"estimatedResolution"`
	AdminNotes          *string          `json:"adminNotes"`
	UpdatedAt           string           `json:"updatedAt"`
}

type StepResponse struct {
	ID            uint64           `json:"id"`
	StepNumber    int              `json:"stepNumber"`
	StepName      model.StepName   `json:"stepName"`
	Status        model.StepStatus `json:"status"`
	CompletedAt   *string          `json:"completedAt"`
	EstimatedTime *string          `json:"estimatedTime"`
	Admin         *AdminResponse   `json:"admin"`
	Detail        *DetailResponse  `json:"detail"`
	UpdatedAt     string           `json:"updatedAt"`
}

type OrderItemResponse struct {
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

type OrderTrackingResponse struct {
	ID                  uint64              `json:"id"`
	OrderNumber         string              `json:"orderNumber"`
	Status              model.OrderStatus   `json:"status"`
	PaymentMethod       model.PaymentMethod `json:"paymentMethod"`
	PaymentStatus       model.PaymentStatus `json:"paymentStatus"`
	CurrentTrackingStep int                 `json:"currentTrackingStep"`
	TotalAmount         decimal.Decimal     `json:"totalAmount"`
	ShippingAddress     string              `json:"shippingAddress"`
	CreatedAt           string              `json:"createdAt"`
	Items               []OrderItemResponse `json:"items,omitempty"`
	Steps               []StepResponse      `json:"steps"`
}

func toStepResponse(s model.TrackingStep) StepResponse {
	resp := StepResponse{
		ID:            s.ID,
		StepNumber:    s.StepNumber,
		StepName:      s.StepName,
		Status:        s.Status,
		CompletedAt:   formatTimePtr(s.CompletedAt),
		EstimatedTime: s.EstimatedTime,
		UpdatedAt:     formatTime(s.UpdatedAt),
	}
	if s.Admin != nil {
		resp.Admin = &AdminResponse{ID: s.Admin.ID, Name: s.Admin.Name}
	}
	if d := s.Detail; d != nil {
		images := append([]string{}, d.ProofImages...)
		resp.Detail = &DetailResponse{
			Location:            d.Location,
			Description:         d.Description,
			ShipperName:         d.ShipperName,
			ShipperPhone:        d.ShipperPhone,
			ProofImages:         images,
			HasIssue:            d.HasIssue,
			IssueReason:         d.IssueReason,
			IssueType:           d.IssueType,
			EstimatedResolution: formatTimePtr(d.EstimatedResolution),
			AdminNotes:          d.AdminNotes,
			UpdatedAt:           formatTime(d.UpdatedAt),
		}
	}
	return resp
}

func toStepResponses(steps []model.TrackingStep) []StepResponse {
	out := make([]StepResponse, 0, len(steps))
	for _, s := range steps {
		out = append(out, toStepResponse(s))
	}
	return out
}

func toOrderTrackingResponse(o model.Order) OrderTrackingResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{ProductName: it.ProductName, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return OrderTrackingResponse{
		ID:                  o.ID,
		OrderNumber:         o.OrderNumber,
		Status:              o.Status,
		PaymentMethod:       o.PaymentMethod,
		PaymentStatus:       o.PaymentStatus,
		CurrentTrackingStep: o.CurrentTrackingStep,
		TotalAmount:         o.TotalAmount,
		ShippingAddress:     o.ShippingAddress,
		CreatedAt:           formatTime(o.CreatedAt),
		Items:               items,
		Steps:               toStepResponses(o.TrackingSteps),
	}
}

// GetForOrder returns the caller's own order tracking, initializing it on
// first access.
func (h *TrackingHandler) GetForOrder(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	number := c.Param("orderNumber")
	if number == "" {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid order number"))
	}
	order, err := h.svc.GetOrCreateTracking(c.Request().Context(), number, p.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderTrackingResponse(*order))
}

func (h *TrackingHandler) List(c echo.Context) error {
	f := service.TrackingFilter{
		Status:   model.OrderStatus(c.QueryParam("status")),
		StepName: model.StepName(c.QueryParam("stepName")),
	}
	if v := c.QueryParam("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid page"))
		}
		f.Page = n
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid limit"))
		}
		f.Limit = n
	}
	page, err := h.svc.ListForAdmin(c.Request().Context(), f)
	if err != nil {
		return respondError(c, err)
	}
	orders := make([]OrderTrackingResponse, 0, len(page.Orders))
	for _, o := range page.Orders {
		orders = append(orders, toOrderTrackingResponse(o))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"orders": orders,
		"pagination": map[string]interface{}{
			"page":       page.Page,
			"limit":      page.Limit,
			"total":      page.Total,
			"totalPages": page.TotalPages,
		},
	})
}

type initializeRequest struct {
	OrderID uint64 `json:"orderId" validate:"required"`
}

func (h *TrackingHandler) Initialize(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req initializeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("validation_error", "orderId is required"))
	}
	steps, err := h.svc.InitializeTracking(c.Request().Context(), req.OrderID, &p.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"steps": toStepResponses(steps)})
}

func (h *TrackingHandler) UpdateStep(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid step id"))
	}
	var req service.StepPatch
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid request body"))
	}
	step, err := h.svc.UpdateStep(c.Request().Context(), id, p.UserID, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toStepResponse(*step))
}

// UploadProof stores the multipart "image" file and appends its URL to the
// step's proof images. The image type is sniffed from the content, and the
// step is checked before anything is written to storage.
func (h *TrackingHandler) UploadProof(c echo.Context) error {
	if h.proofs == nil {
		return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("unavailable", "proof image storage is not configured"))
	}
	p, _ := middleware.PrincipalFrom(c)
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid step id"))
	}
	fh, err := c.FormFile("image")
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "image file is required"))
	}
	if fh.Size > maxProofImageBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, NewErrorResponse("payload_too_large", "image exceeds 5MB"))
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "unreadable image"))
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "unreadable image"))
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	if !storage.SupportedImage(contentType) {
		return c.JSON(http.StatusUnsupportedMediaType, NewErrorResponse("unsupported_media_type", "image must be jpeg, png or webp"))
	}

	ctx := c.Request().Context()
	if err := h.svc.CheckProofCapacity(ctx, id); err != nil {
		return respondError(c, err)
	}
	imageURL, err := h.proofs.Put(ctx, id, contentType, io.MultiReader(bytes.NewReader(head), f))
	if err != nil {
		return respondError(c, err)
	}
	step, err := h.svc.AddProofImage(ctx, id, p.UserID, imageURL)
	if err != nil {
		// Lost a race with another upload or a deletion; drop the object.
		if derr := h.proofs.Delete(ctx, imageURL); derr != nil {
			reqctx.Logger(ctx).Warn("orphaned proof image", "url", imageURL, "err", derr)
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toStepResponse(*step))
}

type StepStatusCountResponse struct {
	StepName model.StepName   `json:"stepName"`
	Status   model.StepStatus `json:"status"`
	Count    int64            `json:"count"`
}

type IssueCountResponse struct {
	IssueType *model.IssueType `json:"issueType"`
	Count     int64            `json:"count"`
}

func (h *TrackingHandler) Statistics(c echo.Context) error {
	stats, err := h.svc.Statistics(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	steps := make([]StepStatusCountResponse, 0, len(stats.ByStepAndStatus))
	for _, r := range stats.ByStepAndStatus {
		steps = append(steps, StepStatusCountResponse{StepName: r.StepName, Status: r.Status, Count: r.Count})
	}
	issues := make([]IssueCountResponse, 0, len(stats.IssuesByType))
	for _, r := range stats.IssuesByType {
		issues = append(issues, IssueCountResponse{IssueType: r.IssueType, Count: r.Count})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"stepStatistics":  steps,
		"issueStatistics": issues,
	})
}
