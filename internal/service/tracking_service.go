package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shinyyama/shop-tracking/internal/model"
	"github.com/shinyyama/shop-tracking/internal/patch"
	"github.com/shinyyama/shop-tracking/internal/reqctx"
	"github.com/shinyyama/shop-tracking/internal/repository"
)

const (
	defaultStepLocation    = "Warehouse"
	defaultStepDescription = "Order received and being prepared for shipment"

	maxProofImages = 10
	defaultPage    = 1
	defaultLimit   = 10
	maxLimit       = 100
)

type TrackingService interface {
	InitializeTracking(ctx context.Context, orderID uint64, adminID *uint64) ([]model.TrackingStep, error)
	GetOrCreateTracking(ctx context.Context, orderNumber string, userID uint64) (*model.Order, error)
	UpdateStep(ctx context.Context, stepID, adminID uint64, p StepPatch) (*model.TrackingStep, error)
	// CheckProofCapacity reports whether the step exists and can take one more
	// proof image, so callers can refuse before uploading anything.
	CheckProofCapacity(ctx context.Context, stepID uint64) error
	AddProofImage(ctx context.Context, stepID, adminID uint64, imageURL string) (*model.TrackingStep, error)
	ListForAdmin(ctx context.Context, f TrackingFilter) (*TrackingPage, error)
	Statistics(ctx context.Context) (*TrackingStatistics, error)
}

// StepPatch is a partial update of a step and its detail. Absent fields keep
// their stored value; null clears a nullable column.
type StepPatch struct {
	Status              patch.Field[model.StepStatus] `json:"status"`
	CompletedAt         patch.Field[time.Time]        `json:"completedAt"`
	EstimatedTime       patch.Field[string]           `json:"estimatedTime"`
	Location            patch.Field[string]           `json:"location"`
	Description         patch.Field[string]           `json:"description"`
	ShipperName         patch.Field[string]           `json:"shipperName"`
	ShipperPhone        patch.Field[string]           `json:"shipperPhone"`
	ProofImages         patch.Field[[]string]         `json:"proofImages"`
	HasIssue            patch.Field[bool]             `json:"hasIssue"`
	IssueReason         patch.Field[string]           `json:"issueReason"`
	IssueType           patch.Field[model.IssueType]  `json:"issueType"`
	EstimatedResolution patch.Field[time.Time]        `json:"estimatedResolution"`
	AdminNotes          patch.Field[string]           `json:"adminNotes"`
}

func (p StepPatch) validate() error {
	if p.Status.Set && (p.Status.Null || !p.Status.Value.Valid()) {
		return fmt.Errorf("%w: invalid step status", ErrValidation)
	}
	if p.IssueType.Present() && !p.IssueType.Value.Valid() {
		return fmt.Errorf("%w: invalid issue type", ErrValidation)
	}
	if p.ProofImages.Present() {
		if len(p.ProofImages.Value) > maxProofImages {
			return fmt.Errorf("%w: at most %d proof images", ErrValidation, maxProofImages)
		}
		for _, u := range p.ProofImages.Value {
			if strings.TrimSpace(u) == "" {
				return fmt.Errorf("%w: empty proof image url", ErrValidation)
			}
		}
	}
	return nil
}

func (p StepPatch) applyDetail(d *model.TrackingDetail) {
	p.Location.ApplyPtr(&d.Location)
	p.Description.ApplyPtr(&d.Description)
	p.ShipperName.ApplyPtr(&d.ShipperName)
	p.ShipperPhone.ApplyPtr(&d.ShipperPhone)
	if p.ProofImages.Set {
		d.ProofImages = append([]string{}, p.ProofImages.Value...)
	}
	p.HasIssue.Apply(&d.HasIssue)
	p.IssueReason.ApplyPtr(&d.IssueReason)
	p.IssueType.ApplyPtr(&d.IssueType)
	p.EstimatedResolution.ApplyPtr(&d.EstimatedResolution)
	p.AdminNotes.ApplyPtr(&d.AdminNotes)
}

type TrackingFilter struct {
	Status   model.OrderStatus
	StepName model.StepName
	Page     int
	Limit    int
}

type TrackingPage struct {
	Orders     []model.Order
	Total      int64
	Page       int
	Limit      int
	TotalPages int
}

type TrackingStatistics struct {
	ByStepAndStatus []repository.StepStatusCount
	IssuesByType    []repository.IssueTypeCount
}

type trackingService struct {
	store  repository.Store
	notify NotificationService
	now    func() time.Time
}

func NewTrackingService(store repository.Store, notify NotificationService) TrackingService {
	return &trackingService{store: store, notify: notify, now: time.Now}
}

func (s *trackingService) InitializeTracking(ctx context.Context, orderID uint64, adminID *uint64) ([]model.TrackingStep, error) {
	var steps []model.TrackingStep
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		if _, err := tx.Orders().LockByID(ctx, orderID); err != nil {
			return err
		}
		n, err := tx.Tracking().CountByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrConflict
		}

		now := s.now()
		rows := make([]model.TrackingStep, 0, len(model.TrackingStages))
		for _, st := range model.TrackingStages {
			step := model.TrackingStep{
				OrderID:    orderID,
				StepNumber: st.Number,
				StepName:   st.Name,
				Status:     model.StepStatusPending,
				AdminID:    adminID,
			}
			if st.Number == 1 {
				step.Status = model.StepStatusCompleted
				step.CompletedAt = &now
			}
			rows = append(rows, step)
		}
		if err := tx.Tracking().CreateSteps(ctx, rows); err != nil {
			return err
		}

		first, err := tx.Tracking().ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(first) != len(model.TrackingStages) {
			return fmt.Errorf("initialize tracking: expected %d steps, found %d", len(model.TrackingStages), len(first))
		}
		loc, desc := defaultStepLocation, defaultStepDescription
		if err := tx.Tracking().SaveDetail(ctx, &model.TrackingDetail{
			StepID:      first[0].ID,
			Location:    &loc,
			Description: &desc,
			UpdatedBy:   adminID,
		}); err != nil {
			return err
		}
		if err := tx.Orders().UpdateFields(ctx, orderID, map[string]interface{}{"current_tracking_step": 1}); err != nil {
			return err
		}

		steps, err = tx.Tracking().ListByOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return steps, nil
}

func (s *trackingService) GetOrCreateTracking(ctx context.Context, orderNumber string, userID uint64) (*model.Order, error) {
	order, err := s.store.Orders().FindByNumberForUser(ctx, orderNumber, userID)
	if err != nil {
		return nil, translate(err)
	}
	n, err := s.store.Tracking().CountByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// A concurrent reader may have initialized it first.
		if _, err := s.InitializeTracking(ctx, order.ID, nil); err != nil && !errors.Is(err, ErrConflict) {
			return nil, err
		}
	}
	full, err := s.store.Orders().FindWithTracking(ctx, order.ID)
	if err != nil {
		return nil, translate(err)
	}
	return full, nil
}

// UpdateStep applies p to the step, upserts its detail and cascades the result
// onto the order in one transaction.
func (s *trackingService) UpdateStep(ctx context.Context, stepID, adminID uint64, p StepPatch) (*model.TrackingStep, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	var (
		updated   *model.TrackingStep
		order     *model.Order
		completed bool
	)
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		step, err := tx.Tracking().LockStep(ctx, stepID)
		if err != nil {
			return err
		}
		order, err = tx.Orders().LockByID(ctx, step.OrderID)
		if err != nil {
			return err
		}

		status := step.Status
		p.Status.Apply(&status)
		var completedAt *time.Time
		if status == model.StepStatusCompleted {
			at := s.now()
			switch {
			case p.CompletedAt.Present():
				at = p.CompletedAt.Value
			case !p.Status.Set && step.CompletedAt != nil:
				// Detail-only edits keep the original completion time.
				at = *step.CompletedAt
			}
			completedAt = &at
		}
		estimated := step.EstimatedTime
		p.EstimatedTime.ApplyPtr(&estimated)

		if err := tx.Tracking().UpdateStep(ctx, step.ID, map[string]interface{}{
			"status":         status,
			"completed_at":   completedAt,
			"estimated_time": estimated,
			"admin_id":       adminID,
		}); err != nil {
			return err
		}

		detail := step.Detail
		if detail == nil {
			detail = &model.TrackingDetail{StepID: step.ID}
		}
		p.applyDetail(detail)
		detail.UpdatedBy = &adminID
		if err := tx.Tracking().SaveDetail(ctx, detail); err != nil {
			return err
		}

		highest, err := tx.Tracking().MaxCompletedStep(ctx, order.ID)
		if err != nil {
			return err
		}
		if highest < 1 {
			highest = 1
		}
		fields := map[string]interface{}{}
		if highest != order.CurrentTrackingStep {
			fields["current_tracking_step"] = highest
		}
		if status == model.StepStatusCompleted && step.StepName == model.StepDelivered {
			fields["status"] = model.OrderStatusDelivered
			if order.PaymentMethod == model.PaymentCOD && order.PaymentStatus == model.PaymentStatusPending {
				fields["payment_status"] = model.PaymentStatusPaid
			}
		}
		if len(fields) > 0 {
			if err := tx.Orders().UpdateFields(ctx, order.ID, fields); err != nil {
				return err
			}
		}

		completed = status == model.StepStatusCompleted && step.Status != model.StepStatusCompleted
		updated, err = tx.Tracking().FindStep(ctx, step.ID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	if completed {
		s.notifyCompletion(ctx, order, updated)
	}
	return updated, nil
}

func (s *trackingService) CheckProofCapacity(ctx context.Context, stepID uint64) error {
	step, err := s.store.Tracking().FindStep(ctx, stepID)
	if err != nil {
		return translate(err)
	}
	return proofCapacity(step.Detail)
}

func proofCapacity(d *model.TrackingDetail) error {
	if d != nil && len(d.ProofImages) >= maxProofImages {
		return fmt.Errorf("%w: at most %d proof images", ErrValidation, maxProofImages)
	}
	return nil
}

// AddProofImage appends one uploaded image to the step's detail, creating the
// detail when the step has none.
func (s *trackingService) AddProofImage(ctx context.Context, stepID, adminID uint64, imageURL string) (*model.TrackingStep, error) {
	if strings.TrimSpace(imageURL) == "" {
		return nil, fmt.Errorf("%w: empty proof image url", ErrValidation)
	}
	var updated *model.TrackingStep
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		step, err := tx.Tracking().LockStep(ctx, stepID)
		if err != nil {
			return err
		}
		detail := step.Detail
		if detail == nil {
			detail = &model.TrackingDetail{StepID: step.ID}
		}
		if err := proofCapacity(detail); err != nil {
			return err
		}
		detail.ProofImages = append(detail.ProofImages, imageURL)
		detail.UpdatedBy = &adminID
		if err := tx.Tracking().SaveDetail(ctx, detail); err != nil {
			return err
		}
		updated, err = tx.Tracking().FindStep(ctx, step.ID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return updated, nil
}

func (s *trackingService) notifyCompletion(ctx context.Context, order *model.Order, step *model.TrackingStep) {
	if s.notify == nil {
		return
	}
	title := fmt.Sprintf("Order %s: %s", order.OrderNumber, stepTitle(step.StepName))
	body := fmt.Sprintf("Step %d of %d is complete.", step.StepNumber, len(model.TrackingStages))
	if step.Detail != nil && step.Detail.Location != nil {
		body += " Location: " + *step.Detail.Location + "."
	}
	if err := s.notify.Notify(ctx, order.UserID, model.NotificationTrackingUpdate, title, body, &order.ID); err != nil {
		reqctx.Logger(ctx).Warn("tracking notification failed", "order_id", order.ID, "step_id", step.ID, "err", err)
	}
}

func stepTitle(n model.StepName) string {
	switch n {
	case model.StepPreparing:
		return "being prepared"
	case model.StepPickedUp:
		return "picked up by the carrier"
	case model.StepInTransit:
		return "in transit"
	case model.StepOutForDelivery:
		return "out for delivery"
	case model.StepDelivered:
		return "delivered"
	}
	return string(n)
}

func (s *trackingService) ListForAdmin(ctx context.Context, f TrackingFilter) (*TrackingPage, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid order status", ErrValidation)
	}
	if f.StepName != "" && !f.StepName.Valid() {
		return nil, fmt.Errorf("%w: invalid step name", ErrValidation)
	}
	page, limit := f.Page, f.Limit
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	orders, total, err := s.store.Orders().ListWithTracking(ctx, repository.OrderTrackingFilter{
		Status:   f.Status,
		StepName: f.StepName,
		Limit:    limit,
		Offset:   (page - 1) * limit,
	})
	if err != nil {
		return nil, err
	}
	return &TrackingPage{
		Orders:     orders,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: int((total + int64(limit) - 1) / int64(limit)),
	}, nil
}

func (s *trackingService) Statistics(ctx context.Context) (*TrackingStatistics, error) {
	byStep, err := s.store.Tracking().CountByStepAndStatus(ctx)
	if err != nil {
		return nil, err
	}
	issues, err := s.store.Tracking().CountIssuesByType(ctx)
	if err != nil {
		return nil, err
	}
	return &TrackingStatistics{ByStepAndStatus: byStep, IssuesByType: issues}, nil
}
