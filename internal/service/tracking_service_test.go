package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shinyyama/shop-tracking/internal/model"
	"github.com/shinyyama/shop-tracking/internal/patch"
	"github.com/shinyyama/shop-tracking/internal/repository"
	"github.com/shinyyama/shop-tracking/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type trackingFixture struct {
	db     *gorm.DB
	store  repository.Store
	svc    *trackingService
	admin  *model.User
	client *model.User
}

func newTrackingFixture(t *testing.T) *trackingFixture {
	t.Helper()
	gdb := testutil.NewDB(t)
	store := repository.NewStore(gdb)
	svc := NewTrackingService(store, NewNotificationService(store.Notifications())).(*trackingService)
	svc.now = func() time.Time { return fixedNow }
	return &trackingFixture{
		db:     gdb,
		store:  store,
		svc:    svc,
		admin:  testutil.CreateUser(t, gdb, model.RoleAdmin),
		client: testutil.CreateUser(t, gdb, model.RoleCustomer),
	}
}

func (f *trackingFixture) initialized(t *testing.T, method model.PaymentMethod) (*model.Order, []model.TrackingStep) {
	t.Helper()
	order := testutil.CreateOrder(t, f.db, f.client.ID, method)
	steps, err := f.svc.InitializeTracking(context.Background(), order.ID, &f.admin.ID)
	require.NoError(t, err)
	return order, steps
}

func (f *trackingFixture) reloadOrder(t *testing.T, id uint64) *model.Order {
	t.Helper()
	o, err := f.store.Orders().FindByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestInitializeTrackingCreatesFiveSteps(t *testing.T) {
	f := newTrackingFixture(t)
	order, steps := f.initialized(t, model.PaymentCOD)

	require.Len(t, steps, 5)
	for i, st := range steps {
		assert.Equal(t, i+1, st.StepNumber)
		assert.Equal(t, model.TrackingStages[i].Name, st.StepName)
		require.NotNil(t, st.AdminID)
		assert.Equal(t, f.admin.ID, *st.AdminID)
		if i == 0 {
			assert.Equal(t, model.StepStatusCompleted, st.Status)
			require.NotNil(t, st.CompletedAt)
			assert.WithinDuration(t, fixedNow, *st.CompletedAt, time.Second)
			require.NotNil(t, st.Detail)
			require.NotNil(t, st.Detail.Location)
			assert.Equal(t, defaultStepLocation, *st.Detail.Location)
			assert.Empty(t, st.Detail.ProofImages)
			continue
		}
		assert.Equal(t, model.StepStatusPending, st.Status)
		assert.Nil(t, st.CompletedAt)
		assert.Nil(t, st.Detail)
	}
	assert.Equal(t, 1, f.reloadOrder(t, order.ID).CurrentTrackingStep)
}

func TestInitializeTrackingTwiceConflicts(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	order, _ := f.initialized(t, model.PaymentCOD)

	_, err := f.svc.InitializeTracking(ctx, order.ID, &f.admin.ID)
	require.ErrorIs(t, err, ErrConflict)

	steps, err := f.store.Tracking().CountSteps(ctx)
	require.NoError(t, err)
	details, err := f.store.Tracking().CountDetails(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, steps)
	assert.EqualValues(t, 1, details)
}

func TestInitializeTrackingUnknownOrder(t *testing.T) {
	f := newTrackingFixture(t)
	_, err := f.svc.InitializeTracking(context.Background(), 9999, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreateTrackingIsIdempotent(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	order := testutil.CreateOrder(t, f.db, f.client.ID, model.PaymentVNPay)

	first, err := f.svc.GetOrCreateTracking(ctx, order.OrderNumber, f.client.ID)
	require.NoError(t, err)
	second, err := f.svc.GetOrCreateTracking(ctx, order.OrderNumber, f.client.ID)
	require.NoError(t, err)

	require.Len(t, first.TrackingSteps, 5)
	require.Len(t, second.TrackingSteps, 5)
	for i := range first.TrackingSteps {
		assert.Equal(t, first.TrackingSteps[i].ID, second.TrackingSteps[i].ID)
		assert.Equal(t, i+1, second.TrackingSteps[i].StepNumber)
	}
	assert.Len(t, second.Items, 2)
	assert.Nil(t, second.TrackingSteps[0].AdminID)
}

func TestGetOrCreateTrackingHidesOtherUsersOrders(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	order := testutil.CreateOrder(t, f.db, f.client.ID, model.PaymentCOD)
	stranger := testutil.CreateUser(t, f.db, model.RoleCustomer)

	_, err := f.svc.GetOrCreateTracking(ctx, order.OrderNumber, stranger.ID)
	require.ErrorIs(t, err, ErrNotFound)

	n, err := f.store.Tracking().CountByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetOrCreateTrackingProjectsAdmin(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	order, steps := f.initialized(t, model.PaymentCOD)
	_, err := f.svc.UpdateStep(ctx, steps[1].ID, f.admin.ID, StepPatch{Status: patch.Of(model.StepStatusCompleted)})
	require.NoError(t, err)

	got, err := f.svc.GetOrCreateTracking(ctx, order.OrderNumber, f.client.ID)
	require.NoError(t, err)
	admin := got.TrackingSteps[1].Admin
	require.NotNil(t, admin)
	assert.Equal(t, f.admin.ID, admin.ID)
	assert.Equal(t, f.admin.Name, admin.Name)
	assert.Empty(t, admin.Email)
}

func TestUpdateStepDeliveredSettlesCashOnDelivery(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	order, steps := f.initialized(t, model.PaymentCOD)

	step, err := f.svc.UpdateStep(ctx, steps[4].ID, f.admin.ID, StepPatch{Status: patch.Of(model.StepStatusCompleted)})
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusCompleted, step.Status)
	require.NotNil(t, step.CompletedAt)

	got := f.reloadOrder(t, order.ID)
	assert.Equal(t, model.OrderStatusDelivered, got.Status)
	assert.Equal(t, model.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, 5, got.CurrentTrackingStep)

	list, unread, err := NewNotificationService(f.store.Notifications()).List(ctx, f.client.ID, false, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 1, unread)
	assert.Equal(t, model.NotificationTrackingUpdate, list[0].Type)
	require.NotNil(t, list[0].OrderID)
	assert.Equal(t, order.ID, *list[0].OrderID)
}

func TestUpdateStepDeliveredLeavesPrepaidPaymentAlone(t *testing.T) {
	f := newTrackingFixture(t)
	order, steps := f.initialized(t, model.PaymentBankTransfer)

	_, err := f.svc.UpdateStep(context.Background(), steps[4].ID, f.admin.ID, StepPatch{Status: patch.Of(model.StepStatusCompleted)})
	require.NoError(t, err)

	got := f.reloadOrder(t, order.ID)
	assert.Equal(t, model.OrderStatusDelivered, got.Status)
	assert.Equal(t, model.PaymentStatusPending, got.PaymentStatus)
}

func TestUpdateStepNonCompletedClearsCompletedAt(t *testing.T) {
	f := newTrackingFixture(t)
	order, steps := f.initialized(t, model.PaymentCOD)

	for _, status := range []model.StepStatus{model.StepStatusDelayed, model.StepStatusFailed, model.StepStatusOnHold, model.StepStatusPending} {
		step, err := f.svc.UpdateStep(context.Background(), steps[0].ID, f.admin.ID, StepPatch{
			Status:      patch.Of(status),
			CompletedAt: patch.Of(fixedNow.Add(-time.Hour)),
		})
		require.NoError(t, err, status)
		assert.Equal(t, status, step.Status)
		assert.Nil(t, step.CompletedAt, status)
	}
	assert.Equal(t, 1, f.reloadOrder(t, order.ID).CurrentTrackingStep)
}

func TestUpdateStepCompletedAt(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	_, steps := f.initialized(t, model.PaymentCOD)

	step, err := f.svc.UpdateStep(ctx, steps[1].ID, f.admin.ID, StepPatch{Status: patch.Of(model.StepStatusCompleted)})
	require.NoError(t, err)
	require.NotNil(t, step.CompletedAt)
	assert.WithinDuration(t, fixedNow, *step.CompletedAt, time.Second)

	supplied := fixedNow.Add(-3 * time.Hour)
	step, err = f.svc.UpdateStep(ctx, steps[2].ID, f.admin.ID, StepPatch{
		Status:      patch.Of(model.StepStatusCompleted),
		CompletedAt: patch.Of(supplied),
	})
	require.NoError(t, err)
	require.NotNil(t, step.CompletedAt)
	assert.WithinDuration(t, supplied, *step.CompletedAt, time.Second)

	f.svc.now = func() time.Time { return fixedNow.Add(24 * time.Hour) }
	step, err = f.svc.UpdateStep(ctx, steps[2].ID, f.admin.ID, StepPatch{AdminNotes: patch.Of("checked")})
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusCompleted, step.Status)
	require.NotNil(t, step.CompletedAt)
	assert.WithinDuration(t, supplied, *step.CompletedAt, time.Second)
}

func TestUpdateStepUpsertsDetail(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	_, steps := f.initialized(t, model.PaymentCOD)
	target := steps[2].ID

	step, err := f.svc.UpdateStep(ctx, target, f.admin.ID, StepPatch{
		Status:        patch.Of(model.StepStatusDelayed),
		EstimatedTime: patch.Of("2-3 days"),
		Location:      patch.Of("Da Nang hub"),
		ShipperName:   patch.Of("Tran Van B"),
		ProofImages:   patch.Of([]string{"https://img.example.com/a.jpg"}),
		HasIssue:      patch.Of(true),
		IssueType:     patch.Of(model.IssueWeather),
		IssueReason:   patch.Of("Storm on the pass"),
	})
	require.NoError(t, err)
	require.NotNil(t, step.Detail)
	firstDetailID := step.Detail.ID
	assert.Equal(t, "Da Nang hub", *step.Detail.Location)
	assert.Equal(t, []string{"https://img.example.com/a.jpg"}, []string(step.Detail.ProofImages))
	assert.True(t, step.Detail.HasIssue)
	require.NotNil(t, step.Detail.UpdatedBy)
	assert.Equal(t, f.admin.ID, *step.Detail.UpdatedBy)
	require.NotNil(t, step.EstimatedTime)
	assert.Equal(t, "2-3 days", *step.EstimatedTime)

	step, err = f.svc.UpdateStep(ctx, target, f.admin.ID, StepPatch{
		Status:      patch.Of(model.StepStatusCompleted),
		Location:    patch.Null[string](),
		HasIssue:    patch.Of(false),
		IssueType:   patch.Null[model.IssueType](),
		IssueReason: patch.Null[string](),
	})
	require.NoError(t, err)
	assert.Equal(t, firstDetailID, step.Detail.ID)
	assert.Nil(t, step.Detail.Location)
	assert.Nil(t, step.Detail.IssueType)
	assert.False(t, step.Detail.HasIssue)
	require.NotNil(t, step.Detail.ShipperName)
	assert.Equal(t, "Tran Van B", *step.Detail.ShipperName)
	require.NotNil(t, step.EstimatedTime)

	details, err := f.store.Tracking().CountDetails(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, details)
}

func TestUpdateStepOutOfOrderCompletion(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	order, steps := f.initialized(t, model.PaymentCOD)

	_, err := f.svc.UpdateStep(ctx, steps[2].ID, f.admin.ID, StepPatch{Status: patch.Of(model.StepStatusCompleted)})
	require.NoError(t, err)
	assert.Equal(t, 3, f.reloadOrder(t, order.ID).CurrentTrackingStep)

	_, err = f.svc.UpdateStep(ctx, steps[1].ID, f.admin.ID, StepPatch{Status: patch.Of(model.StepStatusCompleted)})
	require.NoError(t, err)
	assert.Equal(t, 3, f.reloadOrder(t, order.ID).CurrentTrackingStep)

	_, err = f.svc.UpdateStep(ctx, steps[2].ID, f.admin.ID, StepPatch{Status: patch.Of(model.StepStatusOnHold)})
	require.NoError(t, err)
	assert.Equal(t, 2, f.reloadOrder(t, order.ID).CurrentTrackingStep)
}

func TestUpdateStepRejectsInvalidInput(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	_, steps := f.initialized(t, model.PaymentCOD)

	cases := map[string]StepPatch{
		"unknown status": {Status: patch.Of(model.StepStatus("lost_forever"))},
		"null status":    {Status: patch.Null[model.StepStatus]()},
		"unknown issue":  {IssueType: patch.Of(model.IssueType("aliens"))},
		"blank image":    {ProofImages: patch.Of([]string{" "})},
	}
	for name, p := range cases {
		_, err := f.svc.UpdateStep(ctx, steps[1].ID, f.admin.ID, p)
		assert.ErrorIs(t, err, ErrValidation, name)
	}

	_, err := f.svc.UpdateStep(ctx, 424242, f.admin.ID, StepPatch{Status: patch.Of(model.StepStatusCompleted)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStepPatchDecodesAbsentNullAndValue(t *testing.T) {
	var p StepPatch
	require.NoError(t, json.Unmarshal([]byte(`{"status":"delayed","location":null,"proofImages":["u"]}`), &p))
	assert.True(t, p.Status.Present())
	assert.Equal(t, model.StepStatusDelayed, p.Status.Value)
	assert.True(t, p.Location.Set)
	assert.True(t, p.Location.Null)
	assert.False(t, p.Description.Set)
	assert.Equal(t, []string{"u"}, p.ProofImages.Value)
}

func TestListForAdmin(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	delivered, steps := f.initialized(t, model.PaymentCOD)
	f.initialized(t, model.PaymentMoMo)
	testutil.CreateOrder(t, f.db, f.client.ID, model.PaymentCOD)

	_, err := f.svc.UpdateStep(ctx, steps[4].ID, f.admin.ID, StepPatch{Status: patch.Of(model.StepStatusCompleted)})
	require.NoError(t, err)

	all, err := f.svc.ListForAdmin(ctx, TrackingFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)
	assert.Equal(t, 1, all.Page)
	assert.Equal(t, defaultLimit, all.Limit)

	byStatus, err := f.svc.ListForAdmin(ctx, TrackingFilter{Status: model.OrderStatusDelivered})
	require.NoError(t, err)
	require.Len(t, byStatus.Orders, 1)
	assert.Equal(t, delivered.ID, byStatus.Orders[0].ID)
	assert.Len(t, byStatus.Orders[0].TrackingSteps, 5)

	byStep, err := f.svc.ListForAdmin(ctx, TrackingFilter{StepName: model.StepInTransit, Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, byStep.Total)
	assert.Equal(t, 2, byStep.TotalPages)
	require.Len(t, byStep.Orders, 1)
	require.Len(t, byStep.Orders[0].TrackingSteps, 1)
	assert.Equal(t, model.StepInTransit, byStep.Orders[0].TrackingSteps[0].StepName)

	clamped, err := f.svc.ListForAdmin(ctx, TrackingFilter{Page: -2, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, clamped.Page)
	assert.Equal(t, maxLimit, clamped.Limit)

	_, err = f.svc.ListForAdmin(ctx, TrackingFilter{StepName: "teleported"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.ListForAdmin(ctx, TrackingFilter{Status: "lost"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStatistics(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	_, steps := f.initialized(t, model.PaymentCOD)
	f.initialized(t, model.PaymentCOD)

	_, err := f.svc.UpdateStep(ctx, steps[1].ID, f.admin.ID, StepPatch{
		Status:    patch.Of(model.StepStatusDelayed),
		HasIssue:  patch.Of(true),
		IssueType: patch.Of(model.IssueDelay),
	})
	require.NoError(t, err)

	stats, err := f.svc.Statistics(ctx)
	require.NoError(t, err)

	counts := map[string]int64{}
	for _, row := range stats.ByStepAndStatus {
		counts[string(row.StepName)+"/"+string(row.Status)] = row.Count
	}
	assert.EqualValues(t, 2, counts["preparing/completed"])
	assert.EqualValues(t, 1, counts["picked_up/pending"])
	assert.EqualValues(t, 1, counts["picked_up/delayed"])
	assert.EqualValues(t, 2, counts["delivered/pending"])

	require.Len(t, stats.IssuesByType, 1)
	require.NotNil(t, stats.IssuesByType[0].IssueType)
	assert.Equal(t, model.IssueDelay, *stats.IssuesByType[0].IssueType)
	assert.EqualValues(t, 1, stats.IssuesByType[0].Count)
}

func TestAddProofImage(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	_, steps := f.initialized(t, model.PaymentCOD)

	step, err := f.svc.AddProofImage(ctx, steps[3].ID, f.admin.ID, "https://img.example.com/1.jpg")
	require.NoError(t, err)
	step, err = f.svc.AddProofImage(ctx, steps[3].ID, f.admin.ID, "https://img.example.com/2.jpg")
	require.NoError(t, err)
	require.NotNil(t, step.Detail)
	assert.Equal(t, []string{"https://img.example.com/1.jpg", "https://img.example.com/2.jpg"}, []string(step.Detail.ProofImages))

	for i := 2; i < maxProofImages; i++ {
		_, err = f.svc.AddProofImage(ctx, steps[3].ID, f.admin.ID, "https://img.example.com/n.jpg")
		require.NoError(t, err)
	}
	assert.ErrorIs(t, f.svc.CheckProofCapacity(ctx, steps[3].ID), ErrValidation)
	_, err = f.svc.AddProofImage(ctx, steps[3].ID, f.admin.ID, "https://img.example.com/overflow.jpg")
	assert.ErrorIs(t, err, ErrValidation)
	assert.NoError(t, f.svc.CheckProofCapacity(ctx, steps[2].ID))
	assert.ErrorIs(t, f.svc.CheckProofCapacity(ctx, 999999), ErrNotFound)

	_, err = f.svc.AddProofImage(ctx, 999999, f.admin.ID, "https://img.example.com/x.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

var errDetailWrite = errors.New("detail write failed")

// brokenDetailStore fails every detail write, inside or outside a transaction.
type brokenDetailStore struct {
	repository.Store
}

func (s brokenDetailStore) Tracking() repository.TrackingRepository {
	return brokenDetailTracking{s.Store.Tracking()}
}

func (s brokenDetailStore) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.Transaction(ctx, func(tx repository.Store) error {
		return fn(brokenDetailStore{tx})
	})
}

type brokenDetailTracking struct {
	repository.TrackingRepository
}

func (brokenDetailTracking) SaveDetail(context.Context, *model.TrackingDetail) error {
	return errDetailWrite
}

func TestUpdateStepRollsBackOnDetailFailure(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	order, steps := f.initialized(t, model.PaymentCOD)
	broken := NewTrackingService(brokenDetailStore{f.store}, NewNotificationService(f.store.Notifications()))

	_, err := broken.UpdateStep(ctx, steps[4].ID, f.admin.ID, StepPatch{
		Status:   patch.Of(model.StepStatusCompleted),
		Location: patch.Of("Customer doorstep"),
	})
	require.ErrorIs(t, err, errDetailWrite)

	step, err := f.store.Tracking().FindStep(ctx, steps[4].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusPending, step.Status)
	assert.Nil(t, step.CompletedAt)
	assert.Nil(t, step.Detail)

	got := f.reloadOrder(t, order.ID)
	assert.Equal(t, model.OrderStatusConfirmed, got.Status)
	assert.Equal(t, model.PaymentStatusPending, got.PaymentStatus)
	assert.Equal(t, 1, got.CurrentTrackingStep)

	unread, err := f.store.Notifications().CountUnread(ctx, f.client.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestInitializeTrackingRollsBackOnDetailFailure(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	order := testutil.CreateOrder(t, f.db, f.client.ID, model.PaymentCOD)
	broken := NewTrackingService(brokenDetailStore{f.store}, nil)

	_, err := broken.InitializeTracking(ctx, order.ID, &f.admin.ID)
	require.ErrorIs(t, err, errDetailWrite)

	n, err := f.store.Tracking().CountByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// A later initialization starts from a clean slate.
	steps, err := f.svc.InitializeTracking(ctx, order.ID, &f.admin.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 5)
}
