package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/shinyyama/shop-tracking/internal/authz"
	"github.com/shinyyama/shop-tracking/internal/config"
	appmw "github.com/shinyyama/shop-tracking/internal/middleware"
	"github.com/shinyyama/shop-tracking/internal/model"
	"github.com/shinyyama/shop-tracking/internal/repository"
	"github.com/shinyyama/shop-tracking/internal/storage"
	"github.com/shinyyama/shop-tracking/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const secret = "server-test-secret"

var (
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR fake image body")
	pdfBytes = []byte("%PDF-1.4 not an image")
)

type fakeProofs struct {
	puts        int
	contentType string
	body        []byte
	deleted     []string
	// afterPut runs once the object is stored, before the step is updated.
	afterPut func(stepID uint64)
}

func (f *fakeProofs) Put(_ context.Context, stepID uint64, contentType string, r io.Reader) (string, error) {
	if _, err := storage.ObjectPath(stepID, contentType, "x"); err != nil {
		return "", err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.puts++
	f.contentType = contentType
	f.body = body
	if f.afterPut != nil {
		f.afterPut(stepID)
	}
	return fmt.Sprintf("https://cdn.example.com/steps/%d/%d.png", stepID, f.puts), nil
}

func (f *fakeProofs) Delete(_ context.Context, imageURL string) error {
	f.deleted = append(f.deleted, imageURL)
	return nil
}

type env struct {
	t        *testing.T
	db       *gorm.DB
	handler  http.Handler
	admin    *model.User
	customer *model.User
}

func newEnv(t *testing.T, cfg config.Config, proofs storage.ProofStore) *env {
	t.Helper()
	gdb := testutil.NewDB(t)
	policy, err := authz.DefaultPolicy()
	require.NoError(t, err)
	srv := New(Deps{
		Config:   &cfg,
		Store:    repository.NewStore(gdb),
		Gate:     authz.NewGate(policy),
		Verifier: appmw.NewJWTVerifier(secret),
		Proofs:   proofs,
		SHA:      "abc123",
	})
	return &env{
		t:        t,
		db:       gdb,
		handler:  srv.Handler(),
		admin:    testutil.CreateUser(t, gdb, model.RoleAdmin),
		customer: testutil.CreateUser(t, gdb, model.RoleCustomer),
	}
}

func (e *env) token(u *model.User) string {
	e.t.Helper()
	tok, err := appmw.NewJWTVerifier(secret).Issue(authz.Principal{UserID: u.ID, Role: u.Role}, time.Minute)
	require.NoError(e.t, err)
	return tok
}

func (e *env) do(method, path string, as *model.User, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(as))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	e, ok := body["error"].(map[string]interface{})
	require.True(t, ok, rec.Body.String())
	return e["code"].(string)
}

func TestHealthzAndAuth(t *testing.T) {
	e := newEnv(t, config.Config{}, nil)

	rec := e.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", decode(t, rec)["git_sha"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = e.do(http.MethodGet, "/api/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorCode(t, rec))

	rec = e.do(http.MethodGet, "/api/admin/order-tracking", e.customer, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorCode(t, rec))
}

func TestCustomerTrackingFlow(t *testing.T) {
	e := newEnv(t, config.Config{}, nil)
	order := testutil.CreateOrder(t, e.db, e.customer.ID, model.PaymentCOD)

	rec := e.do(http.MethodGet, "/api/orders/"+order.OrderNumber+"/tracking", e.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	steps := body["steps"].([]interface{})
	require.Len(t, steps, 5)
	first := steps[0].(map[string]interface{})
	assert.Equal(t, "preparing", first["stepName"])
	assert.Equal(t, "completed", first["status"])
	assert.NotNil(t, first["detail"])

	stranger := testutil.CreateUser(t, e.db, model.RoleCustomer)
	rec = e.do(http.MethodGet, "/api/orders/"+order.OrderNumber+"/tracking", stranger, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
}

func TestAdminTrackingFlow(t *testing.T) {
	e := newEnv(t, config.Config{}, nil)
	order := testutil.CreateOrder(t, e.db, e.customer.ID, model.PaymentCOD)

	rec := e.do(http.MethodPost, "/api/admin/order-tracking/initialize", e.admin, map[string]interface{}{"orderId": order.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	steps := decode(t, rec)["steps"].([]interface{})
	require.Len(t, steps, 5)
	delivered := steps[4].(map[string]interface{})

	rec = e.do(http.MethodPost, "/api/admin/order-tracking/initialize", e.admin, map[string]interface{}{"orderId": order.ID})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorCode(t, rec))

	rec = e.do(http.MethodPost, "/api/admin/order-tracking/initialize", e.admin, map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	stepPath := fmt.Sprintf("/api/admin/order-tracking/steps/%.0f", delivered["id"].(float64))
	rec = e.do(http.MethodPut, stepPath, e.admin, map[string]interface{}{"status": "teleported"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorCode(t, rec))

	rec = e.do(http.MethodPut, stepPath, e.admin, map[string]interface{}{
		"status":      "completed",
		"location":    "Customer doorstep",
		"shipperName": "Le Van C",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	step := decode(t, rec)
	assert.Equal(t, "completed", step["status"])
	assert.NotNil(t, step["completedAt"])
	assert.Equal(t, e.admin.Name, step["admin"].(map[string]interface{})["name"])
	assert.Equal(t, "Customer doorstep", step["detail"].(map[string]interface{})["location"])

	rec = e.do(http.MethodGet, "/api/orders/"+order.OrderNumber+"/tracking", e.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "delivered", body["status"])
	assert.Equal(t, "paid", body["paymentStatus"])
	assert.EqualValues(t, 5, body["currentTrackingStep"])

	rec = e.do(http.MethodGet, "/api/admin/order-tracking?status=delivered&page=1&limit=5", e.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.Len(t, list["orders"].([]interface{}), 1)
	assert.EqualValues(t, 1, list["pagination"].(map[string]interface{})["total"])

	rec = e.do(http.MethodGet, "/api/admin/order-tracking?limit=abc", e.admin, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/api/admin/order-tracking/statistics", e.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.NotEmpty(t, stats["stepStatistics"])

	rec = e.do(http.MethodGet, "/api/me/notifications", e.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["unreadCount"])
	rec = e.do(http.MethodPost, "/api/me/notifications/read", e.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func multipartImage(t *testing.T, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="proof"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (e *env) upload(stepID uint64, contentType string, data []byte) *httptest.ResponseRecorder {
	e.t.Helper()
	body, ct := multipartImage(e.t, contentType, data)
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/admin/order-tracking/steps/%d/proof-images", stepID), body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+e.token(e.admin))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func initializedStep(t *testing.T, e *env, index int) uint64 {
	t.Helper()
	order := testutil.CreateOrder(t, e.db, e.customer.ID, model.PaymentCOD)
	rec := e.do(http.MethodPost, "/api/admin/order-tracking/initialize", e.admin, map[string]interface{}{"orderId": order.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	steps := decode(t, rec)["steps"].([]interface{})
	return uint64(steps[index].(map[string]interface{})["id"].(float64))
}

func TestProofImageUpload(t *testing.T) {
	proofs := &fakeProofs{}
	e := newEnv(t, config.Config{}, proofs)
	stepID := initializedStep(t, e, 3)

	rec := e.upload(stepID, "image/png", pngBytes)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	detail := decode(t, rec)["detail"].(map[string]interface{})
	assert.Equal(t, []interface{}{fmt.Sprintf("https://cdn.example.com/steps/%d/1.png", stepID)}, detail["proofImages"])
	assert.Equal(t, pngBytes, proofs.body)

	rec = e.upload(stepID, "application/pdf", pdfBytes)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, 1, proofs.puts)
}

func TestProofImageTypeIsSniffed(t *testing.T) {
	proofs := &fakeProofs{}
	e := newEnv(t, config.Config{}, proofs)
	stepID := initializedStep(t, e, 3)

	rec := e.upload(stepID, "image/png", pdfBytes)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, 0, proofs.puts)

	rec = e.upload(stepID, "application/octet-stream", pngBytes)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", proofs.contentType)
}

func TestProofImageRejectedBeforeStoring(t *testing.T) {
	proofs := &fakeProofs{}
	e := newEnv(t, config.Config{}, proofs)

	rec := e.upload(999999, "image/png", pngBytes)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, proofs.puts)

	stepID := initializedStep(t, e, 3)
	for i := 0; i < 10; i++ {
		rec = e.upload(stepID, "image/png", pngBytes)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec = e.upload(stepID, "image/png", pngBytes)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorCode(t, rec))
	assert.Equal(t, 10, proofs.puts)
	assert.Empty(t, proofs.deleted)
}

func TestProofImageRemovedWhenStepVanishes(t *testing.T) {
	proofs := &fakeProofs{}
	e := newEnv(t, config.Config{}, proofs)
	stepID := initializedStep(t, e, 3)
	proofs.afterPut = func(id uint64) {
		require.NoError(t, e.db.Delete(&model.TrackingStep{}, id).Error)
	}

	rec := e.upload(stepID, "image/png", pngBytes)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, proofs.puts)
	assert.Equal(t, []string{fmt.Sprintf("https://cdn.example.com/steps/%d/1.png", stepID)}, proofs.deleted)
}

func TestProofImageUploadWithoutStorage(t *testing.T) {
	e := newEnv(t, config.Config{}, nil)
	stepID := initializedStep(t, e, 3)

	rec := e.upload(stepID, "image/png", pngBytes)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", errorCode(t, rec))
}

func TestAddressEndpoints(t *testing.T) {
	e := newEnv(t, config.Config{}, nil)
	input := map[string]interface{}{
		"receiverName":  "Pham Thi D",
		"phone":         "0901112222",
		"provinceCode":  "01",
		"wardCode":      "00004",
		"detailAddress": "5 Trang Tien",
	}

	rec := e.do(http.MethodPost, "/api/addresses", e.customer, input)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode(t, rec)
	assert.Equal(t, true, first["isDefault"])
	firstID := uint64(first["id"].(float64))

	rec = e.do(http.MethodPost, "/api/addresses", e.customer, map[string]interface{}{"receiverName": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorCode(t, rec))

	rec = e.do(http.MethodPost, "/api/addresses", e.customer, input)
	require.Equal(t, http.StatusCreated, rec.Code)
	secondID := uint64(decode(t, rec)["id"].(float64))

	rec = e.do(http.MethodPatch, fmt.Sprintf("/api/addresses/%d/default", secondID), e.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["isDefault"])

	rec = e.do(http.MethodGet, "/api/addresses", e.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["addresses"].([]interface{})
	require.Len(t, list, 2)
	assert.EqualValues(t, secondID, list[0].(map[string]interface{})["id"])

	rec = e.do(http.MethodPut, fmt.Sprintf("/api/addresses/%d", secondID), e.customer, map[string]interface{}{"isDefault": false, "districtCode": nil})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decode(t, rec)["isDefault"])

	rec = e.do(http.MethodGet, "/api/me", e.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode(t, rec)
	assert.EqualValues(t, firstID, me["defaultAddress"].(map[string]interface{})["id"])

	other := testutil.CreateUser(t, e.db, model.RoleCustomer)
	rec = e.do(http.MethodDelete, fmt.Sprintf("/api/addresses/%d", firstID), other, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodDelete, fmt.Sprintf("/api/addresses/%d", firstID), e.customer, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(http.MethodGet, fmt.Sprintf("/api/addresses/%d", secondID), e.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["isDefault"])

	rec = e.do(http.MethodGet, "/api/addresses/abc", e.customer, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, config.Config{RateLimitRPS: 1, RateLimitBurst: 1}, nil)

	rec := e.do(http.MethodGet, "/api/me", e.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(http.MethodGet, "/api/me", e.customer, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", errorCode(t, rec))

	rec = e.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAllowOrigin(t *testing.T) {
	allow := allowOrigin([]string{"https://shop.example.com"})
	for origin, want := range map[string]bool{
		"http://localhost:3000":    true,
		"https://shop.example.com": true,
		"https://evil.example.com": false,
		"ftp://shop.example.com":   false,
		"https://127.0.0.1:8443":   true,
		"https://SHOP.example.com": true,
	} {
		got, err := allow(origin)
		require.NoError(t, err)
		assert.Equal(t, want, got, origin)
	}
}
