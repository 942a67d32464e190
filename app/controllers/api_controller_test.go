package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/app/repository"
	"github.com/ManuelReschke/CreditForge/internal/pkg/billing"
	"github.com/ManuelReschke/CreditForge/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CreditForge/internal/pkg/ledger"
	"github.com/ManuelReschke/CreditForge/internal/pkg/middleware"
	"github.com/ManuelReschke/CreditForge/internal/pkg/payment/paymenttest"
	"github.com/ManuelReschke/CreditForge/internal/pkg/plans"
)

type apiFixture struct {
	app     *fiber.App
	users   *repository.MemoryUserRepository
	store   *ledger.MemoryStore
	gateway *paymenttest.Gateway
	broker  *jobqueue.MemoryBroker
	jobs    *jobqueue.MemoryJobStore
	userID  string
	apiKey  string
}

func newAPIFixture(t *testing.T, balance int64, queues QueueMonitor) *apiFixture {
	t.Helper()
	f := &apiFixture{
		users:   repository.NewMemoryUserRepository(),
		store:   ledger.NewMemoryStore(),
		gateway: paymenttest.New(),
		broker:  jobqueue.NewMemoryBroker(),
		jobs:    jobqueue.NewMemoryJobStore(),
	}

	user, key, err := models.CreateUser("owner@example.com")
	require.NoError(t, err)
	user.CreditBalance = balance
	require.NoError(t, f.users.Create(context.Background(), user))
	f.store.AddUser(user)
	f.userID, f.apiKey = user.ID, key

	catalog := plans.Default()
	svc := ledger.NewService(f.store, catalog, ledger.WithGateway(f.gateway))
	ctl := NewAPIController(Dependencies{
		Users:      f.users,
		Ledger:     svc,
		Billing:    billing.NewReconciler(billing.NewMemoryRepository(f.store), svc, catalog, f.gateway, billing.Config{WebhookSecret: "whsec_test"}),
		Dispatcher: jobqueue.NewDispatcher(f.broker, jobqueue.JSONCodec, f.jobs, svc),
		Queues:     queues,
		Plans:      catalog,
	})

	auth := middleware.APIKeyAuthMiddleware(f.users)
	app := fiber.New()
	app.Get("/plans", ctl.HandlePlans)
	app.Get("/credits/balance", auth, ctl.HandleBalance)
	app.Get("/credits/history", auth, ctl.HandleHistory)
	app.Post("/credits/purchase", auth, ctl.HandlePurchase)
	app.Post("/credits/use", auth, ctl.HandleUse)
	app.Post("/generate/:service", auth, ctl.HandleGenerate)
	app.Get("/jobs/:requestId", auth, ctl.HandleJob)
	app.Get("/account", auth, ctl.HandleGetUserAccount)
	app.Post("/webhooks/stripe", ctl.HandleStripeWebhook)
	app.Post("/admin/accounts", ctl.HandleAdminCreateAccount)
	app.Get("/admin/accounts", ctl.HandleAdminAccounts)
	app.Get("/admin/queues", ctl.HandleAdminQueues)
	f.app = app
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (f *apiFixture) authed() map[string]string {
	return map[string]string{"X-API-Key": f.apiKey}
}

func TestHandleBalance(t *testing.T) {
	f := newAPIFixture(t, 42, nil)

	status, body := f.do(t, http.MethodGet, "/credits/balance", nil, f.authed())
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(42), body["balance"])
	assert.NotEmpty(t, body["lastUpdated"])

	status, body = f.do(t, http.MethodGet, "/credits/balance", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestHandleUse(t *testing.T) {
	f := newAPIFixture(t, 5, nil)

	status, body := f.do(t, http.MethodPost, "/credits/use", fiber.Map{"service": "copy", "amount": 3, "requestId": "req-1"}, f.authed())
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, float64(2), body["balance"])

	status, body = f.do(t, http.MethodPost, "/credits/use", fiber.Map{"service": "copy", "amount": 3, "requestId": "req-1"}, f.authed())
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "duplicate_request", body["error"])

	status, body = f.do(t, http.MethodPost, "/credits/use", fiber.Map{"service": "copy", "amount": 1, "requestId": "req-1"}, f.authed())
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "request_conflict", body["error"])

	status, body = f.do(t, http.MethodPost, "/credits/use", fiber.Map{"service": "video", "amount": 10, "requestId": "req-2"}, f.authed())
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "insufficient_credits", body["error"])

	status, body = f.do(t, http.MethodPost, "/credits/use", fiber.Map{"service": "podcast", "amount": 1, "requestId": "req-3"}, f.authed())
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "bad_request", body["error"])

	status, _ = f.do(t, http.MethodPost, "/credits/use", fiber.Map{"service": "copy", "amount": 0, "requestId": "req-4"}, f.authed())
	assert.Equal(t, fiber.StatusBadRequest, status)

	balance, err := ledger.NewService(f.store, nil).GetBalance(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)
}

func TestHandleUseCannotClaimAJobsLedgerEntry(t *testing.T) {
	f := newAPIFixture(t, 5, nil)

	status, body := f.do(t, http.MethodPost, "/generate/copy", fiber.Map{"text": "launch post"}, f.authed())
	require.Equal(t, fiber.StatusAccepted, status, body)
	jobID, _ := body["requestId"].(string)
	require.NotEmpty(t, jobID)

	// the client reuses the job's ID for a cheap manual debit
	status, body = f.do(t, http.MethodPost, "/credits/use", fiber.Map{"service": "copy", "amount": 1, "requestId": jobID}, f.authed())
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, float64(4), body["balance"])

	svc := ledger.NewService(f.store, plans.Default())
	correlator := jobqueue.NewCorrelator(f.broker, jobqueue.JSONCodec, f.jobs, svc, 1)
	result, err := jobqueue.EncodeResult(jobqueue.JSONCodec, &jobqueue.Result{
		RequestID: jobID,
		Status:    jobqueue.JobStatusSuccess,
		Result:    map[string]interface{}{"text": "done"},
		Timestamp: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, jobqueue.Ack, correlator.Handle(context.Background(), result))

	stored, err := f.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.False(t, stored.Unbilled)

	balance, err := svc.GetBalance(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance, "both the manual debit and the job are charged")

	status, body = f.do(t, http.MethodGet, "/credits/history", nil, f.authed())
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), body["count"])
}

func TestHandleHistory(t *testing.T) {
	f := newAPIFixture(t, 10, nil)
	for _, id := range []string{"a", "b"} {
		status, _ := f.do(t, http.MethodPost, "/credits/use", fiber.Map{"service": "copy", "amount": 1, "requestId": id}, f.authed())
		require.Equal(t, fiber.StatusOK, status)
	}

	today := time.Now().UTC().Format("2006-01-02")
	status, body := f.do(t, http.MethodGet, "/credits/history?startDate="+today+"&endDate="+today, nil, f.authed())
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), body["count"])

	status, body = f.do(t, http.MethodGet, "/credits/history?endDate=2000-01-01", nil, f.authed())
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["count"])

	status, _ = f.do(t, http.MethodGet, "/credits/history?startDate=2024-02-01&endDate=2024-01-01", nil, f.authed())
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodGet, "/credits/history?startDate=yesterday", nil, f.authed())
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHandlePurchase(t *testing.T) {
	f := newAPIFixture(t, 0, nil)

	status, body := f.do(t, http.MethodPost, "/credits/purchase", fiber.Map{"amount": 100, "paymentMethodId": "pm_card_visa"},
		map[string]string{"X-API-Key": f.apiKey, "Idempotency-Key": "buy-1"})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, float64(100), body["balance"])
	require.Len(t, f.gateway.Charges, 1)
	assert.Equal(t, "buy-1", f.gateway.Charges[0].IdempotencyKey)
	purchase, _ := body["purchase"].(map[string]interface{})
	require.NotNil(t, purchase)

	// a retried request with the same key is answered from the recorded purchase
	status, body = f.do(t, http.MethodPost, "/credits/purchase", fiber.Map{"amount": 100, "paymentMethodId": "pm_card_visa"},
		map[string]string{"X-API-Key": f.apiKey, "Idempotency-Key": "buy-1"})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, float64(100), body["balance"])
	replayed, _ := body["purchase"].(map[string]interface{})
	require.NotNil(t, replayed)
	assert.Equal(t, purchase["id"], replayed["id"])
	require.Len(t, f.gateway.Charges, 1)
	purchases, err := f.store.ListPurchases(context.Background(), f.userID, ledger.Window{}, 0)
	require.NoError(t, err)
	assert.Len(t, purchases, 1)

	status, body = f.do(t, http.MethodPost, "/credits/purchase", fiber.Map{"amount": 1000001, "paymentMethodId": "pm_card_visa"}, f.authed())
	assert.Equal(t, fiber.StatusBadRequest, status, body)
	status, _ = f.do(t, http.MethodPost, "/credits/purchase", fiber.Map{"amount": int64(23058430092136940), "paymentMethodId": "pm_card_visa"}, f.authed())
	assert.Equal(t, fiber.StatusBadRequest, status)
	require.Len(t, f.gateway.Charges, 1)

	f.gateway.ChargeErr = errors.New("card declined")
	status, body = f.do(t, http.MethodPost, "/credits/purchase", fiber.Map{"amount": 100, "paymentMethodId": "pm_card_visa"}, f.authed())
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "payment_failed", body["error"])

	status, _ = f.do(t, http.MethodPost, "/credits/purchase", fiber.Map{"amount": 100}, f.authed())
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHandleGenerateAndJob(t *testing.T) {
	f := newAPIFixture(t, 5, nil)

	status, body := f.do(t, http.MethodPost, "/generate/copy", fiber.Map{"text": "launch post", "tone": "casual"}, f.authed())
	require.Equal(t, fiber.StatusAccepted, status, body)
	assert.Equal(t, "copy", body["service"])
	assert.Equal(t, float64(1), body["cost"])
	assert.Equal(t, string(jobqueue.JobStatusPending), body["status"])
	requestID, _ := body["requestId"].(string)
	require.NotEmpty(t, requestID)

	_, ok := f.broker.Receive(jobqueue.RequestQueue("copy"), time.Second)
	assert.True(t, ok)

	status, body = f.do(t, http.MethodGet, "/jobs/"+requestID, nil, f.authed())
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, f.userID, body["userId"])

	// dispatch does not debit
	status, body = f.do(t, http.MethodGet, "/credits/balance", nil, f.authed())
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(5), body["balance"])

	status, _ = f.do(t, http.MethodGet, "/jobs/missing", nil, f.authed())
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestHandleJobHidesOtherAccounts(t *testing.T) {
	f := newAPIFixture(t, 5, nil)
	require.NoError(t, f.jobs.Save(context.Background(), &jobqueue.JobRecord{
		RequestID: "foreign",
		UserID:    "someone-else",
		Service:   "copy",
		Status:    jobqueue.JobStatusPending,
	}))

	status, body := f.do(t, http.MethodGet, "/jobs/foreign", nil, f.authed())
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])
}

func TestHandleGenerateRejections(t *testing.T) {
	f := newAPIFixture(t, 5, nil)

	status, body := f.do(t, http.MethodPost, "/generate/video", fiber.Map{"script": "a trailer"}, f.authed())
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "insufficient_credits", body["error"])

	status, body = f.do(t, http.MethodPost, "/generate/podcast", fiber.Map{"text": "x"}, f.authed())
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "unknown_service", body["error"])

	status, _ = f.do(t, http.MethodPost, "/generate/graphics", fiber.Map{"style": "flat"}, f.authed())
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHandleStripeWebhookRejectsBadSignature(t *testing.T) {
	f := newAPIFixture(t, 0, nil)

	status, body := f.do(t, http.MethodPost, "/webhooks/stripe", fiber.Map{"id": "evt_1", "type": "invoice.paid"},
		map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_signature", body["error"])

	status, _ = f.do(t, http.MethodPost, "/webhooks/stripe", fiber.Map{"id": "evt_1"}, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHandleGetUserAccount(t *testing.T) {
	f := newAPIFixture(t, 7, nil)

	status, body := f.do(t, http.MethodGet, "/account", nil, f.authed())
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, f.userID, body["id"])
	assert.Equal(t, "owner@example.com", body["email"])
	assert.Equal(t, models.SUBSCRIPTION_INACTIVE, body["subscription_status"])
	costs, ok := body["credit_costs"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(10), costs["video"])
	assert.Nil(t, body["subscription"])
}

func TestHandleAdminAccounts(t *testing.T) {
	f := newAPIFixture(t, 0, nil)

	status, body := f.do(t, http.MethodPost, "/admin/accounts", fiber.Map{"email": "New@Example.com"}, nil)
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, "new@example.com", body["email"])
	key, _ := body["api_key"].(string)
	_, _, err := models.SplitAPIKey(key)
	assert.NoError(t, err)

	status, _ = f.do(t, http.MethodPost, "/admin/accounts", fiber.Map{"email": "new@example.com"}, nil)
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = f.do(t, http.MethodPost, "/admin/accounts", fiber.Map{"email": "not-an-email"}, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = f.do(t, http.MethodGet, "/admin/accounts?limit=1", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), body["total"])
	assert.Len(t, body["accounts"], 1)
}

func TestHandleAdminQueues(t *testing.T) {
	f := newAPIFixture(t, 0, nil)
	status, body := f.do(t, http.MethodGet, "/admin/queues", nil, nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "not_configured", body["error"])

	broker := jobqueue.NewMemoryBroker()
	manager := jobqueue.NewManager(broker, jobqueue.NewCorrelator(broker, jobqueue.JSONCodec, jobqueue.NewMemoryJobStore(), nil, 1))
	f = newAPIFixture(t, 0, manager)
	status, body = f.do(t, http.MethodGet, "/admin/queues", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["running"])
	assert.Equal(t, true, body["supported"])
	assert.Len(t, body["queues"], len(jobqueue.Services)*2)
}

func TestHandlePlans(t *testing.T) {
	f := newAPIFixture(t, 0, nil)
	status, body := f.do(t, http.MethodGet, "/plans", nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["plans"], len(plans.Default().List()))
}
