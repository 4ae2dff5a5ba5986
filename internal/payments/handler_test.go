package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/paygate/internal/ledger"
	"github.com/congo-pay/paygate/internal/provider"
)

func newTestApp(t *testing.T, h *harness) *fiber.App {
	t.Helper()
	reg, err := provider.NewRegistry(provider.SandboxName, h.sandbox)
	require.NoError(t, err)

	app := fiber.New()
	webhooks := NewWebhookHandler(h.svc, reg, nil)
	app.Post("/webhook/:provider", webhooks.Receive)
	app.Post("/webhook", webhooks.Receive)

	authed := app.Group("/", func(c *fiber.Ctx) error {
		if uid := c.Get("X-Test-User"); uid != "" {
			c.Locals("user_id", uid)
		}
		return c.Next()
	})
	handler := NewHandler(h.svc)
	authed.Post("/fund", handler.Fund)
	authed.Post("/pay-obligation", handler.PayObligation)
	authed.Get("/transaction/:id/status", handler.Status)
	authed.Post("/transaction/:id/reconcile", handler.Reconcile)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, uid string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("X-Test-User", uid)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)

	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func TestFundEndpoint(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(t, h)

	resp, body := doJSON(t, app, http.MethodPost, "/fund", "user-1", map[string]any{"amount": "10.50"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "10.50", body["amount"])
	assert.Equal(t, string(StatusPending), body["status"])
	assert.NotEmpty(t, body["transaction_id"])
	assert.NotEmpty(t, body["provider_charge_handle"])

	stored, err := h.repo.Get(context.Background(), body["transaction_id"].(string))
	require.NoError(t, err)
	rec, err := h.svc.open(stored)
	require.NoError(t, err)
	assert.Equal(t, int64(1_050), rec.Amount)
}

func TestFundEndpointRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(t, h)

	cases := []struct {
		name string
		uid  string
		body any
		want int
	}{
		{"no user", "", map[string]any{"amount": "1"}, http.StatusUnauthorized},
		{"zero", "user-1", map[string]any{"amount": "0"}, http.StatusBadRequest},
		{"negative", "user-1", map[string]any{"amount": -5}, http.StatusBadRequest},
		{"sub-cent", "user-1", map[string]any{"amount": "1.001"}, http.StatusBadRequest},
		{"over limit", "user-1", map[string]any{"amount": "1000000.01"}, http.StatusBadRequest},
		{"unknown provider", "user-1", map[string]any{"amount": "1", "provider": "paypal"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := doJSON(t, app, http.MethodPost, "/fund", tc.uid, tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestPayObligationEndpoint(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(t, h)
	ctx := context.Background()
	ledger.SeedBalance(h.led, "user-1", 2_500)
	_, err := h.led.CreateObligation(ctx, ledger.Obligation{ID: "order-1", UserID: "user-1", Price: 2_500})
	require.NoError(t, err)

	resp, body := doJSON(t, app, http.MethodPost, "/pay-obligation", "user-1", map[string]any{"amount": "25"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["fields"])

	resp, _ = doJSON(t, app, http.MethodPost, "/pay-obligation", "user-2", map[string]any{"obligation_id": "order-1", "amount": "25"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/pay-obligation", "user-1", map[string]any{"obligation_id": "order-9", "amount": "25"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/pay-obligation", "user-1", map[string]any{"obligation_id": "order-1", "amount": "20"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodPost, "/pay-obligation", "user-1", map[string]any{"obligation_id": "order-1", "amount": "25.00"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, string(KindObligationPayment), body["kind"])
}

func TestWebhookEndpoint(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(t, h)
	res := h.initiate(t, InitiateInput{UID: "user-1", Kind: KindBalanceFunding, Amount: 4_000})
	stored, err := h.repo.Get(context.Background(), res.TransactionID)
	require.NoError(t, err)

	payload, err := json.Marshal(provider.SandboxEvent{EventID: "evt_1", Reference: stored.ProviderRef, Status: string(provider.OutcomeSucceeded)})
	require.NoError(t, err)

	post := func(path, signature string) int {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(provider.SandboxSignatureHeader, signature)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNotFound, post("/webhook/paypal", h.sandbox.Sign(payload)))
	assert.Equal(t, http.StatusUnauthorized, post("/webhook/sandbox", "deadbeef"))
	assert.Equal(t, int64(0), h.balance(t, "user-1"))

	assert.Equal(t, http.StatusOK, post("/webhook/sandbox", h.sandbox.Sign(payload)))
	assert.Equal(t, http.StatusOK, post("/webhook", h.sandbox.Sign(payload)))
	assert.Equal(t, int64(4_000), h.balance(t, "user-1"))
}

func TestWebhookEndpointStoreUnavailable(t *testing.T) {
	h := newHarnessWithLocker(t, failingLocker{})
	app := newTestApp(t, h)
	res := h.initiate(t, InitiateInput{UID: "user-1", Kind: KindBalanceFunding, Amount: 4_000})
	stored, err := h.repo.Get(context.Background(), res.TransactionID)
	require.NoError(t, err)

	payload, _ := json.Marshal(provider.SandboxEvent{Reference: stored.ProviderRef, Status: string(provider.OutcomeSucceeded)})
	req := httptest.NewRequest(http.MethodPost, "/webhook/sandbox", bytes.NewReader(payload))
	req.Header.Set(provider.SandboxSignatureHeader, h.sandbox.Sign(payload))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusAndReconcileEndpoints(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(t, h)
	res := h.initiate(t, InitiateInput{UID: "user-1", Kind: KindBalanceFunding, Amount: 1_000})

	resp, body := doJSON(t, app, http.MethodGet, "/transaction/"+res.TransactionID+"/status", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(StatusPending), body["status"])
	assert.Equal(t, "10.00", body["amount"])

	resp, _ = doJSON(t, app, http.MethodGet, "/transaction/"+res.TransactionID+"/status", "user-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodPost, "/transaction/"+res.TransactionID+"/reconcile", "user-1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, string(provider.OutcomePending), body["provider_status"])
}
