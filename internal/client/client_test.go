package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-ledger/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaypalPayout(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "id", user)
			assert.Equal(t, "secret", pass)
			_, _ = w.Write([]byte(`{"access_token":"tok"}`))
		case "/v1/payments/payouts":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"batch_header":{"payout_batch_id":"BATCH-1","batch_status":"PENDING"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewPaypalPayoutClient(&config.Paypal{BaseApiURL: srv.URL, ClientID: "id", ClientSecret: "secret"})
	res, err := c.Payout(context.Background(), PayoutRequest{
		WithdrawalID: "w-1",
		Method:       "paypal",
		Amount:       9800,
		Currency:     "USD",
		Details:      map[string]any{"email": "seller@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "BATCH-1", res.Reference)
	assert.Equal(t, "PENDING", res.Status)

	items := got["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "seller@example.com", item["receiver"])
	assert.Equal(t, "98.00", item["amount"].(map[string]any)["value"])
}

func TestPaypalPayoutErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			_, _ = w.Write([]byte(`{"access_token":"tok"}`))
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"name":"RECEIVER_UNREGISTERED"}`))
	}))
	defer srv.Close()

	c := NewPaypalPayoutClient(&config.Paypal{BaseApiURL: srv.URL, ClientID: "id", ClientSecret: "secret"})

	_, err := c.Payout(context.Background(), PayoutRequest{WithdrawalID: "w-1", Amount: 100, Currency: "USD"})
	assert.ErrorContains(t, err, "email")

	_, err = c.Payout(context.Background(), PayoutRequest{
		WithdrawalID: "w-1", Amount: 100, Currency: "USD",
		Details: map[string]any{"email": "x@example.com"},
	})
	assert.ErrorContains(t, err, "RECEIVER_UNREGISTERED")
}

func TestSimulatedGateway(t *testing.T) {
	g := NewSimulatedGateway(0)

	res, err := g.Authorize(context.Background(), PaymentRequest{OrderID: "ORD-1", Amount: 100})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.PaymentReference)

	res, err = g.Authorize(context.Background(), PaymentRequest{OrderID: "ORD-1", PaymentReference: DeclinePrefix + "-card"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestSimulatedGatewayHonoursDeadline(t *testing.T) {
	g := NewSimulatedGateway(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Authorize(ctx, PaymentRequest{OrderID: "ORD-1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type stubPayout struct{ ref string }

func (s stubPayout) Payout(context.Context, PayoutRequest) (*PayoutResult, error) {
	return &PayoutResult{Reference: s.ref}, nil
}

func TestPayoutRouter(t *testing.T) {
	r := &PayoutRouter{
		Default:  stubPayout{ref: "default"},
		ByMethod: map[string]PayoutClient{"paypal": stubPayout{ref: "paypal"}},
	}

	res, err := r.Payout(context.Background(), PayoutRequest{Method: "paypal"})
	require.NoError(t, err)
	assert.Equal(t, "paypal", res.Reference)

	res, err = r.Payout(context.Background(), PayoutRequest{Method: "crypto"})
	require.NoError(t, err)
	assert.Equal(t, "default", res.Reference)
}

func TestInitRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := InitRedisClient(context.Background(), config.Redis{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	_, err = InitRedisClient(context.Background(), config.Redis{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestInitDBClientRejectsUnknownDriver(t *testing.T) {
	_, err := InitDBClient(config.Database{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported")
}
