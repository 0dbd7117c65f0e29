package client

import (
	"context"

	"marketplace-ledger/internal/money"

	"github.com/google/uuid"
)

type PayoutRequest struct {
	WithdrawalID string
	UserID       string
	Method       string
	Amount       money.Cents // net amount sent to the user
	Currency     string
	Details      map[string]any
}

type PayoutResult struct {
	Reference string
	Status    string
}

// PayoutClient initiates an outbound transfer. Completion arrives later
// through the payouts webhook or an admin action.
type PayoutClient interface {
	Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
}

type manualPayoutClient struct{}

// NewManualPayoutClient queues the payout for the finance desk; it only
// hands back a reference that operators quote when completing it.
func NewManualPayoutClient() PayoutClient {
	return manualPayoutClient{}
}

func (manualPayoutClient) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	return &PayoutResult{Reference: "manual_" + uuid.NewString(), Status: "QUEUED"}, nil
}

// PayoutRouter dispatches by payment method, falling back to Default.
type PayoutRouter struct {
	Default  PayoutClient
	ByMethod map[string]PayoutClient
}

func (r *PayoutRouter) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	if c, ok := r.ByMethod[req.Method]; ok {
		return c.Payout(ctx, req)
	}
	return r.Default.Payout(ctx, req)
}
